package citations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddWebDedupesByURL(t *testing.T) {
	l := NewLedger()

	id1 := l.AddWeb("https://example.com/a", "Page A", false)
	id2 := l.AddWeb("https://example.com/a", "Different Title", false)
	assert.Equal(t, id1, id2)
	assert.Len(t, l.Sources(), 1)

	id3 := l.AddWeb("https://example.com/b", "Page B", false)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, l.Sources(), 2)
}

func TestAddWebVisitedUpgrade(t *testing.T) {
	l := NewLedger()

	l.AddWeb("https://example.com/a", "Page A", false)
	require.Equal(t, "search result", l.Sources()[0].Description)

	// Visiting an already-recorded search result upgrades it.
	l.AddWeb("https://example.com/a", "Page A", true)
	assert.Equal(t, "visited", l.Sources()[0].Description)

	// An upgrade never reverts.
	l.AddWeb("https://example.com/a", "Page A", false)
	assert.Equal(t, "visited", l.Sources()[0].Description)
}

func TestAddAttachmentDedupesByFilename(t *testing.T) {
	l := NewLedger()

	id1 := l.AddAttachment("report.pdf", "quarterly report")
	id2 := l.AddAttachment("report.pdf", "same file again")
	assert.Equal(t, id1, id2)
	assert.Len(t, l.Sources(), 1)
}

func TestAddAPINeverDedupes(t *testing.T) {
	l := NewLedger()

	id1 := l.AddAPI("Weather API", "forecast lookup")
	id2 := l.AddAPI("Weather API", "second lookup")
	assert.NotEqual(t, id1, id2)
	assert.Len(t, l.Sources(), 2)
}

func TestAddAPISanitizesTitle(t *testing.T) {
	l := NewLedger()

	l.AddAPI("LinkedIn Data via RapidAPI", "")
	l.AddAPI("Stocks (RapidAPI)", "")
	l.AddAPI("x", "")
	sources := l.Sources()
	assert.Equal(t, "LinkedIn Data", sources[0].Title)
	assert.Equal(t, "Stocks", sources[1].Title)
	assert.Equal(t, "External Data Source", sources[2].Title)
}

func TestSequentialIDs(t *testing.T) {
	l := NewLedger()
	assert.Equal(t, "1", l.AddWeb("https://a.example", "A", false))
	assert.Equal(t, "2", l.AddAttachment("f.txt", ""))
	assert.Equal(t, "3", l.AddAPI("Some API", ""))
}

func TestGenerateReferencesSection(t *testing.T) {
	l := NewLedger()
	assert.Empty(t, l.GenerateReferencesSection())
	assert.True(t, l.Empty())

	l.AddWeb("https://example.com/visited", "Visited Page", true)
	l.AddWeb("https://example.com/found", "Found Page", false)
	l.AddAttachment("notes.txt", "")
	l.AddAPI("Weather API", "")

	section := l.GenerateReferencesSection()
	assert.True(t, strings.HasPrefix(section, "## References"))
	assert.Contains(t, section, "### Visited Pages")
	assert.Contains(t, section, "1. [Visited Page](https://example.com/visited)")
	assert.Contains(t, section, "### Search Results")
	assert.Contains(t, section, "2. [Found Page](https://example.com/found)")
	assert.Contains(t, section, "### Attachments")
	assert.Contains(t, section, "3. notes.txt")
	assert.Contains(t, section, "### Data Sources")
	assert.Contains(t, section, "4. Weather API")
}

func TestGenerateReferencesOmitsEmptyGroups(t *testing.T) {
	l := NewLedger()
	l.AddAttachment("only.txt", "")

	section := l.GenerateReferencesSection()
	assert.Contains(t, section, "### Attachments")
	assert.NotContains(t, section, "### Visited Pages")
	assert.NotContains(t, section, "### Search Results")
	assert.NotContains(t, section, "### Data Sources")
}
