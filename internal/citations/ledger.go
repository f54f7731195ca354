package citations

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source types tracked by the ledger.
const (
	SourceWeb        = "web"
	SourceAttachment = "attachment"
	SourceAPI        = "api"
)

const searchResultDescription = "search result"

// Source is one citation accumulated during a request.
type Source struct {
	ID           string `json:"id"`
	SourceType   string `json:"source_type"`
	Title        string `json:"title"`
	URL          string `json:"url,omitempty"`
	Filename     string `json:"filename,omitempty"`
	DateAccessed string `json:"date_accessed"`
	Description  string `json:"description,omitempty"`
}

// Ledger is the per-request citation sink. It lives on the RequestContext
// and is only touched from the agent loop, so it carries no lock.
//
// Dedup rules: web sources dedupe by URL, attachment sources by filename,
// API sources never dedupe.
type Ledger struct {
	sources    []*Source
	byURL      map[string]*Source
	byFilename map[string]*Source
	next       int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byURL:      make(map[string]*Source),
		byFilename: make(map[string]*Source),
		next:       1,
	}
}

func (l *Ledger) nextID() string {
	id := strconv.Itoa(l.next)
	l.next++
	return id
}

// AddWeb records a web source, deduping by URL. When visited is true and the
// stored description is still the search-result placeholder, the entry is
// upgraded to "visited"; a non-placeholder description is never overwritten
// and an upgrade never reverts.
func (l *Ledger) AddWeb(url, title string, visited bool) string {
	if existing, ok := l.byURL[url]; ok {
		if visited && (existing.Description == "" || existing.Description == searchResultDescription) {
			existing.Description = "visited"
		}
		return existing.ID
	}
	desc := searchResultDescription
	if visited {
		desc = "visited"
	}
	s := &Source{
		ID:           l.nextID(),
		SourceType:   SourceWeb,
		Title:        title,
		URL:          url,
		DateAccessed: time.Now().UTC().Format("2006-01-02"),
		Description:  desc,
	}
	l.sources = append(l.sources, s)
	l.byURL[url] = s
	return s.ID
}

// AddAttachment records an attachment source, deduping by filename.
func (l *Ledger) AddAttachment(filename, description string) string {
	if existing, ok := l.byFilename[filename]; ok {
		return existing.ID
	}
	s := &Source{
		ID:           l.nextID(),
		SourceType:   SourceAttachment,
		Title:        filename,
		Filename:     filename,
		DateAccessed: time.Now().UTC().Format("2006-01-02"),
		Description:  description,
	}
	l.sources = append(l.sources, s)
	l.byFilename[filename] = s
	return s.ID
}

// AddAPI records an external data source. API sources never dedupe; the
// title is sanitized of vendor suffixes and short titles fall back to a
// generic label.
func (l *Ledger) AddAPI(title, description string) string {
	title = sanitizeAPITitle(title)
	s := &Source{
		ID:           l.nextID(),
		SourceType:   SourceAPI,
		Title:        title,
		DateAccessed: time.Now().UTC().Format("2006-01-02"),
		Description:  description,
	}
	l.sources = append(l.sources, s)
	return s.ID
}

func sanitizeAPITitle(title string) string {
	title = strings.ReplaceAll(title, " via RapidAPI", "")
	title = strings.ReplaceAll(title, " (RapidAPI)", "")
	title = strings.TrimSpace(title)
	if len(title) < 3 {
		return "External Data Source"
	}
	return title
}

// Sources returns all accumulated sources in insertion order.
func (l *Ledger) Sources() []*Source {
	return l.sources
}

// Empty reports whether no citation was recorded.
func (l *Ledger) Empty() bool { return len(l.sources) == 0 }

// GenerateReferencesSection renders the markdown references block, split
// into Visited Pages, Search Results, Attachments and Data Sources.
// Returns "" when the ledger is empty.
func (l *Ledger) GenerateReferencesSection() string {
	if l.Empty() {
		return ""
	}

	var visited, searched, attachments, apis []*Source
	for _, s := range l.sources {
		switch s.SourceType {
		case SourceWeb:
			if s.Description == "visited" {
				visited = append(visited, s)
			} else {
				searched = append(searched, s)
			}
		case SourceAttachment:
			attachments = append(attachments, s)
		case SourceAPI:
			apis = append(apis, s)
		}
	}

	var sb strings.Builder
	sb.WriteString("## References\n")
	writeGroup(&sb, "Visited Pages", visited)
	writeGroup(&sb, "Search Results", searched)
	writeGroup(&sb, "Attachments", attachments)
	writeGroup(&sb, "Data Sources", apis)
	return strings.TrimRight(sb.String(), "\n")
}

func writeGroup(sb *strings.Builder, heading string, group []*Source) {
	if len(group) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n### %s\n", heading)
	for _, s := range group {
		switch {
		case s.URL != "":
			fmt.Fprintf(sb, "%s. [%s](%s)\n", s.ID, s.Title, s.URL)
		case s.Filename != "":
			fmt.Fprintf(sb, "%s. %s\n", s.ID, s.Filename)
		default:
			fmt.Fprintf(sb, "%s. %s\n", s.ID, s.Title)
		}
	}
}
