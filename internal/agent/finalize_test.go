package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/report"
)

func testAgent() *Agent {
	return New(nil, nil, report.NewGoldmark(), nil)
}

func testContext() *mail.RequestContext {
	return mail.NewRequestContext(&mail.EmailRequest{
		From: "user@gmail.com",
		To:   "ask@service.io",
	})
}

func TestFinalizeAppendsSignatureOnce(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "Here is your answer.")
	assert.Equal(t, 1, strings.Count(result.EmailContent.Text, CanonicalSignature))
	assert.True(t, strings.HasSuffix(strings.TrimRight(result.EmailContent.Text, "\n"), CanonicalSignature))
}

func TestFinalizeStripsModelClosing(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	result := &mail.ProcessingResult{}

	content := "Here is your answer.\n\nBest regards,\nThe Model"
	a.finalize(rctx, result, content)
	assert.Equal(t, 1, strings.Count(result.EmailContent.Text, "Best regards,"))
	assert.NotContains(t, result.EmailContent.Text, "The Model")
}

func TestFinalizeReferencesBlock(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	rctx.Ledger.AddWeb("https://example.com", "Example", true)
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "Answer based on a source.")
	assert.Contains(t, result.EmailContent.Text, "## References")
	assert.Contains(t, result.EmailContent.Text, "[Example](https://example.com)")
	// References come before the signature.
	refIdx := strings.Index(result.EmailContent.Text, "## References")
	sigIdx := strings.Index(result.EmailContent.Text, CanonicalSignature)
	assert.Less(t, refIdx, sigIdx)
}

func TestFinalizeSkipsReferencesWhenModelWroteThem(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	rctx.Ledger.AddWeb("https://example.com", "Example", true)
	result := &mail.ProcessingResult{}

	content := "Answer.\n\n## Sources\n1. something the model cited"
	a.finalize(rctx, result, content)
	assert.NotContains(t, result.EmailContent.Text, "## References")
}

func TestFinalizeNoReferencesOnEmptyLedger(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "Plain answer.")
	assert.NotContains(t, result.EmailContent.Text, "## References")
}

func TestFinalizeEmptyContentBecomesApology(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "   \n ")
	assert.Contains(t, result.EmailContent.Text, apologyText)
	require.NotEmpty(t, result.Metadata.Errors)
}

func TestFinalizeRendersHTML(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "# Heading\n\nSome **bold** text.")
	assert.Contains(t, result.EmailContent.HTML, "<h1")
	assert.Contains(t, result.EmailContent.HTML, "<strong>bold</strong>")
}

func TestFinalizePacksGeneratedArtifacts(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	rctx.Attachments.PutGenerated("invite.ics", "text/calendar", []byte("BEGIN:VCALENDAR"))
	rctx.Attachments.PutGenerated("summary.pdf", "application/pdf", []byte("%PDF-1.4"))
	// Inbound attachments are never packed into the reply.
	rctx.Attachments.Put("input.pdf", "application/pdf", []byte("%PDF-1.4 input"))
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "Done.")
	require.NotNil(t, result.Calendar)
	assert.Equal(t, "BEGIN:VCALENDAR", result.Calendar.ICSContent)
	require.NotNil(t, result.PDF)
	assert.Equal(t, "summary.pdf", result.PDF.Filename)
}

func TestFinalizeEnhancedVariant(t *testing.T) {
	a := testAgent()
	rctx := testContext()
	rctx.Attachments.Put("report.pdf", "application/pdf", []byte("%PDF"))
	rctx.Attachments.SetSummary("report.pdf", "Q2 revenue summary")
	result := &mail.ProcessingResult{}

	a.finalize(rctx, result, "See the attachment notes below.")
	assert.Contains(t, result.EmailContent.Enhanced, "Attachment Summaries")
	assert.Contains(t, result.EmailContent.Enhanced, "report.pdf")
	assert.Contains(t, result.EmailContent.Enhanced, "Q2 revenue summary")
}

func TestStripClosings(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"no closing", "Answer.", "Answer."},
		{"trailing closing", "Answer.\n\nCheers,\nBot", "Answer."},
		{"closing mid-text survives", "Regards, as they say, matter.\n\nMore text here.", "Regards, as they say, matter.\n\nMore text here."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripClosings(tt.in))
		})
	}
}
