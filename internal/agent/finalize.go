package agent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ignite/mailagent/internal/calendar"
	"github.com/ignite/mailagent/internal/mail"
)

// CanonicalSignature closes every reply exactly once.
const CanonicalSignature = "Best regards,\nYour Email Assistant"

// Closings the model sometimes emits on its own; stripped before the
// canonical signature is appended.
var knownClosings = []string{
	"Best regards,",
	"Best,",
	"Kind regards,",
	"Regards,",
	"Sincerely,",
	"Cheers,",
	"Warm regards,",
}

var referencesHeaderRe = regexp.MustCompile(`(?im)^#*\s*(references|sources)\b`)

// finalize turns the model's raw output into the deliverable reply:
// references block, signature handling, formatting, enhanced variant, and
// generated-artifact packing.
func (a *Agent) finalize(rctx *mail.RequestContext, result *mail.ProcessingResult, content string) {
	if strings.TrimSpace(content) == "" {
		content = apologyText
		result.Metadata.Errors = append(result.Metadata.Errors, "model produced no content")
	}

	// References block, unless the model already wrote one.
	if !rctx.Ledger.Empty() && !referencesHeaderRe.MatchString(content) {
		content = strings.TrimRight(content, "\n") + "\n\n" + rctx.Ledger.GenerateReferencesSection()
	}

	content = stripClosings(content) + "\n\n" + CanonicalSignature

	text, html, err := a.formatter.Format(content)
	if err != nil {
		result.Metadata.Errors = append(result.Metadata.Errors, fmt.Sprintf("format reply: %v", err))
		text = content
	}
	result.EmailContent.Text = text
	result.EmailContent.HTML = html

	if enhanced := buildEnhanced(rctx, content); enhanced != "" {
		result.EmailContent.Enhanced = enhanced
	}

	// Pack generated artifacts for the worker to attach.
	for _, att := range rctx.Attachments.Generated() {
		switch {
		case att.Filename == calendar.InviteFilename:
			result.Calendar = &mail.CalendarData{ICSContent: string(att.Content)}
		case att.ContentType == "application/pdf":
			result.PDF = &mail.PDFData{Content: att.Content, Filename: att.Filename}
		}
	}
}

// stripClosings removes a trailing signature block introduced by any known
// closing line, so the canonical signature appears exactly once.
func stripClosings(content string) string {
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-4; i-- {
		trimmed := strings.TrimSpace(lines[i])
		for _, closing := range knownClosings {
			if strings.EqualFold(trimmed, closing) {
				return strings.TrimRight(strings.Join(lines[:i], "\n"), "\n")
			}
		}
	}
	return strings.Join(lines, "\n")
}

// buildEnhanced inlines short attachment summaries before the signature.
// Returns "" when no summaries exist.
func buildEnhanced(rctx *mail.RequestContext, content string) string {
	var summaries []string
	for _, att := range rctx.Attachments.List() {
		if att.Summary != "" && !att.Generated {
			summaries = append(summaries, fmt.Sprintf("- **%s**: %s", att.Filename, att.Summary))
		}
	}
	if len(summaries) == 0 {
		return ""
	}

	block := "### Attachment Summaries\n" + strings.Join(summaries, "\n")
	idx := strings.LastIndex(content, CanonicalSignature)
	if idx < 0 {
		return content + "\n\n" + block
	}
	return content[:idx] + block + "\n\n" + content[idx:]
}
