package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ignite/mailagent/internal/citations"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
)

// maxInlineBytes caps how much of one attachment is surfaced to the model.
const maxInlineBytes = 64 * 1024

// AttachmentTool exposes the inbound attachments on the request context to
// the model. Text content is returned inline (truncated); binary content is
// described by name, type and size.
type AttachmentTool struct{}

// NewAttachmentTool creates the tool.
func NewAttachmentTool() *AttachmentTool { return &AttachmentTool{} }

func (t *AttachmentTool) Name() string { return handles.ToolAttachments }

func (t *AttachmentTool) Description() string {
	return "Read the content of attachments included with the email. Omit filenames " +
		"to read all of them. Text content is returned directly; binary files are " +
		"described by type and size."
}

func (t *AttachmentTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filenames": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Attachment filenames to read (optional, defaults to all)",
			},
		},
	}
}

type attachmentInput struct {
	Filenames []string `json:"filenames"`
}

// Forward reads the requested attachments and records each one in the
// citation ledger via the returned block.
func (t *AttachmentTool) Forward(_ context.Context, rctx *mail.RequestContext, input json.RawMessage) (*Output, error) {
	var in attachmentInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	var selected []*mail.StoredAttachment
	if len(in.Filenames) == 0 {
		for _, a := range rctx.Attachments.List() {
			if !a.Generated {
				selected = append(selected, a)
			}
		}
	} else {
		for _, name := range in.Filenames {
			a := rctx.Attachments.Get(name)
			if a == nil {
				return nil, fmt.Errorf("no attachment named %q", name)
			}
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 {
		return &Output{Content: "The email has no attachments."}, nil
	}

	var sb strings.Builder
	var sources []*citations.Source
	for _, a := range selected {
		fmt.Fprintf(&sb, "=== %s (%s, %d bytes) ===\n", a.Filename, a.ContentType, len(a.Content))
		sb.WriteString(renderContent(a))
		sb.WriteString("\n\n")
		sources = append(sources, &citations.Source{
			SourceType:  citations.SourceAttachment,
			Filename:    a.Filename,
			Title:       a.Filename,
			Description: "email attachment",
		})
	}

	return &Output{
		Content:   strings.TrimRight(sb.String(), "\n"),
		Citations: &CitationBlock{Sources: sources},
		Metadata:  map[string]interface{}{"count": len(selected)},
	}, nil
}

func renderContent(a *mail.StoredAttachment) string {
	if !isTextual(a.ContentType, a.Content) {
		return fmt.Sprintf("[binary content, %s]", a.ContentType)
	}
	content := a.Content
	truncated := false
	if len(content) > maxInlineBytes {
		content = content[:maxInlineBytes]
		truncated = true
	}
	s := string(content)
	if truncated {
		s += "\n[truncated]"
	}
	return s
}

// isTextual treats declared text types as readable, and otherwise accepts
// NUL-free valid UTF-8 payloads.
func isTextual(contentType string, content []byte) bool {
	if strings.HasPrefix(contentType, "text/") ||
		contentType == "application/json" ||
		contentType == "application/xml" ||
		strings.HasSuffix(contentType, "+json") ||
		strings.HasSuffix(contentType, "+xml") {
		return true
	}
	return len(content) > 0 && utf8.Valid(content) && !bytes.ContainsRune(content, 0)
}
