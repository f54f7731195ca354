package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailagent/internal/mail"
)

func testComposer() *Composer {
	return &Composer{FromName: "Email Assistant", ServiceDomain: "service.io"}
}

func TestComposeReplyThreading(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{
		From:       "user@gmail.com",
		To:         "ask@service.io",
		Subject:    "weather question",
		MessageID:  "<msg-1@gmail.com>",
		References: "<root@gmail.com>",
		CC:         []string{"colleague@gmail.com"},
	}
	result := &mail.ProcessingResult{
		EmailContent: mail.EmailContent{Text: "Sunny.", HTML: "<p>Sunny.</p>"},
	}

	reply := c.ComposeReply(req, result)
	assert.Equal(t, "ask@service.io", reply.From)
	assert.Equal(t, "user@gmail.com", reply.To)
	assert.Equal(t, []string{"colleague@gmail.com"}, reply.CC)
	assert.Equal(t, "Re: weather question", reply.Subject)
	assert.Equal(t, "<msg-1@gmail.com>", reply.InReplyTo)
	assert.Equal(t, "<root@gmail.com> <msg-1@gmail.com>", reply.References)
}

func TestComposeReplySubjectAlreadyRe(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "a@b.com", To: "ask@service.io", Subject: "RE: follow up"}
	reply := c.ComposeReply(req, &mail.ProcessingResult{})
	assert.Equal(t, "RE: follow up", reply.Subject)

	req.Subject = ""
	reply = c.ComposeReply(req, &mail.ProcessingResult{})
	assert.Equal(t, "Re: your email", reply.Subject)
}

func TestComposeReplyPacksArtifacts(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "a@b.com", To: "meeting@service.io"}
	result := &mail.ProcessingResult{
		EmailContent: mail.EmailContent{Text: "Invite attached."},
		Calendar:     &mail.CalendarData{ICSContent: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"},
		PDF:          &mail.PDFData{Content: []byte("%PDF-1.4"), Filename: ""},
	}

	reply := c.ComposeReply(req, result)
	require.Len(t, reply.Attachments, 2)
	assert.Equal(t, "invite.ics", reply.Attachments[0].Filename)
	assert.Equal(t, "text/calendar", reply.Attachments[0].ContentType)
	// Unnamed PDFs get a default filename.
	assert.Equal(t, "report.pdf", reply.Attachments[1].Filename)
	assert.Equal(t, "application/pdf", reply.Attachments[1].ContentType)
}

func TestComposeReplyPrefersEnhancedText(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "a@b.com", To: "summarize@service.io"}
	result := &mail.ProcessingResult{
		EmailContent: mail.EmailContent{Text: "plain", Enhanced: "plain plus summaries"},
	}
	reply := c.ComposeReply(req, result)
	assert.Equal(t, "plain plus summaries", reply.TextBody)
}

func TestComposeRejectionListsHandles(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "user@gmail.com", To: "bogus@service.io", Subject: "help"}

	reply := c.ComposeRejection(req, []string{"ask", "summarize"})
	assert.Equal(t, "user@gmail.com", reply.To)
	assert.Contains(t, reply.TextBody, "bogus@service.io")
	assert.Contains(t, reply.TextBody, "ask@service.io")
	assert.Contains(t, reply.TextBody, "summarize@service.io")
}

func TestComposeAttachmentRejection(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{
		From:      "user@gmail.com",
		To:        "ask@service.io",
		Subject:   "report",
		MessageID: "<msg-1@gmail.com>",
	}

	reply := c.ComposeAttachmentRejection(req, "too many attachments: 6 files (max 5)")
	assert.Equal(t, "user@gmail.com", reply.To)
	assert.Equal(t, "Re: report", reply.Subject)
	assert.Equal(t, "<msg-1@gmail.com>", reply.InReplyTo)
	assert.Contains(t, reply.TextBody, "too many attachments: 6 files (max 5)")
	assert.Contains(t, reply.TextBody, "Up to 5 attachments")
	assert.Contains(t, reply.TextBody, "15 MB each")
}

func TestComposeVerification(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "user@corp.example", To: "ask@service.io"}

	reply := c.ComposeVerification(req, "https://svc.io/verify?token=abc")
	assert.Equal(t, "Verify your email address", reply.Subject)
	assert.Contains(t, reply.TextBody, "https://svc.io/verify?token=abc")
	// Verification starts a new thread.
	assert.Empty(t, reply.InReplyTo)
}

func TestComposeUpgradeHint(t *testing.T) {
	c := testComposer()
	req := &mail.EmailRequest{From: "user@gmail.com", To: "ask@service.io", Subject: "q"}

	reply := c.ComposeUpgradeHint(req, "BETA", "hour", 10)
	assert.Contains(t, reply.TextBody, "beta plan")
	assert.Contains(t, reply.TextBody, "10 requests per hour")
	assert.Contains(t, strings.ToLower(reply.TextBody), "upgrade")
}

func TestBuildRawMessage(t *testing.T) {
	reply := &Reply{
		From:      "ask@service.io",
		FromName:  "Email Assistant",
		To:        "user@gmail.com",
		Subject:   "Re: meeting",
		TextBody:  "Invite attached.",
		HTMLBody:  "<p>Invite attached.</p>",
		InReplyTo: "<msg-1@gmail.com>",
		Attachments: []Attachment{
			{Filename: "invite.ics", ContentType: "text/calendar", Content: []byte("BEGIN:VCALENDAR")},
		},
	}

	raw, err := buildRawMessage(reply)
	require.NoError(t, err)
	msg := string(raw)
	assert.Contains(t, msg, "From: Email Assistant <ask@service.io>")
	assert.Contains(t, msg, "In-Reply-To: <msg-1@gmail.com>")
	assert.Contains(t, msg, "References: <msg-1@gmail.com>")
	assert.Contains(t, msg, "Content-Type: multipart/mixed")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, `filename="invite.ics"`)
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64")
}

func TestQuotedPrintable(t *testing.T) {
	assert.Equal(t, "plain text", quotedPrintable("plain text"))
	assert.Equal(t, "a=3Db", quotedPrintable("a=b"))
	assert.Equal(t, "line1\r\nline2", quotedPrintable("line1\nline2"))
}
