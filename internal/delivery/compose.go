package delivery

import (
	"fmt"
	"strings"

	"github.com/ignite/mailagent/internal/calendar"
	"github.com/ignite/mailagent/internal/mail"
)

// Composer builds outbound replies from processing results and renders the
// service emails (rejection, verification). FromAddress is the address the
// reply is sent from; for handle replies it is the address the sender wrote
// to, so threading stays within the same conversation.
type Composer struct {
	FromName      string
	ServiceDomain string
}

// ComposeReply turns an agent result into the reply email for the original
// sender, attaching any generated artifacts.
func (c *Composer) ComposeReply(req *mail.EmailRequest, result *mail.ProcessingResult) *Reply {
	reply := &Reply{
		From:       req.To,
		FromName:   c.FromName,
		To:         req.From,
		CC:         req.CC,
		Subject:    replySubject(req.Subject),
		TextBody:   result.EmailContent.Text,
		HTMLBody:   result.EmailContent.HTML,
		InReplyTo:  req.MessageID,
		References: joinReferences(req.References, req.MessageID),
	}
	if result.EmailContent.Enhanced != "" {
		reply.TextBody = result.EmailContent.Enhanced
	}
	if result.Calendar != nil {
		reply.Attachments = append(reply.Attachments, Attachment{
			Filename:    calendar.InviteFilename,
			ContentType: calendar.InviteMIMEType,
			Content:     []byte(result.Calendar.ICSContent),
		})
	}
	if result.PDF != nil {
		filename := result.PDF.Filename
		if filename == "" {
			filename = "report.pdf"
		}
		reply.Attachments = append(reply.Attachments, Attachment{
			Filename:    filename,
			ContentType: "application/pdf",
			Content:     result.PDF.Content,
		})
	}
	return reply
}

// ComposeRejection builds the unsupported-handle bounce listing the handles
// the service does support.
func (c *Composer) ComposeRejection(req *mail.EmailRequest, known []string) *Reply {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The address %s is not a function this service supports.\n\n", req.To)
	sb.WriteString("Available functions:\n")
	for _, h := range known {
		fmt.Fprintf(&sb, "  %s@%s\n", h, c.ServiceDomain)
	}
	sb.WriteString("\nResend your email to one of the addresses above.\n")

	return &Reply{
		From:       c.serviceAddress("ask"),
		FromName:   c.FromName,
		To:         req.From,
		Subject:    replySubject(req.Subject),
		TextBody:   sb.String(),
		InReplyTo:  req.MessageID,
		References: joinReferences(req.References, req.MessageID),
	}
}

// ComposeAttachmentRejection builds the bounce for attachment-limit
// failures, stating the limit that was exceeded and the ceilings.
func (c *Composer) ComposeAttachmentRejection(req *mail.EmailRequest, reason string) *Reply {
	text := fmt.Sprintf(
		"Your email could not be processed: %s.\n\n"+
			"Up to %d attachments are accepted, %d MB each and %d MB combined.\n"+
			"Trim the attachments and resend your email.\n",
		reason,
		mail.MaxAttachmentCount,
		mail.MaxAttachmentBytes/(1024*1024),
		mail.MaxTotalBytes/(1024*1024))

	return &Reply{
		From:       c.serviceAddress("ask"),
		FromName:   c.FromName,
		To:         req.From,
		Subject:    replySubject(req.Subject),
		TextBody:   text,
		InReplyTo:  req.MessageID,
		References: joinReferences(req.References, req.MessageID),
	}
}

// ComposeVerification builds the address-verification email carrying the
// stable token link. Resending before verification reuses the same token.
func (c *Composer) ComposeVerification(req *mail.EmailRequest, verifyURL string) *Reply {
	text := fmt.Sprintf(
		"Before we can process email from %s, the address needs to be verified.\n\n"+
			"Confirm it here: %s\n\n"+
			"Once verified, resend your original email and it will be processed.\n",
		req.From, verifyURL)

	return &Reply{
		From:     c.serviceAddress("ask"),
		FromName: c.FromName,
		To:       req.From,
		Subject:  "Verify your email address",
		TextBody: text,
	}
}

// ComposeUpgradeHint builds the rate-limited notice, including the current
// plan and the window that was exhausted.
func (c *Composer) ComposeUpgradeHint(req *mail.EmailRequest, plan, period string, limit int) *Reply {
	text := fmt.Sprintf(
		"Your %s plan allows %d requests per %s and that limit has been reached.\n\n"+
			"Wait for the window to reset, or upgrade your plan for higher limits.\n",
		strings.ToLower(plan), limit, period)

	return &Reply{
		From:       c.serviceAddress("ask"),
		FromName:   c.FromName,
		To:         req.From,
		Subject:    replySubject(req.Subject),
		TextBody:   text,
		InReplyTo:  req.MessageID,
		References: joinReferences(req.References, req.MessageID),
	}
}

func (c *Composer) serviceAddress(local string) string {
	return local + "@" + c.ServiceDomain
}

func replySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: your email"
	}
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

func joinReferences(existing, messageID string) string {
	if messageID == "" {
		return existing
	}
	if existing == "" {
		return messageID
	}
	return existing + " " + messageID
}
