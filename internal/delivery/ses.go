package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailagent/internal/pkg/logger"
)

// SESDeliverer sends replies via AWS SES v2. Replies without attachments use
// the Simple content shape; replies with attachments are assembled as raw
// MIME because SES Simple cannot carry files.
type SESDeliverer struct {
	client *sesv2.Client
	region string
}

// NewSESDeliverer creates an SES deliverer with static credentials.
func NewSESDeliverer(ctx context.Context, accessKey, secretKey, region string) (*SESDeliverer, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SESDeliverer{client: sesv2.NewFromConfig(cfg), region: region}, nil
}

// Deliver sends the reply and returns the SES message id.
func (s *SESDeliverer) Deliver(ctx context.Context, reply *Reply) (*Result, error) {
	if s.client == nil {
		return nil, fmt.Errorf("SES client not initialized - check credentials")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatFrom(reply)),
		Destination:      &types.Destination{ToAddresses: []string{reply.To}, CcAddresses: reply.CC},
	}

	if len(reply.Attachments) == 0 {
		input.Content = simpleContent(reply)
	} else {
		raw, err := buildRawMessage(reply)
		if err != nil {
			return nil, fmt.Errorf("building MIME message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[SES] Failed to send to %s: %v", logger.RedactEmail(reply.To), err)
		return nil, fmt.Errorf("sending via SES: %w", err)
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[SES] Sent to %s (id: %s)", logger.RedactEmail(reply.To), messageID)
	return &Result{MessageID: messageID}, nil
}

func formatFrom(reply *Reply) string {
	if reply.FromName == "" {
		return reply.From
	}
	return fmt.Sprintf("%s <%s>", reply.FromName, reply.From)
}

func simpleContent(reply *Reply) *types.EmailContent {
	body := &types.Body{}
	if reply.TextBody != "" {
		body.Text = &types.Content{Data: aws.String(reply.TextBody), Charset: aws.String("UTF-8")}
	}
	if reply.HTMLBody != "" {
		body.Html = &types.Content{Data: aws.String(reply.HTMLBody), Charset: aws.String("UTF-8")}
	}
	msg := &types.Message{
		Subject: &types.Content{Data: aws.String(reply.Subject), Charset: aws.String("UTF-8")},
		Body:    body,
	}
	if reply.InReplyTo != "" {
		msg.Headers = threadingHeaders(reply)
	}
	return &types.EmailContent{Simple: msg}
}

func threadingHeaders(reply *Reply) []types.MessageHeader {
	headers := []types.MessageHeader{
		{Name: aws.String("In-Reply-To"), Value: aws.String(reply.InReplyTo)},
	}
	refs := reply.References
	if refs == "" {
		refs = reply.InReplyTo
	}
	headers = append(headers, types.MessageHeader{Name: aws.String("References"), Value: aws.String(refs)})
	return headers
}

// buildRawMessage assembles a multipart/mixed message with a nested
// multipart/alternative body followed by the attachments.
func buildRawMessage(reply *Reply) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", formatFrom(reply))
	fmt.Fprintf(&buf, "To: %s\r\n", reply.To)
	if len(reply.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(reply.CC, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", reply.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if reply.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", reply.InReplyTo)
		refs := reply.References
		if refs == "" {
			refs = reply.InReplyTo
		}
		fmt.Fprintf(&buf, "References: %s\r\n", refs)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	// Body: multipart/alternative with text then html.
	altBuf := &bytes.Buffer{}
	alt := multipart.NewWriter(altBuf)
	if reply.TextBody != "" {
		if err := writeTextPart(alt, "text/plain", reply.TextBody); err != nil {
			return nil, err
		}
	}
	if reply.HTMLBody != "" {
		if err := writeTextPart(alt, "text/html", reply.HTMLBody); err != nil {
			return nil, err
		}
	}
	if err := alt.Close(); err != nil {
		return nil, err
	}

	bodyPart, err := mixed.CreatePart(textproto.MIMEHeader{
		"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary())},
	})
	if err != nil {
		return nil, err
	}
	if _, err := bodyPart.Write(altBuf.Bytes()); err != nil {
		return nil, err
	}

	for _, att := range reply.Attachments {
		if err := writeAttachment(mixed, att); err != nil {
			return nil, err
		}
	}
	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + "; charset=UTF-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	_, err = part.Write([]byte(quotedPrintable(body)))
	return err
}

func writeAttachment(w *multipart.Writer, att Attachment) error {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", contentType, att.Filename)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", att.Filename)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(att.Content)
	// 76-char lines per RFC 2045.
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(part, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err = fmt.Fprintf(part, "%s\r\n", encoded)
	return err
}

// quotedPrintable encodes a body for a 7-bit-safe transport without pulling
// in a streaming writer for small reply bodies.
func quotedPrintable(s string) string {
	var sb strings.Builder
	lineLen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\n':
			sb.WriteString("\r\n")
			lineLen = 0
			continue
		case c == '\r':
			continue
		case (c >= 33 && c <= 126 && c != '=') || c == ' ' || c == '\t':
			sb.WriteByte(c)
			lineLen++
		default:
			fmt.Fprintf(&sb, "=%02X", c)
			lineLen += 3
		}
		if lineLen >= 72 {
			sb.WriteString("=\r\n")
			lineLen = 0
		}
	}
	return sb.String()
}
