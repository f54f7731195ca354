package mail

// Attachment limits enforced by the ingress validators.
const (
	MaxAttachmentCount = 5
	MaxAttachmentBytes = 15 * 1024 * 1024
	MaxTotalBytes      = 50 * 1024 * 1024
)

// Content types rejected outright.
var blockedContentTypes = map[string]bool{
	"application/x-msdownload": true,
	"application/x-executable": true,
}

// EmailAttachment describes one inbound attachment. Content holds inline
// bytes when small enough to travel with the request; otherwise Path points
// at the on-disk copy written at enqueue time.
type EmailAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Content     []byte `json:"content,omitempty"`
	Path        string `json:"path,omitempty"`
}

// Valid reports whether the attachment carries resolvable content:
// inline bytes or an on-disk path.
func (a *EmailAttachment) Valid() bool {
	return len(a.Content) > 0 || a.Path != ""
}

// Blocked reports whether the attachment's content type is an executable
// type the pipeline refuses to process.
func (a *EmailAttachment) Blocked() bool {
	return blockedContentTypes[a.ContentType]
}
