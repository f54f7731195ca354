package mail

// TokenUsage accumulates model token counts across a request. Absent fields
// in provider responses count as zero.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates another call's usage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Prompt += other.Prompt
	u.Completion += other.Completion
	u.Total += other.Total
}

// EmailContent is the finalized reply body in its three renderings.
type EmailContent struct {
	Text     string `json:"text"`
	HTML     string `json:"html,omitempty"`
	Enhanced string `json:"enhanced,omitempty"`
}

// CalendarData carries a generated calendar invite for the worker to attach.
type CalendarData struct {
	ICSContent string `json:"ics_content"`
}

// PDFData carries generated PDF bytes for the worker to attach.
type PDFData struct {
	Content  []byte `json:"content"`
	Filename string `json:"filename"`
}

// SendStatus records the outcome of the reply delivery attempt.
type SendStatus struct {
	Status    string `json:"status"` // "sent", "skipped", "error"
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ResultMetadata captures processing diagnostics attached to every result.
type ResultMetadata struct {
	Handle    string     `json:"handle,omitempty"`
	Model     string     `json:"model,omitempty"`
	Steps     int        `json:"steps,omitempty"`
	ToolCalls int        `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
	Errors    []string   `json:"errors,omitempty"`
}

// ProcessingResult is the agent's complete output for one email: the reply
// content, generated artifacts, and diagnostics. Delivery status is filled
// in by the worker after the send attempt.
type ProcessingResult struct {
	EmailContent EmailContent   `json:"email_content"`
	Calendar     *CalendarData  `json:"calendar_data,omitempty"`
	PDF          *PDFData       `json:"pdf_data,omitempty"`
	Metadata     ResultMetadata `json:"metadata"`
	EmailSent    SendStatus     `json:"email_sent"`
}

// Errored reports whether the run recorded any error.
func (r *ProcessingResult) Errored() bool { return len(r.Metadata.Errors) > 0 }
