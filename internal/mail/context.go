package mail

import (
	"sort"

	"github.com/ignite/mailagent/internal/citations"
)

// StoredAttachment is one blob in the per-request attachment store.
type StoredAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
	Summary     string
	Generated   bool
}

// AttachmentStore is the per-request in-memory blob store, keyed by
// filename. It holds both inbound attachments loaded from disk and
// artifacts generated during the run (ICS, PDF). Per-request, never shared
// across goroutines, so no lock.
type AttachmentStore struct {
	byName map[string]*StoredAttachment
}

// NewAttachmentStore creates an empty store.
func NewAttachmentStore() *AttachmentStore {
	return &AttachmentStore{byName: make(map[string]*StoredAttachment)}
}

// Put stores or replaces a blob.
func (s *AttachmentStore) Put(filename, contentType string, content []byte) {
	s.byName[filename] = &StoredAttachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
	}
}

// PutGenerated stores a blob produced during the run (ICS, PDF). Generated
// blobs are the ones the worker attaches to the reply.
func (s *AttachmentStore) PutGenerated(filename, contentType string, content []byte) {
	s.byName[filename] = &StoredAttachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
		Generated:   true,
	}
}

// Generated returns all run-generated blobs ordered by filename.
func (s *AttachmentStore) Generated() []*StoredAttachment {
	var out []*StoredAttachment
	for _, a := range s.List() {
		if a.Generated {
			out = append(out, a)
		}
	}
	return out
}

// Get returns the blob for filename, or nil.
func (s *AttachmentStore) Get(filename string) *StoredAttachment {
	return s.byName[filename]
}

// SetSummary attaches a short description to a stored blob, used by the
// enhanced reply variant.
func (s *AttachmentStore) SetSummary(filename, summary string) {
	if a := s.byName[filename]; a != nil {
		a.Summary = summary
	}
}

// List returns all blobs ordered by filename.
func (s *AttachmentStore) List() []*StoredAttachment {
	out := make([]*StoredAttachment, 0, len(s.byName))
	for _, a := range s.byName {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// Len returns the number of stored blobs.
func (s *AttachmentStore) Len() int { return len(s.byName) }

// RequestContext bundles the per-request singletons: the in-flight request,
// its attachment store and its citation ledger. Created fresh at job start,
// discarded at job end.
type RequestContext struct {
	Request     *EmailRequest
	Attachments *AttachmentStore
	Ledger      *citations.Ledger
}

// NewRequestContext builds a fresh context for one worker invocation.
func NewRequestContext(req *EmailRequest) *RequestContext {
	return &RequestContext{
		Request:     req,
		Attachments: NewAttachmentStore(),
		Ledger:      citations.NewLedger(),
	}
}
