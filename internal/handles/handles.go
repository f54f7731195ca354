package handles

import (
	"fmt"
	"sync"

	"github.com/ignite/mailagent/internal/mail"
)

// Tool names referenced by the per-handle allow lists. The registry in
// internal/tools registers implementations under the same names.
const (
	ToolWebSearch       = "web_search"
	ToolDeepResearch    = "deep_research"
	ToolLinkedIn        = "linkedin_lookup"
	ToolAttachments     = "read_attachments"
	ToolMeeting         = "create_meeting"
	ToolPDFExport       = "pdf_export"
	ToolScheduleTasks   = "scheduled_tasks"
	ToolDeleteScheduled = "delete_scheduled_tasks"
)

// ProcessingInstructions describes how a handle runs: which tools the model
// may call, the task prompt, the output shape, and which model group serves
// it. Instances are immutable after registration.
type ProcessingInstructions struct {
	Handle                     string
	Aliases                    []string
	ProcessAttachments         bool
	DeepResearchMandatory      bool
	AllowedTools               map[string]bool
	TaskTemplate               string
	OutputTemplate             string
	TargetModelGroup           string
	RequiresLanguageDetection  bool
	RequiresScheduleExtraction bool
}

// AllowsTool reports whether the handle may use the named tool.
func (pi *ProcessingInstructions) AllowsTool(name string) bool {
	return pi.AllowedTools[name]
}

// Resolver maps normalized local parts (handles and aliases) to their
// ProcessingInstructions. It is built at startup and read-mostly afterwards;
// the lock only guards late custom-handle registration.
type Resolver struct {
	mu      sync.RWMutex
	byName  map[string]*ProcessingInstructions
	handles []*ProcessingInstructions
}

// NewResolver builds a resolver over the default handle table.
func NewResolver() *Resolver {
	r := &Resolver{byName: make(map[string]*ProcessingInstructions)}
	for _, pi := range DefaultHandles() {
		// The default table is static; a duplicate here is a programming
		// error and must fail startup.
		if err := r.Register(pi, false); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a handle and all its aliases. Without overwrite, colliding
// with an existing name fails with ErrHandleAlreadyExists.
func (r *Resolver) Register(pi *ProcessingInstructions, overwrite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := append([]string{pi.Handle}, pi.Aliases...)
	if !overwrite {
		for _, name := range names {
			if _, exists := r.byName[name]; exists {
				return fmt.Errorf("%w: %s", mail.ErrHandleAlreadyExists, name)
			}
		}
	}
	for _, name := range names {
		r.byName[name] = pi
	}
	r.handles = append(r.handles, pi)
	return nil
}

// Resolve maps a recipient address to its handle's instructions. The local
// part is normalized (lowercased, "+suffix" stripped) before lookup.
func (r *Resolver) Resolve(toAddress string) (*ProcessingInstructions, error) {
	return r.ResolveLocal(mail.LocalPart(toAddress))
}

// ResolveLocal looks up an already-extracted local part.
func (r *Resolver) ResolveLocal(local string) (*ProcessingInstructions, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pi, ok := r.byName[local]
	if !ok {
		return nil, fmt.Errorf("%w: %s", mail.ErrUnsupportedHandle, local)
	}
	return pi, nil
}

// Handles returns the registered primary handles in registration order.
func (r *Resolver) Handles() []*ProcessingInstructions {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ProcessingInstructions(nil), r.handles...)
}

// Known reports whether the local part of the address maps to any handle.
func (r *Resolver) Known(toAddress string) bool {
	_, err := r.Resolve(toAddress)
	return err == nil
}
