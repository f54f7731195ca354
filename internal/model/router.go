package model

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/url"
	"strings"
	"sync"

	"github.com/ignite/mailagent/internal/mail"
)

// ThinkingGroup rejects the stop parameter; the router strips it before
// dispatch.
const ThinkingGroup = "thinking"

// GenerateOptions are the per-call knobs.
type GenerateOptions struct {
	TargetGroup string
	Stop        []string
	Tools       []ToolDef
	MaxTokens   int
}

// Router routes chat calls to model groups with weighted shuffle and
// declared fallbacks. Safe for concurrent use.
type Router struct {
	cfg          *Config
	defaultGroup string
	client       *endpointClient

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRouter builds a router over a loaded config.
func NewRouter(cfg *Config, defaultGroup string) *Router {
	return &Router{
		cfg:          cfg,
		defaultGroup: defaultGroup,
		client:       newEndpointClient(),
		rand:         rand.New(rand.NewSource(rand.Int63())),
	}
}

// DefaultGroup returns the configured default group name.
func (r *Router) DefaultGroup() string { return r.defaultGroup }

// Generate runs one chat completion against the target group, trying its
// endpoints per the routing strategy, then each declared fallback group on
// exhaustion.
func (r *Router) Generate(ctx context.Context, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	group := opts.TargetGroup
	if group == "" {
		group = r.defaultGroup
	}

	tried := map[string]bool{}
	var lastErr error
	for _, g := range append([]string{group}, r.cfg.FallbackFor(group)...) {
		if tried[g] {
			continue
		}
		tried[g] = true

		comp, err := r.generateFromGroup(ctx, g, messages, opts)
		if err == nil {
			return comp, nil
		}
		lastErr = err
		log.Printf("[ModelRouter] Group %s exhausted: %v", g, err)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: group %q has no endpoints", mail.ErrModelRouter, group)
	}
	return nil, lastErr
}

func (r *Router) generateFromGroup(ctx context.Context, group string, messages []ChatMessage, opts GenerateOptions) (*Completion, error) {
	endpoints := r.cfg.Group(group)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: unknown model group %q", mail.ErrModelRouter, group)
	}

	req := chatRequest{
		Messages:    messages,
		Tools:       opts.Tools,
		Stop:        opts.Stop,
		Temperature: 0.7,
		MaxTokens:   opts.MaxTokens,
	}

	// Models in the thinking group reject the stop parameter.
	if group == ThinkingGroup {
		req.Stop = nil
	}

	var lastErr error
	for _, entry := range r.shuffleByWeight(endpoints) {
		epReq := req
		// Local backends frequently cannot honor tool declarations or stop
		// sequences; send them plain content only.
		if isLocalEndpoint(entry.Params.BaseURL) || strings.HasPrefix(group, "ollama") {
			epReq.Tools = nil
			epReq.Stop = nil
		}
		comp, err := r.client.call(ctx, entry.Params, epReq)
		if err == nil {
			return comp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// shuffleByWeight orders endpoints by weighted random draw (the
// simple-shuffle strategy). Weight 0 counts as 1.
func (r *Router) shuffleByWeight(entries []ModelEntry) []ModelEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := append([]ModelEntry(nil), entries...)
	out := make([]ModelEntry, 0, len(remaining))
	for len(remaining) > 0 {
		total := 0
		for _, e := range remaining {
			total += weightOf(e)
		}
		pick := r.rand.Intn(total)
		for i, e := range remaining {
			pick -= weightOf(e)
			if pick < 0 {
				out = append(out, e)
				remaining = append(remaining[:i], remaining[i+1:]...)
				break
			}
		}
	}
	return out
}

func weightOf(e ModelEntry) int {
	if e.Params.Weight <= 0 {
		return 1
	}
	return e.Params.Weight
}

func isLocalEndpoint(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
