// Package agent drives the LLM processing of one email: prompt construction,
// the bounded tool-calling loop, and reply finalization.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/ignite/mailagent/internal/citations"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/model"
	"github.com/ignite/mailagent/internal/report"
	"github.com/ignite/mailagent/internal/tools"
)

const (
	// MaxSteps bounds the tool-calling loop.
	MaxSteps = 12

	// PlanningInterval is how often a planning reminder is injected.
	PlanningInterval = 4
)

const apologyText = "I ran into a problem while processing your email and could not " +
	"complete the request. Please try again; if the problem persists, simplify " +
	"the request or remove large attachments."

// Agent processes emails through the routed model client and the tool
// registry. Safe for concurrent use; all per-request state lives on the
// RequestContext.
type Agent struct {
	router    *model.Router
	registry  *tools.Registry
	formatter report.Formatter
	resolver  *handles.Resolver
}

// New creates an agent. The resolver maps distilled aliases on scheduled
// re-injections back to a tool set.
func New(router *model.Router, registry *tools.Registry, formatter report.Formatter, resolver *handles.Resolver) *Agent {
	return &Agent{router: router, registry: registry, formatter: formatter, resolver: resolver}
}

// ProcessEmail runs the handle's pipeline over the request and returns the
// finalized result. Model-router failures are returned as errors so the
// queue can retry; every other failure is absorbed into an apology result.
func (a *Agent) ProcessEmail(ctx context.Context, rctx *mail.RequestContext, pi *handles.ProcessingInstructions) (*mail.ProcessingResult, error) {
	result, err := a.run(ctx, rctx, pi)
	if err != nil {
		if errors.Is(err, mail.ErrModelRouter) {
			return nil, err
		}
		log.Printf("[Agent] Handle %s failed: %v", pi.Handle, err)
		apology := &mail.ProcessingResult{}
		apology.Metadata.Handle = pi.Handle
		apology.Metadata.Errors = []string{err.Error()}
		apology.EmailContent = mail.EmailContent{Text: apologyText}
		if text, html, ferr := a.formatter.Format(apologyText); ferr == nil {
			apology.EmailContent.Text = text
			apology.EmailContent.HTML = html
		}
		return apology, nil
	}
	return result, nil
}

func (a *Agent) run(ctx context.Context, rctx *mail.RequestContext, pi *handles.ProcessingInstructions) (*mail.ProcessingResult, error) {
	result := &mail.ProcessingResult{}
	result.Metadata.Handle = pi.Handle

	var content string
	var err error
	if pi.DeepResearchMandatory && !pi.AllowedTools[handles.ToolWebSearch] {
		// Deep-research models browse on their own; a multi-step tool loop
		// only burns tokens.
		content, err = a.directResearch(ctx, rctx, pi, result)
	} else {
		content, err = a.toolLoop(ctx, rctx, pi, result)
	}
	if err != nil {
		return nil, err
	}

	a.finalize(rctx, result, content)
	return result, nil
}

// directResearch makes a single call to the handle's model group with the
// full composed prompt and no tool declarations.
func (a *Agent) directResearch(ctx context.Context, rctx *mail.RequestContext, pi *handles.ProcessingInstructions, result *mail.ProcessingResult) (string, error) {
	messages := []model.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(pi, rctx)},
		{Role: "user", Content: buildEmailContext(rctx.Request)},
	}
	comp, err := a.router.Generate(ctx, messages, model.GenerateOptions{
		TargetGroup: pi.TargetModelGroup,
	})
	if err != nil {
		return "", err
	}
	result.Metadata.Model = comp.Model
	result.Metadata.Steps = 1
	result.Metadata.Usage.Add(comp.Usage)
	return comp.Content, nil
}

// toolLoop is the bounded tool-calling loop. Tool failures are recorded and
// the loop continues; only router failures abort.
func (a *Agent) toolLoop(ctx context.Context, rctx *mail.RequestContext, pi *handles.ProcessingInstructions, result *mail.ProcessingResult) (string, error) {
	allowed := pi.AllowedTools
	if alias := rctx.Request.DistilledAlias; alias != "" && a.resolver != nil {
		// Scheduled re-injections run under the distilled alias's tool set.
		if aliasPI, err := a.resolver.ResolveLocal(alias); err == nil {
			allowed = aliasPI.AllowedTools
		}
	}
	defs := a.registry.Defs(allowed)

	messages := []model.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(pi, rctx)},
		{Role: "user", Content: buildEmailContext(rctx.Request)},
	}

	var lastContent string
	for step := 1; step <= MaxSteps; step++ {
		if step > 1 && (step-1)%PlanningInterval == 0 {
			messages = append(messages, model.ChatMessage{Role: "user", Content: planningReminder})
		}

		comp, err := a.router.Generate(ctx, messages, model.GenerateOptions{
			TargetGroup: pi.TargetModelGroup,
			Tools:       defs,
		})
		if err != nil {
			return "", err
		}
		result.Metadata.Model = comp.Model
		result.Metadata.Steps = step
		result.Metadata.Usage.Add(comp.Usage)
		if comp.Content != "" {
			lastContent = comp.Content
		}

		if len(comp.ToolCalls) == 0 {
			return comp.Content, nil
		}

		messages = append(messages, model.ChatMessage{
			Role:      "assistant",
			Content:   comp.Content,
			ToolCalls: comp.ToolCalls,
		})
		for _, call := range comp.ToolCalls {
			result.Metadata.ToolCalls++
			payload, out, err := a.registry.Dispatch(ctx, rctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				result.Metadata.Errors = append(result.Metadata.Errors, err.Error())
				payload = fmt.Sprintf(`{"error": %q}`, err.Error())
			} else if out != nil {
				mergeCitations(rctx.Ledger, out.Citations)
			}
			messages = append(messages, model.ChatMessage{
				Role:       "tool",
				Content:    payload,
				ToolCallID: call.ID,
				Name:       call.Function.Name,
			})
		}
	}

	// Step cap reached: use whatever the model last said.
	log.Printf("[Agent] Handle %s hit the %d-step cap", pi.Handle, MaxSteps)
	return lastContent, nil
}

// mergeCitations folds a tool's citation block into the request ledger,
// preserving the per-type dedup rules.
func mergeCitations(ledger *citations.Ledger, block *tools.CitationBlock) {
	if block == nil {
		return
	}
	for _, s := range block.Sources {
		switch s.SourceType {
		case citations.SourceWeb:
			ledger.AddWeb(s.URL, s.Title, s.Description == "visited")
		case citations.SourceAttachment:
			ledger.AddAttachment(s.Filename, s.Description)
		case citations.SourceAPI:
			ledger.AddAPI(s.Title, s.Description)
		}
	}
}
