package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailagent/internal/auth"
	"github.com/ignite/mailagent/internal/delivery"
	"github.com/ignite/mailagent/internal/handles"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/model"
	"github.com/ignite/mailagent/internal/pkg/logger"
	"github.com/ignite/mailagent/internal/plan"
	"github.com/ignite/mailagent/internal/queue"
	"github.com/ignite/mailagent/internal/ratelimit"
	"github.com/ignite/mailagent/internal/validate"
	"github.com/ignite/mailagent/internal/whitelist"
)

// Handlers carries the dependencies for all HTTP endpoints.
type Handlers struct {
	pipeline  *validate.Pipeline
	queue     *queue.Queue
	limiter   *ratelimit.Limiter
	resolver  *handles.Resolver
	composer  *delivery.Composer
	deliverer delivery.Deliverer
	whitelist *whitelist.Store
	models    *model.Router
	plans     plan.Oracle
	db        *sql.DB
	redis     *redis.Client

	apiKey           string
	attachmentsDir   string
	verifyBaseURL    string
	suggestionsGroup string
	skipDelivery     bool
}

// HandlersConfig bundles the scalar settings for NewHandlers.
type HandlersConfig struct {
	APIKey           string
	AttachmentsDir   string
	VerifyBaseURL    string
	SuggestionsGroup string
	SkipDelivery     bool
}

// NewHandlers wires the endpoint handlers.
func NewHandlers(pipeline *validate.Pipeline, q *queue.Queue, limiter *ratelimit.Limiter,
	resolver *handles.Resolver, composer *delivery.Composer, deliverer delivery.Deliverer,
	wl *whitelist.Store, models *model.Router, plans plan.Oracle, db *sql.DB, rdb *redis.Client, cfg HandlersConfig) *Handlers {
	return &Handlers{
		pipeline:         pipeline,
		queue:            q,
		limiter:          limiter,
		resolver:         resolver,
		composer:         composer,
		deliverer:        deliverer,
		whitelist:        wl,
		models:           models,
		plans:            plans,
		db:               db,
		redis:            rdb,
		apiKey:           cfg.APIKey,
		attachmentsDir:   cfg.AttachmentsDir,
		verifyBaseURL:    cfg.VerifyBaseURL,
		suggestionsGroup: cfg.SuggestionsGroup,
		skipDelivery:     cfg.SkipDelivery,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"status": code, "error": message})
}

// ProcessEmail is the inbound webhook: parse the multipart form, run the
// validators, spool attachments, and enqueue. Guarded by the X-API-Key
// header.
func (h *Handlers) ProcessEmail(w http.ResponseWriter, r *http.Request) {
	if !validate.CheckAPIKey(r.Header.Get("X-API-Key"), h.apiKey) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
		return
	}

	// 64 MiB form ceiling: the attachment limits allow 50 MiB of files plus
	// the text parts.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("parsing form: %v", err))
		return
	}

	req := requestFromForm(r)
	outcome, err := h.pipeline.Run(r.Context(), req)
	if err != nil {
		log.Printf("[API] Validation pipeline error for %s: %v", logger.RedactEmail(req.From), err)
		writeError(w, http.StatusInternalServerError, "internal_error", "validation failed")
		return
	}
	if outcome.Verdict != validate.VerdictAccepted {
		h.renderRejection(w, r, req, outcome)
		return
	}

	attachmentsDir, saved, err := h.spoolAttachments(r, req)
	if err != nil {
		h.pipeline.ReleaseClaim(r.Context(), req.MessageID)
		writeError(w, http.StatusInternalServerError, "internal_error", fmt.Sprintf("saving attachments: %v", err))
		return
	}

	if _, err := h.queue.Enqueue(r.Context(), req, attachmentsDir); err != nil {
		h.pipeline.ReleaseClaim(r.Context(), req.MessageID)
		log.Printf("[API] Enqueue failed for %s: %v", req.MessageID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "enqueue failed")
		return
	}

	log.Printf("[API] Queued %s from %s to %s (%d attachment(s))",
		req.MessageID, logger.RedactEmail(req.From), logger.RedactEmail(req.To), saved)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "processing",
		"email_id":          req.MessageID,
		"attachments_saved": saved,
	})
}

// requestFromForm maps the webhook's multipart fields onto an EmailRequest.
func requestFromForm(r *http.Request) *mail.EmailRequest {
	req := &mail.EmailRequest{
		From:            r.FormValue("from_email"),
		To:              r.FormValue("to"),
		Subject:         r.FormValue("subject"),
		TextBody:        r.FormValue("textContent"),
		HTMLBody:        r.FormValue("htmlContent"),
		MessageID:       r.FormValue("messageId"),
		Date:            r.FormValue("date"),
		ScheduledTaskID: r.FormValue("scheduled_task_id"),
		ParentMessageID: r.FormValue("parent_message_id"),
	}
	if raw := r.FormValue("rawHeaders"); raw != "" {
		headers := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &headers); err == nil {
			req.Headers = headers
			if req.InReplyTo == "" {
				req.InReplyTo = headers["In-Reply-To"]
			}
			if req.References == "" {
				req.References = headers["References"]
			}
		}
	}
	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["files"] {
			req.Attachments = append(req.Attachments, mail.EmailAttachment{
				Filename:    filepath.Base(fh.Filename),
				ContentType: fh.Header.Get("Content-Type"),
				SizeBytes:   fh.Size,
			})
		}
	}
	return req
}

// spoolAttachments writes uploaded files into a job-scoped directory and
// stamps the paths onto the request.
func (h *Handlers) spoolAttachments(r *http.Request, req *mail.EmailRequest) (string, int, error) {
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		return "", 0, nil
	}

	dir := filepath.Join(h.attachmentsDir, "job-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create spool dir: %w", err)
	}

	saved := 0
	for i, fh := range r.MultipartForm.File["files"] {
		path := filepath.Join(dir, filepath.Base(fh.Filename))
		if err := saveUpload(fh, path); err != nil {
			os.RemoveAll(dir)
			return "", 0, err
		}
		if i < len(req.Attachments) {
			req.Attachments[i].Path = path
		}
		saved++
	}
	return dir, saved, nil
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer src.Close()

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// renderRejection maps a non-accepted verdict to its HTTP response and any
// notification email back to the sender.
func (h *Handlers) renderRejection(w http.ResponseWriter, r *http.Request, req *mail.EmailRequest, outcome *validate.Outcome) {
	switch outcome.Verdict {
	case validate.VerdictSelfLoop:
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": "self_loop"})

	case validate.VerdictRateLimited:
		if rle, ok := outcome.Err.(*mail.RateLimitError); ok && rle.Domain == "" {
			h.notify(r, h.composer.ComposeUpgradeHint(req, rle.Plan, rle.Period, rle.Limit))
		}
		writeError(w, http.StatusTooManyRequests, "rate_limited", outcome.Err.Error())

	case validate.VerdictUnverified:
		h.notify(r, h.composer.ComposeVerification(req, h.verifyURL(req.From, outcome.VerificationToken)))
		writeJSON(w, http.StatusForbidden, map[string]string{
			"status":      "unverified_sender",
			"next_action": outcome.NextAction,
		})

	case validate.VerdictBadHandle:
		h.notify(r, h.composer.ComposeRejection(req, h.handleNames()))
		writeError(w, http.StatusBadRequest, "unsupported_handle", outcome.Err.Error())

	case validate.VerdictBadAttachment:
		h.notify(r, h.composer.ComposeAttachmentRejection(req, outcome.Err.Error()))
		status := http.StatusBadRequest
		if errors.Is(outcome.Err, mail.ErrAttachmentTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, "invalid_attachment", outcome.Err.Error())

	case validate.VerdictDuplicate:
		code := "duplicate_processed"
		if validate.IsDuplicateQueued(outcome.Err) {
			code = "duplicate_queued"
		}
		writeError(w, http.StatusConflict, code, outcome.Err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "unknown verdict")
	}
}

// notify sends a service email without blocking the webhook response path
// on delivery errors.
func (h *Handlers) notify(r *http.Request, reply *delivery.Reply) {
	if h.skipDelivery {
		return
	}
	if _, err := h.deliverer.Deliver(r.Context(), reply); err != nil {
		log.Printf("[API] Failed to send notification to %s: %v", logger.RedactEmail(reply.To), err)
	}
}

func (h *Handlers) verifyURL(email, token string) string {
	return fmt.Sprintf("%s/verify?email=%s&token=%s",
		h.verifyBaseURL, url.QueryEscape(mail.NormalizeAddress(email)), url.QueryEscape(token))
}

// handleNames lists the primary handle names for the rejection email.
func (h *Handlers) handleNames() []string {
	var names []string
	for _, pi := range h.resolver.Handles() {
		names = append(names, pi.Handle)
	}
	return names
}

// Verify flips a whitelist entry to verified from the emailed link.
func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	email := mail.NormalizeAddress(r.URL.Query().Get("email"))
	token := r.URL.Query().Get("token")
	if email == "" || token == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "email and token are required")
		return
	}
	ok, err := h.whitelist.Verify(r.Context(), email, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "verification failed")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_token", "verification token does not match")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified", "email": email})
}

// suggestionRequest is one input email to analyze.
type suggestionRequest struct {
	FromEmail   string `json:"from_email"`
	Subject     string `json:"subject"`
	TextContent string `json:"textContent"`
}

// suggestionItem recommends one handle for the email.
type suggestionItem struct {
	Handle      string `json:"handle"`
	Description string `json:"description"`
}

// suggestionResponse is the per-email analysis.
type suggestionResponse struct {
	EmailIdentified bool             `json:"email_identified"`
	UserEmailID     string           `json:"user_email_id"`
	Overview        string           `json:"overview"`
	Suggestions     []suggestionItem `json:"suggestions"`
	RiskAnalysis    string           `json:"risk_analysis,omitempty"`
}

// Suggestions analyzes a batch of emails for the authenticated user and
// recommends which handle each should be forwarded to. One model call per
// email against the suggestions group; responses are parallel to the input.
func (h *Handlers) Suggestions(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	var batch []suggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "body must be a JSON array of suggestion requests")
		return
	}

	userEmail := mail.NormalizeAddress(claims.Email)
	out := make([]suggestionResponse, 0, len(batch))
	for _, item := range batch {
		resp := suggestionResponse{
			EmailIdentified: mail.NormalizeAddress(item.FromEmail) == userEmail,
			UserEmailID:     userEmail,
		}

		comp, err := h.models.Generate(r.Context(), []model.ChatMessage{
			{Role: "system", Content: h.suggestionsPrompt()},
			{Role: "user", Content: fmt.Sprintf("Subject: %s\n\n%s", item.Subject, item.TextContent)},
		}, model.GenerateOptions{TargetGroup: h.suggestionsGroup})
		if err != nil {
			log.Printf("[API] Suggestions for %s failed: %v", logger.RedactEmail(claims.Email), err)
			writeError(w, http.StatusBadGateway, "model_unavailable", "suggestion generation failed")
			return
		}

		var parsed struct {
			Overview     string           `json:"overview"`
			Suggestions  []suggestionItem `json:"suggestions"`
			RiskAnalysis string           `json:"risk_analysis"`
		}
		if err := json.Unmarshal([]byte(stripCodeFence(comp.Content)), &parsed); err != nil {
			// Model ignored the JSON contract; degrade to prose.
			resp.Overview = comp.Content
		} else {
			resp.Overview = parsed.Overview
			resp.Suggestions = parsed.Suggestions
			resp.RiskAnalysis = parsed.RiskAnalysis
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) suggestionsPrompt() string {
	return fmt.Sprintf("You classify emails for an assistant reachable at these handles: %s. "+
		"Reply with JSON only: {\"overview\": one sentence, \"suggestions\": "+
		"[{\"handle\": name, \"description\": why}], \"risk_analysis\": note any "+
		"phishing or scam signals, empty string if none}.",
		strings.Join(h.handleNames(), ", "))
}

// stripCodeFence unwraps a ```json fenced block if the model added one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// User returns the authenticated sender's plan and current usage windows.
func (h *Handlers) User(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing identity")
		return
	}

	sender := mail.NormalizeAddress(claims.Email)
	senderPlan, err := h.plans.PlanFor(r.Context(), sender)
	if err != nil {
		senderPlan = plan.Beta
	}
	usage, err := h.limiter.Usage(r.Context(), sender, senderPlan)
	if err != nil {
		log.Printf("[API] Usage lookup for %s failed: %v", logger.RedactEmail(sender), err)
		usage = map[string]int64{}
	}

	limits := ratelimit.PlanLimits(senderPlan)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscription_info": map[string]interface{}{
			"email":  sender,
			"plan":   string(senderPlan),
			"active": senderPlan != plan.Beta,
		},
		"plan_name": string(senderPlan),
		"usage_info": map[string]interface{}{
			"hour":  map[string]int64{"used": usage[ratelimit.PeriodHour], "limit": int64(limits[ratelimit.PeriodHour])},
			"day":   map[string]int64{"used": usage[ratelimit.PeriodDay], "limit": int64(limits[ratelimit.PeriodDay])},
			"month": map[string]int64{"used": usage[ratelimit.PeriodMonth], "limit": int64(limits[ratelimit.PeriodMonth])},
		},
	})
}

// Health reports the backing services' reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	services := map[string]string{"database": "ok", "redis": "ok", "queue": "ok"}
	healthy := true

	if err := h.db.PingContext(ctx); err != nil {
		services["database"] = "unreachable"
		healthy = false
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		services["redis"] = "unreachable"
		healthy = false
	}
	if depth, err := h.queue.Depth(ctx); err != nil {
		services["queue"] = "unreachable"
		healthy = false
	} else {
		services["queue"] = fmt.Sprintf("ok (%d pending)", depth)
	}

	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{"status": overall, "services": services})
}
