package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"giftwise-api/internal/logger"
	"giftwise-api/internal/models"
	"giftwise-api/internal/scheduler"
	"giftwise-api/internal/service"
	"giftwise-api/internal/validation"
)

// RunTrigger starts a notification pass on demand.
type RunTrigger interface {
	RunNow(ctx context.Context) (models.RunSummary, error)
}

// Suggester serves gift ideas.
type Suggester interface {
	Suggest(ctx context.Context, req models.SuggestionRequest) (service.Result, error)
}

// Handler provides HTTP handlers for the API.
type Handler struct {
	trigger      RunTrigger
	suggester    Suggester
	log          *logger.Logger
	maxBodySize  int64
	triggerToken string
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	// TriggerToken, when set, is required as a Bearer token on the trigger endpoint.
	TriggerToken string
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 1 << 20, // 1MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(trigger RunTrigger, suggester Suggester, log *logger.Logger) *Handler {
	return NewHandlerWithOptions(trigger, suggester, log, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(trigger RunTrigger, suggester Suggester, log *logger.Logger, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	return &Handler{
		trigger:      trigger,
		suggester:    suggester,
		log:          log.With("component", "http"),
		maxBodySize:  opts.MaxBodySize,
		triggerToken: opts.TriggerToken,
	}
}

// Root handles GET /
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Backend is running"))
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// TriggerReminders handles POST /api/trigger-reminders
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.respondJSON(w, http.StatusUnauthorized, models.TriggerResponse{Success: false, Error: "unauthorized"})
		return
	}

	// A dropped client connection does not abort the pass.
	summary, err := h.trigger.RunNow(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrRunInProgress) {
		h.respondJSON(w, http.StatusConflict, models.TriggerResponse{
			Success: false,
			Error:   "notification run already in progress",
		})
		return
	}
	if err != nil {
		h.log.Error("manual notification run failed", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, models.TriggerResponse{
			Success: false,
			Error:   "notification run failed",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, models.TriggerResponse{
		Success: true,
		Message: "Reminders/nudges triggered.",
		Summary: &summary,
	})
}

// GiftIdeas handles POST /api/gift-ideas
func (h *Handler) GiftIdeas(w http.ResponseWriter, r *http.Request) {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	var req models.SuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if refresh := r.URL.Query().Get("refresh"); refresh != "" {
		if force, err := strconv.ParseBool(refresh); err == nil && force {
			req.ForceRefresh = true
		}
	}

	res, err := h.suggester.Suggest(r.Context(), req)
	if err != nil {
		var verr *validation.ValidationError
		if errors.As(err, &verr) {
			h.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		h.respondError(w, http.StatusBadGateway, "Failed to generate gift ideas")
		return
	}

	if res.Cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	h.respondJSON(w, http.StatusOK, res.Suggestions)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.triggerToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.triggerToken)) == 1
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
