// Package learning exposes learner performance tracking and kinesthetic checks.
package learning

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	"github.com/zhouzirui/citta/backend/internal/middleware"
	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// Handler 学习表现处理器
type Handler struct {
	svc *tutoring.Service
}

// New 创建学习表现处理器
func New(svc *tutoring.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册互动统计相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/interactions", func(ir chi.Router) {
		ir.Post("/track", h.handleTrack)
		ir.Get("/performance", h.handlePerformance)
		ir.Get("/mode-suggestion/{mode}", h.handleSuggestion)
		ir.Post("/validate-kinesthetic", h.handleValidateKinesthetic)
	})
}

type trackRequest struct {
	Mode               string `json:"mode"`
	IsNegativeResponse *bool  `json:"isNegativeResponse,omitempty"`
	Text               string `json:"text,omitempty"`
}

// handleTrack 记录一次互动；未显式给出 isNegativeResponse 时根据 text 判断。
func (h *Handler) handleTrack(w http.ResponseWriter, r *http.Request) {
	var payload trackRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := domain.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "mode must be one of V, A, R, K")
		return
	}

	ctx := r.Context()
	userID := middleware.UserID(ctx)

	negative := false
	switch {
	case payload.IsNegativeResponse != nil:
		negative = *payload.IsNegativeResponse
		err = h.svc.TrackInteraction(ctx, userID, mode, negative)
	case strings.TrimSpace(payload.Text) != "":
		var signal learner.Signal
		signal, err = h.svc.TrackUtterance(ctx, userID, mode, payload.Text)
		negative = signal.Negative()
	default:
		err = h.svc.TrackInteraction(ctx, userID, mode, false)
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to track interaction")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"mode":               mode,
		"isNegativeResponse": negative,
	})
}

type performanceEntry struct {
	Mode          domain.Mode `json:"mode"`
	ResponseCount int         `json:"responseCount"`
	NegativeCount int         `json:"negativeResponseCount"`
	SuccessRate   float64     `json:"successRate"`
}

func (h *Handler) handlePerformance(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Performance(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load performance")
		return
	}

	out := make([]performanceEntry, 0, len(stats))
	for _, s := range stats {
		out = append(out, performanceEntry{
			Mode:          s.Mode,
			ResponseCount: s.Responses,
			NegativeCount: s.Negatives,
			SuccessRate:   s.SuccessRate(),
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSuggestion(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMode(chi.URLParam(r, "mode"))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "mode must be one of V, A, R, K")
		return
	}
	suggestion, err := h.svc.SuggestMode(r.Context(), middleware.UserID(r.Context()), mode)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to analyze performance")
		return
	}
	utils.RespondJSON(w, http.StatusOK, suggestion)
}

type kinestheticRequest struct {
	SessionID   string `json:"sessionId"`
	ElementID   string `json:"elementId"`
	Coordinates *struct {
		X *float64 `json:"x"`
		Y *float64 `json:"y"`
	} `json:"coordinates"`
}

func (h *Handler) handleValidateKinesthetic(w http.ResponseWriter, r *http.Request) {
	var payload kinestheticRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.SessionID == "" || payload.ElementID == "" {
		utils.RespondError(w, http.StatusBadRequest, "sessionId and elementId are required")
		return
	}
	coords := payload.Coordinates
	if coords == nil || coords.X == nil || coords.Y == nil {
		utils.RespondError(w, http.StatusBadRequest, "coordinates must contain numeric x and y")
		return
	}

	result, err := h.svc.ValidateDrop(r.Context(), middleware.UserID(r.Context()), payload.SessionID, payload.ElementID, *coords.X, *coords.Y)
	switch {
	case errors.Is(err, tutoring.ErrSessionNotFound), errors.Is(err, tutoring.ErrChallengeNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "failed to validate drop")
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}
