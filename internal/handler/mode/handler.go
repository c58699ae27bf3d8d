// Package mode serves the learning mode catalog.
package mode

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// Handler 学习模式目录处理器
type Handler struct {
	modes tutoring.ModeStore
}

// New 创建模式处理器
func New(modes tutoring.ModeStore) *Handler {
	return &Handler{modes: modes}
}

// RegisterRoutes 注册模式相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/modes", h.handleListModes)
}

func (h *Handler) handleListModes(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.modes.List())
}
