// Package document handles learning material uploads.
package document

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/middleware"
	documentService "github.com/zhouzirui/citta/backend/internal/service/document"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// Handler 文档上传处理器
type Handler struct {
	svc *tutoring.Service
}

// New 创建文档处理器
func New(svc *tutoring.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册文档相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/documents", h.handleUpload)
	r.Get("/documents", h.handleList)
}

// handleUpload 接收 multipart 字段 file
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, documentService.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	doc, err := h.svc.RegisterDocument(r.Context(), middleware.UserID(r.Context()), header.Filename, header.Header.Get("Content-Type"), file)
	switch {
	case errors.Is(err, tutoring.ErrDocumentTooLarge):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "file exceeds the 20MB limit")
		return
	case err != nil:
		log.Printf("[document] upload failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	utils.RespondJSON(w, http.StatusCreated, doc)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	utils.RespondJSON(w, http.StatusOK, docs)
}
