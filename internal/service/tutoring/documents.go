package tutoring

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/document"
)

// ErrDocumentTooLarge 上传文件超过大小上限。
var ErrDocumentTooLarge = errors.New("document exceeds upload limit")

// RegisterDocument 把上传文件写入上传目录，抽取文本并登记到用户名下。
// 抽取失败不影响登记，只是文档不带文本。
func (s *Service) RegisterDocument(ctx context.Context, userID, filename, mimeType string, r io.Reader) (*domain.Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, document.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > document.MaxUploadBytes {
		return nil, ErrDocumentTooLarge
	}

	original := filepath.Base(strings.TrimSpace(filename))
	if original == "." || original == string(filepath.Separator) {
		original = "upload"
	}

	id := uuid.NewString()
	stored := id + strings.ToLower(filepath.Ext(original))
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, stored)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	text, err := document.Extract(mimeType, original, data)
	if err != nil {
		log.Printf("[tutoring] extract text from %s failed: %v", original, err)
		text = ""
	}

	doc := &domain.Document{
		ID:               id,
		UserID:           userID,
		Filename:         stored,
		OriginalFilename: original,
		Path:             path,
		MimeType:         mimeType,
		Size:             int64(len(data)),
		Text:             text,
		CreatedAt:        s.now(),
	}
	if err := s.repo.SaveDocument(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

// ListDocuments 列出用户上传的文档。
func (s *Service) ListDocuments(ctx context.Context, userID string) ([]domain.Document, error) {
	return s.repo.ListDocuments(ctx, userID)
}
