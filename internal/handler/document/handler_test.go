package document_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/handler/document"
	"github.com/zhouzirui/citta/backend/internal/middleware"
	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/internal/store"
)

func TestUploadAndList(t *testing.T) {
	svc := tutoring.NewService(store.NewMemory(), nil, nil, tutoring.Options{UploadDir: t.TempDir()})
	r := chi.NewRouter()
	r.Use(middleware.Identity)
	document.New(svc).RegisterRoutes(r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="file"; filename="notes.html"`},
		"Content-Type":        {"text/html"},
	})
	part.Write([]byte("<html><body><p>Chlorophyll absorbs light</p><script>x()</script></body></html>"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.UserIDHeader, "u1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var doc domain.Document
	json.Unmarshal(rec.Body.Bytes(), &doc)
	if doc.OriginalFilename != "notes.html" || doc.MimeType != "text/html" || doc.ID == "" {
		t.Fatalf("unexpected document %+v", doc)
	}

	req = httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set(middleware.UserIDHeader, "u2")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var docs []domain.Document
	json.Unmarshal(rec.Body.Bytes(), &docs)
	if len(docs) != 0 {
		t.Fatalf("other users must not see the upload, got %+v", docs)
	}

	req = httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader(nil))
	req.Header.Set(middleware.UserIDHeader, "u1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing form should be 400, got %d", rec.Code)
	}
}
