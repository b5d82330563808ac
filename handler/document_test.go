package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eka-care/reports-parsing-sdk/config"
	"github.com/eka-care/reports-parsing-sdk/ekacare"
	"github.com/eka-care/reports-parsing-sdk/model"
	"github.com/eka-care/reports-parsing-sdk/service"
	"github.com/gin-gonic/gin"
)

func ekacareTestConfig() *config.EkacareConfig {
	return &config.EkacareConfig{
		DocType:             "lr",
		PollIntervalSeconds: 1,
		TimeoutSeconds:      5,
	}
}

// documentRouter mounts the handler routes with a fixed authenticated user,
// mirroring what AuthMiddleware does in production.
func documentRouter(h *DocumentHandler, username string) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("username", username)
		c.Next()
	})
	router.POST("/documents", h.Upload)
	router.GET("/documents", h.List)
	router.GET("/documents/:id", h.Get)
	router.GET("/documents/:id/status", h.GetStatus)
	router.GET("/documents/:id/result", h.GetResult)
	router.DELETE("/documents/:id", h.Delete)
	return router
}

func seedDocument(t *testing.T, store *service.DocumentStore, id, username, status string) *model.Document {
	t.Helper()

	doc := &model.Document{
		ID:        id,
		Filename:  "report.pdf",
		Username:  username,
		DocType:   "lr",
		Task:      "smart",
		Status:    status,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	store.Save(doc)
	t.Cleanup(func() { store.Delete(id) })
	return doc
}

func multipartUpload(t *testing.T, filename string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write([]byte("%PDF-1.4 test content"))
	}
	for k, v := range fields {
		writer.WriteField(k, v)
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func TestUploadNoFile(t *testing.T) {
	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "testuser")

	body, contentType := multipartUpload(t, "", nil)
	req := httptest.NewRequest("POST", "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestUploadRejectedExtension(t *testing.T) {
	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "testuser")

	body, contentType := multipartUpload(t, "notes.txt", nil)
	req := httptest.NewRequest("POST", "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "PDF") {
		t.Errorf("Expected extension message, got %s", w.Body.String())
	}
}

func TestUploadInvalidTask(t *testing.T) {
	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "testuser")

	body, contentType := multipartUpload(t, "report.pdf", map[string]string{"task": "bogus"})
	req := httptest.NewRequest("POST", "/documents", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bogus") {
		t.Errorf("Expected invalid task in error, got %s", w.Body.String())
	}
}

func TestListScopedToUser(t *testing.T) {
	store := service.GetDocumentStore()
	seedDocument(t, store, "list-mine-1", "alice", model.StatusCompleted)
	seedDocument(t, store, "list-mine-2", "alice", model.StatusPending)
	seedDocument(t, store, "list-other", "bob", model.StatusCompleted)

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("GET", "/documents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Documents []map[string]any `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if len(resp.Documents) != 2 {
		t.Errorf("Expected 2 documents for alice, got %d", len(resp.Documents))
	}
	for _, d := range resp.Documents {
		id, _ := d["id"].(string)
		if id == "list-other" {
			t.Error("List leaked another user's document")
		}
	}
}

func TestGetDocument(t *testing.T) {
	store := service.GetDocumentStore()
	seedDocument(t, store, "get-1", "alice", model.StatusCompleted)

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("GET", "/documents/get-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var doc model.Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if doc.ID != "get-1" || doc.Filename != "report.pdf" {
		t.Errorf("Unexpected document: %+v", doc)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("GET", "/documents/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestGetDocumentWrongUser(t *testing.T) {
	store := service.GetDocumentStore()
	seedDocument(t, store, "wrong-user-1", "bob", model.StatusCompleted)

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("GET", "/documents/wrong-user-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for another user's document, got %d", w.Code)
	}
}

func TestGetStatus(t *testing.T) {
	store := service.GetDocumentStore()
	doc := seedDocument(t, store, "status-1", "alice", model.StatusProcessing)
	store.UpdateDocumentID(doc.ID, "upstream-42")

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("GET", "/documents/status-1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != model.StatusProcessing {
		t.Errorf("Expected status processing, got %s", resp["status"])
	}
	if resp["document_id"] != "upstream-42" {
		t.Errorf("Expected upstream document_id, got %s", resp["document_id"])
	}
}

func TestGetResult(t *testing.T) {
	store := service.GetDocumentStore()

	tests := []struct {
		name         string
		id           string
		status       string
		errorMsg     string
		expectedCode int
	}{
		{"completed", "result-done", model.StatusCompleted, "", http.StatusOK},
		{"failed", "result-failed", model.StatusFailed, "processing failed", http.StatusOK},
		{"pending", "result-pending", model.StatusPending, "", http.StatusAccepted},
		{"processing", "result-processing", model.StatusProcessing, "", http.StatusAccepted},
	}

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := seedDocument(t, store, tt.id, "alice", tt.status)
			if tt.status == model.StatusCompleted {
				store.UpdateResult(doc.ID, &ekacare.PollResult{
					Status: "completed",
					Data: &ekacare.ResultData{
						FHIR:   json.RawMessage(`{"resourceType":"Bundle"}`),
						Output: json.RawMessage(`{"tests":[]}`),
					},
				})
			}
			if tt.errorMsg != "" {
				store.UpdateStatus(doc.ID, tt.status, tt.errorMsg)
			}

			req := httptest.NewRequest("GET", "/documents/"+tt.id+"/result", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.expectedCode {
				t.Errorf("Expected status %d, got %d", tt.expectedCode, w.Code)
			}
			if tt.errorMsg != "" && !strings.Contains(w.Body.String(), tt.errorMsg) {
				t.Errorf("Expected error_msg in response, got %s", w.Body.String())
			}
		})
	}
}

func TestDeleteDocument(t *testing.T) {
	store := service.GetDocumentStore()
	seedDocument(t, store, "delete-1", "alice", model.StatusCompleted)

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("DELETE", "/documents/delete-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if store.Get("delete-1") != nil {
		t.Error("Expected document to be removed from store")
	}
}

func TestDeleteDocumentWrongUser(t *testing.T) {
	store := service.GetDocumentStore()
	seedDocument(t, store, "delete-other", "bob", model.StatusCompleted)

	h := NewDocumentHandler(nil, nil, ekacareTestConfig())
	router := documentRouter(h, "alice")

	req := httptest.NewRequest("DELETE", "/documents/delete-other", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if store.Get("delete-other") == nil {
		t.Error("Another user's document must not be deleted")
	}
}

// mockUpstream stands in for the processing API: login, submit and result.
func mockUpstream(t *testing.T, resultBody string, failSubmit bool) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/account/login"):
			w.Write([]byte(`{"access_token":"test-token"}`))
		case strings.HasSuffix(r.URL.Path, "/docs"):
			if failSubmit {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`{"document_id":"up-123","status":"queued"}`))
		case strings.HasSuffix(r.URL.Path, "/result"):
			w.Write([]byte(resultBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func spoolTestFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestProcessDocumentCompletes(t *testing.T) {
	server := mockUpstream(t, `{"status":"completed","data":{"fhir":{"resourceType":"Bundle"},"output":{"tests":[]}}}`, false)

	client, err := ekacare.NewClient(context.Background(), "id", "secret", ekacare.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	store := service.GetDocumentStore()
	doc := seedDocument(t, store, "process-ok", "alice", model.StatusPending)

	h := NewDocumentHandler(nil, client, ekacareTestConfig())
	h.processDocument(doc, spoolTestFile(t), ekacare.TaskSmart)

	got := store.Get("process-ok")
	if got.Status != model.StatusCompleted {
		t.Errorf("Expected status completed, got %s (error: %s)", got.Status, got.ErrorMsg)
	}
	if got.DocumentID != "up-123" {
		t.Errorf("Expected upstream document_id up-123, got %s", got.DocumentID)
	}
	if got.Result == nil || !got.Result.Completed() {
		t.Error("Expected a completed result payload on the record")
	}
}

func TestProcessDocumentSubmitFails(t *testing.T) {
	server := mockUpstream(t, `{}`, true)

	client, err := ekacare.NewClient(context.Background(), "id", "secret", ekacare.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	store := service.GetDocumentStore()
	doc := seedDocument(t, store, "process-submit-fail", "alice", model.StatusPending)

	h := NewDocumentHandler(nil, client, ekacareTestConfig())
	h.processDocument(doc, spoolTestFile(t), ekacare.TaskSmart)

	got := store.Get("process-submit-fail")
	if got.Status != model.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if got.ErrorMsg == "" {
		t.Error("Expected error message on the record")
	}
}

func TestProcessDocumentUpstreamFailure(t *testing.T) {
	server := mockUpstream(t, `{"status":"failed"}`, false)

	client, err := ekacare.NewClient(context.Background(), "id", "secret", ekacare.WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	store := service.GetDocumentStore()
	doc := seedDocument(t, store, "process-upstream-fail", "alice", model.StatusPending)

	h := NewDocumentHandler(nil, client, ekacareTestConfig())
	h.processDocument(doc, spoolTestFile(t), ekacare.TaskSmart)

	got := store.Get("process-upstream-fail")
	if got.Status != model.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	if got.DocumentID != "up-123" {
		t.Errorf("Expected document_id recorded before failure, got %s", got.DocumentID)
	}
}
