package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eka-care/reports-parsing-sdk/config"
	"github.com/eka-care/reports-parsing-sdk/ekacare"
	"github.com/eka-care/reports-parsing-sdk/middleware"
	"github.com/eka-care/reports-parsing-sdk/model"
	"github.com/eka-care/reports-parsing-sdk/pkg/logger"
	"github.com/eka-care/reports-parsing-sdk/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// allowedExtensions are the upload types the upstream API understands.
var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

type DocumentHandler struct {
	archiveService *service.ArchiveService
	client         *ekacare.Client
	ekacareCfg     *config.EkacareConfig
	store          *service.DocumentStore
}

func NewDocumentHandler(archiveSvc *service.ArchiveService, client *ekacare.Client, cfg *config.EkacareConfig) *DocumentHandler {
	return &DocumentHandler{
		archiveService: archiveSvc,
		client:         client,
		ekacareCfg:     cfg,
		store:          service.GetDocumentStore(),
	}
}

// Upload accepts a medical file, archives a copy and submits it for
// processing. The response carries the local record id; the upstream
// document_id appears on the record once submission succeeds.
func (h *DocumentHandler) Upload(c *gin.Context) {
	username := middleware.GetUsername(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF, JPG and PNG files are allowed"})
		return
	}

	// Validate task before anything touches storage or the network
	task, err := ekacare.ParseTask(c.DefaultPostForm("task", string(ekacare.TaskSmart)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	docType := c.DefaultPostForm("doc_type", h.ekacareCfg.DocType)
	recordID := uuid.New().String()

	// Spool the upload to disk; the upstream submit reads from a file path
	tmpPath := filepath.Join(os.TempDir(), recordID+ext)
	spool, err := os.Create(tmpPath)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}
	if _, err := io.Copy(spool, file); err != nil {
		spool.Close()
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}
	spool.Close()

	// Archive an audit copy
	objectName := fmt.Sprintf("%s/%s/%s", username, recordID, header.Filename)
	archiveCopy, err := os.Open(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}
	err = h.archiveService.ArchiveFile(c.Request.Context(), objectName, archiveCopy, header.Size, contentType)
	archiveCopy.Close()
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive file: " + err.Error()})
		return
	}

	archiveURL, err := h.archiveService.GetPresignedURL(c.Request.Context(), objectName)
	if err != nil {
		os.Remove(tmpPath)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate URL: " + err.Error()})
		return
	}

	doc := &model.Document{
		ID:         recordID,
		Filename:   header.Filename,
		Username:   username,
		ArchiveURL: archiveURL,
		DocType:    docType,
		Task:       task.String(),
		Status:     model.StatusPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	h.store.Save(doc)

	go h.processDocument(doc, tmpPath, task)

	c.JSON(http.StatusOK, gin.H{
		"id":       recordID,
		"filename": header.Filename,
		"task":     task.String(),
		"status":   model.StatusPending,
	})
}

// processDocument submits the spooled file upstream and waits for a terminal
// result, updating the record as the state machine advances.
func (h *DocumentHandler) processDocument(doc *model.Document, filePath string, task ekacare.Task) {
	defer os.Remove(filePath)

	ctx := context.WithValue(context.Background(), logger.UsernameKey, doc.Username)
	logger.Info(ctx, "submitting document", "record_id", doc.ID, "task", task.String())

	h.store.UpdateStatus(doc.ID, model.StatusProcessing, "")

	submission, err := h.client.ProcessDocument(ctx, filePath, doc.DocType, task)
	if err != nil {
		logger.Error(ctx, "document submission failed", "record_id", doc.ID, "error", err)
		h.store.UpdateStatus(doc.ID, model.StatusFailed, err.Error())
		return
	}
	if submission.DocumentID == "" {
		logger.Error(ctx, "submission response missing document_id", "record_id", doc.ID)
		h.store.UpdateStatus(doc.ID, model.StatusFailed, "document_id missing from submit response")
		return
	}

	h.store.UpdateDocumentID(doc.ID, submission.DocumentID)
	ctx = context.WithValue(ctx, logger.DocumentIDKey, submission.DocumentID)

	result, err := h.client.WaitForResult(ctx, submission.DocumentID,
		time.Duration(h.ekacareCfg.PollIntervalSeconds)*time.Second,
		time.Duration(h.ekacareCfg.TimeoutSeconds)*time.Second,
	)
	if err != nil {
		if errors.Is(err, ekacare.ErrProcessingFailed) {
			logger.Error(ctx, "document processing failed", "record_id", doc.ID)
		} else {
			logger.Error(ctx, "waiting for result failed", "record_id", doc.ID, "error", err)
		}
		h.store.UpdateStatus(doc.ID, model.StatusFailed, err.Error())
		return
	}

	logger.Info(ctx, "document processing completed", "record_id", doc.ID)
	h.store.UpdateResult(doc.ID, result)
}

// List returns all documents for the current user
func (h *DocumentHandler) List(c *gin.Context) {
	username := middleware.GetUsername(c)
	documents := h.store.GetByUser(username)

	// Return without result payloads for list view
	result := make([]gin.H, len(documents))
	for i, doc := range documents {
		result[i] = gin.H{
			"id":          doc.ID,
			"filename":    doc.Filename,
			"task":        doc.Task,
			"status":      doc.Status,
			"document_id": doc.DocumentID,
			"archive_url": doc.ArchiveURL,
			"created_at":  doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":  doc.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"documents": result})
}

// Get returns a single document record including any result payload
func (h *DocumentHandler) Get(c *gin.Context) {
	username := middleware.GetUsername(c)
	id := c.Param("id")

	doc := h.store.Get(id)
	if doc == nil || doc.Username != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, doc)
}

// GetStatus returns the processing status of a document
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	username := middleware.GetUsername(c)
	id := c.Param("id")

	doc := h.store.Get(id)
	if doc == nil || doc.Username != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":          doc.ID,
		"status":      doc.Status,
		"document_id": doc.DocumentID,
		"error_msg":   doc.ErrorMsg,
	})
}

// GetResult returns the terminal result of a completed document. While the
// document is still in flight the status is reported with 202.
func (h *DocumentHandler) GetResult(c *gin.Context) {
	username := middleware.GetUsername(c)
	id := c.Param("id")

	doc := h.store.Get(id)
	if doc == nil || doc.Username != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	switch doc.Status {
	case model.StatusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"id":     doc.ID,
			"status": doc.Status,
			"result": doc.Result,
		})
	case model.StatusFailed:
		c.JSON(http.StatusOK, gin.H{
			"id":        doc.ID,
			"status":    doc.Status,
			"error_msg": doc.ErrorMsg,
		})
	default:
		c.JSON(http.StatusAccepted, gin.H{
			"id":     doc.ID,
			"status": doc.Status,
		})
	}
}

// Delete deletes a document record and its archived copy
func (h *DocumentHandler) Delete(c *gin.Context) {
	username := middleware.GetUsername(c)
	id := c.Param("id")

	doc := h.store.Get(id)
	if doc == nil || doc.Username != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Document not found"})
		return
	}

	if h.archiveService != nil {
		objectName := fmt.Sprintf("%s/%s/%s", doc.Username, doc.ID, doc.Filename)
		if err := h.archiveService.DeleteFile(c.Request.Context(), objectName); err != nil {
			logger.Warn(c.Request.Context(), "failed to delete archived file",
				"record_id", doc.ID,
				"error", err,
			)
		}
	}

	h.store.Delete(id)

	c.JSON(http.StatusOK, gin.H{"message": "Document deleted"})
}
