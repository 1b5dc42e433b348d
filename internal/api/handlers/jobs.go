package handlers

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/numdata/printwire/internal/core"
	"github.com/numdata/printwire/internal/db"
)

type CreateJobRequest struct {
	PrinterID     int64  `json:"printer_id" binding:"required"`
	DocumentName  string `json:"document_name" binding:"required"`
	Content       string `json:"content"`
	PayloadBase64 string `json:"payload_base64"`
	Raw           bool   `json:"raw"`
	Priority      int    `json:"priority"`
	SubmittedBy   string `json:"submitted_by"`
}

type JobResponse struct {
	ID           int64      `json:"id"`
	PrinterID    int64      `json:"printer_id"`
	DocumentName string     `json:"document_name"`
	SizeBytes    int        `json:"size_bytes"`
	Raw          bool       `json:"raw"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SubmittedBy  string     `json:"submitted_by"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type QueueStatsResponse struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Paused     int `json:"paused"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

type JobsHandler struct {
	queue *core.Queue
}

func NewJobsHandler(queue *core.Queue) *JobsHandler {
	return &JobsHandler{queue: queue}
}

func jobResponse(job *db.PrintJob) JobResponse {
	return JobResponse{
		ID:           job.ID,
		PrinterID:    job.PrinterID,
		DocumentName: job.DocumentName,
		SizeBytes:    len(job.Payload),
		Raw:          job.Raw,
		Status:       job.Status,
		Priority:     job.Priority,
		RetryCount:   job.RetryCount,
		ErrorMessage: job.ErrorMessage,
		SubmittedBy:  job.SubmittedBy,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
}

// CreateJob accepts either plain text content or a base64 payload for
// binary documents.
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var payload []byte
	switch {
	case req.PayloadBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(req.PayloadBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload_base64 is not valid base64"})
			return
		}
		payload = decoded
	case req.Content != "":
		payload = []byte(req.Content)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "either content or payload_base64 is required"})
		return
	}

	job := &db.PrintJob{
		PrinterID:    req.PrinterID,
		DocumentName: req.DocumentName,
		Payload:      payload,
		Raw:          req.Raw,
		Priority:     req.Priority,
		SubmittedBy:  req.SubmittedBy,
	}

	jobID, err := h.queue.Enqueue(job)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	created, err := h.queue.GetJob(jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, jobResponse(created))
}

func (h *JobsHandler) ListJobs(c *gin.Context) {
	status := core.JobStatus(c.Query("status"))

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 100 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	jobs, err := h.queue.ListJobs(status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{"jobs": responses, "limit": limit, "offset": offset})
}

func (h *JobsHandler) GetJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	job, err := h.queue.GetJob(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, jobResponse(job))
}

func (h *JobsHandler) CancelJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := h.queue.CancelJob(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *JobsHandler) RetryJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := h.queue.RetryJob(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *JobsHandler) ReprintJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	newID, err := h.queue.ReprintJob(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": newID})
}

func (h *JobsHandler) QueueStats(c *gin.Context) {
	stats := h.queue.GetStats()
	c.JSON(http.StatusOK, QueueStatsResponse{
		Pending:    stats.Pending,
		Processing: stats.Processing,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Paused:     stats.Paused,
		Cancelled:  stats.Cancelled,
		Total:      stats.Total,
	})
}
