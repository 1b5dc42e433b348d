package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/numdata/printwire/internal/archive"
)

type ArchivesHandler struct {
	archiver *archive.Archiver
}

func NewArchivesHandler(archiver *archive.Archiver) *ArchivesHandler {
	return &ArchivesHandler{archiver: archiver}
}

func (h *ArchivesHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if archives == nil {
		archives = []*archive.ArchiveFile{}
	}
	c.JSON(http.StatusOK, gin.H{"archives": archives, "count": len(archives)})
}

// TriggerArchive runs an archival sweep immediately instead of waiting for
// the daily tick.
func (h *ArchivesHandler) TriggerArchive(c *gin.Context) {
	if err := h.archiver.RunArchive(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *ArchivesHandler) DeleteArchive(c *gin.Context) {
	if err := h.archiver.DeleteArchive(c.Param("filename")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type RestoreJobRequest struct {
	OriginalID int64 `json:"original_id" binding:"required"`
}

func (h *ArchivesHandler) RestoreJob(c *gin.Context) {
	var req RestoreJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.archiver.RestoreJob(c.Request.Context(), req.OriginalID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "original_id": req.OriginalID})
}

// DownloadArchive streams an archive file as-is.
func (h *ArchivesHandler) DownloadArchive(c *gin.Context) {
	filename := filepath.Base(c.Param("filename"))
	filePath := filepath.Join(h.archiver.ArchivePath(), filename)

	info, err := os.Stat(filePath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("Content-Type", "application/octet-stream")
	c.Header("Content-Length", fmt.Sprintf("%d", info.Size()))
	c.File(filePath)
}
