package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/numdata/printwire/internal/core"
	"github.com/numdata/printwire/internal/db"
	"github.com/numdata/printwire/internal/lpd"
)

type CreatePrinterRequest struct {
	Name      string `json:"name" binding:"required"`
	Host      string `json:"host" binding:"required"`
	Port      int    `json:"port"`
	QueueName string `json:"queue_name" binding:"required"`
	Username  string `json:"username"`
}

type UpdatePrinterRequest struct {
	Name      string `json:"name" binding:"required"`
	Host      string `json:"host" binding:"required"`
	Port      int    `json:"port"`
	QueueName string `json:"queue_name" binding:"required"`
	Username  string `json:"username"`
}

type PrintersHandler struct {
	manager *core.PrinterManager
	queue   *core.Queue
}

func NewPrintersHandler(manager *core.PrinterManager, queue *core.Queue) *PrintersHandler {
	return &PrintersHandler{manager: manager, queue: queue}
}

func printerIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid printer id"})
		return 0, false
	}
	return id, true
}

func (h *PrintersHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	printer := &db.Printer{
		Name:      req.Name,
		Host:      req.Host,
		Port:      req.Port,
		QueueName: req.QueueName,
		Username:  req.Username,
	}

	if err := h.manager.AddPrinter(c.Request.Context(), printer); err != nil {
		if errors.Is(err, core.ErrPrinterAlreadyExists) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, printer)
}

func (h *PrintersHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"printers": h.manager.ListPrinters()})
}

func (h *PrintersHandler) GetPrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	printer, err := h.manager.GetPrinter(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, printer)
}

func (h *PrintersHandler) UpdatePrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	var req UpdatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existing, err := h.manager.GetPrinter(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	updated := *existing
	updated.Name = req.Name
	updated.Host = req.Host
	updated.QueueName = req.QueueName
	updated.Username = req.Username
	if req.Port != 0 {
		updated.Port = req.Port
	}

	if err := h.manager.UpdatePrinter(c.Request.Context(), &updated); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, &updated)
}

func (h *PrintersHandler) DeletePrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	if err := h.manager.RemovePrinter(c.Request.Context(), id); err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// CheckStatus runs an on-demand health probe against the print server.
func (h *PrintersHandler) CheckStatus(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	status, err := h.manager.CheckStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"online": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"online": status.IsOnline, "checked_at": status.LastChecked})
}

// QueueState proxies a live LPD queue report; ?long=true selects the
// verbose form.
func (h *PrintersHandler) QueueState(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	long := c.Query("long") == "true"
	report, err := h.manager.QueueState(c.Request.Context(), id, long)
	if err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "long": long})
}

// RemoveJob forwards an RFC 1179 remove-jobs request to the print server.
func (h *PrintersHandler) RemoveJob(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	if err := h.manager.RemoveJob(c.Request.Context(), id); err != nil {
		if errors.Is(err, core.ErrPrinterNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		var perr *lpd.ProtocolError
		if errors.As(err, &perr) {
			c.JSON(http.StatusConflict, gin.H{"error": perr.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PrintersHandler) PausePrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	if err := h.queue.PausePrinter(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PrintersHandler) ResumePrinter(c *gin.Context) {
	id, ok := printerIDParam(c)
	if !ok {
		return
	}

	if err := h.queue.ResumePrinter(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
