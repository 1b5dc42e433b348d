// Package webhook pushes spooler events (job lifecycle, printer status
// changes) to HTTP endpoints registered in the database.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/db"
)

type Event string

const (
	EventJobQueued            Event = "job_queued"
	EventJobCompleted         Event = "job_completed"
	EventJobFailed            Event = "job_failed"
	EventPrinterStatusChanged Event = "printer_status_changed"
)

type Payload struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type JobEventData struct {
	JobID        int64  `json:"job_id"`
	PrinterID    int64  `json:"printer_id"`
	DocumentName string `json:"document_name,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Duration     int64  `json:"duration_ms,omitempty"`
	RetryCount   int    `json:"retry_count,omitempty"`
}

type PrinterStatusData struct {
	PrinterID      int64     `json:"printer_id"`
	PrinterName    string    `json:"printer_name"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	Timestamp      time.Time `json:"timestamp"`
}

type task struct {
	webhookID int64
	event     Event
	payload   *Payload
	attempt   int
}

// Sender fans events out to all enabled endpoints subscribed to them.
// Deliveries run on a fixed worker pool with per-task retry; the queue is
// bounded and overflow is dropped with a log line.
type Sender struct {
	store      *db.WebhookStore
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	queue      chan *task
	stopCh     chan struct{}
	workers    int
	wg         sync.WaitGroup
}

func NewSender(store *db.WebhookStore, cfg config.WebhooksConfig) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retryCount: cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
		queue:      make(chan *task, cfg.QueueSize),
		stopCh:     make(chan struct{}),
		workers:    cfg.WorkerCount,
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) SendJobQueued(jobID, printerID int64, documentName string) {
	s.enqueue(EventJobQueued, &JobEventData{
		JobID:        jobID,
		PrinterID:    printerID,
		DocumentName: documentName,
		Status:       "queued",
	})
}

func (s *Sender) SendJobCompleted(jobID, printerID int64, durationMs int64) {
	s.enqueue(EventJobCompleted, &JobEventData{
		JobID:     jobID,
		PrinterID: printerID,
		Status:    "completed",
		Duration:  durationMs,
	})
}

func (s *Sender) SendJobFailed(jobID, printerID int64, errMsg string, retryCount int) {
	s.enqueue(EventJobFailed, &JobEventData{
		JobID:        jobID,
		PrinterID:    printerID,
		Status:       "failed",
		ErrorMessage: errMsg,
		RetryCount:   retryCount,
	})
}

func (s *Sender) SendPrinterStatusChange(printerID int64, printerName, oldStatus, newStatus string) {
	s.enqueue(EventPrinterStatusChanged, &PrinterStatusData{
		PrinterID:      printerID,
		PrinterName:    printerName,
		PreviousStatus: oldStatus,
		NewStatus:      newStatus,
		Timestamp:      time.Now(),
	})
}

func (s *Sender) enqueue(event Event, data interface{}) {
	webhooks, err := s.store.ListActiveForEvent(context.Background(), string(event))
	if err != nil {
		log.Printf("[webhook] failed to get webhooks for event %s: %v", event, err)
		return
	}

	for _, hook := range webhooks {
		t := &task{
			webhookID: hook.ID,
			event:     event,
			payload: &Payload{
				Event:     string(event),
				Timestamp: time.Now(),
				Data:      data,
			},
		}

		select {
		case s.queue <- t:
		default:
			log.Printf("[webhook] queue full, dropping webhook %d for event %s", hook.ID, event)
		}
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				log.Printf("[webhook worker %d] failed to send webhook %d for event %s after %d attempts: %v",
					id, t.webhookID, t.event, t.attempt, err)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	hook, err := s.store.GetByID(context.Background(), t.webhookID)
	if err != nil {
		return fmt.Errorf("get webhook: %w", err)
	}

	var lastErr error
	for t.attempt < s.retryCount {
		t.attempt++

		err := s.sendRequest(hook, t.payload)
		if err == nil {
			return nil
		}

		lastErr = err

		if isClientError(err) {
			log.Printf("[webhook] client error for webhook %d, not retrying: %v", hook.ID, err)
			return err
		}

		if t.attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(t.attempt-1))
			log.Printf("[webhook] retry %d/%d for webhook %d in %v: %v",
				t.attempt, s.retryCount, hook.ID, backoff, err)

			select {
			case <-s.stopCh:
				return fmt.Errorf("shutdown requested")
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (s *Sender) sendRequest(hook *db.Webhook, payload *Payload) error {
	dataBytes, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	if hook.Secret != "" {
		payload.Signature = signPayload(dataBytes, hook.Secret)
	}

	fullPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, hook.URL, bytes.NewReader(fullPayload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", payload.Signature)
	req.Header.Set("X-Webhook-Event", payload.Event)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http error: %d", resp.StatusCode)
	}

	return nil
}

func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func isClientError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "http error: 4")
}
