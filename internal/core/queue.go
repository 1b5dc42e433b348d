package core

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/db"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCancelled  JobStatus = "cancelled"
)

type QueueStats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Paused     int
	Cancelled  int
	Total      int
}

// PrinterManagerInterface is what the queue needs from the printer side.
type PrinterManagerInterface interface {
	Print(ctx context.Context, printerID int64, docName string, payload []byte, raw bool) error
	IncrementJobs(printerID int64, count int) error
}

// Queue is the persistent print job queue: jobs land in SQLite, a small
// worker pool drains them to printers, failures retry with exponential
// backoff up to the job's retry budget.
type Queue struct {
	db             *sql.DB
	printerManager PrinterManagerInterface
	webhookSender  WebhookSender
	config         *config.QueueConfig
	workers        int
	stopCh         chan struct{}
	jobCh          chan int64
	pausedPrinters map[int64]bool
	mu             sync.RWMutex
	running        bool
	wg             sync.WaitGroup
}

func NewQueue(database *sql.DB, pm PrinterManagerInterface, ws WebhookSender, cfg *config.QueueConfig) *Queue {
	if cfg == nil {
		cfg = &config.QueueConfig{
			MaxRetries:  3,
			RetryDelay:  10 * time.Second,
			WorkerCount: 2,
		}
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 2
	}

	return &Queue{
		db:             database,
		printerManager: pm,
		webhookSender:  ws,
		config:         cfg,
		workers:        cfg.WorkerCount,
		stopCh:         make(chan struct{}),
		jobCh:          make(chan int64, 1000),
		pausedPrinters: make(map[int64]bool),
	}
}

func (q *Queue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = true
	q.mu.Unlock()

	if err := q.recoverJobs(); err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.wg.Add(1)
	go q.dispatcher()

	return nil
}

func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()
}

// recoverJobs resets jobs that were mid-flight when the process died and
// refills the channel with whatever is pending.
func (q *Queue) recoverJobs() error {
	_, err := q.db.Exec("UPDATE print_jobs SET status = 'pending' WHERE status = 'processing'")
	if err != nil {
		return fmt.Errorf("failed to reset processing jobs: %w", err)
	}

	rows, err := q.db.Query(`
		SELECT id FROM print_jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var jobID int64
		if err := rows.Scan(&jobID); err != nil {
			return fmt.Errorf("failed to scan job id: %w", err)
		}
		select {
		case q.jobCh <- jobID:
		default:
		}
	}

	return nil
}

func (q *Queue) dispatcher() {
	defer q.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.enqueuePendingJobs()
		}
	}
}

func (q *Queue) enqueuePendingJobs() {
	rows, err := q.db.Query(`
		SELECT id FROM print_jobs
		WHERE status = 'pending'
		ORDER BY priority DESC, created_at ASC
		LIMIT 100
	`)
	if err != nil {
		log.Printf("[queue] failed to query pending jobs: %v", err)
		return
	}
	defer rows.Close()

	for rows.Next() {
		var jobID int64
		if err := rows.Scan(&jobID); err != nil {
			continue
		}
		select {
		case q.jobCh <- jobID:
		default:
			return
		}
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case jobID := <-q.jobCh:
			q.processJob(jobID)
		}
	}
}

func (q *Queue) processJob(jobID int64) {
	job, err := q.GetJob(jobID)
	if err != nil {
		log.Printf("[queue] worker: failed to get job %d: %v", jobID, err)
		return
	}

	if JobStatus(job.Status) != JobStatusPending {
		return
	}

	q.mu.RLock()
	printerPaused := q.pausedPrinters[job.PrinterID]
	q.mu.RUnlock()

	if printerPaused {
		q.updateJobStatus(jobID, JobStatusPaused, "", nil, nil)
		return
	}

	now := time.Now()
	q.updateJobStatus(jobID, JobStatusProcessing, "", &now, nil)

	if q.printerManager == nil {
		q.handleJobFailure(job, "printer manager not configured")
		return
	}

	err = q.printerManager.Print(context.Background(), job.PrinterID, job.DocumentName, job.Payload, job.Raw)
	if err != nil {
		q.handleJobFailure(job, err.Error())
		return
	}

	completed := time.Now()
	q.updateJobStatus(jobID, JobStatusCompleted, "", nil, &completed)

	if q.webhookSender != nil {
		q.webhookSender.SendJobCompleted(jobID, job.PrinterID, completed.Sub(now).Milliseconds())
	}

	q.printerManager.IncrementJobs(job.PrinterID, 1)
}

func (q *Queue) handleJobFailure(job *db.PrintJob, errMsg string) {
	if job.RetryCount < job.MaxRetries {
		delay := q.calculateBackoff(job.RetryCount)
		q.incrementRetryCount(job.ID)
		time.AfterFunc(delay, func() {
			q.retryJob(job.ID)
		})
		return
	}

	now := time.Now()
	q.updateJobStatus(job.ID, JobStatusFailed, errMsg, nil, &now)

	if q.webhookSender != nil {
		q.webhookSender.SendJobFailed(job.ID, job.PrinterID, errMsg, job.RetryCount)
	}
}

func (q *Queue) calculateBackoff(retryCount int) time.Duration {
	baseDelay := q.config.RetryDelay
	if baseDelay == 0 {
		baseDelay = 10 * time.Second
	}
	backoff := baseDelay * time.Duration(1<<uint(retryCount))
	maxBackoff := 5 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func (q *Queue) retryJob(jobID int64) {
	// A backoff timer can fire after Stop; the daemon may already have
	// closed the database by then, so stopped queues drop the retry.
	q.mu.RLock()
	running := q.running
	q.mu.RUnlock()
	if !running {
		return
	}

	q.updateJobStatus(jobID, JobStatusPending, "", nil, nil)
	select {
	case q.jobCh <- jobID:
	default:
	}
}

func (q *Queue) incrementRetryCount(jobID int64) {
	q.db.Exec("UPDATE print_jobs SET retry_count = retry_count + 1 WHERE id = ?", jobID)
}

func (q *Queue) updateJobStatus(jobID int64, status JobStatus, errMsg string, startedAt, completedAt *time.Time) {
	var startedAtVal, completedAtVal interface{}
	if startedAt != nil {
		startedAtVal = startedAt
	}
	if completedAt != nil {
		completedAtVal = completedAt
	}

	q.db.Exec(`
		UPDATE print_jobs
		SET status = ?, error_message = ?, started_at = COALESCE(?, started_at), completed_at = ?
		WHERE id = ?
	`, status, errMsg, startedAtVal, completedAtVal, jobID)
}

// Enqueue persists a new job and nudges the workers.
func (q *Queue) Enqueue(job *db.PrintJob) (int64, error) {
	if job.MaxRetries == 0 {
		job.MaxRetries = q.config.MaxRetries
	}
	if job.Status == "" {
		job.Status = string(JobStatusPending)
	}

	raw := 0
	if job.Raw {
		raw = 1
	}

	result, err := q.db.Exec(`
		INSERT INTO print_jobs (printer_id, document_name, payload, raw, status, priority, max_retries, submitted_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.PrinterID, job.DocumentName, job.Payload, raw, job.Status, job.Priority, job.MaxRetries, job.SubmittedBy)
	if err != nil {
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}

	jobID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get job id: %w", err)
	}
	job.ID = jobID

	if q.webhookSender != nil {
		q.webhookSender.SendJobQueued(jobID, job.PrinterID, job.DocumentName)
	}

	select {
	case q.jobCh <- jobID:
	default:
	}

	return jobID, nil
}

const jobColumns = `id, printer_id, document_name, payload, raw, status, priority, retry_count, max_retries, error_message, submitted_by, created_at, started_at, completed_at`

func scanJob(row interface{ Scan(...any) error }) (*db.PrintJob, error) {
	job := &db.PrintJob{}
	var raw int
	var startedAt, completedAt sql.NullTime
	err := row.Scan(
		&job.ID, &job.PrinterID, &job.DocumentName, &job.Payload, &raw,
		&job.Status, &job.Priority, &job.RetryCount, &job.MaxRetries,
		&job.ErrorMessage, &job.SubmittedBy, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Raw = raw == 1
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

func (q *Queue) GetJob(id int64) (*db.PrintJob, error) {
	job, err := scanJob(q.db.QueryRow(`SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	return job, nil
}

func (q *Queue) ListJobs(status JobStatus, limit, offset int) ([]*db.PrintJob, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = q.db.Query(`
			SELECT `+jobColumns+` FROM print_jobs WHERE status = ?
			ORDER BY priority DESC, created_at DESC
			LIMIT ? OFFSET ?
		`, status, limit, offset)
	} else {
		rows, err = q.db.Query(`
			SELECT `+jobColumns+` FROM print_jobs
			ORDER BY priority DESC, created_at DESC
			LIMIT ? OFFSET ?
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*db.PrintJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (q *Queue) CountByStatus(status JobStatus) (int, error) {
	var count int
	err := q.db.QueryRow("SELECT COUNT(*) FROM print_jobs WHERE status = ?", status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

func (q *Queue) CancelJob(id int64) error {
	result, err := q.db.Exec(`
		UPDATE print_jobs SET status = 'cancelled', completed_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('pending', 'paused')
	`, id)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job cannot be cancelled (not in pending/paused state)")
	}

	return nil
}

func (q *Queue) RetryJob(id int64) error {
	job, err := q.GetJob(id)
	if err != nil {
		return err
	}

	if JobStatus(job.Status) != JobStatusFailed {
		return fmt.Errorf("only failed jobs can be retried")
	}

	_, err = q.db.Exec(`
		UPDATE print_jobs
		SET status = 'pending', retry_count = 0, error_message = '', started_at = NULL, completed_at = NULL
		WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to retry job: %w", err)
	}

	select {
	case q.jobCh <- id:
	default:
	}

	return nil
}

// ReprintJob clones a finished job back onto the queue.
func (q *Queue) ReprintJob(id int64) (int64, error) {
	job, err := q.GetJob(id)
	if err != nil {
		return 0, err
	}

	newJob := &db.PrintJob{
		PrinterID:    job.PrinterID,
		DocumentName: job.DocumentName,
		Payload:      job.Payload,
		Raw:          job.Raw,
		Priority:     job.Priority,
		MaxRetries:   job.MaxRetries,
		SubmittedBy:  job.SubmittedBy,
		Status:       string(JobStatusPending),
	}

	return q.Enqueue(newJob)
}

func (q *Queue) PausePrinter(printerID int64) error {
	q.mu.Lock()
	q.pausedPrinters[printerID] = true
	q.mu.Unlock()

	_, err := q.db.Exec(`
		UPDATE print_jobs SET status = 'paused'
		WHERE printer_id = ? AND status = 'pending'
	`, printerID)
	if err != nil {
		return fmt.Errorf("failed to pause printer jobs: %w", err)
	}

	return nil
}

func (q *Queue) ResumePrinter(printerID int64) error {
	q.mu.Lock()
	delete(q.pausedPrinters, printerID)
	q.mu.Unlock()

	rows, err := q.db.Query(`
		SELECT id FROM print_jobs
		WHERE printer_id = ? AND status = 'paused'
	`, printerID)
	if err != nil {
		return fmt.Errorf("failed to query paused jobs: %w", err)
	}
	defer rows.Close()

	var jobIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			continue
		}
		jobIDs = append(jobIDs, id)
	}

	for _, id := range jobIDs {
		q.updateJobStatus(id, JobStatusPending, "", nil, nil)
		select {
		case q.jobCh <- id:
		default:
		}
	}

	return nil
}

func (q *Queue) IsPrinterPaused(printerID int64) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.pausedPrinters[printerID]
}

func (q *Queue) GetStats() *QueueStats {
	stats := &QueueStats{}

	rows, err := q.db.Query("SELECT status, COUNT(*) FROM print_jobs GROUP BY status")
	if err != nil {
		return stats
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		stats.Total += count
		switch JobStatus(status) {
		case JobStatusPending:
			stats.Pending = count
		case JobStatusProcessing:
			stats.Processing = count
		case JobStatusCompleted:
			stats.Completed = count
		case JobStatusFailed:
			stats.Failed = count
		case JobStatusPaused:
			stats.Paused = count
		case JobStatusCancelled:
			stats.Cancelled = count
		}
	}

	return stats
}
