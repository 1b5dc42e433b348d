// Package archive moves finished print jobs out of the live database into
// monthly SQLite archive files so the working set stays small.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/numdata/printwire/internal/db"
)

type Config struct {
	ArchivePath string
	ArchiveDays int
}

type Archiver struct {
	db          *sql.DB
	archivePath string
	archiveDays int
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
}

type ArchiveFile struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	JobCount  int       `json:"job_count"`
	Month     string    `json:"month"`
}

func NewArchiver(database *sql.DB, cfg Config) (*Archiver, error) {
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = "./data/archives"
	}
	if cfg.ArchiveDays <= 0 {
		cfg.ArchiveDays = 30
	}

	if err := os.MkdirAll(cfg.ArchivePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &Archiver{
		db:          database,
		archivePath: cfg.ArchivePath,
		archiveDays: cfg.ArchiveDays,
		stopCh:      make(chan struct{}),
	}, nil
}

func (a *Archiver) Start() {
	a.wg.Add(1)
	go a.runDailyArchive()
}

// Stop waits for an in-flight sweep to finish so the caller can safely
// close the live database afterwards.
func (a *Archiver) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *Archiver) runDailyArchive() {
	defer a.wg.Done()
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.RunArchive(context.Background())
		}
	}
}

// RunArchive copies terminal jobs older than the retention window into the
// current month's archive file, then deletes them from the live table.
func (a *Archiver) RunArchive(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -a.archiveDays)

	jobs, err := a.jobsForArchival(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to select jobs for archival: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	archiveName := fmt.Sprintf("archive_%s.db", time.Now().Format("2006_01"))
	archivePath := filepath.Join(a.archivePath, archiveName)

	archiveDB, err := a.openArchiveDB(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	tx, err := archiveDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO print_jobs (id, printer_id, document_name, payload, raw, status, priority, retry_count, max_retries, error_message, submitted_by, created_at, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, job.ID, job.PrinterID, job.DocumentName, job.Payload, boolToInt(job.Raw),
			job.Status, job.Priority, job.RetryCount, job.MaxRetries, job.ErrorMessage,
			job.SubmittedBy, job.CreatedAt, job.StartedAt, job.CompletedAt); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to copy job %d into archive: %w", job.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO archive_metadata (id, archived_at) VALUES (1, ?)
	`, time.Now()); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update archive metadata: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}

	if err := a.retireArchivedJobs(ctx, jobs, archiveName); err != nil {
		return fmt.Errorf("failed to retire archived jobs: %w", err)
	}
	return nil
}

func (a *Archiver) jobsForArchival(ctx context.Context, cutoff time.Time) ([]*db.PrintJob, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, printer_id, document_name, payload, raw, status, priority, retry_count, max_retries, error_message, submitted_by, created_at, started_at, completed_at
		FROM print_jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		AND completed_at IS NOT NULL
		AND completed_at < ?
		ORDER BY completed_at ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*db.PrintJob
	for rows.Next() {
		job := &db.PrintJob{}
		var raw int
		if err := rows.Scan(
			&job.ID, &job.PrinterID, &job.DocumentName, &job.Payload, &raw,
			&job.Status, &job.Priority, &job.RetryCount, &job.MaxRetries,
			&job.ErrorMessage, &job.SubmittedBy, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
		); err != nil {
			return nil, err
		}
		job.Raw = raw == 1
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (a *Archiver) openArchiveDB(path string) (*sql.DB, error) {
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	_, err = database.Exec(`
		CREATE TABLE IF NOT EXISTS print_jobs (
			id INTEGER PRIMARY KEY,
			printer_id INTEGER NOT NULL,
			document_name TEXT NOT NULL,
			payload BLOB NOT NULL,
			raw INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			priority INTEGER DEFAULT 0,
			retry_count INTEGER DEFAULT 0,
			max_retries INTEGER DEFAULT 3,
			error_message TEXT,
			submitted_by TEXT,
			created_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME
		);

		CREATE TABLE IF NOT EXISTS archive_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			archived_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_archive_jobs_completed_at ON print_jobs(completed_at);
		CREATE INDEX IF NOT EXISTS idx_archive_jobs_status ON print_jobs(status)
	`)
	if err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// retireArchivedJobs deletes copied jobs from the live table and records
// which archive file now holds each one.
func (a *Archiver) retireArchivedJobs(ctx context.Context, jobs []*db.PrintJob, archiveName string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if _, err := tx.ExecContext(ctx, "DELETE FROM print_jobs WHERE id = ?", job.ID); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO archive_jobs (original_job_id, archive_file) VALUES (?, ?)
		`, job.ID, archiveName); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (a *Archiver) ListArchives() ([]*ArchiveFile, error) {
	files, err := os.ReadDir(a.archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var archives []*ArchiveFile
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".db") {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}

		entry := &ArchiveFile{
			Filename:  file.Name(),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
			Month:     archiveMonth(file.Name()),
		}
		if count, err := a.archiveJobCount(context.Background(), file.Name()); err == nil {
			entry.JobCount = count
		}
		archives = append(archives, entry)
	}
	return archives, nil
}

func (a *Archiver) archiveJobCount(ctx context.Context, filename string) (int, error) {
	var count int
	err := a.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM archive_jobs WHERE archive_file = ?", filename).Scan(&count)
	return count, err
}

func (a *Archiver) DeleteArchive(filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	filePath := filepath.Join(a.archivePath, filepath.Base(filename))
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("archive not found")
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	if _, err := a.db.Exec("DELETE FROM archive_jobs WHERE archive_file = ?", filepath.Base(filename)); err != nil {
		return fmt.Errorf("failed to delete archive job records: %w", err)
	}
	return nil
}

// RestoreJob copies a job back from its archive file into the live table.
func (a *Archiver) RestoreJob(ctx context.Context, originalID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var archiveName string
	err := a.db.QueryRowContext(ctx,
		"SELECT archive_file FROM archive_jobs WHERE original_job_id = ?", originalID).Scan(&archiveName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d not found in archives", originalID)
		}
		return err
	}

	archiveDB, err := sql.Open("sqlite3", filepath.Join(a.archivePath, archiveName))
	if err != nil {
		return fmt.Errorf("failed to open archive database: %w", err)
	}
	defer archiveDB.Close()

	job := &db.PrintJob{}
	var raw int
	err = archiveDB.QueryRowContext(ctx, `
		SELECT id, printer_id, document_name, payload, raw, status, priority, retry_count, max_retries, error_message, submitted_by, created_at, started_at, completed_at
		FROM print_jobs WHERE id = ?
	`, originalID).Scan(
		&job.ID, &job.PrinterID, &job.DocumentName, &job.Payload, &raw,
		&job.Status, &job.Priority, &job.RetryCount, &job.MaxRetries,
		&job.ErrorMessage, &job.SubmittedBy, &job.CreatedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %d missing from archive file %s", originalID, archiveName)
		}
		return fmt.Errorf("failed to read archived job: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, `
		INSERT INTO print_jobs (id, printer_id, document_name, payload, raw, status, priority, retry_count, max_retries, error_message, submitted_by, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.PrinterID, job.DocumentName, job.Payload, raw,
		job.Status, job.Priority, job.RetryCount, job.MaxRetries, job.ErrorMessage,
		job.SubmittedBy, job.CreatedAt, job.StartedAt, job.CompletedAt); err != nil {
		return fmt.Errorf("failed to restore job: %w", err)
	}

	if _, err := a.db.ExecContext(ctx, "DELETE FROM archive_jobs WHERE original_job_id = ?", originalID); err != nil {
		return fmt.Errorf("failed to remove archive record: %w", err)
	}
	return nil
}

func (a *Archiver) ArchivePath() string {
	return a.archivePath
}

func archiveMonth(filename string) string {
	name := strings.TrimSuffix(strings.TrimPrefix(filename, "archive_"), ".db")
	return strings.ReplaceAll(name, "_", "-")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
