package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/db"
)

type fakePrinterManager struct {
	mu     sync.Mutex
	prints []fakePrint
	err    error
}

type fakePrint struct {
	printerID int64
	docName   string
	payload   []byte
	raw       bool
}

func (f *fakePrinterManager) Print(ctx context.Context, printerID int64, docName string, payload []byte, raw bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prints = append(f.prints, fakePrint{printerID, docName, append([]byte(nil), payload...), raw})
	return f.err
}

func (f *fakePrinterManager) IncrementJobs(printerID int64, count int) error { return nil }

func (f *fakePrinterManager) printCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prints)
}

func newTestQueue(t *testing.T, pm PrinterManagerInterface, cfg *config.QueueConfig) *Queue {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = database.Exec(db.InsertPrinter, "office", "printsrv", 515, "lp", "opr", "unknown")
	require.NoError(t, err)

	return NewQueue(database, pm, nil, cfg)
}

func waitForStatus(t *testing.T, q *Queue, jobID int64, want JobStatus) *db.PrintJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.GetJob(jobID)
		require.NoError(t, err)
		if JobStatus(job.Status) == want {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	job, _ := q.GetJob(jobID)
	t.Fatalf("job %d never reached %s, stuck at %s", jobID, want, job.Status)
	return nil
}

func TestQueueDeliversJob(t *testing.T) {
	pm := &fakePrinterManager{}
	q := newTestQueue(t, pm, nil)

	jobID, err := q.Enqueue(&db.PrintJob{
		PrinterID:    1,
		DocumentName: "report.ps",
		Payload:      []byte("document bytes"),
		SubmittedBy:  "ada",
	})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	defer q.Stop()

	job := waitForStatus(t, q, jobID, JobStatusCompleted)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	require.Equal(t, 1, pm.printCount())
	assert.Equal(t, fakePrint{1, "report.ps", []byte("document bytes"), false}, pm.prints[0])
}

func TestQueueFailsJobWithoutRetryBudget(t *testing.T) {
	pm := &fakePrinterManager{err: errors.New("printer on fire")}
	q := newTestQueue(t, pm, &config.QueueConfig{MaxRetries: 0, WorkerCount: 1})

	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	defer q.Stop()

	job := waitForStatus(t, q, jobID, JobStatusFailed)
	assert.Contains(t, job.ErrorMessage, "printer on fire")
	assert.Equal(t, 1, pm.printCount())
}

func TestQueueRetriesFailedDelivery(t *testing.T) {
	pm := &fakePrinterManager{err: errors.New("transient")}
	q := newTestQueue(t, pm, &config.QueueConfig{
		MaxRetries:  2,
		RetryDelay:  20 * time.Millisecond,
		WorkerCount: 1,
	})

	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	defer q.Stop()

	job := waitForStatus(t, q, jobID, JobStatusFailed)
	assert.Equal(t, 2, job.RetryCount)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, pm.printCount())
}

func TestQueueIgnoresRetryAfterStop(t *testing.T) {
	pm := &fakePrinterManager{err: errors.New("printer on fire")}
	q := newTestQueue(t, pm, &config.QueueConfig{MaxRetries: 0, WorkerCount: 1})

	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	waitForStatus(t, q, jobID, JobStatusFailed)
	q.Stop()

	// A straggling backoff timer firing after shutdown must not touch
	// the job or refill the channel.
	q.retryJob(jobID)

	job, err := q.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusFailed), job.Status)
	assert.Len(t, q.jobCh, 0)
}

func TestQueueCancelPendingJob(t *testing.T) {
	q := newTestQueue(t, &fakePrinterManager{}, nil)

	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)

	require.NoError(t, q.CancelJob(jobID))
	job, err := q.GetJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, string(JobStatusCancelled), job.Status)

	assert.Error(t, q.CancelJob(jobID))
}

func TestQueuePausedPrinterHoldsJobs(t *testing.T) {
	pm := &fakePrinterManager{}
	q := newTestQueue(t, pm, &config.QueueConfig{WorkerCount: 1, MaxRetries: 1})

	require.NoError(t, q.PausePrinter(1))
	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)

	require.NoError(t, q.Start())
	defer q.Stop()

	waitForStatus(t, q, jobID, JobStatusPaused)
	assert.Equal(t, 0, pm.printCount())
	assert.True(t, q.IsPrinterPaused(1))

	require.NoError(t, q.ResumePrinter(1))
	waitForStatus(t, q, jobID, JobStatusCompleted)
	assert.Equal(t, 1, pm.printCount())
}

func TestQueueStats(t *testing.T) {
	q := newTestQueue(t, &fakePrinterManager{}, nil)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
		require.NoError(t, err)
	}
	jobID, err := q.Enqueue(&db.PrintJob{PrinterID: 1, DocumentName: "x", Payload: []byte("y")})
	require.NoError(t, err)
	require.NoError(t, q.CancelJob(jobID))

	stats := q.GetStats()
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Equal(t, 4, stats.Total)
}

func TestReprintJobClonesPayload(t *testing.T) {
	q := newTestQueue(t, &fakePrinterManager{}, nil)

	jobID, err := q.Enqueue(&db.PrintJob{
		PrinterID:    1,
		DocumentName: "orig.ps",
		Payload:      []byte("abc"),
		Raw:          true,
	})
	require.NoError(t, err)

	newID, err := q.ReprintJob(jobID)
	require.NoError(t, err)
	require.NotEqual(t, jobID, newID)

	clone, err := q.GetJob(newID)
	require.NoError(t, err)
	assert.Equal(t, "orig.ps", clone.DocumentName)
	assert.Equal(t, []byte("abc"), clone.Payload)
	assert.True(t, clone.Raw)
	assert.Equal(t, string(JobStatusPending), clone.Status)
}
