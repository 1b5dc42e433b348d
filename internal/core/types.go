package core

import (
	"context"
	"time"
)

// PrintClient is the slice of the LPD client the manager needs; tests
// substitute a scripted implementation.
type PrintClient interface {
	Print(ctx context.Context, docName string, data []byte, raw bool) error
	QueueState(ctx context.Context, long bool) (string, error)
	RemoveCurrentJob(ctx context.Context) error
}

// ClientFactory builds a protocol client for one printer. The manager
// creates a fresh client per operation; LPD connections are single-shot.
type ClientFactory func(host string, port int, queue, user string) PrintClient

type WebhookSender interface {
	SendPrinterStatusChange(printerID int64, printerName, oldStatus, newStatus string)
	SendJobQueued(jobID, printerID int64, documentName string)
	SendJobCompleted(jobID, printerID int64, durationMs int64)
	SendJobFailed(jobID, printerID int64, errMsg string, retryCount int)
}

// PrinterStatus is the result of one health probe: a short LPD queue
// state request answered means the spooler is up.
type PrinterStatus struct {
	IsOnline    bool
	Report      string
	LastChecked time.Time
}
