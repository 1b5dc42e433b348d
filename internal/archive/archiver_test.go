package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numdata/printwire/internal/db"
)

func newTestArchiver(t *testing.T) *Archiver {
	t.Helper()
	dir := t.TempDir()

	database, err := db.Open(filepath.Join(dir, "live.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	archiver, err := NewArchiver(database, Config{
		ArchivePath: filepath.Join(dir, "archives"),
		ArchiveDays: 7,
	})
	require.NoError(t, err)

	return archiver
}

func insertFinishedJob(t *testing.T, a *Archiver, completedAt time.Time) int64 {
	t.Helper()

	_, err := a.db.Exec(`INSERT INTO printers (name, host, port, queue_name, username) VALUES ('labels', '127.0.0.1', 515, 'raw', 'ops')
		ON CONFLICT(name) DO UPDATE SET host = excluded.host`)
	require.NoError(t, err)

	result, err := a.db.Exec(`
		INSERT INTO print_jobs (printer_id, document_name, payload, raw, status, completed_at)
		VALUES (1, 'shipment-42', ?, 1, 'completed', ?)
	`, []byte("ship to warehouse"), completedAt)
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestRunArchiveMovesOldFinishedJobs(t *testing.T) {
	archiver := newTestArchiver(t)
	ctx := context.Background()

	oldID := insertFinishedJob(t, archiver, time.Now().AddDate(0, 0, -30))
	recentID := insertFinishedJob(t, archiver, time.Now())

	require.NoError(t, archiver.RunArchive(ctx))

	var liveCount int
	require.NoError(t, archiver.db.QueryRow("SELECT COUNT(*) FROM print_jobs").Scan(&liveCount))
	assert.Equal(t, 1, liveCount, "recent job should stay in the live table")

	var liveID int64
	require.NoError(t, archiver.db.QueryRow("SELECT id FROM print_jobs").Scan(&liveID))
	assert.Equal(t, recentID, liveID)

	var archiveFile string
	require.NoError(t, archiver.db.QueryRow(
		"SELECT archive_file FROM archive_jobs WHERE original_job_id = ?", oldID).Scan(&archiveFile))
	assert.Contains(t, archiveFile, "archive_")

	archives, err := archiver.ListArchives()
	require.NoError(t, err)
	require.Len(t, archives, 1)
	assert.Equal(t, archiveFile, archives[0].Filename)
	assert.Equal(t, 1, archives[0].JobCount)
}

func TestRunArchiveNoEligibleJobs(t *testing.T) {
	archiver := newTestArchiver(t)

	insertFinishedJob(t, archiver, time.Now())

	require.NoError(t, archiver.RunArchive(context.Background()))

	archives, err := archiver.ListArchives()
	require.NoError(t, err)
	assert.Empty(t, archives, "no archive file should be created when nothing is eligible")
}

func TestRestoreJobRoundTrip(t *testing.T) {
	archiver := newTestArchiver(t)
	ctx := context.Background()

	id := insertFinishedJob(t, archiver, time.Now().AddDate(0, 0, -30))
	require.NoError(t, archiver.RunArchive(ctx))

	require.NoError(t, archiver.RestoreJob(ctx, id))

	var doc string
	var payload []byte
	require.NoError(t, archiver.db.QueryRow(
		"SELECT document_name, payload FROM print_jobs WHERE id = ?", id).Scan(&doc, &payload))
	assert.Equal(t, "shipment-42", doc)
	assert.Equal(t, []byte("ship to warehouse"), payload)

	var remaining int
	require.NoError(t, archiver.db.QueryRow(
		"SELECT COUNT(*) FROM archive_jobs WHERE original_job_id = ?", id).Scan(&remaining))
	assert.Zero(t, remaining)
}

func TestDeleteArchiveRemovesFileAndRecords(t *testing.T) {
	archiver := newTestArchiver(t)
	ctx := context.Background()

	insertFinishedJob(t, archiver, time.Now().AddDate(0, 0, -30))
	require.NoError(t, archiver.RunArchive(ctx))

	archives, err := archiver.ListArchives()
	require.NoError(t, err)
	require.Len(t, archives, 1)

	require.NoError(t, archiver.DeleteArchive(archives[0].Filename))

	archives, err = archiver.ListArchives()
	require.NoError(t, err)
	assert.Empty(t, archives)
}

func TestStopWaitsForArchiveLoop(t *testing.T) {
	archiver := newTestArchiver(t)
	archiver.Start()

	done := make(chan struct{})
	go func() {
		archiver.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the archive loop exited")
	}

	// The loop is gone, so the live database can be closed without a
	// sweep racing it.
	require.NoError(t, archiver.db.Close())
}
