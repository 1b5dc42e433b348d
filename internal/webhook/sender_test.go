package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/db"
)

type delivery struct {
	body      []byte
	signature string
	event     string
}

func newTestSender(t *testing.T, url, secret string, events string) (*Sender, *db.WebhookStore) {
	t.Helper()
	database, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store := db.NewWebhookStore(database)
	require.NoError(t, store.Create(context.Background(), &db.Webhook{
		Name:       "test",
		URL:        url,
		Secret:     secret,
		EventsJSON: events,
		Enabled:    true,
	}))

	s := NewSender(store, config.WebhooksConfig{
		RetryCount: 2,
		RetryDelay: 20 * time.Millisecond,
		Timeout:    2 * time.Second,
	})
	s.Start()
	t.Cleanup(s.Stop)
	return s, store
}

func waitDeliveries(t *testing.T, mu *sync.Mutex, got *[]delivery, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		count := len(*got)
		mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries", n)
}

func TestSenderDeliversSubscribedEvent(t *testing.T) {
	var mu sync.Mutex
	var got []delivery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = append(got, delivery{
			body:      body,
			signature: r.Header.Get("X-Webhook-Signature"),
			event:     r.Header.Get("X-Webhook-Event"),
		})
		mu.Unlock()
	}))
	defer srv.Close()

	s, _ := newTestSender(t, srv.URL, "s3cret", `["job_completed"]`)

	s.SendJobCompleted(42, 7, 130)
	waitDeliveries(t, &mu, &got, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "job_completed", got[0].event)

	// Data must stay raw bytes here: re-marshaling through a map reorders
	// keys and the HMAC is computed over the exact serialized form.
	var payload struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(got[0].body, &payload))
	assert.Equal(t, "job_completed", payload.Event)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload.Data)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got[0].signature)
}

func TestSenderSkipsUnsubscribedEvent(t *testing.T) {
	var mu sync.Mutex
	var got []delivery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		got = append(got, delivery{})
		mu.Unlock()
	}))
	defer srv.Close()

	s, _ := newTestSender(t, srv.URL, "", `["job_completed"]`)

	s.SendJobFailed(1, 1, "boom", 0)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got)
}

func TestSenderRetriesServerErrors(t *testing.T) {
	var mu sync.Mutex
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, "try later", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	s, _ := newTestSender(t, srv.URL, "", `["printer_status_changed"]`)

	s.SendPrinterStatusChange(3, "office", "online", "offline")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("delivery was not retried")
}

func TestSenderDoesNotRetryClientErrors(t *testing.T) {
	var mu sync.Mutex
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		mu.Unlock()
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	s, _ := newTestSender(t, srv.URL, "", `["job_queued"]`)

	s.SendJobQueued(1, 1, "doc")
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, attempts)
}
