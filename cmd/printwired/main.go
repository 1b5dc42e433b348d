// Command printwired runs the spooler daemon: the job queue, printer
// health checks, webhook delivery, payload relays and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/numdata/printwire/internal/api"
	"github.com/numdata/printwire/internal/api/handlers"
	"github.com/numdata/printwire/internal/api/middleware"
	"github.com/numdata/printwire/internal/archive"
	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/core"
	"github.com/numdata/printwire/internal/db"
	"github.com/numdata/printwire/internal/relay"
	"github.com/numdata/printwire/internal/webhook"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("[printwired] %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()

	printerStore := db.NewPrinterStore(database)
	webhookStore := db.NewWebhookStore(database)
	settingsStore := db.NewSettingsStore(database)

	sender := webhook.NewSender(webhookStore, cfg.Webhooks)
	sender.Start()
	defer sender.Stop()

	manager := core.NewPrinterManager(printerStore, &cfg.Printers, sender)
	manager.Start()
	defer manager.Stop()

	queue := core.NewQueue(database, manager, sender, &cfg.Queue)
	if err := queue.Start(); err != nil {
		return err
	}
	defer queue.Stop()

	archiver, err := archive.NewArchiver(database, archive.Config{
		ArchivePath: cfg.Database.ArchivePath,
		ArchiveDays: cfg.Database.ArchiveDays,
	})
	if err != nil {
		return err
	}
	archiver.Start()
	defer archiver.Stop()

	pool := relay.NewPool()
	defer pool.Shutdown()
	relays, err := startRelays(cfg, pool)
	if err != nil {
		return err
	}
	if relays != nil {
		defer relays.Stop()
	}

	auth, err := middleware.NewAuthMiddleware(settingsStore)
	if err != nil {
		return err
	}

	router := api.NewRouter(auth,
		handlers.NewPrintersHandler(manager, queue),
		handlers.NewJobsHandler(queue),
		handlers.NewWebhooksHandler(webhookStore),
		handlers.NewArchivesHandler(archiver))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[printwired] listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Printf("[printwired] received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[printwired] http shutdown: %v", err)
	}
	return nil
}

// startRelays brings up the configured relay tasks, if any.
func startRelays(cfg *config.Config, pool *relay.Pool) (*relay.Relay, error) {
	if len(cfg.Relay.Tasks) == 0 {
		return nil, nil
	}

	tasks := make([]relay.Task, 0, len(cfg.Relay.Tasks))
	for _, tc := range cfg.Relay.Tasks {
		tasks = append(tasks, relay.Task{Bind: tc.Bind, Port: tc.Port, URI: tc.URI})
	}

	forwarder := relay.NewURIForwarder(cfg.Relay.ForwardTimeout, cfg.Printers.DefaultUser)
	r := relay.New(pool, forwarder,
		relay.WithReadTimeout(cfg.Relay.ReadTimeout),
		relay.WithMaxPayload(cfg.Relay.MaxPayloadBytes))

	if err := r.Start(tasks); err != nil {
		return nil, err
	}
	for _, addr := range r.Addrs() {
		log.Printf("[relay] listening on %s", addr)
	}
	return r, nil
}
