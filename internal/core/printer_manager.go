package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/numdata/printwire/internal/config"
	"github.com/numdata/printwire/internal/db"
	"github.com/numdata/printwire/internal/lpd"
)

var (
	ErrPrinterNotFound      = errors.New("printer not found")
	ErrPrinterAlreadyExists = errors.New("printer already exists")
)

// PrinterManager keeps the registry of known LPD printers, probes their
// availability and performs protocol operations against them. Printers
// are loaded from the database at startup and mirrored in memory.
type PrinterManager struct {
	store         *db.PrinterStore
	config        *config.PrintersConfig
	printers      map[int64]*db.Printer
	mu            sync.RWMutex
	newClient     ClientFactory
	webhookSender WebhookSender
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

func NewPrinterManager(store *db.PrinterStore, cfg *config.PrintersConfig, ws WebhookSender) *PrinterManager {
	pm := &PrinterManager{
		store:         store,
		config:        cfg,
		printers:      make(map[int64]*db.Printer),
		webhookSender: ws,
		stopCh:        make(chan struct{}),
	}
	pm.newClient = func(host string, port int, queue, user string) PrintClient {
		return lpd.NewClient(host, port, queue, user,
			lpd.WithReadTimeout(pm.readTimeout()))
	}
	return pm
}

// SetClientFactory swaps the protocol client constructor; used by tests.
func (pm *PrinterManager) SetClientFactory(f ClientFactory) {
	pm.newClient = f
}

func (pm *PrinterManager) readTimeout() time.Duration {
	if pm.config != nil && pm.config.ReadTimeout > 0 {
		return pm.config.ReadTimeout
	}
	return 30 * time.Second
}

func (pm *PrinterManager) Start() {
	pm.loadPrinters()

	pm.wg.Add(1)
	go pm.healthCheckLoop()
}

func (pm *PrinterManager) Stop() {
	close(pm.stopCh)
	pm.wg.Wait()
}

func (pm *PrinterManager) loadPrinters() {
	printers, err := pm.store.List(context.Background())
	if err != nil {
		return
	}

	pm.mu.Lock()
	for _, p := range printers {
		pm.printers[p.ID] = p
	}
	pm.mu.Unlock()
}

func (pm *PrinterManager) AddPrinter(ctx context.Context, p *db.Printer) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, existing := range pm.printers {
		if existing.Name == p.Name {
			return ErrPrinterAlreadyExists
		}
	}

	if p.Port == 0 {
		p.Port = lpd.DefaultPort
	}
	if p.Username == "" && pm.config != nil {
		p.Username = pm.config.DefaultUser
	}
	p.Status = "unknown"

	if err := pm.store.Create(ctx, p); err != nil {
		return err
	}

	pm.printers[p.ID] = p
	return nil
}

func (pm *PrinterManager) RemovePrinter(ctx context.Context, id int64) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.printers[id]; !exists {
		return ErrPrinterNotFound
	}

	if err := pm.store.Delete(ctx, id); err != nil {
		return err
	}

	delete(pm.printers, id)
	return nil
}

func (pm *PrinterManager) GetPrinter(id int64) (*db.Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, exists := pm.printers[id]
	if !exists {
		return nil, ErrPrinterNotFound
	}
	return p, nil
}

func (pm *PrinterManager) ListPrinters() []*db.Printer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]*db.Printer, 0, len(pm.printers))
	for _, p := range pm.printers {
		printers = append(printers, p)
	}
	return printers
}

func (pm *PrinterManager) UpdatePrinter(ctx context.Context, p *db.Printer) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.printers[p.ID]; !exists {
		return ErrPrinterNotFound
	}

	if err := pm.store.Update(ctx, p); err != nil {
		return err
	}

	pm.printers[p.ID] = p
	return nil
}

func (pm *PrinterManager) client(p *db.Printer) PrintClient {
	return pm.newClient(p.Host, p.Port, p.QueueName, p.Username)
}

// CheckStatus probes the printer with a short queue state request. Any
// answer means the spooler is reachable; a transport error marks it
// offline.
func (pm *PrinterManager) CheckStatus(ctx context.Context, id int64) (*PrinterStatus, error) {
	_, err := pm.GetPrinter(id)
	if err != nil {
		return nil, err
	}

	status := &PrinterStatus{LastChecked: time.Now()}
	report, err := pm.queueState(ctx, id, false)
	if err != nil {
		pm.updatePrinterStatus(id, "offline")
		return status, err
	}

	status.IsOnline = true
	status.Report = report
	pm.updatePrinterStatus(id, "online")
	return status, nil
}

// QueueState fetches the live queue report from the print server.
func (pm *PrinterManager) QueueState(ctx context.Context, id int64, long bool) (string, error) {
	return pm.queueState(ctx, id, long)
}

func (pm *PrinterManager) queueState(ctx context.Context, id int64, long bool) (string, error) {
	p, err := pm.GetPrinter(id)
	if err != nil {
		return "", err
	}
	return pm.client(p).QueueState(ctx, long)
}

// Print submits one document to the printer's queue. Transport failures
// flip the printer offline; protocol refusals do not, the server answered.
func (pm *PrinterManager) Print(ctx context.Context, id int64, docName string, payload []byte, raw bool) error {
	p, err := pm.GetPrinter(id)
	if err != nil {
		return err
	}

	if err := pm.client(p).Print(ctx, docName, payload, raw); err != nil {
		var perr *lpd.ProtocolError
		if !errors.As(err, &perr) {
			pm.updatePrinterStatus(id, "offline")
		}
		return fmt.Errorf("print on %s: %w", p.Name, err)
	}

	pm.updatePrinterStatus(id, "online")
	return nil
}

// RemoveJob asks the print server to drop the configured user's jobs.
func (pm *PrinterManager) RemoveJob(ctx context.Context, id int64) error {
	p, err := pm.GetPrinter(id)
	if err != nil {
		return err
	}
	return pm.client(p).RemoveCurrentJob(ctx)
}

func (pm *PrinterManager) IncrementJobs(id int64, count int) error {
	pm.mu.Lock()
	if p, exists := pm.printers[id]; exists {
		p.TotalJobs += int64(count)
	}
	pm.mu.Unlock()

	return pm.store.IncrementJobs(context.Background(), id, count)
}

func (pm *PrinterManager) updatePrinterStatus(id int64, status string) {
	pm.mu.Lock()
	p, exists := pm.printers[id]
	if !exists {
		pm.mu.Unlock()
		return
	}

	oldStatus := p.Status
	p.Status = status
	now := time.Now()
	p.LastSeenAt = &now
	name := p.Name
	pm.mu.Unlock()

	_ = pm.store.UpdateStatus(context.Background(), id, status)

	if oldStatus != status && pm.webhookSender != nil {
		go pm.webhookSender.SendPrinterStatusChange(id, name, oldStatus, status)
	}
}

func (pm *PrinterManager) CheckAllStatuses(ctx context.Context) {
	pm.mu.RLock()
	ids := make([]int64, 0, len(pm.printers))
	for id := range pm.printers {
		ids = append(ids, id)
	}
	pm.mu.RUnlock()

	for _, id := range ids {
		_, _ = pm.CheckStatus(ctx, id)
	}
}

func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	interval := 30 * time.Second
	if pm.config != nil && pm.config.HealthCheckInterval > 0 {
		interval = pm.config.HealthCheckInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.CheckAllStatuses(context.Background())

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckAllStatuses(context.Background())
		}
	}
}
