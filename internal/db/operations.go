package db

import (
	"context"
	"database/sql"
	"fmt"
)

// PrinterStore wraps the printer table. Stores hold the shared database
// handle so callers are not tied to package state.
type PrinterStore struct {
	db *sql.DB
}

func NewPrinterStore(database *sql.DB) *PrinterStore {
	return &PrinterStore{db: database}
}

func (s *PrinterStore) Create(ctx context.Context, p *Printer) error {
	result, err := s.db.ExecContext(ctx, InsertPrinter,
		p.Name, p.Host, p.Port, p.QueueName, p.Username, p.Status)
	if err != nil {
		return fmt.Errorf("failed to create printer: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get printer id: %w", err)
	}
	p.ID = id
	return nil
}

func (s *PrinterStore) scanPrinter(row interface{ Scan(...any) error }) (*Printer, error) {
	p := &Printer{}
	var lastSeen sql.NullTime
	err := row.Scan(
		&p.ID, &p.Name, &p.Host, &p.Port, &p.QueueName, &p.Username,
		&p.Status, &lastSeen, &p.TotalJobs, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		p.LastSeenAt = &lastSeen.Time
	}
	return p, nil
}

func (s *PrinterStore) GetByID(ctx context.Context, id int64) (*Printer, error) {
	p, err := s.scanPrinter(s.db.QueryRowContext(ctx, GetPrinterByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer: %w", err)
	}
	return p, nil
}

func (s *PrinterStore) GetByName(ctx context.Context, name string) (*Printer, error) {
	p, err := s.scanPrinter(s.db.QueryRowContext(ctx, GetPrinterByName, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get printer by name: %w", err)
	}
	return p, nil
}

func (s *PrinterStore) List(ctx context.Context) ([]*Printer, error) {
	rows, err := s.db.QueryContext(ctx, ListPrinters)
	if err != nil {
		return nil, fmt.Errorf("failed to list printers: %w", err)
	}
	defer rows.Close()

	var printers []*Printer
	for rows.Next() {
		p, err := s.scanPrinter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan printer: %w", err)
		}
		printers = append(printers, p)
	}
	return printers, rows.Err()
}

func (s *PrinterStore) Update(ctx context.Context, p *Printer) error {
	_, err := s.db.ExecContext(ctx, UpdatePrinter,
		p.Name, p.Host, p.Port, p.QueueName, p.Username, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update printer: %w", err)
	}
	return nil
}

func (s *PrinterStore) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx, UpdatePrinterStatus, status, id)
	if err != nil {
		return fmt.Errorf("failed to update printer status: %w", err)
	}
	return nil
}

func (s *PrinterStore) IncrementJobs(ctx context.Context, id int64, count int) error {
	_, err := s.db.ExecContext(ctx, IncrementPrinterJobs, count, id)
	if err != nil {
		return fmt.Errorf("failed to increment printer jobs: %w", err)
	}
	return nil
}

func (s *PrinterStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, DeletePrinter, id)
	if err != nil {
		return fmt.Errorf("failed to delete printer: %w", err)
	}
	return nil
}

type WebhookStore struct {
	db *sql.DB
}

func NewWebhookStore(database *sql.DB) *WebhookStore {
	return &WebhookStore{db: database}
}

func (s *WebhookStore) scanWebhook(row interface{ Scan(...any) error }) (*Webhook, error) {
	w := &Webhook{}
	var enabled int
	err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &enabled, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Enabled = enabled == 1
	return w, nil
}

func (s *WebhookStore) Create(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	result, err := s.db.ExecContext(ctx, InsertWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (s *WebhookStore) GetByID(ctx context.Context, id int64) (*Webhook, error) {
	w, err := s.scanWebhook(s.db.QueryRowContext(ctx, GetWebhookByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (s *WebhookStore) List(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.db.QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := s.scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (s *WebhookStore) ListActiveForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := fmt.Sprintf("%%%q%%", event)
	rows, err := s.db.QueryContext(ctx, ListActiveWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks for event %s: %w", event, err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := s.scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (s *WebhookStore) Update(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, UpdateWebhook,
		w.Name, w.URL, w.Secret, w.EventsJSON, enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (s *WebhookStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(database *sql.DB) *SettingsStore {
	return &SettingsStore{db: database}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (*Setting, error) {
	setting := &Setting{}
	err := s.db.QueryRowContext(ctx, GetSetting, key).Scan(
		&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return setting, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, UpsertSetting, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}
