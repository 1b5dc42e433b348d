package db

const (
	InsertPrinter = `
		INSERT INTO printers (name, host, port, queue_name, username, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetPrinterByID = `
		SELECT id, name, host, port, queue_name, username, status, last_seen_at, total_jobs, created_at, updated_at
		FROM printers WHERE id = ?
	`

	GetPrinterByName = `
		SELECT id, name, host, port, queue_name, username, status, last_seen_at, total_jobs, created_at, updated_at
		FROM printers WHERE name = ?
	`

	ListPrinters = `
		SELECT id, name, host, port, queue_name, username, status, last_seen_at, total_jobs, created_at, updated_at
		FROM printers ORDER BY name ASC
	`

	UpdatePrinter = `
		UPDATE printers SET
			name = ?, host = ?, port = ?, queue_name = ?, username = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdatePrinterStatus = `
		UPDATE printers SET status = ?, last_seen_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	IncrementPrinterJobs = `
		UPDATE printers SET total_jobs = total_jobs + ? WHERE id = ?
	`

	DeletePrinter = `DELETE FROM printers WHERE id = ?`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY id ASC
	`

	ListActiveWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ?
		WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSetting = `SELECT key, value, updated_at FROM settings WHERE key = ?`

	UpsertSetting = `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)
