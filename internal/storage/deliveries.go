package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/barnacles-webhook/internal/forward"
	"github.com/mattjoyce/barnacles-webhook/internal/log"
)

// Delivery statuses stored in delivery_log.status.
const (
	StatusSent      = "sent"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// recordTimeout bounds each write issued from a delivery goroutine.
const recordTimeout = 5 * time.Second

// DeliveryRecord is one row of delivery_log.
type DeliveryRecord struct {
	ID          string     `json:"id"`
	EventType   string     `json:"event_type"`
	URL         string     `json:"url"`
	BodySize    int        `json:"body_size"`
	Status      string     `json:"status"`
	StatusCode  int        `json:"status_code,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	Target      string     `json:"target,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	DurationMS  int64      `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DeliveryLog persists delivery outcomes. It implements forward.Recorder;
// write failures are logged and never reach the dispatch path.
type DeliveryLog struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDeliveryLog wraps an open database.
func NewDeliveryLog(db *sql.DB) *DeliveryLog {
	return &DeliveryLog{db: db, logger: log.WithComponent("delivery_log")}
}

// DeliverySent implements forward.Recorder.
func (l *DeliveryLog) DeliverySent(d *forward.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := l.Insert(ctx, d); err != nil {
		l.logger.Warn("failed to record delivery", "delivery_id", d.ID, "error", err)
	}
}

// DeliveryCompleted implements forward.Recorder.
func (l *DeliveryLog) DeliveryCompleted(d *forward.Delivery, o forward.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := l.Complete(ctx, d.ID, o); err != nil {
		l.logger.Warn("failed to record delivery outcome", "delivery_id", d.ID, "error", err)
	}
}

// Insert stores a newly sent delivery.
func (l *DeliveryLog) Insert(ctx context.Context, d *forward.Delivery) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO delivery_log(id, event_type, url, body_size, status, created_at)
VALUES(?, ?, ?, ?, ?, ?);`,
		d.ID, d.Type.String(), d.URL, d.BodySize, StatusSent, d.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// Complete records the outcome of a delivery.
func (l *DeliveryLog) Complete(ctx context.Context, id string, o forward.Outcome) error {
	status := StatusCompleted
	var statusCode, errCode, lastErr any
	if o.Failed() {
		status = StatusFailed
		errCode = o.Code
		lastErr = o.Err.Error()
	} else {
		statusCode = o.StatusCode
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE delivery_log
SET status = ?, status_code = ?, error_code = ?, target = ?, last_error = ?, duration_ms = ?, completed_at = ?
WHERE id = ?;`,
		status, statusCode, errCode, o.Target, lastErr, o.Duration.Milliseconds(),
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete delivery rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("delivery %q not found", id)
	}
	return nil
}

// Recent returns up to limit deliveries, newest first.
func (l *DeliveryLog) Recent(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, event_type, url, body_size, status, status_code, error_code, target, last_error, duration_ms, created_at, completed_at
FROM delivery_log
ORDER BY created_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var (
			rec                                 DeliveryRecord
			statusCode, durationMS              sql.NullInt64
			errCode, target, lastErr, completed sql.NullString
			created                             string
		)
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.URL, &rec.BodySize, &rec.Status,
			&statusCode, &errCode, &target, &lastErr, &durationMS, &created, &completed); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		rec.StatusCode = int(statusCode.Int64)
		rec.DurationMS = durationMS.Int64
		rec.ErrorCode = errCode.String
		rec.Target = target.String
		rec.LastError = lastErr.String
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if completed.Valid {
			ts, err := time.Parse(timeLayout, completed.String)
			if err != nil {
				return nil, fmt.Errorf("parse completed_at: %w", err)
			}
			rec.CompletedAt = &ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes deliveries created before now-retention.
func (l *DeliveryLog) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(timeLayout)
	res, err := l.db.ExecContext(ctx, `DELETE FROM delivery_log WHERE created_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	return res.RowsAffected()
}
