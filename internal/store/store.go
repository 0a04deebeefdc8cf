// Package store provides PostgreSQL persistence for the riverboat
// delivery log: one row per Party Box plus the camper reports it
// produced.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Delivery directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Store wraps the underlying *sql.DB and provides typed query methods.
type Store struct {
	conn *sql.DB
}

// New opens a PostgreSQL connection, verifies connectivity, and brings
// the schema up to date.
func New(databaseURL string) (*Store, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	if err := ApplyMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store migrate: %w", err)
	}
	return &Store{conn: conn}, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Delivery is one logged Party Box. Task text is summarized, never
// stored verbatim, and attachment contents are not persisted at all.
type Delivery struct {
	ID               string    `json:"id"`
	Direction        string    `json:"direction"`
	Claim            string    `json:"claim"`
	TaskSummary      string    `json:"task_summary"`
	AttachmentsCount int       `json:"attachments_count"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

// InsertDelivery creates a delivery record. A zero CreatedAt is set to
// now.
func (s *Store) InsertDelivery(ctx context.Context, d Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO deliveries (id, direction, claim, task_summary, attachments_count, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.ID, d.Direction, d.Claim, d.TaskSummary, d.AttachmentsCount, d.Status, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus moves a delivery to its terminal status.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id, status string) error {
	_, err := s.conn.ExecContext(ctx,
		`UPDATE deliveries SET status = $2 WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("update delivery status: %w", err)
	}
	return nil
}

// GetDelivery retrieves a delivery by box ID. A missing row returns
// (nil, nil).
func (s *Store) GetDelivery(ctx context.Context, id string) (*Delivery, error) {
	d := &Delivery{}
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, direction, claim, task_summary, attachments_count, status, created_at
		 FROM deliveries WHERE id = $1`, id,
	).Scan(&d.ID, &d.Direction, &d.Claim, &d.TaskSummary, &d.AttachmentsCount, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ListDeliveries returns deliveries, most recent first.
func (s *Store) ListDeliveries(ctx context.Context, limit int) ([]*Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, direction, claim, task_summary, attachments_count, status, created_at
		 FROM deliveries ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]*Delivery, 0)
	for rows.Next() {
		d := &Delivery{}
		if err := rows.Scan(&d.ID, &d.Direction, &d.Claim, &d.TaskSummary, &d.AttachmentsCount, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CamperReport summarizes the aggregated response recorded for one
// delivery.
type CamperReport struct {
	ID           string    `json:"id"`
	BoxID        string    `json:"box_id"`
	Role         string    `json:"role"`
	ResponseType string    `json:"response_type"`
	Confidence   float64   `json:"confidence"`
	Blocked      bool      `json:"blocked"`
	CreatedAt    time.Time `json:"created_at"`
}

// InsertReport creates a camper report record, generating its ID when
// empty.
func (s *Store) InsertReport(ctx context.Context, r CamperReport) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO camper_reports (id, box_id, role, response_type, confidence, blocked, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.BoxID, r.Role, r.ResponseType, r.Confidence, r.Blocked, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert camper report: %w", err)
	}
	return nil
}

// ListReportsByBox returns the reports recorded for one delivery.
func (s *Store) ListReportsByBox(ctx context.Context, boxID string) ([]*CamperReport, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, box_id, role, response_type, confidence, blocked, created_at
		 FROM camper_reports WHERE box_id = $1 ORDER BY created_at`, boxID,
	)
	if err != nil {
		return nil, fmt.Errorf("list camper reports: %w", err)
	}
	defer rows.Close()

	out := make([]*CamperReport, 0)
	for rows.Next() {
		r := &CamperReport{}
		if err := rows.Scan(&r.ID, &r.BoxID, &r.Role, &r.ResponseType, &r.Confidence, &r.Blocked, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan camper report: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates delivery counts per status.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

// DeliveryStats counts deliveries grouped by status.
func (s *Store) DeliveryStats(ctx context.Context) (*Stats, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM deliveries GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("delivery stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{ByStatus: make(map[string]int64)}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan delivery stats: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	return stats, rows.Err()
}
