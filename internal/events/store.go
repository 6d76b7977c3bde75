package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "modernc.org/sqlite"
)

// Event types published to the storefront topic.
const (
	EventOrderCompleted = "order.completed"
	EventCartCleared    = "cart.cleared"
)

// OutboxEvent is one row awaiting publication. Payload is JSON as stored.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

// OrderCompletedPayload is the order.completed event body.
type OrderCompletedPayload struct {
	SessionID     string    `json:"session_id"`
	BuyerID       string    `json:"buyer_id"`
	TransactionID string    `json:"transaction_id"`
	TotalMinor    int64     `json:"total_minor"`
	Currency      string    `json:"currency"`
	CompletedAt   time.Time `json:"completed_at"`
}

// CartClearedPayload is the cart.cleared event body.
type CartClearedPayload struct {
	BuyerID   string    `json:"buyer_id"`
	ClearedAt time.Time `json:"cleared_at"`
}

// Store keeps the local purchase record and the outbox in one sqlite file.
// The purchase row and its order.completed event are written in the same
// transaction so a crash cannot lose the event.
type Store struct {
	db *sql.DB
}

type Config struct {
	Path          string
	MigrationsDir string
}

func NewStore(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	// sqlite serializes writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.runMigrations(cfg.MigrationsDir); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) runMigrations(dir string) error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", dir), "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordPurchase writes the purchase row and appends order.completed to the
// outbox atomically.
func (s *Store) RecordPurchase(ctx context.Context, p OrderCompletedPayload) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal order.completed payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purchase transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO purchases (session_id, buyer_id, transaction_id, total_minor, currency, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.BuyerID, p.TransactionID, p.TotalMinor, p.Currency, p.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?)`,
		p.BuyerID, EventOrderCompleted, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchase transaction: %w", err)
	}
	return nil
}

// RecordCartCleared appends the cart.cleared event for cross-device cleanup.
func (s *Store) RecordCartCleared(ctx context.Context, buyerID string, clearedAt time.Time) error {
	payload, err := json.Marshal(CartClearedPayload{BuyerID: buyerID, ClearedAt: clearedAt.UTC()})
	if err != nil {
		return fmt.Errorf("marshal cart.cleared payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?)`,
		buyerID, EventCartCleared, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

// UnprocessedEvents returns up to limit pending events, oldest first.
func (s *Store) UnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox_events
		 WHERE processed_at IS NULL
		 ORDER BY id
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkEventProcessed stamps the event so the poller will not re-publish it.
func (s *Store) MarkEventProcessed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_events SET processed_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
