package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/felipepmaragno/llm-meter/billing"
)

// Postgres persists the journal in a meter_event_journal table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (j *Postgres) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO meter_event_journal (identifier, event_name, customer_id, model, token_type, value, dispatched_at, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := j.db.ExecContext(ctx, query,
		entry.Identifier,
		entry.EventName,
		entry.CustomerID,
		entry.Model,
		string(entry.TokenType),
		entry.Value,
		entry.DispatchedAt,
		entry.Status,
		entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	return nil
}

func (j *Postgres) CustomerEntries(ctx context.Context, customerID string, since time.Time) ([]Entry, error) {
	query := `
		SELECT identifier, event_name, customer_id, model, token_type, value, dispatched_at, status, error
		FROM meter_event_journal
		WHERE customer_id = $1 AND dispatched_at >= $2
		ORDER BY dispatched_at DESC
	`

	rows, err := j.db.QueryContext(ctx, query, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tokenType string
		err := rows.Scan(
			&e.Identifier,
			&e.EventName,
			&e.CustomerID,
			&e.Model,
			&tokenType,
			&e.Value,
			&e.DispatchedAt,
			&e.Status,
			&e.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.TokenType = billing.TokenType(tokenType)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (j *Postgres) CustomerTokenTotal(ctx context.Context, customerID string, tokenType billing.TokenType, since time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(value), 0)
		FROM meter_event_journal
		WHERE customer_id = $1 AND token_type = $2 AND status = 'sent' AND dispatched_at >= $3
	`

	var total int64
	err := j.db.QueryRowContext(ctx, query, customerID, string(tokenType), since).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query token total: %w", err)
	}

	return total, nil
}

func (j *Postgres) Close() error {
	return j.db.Close()
}
