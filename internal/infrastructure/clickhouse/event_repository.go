package clickhouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// EventRepository archives committed ledger events for history queries.
type EventRepository struct {
	db   *sql.DB
	conn clickhouse.Conn
}

func NewRepository(dsn string) (*EventRepository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, err
	}
	db := clickhouse.OpenDB(options)
	if err := db.Ping(); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return &EventRepository{db: db, conn: conn}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS vault_events (
		call_id UUID,
		sequence UInt32,
		type LowCardinality(String),
		asset String,
		from_addr String,
		to_addr String,
		amount UInt256,
		ts DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree
	PARTITION BY toYYYYMM(ts)
	ORDER BY (call_id, sequence)`)
	return err
}

func (r *EventRepository) Close() error {
	_ = r.conn.Close()
	return r.db.Close()
}

// StoreEvents is idempotent per (call_id, sequence) once parts merge.
func (r *EventRepository) StoreEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := r.conn.PrepareBatch(ctx, `INSERT INTO vault_events (call_id, sequence, type, asset, from_addr, to_addr, amount, ts)`)
	if err != nil {
		return err
	}

	for _, event := range events {
		amount := new(uint256.Int)
		if event.Amount != nil {
			amount = event.Amount
		}
		if err := batch.Append(
			event.CallID,
			uint32(event.Sequence),
			string(event.Type),
			event.Asset.String(),
			formatOptional(event.From),
			formatOptional(event.To),
			amount.ToBig(),
			event.Timestamp.UTC(),
		); err != nil {
			return err
		}
	}
	return batch.Send()
}

func (r *EventRepository) QueryEvents(ctx context.Context, filter application.EventQueryFilter) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
	args := make([]any, 0, 5)

	if filter.Account != nil {
		account := domain.FormatAddress(*filter.Account)
		clauses = append(clauses, "(from_addr = ? OR to_addr = ?)")
		args = append(args, account, account)
	}
	if filter.Asset != nil {
		clauses = append(clauses, "asset = ?")
		args = append(args, filter.Asset.String())
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT toString(call_id), sequence, type, asset, from_addr, to_addr, toString(amount), ts FROM vault_events FINAL`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY ts DESC, call_id ASC, sequence ASC LIMIT ?"
	args = append(args, application.NormalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			row      eventRow
			sequence uint32
		)
		if err := rows.Scan(&row.callID, &sequence, &row.kind, &row.asset, &row.from, &row.to, &row.amount, &row.ts); err != nil {
			return nil, err
		}
		row.sequence = int(sequence)
		event, err := row.event()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *EventRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

type eventRow struct {
	callID   string
	sequence int
	kind     string
	asset    string
	from     string
	to       string
	amount   string
	ts       time.Time
}

func (row eventRow) event() (domain.Event, error) {
	callID, err := uuid.Parse(row.callID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("call_id: %w", err)
	}
	asset, err := domain.ParseAsset(row.asset)
	if err != nil {
		return domain.Event{}, err
	}
	amount, err := uint256.FromDecimal(row.amount)
	if err != nil {
		return domain.Event{}, fmt.Errorf("amount: %w", err)
	}
	event := domain.Event{
		Type:      domain.EventType(row.kind),
		Asset:     asset,
		Amount:    amount,
		CallID:    callID,
		Sequence:  row.sequence,
		Timestamp: row.ts.UTC(),
	}
	if row.from != "" {
		if event.From, err = domain.ParseAddress(row.from); err != nil {
			return domain.Event{}, err
		}
	}
	if row.to != "" {
		if event.To, err = domain.ParseAddress(row.to); err != nil {
			return domain.Event{}, err
		}
	}
	return event, nil
}
