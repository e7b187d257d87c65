package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	// Amounts are up to 78 decimal digits, past DECIMAL(65,0).
	schema := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			book VARCHAR(16) NOT NULL,
			asset VARCHAR(42) NOT NULL,
			owner VARCHAR(42) NOT NULL,
			spender VARCHAR(42) NOT NULL DEFAULT '',
			amount VARCHAR(78) NOT NULL,
			updated_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (book, asset, owner, spender),
			KEY balances_owner_idx (owner)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return ensureColumn(db, "balances", "updated_at", "BIGINT NOT NULL DEFAULT 0")
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	var count int
	row := db.QueryRow(
		`SELECT COUNT(*) FROM INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?`,
		table,
		column,
	)
	if err := row.Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	_, err := db.Exec(stmt)
	return err
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Update(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	ctx, span := startDBSpan(ctx, "mysql.Update")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	wrapped := &sqlTx{tx: tx}
	if err := fn(ctx, wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("balance.writes", wrapped.writes))
	return nil
}

func (r *Repository) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	ctx, span := startDBSpan(ctx, "mysql.Get", attribute.String("balance.key", key.String()))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	amount, err := getAmount(ctx, r.db, key, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return amount, err
}

func (r *Repository) QueryBalances(ctx context.Context, filter application.BalanceQueryFilter) ([]domain.Balance, error) {
	ctx, span := startDBSpan(ctx, "mysql.QueryBalances",
		attribute.String("balance.book", string(filter.Book)),
		attribute.Int("query.limit", filter.Limit),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)

	if filter.Book != "" {
		clauses = append(clauses, "book = ?")
		args = append(args, string(filter.Book))
	}
	if filter.Owner != nil {
		clauses = append(clauses, "owner = ?")
		args = append(args, domain.FormatAddress(*filter.Owner))
	}
	if filter.Asset != nil {
		clauses = append(clauses, "asset = ?")
		args = append(args, filter.Asset.String())
	}
	if filter.NonZero {
		clauses = append(clauses, "amount <> '0'")
	}

	query := `SELECT book, asset, owner, spender, amount FROM balances`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY book ASC, asset ASC, owner ASC, spender ASC LIMIT ?"
	args = append(args, application.NormalizeLimit(filter.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var book, asset, owner, spender, amount string
		if err := rows.Scan(&book, &asset, &owner, &spender, &amount); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		balance, err := decodeBalance(book, asset, owner, spender, amount)
		if err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("balance.count", len(balances)))
	return balances, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

type sqlTx struct {
	tx     *sql.Tx
	writes int
}

// Get locks the row for the rest of the transaction.
func (t *sqlTx) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	return getAmount(ctx, t.tx, key, true)
}

func (t *sqlTx) Put(ctx context.Context, key domain.BalanceKey, amount *uint256.Int) error {
	cols := columns(key)
	_, err := t.tx.ExecContext(ctx, `INSERT INTO balances (book, asset, owner, spender, amount, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE amount = VALUES(amount), updated_at = VALUES(updated_at)`,
		cols[0], cols[1], cols[2], cols[3], amount.Dec(), time.Now().Unix(),
	)
	if err == nil {
		t.writes++
	}
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAmount(ctx context.Context, q querier, key domain.BalanceKey, forUpdate bool) (*uint256.Int, error) {
	cols := columns(key)
	query := `SELECT amount FROM balances WHERE book = ? AND asset = ? AND owner = ? AND spender = ?`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var raw string
	err := q.QueryRowContext(ctx, query, cols[0], cols[1], cols[2], cols[3]).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return uint256.FromDecimal(raw)
}

func columns(key domain.BalanceKey) [4]any {
	spender := ""
	if key.Book == domain.BookAllowance {
		spender = domain.FormatAddress(key.Spender)
	}
	return [4]any{string(key.Book), key.Asset.String(), domain.FormatAddress(key.Owner), spender}
}

func decodeBalance(book, asset, owner, spender, amount string) (domain.Balance, error) {
	raw := book + ":" + asset + ":" + owner
	if spender != "" {
		raw += ":" + spender
	}
	key, err := domain.ParseBalanceKey(raw)
	if err != nil {
		return domain.Balance{}, err
	}
	value, err := uint256.FromDecimal(amount)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("decode %s: %w", raw, err)
	}
	return domain.Balance{Key: key, Amount: value}, nil
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("fsvault/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
