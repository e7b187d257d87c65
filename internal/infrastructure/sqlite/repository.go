package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fsvault/internal/application"
	"fsvault/internal/domain"

	"github.com/holiman/uint256"
	_ "modernc.org/sqlite"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			book TEXT NOT NULL,
			asset TEXT NOT NULL,
			owner TEXT NOT NULL,
			spender TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (book, asset, owner, spender)
		)`,
		`CREATE INDEX IF NOT EXISTS balances_owner_idx ON balances (owner)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) Update(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, &sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (r *Repository) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return getAmount(ctx, r.db, key)
}

func (r *Repository) QueryBalances(ctx context.Context, filter application.BalanceQueryFilter) ([]domain.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	clauses := make([]string, 0, 3)
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
		return nil, err
	}
	defer rows.Close()

	var balances []domain.Balance
	for rows.Next() {
		var book, asset, owner, spender, amount string
		if err := rows.Scan(&book, &asset, &owner, &spender, &amount); err != nil {
			return nil, err
		}
		balance, err := decodeBalance(book, asset, owner, spender, amount)
		if err != nil {
			return nil, err
		}
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Get(ctx context.Context, key domain.BalanceKey) (*uint256.Int, error) {
	return getAmount(ctx, t.tx, key)
}

func (t *sqlTx) Put(ctx context.Context, key domain.BalanceKey, amount *uint256.Int) error {
	cols := columns(key)
	_, err := t.tx.ExecContext(ctx, `INSERT INTO balances (book, asset, owner, spender, amount, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(book, asset, owner, spender) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		cols[0], cols[1], cols[2], cols[3], amount.Dec(), time.Now().Unix(),
	)
	return err
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAmount(ctx context.Context, q querier, key domain.BalanceKey) (*uint256.Int, error) {
	cols := columns(key)
	var raw string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE book = ? AND asset = ? AND owner = ? AND spender = ?`,
		cols[0], cols[1], cols[2], cols[3],
	).Scan(&raw)
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
