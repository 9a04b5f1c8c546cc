package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"

	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax for a SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLVault implements Store using database/sql.
// It supports both Postgres and SQLite via standard drivers.
type SQLVault struct {
	db      *sql.DB
	dialect Dialect
	clock   func() time.Time
}

func NewSQLVault(db *sql.DB, dialect Dialect) *SQLVault {
	return &SQLVault{db: db, dialect: dialect, clock: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
	id TEXT PRIMARY KEY,
	intent TEXT NOT NULL,
	body TEXT NOT NULL,
	recorded_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS ledger_records (
	tx_id TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	issuer_name TEXT NOT NULL,
	issuer_key TEXT NOT NULL,
	owner_name TEXT NOT NULL,
	owner_key TEXT NOT NULL,
	amount DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL,
	PRIMARY KEY (tx_id, output_index)
)`,
	`CREATE TABLE IF NOT EXISTS ledger_spent (
	tx_id TEXT NOT NULL,
	output_index INTEGER NOT NULL,
	spent_by TEXT NOT NULL,
	PRIMARY KEY (tx_id, output_index)
)`,
}

// Init creates the vault tables if they do not exist.
func (s *SQLVault) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("vault migrate: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLVault) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const recordColumns = `r.tx_id, r.output_index, r.issuer_name, r.issuer_key, r.owner_name, r.owner_key, r.amount, r.currency`

func (s *SQLVault) Find(ctx context.Context, ref contracts.Ref) (contracts.StateAndRef, error) {
	query := s.rebind(`SELECT ` + recordColumns + ` FROM ledger_records r WHERE r.tx_id = ? AND r.output_index = ?`)
	st, err := scanState(s.db.QueryRowContext(ctx, query, ref.TxID, ref.Index))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.StateAndRef{}, fmt.Errorf("record %s: %w", ref, ErrNotFound)
		}
		return contracts.StateAndRef{}, fmt.Errorf("find record %s: %w", ref, err)
	}
	return st, nil
}

func (s *SQLVault) IsSpent(ctx context.Context, ref contracts.Ref) (bool, error) {
	query := s.rebind(`SELECT COUNT(*) FROM ledger_spent WHERE tx_id = ? AND output_index = ?`)
	var n int
	if err := s.db.QueryRowContext(ctx, query, ref.TxID, ref.Index).Scan(&n); err != nil {
		return false, fmt.Errorf("is spent %s: %w", ref, err)
	}
	return n > 0, nil
}

// RecordFinalized writes the transition, its spent inputs and its outputs in
// one database transaction. The transaction row's primary key makes a second
// delivery of the same transition a no-op.
func (s *SQLVault) RecordFinalized(ctx context.Context, stx contracts.SignedTransition) (err error) {
	if stx.Tx.ID == "" {
		return fmt.Errorf("record finalized: transition has no id")
	}
	body, err := json.Marshal(stx)
	if err != nil {
		return fmt.Errorf("record finalized: encode: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record finalized: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO ledger_transactions (id, intent, body, recorded_at) VALUES (?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
		stx.Tx.ID, string(stx.Tx.Intent), string(body), s.clock().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record finalized: insert transaction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		// Already recorded.
		return tx.Rollback()
	}

	for _, ref := range stx.Tx.InputRefs() {
		if _, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO ledger_spent (tx_id, output_index, spent_by) VALUES (?, ?, ?) ON CONFLICT (tx_id, output_index) DO NOTHING`),
			ref.TxID, ref.Index, stx.Tx.ID,
		); err != nil {
			return fmt.Errorf("record finalized: mark %s spent: %w", ref, err)
		}
	}
	for _, out := range stx.Tx.OutputStates() {
		r := out.Record
		if _, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO ledger_records (tx_id, output_index, issuer_name, issuer_key, owner_name, owner_key, amount, currency) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT (tx_id, output_index) DO NOTHING`),
			out.Ref.TxID, out.Ref.Index, r.Issuer.Name, r.Issuer.PublicKey, r.Owner.Name, r.Owner.PublicKey, r.Amount, string(r.Currency),
		); err != nil {
			return fmt.Errorf("record finalized: insert output %s: %w", out.Ref, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("record finalized: commit: %w", err)
	}
	return nil
}

func (s *SQLVault) Transaction(ctx context.Context, id string) (contracts.SignedTransition, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM ledger_transactions WHERE id = ?`), id).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.SignedTransition{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return contracts.SignedTransition{}, fmt.Errorf("load transaction %s: %w", id, err)
	}
	var stx contracts.SignedTransition
	if err := json.Unmarshal([]byte(body), &stx); err != nil {
		return contracts.SignedTransition{}, fmt.Errorf("decode transaction %s: %w", id, err)
	}
	return stx, nil
}

func (s *SQLVault) Unconsumed(ctx context.Context, owner contracts.Party) ([]contracts.StateAndRef, error) {
	query := s.rebind(`SELECT ` + recordColumns + ` FROM ledger_records r
		LEFT JOIN ledger_spent sp ON sp.tx_id = r.tx_id AND sp.output_index = r.output_index
		WHERE sp.tx_id IS NULL AND r.owner_name = ? AND r.owner_key = ?
		ORDER BY r.tx_id, r.output_index`)
	rows, err := s.db.QueryContext(ctx, query, owner.Name, owner.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("unconsumed for %s: %w", owner, err)
	}
	defer func() { _ = rows.Close() }()

	var out []contracts.StateAndRef
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (contracts.StateAndRef, error) {
	var (
		st       contracts.StateAndRef
		currency string
	)
	err := row.Scan(
		&st.Ref.TxID, &st.Ref.Index,
		&st.Record.Issuer.Name, &st.Record.Issuer.PublicKey,
		&st.Record.Owner.Name, &st.Record.Owner.PublicKey,
		&st.Record.Amount, &currency,
	)
	if err != nil {
		return contracts.StateAndRef{}, err
	}
	st.Record.Currency = contracts.Currency(currency)
	return st, nil
}
