// Package sqlite is the durable position record store. One row per position,
// money columns stored as decimal strings so nothing is ever rounded on the
// way in or out.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"exit-systemv1/internal/model"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/positions.db"
}

// Store implements model.PositionStore on a single SQLite file.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database, enables WAL mode and creates the schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS positions (
			order_ref       TEXT PRIMARY KEY,
			instrument      TEXT NOT NULL,
			direction       TEXT NOT NULL,
			qty             INTEGER NOT NULL,
			entry_price     TEXT NOT NULL,
			avg_fill_price  TEXT NOT NULL,
			exit_price      TEXT NOT NULL,
			pnl             TEXT NOT NULL,
			pnl_pct         TEXT NOT NULL,
			high_water_mark TEXT NOT NULL,
			initial_risk    TEXT NOT NULL,
			status          TEXT NOT NULL,
			trade_state     TEXT NOT NULL,
			meta            TEXT NOT NULL,
			entered_at      INTEGER NOT NULL,
			exited_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
	`)
	return err
}

const positionColumns = `order_ref, instrument, direction, qty, entry_price, avg_fill_price,
	exit_price, pnl, pnl_pct, high_water_mark, initial_risk, status, trade_state,
	meta, entered_at, exited_at`

// ActivePositions returns every position with status ACTIVE.
func (s *Store) ActivePositions(ctx context.Context) ([]*model.Position, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE status = ? ORDER BY entered_at ASC`,
		string(model.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("sqlite query active positions: %w", err)
	}
	defer rows.Close()

	var out []*model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get returns a position by order reference, or nil, nil when absent.
func (s *Store) Get(ctx context.Context, orderRef string) (*model.Position, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE order_ref = ?`, orderRef)
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// Save inserts or replaces a position record.
func (s *Store) Save(ctx context.Context, p *model.Position) error {
	return s.upsert(ctx, p)
}

// Update persists the current state of a single position row.
func (s *Store) Update(ctx context.Context, p *model.Position) error {
	return s.upsert(ctx, p)
}

func (s *Store) upsert(ctx context.Context, p *model.Position) error {
	inst, err := json.Marshal(p.Instrument)
	if err != nil {
		return fmt.Errorf("sqlite marshal instrument %s: %w", p.OrderRef, err)
	}
	meta := p.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("sqlite marshal meta %s: %w", p.OrderRef, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (`+positionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.OrderRef, string(inst), string(p.Direction), p.Qty,
		p.EntryPrice.String(), p.AvgFillPrice.String(), p.ExitPrice.String(),
		p.PnL.String(), p.PnLPct.String(), p.HighWaterMark.String(),
		p.InitialRisk.String(), string(p.Status), string(p.TradeState),
		string(metaJSON), unixOrZero(p.EnteredAt), unixOrZero(p.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert position %s: %w", p.OrderRef, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var (
		p                        model.Position
		instJSON, metaJSON       string
		direction, status, state string
		entry, fill, exit        string
		pnl, pnlPct, hwm, risk   string
		enteredAt, exitedAt      int64
	)
	err := row.Scan(&p.OrderRef, &instJSON, &direction, &p.Qty, &entry, &fill,
		&exit, &pnl, &pnlPct, &hwm, &risk, &status, &state,
		&metaJSON, &enteredAt, &exitedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(instJSON), &p.Instrument); err != nil {
		return nil, fmt.Errorf("sqlite unmarshal instrument %s: %w", p.OrderRef, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &p.Meta); err != nil {
		return nil, fmt.Errorf("sqlite unmarshal meta %s: %w", p.OrderRef, err)
	}

	p.Direction = model.Direction(direction)
	p.Status = model.Status(status)
	p.TradeState = model.TradeState(state)

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
		col string
	}{
		{&p.EntryPrice, entry, "entry_price"},
		{&p.AvgFillPrice, fill, "avg_fill_price"},
		{&p.ExitPrice, exit, "exit_price"},
		{&p.PnL, pnl, "pnl"},
		{&p.PnLPct, pnlPct, "pnl_pct"},
		{&p.HighWaterMark, hwm, "high_water_mark"},
		{&p.InitialRisk, risk, "initial_risk"},
	} {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return nil, fmt.Errorf("sqlite position %s: bad %s %q: %w", p.OrderRef, f.col, f.src, err)
		}
		*f.dst = d
	}

	if enteredAt > 0 {
		p.EnteredAt = time.Unix(enteredAt, 0).UTC()
	}
	if exitedAt > 0 {
		p.ExitedAt = time.Unix(exitedAt, 0).UTC()
	}
	return &p, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
