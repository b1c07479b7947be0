// Package recorder keeps an audit trail of rounds and wagers.
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/betbot/dicebot/internal/domain"
)

// Recorder 审计接口；实现必须可以并发调用
type Recorder interface {
	RecordRound(ctx context.Context, sessionID string, o domain.Outcome) error
	RecordWager(ctx context.Context, sessionID string, w domain.Wager) error
	SettleWager(ctx context.Context, wagerID string, won bool, settledAt time.Time) error
	Close() error
}

// Noop 不记录
type Noop struct{}

func (Noop) RecordRound(context.Context, string, domain.Outcome) error  { return nil }
func (Noop) RecordWager(context.Context, string, domain.Wager) error    { return nil }
func (Noop) SettleWager(context.Context, string, bool, time.Time) error { return nil }
func (Noop) Close() error                                               { return nil }

// SQLite 基于 modernc.org/sqlite 的实现
type SQLite struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. ":memory:" is allowed.
func Open(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS rounds (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  round_id TEXT,
  dice TEXT NOT NULL,
  total INTEGER NOT NULL,
  labels TEXT NOT NULL,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_session_ts ON rounds(session_id, ts DESC);`,
		`
CREATE TABLE IF NOT EXISTS wagers (
  id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL,
  round_id TEXT,
  target TEXT NOT NULL,
  amount INTEGER NOT NULL,
  rule_name TEXT,
  placed_at TEXT NOT NULL,
  won INTEGER,
  settled_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_wagers_session ON wagers(session_id, placed_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLite) RecordRound(ctx context.Context, sessionID string, o domain.Outcome) error {
	dice := make([]string, len(o.Dice))
	for i, d := range o.Dice {
		dice[i] = strconv.Itoa(d)
	}
	labels, err := json.Marshal(o.Labels)
	if err != nil {
		return err
	}
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO rounds (session_id, round_id, dice, total, labels, ts)
VALUES (?,?,?,?,?,?)
`, sessionID, o.RoundID, strings.Join(dice, ","), o.Sum, string(labels), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (s *SQLite) RecordWager(ctx context.Context, sessionID string, w domain.Wager) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO wagers (id, session_id, round_id, target, amount, rule_name, placed_at)
VALUES (?,?,?,?,?,?,?)
`, w.ID, sessionID, w.RoundID, string(w.Target), int64(w.Amount), w.RuleName, w.PlacedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert wager: %w", err)
	}
	return nil
}

func (s *SQLite) SettleWager(ctx context.Context, wagerID string, won bool, settledAt time.Time) error {
	v := 0
	if won {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE wagers SET won=?, settled_at=? WHERE id=?
`, v, settledAt.UTC().Format(time.RFC3339Nano), wagerID)
	if err != nil {
		return fmt.Errorf("settle wager: %w", err)
	}
	return nil
}

// Summary 某个会话的下注统计
type Summary struct {
	Rounds int          `json:"rounds"`
	Wagers int          `json:"wagers"`
	Won    int          `json:"won"`
	Lost   int          `json:"lost"`
	Staked domain.Money `json:"staked"`
}

func (s *SQLite) Summary(ctx context.Context, sessionID string) (Summary, error) {
	var sum Summary
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rounds WHERE session_id=?`, sessionID).Scan(&sum.Rounds); err != nil {
		return sum, err
	}
	var won, lost sql.NullInt64
	var staked int64
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(amount), 0), SUM(CASE WHEN won=1 THEN 1 ELSE 0 END), SUM(CASE WHEN won=0 THEN 1 ELSE 0 END)
FROM wagers
WHERE session_id=?
`, sessionID)
	if err := row.Scan(&sum.Wagers, &staked, &won, &lost); err != nil {
		return sum, err
	}
	sum.Staked = domain.Money(staked)
	sum.Won = int(won.Int64)
	sum.Lost = int(lost.Int64)
	return sum, nil
}

func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
