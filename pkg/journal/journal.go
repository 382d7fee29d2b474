// Package journal keeps a local sqlite log of the operations a console sent
// to the admin server, with their outcome.
package journal

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"gate-console/pkg/model"
)

// Op is one journaled operation.
type Op struct {
	Action   string    `json:"action"` // create, update, delete
	Target   string    `json:"target"` // key of the rule as sent
	RuleHash string    `json:"ruleHash,omitempty"`
	Outcome  string    `json:"outcome"` // ok or the error message
	Time     time.Time `json:"time"`
}

type Journal struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS console_ops(action TEXT, target TEXT, rule_hash TEXT, outcome TEXT, ts INTEGER);
CREATE INDEX IF NOT EXISTS idx_console_ops_target ON console_ops(target);`

// Open creates the database file (and its directory) when missing.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal mkdir: %w", err)
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// HashRule produces a stable hash of a rule's content.
func HashRule(r model.RouteRule) string {
	b, _ := json.Marshal(r)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func (j *Journal) Record(ctx context.Context, op Op) error {
	if op.Time.IsZero() {
		op.Time = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `INSERT INTO console_ops(action, target, rule_hash, outcome, ts) VALUES(?,?,?,?,?)`,
		op.Action, op.Target, op.RuleHash, op.Outcome, op.Time.UnixNano())
	return err
}

// List returns the newest limit ops, newest first. limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]Op, error) {
	q := `SELECT action, target, rule_hash, outcome, ts FROM console_ops ORDER BY ts DESC, rowid DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Op
	for rows.Next() {
		var op Op
		var ts int64
		if err := rows.Scan(&op.Action, &op.Target, &op.RuleHash, &op.Outcome, &ts); err != nil {
			return nil, err
		}
		op.Time = time.Unix(0, ts)
		out = append(out, op)
	}
	return out, rows.Err()
}

// History returns every op recorded against the rule key names, oldest
// first. Without an ID in key, ops recorded under any ID of that method and
// url match too.
func (j *Journal) History(ctx context.Context, key model.Key) ([]Op, error) {
	bare := model.Key{Method: key.Method, URL: key.URL}.String()
	prefix := key.String()
	if key.ID == "" {
		prefix = bare + " ("
	}
	rows, err := j.db.QueryContext(ctx, `SELECT action, target, rule_hash, outcome, ts FROM console_ops
		WHERE target IN (?, ?) OR instr(target, ?) = 1 ORDER BY ts, rowid`, key.String(), bare, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Op
	for rows.Next() {
		var op Op
		var ts int64
		if err := rows.Scan(&op.Action, &op.Target, &op.RuleHash, &op.Outcome, &ts); err != nil {
			return nil, err
		}
		op.Time = time.Unix(0, ts)
		out = append(out, op)
	}
	return out, rows.Err()
}
