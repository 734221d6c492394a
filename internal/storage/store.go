package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/a-marczewski/aifred/internal/conversation"
	"github.com/a-marczewski/aifred/internal/llm"
	"github.com/a-marczewski/aifred/internal/memory"
	"github.com/a-marczewski/aifred/internal/metrics"
	"github.com/a-marczewski/aifred/internal/personality"
)

const (
	keyProfile      = "profile"
	keySessionState = "session_state"
)

// LoadHistory returns the stored conversation, oldest first.
func (db *DB) LoadHistory(ctx context.Context) ([]conversation.Entry, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT role, content, tool_calls, tool_call_id, intent, ts
		FROM history
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []conversation.Entry
	for rows.Next() {
		var (
			e          conversation.Entry
			toolCalls  sql.NullString
			toolCallID sql.NullString
			intentName sql.NullString
		)
		if err := rows.Scan(&e.Role, &e.Content, &toolCalls, &toolCallID, &intentName, &e.TS); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if toolCalls.Valid && toolCalls.String != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(toolCalls.String), &calls); err == nil {
				e.ToolCalls = calls
			}
		}
		e.ToolCallID = toolCallID.String
		e.Intent = intentName.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveHistory replaces the stored conversation.
func (db *DB) SaveHistory(ctx context.Context, entries []conversation.Entry) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM history"); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history (role, content, tool_calls, tool_call_id, intent, ts)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		var toolCalls any
		if len(e.ToolCalls) > 0 {
			b, err := json.Marshal(e.ToolCalls)
			if err != nil {
				return fmt.Errorf("failed to encode tool calls: %w", err)
			}
			toolCalls = string(b)
		}
		if _, err := stmt.ExecContext(ctx, e.Role, e.Content, toolCalls, nullable(e.ToolCallID), nullable(e.Intent), e.TS); err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}
	return tx.Commit()
}

// LoadVaultIndex returns the vault index in stored order.
func (db *DB) LoadVaultIndex(ctx context.Context) ([]memory.VaultItem, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT data FROM vault_items ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("failed to query vault items: %w", err)
	}
	defer rows.Close()

	var items []memory.VaultItem
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan vault item: %w", err)
		}
		var item memory.VaultItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SaveVaultIndex replaces the stored vault index.
func (db *DB) SaveVaultIndex(ctx context.Context, items []memory.VaultItem) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM vault_items"); err != nil {
		return fmt.Errorf("failed to clear vault items: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO vault_items (id, type, filename, score, hidden, position, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to encode vault item %s: %w", item.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			item.ID, string(item.Type), item.Filename, item.Score, item.Hidden, i,
			item.UpdatedAt.UnixMilli(), string(data),
		); err != nil {
			return fmt.Errorf("failed to insert vault item %s: %w", item.ID, err)
		}
	}
	return tx.Commit()
}

// LoadProfile returns the stored profile, or nil when none exists.
func (db *DB) LoadProfile(ctx context.Context) (*personality.Profile, error) {
	var p personality.Profile
	found, err := db.getJSON(ctx, keyProfile, &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// SaveProfile stores the profile.
func (db *DB) SaveProfile(ctx context.Context, p *personality.Profile) error {
	if p == nil {
		return db.deleteKey(ctx, keyProfile)
	}
	return db.putJSON(ctx, keyProfile, p)
}

// LoadSessionState returns the stored session state, or nil when none exists.
func (db *DB) LoadSessionState(ctx context.Context) (*conversation.SessionState, error) {
	var s conversation.SessionState
	found, err := db.getJSON(ctx, keySessionState, &s)
	if err != nil || !found {
		return nil, err
	}
	return &s, nil
}

// SaveSessionState stores the session state.
func (db *DB) SaveSessionState(ctx context.Context, s conversation.SessionState) error {
	return db.putJSON(ctx, keySessionState, s)
}

func (db *DB) getJSON(ctx context.Context, key string, v any) (bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (db *DB) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (db *DB) deleteKey(ctx context.Context, key string) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertTurnMetric records one finished turn.
func (db *DB) InsertTurnMetric(ctx context.Context, t metrics.Turn) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO turn_metrics (token, route, model, tool_rounds, outcome, error_kind, duration_ms, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(t.Token), t.Route, t.Model, t.ToolRounds, string(t.Outcome), t.ErrorKind,
		t.Duration.Milliseconds(), t.FinishedAt.UnixMilli())
	return err
}

// TurnStats aggregates the recorded turns.
type TurnStats struct {
	Total         int            `json:"total"`
	ByOutcome     map[string]int `json:"by_outcome"`
	ByRoute       map[string]int `json:"by_route"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
	AvgToolRounds float64        `json:"avg_tool_rounds"`
}

// TurnStats summarises turns finished at or after since. A zero since covers
// every turn.
func (db *DB) TurnStats(ctx context.Context, since time.Time) (TurnStats, error) {
	stats := TurnStats{ByOutcome: map[string]int{}, ByRoute: map[string]int{}}
	cutoff := int64(0)
	if !since.IsZero() {
		cutoff = since.UnixMilli()
	}

	var avgDuration, avgRounds sql.NullFloat64
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(duration_ms), AVG(tool_rounds)
		FROM turn_metrics WHERE finished_at >= ?
	`, cutoff).Scan(&stats.Total, &avgDuration, &avgRounds)
	if err != nil {
		return stats, fmt.Errorf("failed to aggregate turn metrics: %w", err)
	}
	stats.AvgDurationMs = avgDuration.Float64
	stats.AvgToolRounds = avgRounds.Float64

	if err := db.countBy(ctx, "outcome", cutoff, stats.ByOutcome); err != nil {
		return stats, err
	}
	if err := db.countBy(ctx, "route", cutoff, stats.ByRoute); err != nil {
		return stats, err
	}
	return stats, nil
}

func (db *DB) countBy(ctx context.Context, column string, cutoff int64, into map[string]int) error {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+column+", COUNT(*) FROM turn_metrics WHERE finished_at >= ? GROUP BY "+column, cutoff)
	if err != nil {
		return fmt.Errorf("failed to group turn metrics by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
