package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	schemaVersionLatest  = 1
	schemaChecksumLatest = "cw-v1-2026-08-trace-ledger"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("persistence: not found")

// TraceRecord is a row in the traces table. ReasoningSteps and ToolsCalled
// are stored as JSON blobs so a trace round-trips through the store without
// loss.
type TraceRecord struct {
	TraceID        string     `json:"trace_id"`
	ConversationID string     `json:"conversation_id"`
	Query          string     `json:"query"`
	Status         string     `json:"status"`
	ReasoningSteps string     `json:"reasoning_steps"` // JSON array
	ToolsCalled    string     `json:"tools_called"`    // JSON array of tool names
	Response       string     `json:"response"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ToolCallRecord is a row in the tool_calls table, one per registry execution.
type ToolCallRecord struct {
	CallID      string    `json:"call_id"`
	TraceID     string    `json:"trace_id"`
	ToolName    string    `json:"tool_name"`
	InputParams string    `json:"input_params"` // JSON object
	Result      string    `json:"result"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	CalledAt    time.Time `json:"called_at"`
}

// ActionRecord is a row in the autonomous_actions table.
type ActionRecord struct {
	ActionID    string    `json:"action_id"`
	TraceID     string    `json:"trace_id"`
	ActionType  string    `json:"action_type"`
	Description string    `json:"description"`
	Details     string    `json:"details"` // JSON object
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// RiskPrediction is a row in the risk_predictions table.
type RiskPrediction struct {
	PredictionID string    `json:"prediction_id"`
	Target       string    `json:"target"`
	HorizonDays  int       `json:"horizon_days"`
	RiskScore    float64   `json:"risk_score"`
	Confidence   float64   `json:"confidence"`
	Factors      string    `json:"factors"` // JSON array
	CreatedAt    time.Time `json:"created_at"`
}

// Order is a row in the orders table. Orders feed the risk tools and the
// threshold rules that emit autonomous actions.
type Order struct {
	OrderID     string    `json:"order_id"`
	Supplier    string    `json:"supplier"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	ValueUSD    float64   `json:"value_usd"`
	Status      string    `json:"status"`
	RiskLevel   string    `json:"risk_level"`
	Carrier     string    `json:"carrier"`
	ETA         string    `json:"eta"`
	CreatedAt   time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func DefaultDBPath(homeDir string) string {
	return filepath.Join(homeDir, "chainwatch.db")
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("persistence: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter on top of the driver's busy_timeout.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}
	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS traces (
			trace_id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL DEFAULT '',
			query TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('STARTED', 'PROCESSING', 'COMPLETED', 'ERROR')),
			reasoning_steps TEXT NOT NULL DEFAULT '[]',
			tools_called TEXT NOT NULL DEFAULT '[]',
			response TEXT NOT NULL DEFAULT '',
			error TEXT,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			call_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL REFERENCES traces(trace_id),
			tool_name TEXT NOT NULL,
			input_params TEXT NOT NULL DEFAULT '{}',
			result TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK(status IN ('SUCCESS', 'ERROR')),
			error TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			called_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS autonomous_actions (
			action_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT '{}',
			severity TEXT NOT NULL DEFAULT 'MEDIUM',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS risk_predictions (
			prediction_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			horizon_days INTEGER NOT NULL DEFAULT 7,
			risk_score REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			factors TEXT NOT NULL DEFAULT '[]',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			supplier TEXT NOT NULL,
			origin TEXT NOT NULL DEFAULT '',
			destination TEXT NOT NULL DEFAULT '',
			value_usd REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'in_transit',
			risk_level TEXT NOT NULL DEFAULT 'low',
			carrier TEXT NOT NULL DEFAULT '',
			eta TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	indexStatements := []string{
		`CREATE INDEX IF NOT EXISTS idx_traces_conversation ON traces(conversation_id, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_traces_status ON traces(status, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_trace ON tool_calls(trace_id, called_at);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_created ON autonomous_actions(created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_type ON autonomous_actions(action_type, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_risk ON orders(risk_level, value_usd);`,
		`CREATE INDEX IF NOT EXISTS idx_orders_supplier ON orders(supplier);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}

// SaveTrace upserts a trace row. The tracer calls this on every state change
// so the stored row always reflects the in-memory trace.
func (s *Store) SaveTrace(ctx context.Context, rec TraceRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		var completedAt sql.NullTime
		if rec.CompletedAt != nil {
			completedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO traces (trace_id, conversation_id, query, status, reasoning_steps, tools_called, response, error, started_at, completed_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(trace_id) DO UPDATE SET
				status = excluded.status,
				reasoning_steps = excluded.reasoning_steps,
				tools_called = excluded.tools_called,
				response = excluded.response,
				error = excluded.error,
				completed_at = excluded.completed_at,
				updated_at = CURRENT_TIMESTAMP;
		`, rec.TraceID, rec.ConversationID, rec.Query, rec.Status, rec.ReasoningSteps, rec.ToolsCalled, rec.Response, rec.Error, rec.StartedAt.UTC(), completedAt)
		if err != nil {
			return fmt.Errorf("save trace: %w", err)
		}
		return nil
	})
}

func (s *Store) GetTrace(ctx context.Context, traceID string) (TraceRecord, error) {
	var rec TraceRecord
	var errCol sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT trace_id, conversation_id, query, status, reasoning_steps, tools_called, response, error, started_at, completed_at, updated_at
		FROM traces
		WHERE trace_id = ?;
	`, traceID).Scan(
		&rec.TraceID, &rec.ConversationID, &rec.Query, &rec.Status,
		&rec.ReasoningSteps, &rec.ToolsCalled, &rec.Response, &errCol,
		&rec.StartedAt, &completedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("get trace: %w", err)
	}
	if errCol.Valid {
		rec.Error = errCol.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}
	return rec, nil
}

func (s *Store) ListTraces(ctx context.Context, limit int) ([]TraceRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, conversation_id, query, status, reasoning_steps, tools_called, response, error, started_at, completed_at, updated_at
		FROM traces
		ORDER BY started_at DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []TraceRecord
	for rows.Next() {
		var rec TraceRecord
		var errCol sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(
			&rec.TraceID, &rec.ConversationID, &rec.Query, &rec.Status,
			&rec.ReasoningSteps, &rec.ToolsCalled, &rec.Response, &errCol,
			&rec.StartedAt, &completedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if errCol.Valid {
			rec.Error = errCol.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace rows: %w", err)
	}
	return out, nil
}

// ListTracesByConversation returns traces for one conversation, oldest first,
// so callers can replay a conversation's history in order.
func (s *Store) ListTracesByConversation(ctx context.Context, conversationID string, limit int) ([]TraceRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, conversation_id, query, status, reasoning_steps, tools_called, response, error, started_at, completed_at, updated_at
		FROM traces
		WHERE conversation_id = ?
		ORDER BY started_at ASC
		LIMIT ?;
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces by conversation: %w", err)
	}
	defer rows.Close()

	var out []TraceRecord
	for rows.Next() {
		var rec TraceRecord
		var errCol sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(
			&rec.TraceID, &rec.ConversationID, &rec.Query, &rec.Status,
			&rec.ReasoningSteps, &rec.ToolsCalled, &rec.Response, &errCol,
			&rec.StartedAt, &completedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		if errCol.Valid {
			rec.Error = errCol.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			rec.CompletedAt = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trace rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertToolCall(ctx context.Context, rec ToolCallRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tool_calls (call_id, trace_id, tool_name, input_params, result, status, error, duration_ms, called_at)
			VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?, ?);
		`, rec.CallID, rec.TraceID, rec.ToolName, rec.InputParams, rec.Result, rec.Status, rec.Error, rec.DurationMS, rec.CalledAt.UTC())
		if err != nil {
			return fmt.Errorf("insert tool call: %w", err)
		}
		return nil
	})
}

func (s *Store) ListToolCalls(ctx context.Context, traceID string) ([]ToolCallRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT call_id, trace_id, tool_name, input_params, result, status, COALESCE(error, ''), duration_ms, called_at
		FROM tool_calls
		WHERE trace_id = ?
		ORDER BY called_at ASC, call_id ASC;
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("list tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCallRecord
	for rows.Next() {
		var rec ToolCallRecord
		if err := rows.Scan(&rec.CallID, &rec.TraceID, &rec.ToolName, &rec.InputParams, &rec.Result, &rec.Status, &rec.Error, &rec.DurationMS, &rec.CalledAt); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tool call rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertAction(ctx context.Context, rec ActionRecord) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO autonomous_actions (action_id, trace_id, action_type, description, details, severity, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, rec.ActionID, rec.TraceID, rec.ActionType, rec.Description, rec.Details, rec.Severity, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert action: %w", err)
		}
		return nil
	})
}

func (s *Store) ListActions(ctx context.Context, limit int) ([]ActionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_id, trace_id, action_type, description, details, severity, created_at
		FROM autonomous_actions
		ORDER BY created_at DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRecord
	for rows.Next() {
		var rec ActionRecord
		if err := rows.Scan(&rec.ActionID, &rec.TraceID, &rec.ActionType, &rec.Description, &rec.Details, &rec.Severity, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("action rows: %w", err)
	}
	return out, nil
}

func (s *Store) InsertRiskPrediction(ctx context.Context, rec RiskPrediction) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO risk_predictions (prediction_id, target, horizon_days, risk_score, confidence, factors, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?);
		`, rec.PredictionID, rec.Target, rec.HorizonDays, rec.RiskScore, rec.Confidence, rec.Factors, rec.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("insert risk prediction: %w", err)
		}
		return nil
	})
}

func (s *Store) ListRiskPredictions(ctx context.Context, target string, limit int) ([]RiskPrediction, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows *sql.Rows
	var err error
	if target != "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT prediction_id, target, horizon_days, risk_score, confidence, factors, created_at
			FROM risk_predictions
			WHERE target = ?
			ORDER BY created_at DESC
			LIMIT ?;
		`, target, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT prediction_id, target, horizon_days, risk_score, confidence, factors, created_at
			FROM risk_predictions
			ORDER BY created_at DESC
			LIMIT ?;
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list risk predictions: %w", err)
	}
	defer rows.Close()

	var out []RiskPrediction
	for rows.Next() {
		var rec RiskPrediction
		if err := rows.Scan(&rec.PredictionID, &rec.Target, &rec.HorizonDays, &rec.RiskScore, &rec.Confidence, &rec.Factors, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan risk prediction: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("risk prediction rows: %w", err)
	}
	return out, nil
}

// UpsertOrder inserts or replaces an order row.
func (s *Store) UpsertOrder(ctx context.Context, o Order) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO orders (order_id, supplier, origin, destination, value_usd, status, risk_level, carrier, eta, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(order_id) DO UPDATE SET
				supplier = excluded.supplier,
				origin = excluded.origin,
				destination = excluded.destination,
				value_usd = excluded.value_usd,
				status = excluded.status,
				risk_level = excluded.risk_level,
				carrier = excluded.carrier,
				eta = excluded.eta;
		`, o.OrderID, o.Supplier, o.Origin, o.Destination, o.ValueUSD, o.Status, o.RiskLevel, o.Carrier, o.ETA)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}
		return nil
	})
}

// OrderFilter narrows ListOrders. Zero values mean "no constraint".
type OrderFilter struct {
	Supplier    string
	RiskLevels  []string
	MinValueUSD float64
}

func (s *Store) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	query := `
		SELECT order_id, supplier, origin, destination, value_usd, status, risk_level, carrier, eta, created_at
		FROM orders
		WHERE 1=1`
	var args []any
	if filter.Supplier != "" {
		query += ` AND supplier = ?`
		args = append(args, filter.Supplier)
	}
	if len(filter.RiskLevels) > 0 {
		query += ` AND risk_level IN (?` + strings.Repeat(",?", len(filter.RiskLevels)-1) + `)`
		for _, lvl := range filter.RiskLevels {
			args = append(args, lvl)
		}
	}
	if filter.MinValueUSD > 0 {
		query += ` AND value_usd >= ?`
		args = append(args, filter.MinValueUSD)
	}
	query += ` ORDER BY value_usd DESC;`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.OrderID, &o.Supplier, &o.Origin, &o.Destination, &o.ValueUSD, &o.Status, &o.RiskLevel, &o.Carrier, &o.ETA, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order rows: %w", err)
	}
	return out, nil
}

// CountOrders returns the number of orders matching the filter.
func (s *Store) CountOrders(ctx context.Context, filter OrderFilter) (int, error) {
	orders, err := s.ListOrders(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(orders), nil
}

// SeedOrders loads demo orders when the table is empty, so the risk tools
// have data out of the box.
func (s *Store) SeedOrders(ctx context.Context, orders []Order) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders;`).Scan(&count); err != nil {
		return fmt.Errorf("count orders: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, o := range orders {
		if err := s.UpsertOrder(ctx, o); err != nil {
			return err
		}
	}
	return nil
}
