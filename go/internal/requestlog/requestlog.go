// Package requestlog records every HTTP request to a SQLite table.
package requestlog

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver

	"github.com/mcdev12/livecontrol/go/internal/sqlutil"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS requests (
	count          INTEGER PRIMARY KEY AUTOINCREMENT,
	received_ts_ns INTEGER NOT NULL,
	elapsed_ns     INTEGER NOT NULL,
	method         TEXT    NOT NULL,
	url            TEXT    NOT NULL,
	headers        TEXT    NOT NULL DEFAULT '',
	client         TEXT    NOT NULL DEFAULT '',
	status         INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS requests_received ON requests (received_ts_ns)`,
}

// Headers that never reach the log.
var redacted = map[string]bool{
	"Authorization": true,
	"Cookie":        true,
}

// Record is one logged request.
type Record struct {
	ID       int64
	Received time.Time
	Elapsed  time.Duration
	Method   string
	URL      string
	Headers  http.Header
	Client   string
	Status   int
}

type Logger struct {
	db *sql.DB
}

// Open creates or opens the database at path. Use ":memory:" in tests.
func Open(path string) (*Logger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db for request log: %w", err)
	}
	// A second pooled connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	if err := sqlutil.ExecAll(context.Background(), db, schema...); err != nil {
		db.Close()
		return nil, fmt.Errorf("run request log schema: %w", err)
	}
	return &Logger{db: db}, nil
}

func (l *Logger) Close() error {
	return l.db.Close()
}

// Insert stores rec.
func (l *Logger) Insert(ctx context.Context, rec Record) error {
	headers, err := json.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}

	const q = `
		INSERT INTO requests (received_ts_ns, elapsed_ns, method, url, headers, client, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = l.db.ExecContext(ctx, q,
		rec.Received.UnixNano(),
		rec.Elapsed.Nanoseconds(),
		rec.Method,
		rec.URL,
		string(headers),
		rec.Client,
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Prune deletes every record except the newest keep and returns how many
// were removed.
func (l *Logger) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	var removed int64
	err := sqlutil.Run(ctx, l.db, func(tx *sql.Tx) error {
		var cutoff sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT count FROM requests ORDER BY count DESC LIMIT 1 OFFSET ?`, keep).Scan(&cutoff)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM requests WHERE count <= ?`, cutoff.Int64)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune requests: %w", err)
	}
	return removed, nil
}

// Recent returns up to limit records, newest first.
func (l *Logger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT count, received_ts_ns, elapsed_ns, method, url, headers, client, status
		FROM requests ORDER BY count DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec      Record
			received int64
			elapsed  int64
			headers  string
		)
		if err := rows.Scan(&rec.ID, &received, &elapsed, &rec.Method, &rec.URL, &headers, &rec.Client, &rec.Status); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rec.Received = time.Unix(0, received)
		rec.Elapsed = time.Duration(elapsed)
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &rec.Headers); err != nil {
				return nil, fmt.Errorf("decode headers: %w", err)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Middleware records every request after it has been served. Insert
// failures are logged and never affect the response.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		headers := r.Header.Clone()
		for name := range redacted {
			headers.Del(name)
		}
		err := l.Insert(context.WithoutCancel(r.Context()), Record{
			Received: received,
			Elapsed:  time.Since(received),
			Method:   r.Method,
			URL:      r.URL.String(),
			Headers:  headers,
			Client:   r.RemoteAddr,
			Status:   rec.status,
		})
		if err != nil {
			log.Error().Err(err).Str("path", r.URL.Path).Msg("failed to record request")
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
