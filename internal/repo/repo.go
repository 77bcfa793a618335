package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"helpbot/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

// tsLayout is fixed width so checked_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Setting keys.
const (
	KeyBackendBase = "backend.base"
)

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) GetSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return v, err
}

func (r Repo) PutSetting(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("setting key required")
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO settings(key,value,updated_at) VALUES (?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, r.now().UTC().Format(time.RFC3339))
	return err
}

func (r Repo) DeleteSetting(ctx context.Context, key string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM settings WHERE key=?`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadBase returns the persisted backend base, or "" when none was saved.
func (r Repo) LoadBase(ctx context.Context) (string, error) {
	v, err := r.GetSetting(ctx, KeyBackendBase)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (r Repo) SaveBase(ctx context.Context, base string) error {
	return r.PutSetting(ctx, KeyBackendBase, base)
}

func (r Repo) SaveHealth(ctx context.Context, h domain.HealthStatus) error {
	checked := h.CheckedAt
	if checked.IsZero() {
		checked = r.now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO health_checks(base,ok,rows_count,checked_at) VALUES (?,?,?,?)
ON CONFLICT(base) DO UPDATE SET ok=excluded.ok, rows_count=excluded.rows_count, checked_at=excluded.checked_at`,
		h.Base, boolInt(h.OK), h.Rows, checked.UTC().Format(tsLayout))
	return err
}

func (r Repo) GetHealth(ctx context.Context, base string) (domain.HealthStatus, error) {
	return scanHealth(r.DB.QueryRowContext(ctx, `SELECT base,ok,rows_count,checked_at FROM health_checks WHERE base=?`, base))
}

// LatestHealth returns the most recent probe result for any base.
func (r Repo) LatestHealth(ctx context.Context) (domain.HealthStatus, error) {
	return scanHealth(r.DB.QueryRowContext(ctx, `SELECT base,ok,rows_count,checked_at FROM health_checks ORDER BY checked_at DESC LIMIT 1`))
}

func (r Repo) ListHealth(ctx context.Context) ([]domain.HealthStatus, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT base,ok,rows_count,checked_at FROM health_checks ORDER BY checked_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HealthStatus
	for rows.Next() {
		h, err := scanHealth(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHealth(row rowScanner) (domain.HealthStatus, error) {
	var h domain.HealthStatus
	var ok int
	var checked string
	err := row.Scan(&h.Base, &ok, &h.Rows, &checked)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.OK = ok != 0
	if t, perr := time.Parse(tsLayout, checked); perr == nil {
		h.CheckedAt = t
	}
	return h, nil
}

// DiscoveryRun records one auto-discovery pass.
type DiscoveryRun struct {
	ID           int64    `json:"id"`
	StartedAt    string   `json:"started_at" format:"date-time"`
	PreviousBase string   `json:"previous_base,omitempty"`
	AdoptedBase  string   `json:"adopted_base,omitempty"`
	Tried        []string `json:"tried"`
}

func (r Repo) SaveDiscovery(ctx context.Context, previous, adopted string, tried []string) error {
	if tried == nil {
		tried = []string{}
	}
	data, err := json.Marshal(tried)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO discovery_runs(started_at,previous_base,adopted_base,tried_json) VALUES (?,?,?,?)`,
		r.now().UTC().Format(time.RFC3339), nullable(previous), nullable(adopted), string(data))
	return err
}

func (r Repo) LatestDiscoveries(ctx context.Context, limit int) ([]DiscoveryRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,started_at,COALESCE(previous_base,''),COALESCE(adopted_base,''),tried_json FROM discovery_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []DiscoveryRun
	for rows.Next() {
		var d DiscoveryRun
		var tried string
		if err := rows.Scan(&d.ID, &d.StartedAt, &d.PreviousBase, &d.AdoptedBase, &tried); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(tried), &d.Tried); err != nil {
			return nil, fmt.Errorf("decode tried list: %w", err)
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// LatestEvents lists dialogue events newest first, optionally for one session.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, sessionID, evtType string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if sessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, sessionID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	if limit <= 0 {
		limit = 50
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(session_id,''),COALESCE(step,''),COALESCE(owner,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.SessionID, &e.Step, &e.Owner, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
