package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"example.com/ldxsync/internal/ldx"
)

// Queue statuses.
const (
	StatusPending     = "pending"
	StatusAutoApplied = "auto-applied"
	StatusProcessed   = "processed"
	StatusRejected    = "rejected"
)

// DefaultSubteam owns parameters that arrive without one.
const DefaultSubteam = "MoTeC"

// timestamps are fixed width so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Parameter struct {
	ID           int64     `json:"id"`
	Name         string    `json:"parameterName"`
	Subteam      string    `json:"subteam"`
	CurrentValue string    `json:"currentValue"`
	UpdatedAt    time.Time `json:"updatedAt"`
	UpdatedBy    string    `json:"updatedBy"`
}

type HistoryEntry struct {
	ID            int64     `json:"id"`
	ParameterName string    `json:"parameterName"`
	Subteam       string    `json:"subteam"`
	PriorValue    *string   `json:"priorValue,omitempty"`
	NewValue      string    `json:"newValue"`
	UpdatedBy     string    `json:"updatedBy"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Comment       string    `json:"comment,omitempty"`
	FormID        string    `json:"formId,omitempty"`
}

// Change is a queued parameter change waiting to be written into a file.
type Change struct {
	ID            int64     `json:"id"`
	FormID        string    `json:"formId"`
	ParameterName string    `json:"parameterName"`
	Subteam       string    `json:"subteam"`
	NewValue      string    `json:"newValue"`
	CurrentValue  string    `json:"currentValue,omitempty"`
	SubmittedBy   string    `json:"submittedBy"`
	SubmittedAt   time.Time `json:"submittedAt"`
	Comment       string    `json:"comment,omitempty"`
	Status        string    `json:"status"`
	CarID         string    `json:"carId,omitempty"`
	LastError     string    `json:"lastError,omitempty"`
}

type QueueRequest struct {
	ParameterName string
	Subteam       string
	NewValue      string
	SubmittedBy   string
	Comment       string
	CarID         string
}

// ValueUpdate records a new current value for a parameter.
type ValueUpdate struct {
	Name      string
	Subteam   string
	Value     string
	Actor     string
	Comment   string
	OriginRef string
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and migrates
// it to the latest schema.
func Open(path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseStamp(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

// Enqueue adds a pending change with a fresh form ID. The parameter's
// current value, when known, is captured for reference.
func (s *Store) Enqueue(ctx context.Context, req QueueRequest) (Change, error) {
	if strings.TrimSpace(req.ParameterName) == "" {
		return Change{}, ldx.ValidationError("queue request without parameter name")
	}
	if strings.TrimSpace(req.SubmittedBy) == "" {
		return Change{}, ldx.ValidationError("queue request for %s without submitter", req.ParameterName)
	}
	if req.Subteam == "" {
		req.Subteam = DefaultSubteam
	}
	c := Change{
		FormID:        uuid.NewString(),
		ParameterName: req.ParameterName,
		Subteam:       req.Subteam,
		NewValue:      req.NewValue,
		SubmittedBy:   req.SubmittedBy,
		Comment:       req.Comment,
		Status:        StatusPending,
		CarID:         req.CarID,
	}
	var current sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT current_value FROM parameters WHERE parameter_name = ?`, req.ParameterName).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Change{}, err
	}
	c.CurrentValue = current.String
	stamp := s.stamp()
	c.SubmittedAt = parseStamp(stamp)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO parameter_queue
		(parameter_name, subteam, new_value, current_value, submitted_by, submitted_at, comment, status, form_id, car_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ParameterName, c.Subteam, c.NewValue, nullable(c.CurrentValue), c.SubmittedBy, stamp,
		nullable(c.Comment), c.Status, c.FormID, nullable(c.CarID))
	if err != nil {
		return Change{}, fmt.Errorf("enqueue %s: %w", req.ParameterName, err)
	}
	c.ID, _ = res.LastInsertId()
	return c, nil
}

// ListPending returns pending changes in submission order. An empty carID
// matches every car.
func (s *Store) ListPending(ctx context.Context, carID string) ([]Change, error) {
	return s.queue(ctx, StatusPending, carID, "ASC")
}

// Queue lists changes newest first, optionally filtered by status and car.
func (s *Store) Queue(ctx context.Context, status, carID string) ([]Change, error) {
	return s.queue(ctx, status, carID, "DESC")
}

func (s *Store) queue(ctx context.Context, status, carID, order string) ([]Change, error) {
	var conds []string
	var args []any
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, status)
	}
	if carID != "" {
		conds = append(conds, "car_id = ?")
		args = append(args, carID)
	}
	where := "1=1"
	if len(conds) > 0 {
		where = strings.Join(conds, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, parameter_name, subteam, new_value, current_value, submitted_by,
		       submitted_at, comment, status, car_id, last_error
		FROM parameter_queue WHERE `+where+`
		ORDER BY submitted_at `+order+`, id `+order, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Change
	for rows.Next() {
		var c Change
		var current, comment, car, lastErr sql.NullString
		var submitted string
		if err := rows.Scan(&c.ID, &c.FormID, &c.ParameterName, &c.Subteam, &c.NewValue, &current,
			&c.SubmittedBy, &submitted, &comment, &c.Status, &car, &lastErr); err != nil {
			return nil, err
		}
		c.CurrentValue = current.String
		c.SubmittedAt = parseStamp(submitted)
		c.Comment = comment.String
		c.CarID = car.String
		c.LastError = lastErr.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkChange sets the status of a queued change. errMsg is stored as the
// last error and cleared when empty.
func (s *Store) MarkChange(ctx context.Context, formID, status, errMsg string) error {
	switch status {
	case StatusPending, StatusAutoApplied, StatusProcessed, StatusRejected:
	default:
		return ldx.ValidationError("unknown queue status %q", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE parameter_queue SET status = ?, last_error = ?, updated_at = ? WHERE form_id = ?`,
		status, nullable(errMsg), s.stamp(), formID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ldx.NotFoundError("queue change %s", formID)
	}
	return nil
}

// RecordValue upserts the parameter and appends a history row carrying the
// prior value, in one transaction.
func (s *Store) RecordValue(ctx context.Context, u ValueUpdate) (HistoryEntry, error) {
	if strings.TrimSpace(u.Name) == "" {
		return HistoryEntry{}, ldx.ValidationError("value update without parameter name")
	}
	if u.Subteam == "" {
		u.Subteam = DefaultSubteam
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return HistoryEntry{}, err
	}
	defer tx.Rollback()

	stamp := s.stamp()
	entry := HistoryEntry{
		ParameterName: u.Name,
		Subteam:       u.Subteam,
		NewValue:      u.Value,
		UpdatedBy:     u.Actor,
		UpdatedAt:     parseStamp(stamp),
		Comment:       u.Comment,
		FormID:        u.OriginRef,
	}
	var paramID int64
	var prior string
	err = tx.QueryRowContext(ctx, `SELECT id, current_value FROM parameters WHERE parameter_name = ?`, u.Name).Scan(&paramID, &prior)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO parameters (parameter_name, subteam, current_value, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?)`, u.Name, u.Subteam, u.Value, stamp, u.Actor)
		if err != nil {
			return HistoryEntry{}, err
		}
		paramID, _ = res.LastInsertId()
	case err != nil:
		return HistoryEntry{}, err
	default:
		entry.PriorValue = &prior
		if _, err := tx.ExecContext(ctx, `
			UPDATE parameters SET subteam = ?, current_value = ?, updated_at = ?, updated_by = ?
			WHERE id = ?`, u.Subteam, u.Value, stamp, u.Actor, paramID); err != nil {
			return HistoryEntry{}, err
		}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO parameter_history
		(parameter_id, parameter_name, subteam, prior_value, new_value, updated_by, updated_at, comment, form_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		paramID, u.Name, u.Subteam, entry.PriorValue, u.Value, u.Actor, stamp, nullable(u.Comment), nullable(u.OriginRef))
	if err != nil {
		return HistoryEntry{}, err
	}
	entry.ID, _ = res.LastInsertId()
	if err := tx.Commit(); err != nil {
		return HistoryEntry{}, err
	}
	return entry, nil
}

func (s *Store) Get(ctx context.Context, name string) (Parameter, error) {
	var p Parameter
	var updated string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, parameter_name, subteam, current_value, updated_at, updated_by
		FROM parameters WHERE parameter_name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Subteam, &p.CurrentValue, &updated, &p.UpdatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Parameter{}, ldx.NotFoundError("parameter %s", name)
	}
	if err != nil {
		return Parameter{}, err
	}
	p.UpdatedAt = parseStamp(updated)
	return p, nil
}

// Parameters lists every parameter sorted by name.
func (s *Store) Parameters(ctx context.Context) ([]Parameter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameter_name, subteam, current_value, updated_at, updated_by
		FROM parameters ORDER BY parameter_name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Parameter
	for rows.Next() {
		var p Parameter
		var updated string
		if err := rows.Scan(&p.ID, &p.Name, &p.Subteam, &p.CurrentValue, &updated, &p.UpdatedBy); err != nil {
			return nil, err
		}
		p.UpdatedAt = parseStamp(updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// History returns the changes to name, oldest first.
func (s *Store) History(ctx context.Context, name string) ([]HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, parameter_name, subteam, prior_value, new_value, updated_by, updated_at, comment, form_id
		FROM parameter_history WHERE parameter_name = ? ORDER BY id ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var prior, comment, form sql.NullString
		var updated string
		if err := rows.Scan(&h.ID, &h.ParameterName, &h.Subteam, &prior, &h.NewValue, &h.UpdatedBy, &updated, &comment, &form); err != nil {
			return nil, err
		}
		if prior.Valid {
			v := prior.String
			h.PriorValue = &v
		}
		h.UpdatedAt = parseStamp(updated)
		h.Comment = comment.String
		h.FormID = form.String
		out = append(out, h)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
