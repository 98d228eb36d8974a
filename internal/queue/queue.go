package queue

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/store"
	"example.com/ldxsync/internal/translate"
)

// Store is the parameter store the reconciler reads pending changes from
// and reports outcomes to.
type Store interface {
	ListPending(ctx context.Context, carID string) ([]store.Change, error)
	RecordValue(ctx context.Context, u store.ValueUpdate) (store.HistoryEntry, error)
	MarkChange(ctx context.Context, formID, status, errMsg string) error
}

// Patcher applies one parameter to an LDX file.
type Patcher interface {
	Apply(path, name, value, comment string) error
}

// Locker hands out one mutex per file path.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: map[string]*sync.Mutex{}}
}

// Lock blocks until path is free and returns the matching unlock.
func (l *Locker) Lock(path string) func() {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

type Applied struct {
	translate.Record
	FormID      string `json:"formId"`
	SubmittedBy string `json:"submittedBy"`
}

type Failed struct {
	FormID        string `json:"formId"`
	ParameterName string `json:"parameterName"`
	Error         string `json:"error"`
}

type Result struct {
	Applied []Applied `json:"applied"`
	Failed  []Failed  `json:"failed"`
	Message string    `json:"message"`
}

type Reconciler struct {
	store   Store
	patcher Patcher
	locks   *Locker
	metrics *common.Metrics
}

// NewReconciler returns a reconciler. A nil locker gets a private one; share
// a Locker between reconcilers that may touch the same files.
func NewReconciler(st Store, patcher Patcher, locks *Locker, metrics *common.Metrics) *Reconciler {
	if locks == nil {
		locks = NewLocker()
	}
	return &Reconciler{store: st, patcher: patcher, locks: locks, metrics: metrics}
}

// Apply replays every pending change for carID (all cars when empty) into
// the LDX file at path, oldest first. A failing change stays pending with
// its error recorded and does not stop the rest.
func (r *Reconciler) Apply(ctx context.Context, path, carID string) (Result, error) {
	if !strings.EqualFold(filepath.Ext(path), ".ldx") {
		return Result{Message: "only LDX files can be updated with queued changes"}, nil
	}
	if !common.FileExists(path) {
		return Result{}, ldx.NotFoundError("ldx file %s", path)
	}
	unlock := r.locks.Lock(path)
	defer unlock()

	changes, err := r.store.ListPending(ctx, carID)
	if err != nil {
		return Result{}, fmt.Errorf("list pending changes: %w", err)
	}
	res := Result{Applied: []Applied{}, Failed: []Failed{}}
	if len(changes) == 0 {
		res.Message = "no pending queue items to apply"
		return res, nil
	}

	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := r.applyOne(ctx, path, c); err != nil {
			common.Logf("queue: %s %s on %s failed: %v", c.FormID, c.ParameterName, filepath.Base(path), err)
			res.Failed = append(res.Failed, Failed{FormID: c.FormID, ParameterName: c.ParameterName, Error: err.Error()})
			if merr := r.store.MarkChange(ctx, c.FormID, store.StatusPending, err.Error()); merr != nil {
				common.Logf("queue: record error for %s: %v", c.FormID, merr)
			}
			continue
		}
		res.Applied = append(res.Applied, Applied{
			Record: translate.Record{
				Name:  c.ParameterName,
				Value: c.NewValue,
				Kind:  ldx.ParseParameterName(c.ParameterName).Kind,
			},
			FormID:      c.FormID,
			SubmittedBy: c.SubmittedBy,
		})
	}
	r.metrics.QueueApplied(len(res.Applied))
	r.metrics.QueueFailed(len(res.Failed))
	res.Message = fmt.Sprintf("applied %d queued changes, %d failed", len(res.Applied), len(res.Failed))
	common.Logf("queue: %s: %s", filepath.Base(path), res.Message)
	return res, nil
}

// applyOne patches the file, records the value and marks the change. The
// patch is idempotent, so a change that fails after the file was written
// can be replayed safely.
func (r *Reconciler) applyOne(ctx context.Context, path string, c store.Change) error {
	if err := r.patcher.Apply(path, c.ParameterName, c.NewValue, c.Comment); err != nil {
		return err
	}
	comment := c.Comment
	if comment == "" {
		comment = fmt.Sprintf("Auto-applied from queue (queued by %s)", c.SubmittedBy)
	}
	if _, err := r.store.RecordValue(ctx, store.ValueUpdate{
		Name:      c.ParameterName,
		Subteam:   c.Subteam,
		Value:     c.NewValue,
		Actor:     c.SubmittedBy,
		Comment:   comment,
		OriginRef: c.FormID,
	}); err != nil {
		return fmt.Errorf("record value: %w", err)
	}
	if err := r.store.MarkChange(ctx, c.FormID, store.StatusAutoApplied, ""); err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	return nil
}
