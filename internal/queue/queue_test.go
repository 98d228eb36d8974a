package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/ldxsync/internal/common"
	"example.com/ldxsync/internal/ldx"
	"example.com/ldxsync/internal/patch"
	"example.com/ldxsync/internal/store"
)

func writeLDX(t *testing.T, dir string) string {
	t.Helper()
	doc := ldx.New("Car1_Workspace")
	doc.CarName = "Car1"
	doc.SetDetail("Track", "Pomona")
	data, err := ldx.DefaultCodec().Encode(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "Car1_upload.ldx")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "params.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestReconcileCarScenario(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	for _, req := range []store.QueueRequest{
		{ParameterName: "brake_bias", NewValue: "54.0", SubmittedBy: "alice", CarID: "Car1"},
		{ParameterName: "ldx_details_Track", NewValue: "Laguna_Seca", SubmittedBy: "bob", CarID: "Car1"},
		{ParameterName: "wing_angle", NewValue: "12", SubmittedBy: "carol", CarID: "Car2"},
	} {
		_, err := st.Enqueue(ctx, req)
		require.NoError(t, err)
	}
	path := writeLDX(t, t.TempDir())
	metrics := common.NewMetrics()
	r := NewReconciler(st, patch.New(patch.Options{}), nil, metrics)

	res, err := r.Apply(ctx, path, "Car1")
	require.NoError(t, err)
	require.Len(t, res.Applied, 2)
	assert.Empty(t, res.Failed)
	assert.Equal(t, "brake_bias", res.Applied[0].Name)
	assert.Equal(t, ldx.KindGeneric, res.Applied[0].Kind)
	assert.Equal(t, ldx.KindDetails, res.Applied[1].Kind)

	doc, err := ldx.DefaultCodec().DecodeFile(path)
	require.NoError(t, err)
	bias, ok := doc.Detail("Brake Bias")
	require.True(t, ok)
	assert.Equal(t, "54.0", bias)
	track, _ := doc.Detail("Track")
	assert.Equal(t, "Laguna_Seca", track)

	applied, err := st.Queue(ctx, store.StatusAutoApplied, "Car1")
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	pending, err := st.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Car2", pending[0].CarID)

	hist, err := st.History(ctx, "brake_bias")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "alice", hist[0].UpdatedBy)
	assert.Equal(t, "Auto-applied from queue (queued by alice)", hist[0].Comment)
	assert.Equal(t, res.Applied[0].FormID, hist[0].FormID)

	snap := metrics.Snapshot()
	assert.EqualValues(t, 2, snap.QueueApplied)
	assert.EqualValues(t, 0, snap.QueueFailed)

	again, err := r.Apply(ctx, path, "Car1")
	require.NoError(t, err)
	assert.Empty(t, again.Applied)
}

func TestReconcileKeepsGoingAfterFailure(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	for _, req := range []store.QueueRequest{
		{ParameterName: "ldx_math_Missing_scale", NewValue: "2", SubmittedBy: "alice", CarID: "Car1"},
		{ParameterName: "ldx_details_Track", NewValue: "Sonoma", SubmittedBy: "bob", CarID: "Car1"},
	} {
		_, err := st.Enqueue(ctx, req)
		require.NoError(t, err)
	}
	path := writeLDX(t, t.TempDir())
	res, err := NewReconciler(st, patch.New(patch.Options{}), nil, nil).Apply(ctx, path, "Car1")
	require.NoError(t, err)
	require.Len(t, res.Applied, 1)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "ldx_math_Missing_scale", res.Failed[0].ParameterName)

	pending, err := st.ListPending(ctx, "Car1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].LastError)
}

func TestReconcileIgnoresNonLDX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ld")
	require.NoError(t, os.WriteFile(path, make([]byte, 600), 0o644))
	res, err := NewReconciler(&fakeStore{}, &fakePatcher{}, nil, nil).Apply(context.Background(), path, "")
	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Contains(t, res.Message, "only LDX")
}

func TestReconcileMissingFile(t *testing.T) {
	_, err := NewReconciler(&fakeStore{}, &fakePatcher{}, nil, nil).
		Apply(context.Background(), filepath.Join(t.TempDir(), "gone.ldx"), "")
	assert.True(t, errors.Is(err, ldx.ErrNotFound), "got %v", err)
}

type fakeStore struct {
	mu      sync.Mutex
	pending []store.Change
	marks   map[string]string
	failRec bool
}

func (f *fakeStore) ListPending(context.Context, string) ([]store.Change, error) {
	return f.pending, nil
}

func (f *fakeStore) RecordValue(_ context.Context, u store.ValueUpdate) (store.HistoryEntry, error) {
	if f.failRec {
		return store.HistoryEntry{}, errors.New("database is locked")
	}
	return store.HistoryEntry{ParameterName: u.Name, NewValue: u.Value}, nil
}

func (f *fakeStore) MarkChange(_ context.Context, formID, status, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marks == nil {
		f.marks = map[string]string{}
	}
	f.marks[formID] = status
	return nil
}

type fakePatcher struct {
	active  atomic.Int32
	overlap atomic.Bool
}

func (p *fakePatcher) Apply(string, string, string, string) error {
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	p.active.Add(-1)
	return nil
}

func TestRecordFailureLeavesChangePending(t *testing.T) {
	path := writeLDX(t, t.TempDir())
	st := &fakeStore{failRec: true, pending: []store.Change{{FormID: "f1", ParameterName: "brake_bias", NewValue: "55"}}}
	res, err := NewReconciler(st, &fakePatcher{}, nil, nil).Apply(context.Background(), path, "")
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)
	assert.Contains(t, res.Failed[0].Error, "record value")
	assert.Equal(t, store.StatusPending, st.marks["f1"])
}

func TestConcurrentReconcilesOfOneFileSerialize(t *testing.T) {
	path := writeLDX(t, t.TempDir())
	st := &fakeStore{pending: []store.Change{{FormID: "a"}, {FormID: "b"}, {FormID: "c"}}}
	p := &fakePatcher{}
	locks := NewLocker()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := NewReconciler(st, p, locks, nil).Apply(context.Background(), path, "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, p.overlap.Load(), "patches on one file overlapped")
}
