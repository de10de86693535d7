package containers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/store"
)

var testLabels = Labels{PluginParent: "plugin.output", PluginUploads: "Uploaded files"}

func newTestFactory(t *testing.T) (*Factory, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"),
		store.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f, err := New(s, testLabels)
	require.NoError(t, err)
	return f, s
}

func TestNew_RequiresLabels(t *testing.T) {
	_, err := New(nil, Labels{PluginUploads: "x"})
	assert.Error(t, err)
	_, err = New(nil, Labels{PluginParent: "x"})
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	f, _ := newTestFactory(t)

	tests := []struct {
		key   Key
		label string
		typ   model.NodeType
	}{
		{IssueLibrary, "All issues", model.NodeTypeIssueLibrary},
		{MethodologyLibrary, "Methodologies", model.NodeTypeMethodology},
		{PluginParent, "plugin.output", model.NodeTypeDefault},
		{PluginUploads, "Uploaded files", model.NodeTypeDefault},
		{Recovered, "Recovered", model.NodeTypeDefault},
	}
	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			label, typ, err := f.Resolve(tt.key)
			require.NoError(t, err)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.typ, typ)
		})
	}

	_, _, err := f.Resolve("trash")
	assert.Error(t, err)
}

func TestGet_Idempotent(t *testing.T) {
	f, s := newTestFactory(t)
	ctx := context.Background()

	for _, key := range Keys {
		first, err := f.Get(ctx, key)
		require.NoError(t, err)
		second, err := f.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID, "key %s", key)
	}

	lib, err := f.IssueLibrary(ctx)
	require.NoError(t, err)
	got, err := s.GetNode(ctx, lib.ID)
	require.NoError(t, err)
	assert.Equal(t, model.NodeTypeIssueLibrary, got.Type)
}

func TestGet_ConcurrentFirstAccess(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Two factories over two connections stand in for two processes; the
	// unique index has to settle the race, singleflight cannot.
	var (
		mu  sync.Mutex
		ids = map[int64]bool{}
	)
	factories := make([]*Factory, 2)
	for p := range factories {
		s, err := store.Open(path, store.WithLogger(logger))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		factories[p], err = New(s, testLabels)
		require.NoError(t, err)
	}

	var g errgroup.Group
	for _, f := range factories {
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				n, err := f.IssueLibrary(ctx)
				if err != nil {
					return err
				}
				mu.Lock()
				ids[n.ID] = true
				mu.Unlock()
				return nil
			})
		}
	}
	require.NoError(t, g.Wait())
	assert.Len(t, ids, 1)
}

// countingStore counts get-or-create calls and blocks them until released.
type countingStore struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingStore) GetOrCreateSingleton(_ context.Context, label string, typ model.NodeType) (model.Node, error) {
	c.calls.Add(1)
	<-c.release
	return model.Node{ID: 1, Label: label, Type: typ}, nil
}

func (c *countingStore) GetNode(_ context.Context, id int64) (model.Node, error) {
	return model.Node{}, &store.NotFoundError{Kind: "node", ID: id}
}

func TestGet_DeduplicatesInFlight(t *testing.T) {
	cs := &countingStore{release: make(chan struct{})}
	f, err := New(cs, testLabels)
	require.NoError(t, err)

	var started sync.WaitGroup
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		started.Add(1)
		g.Go(func() error {
			started.Done()
			_, err := f.MethodologyLibrary(context.Background())
			return err
		})
	}
	started.Wait()
	// Let the leader finish; callers that arrive after it still get a call
	// of their own, so the count is bounded, not exactly one.
	close(cs.release)
	require.NoError(t, g.Wait())

	assert.GreaterOrEqual(t, cs.calls.Load(), int32(1))
	assert.LessOrEqual(t, cs.calls.Load(), int32(5))
}

// ctxStore blocks get-or-create until released and records whether the
// context it was handed had been cancelled by then.
type ctxStore struct {
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
	sawError atomic.Bool
}

func (c *ctxStore) GetOrCreateSingleton(ctx context.Context, label string, typ model.NodeType) (model.Node, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	if ctx.Err() != nil {
		c.sawError.Store(true)
		return model.Node{}, ctx.Err()
	}
	return model.Node{ID: 7, Label: label, Type: typ}, nil
}

func (c *ctxStore) GetNode(_ context.Context, id int64) (model.Node, error) {
	return model.Node{}, &store.NotFoundError{Kind: "node", ID: id}
}

func TestGet_CancelledCallerDoesNotFailOthers(t *testing.T) {
	cs := &ctxStore{entered: make(chan struct{}), release: make(chan struct{})}
	f, err := New(cs, testLabels)
	require.NoError(t, err)

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := f.IssueLibrary(leaderCtx)
		leaderErr <- err
	}()
	<-cs.entered

	waiter := make(chan error, 1)
	var got model.Node
	go func() {
		n, err := f.IssueLibrary(context.Background())
		got = n
		waiter <- err
	}()

	cancel()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(cs.release)
	require.NoError(t, <-waiter)
	assert.Equal(t, int64(7), got.ID)
	assert.False(t, cs.sawError.Load(), "the shared call must not see the leader's cancellation")
}

func TestGet_CancelledContext(t *testing.T) {
	cs := &ctxStore{entered: make(chan struct{}), release: make(chan struct{})}
	f, err := New(cs, testLabels)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Recovered(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	close(cs.release)
}

func TestRecoverTarget(t *testing.T) {
	f, s := newTestFactory(t)
	ctx := context.Background()

	host, err := s.CreateNode(ctx, model.NewNode{Label: "10.0.0.1", Type: model.NodeTypeHost})
	require.NoError(t, err)

	got, err := f.RecoverTarget(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, host.ID, got.ID)

	_, err = s.DestroyNode(ctx, host.ID)
	require.NoError(t, err)

	got, err = f.RecoverTarget(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "Recovered", got.Label)
	assert.Equal(t, model.NodeTypeDefault, got.Type)
}

type failingStore struct{}

func (failingStore) GetOrCreateSingleton(context.Context, string, model.NodeType) (model.Node, error) {
	return model.Node{}, errors.New("unexpected call")
}

func (failingStore) GetNode(context.Context, int64) (model.Node, error) {
	return model.Node{}, errors.New("disk I/O error")
}

func TestRecoverTarget_PropagatesStoreErrors(t *testing.T) {
	f, err := New(failingStore{}, testLabels)
	require.NoError(t, err)

	_, err = f.RecoverTarget(context.Background(), 1)
	assert.EqualError(t, err, "disk I/O error")
}
