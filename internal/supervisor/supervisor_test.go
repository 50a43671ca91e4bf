package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trip-monitor/internal/hub"
	"trip-monitor/internal/logging"
)

// fakeConn is a scripted hub.Connection.
type fakeConn struct {
	feed   *hub.StateFeed
	states <-chan hub.State
	msgs   chan hub.Message

	connects    atomic.Int32
	disconnects atomic.Int32

	mu       sync.Mutex
	failures int // next N attempts fail fast
	hangs    int // next N attempts block until ctx is done
}

func newFakeConn() *fakeConn {
	f := &fakeConn{feed: hub.NewStateFeed(), msgs: make(chan hub.Message, 8)}
	f.states, _ = f.feed.Subscribe()
	return f
}

func (f *fakeConn) Connect(ctx context.Context) error {
	f.connects.Add(1)
	f.feed.Set(hub.Connecting)
	f.mu.Lock()
	hang, fail := f.hangs > 0, f.failures > 0
	if hang {
		f.hangs--
	} else if fail {
		f.failures--
	}
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		f.feed.Set(hub.Disconnected)
		return ctx.Err()
	}
	if fail {
		f.feed.Set(hub.Disconnected)
		return errors.New("connection refused")
	}
	f.feed.Set(hub.Connected)
	return nil
}

func (f *fakeConn) Disconnect(context.Context) error {
	f.disconnects.Add(1)
	f.feed.Set(hub.Disconnected)
	return nil
}

func (f *fakeConn) State() hub.State             { return f.feed.Get() }
func (f *fakeConn) States() <-chan hub.State     { return f.states }
func (f *fakeConn) Messages() <-chan hub.Message { return f.msgs }
func (f *fakeConn) drop()                        { f.feed.Set(hub.Disconnected) }

type countingSeeder struct{ n atomic.Int32 }

func (c *countingSeeder) Refresh(context.Context) error {
	c.n.Add(1)
	return nil
}

func fastOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		SeedTimeout:    time.Second,
		Backoff:        NewBackoff(5*time.Millisecond, 20*time.Millisecond, 0),
	}
}

func newTestSupervisor(t *testing.T, conn *fakeConn, seeder Seeder, opts Options) *Supervisor {
	t.Helper()
	s := New(conn, seeder, opts, logging.NewLogger("supervisor-test"), nil)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestConcurrentEnsureConnectedConnectsOnce(t *testing.T) {
	conn := newFakeConn()
	s := newTestSupervisor(t, conn, nil, fastOptions())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.EnsureConnected()
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.WaitConnected(ctx))
	s.EnsureConnected()
	assert.EqualValues(t, 1, conn.connects.Load())
}

func TestProviderBuildsOneSupervisor(t *testing.T) {
	conn := newFakeConn()
	var builds atomic.Int32
	p := NewProvider(func() *Supervisor {
		builds.Add(1)
		return newTestSupervisor(t, conn, nil, fastOptions())
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Instance().EnsureConnected()
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return p.Instance().State() == hub.Connected }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, builds.Load())
	assert.EqualValues(t, 1, conn.connects.Load())
}

func TestRetriesUntilConnected(t *testing.T) {
	conn := newFakeConn()
	conn.failures = 3
	seeder := &countingSeeder{}
	s := newTestSupervisor(t, conn, seeder, fastOptions())

	s.EnsureConnected()
	assert.Equal(t, hub.Connecting, s.State())

	require.Eventually(t, func() bool { return s.State() == hub.Connected }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 4, conn.connects.Load())
	require.Eventually(t, func() bool { return seeder.n.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestConnectTimeoutAdvancesBackoff(t *testing.T) {
	conn := newFakeConn()
	conn.hangs = 1
	opts := fastOptions()
	opts.ConnectTimeout = 30 * time.Millisecond
	s := newTestSupervisor(t, conn, nil, opts)

	s.EnsureConnected()
	require.Eventually(t, func() bool { return s.State() == hub.Connected }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, conn.connects.Load())
}

func TestDropTriggersReconnectAndReseed(t *testing.T) {
	conn := newFakeConn()
	seeder := &countingSeeder{}
	s := newTestSupervisor(t, conn, seeder, fastOptions())
	states, cancel := s.Subscribe()
	defer cancel()

	s.EnsureConnected()
	require.Eventually(t, func() bool { return seeder.n.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	conn.failures = 2
	conn.mu.Unlock()
	conn.drop()

	require.Eventually(t, func() bool { return seeder.n.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, hub.Connected, s.State())
	assert.EqualValues(t, 4, conn.connects.Load())

	var seen []hub.State
	for len(states) > 0 {
		seen = append(seen, <-states)
	}
	assert.Contains(t, seen, hub.Reconnecting)
	s.EnsureConnected()
	assert.EqualValues(t, 4, conn.connects.Load(), "ensureConnected while connected is a no-op")
}

func TestCloseCancelsBackoff(t *testing.T) {
	conn := newFakeConn()
	conn.failures = 1000
	opts := fastOptions()
	opts.Backoff = NewBackoff(time.Hour, time.Hour, 0)
	s := newTestSupervisor(t, conn, nil, opts)

	s.EnsureConnected()
	require.Eventually(t, func() bool { return conn.connects.Load() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Close(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, hub.Disconnected, s.State())
	assert.EqualValues(t, 1, conn.connects.Load())
}

func TestCancelledAttemptNeverReportsConnected(t *testing.T) {
	conn := newFakeConn()
	conn.hangs = 1
	opts := fastOptions()
	opts.ConnectTimeout = time.Hour
	s := newTestSupervisor(t, conn, nil, opts)
	states, cancel := s.Subscribe()
	defer cancel()

	s.EnsureConnected()
	require.Eventually(t, func() bool { return conn.connects.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))

	for len(states) > 0 {
		assert.NotEqual(t, hub.Connected, <-states)
	}
	assert.Equal(t, hub.Disconnected, s.State())

	s.EnsureConnected()
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, conn.connects.Load(), "closed supervisor does not reconnect")

	err := s.WaitConnected(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
