// Package supervisor keeps the process's single hub connection alive.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"trip-monitor/internal/hub"
)

var ErrClosed = errors.New("supervisor closed")

// Seeder re-reads the authoritative roster after every successful connect.
type Seeder interface {
	Refresh(ctx context.Context) error
}

type Metrics interface {
	ConnectAttemptInc()
	ConnectFailureInc()
	ReconnectInc()
	ConnectObserve(d time.Duration)
	SetState(s hub.State)
}

type Options struct {
	ConnectTimeout time.Duration
	SeedTimeout    time.Duration
	Backoff        *Backoff
}

// Supervisor owns the lifecycle of one hub.Connection. A single loop
// goroutine performs every connect attempt, so two attempts can never
// overlap and at most one session exists.
type Supervisor struct {
	conn           hub.Connection
	seeder         Seeder
	backoff        *Backoff
	connectTimeout time.Duration
	seedTimeout    time.Duration
	log            *logrus.Entry
	metrics        Metrics
	feed           *hub.StateFeed

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active bool // loop running
	closed bool
}

func New(conn hub.Connection, seeder Seeder, opts Options, log *logrus.Entry, m Metrics) *Supervisor {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SeedTimeout <= 0 {
		opts.SeedTimeout = 15 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(time.Second, 30*time.Second, 0.2)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		conn:           conn,
		seeder:         seeder,
		backoff:        opts.Backoff,
		connectTimeout: opts.ConnectTimeout,
		seedTimeout:    opts.SeedTimeout,
		log:            log,
		metrics:        m,
		feed:           hub.NewStateFeed(),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// EnsureConnected starts the connect loop if the supervisor is idle. It is a
// no-op while connecting, connected or reconnecting, and after Close.
func (s *Supervisor) EnsureConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.active || s.feed.Get() != hub.Disconnected {
		return
	}
	s.active = true
	s.setStateLocked(hub.Connecting)
	s.wg.Add(1)
	go s.loop()
}

func (s *Supervisor) State() hub.State { return s.feed.Get() }

// Subscribe delivers supervisor state transitions.
func (s *Supervisor) Subscribe() (<-chan hub.State, func()) { return s.feed.Subscribe() }

// Messages is the inbound message stream of the supervised connection.
func (s *Supervisor) Messages() <-chan hub.Message { return s.conn.Messages() }

// WaitConnected blocks until the supervisor reports Connected.
func (s *Supervisor) WaitConnected(ctx context.Context) error {
	ch, cancel := s.feed.Subscribe()
	defer cancel()
	for {
		if s.isClosed() {
			return ErrClosed
		}
		if s.feed.Get() == hub.Connected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return ErrClosed
		case <-ch:
		}
	}
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	states := s.conn.States()
	for {
		drain(states)
		err := s.attempt()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			if s.metrics != nil {
				s.metrics.ConnectFailureInc()
			}
			d := s.backoff.Next()
			s.log.WithError(err).WithField("retry_in", d.Round(time.Millisecond)).Warn("hub connect failed")
			if !s.sleep(d) {
				return
			}
			continue
		}

		s.backoff.Reset()
		if !s.markConnected() {
			return
		}
		s.log.Info("hub connected")
		s.reseed()

		if !s.awaitDrop(states) {
			return
		}
		if s.metrics != nil {
			s.metrics.ReconnectInc()
		}
		s.setState(hub.Reconnecting)
		d := s.backoff.Next()
		s.log.WithField("retry_in", d.Round(time.Millisecond)).Warn("hub connection dropped")
		if !s.sleep(d) {
			return
		}
	}
}

func (s *Supervisor) attempt() error {
	if s.metrics != nil {
		s.metrics.ConnectAttemptInc()
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.connectTimeout)
	defer cancel()
	start := time.Now()
	err := s.conn.Connect(ctx)
	if s.metrics != nil {
		s.metrics.ConnectObserve(time.Since(start))
	}
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && s.ctx.Err() == nil {
		return fmt.Errorf("connect timed out after %s: %w", s.connectTimeout, err)
	}
	return err
}

// markConnected publishes Connected unless Close won the race.
func (s *Supervisor) markConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.setStateLocked(hub.Connected)
	return true
}

func (s *Supervisor) reseed() {
	if s.seeder == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.seedTimeout)
		defer cancel()
		if err := s.seeder.Refresh(ctx); err != nil && s.ctx.Err() == nil {
			s.log.WithError(err).Warn("roster reseed after connect failed")
		}
	}()
}

// awaitDrop blocks until the connection reports Disconnected. It returns
// false when the supervisor is closing.
func (s *Supervisor) awaitDrop(states <-chan hub.State) bool {
	for {
		select {
		case <-s.ctx.Done():
			return false
		case st := <-states:
			if st == hub.Disconnected && s.conn.State() == hub.Disconnected {
				return true
			}
		}
	}
}

func (s *Supervisor) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Close cancels any pending backoff or connect attempt, waits for the loop
// to exit and disconnects.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	err := s.conn.Disconnect(ctx)
	s.setState(hub.Disconnected)
	s.log.Info("supervisor closed")
	return err
}

func (s *Supervisor) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// setStateLocked requires s.mu.
func (s *Supervisor) setStateLocked(st hub.State) {
	if s.feed.Set(st) && s.metrics != nil {
		s.metrics.SetState(st)
	}
}

func (s *Supervisor) setState(st hub.State) {
	s.mu.Lock()
	s.setStateLocked(st)
	s.mu.Unlock()
}

func drain(ch <-chan hub.State) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
