package hub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var ErrUnknownTransport = errors.New("unknown hub transport")

// Connection owns one physical session to the event hub. Implementations
// never reconnect on their own; a dropped session moves to Disconnected and
// waits for the next Connect.
type Connection interface {
	// Connect returns once the session is established. Calling it while
	// connected is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the session down. Safe to call at any time.
	Disconnect(ctx context.Context) error
	State() State
	// States delivers every transition of this connection.
	States() <-chan State
	// Messages delivers inbound payloads in wire order within a session.
	Messages() <-chan Message
}

type Message struct {
	Subject    string
	Data       []byte
	ReceivedAt time.Time
}

// TokenSource supplies the bearer token presented to the hub.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Options struct {
	Transport      string // nats | websocket
	URL            string
	Subject        string // nats only
	Name           string
	ConnectTimeout time.Duration
	Tokens         TokenSource
	Buffer         int
}

// New builds the connection for opts.Transport.
func New(opts Options, log *logrus.Entry) (Connection, error) {
	switch strings.ToLower(opts.Transport) {
	case "nats", "":
		return NewNATSConnection(opts, log), nil
	case "websocket", "ws":
		return NewWSConnection(opts, log), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, opts.Transport)
}

// link is the session bookkeeping shared by the transports. Every Connect
// opens a new generation; callbacks carrying an older generation are ignored.
type link struct {
	log    *logrus.Entry
	feed   *StateFeed
	states <-chan State
	msgs   chan Message

	mu   sync.Mutex
	gen  uint64
	stop chan struct{}
}

func newLink(buffer int, log *logrus.Entry) *link {
	if buffer <= 0 {
		buffer = 1024
	}
	feed := NewStateFeed()
	states, _ := feed.Subscribe()
	return &link{log: log, feed: feed, states: states, msgs: make(chan Message, buffer)}
}

func (l *link) State() State             { return l.feed.Get() }
func (l *link) States() <-chan State     { return l.states }
func (l *link) Messages() <-chan Message { return l.msgs }

// begin opens a new generation and closes out the previous one.
func (l *link) begin() (uint64, chan struct{}) {
	l.mu.Lock()
	l.closeStopLocked()
	l.gen++
	stop := make(chan struct{})
	l.stop = stop
	g := l.gen
	l.mu.Unlock()
	l.feed.Set(Connecting)
	return g, stop
}

// established marks generation g connected unless it was superseded.
func (l *link) established(g uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.gen != g {
		return false
	}
	l.feed.Set(Connected)
	return true
}

// end finishes generation g; it is a no-op for superseded generations.
func (l *link) end(g uint64, err error) {
	l.mu.Lock()
	if l.gen != g {
		l.mu.Unlock()
		return
	}
	l.closeStopLocked()
	l.mu.Unlock()
	if l.feed.Set(Disconnected) && err != nil {
		l.log.WithError(err).Warn("hub session ended")
	}
}

// invalidate ends whatever generation is current.
func (l *link) invalidate() {
	l.mu.Lock()
	l.gen++
	l.closeStopLocked()
	l.mu.Unlock()
	l.feed.Set(Disconnected)
}

func (l *link) current(g uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.gen == g
}

func (l *link) closeStopLocked() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

// deliver blocks until the message is queued or the session stops.
func (l *link) deliver(stop <-chan struct{}, m Message) {
	select {
	case l.msgs <- m:
	case <-stop:
	}
}

func bearer(ctx context.Context, ts TokenSource) (string, error) {
	if ts == nil {
		return "", nil
	}
	tok, err := ts.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("hub token: %w", err)
	}
	return tok, nil
}
