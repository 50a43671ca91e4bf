package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSConnection subscribes to the hub's trip subjects on a NATS server.
// Client-side reconnect is disabled: recovery belongs to the supervisor.
type NATSConnection struct {
	*link
	url     string
	subject string
	name    string
	timeout time.Duration
	tokens  TokenSource

	nc *nats.Conn // guarded by link.mu
}

func NewNATSConnection(opts Options, log *logrus.Entry) *NATSConnection {
	subject := opts.Subject
	if subject == "" {
		subject = "trips.>"
	}
	name := opts.Name
	if name == "" {
		name = "trip-monitor"
	}
	return &NATSConnection{
		link:    newLink(opts.Buffer, log),
		url:     opts.URL,
		subject: subject,
		name:    name,
		timeout: opts.ConnectTimeout,
		tokens:  opts.Tokens,
	}
}

func (c *NATSConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.nc != nil && c.nc.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	tok, err := bearer(ctx, c.tokens)
	if err != nil {
		return err
	}

	g, stop := c.begin()
	opts := []nats.Option{
		nats.Name(c.name),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.end(g, err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.end(g, nil)
		}),
	}
	if c.timeout > 0 {
		opts = append(opts, nats.Timeout(c.timeout))
	}
	if tok != "" {
		opts = append(opts, nats.Token(tok))
	}

	type result struct {
		nc  *nats.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(c.url, opts...)
		done <- result{nc, err}
	}()

	var nc *nats.Conn
	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.nc != nil {
				r.nc.Close()
			}
		}()
		c.end(g, ctx.Err())
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			c.end(g, r.err)
			return fmt.Errorf("nats connect %s: %w", c.url, r.err)
		}
		nc = r.nc
	}

	_, err = nc.Subscribe(c.subject, func(m *nats.Msg) {
		c.deliver(stop, Message{Subject: m.Subject, Data: m.Data, ReceivedAt: time.Now()})
	})
	if err != nil {
		nc.Close()
		c.end(g, err)
		return fmt.Errorf("nats subscribe %s: %w", c.subject, err)
	}
	if err := nc.FlushTimeout(c.flushTimeout()); err != nil {
		nc.Close()
		c.end(g, err)
		return fmt.Errorf("nats flush: %w", err)
	}

	if !c.current(g) {
		nc.Close()
		return context.Canceled
	}
	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()
	if !c.established(g) {
		nc.Close()
		return context.Canceled
	}
	c.log.WithField("subject", c.subject).Infof("nats connected to %s", nc.ConnectedUrlRedacted())
	return nil
}

func (c *NATSConnection) Disconnect(_ context.Context) error {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.mu.Unlock()
	c.invalidate()
	if nc != nil {
		nc.Close()
		c.log.Info("nats closed")
	}
	return nil
}

func (c *NATSConnection) flushTimeout() time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	return 5 * time.Second
}
