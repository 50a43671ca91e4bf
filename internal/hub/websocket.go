package hub

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSConnection reads hub envelopes from a WebSocket endpoint, one envelope
// per frame.
type WSConnection struct {
	*link
	url    string
	tokens TokenSource
	dialer *websocket.Dialer

	ws *websocket.Conn // guarded by link.mu
}

func NewWSConnection(opts Options, log *logrus.Entry) *WSConnection {
	d := *websocket.DefaultDialer
	if opts.ConnectTimeout > 0 {
		d.HandshakeTimeout = opts.ConnectTimeout
	}
	return &WSConnection{
		link:   newLink(opts.Buffer, log),
		url:    opts.URL,
		tokens: opts.Tokens,
		dialer: &d,
	}
}

func (c *WSConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.ws != nil && c.State() == Connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	tok, err := bearer(ctx, c.tokens)
	if err != nil {
		return err
	}
	header := http.Header{}
	if tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	g, stop := c.begin()
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.end(g, err)
		if resp != nil {
			return fmt.Errorf("websocket dial %s: status %d: %w", c.url, resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.gen != g {
		c.mu.Unlock()
		ws.Close()
		return context.Canceled
	}
	c.ws = ws
	c.mu.Unlock()
	if !c.established(g) {
		ws.Close()
		return context.Canceled
	}
	go c.readLoop(g, stop, ws)
	c.log.Infof("websocket connected to %s", c.url)
	return nil
}

func (c *WSConnection) readLoop(g uint64, stop <-chan struct{}, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			c.end(g, err)
			return
		}
		c.deliver(stop, Message{Data: data, ReceivedAt: time.Now()})
	}
}

func (c *WSConnection) Disconnect(_ context.Context) error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	c.invalidate()
	if ws == nil {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.log.Info("websocket closed")
	return ws.Close()
}
