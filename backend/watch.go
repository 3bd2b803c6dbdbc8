package backend

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	watchPingInterval = 30 * time.Second
	watchRedialDelay  = 5 * time.Second
)

// Watcher tracks backend reachability over the realtime websocket channel.
// A successful (re)connect fires OnUp; losing the connection fires OnDown.
// The offline engine is driven through these callbacks rather than ambient
// platform events, so online/offline transitions stay testable by direct
// invocation.
type Watcher struct {
	logger *slog.Logger
	client *Client

	OnUp   func()
	OnDown func()
}

func NewWatcher(logger *slog.Logger, client *Client, onUp, onDown func()) *Watcher {
	return &Watcher{
		logger: logger.WithGroup("watcher"),
		client: client,
		OnUp:   onUp,
		OnDown: onDown,
	}
}

// Run dials the realtime endpoint and holds the connection until ctx is
// cancelled, redialing after watchRedialDelay whenever the link drops.
func (w *Watcher) Run(ctx context.Context) {
	for {
		if err := w.hold(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("connectivity lost", "error", err)
			if w.OnDown != nil {
				w.OnDown()
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("connectivity watcher stopped")
			return
		case <-time.After(watchRedialDelay):
		}
	}
}

// hold dials once, reports OnUp on success, then blocks reading the
// connection until it fails or ctx is cancelled.
func (w *Watcher) hold(ctx context.Context) error {
	wsURL := url.URL{
		Scheme: "wss",
		Host:   w.client.BaseURL().Host,
		Path:   "/api/v1/realtime",
	}
	query := wsURL.Query()
	query.Set("token", w.client.apiKey)
	wsURL.RawQuery = query.Encode()

	header := http.Header{}
	header.Set("Authorization", w.client.apiKey)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: w.client.SkipVerify(),
		},
	}

	conn, _, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		w.logger.Debug("websocket dial failed", "url", wsURL.String(), "error", err)
		return err
	}
	defer conn.Close()

	w.logger.Info("connectivity established", "url", wsURL.String())
	if w.OnUp != nil {
		w.OnUp()
	}

	conn.SetPongHandler(func(string) error {
		w.logger.Debug("received pong from server")
		return nil
	})

	// Periodic pings keep intermediaries from dropping an idle link and
	// surface a dead peer as a write error.
	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(watchPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					w.logger.Debug("error sending ping", "error", err)
					return
				}
			case <-ctx.Done():
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-pingDone:
				return
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.logger.Debug("error reading from websocket", "error", err)
			}
			return err
		}
	}
}
