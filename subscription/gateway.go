// Package subscription serves GraphQL subscriptions over websockets using the
// graphql-transport-ws protocol.
package subscription

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	graphql "github.com/graph-gophers/graphql-go"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planner-api/graph"
)

const (
	defaultInitTimeout  = 3 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Executor starts subscription operations.
type Executor interface {
	Subscribe(ctx context.Context, req graph.Request) (<-chan *graphql.Response, error)
}

// Config configures a Gateway.
type Config struct {
	// InitTimeout bounds the wait for connection_init (default 3s).
	InitTimeout time.Duration
	// WriteTimeout bounds each websocket write (default 10s).
	WriteTimeout time.Duration
	Logger       *log.Logger
}

// Gateway accepts websocket connections and streams subscription results.
type Gateway struct {
	exec     Executor
	cfg      Config
	log      *log.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	closing bool
	conns   map[*conn]struct{}
	wg      sync.WaitGroup
}

func New(exec Executor, cfg Config) *Gateway {
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{
		exec: exec,
		cfg:  cfg,
		log:  logger,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{Protocol},
			CheckOrigin:  func(*http.Request) bool { return true },
		},
		conns: make(map[*conn]struct{}),
	}
}

// Upgrade routes websocket upgrade requests to the gateway and everything
// else to next.
func (g *Gateway) Upgrade(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if websocket.IsWebSocketUpgrade(c.Request()) {
			return g.Handle(c)
		}
		return next(c)
	}
}

// Handle upgrades the request and serves the connection until it closes.
func (g *Gateway) Handle(c echo.Context) error {
	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		return c.String(http.StatusServiceUnavailable, "server shutting down")
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		g.log.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	cn := newConn(g, ws)
	if ws.Subprotocol() != Protocol {
		cn.closeWith(CloseBadSubprotocol, "Subprotocol not acceptable")
		return nil
	}
	g.track(cn)
	defer g.untrack(cn)
	cn.serve()
	return nil
}

// Active returns the number of open connections.
func (g *Gateway) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown stops accepting connections and drains the open ones: running
// operations deliver the events published before the drain, then each
// connection is closed with 1001. When ctx ends first, the remaining
// operations are cancelled and their sockets closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closing = true
	conns := make([]*conn, 0, len(g.conns))
	for cn := range g.conns {
		conns = append(conns, cn)
	}
	g.mu.Unlock()

	g.log.WithField("connections", len(conns)).Info("draining subscription connections")
	for _, cn := range conns {
		go cn.shutdown()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		for cn := range g.conns {
			cn.cancel()
			_ = cn.ws.Close()
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *Gateway) track(cn *conn) {
	g.mu.Lock()
	g.conns[cn] = struct{}{}
	closing := g.closing
	g.mu.Unlock()
	if closing {
		go cn.shutdown()
	}
}

func (g *Gateway) untrack(cn *conn) {
	g.mu.Lock()
	delete(g.conns, cn)
	g.mu.Unlock()
}
