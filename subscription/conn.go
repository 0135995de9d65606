package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"planner-api/graph"
)

type conn struct {
	g   *Gateway
	ws  *websocket.Conn
	log *log.Entry

	ctx    context.Context
	cancel context.CancelFunc

	wmu sync.Mutex

	mu          sync.Mutex
	initialised bool
	acked       bool
	draining    bool
	ops         map[string]context.CancelFunc
	opsWG       sync.WaitGroup

	drain     chan struct{}
	drainOnce sync.Once
	closeOnce sync.Once
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &conn{
		g:      g,
		ws:     ws,
		log:    g.log.WithField("conn", id),
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]context.CancelFunc),
		drain:  make(chan struct{}),
	}
}

func (c *conn) serve() {
	c.log.Debug("subscription connection opened")
	timer := time.AfterFunc(c.g.cfg.InitTimeout, func() {
		c.mu.Lock()
		initialised := c.initialised
		c.mu.Unlock()
		if !initialised {
			c.closeWith(CloseInitTimeout, "Connection initialisation timeout")
		}
	})
	defer timer.Stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.log.WithError(err).Debug("subscription connection read failed")
			}
			break
		}
		if !c.handle(data) {
			break
		}
	}

	c.stopOps()
	_ = c.ws.Close()
	c.log.Debug("subscription connection closed")
}

// handle processes one client message and reports whether to keep reading.
func (c *conn) handle(data []byte) bool {
	var msg inbound
	if err := sonic.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		c.closeWith(CloseInvalidMessage, "Invalid message received")
		return false
	}
	switch msg.Type {
	case msgConnectionInit:
		c.mu.Lock()
		again := c.initialised
		c.initialised = true
		c.mu.Unlock()
		if again {
			c.closeWith(CloseTooManyInitialise, "Too many initialisation requests")
			return false
		}
		if err := c.write(outbound{Type: msgConnectionAck}); err != nil {
			return false
		}
		c.mu.Lock()
		c.acked = true
		c.mu.Unlock()
	case msgPing:
		if err := c.write(outbound{Type: msgPong}); err != nil {
			return false
		}
	case msgPong:
	case msgSubscribe:
		return c.subscribe(msg)
	case msgComplete:
		c.mu.Lock()
		cancel, ok := c.ops[msg.ID]
		delete(c.ops, msg.ID)
		c.mu.Unlock()
		if ok {
			cancel()
			c.log.WithField("op", msg.ID).Debug("operation completed by client")
		}
	default:
		c.closeWith(CloseInvalidMessage, "Invalid message received")
		return false
	}
	return true
}

func (c *conn) subscribe(msg inbound) bool {
	var req graph.Request
	if msg.ID == "" || len(msg.Payload) == 0 {
		c.closeWith(CloseInvalidMessage, "Invalid message received")
		return false
	}
	if err := sonic.Unmarshal(msg.Payload, &req); err != nil || req.Query == "" {
		c.closeWith(CloseInvalidMessage, "Invalid message received")
		return false
	}

	c.mu.Lock()
	if !c.acked {
		c.mu.Unlock()
		c.closeWith(CloseUnauthorized, "Unauthorized")
		return false
	}
	if _, exists := c.ops[msg.ID]; exists {
		c.mu.Unlock()
		c.closeWith(CloseSubscriberExists, "Subscriber for "+msg.ID+" already exists")
		return false
	}
	if c.draining || c.ctx.Err() != nil {
		c.mu.Unlock()
		return true
	}
	ctx, cancel := context.WithCancel(graph.WithDrain(c.ctx, c.drain))
	c.ops[msg.ID] = cancel
	c.opsWG.Add(1)
	c.mu.Unlock()

	go c.run(ctx, cancel, msg.ID, req)
	return true
}

func (c *conn) run(ctx context.Context, cancel context.CancelFunc, id string, req graph.Request) {
	defer c.opsWG.Done()
	defer cancel()
	logger := c.log.WithFields(log.Fields{"op": id, "operation": req.OperationName})
	logger.Debug("operation started")

	stream, err := c.g.exec.Subscribe(ctx, req)
	if err != nil {
		logger.WithError(err).Error("subscribe failed")
		c.finish(id)
		_ = c.write(outbound{ID: id, Type: msgError, Payload: []map[string]string{{"message": err.Error()}}})
		return
	}
	first := true
	for resp := range stream {
		if first && errorsOnly(resp) {
			c.finish(id)
			_ = c.write(errorMessage(id, resp.Errors))
			for range stream {
			}
			return
		}
		first = false
		if err := c.write(nextMessage(id, resp)); err != nil {
			cancel()
		}
	}
	if c.finish(id) {
		_ = c.write(completeMessage(id))
	}
	logger.Debug("operation finished")
}

// finish unregisters op id and reports whether it was still registered.
func (c *conn) finish(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ops[id]
	delete(c.ops, id)
	return ok
}

// stopOps cancels every operation and waits for their goroutines.
func (c *conn) stopOps() {
	c.mu.Lock()
	c.cancel()
	c.mu.Unlock()
	c.opsWG.Wait()
}

// shutdown refuses new operations, lets the running ones deliver what was
// published before the drain, then closes with 1001.
func (c *conn) shutdown() {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()
	c.drainOnce.Do(func() { close(c.drain) })
	c.opsWG.Wait()
	c.cancel()
	c.closeWith(CloseGoingAway, "server shutting down")
}

func (c *conn) write(msg outbound) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		c.log.WithError(err).Error("marshal websocket message")
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.g.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.WithError(err).Debug("websocket write failed")
		_ = c.ws.Close()
		return err
	}
	return nil
}

// closeWith sends a close frame and closes the socket, which ends serve.
func (c *conn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.log.WithFields(log.Fields{"code": code, "reason": reason}).Debug("closing subscription connection")
		c.wmu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.g.cfg.WriteTimeout))
		c.wmu.Unlock()
		_ = c.ws.Close()
	})
}
