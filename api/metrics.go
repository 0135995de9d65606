package api

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const metricsKey = "api.request.metrics"

type requestMetrics struct {
	logger        *log.Logger
	route         string
	method        string
	start         time.Time
	storeDuration time.Duration
	items         int
	hasItems      bool
	errorStage    string
}

func newRequestMetrics(logger *log.Logger, method, route string) *requestMetrics {
	return &requestMetrics{
		logger: logger,
		route:  route,
		method: method,
		start:  time.Now(),
	}
}

// RequestMetrics logs one timing entry per request. Handlers add store
// timings and result sizes through metricsFrom. Websocket upgrades are not
// timed.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			if c.IsWebSocket() {
				return next(c)
			}
			m := newRequestMetrics(logger, c.Request().Method, c.Path())
			c.Set(metricsKey, m)
			defer func() {
				m.Log(c.Response().Status, err)
			}()
			return next(c)
		}
	}
}

// metricsFrom returns the request metrics, or a detached recorder when the
// middleware is not installed.
func metricsFrom(c echo.Context) *requestMetrics {
	if m, ok := c.Get(metricsKey).(*requestMetrics); ok {
		return m
	}
	return &requestMetrics{start: time.Now()}
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetItems(count int) {
	if count < 0 {
		count = 0
	}
	m.items = count
	m.hasItems = true
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    m.route,
		"method":   m.method,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.hasItems {
		fields["items"] = m.items
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("api.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
