package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memCounter) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key]++
	return m.counts[key], nil
}

func newLimitedRouter(counter Counter, limit int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	log := slog.New(slog.DiscardHandler)
	r.POST("/limited", RateLimiter(counter, limit, time.Minute, ClientRateLimit{}, log), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRateLimiter_RejectsAboveLimit(t *testing.T) {
	r := newLimitedRouter(&memCounter{}, 2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/limited", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_CounterError(t *testing.T) {
	r := newLimitedRouter(&memCounter{err: errors.New("connection refused")}, 2)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/limited", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestClientRateLimit_KeyIncludesRoute(t *testing.T) {
	counter := &memCounter{}
	r := newLimitedRouter(counter, 5)

	req := httptest.NewRequest(http.MethodPost, "/limited", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, counter.counts, "rate:10.0.0.7:POST:/limited")
}
