package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessHandler(t *testing.T) {
	handler := LivenessHandler()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ok")
}

func TestChecker_AllHealthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusOK })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_OneDown(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusOK })
	c.Register("cache", func(ctx context.Context) Status { return StatusDown })

	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_Degraded_StillReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", func(ctx context.Context) Status { return StatusDegraded })

	assert.True(t, c.IsReady(context.Background()))
}

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	assert.True(t, c.IsReady(context.Background()))
}

func TestReadinessHandler_Healthy(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("svc", func(ctx context.Context) Status { return StatusOK })

	handler := c.ReadinessHandler()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ready")
}

func TestReadinessHandler_NotReady(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("svc", func(ctx context.Context) Status { return StatusDown })

	handler := c.ReadinessHandler()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not_ready")
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	assert.Equal(t, StatusOK, PingCheck(fakePinger{})(context.Background()))
	assert.Equal(t, StatusDown, PingCheck(fakePinger{err: errors.New("closed")})(context.Background()))
}

func TestChecker_LastCachesResults(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("db", PingCheck(fakePinger{err: errors.New("closed")}))
	assert.Empty(t, c.Last())

	c.RunAll(context.Background())
	assert.Equal(t, map[string]Status{"db": StatusDown}, c.Last())
}

func TestReadinessHandler_Report(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("database", PingCheck(fakePinger{}))
	c.Register("db_size", LimitCheck(func() (int64, error) { return 2048, nil }, 1024))

	rr := httptest.NewRecorder()
	c.ReadinessHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var report Report
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&report))
	assert.Equal(t, "ready", report.Status)
	assert.Equal(t, StatusOK, report.Checks["database"])
	assert.Equal(t, StatusDegraded, report.Checks["db_size"])
	assert.NotEmpty(t, report.Uptime)
	assert.False(t, report.Timestamp.IsZero())
}

func TestLimitCheck(t *testing.T) {
	size := int64(10)
	check := LimitCheck(func() (int64, error) { return size, nil }, 10)
	assert.Equal(t, StatusOK, check(context.Background()))

	size = 11
	assert.Equal(t, StatusDegraded, check(context.Background()))

	disabled := LimitCheck(func() (int64, error) { return 1 << 40, nil }, 0)
	assert.Equal(t, StatusOK, disabled(context.Background()))
}

func TestLimitCheck_MeasureFailureIsDegraded(t *testing.T) {
	check := LimitCheck(func() (int64, error) { return 0, errors.New("pragma failed") }, 1024)
	assert.Equal(t, StatusDegraded, check(context.Background()))
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker(zerolog.Nop(), WithCheckTimeout(10*time.Millisecond))
	c.Register("slow", func(ctx context.Context) Status {
		<-ctx.Done()
		return StatusDown
	})

	start := time.Now()
	assert.False(t, c.IsReady(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}
