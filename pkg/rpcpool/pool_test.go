package rpcpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/twzrd/attention-oracle-go/pkg/logger"
)

var testEndpoints = []string{
	"http://rpc-a.example.com",
	"http://rpc-b.example.com",
	"http://rpc-c.example.com",
}

// newTestPool builds a pool with a frozen clock the test can advance
// through the returned pointer.
func newTestPool(t *testing.T, urls []string, opts Options) (*Pool, *time.Time) {
	t.Helper()

	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	p, err := NewPool(urls, opts, testLogger)
	require.NoError(t, err)
	t.Cleanup(p.Close)

	now := time.Unix(1_700_000_000, 0)
	p.nowFunc = func() time.Time { return now }
	return p, &now
}

func getURL(t *testing.T, p *Pool) string {
	t.Helper()
	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	return conn.URL
}

func TestNewPoolRequiresEndpoints(t *testing.T) {
	testLogger, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	require.NoError(t, err)

	_, err = NewPool(nil, Options{}, testLogger)
	require.Error(t, err)
}

// TestRoundRobinSelection tests rotation across healthy endpoints
func TestRoundRobinSelection(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints, Options{Cooldown: 30 * time.Second})

	require.Equal(t, testEndpoints[0], getURL(t, p))
	require.Equal(t, testEndpoints[1], getURL(t, p))
	require.Equal(t, testEndpoints[2], getURL(t, p))
	require.Equal(t, testEndpoints[0], getURL(t, p))
}

// TestInfrastructureFailureCoolsEndpoint tests the full cooldown cycle:
// a cooled endpoint is skipped while others are healthy and returns to
// rotation exactly when its window elapses.
func TestInfrastructureFailureCoolsEndpoint(t *testing.T) {
	p, now := newTestPool(t, testEndpoints, Options{Cooldown: 30 * time.Second})
	start := *now

	connA, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	require.Equal(t, testEndpoints[0], connA.URL)

	class := p.ReportFailure(connA, context.DeadlineExceeded)
	require.Equal(t, FailureInfrastructure, class)

	// While cooling, rotation only covers B and C
	for i := 0; i < 6; i++ {
		url := getURL(t, p)
		require.NotEqual(t, testEndpoints[0], url)
	}

	// One instant before expiry it is still out of rotation
	*now = start.Add(30*time.Second - time.Millisecond)
	for i := 0; i < 3; i++ {
		require.NotEqual(t, testEndpoints[0], getURL(t, p))
	}

	// At expiry it rejoins
	*now = start.Add(30 * time.Second)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[getURL(t, p)] = true
	}
	require.True(t, seen[testEndpoints[0]])
}

// TestApplicationFailureNeverCools tests that application-level rejections
// leave endpoint health untouched
func TestApplicationFailureNeverCools(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints, Options{Cooldown: 30 * time.Second})

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	class := p.ReportFailure(conn, &jsonRPCError{code: 3, msg: "custom program error: 0x1"})
	require.Equal(t, FailureApplication, class)

	for _, s := range p.Status() {
		require.True(t, s.Healthy)
		require.Zero(t, s.ConsecutiveFailures)
	}
}

/// TestCooldownReArmedOnRepeatFailure tests the flat window semantics:
// each new failure restarts the full window, no escalation
func TestCooldownReArmedOnRepeatFailure(t *testing.T) {
	p, now := newTestPool(t, testEndpoints[:1], Options{Cooldown: 30 * time.Second})
	start := *now

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	p.ReportFailure(conn, context.DeadlineExceeded)

	// Second failure 20s in re-arms the window from that moment
	*now = start.Add(20 * time.Second)
	conn, err = p.GetConnection(context.Background()) // degraded mode, sole endpoint
	require.NoError(t, err)
	p.ReportFailure(conn, context.DeadlineExceeded)

	*now = start.Add(40 * time.Second) // original window elapsed, re-armed one not
	status := p.Status()[0]
	require.False(t, status.Healthy)
	require.Equal(t, uint64(2), status.ConsecutiveFailures)

	*now = start.Add(50 * time.Second)
	require.True(t, p.Status()[0].Healthy)
}

// TestAllCoolingDegradesToEarliestRecovery tests degraded-mode selection
func TestAllCoolingDegradesToEarliestRecovery(t *testing.T) {
	p, now := newTestPool(t, testEndpoints, Options{Cooldown: 30 * time.Second})
	start := *now

	// Fail A at t=0, B at t=5, C at t=10
	for i, offset := range []time.Duration{0, 5 * time.Second, 10 * time.Second} {
		*now = start.Add(offset)
		conn, err := p.GetConnection(context.Background())
		require.NoError(t, err)
		require.Equal(t, testEndpoints[i], conn.URL)
		p.ReportFailure(conn, context.DeadlineExceeded)
	}

	// A expires first, so degraded mode hands out A
	*now = start.Add(11 * time.Second)
	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	require.Equal(t, testEndpoints[0], conn.URL)
}

// TestReportSuccessRestoresHealth tests that a successful degraded-mode
// call ends the cooldown early
func TestReportSuccessRestoresHealth(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints[:1], Options{Cooldown: 30 * time.Second})

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	p.ReportFailure(conn, context.DeadlineExceeded)
	require.False(t, p.Status()[0].Healthy)

	p.ReportSuccess(conn)
	status := p.Status()[0]
	require.True(t, status.Healthy)
	require.Zero(t, status.ConsecutiveFailures)
	require.Empty(t, status.LastError)
}

// TestGetConnectionAfterClose tests pool lifecycle
func TestGetConnectionAfterClose(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints, Options{})

	p.Close()
	_, err := p.GetConnection(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)

	// Close is idempotent
	p.Close()
}

// TestRateLimiterHonorsContext tests that the limiter fails fast when the
// context cannot cover the wait
func TestRateLimiterHonorsContext(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints, Options{RequestsPerSecond: 0.001})

	// First call consumes the burst token
	_, err := p.GetConnection(context.Background())
	require.NoError(t, err)

	// Refill would take ~1000s, far beyond the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.GetConnection(ctx)
	require.Error(t, err)
}

// TestStatusReflectsFailures tests the health snapshot
func TestStatusReflectsFailures(t *testing.T) {
	p, _ := newTestPool(t, testEndpoints, Options{Cooldown: 30 * time.Second})

	conn, err := p.GetConnection(context.Background())
	require.NoError(t, err)
	p.ReportFailure(conn, context.DeadlineExceeded)

	statuses := p.Status()
	require.Len(t, statuses, 3)
	require.False(t, statuses[0].Healthy)
	require.NotEmpty(t, statuses[0].CooldownRemaining)
	require.NotEmpty(t, statuses[0].LastError)
	require.True(t, statuses[1].Healthy)
	require.True(t, statuses[2].Healthy)
}
