package rpcpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Defaults applied when Options leave a field unset
const (
	DefaultCooldown       = 30 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// ErrPoolClosed is returned by GetConnection after Close.
var ErrPoolClosed = errors.New("rpcpool: pool is closed")

type endpointState int

const (
	stateHealthy endpointState = iota
	stateCooling
)

// endpoint is owned exclusively by the pool; all access goes through the
// pool mutex.
type endpoint struct {
	url          string
	client       *rpc.Client // dialed on first use
	state        endpointState
	coolingUntil time.Time
	failures     uint64 // consecutive infrastructure failures
	lastErr      error
}

// Conn is a live handle to one endpoint. Callers report the outcome of
// each use back to the pool so health tracking stays accurate.
type Conn struct {
	URL    string
	Client *rpc.Client

	idx int
}

// Options configures pool behavior.
type Options struct {
	// Cooldown is the flat window an endpoint sits out after an
	// infrastructure failure. Re-armed in full on each new failure;
	// no backoff growth.
	Cooldown time.Duration

	// RequestsPerSecond gates GetConnection across all endpoints.
	// Zero disables rate limiting.
	RequestsPerSecond float64

	// RequestTimeout is the per-call budget callers should apply to
	// requests made through a Conn.
	RequestTimeout time.Duration
}

// Pool maintains a set of upstream RPC endpoints and routes connection
// requests away from recently-failing ones.
//
// State machine per endpoint: Healthy -> (infrastructure failure) ->
// Cooling(until) -> (window elapsed) -> Healthy. Selection is round-robin
// over the Healthy set; when nothing is Healthy the pool degrades to the
// endpoint whose cooldown expires first instead of failing outright.
type Pool struct {
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter

	mu        sync.Mutex
	endpoints []*endpoint
	next      int
	closed    bool

	nowFunc func() time.Time
}

// NewPool creates a pool over the given endpoint URLs.
func NewPool(urls []string, opts Options, logger *zap.Logger) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.New("rpcpool: at least one endpoint URL is required")
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	endpoints := make([]*endpoint, len(urls))
	for i, u := range urls {
		endpoints[i] = &endpoint{url: u}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Pool{
		logger:    logger,
		opts:      opts,
		limiter:   limiter,
		endpoints: endpoints,
		nowFunc:   time.Now,
	}, nil
}

// RequestTimeout is the per-call budget callers should apply to requests
// made through connections from this pool.
func (p *Pool) RequestTimeout() time.Duration {
	return p.opts.RequestTimeout
}

// GetConnection returns a connection to the next endpoint in rotation.
// Endpoints whose cooldown window has elapsed rejoin the rotation here.
// When every endpoint is cooling, the one closest to recovery is returned
// rather than an error: a degraded answer beats none while upstreams
// flap.
func (p *Pool) GetConnection(ctx context.Context) (*Conn, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	now := p.nowFunc()
	for _, ep := range p.endpoints {
		if ep.state == stateCooling && !now.Before(ep.coolingUntil) {
			ep.state = stateHealthy
		}
	}

	idx := -1
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		cand := (p.next + i) % n
		if p.endpoints[cand].state == stateHealthy {
			idx = cand
			p.next = (cand + 1) % n
			break
		}
	}

	if idx == -1 {
		idx = 0
		for i, ep := range p.endpoints {
			if ep.coolingUntil.Before(p.endpoints[idx].coolingUntil) {
				idx = i
			}
		}
		p.logger.Sugar().Warnw("All RPC endpoints cooling, degrading to earliest recovery",
			"endpoint", p.endpoints[idx].url,
			"cooldown_remaining", p.endpoints[idx].coolingUntil.Sub(now).String())
	}

	ep := p.endpoints[idx]
	if ep.client == nil {
		client, err := rpc.DialContext(ctx, ep.url)
		if err != nil {
			ep.state = stateCooling
			ep.coolingUntil = now.Add(p.opts.Cooldown)
			ep.failures++
			ep.lastErr = err
			return nil, pkgerrors.Wrapf(err, "failed to dial RPC endpoint %s", ep.url)
		}
		ep.client = client
	}

	return &Conn{URL: ep.url, Client: ep.client, idx: idx}, nil
}

// ReportFailure records the outcome of a failed call and returns the
// failure class. Only infrastructure failures cool the endpoint;
// application failures mean the endpoint is fine and leave its state
// untouched. Each infrastructure failure re-arms the full cooldown
// window.
func (p *Pool) ReportFailure(conn *Conn, err error) FailureClass {
	class := Classify(err)
	if class != FailureInfrastructure || conn == nil {
		return class
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || conn.idx < 0 || conn.idx >= len(p.endpoints) {
		return class
	}

	ep := p.endpoints[conn.idx]
	ep.state = stateCooling
	ep.coolingUntil = p.nowFunc().Add(p.opts.Cooldown)
	ep.failures++
	ep.lastErr = err

	p.logger.Sugar().Warnw("RPC endpoint cooling after infrastructure failure",
		"endpoint", ep.url,
		"cooldown", p.opts.Cooldown.String(),
		"consecutive_failures", ep.failures,
		"error", err)

	return class
}

// ReportSuccess restores the endpoint behind conn to Healthy and clears
// its failure bookkeeping.
func (p *Pool) ReportSuccess(conn *Conn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || conn.idx < 0 || conn.idx >= len(p.endpoints) {
		return
	}

	ep := p.endpoints[conn.idx]
	ep.state = stateHealthy
	ep.coolingUntil = time.Time{}
	ep.failures = 0
	ep.lastErr = nil
}

// EndpointStatus is a point-in-time view of one endpoint's health.
type EndpointStatus struct {
	URL                 string `json:"url"`
	Healthy             bool   `json:"healthy"`
	CooldownRemaining   string `json:"cooldown_remaining,omitempty"`
	ConsecutiveFailures uint64 `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
}

// Status reports the health of every endpoint in pool order.
func (p *Pool) Status() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFunc()
	statuses := make([]EndpointStatus, len(p.endpoints))
	for i, ep := range p.endpoints {
		cooling := ep.state == stateCooling && now.Before(ep.coolingUntil)
		s := EndpointStatus{
			URL:                 ep.url,
			Healthy:             !cooling,
			ConsecutiveFailures: ep.failures,
		}
		if cooling {
			s.CooldownRemaining = ep.coolingUntil.Sub(now).String()
		}
		if ep.lastErr != nil {
			s.LastError = ep.lastErr.Error()
		}
		statuses[i] = s
	}
	return statuses
}

// Close closes all dialed clients. The pool is unusable afterwards;
// Close is idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, ep := range p.endpoints {
		if ep.client != nil {
			ep.client.Close()
			ep.client = nil
		}
	}
}
