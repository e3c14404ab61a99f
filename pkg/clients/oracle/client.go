package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/twzrd/attention-oracle-go/pkg/rpcpool"
	"github.com/twzrd/attention-oracle-go/pkg/util"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides default retry settings
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialBackoff:  100 * time.Millisecond,
	MaxBackoff:      5 * time.Second,
	BackoffMultiple: 2.0,
}

// Query selects one sealed epoch on the server. TokenGroup and Category
// narrow the selection on servers whose store carries them.
type Query struct {
	Channel    string
	Epoch      uint64
	TokenGroup string
	Category   string
}

// Participant is one row of the frozen participant list.
type Participant struct {
	Index    uint32
	UserHash [32]byte
}

// Proof is a server-verified membership proof for one participant.
type Proof struct {
	Channel  string
	Epoch    uint64
	Index    uint32
	UserHash [32]byte
	Root     [32]byte
	Siblings [][32]byte
}

// ClaimStatus is the decoded on-chain claim state for one index.
type ClaimStatus struct {
	Account      string
	Epoch        uint64
	Index        uint32
	Claimed      bool
	ClaimCount   uint32
	TotalClaimed uint64
	Closed       bool
	Root         [32]byte
}

// Health is the server's serving state.
type Health struct {
	Status    string
	Cache     string
	Endpoints []rpcpool.EndpointStatus
}

// StatusError is a non-2xx answer from the server, carrying the server's
// error message when one was present.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// ClientConfig holds the configuration for the oracle client
type ClientConfig struct {
	BaseURL    string
	Logger     *zap.Logger
	HTTPClient *http.Client // optional; defaults to a 10 second timeout client
	Retry      *RetryConfig // optional; defaults to DefaultRetryConfig
}

// Client is an HTTP client for a distribution oracle server.
type Client struct {
	baseURL    string
	logger     *zap.Logger
	httpClient *http.Client
	retry      RetryConfig
}

// NewClient creates a new oracle client instance
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	retry := DefaultRetryConfig
	if config.Retry != nil {
		retry = *config.Retry
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		logger:     config.Logger,
		httpClient: httpClient,
		retry:      retry,
	}, nil
}

func (q Query) values() url.Values {
	v := url.Values{}
	v.Set("channel", q.Channel)
	v.Set("epoch", strconv.FormatUint(q.Epoch, 10))
	if q.TokenGroup != "" {
		v.Set("tokenGroup", q.TokenGroup)
	}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	return v
}

type rootPayload struct {
	Channel string `json:"channel"`
	Epoch   uint64 `json:"epoch"`
	Root    string `json:"root"`
}

// EpochRoot fetches the sealed Merkle root for one epoch of a channel.
func (c *Client) EpochRoot(ctx context.Context, q Query) ([32]byte, error) {
	var payload rootPayload
	if err := c.getJSON(ctx, "/epoch/root", q.values(), &payload); err != nil {
		return [32]byte{}, err
	}
	return util.DecodeHash32(payload.Root)
}

type participantsPayload struct {
	Participants []struct {
		Index    uint32 `json:"index"`
		UserHash string `json:"user_hash"`
	} `json:"participants"`
}

// EpochParticipants fetches the frozen participant list in index order.
func (c *Client) EpochParticipants(ctx context.Context, q Query) ([]Participant, error) {
	var payload participantsPayload
	if err := c.getJSON(ctx, "/epoch/participants", q.values(), &payload); err != nil {
		return nil, err
	}

	participants := make([]Participant, len(payload.Participants))
	for i, p := range payload.Participants {
		userHash, err := util.DecodeHash32(p.UserHash)
		if err != nil {
			return nil, fmt.Errorf("participant %d: %w", i, err)
		}
		participants[i] = Participant{Index: p.Index, UserHash: userHash}
	}
	return participants, nil
}

type proofPayload struct {
	Channel  string   `json:"channel"`
	Epoch    uint64   `json:"epoch"`
	Index    uint32   `json:"index"`
	UserHash string   `json:"user_hash"`
	Root     string   `json:"root"`
	Siblings []string `json:"siblings"`
}

// EpochProof fetches the membership proof for the participant at index.
func (c *Client) EpochProof(ctx context.Context, q Query, index uint32) (*Proof, error) {
	v := q.values()
	v.Set("index", strconv.FormatUint(uint64(index), 10))
	return c.fetchProof(ctx, v)
}

// EpochProofByUser fetches the membership proof for a user hash.
func (c *Client) EpochProofByUser(ctx context.Context, q Query, userHash [32]byte) (*Proof, error) {
	v := q.values()
	v.Set("user", util.EncodeHash32(userHash))
	return c.fetchProof(ctx, v)
}

func (c *Client) fetchProof(ctx context.Context, v url.Values) (*Proof, error) {
	var payload proofPayload
	if err := c.getJSON(ctx, "/epoch/proof", v, &payload); err != nil {
		return nil, err
	}

	userHash, err := util.DecodeHash32(payload.UserHash)
	if err != nil {
		return nil, fmt.Errorf("user hash: %w", err)
	}
	root, err := util.DecodeHash32(payload.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}
	siblings := make([][32]byte, len(payload.Siblings))
	for i, s := range payload.Siblings {
		siblings[i], err = util.DecodeHash32(s)
		if err != nil {
			return nil, fmt.Errorf("sibling %d: %w", i, err)
		}
	}

	return &Proof{
		Channel:  payload.Channel,
		Epoch:    payload.Epoch,
		Index:    payload.Index,
		UserHash: userHash,
		Root:     root,
		Siblings: siblings,
	}, nil
}

// VerifyProof asks the server to check a leaf/siblings/root triple.
func (c *Client) VerifyProof(ctx context.Context, leaf []byte, siblings [][]byte, root []byte) (bool, error) {
	sibs := make([]string, len(siblings))
	for i, s := range siblings {
		sibs[i] = hexutil.Encode(s)
	}
	req := map[string]any{
		"leaf":     hexutil.Encode(leaf),
		"siblings": sibs,
		"root":     hexutil.Encode(root),
	}

	var payload struct {
		Valid bool `json:"valid"`
	}
	if err := c.postJSON(ctx, "/proof/verify", req, &payload); err != nil {
		return false, err
	}
	return payload.Valid, nil
}

type claimStatusPayload struct {
	Account      string `json:"account"`
	Epoch        uint64 `json:"epoch"`
	Index        uint32 `json:"index"`
	Claimed      bool   `json:"claimed"`
	ClaimCount   uint32 `json:"claim_count"`
	TotalClaimed uint64 `json:"total_claimed"`
	Closed       bool   `json:"closed"`
	Root         string `json:"root"`
}

// ClaimStatus reads the on-chain claim state for one index of an epoch
// distribution account.
func (c *Client) ClaimStatus(ctx context.Context, account string, index uint32) (*ClaimStatus, error) {
	v := url.Values{}
	v.Set("account", account)
	v.Set("index", strconv.FormatUint(uint64(index), 10))

	var payload claimStatusPayload
	if err := c.getJSON(ctx, "/claim/status", v, &payload); err != nil {
		return nil, err
	}
	root, err := util.DecodeHash32(payload.Root)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}

	return &ClaimStatus{
		Account:      payload.Account,
		Epoch:        payload.Epoch,
		Index:        payload.Index,
		Claimed:      payload.Claimed,
		ClaimCount:   payload.ClaimCount,
		TotalClaimed: payload.TotalClaimed,
		Closed:       payload.Closed,
		Root:         root,
	}, nil
}

// Health reports the server's serving state.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var payload struct {
		Status    string                   `json:"status"`
		Cache     string                   `json:"cache"`
		Endpoints []rpcpool.EndpointStatus `json:"endpoints"`
	}
	if err := c.getJSON(ctx, "/health", nil, &payload); err != nil {
		return nil, err
	}
	return &Health{
		Status:    payload.Status,
		Cache:     payload.Cache,
		Endpoints: payload.Endpoints,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, raw, out)
}

// do runs one request with retries. Transport failures and 5xx answers
// are retried with backoff; any other answer is returned as-is because
// the server has already decided.
func (c *Client) do(ctx context.Context, method, requestURL string, body []byte, out any) error {
	backoff := c.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * c.retry.BackoffMultiple)
			if backoff > c.retry.MaxBackoff {
				backoff = c.retry.MaxBackoff
			}
		}

		err := c.doOnce(ctx, method, requestURL, body, out)
		if err == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			return err
		}
		lastErr = err
		c.logger.Sugar().Warnw("Oracle request failed",
			"method", method,
			"url", requestURL,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, requestURL string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error != "" {
			msg = envelope.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
