package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gridwatch/config"
	"gridwatch/internal/apperr"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BackendClient talks to the external dashboard backend. Every call is
// bounded by its endpoint timeout and returns an *apperr.Error on failure.
type BackendClient struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	timeouts   config.BackendConfig

	mu    sync.RWMutex
	token string
}

func NewBackendClient(logger *zap.Logger, cfg *config.Config) *BackendClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BackendClient{
		logger:     logger.Named("backend"),
		httpClient: &http.Client{},
		baseURL:    strings.TrimRight(cfg.Backend.BaseURL, "/"),
		timeouts:   cfg.Backend,
	}
}

// SetToken sets the bearer token sent with every request. Empty clears it.
func (c *BackendClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *BackendClient) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Health fetches the health record for symbol. fast selects the cheap tier.
func (c *BackendClient) Health(ctx context.Context, symbol string, fast bool) (*Health, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, apperr.Validation("health", "symbol is empty")
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	if fast {
		q.Set("fast", "1")
	}

	var h Health
	if err := c.do(ctx, "health", c.timeouts.HealthTimeout, http.MethodGet, "/api/health?"+q.Encode(), nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// WatchlistSnapshot resolves prices for a batch of watchlist items.
func (c *BackendClient) WatchlistSnapshot(ctx context.Context, items []SnapshotItem) ([]Snapshot, error) {
	if len(items) == 0 {
		return nil, nil
	}

	body := struct {
		Items []SnapshotItem `json:"items"`
	}{Items: items}

	var resp struct {
		Results []Snapshot `json:"results"`
	}
	if err := c.do(ctx, "watchlist snapshot", c.timeouts.SnapshotTimeout, http.MethodPost, "/api/watchlist/snapshot", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GridOrders returns the current simulated orders.
func (c *BackendClient) GridOrders(ctx context.Context) ([]Order, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "grid orders", c.timeouts.GridTimeout, http.MethodGet, "/api/grid/orders", nil, &raw); err != nil {
		return nil, err
	}

	// Either {"orders":[...]} or a bare array.
	var wrapped GridResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped.Error != "" {
			return nil, apperr.New(apperr.KindNetwork, "grid orders", fmt.Errorf("backend: %s", wrapped.Error))
		}
		return wrapped.Orders, nil
	}
	var orders []Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, apperr.New(apperr.KindParse, "grid orders", fmt.Errorf("decode json: %w", err))
	}
	return orders, nil
}

// GridStart starts a grid session.
func (c *BackendClient) GridStart(ctx context.Context, params GridParams) (*GridResponse, error) {
	return c.grid(ctx, "grid start", "/api/grid/start", params)
}

// GridTick advances the simulation by one step.
func (c *BackendClient) GridTick(ctx context.Context) (*GridResponse, error) {
	return c.grid(ctx, "grid tick", "/api/grid/tick", struct{}{})
}

// GridStop stops the grid session.
func (c *BackendClient) GridStop(ctx context.Context) (*GridResponse, error) {
	return c.grid(ctx, "grid stop", "/api/grid/stop", struct{}{})
}

// GridAutorun toggles backend-driven ticking.
func (c *BackendClient) GridAutorun(ctx context.Context, enabled bool) (*GridResponse, error) {
	return c.grid(ctx, "grid autorun", "/api/grid/autorun", map[string]bool{"enabled": enabled})
}

// GridOrderAdd places a manual order.
func (c *BackendClient) GridOrderAdd(ctx context.Context, req OrderRequest) (*GridResponse, error) {
	return c.grid(ctx, "grid order add", "/api/grid/order/add", req)
}

// GridOrderStop cancels one order.
func (c *BackendClient) GridOrderStop(ctx context.Context, id OrderID) (*GridResponse, error) {
	if id == "" {
		return nil, apperr.Validation("grid order stop", "order id is empty")
	}
	return c.grid(ctx, "grid order stop", "/api/grid/order/stop", map[string]string{"id": string(id)})
}

func (c *BackendClient) grid(ctx context.Context, op, path string, body any) (*GridResponse, error) {
	var resp GridResponse
	if err := c.do(ctx, op, c.timeouts.GridTimeout, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" || (resp.OK != nil && !*resp.OK) {
		msg := resp.Error
		if msg == "" {
			msg = "request rejected"
		}
		return nil, apperr.New(apperr.KindNetwork, op, fmt.Errorf("backend: %s", msg))
	}
	return &resp, nil
}

// AI asks the backend for commentary and returns the answer text.
func (c *BackendClient) AI(ctx context.Context, req AIRequest) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", apperr.Validation("ai", "question is empty")
	}

	var resp struct {
		Answer string `json:"answer"`
	}
	if err := c.do(ctx, "ai", c.timeouts.AITimeout, http.MethodPost, "/api/ai", req, &resp); err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// AuthNonce requests a sign-in nonce for address.
func (c *BackendClient) AuthNonce(ctx context.Context, address string) (string, error) {
	var resp struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, "auth nonce", c.timeouts.AuthTimeout, http.MethodPost, "/api/auth/nonce", map[string]string{"address": address}, &resp); err != nil {
		return "", err
	}
	// Some deployments return the full message to sign instead of a bare nonce.
	if resp.Message != "" {
		return resp.Message, nil
	}
	if resp.Nonce == "" {
		return "", apperr.New(apperr.KindParse, "auth nonce", fmt.Errorf("empty nonce"))
	}
	return resp.Nonce, nil
}

// AuthVerify exchanges a signed nonce for a session token.
func (c *BackendClient) AuthVerify(ctx context.Context, address, nonce, signature string) (string, error) {
	body := map[string]string{
		"address":   address,
		"nonce":     nonce,
		"signature": signature,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "auth verify", c.timeouts.AuthTimeout, http.MethodPost, "/api/auth/verify", body, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", apperr.New(apperr.KindParse, "auth verify", fmt.Errorf("empty token"))
	}
	return resp.Token, nil
}

func (c *BackendClient) do(ctx context.Context, op string, timeout time.Duration, method, path string, body, dest any) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return apperr.New(apperr.KindValidation, op, fmt.Errorf("encode body: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("create request: %w", err))
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed",
			zap.String("op", op),
			zap.String("requestID", requestID),
			zap.Error(err),
		)
		return apperr.Classify(op, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Classify(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("backend request",
		zap.String("op", op),
		zap.String("requestID", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(started)),
	)

	if resp.StatusCode/100 != 2 {
		return apperr.New(apperr.KindNetwork, op, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(respBody), 256)))
	}

	if err := json.Unmarshal(respBody, dest); err != nil {
		return apperr.New(apperr.KindParse, op, fmt.Errorf("decode json: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
