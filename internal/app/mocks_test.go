package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"gridwatch/clients/backend"
	"gridwatch/clients/notifier"
	"gridwatch/clients/wallet"
	"gridwatch/internal/kvstore"
)

func newMemoryStore() *kvstore.Store {
	return kvstore.New(nil, kvstore.NewMemoryBackend())
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingBackend fails every storage call.
type failingBackend struct {
	mu    sync.Mutex
	calls int
}

func (b *failingBackend) Get(context.Context, string) ([]byte, error) {
	b.count()
	return nil, errors.New("storage offline")
}

func (b *failingBackend) Set(context.Context, string, []byte) error {
	b.count()
	return errors.New("quota exceeded")
}

func (b *failingBackend) Close() error { return nil }

func (b *failingBackend) count() {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
}

func (b *failingBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// mockNotifier records what it is sent.
type mockNotifier struct {
	mu      sync.Mutex
	notices []notifier.Notice
	events  []notifier.OrderEvent
}

func (n *mockNotifier) SendNotice(notice notifier.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *mockNotifier) SendOrderEvent(event notifier.OrderEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *mockNotifier) Close() error { return nil }

func (n *mockNotifier) Notices() []notifier.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Notice(nil), n.notices...)
}

func (n *mockNotifier) Events() []notifier.OrderEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.OrderEvent(nil), n.events...)
}

// healthCall records one Health request.
type healthCall struct {
	Symbol string
	Fast   bool
}

// MockBackend implements BackendAPI. Unset function fields return zero
// values. Calls are recorded.
type MockBackend struct {
	HealthFunc   func(ctx context.Context, symbol string, fast bool) (*backend.Health, error)
	SnapshotFunc func(ctx context.Context, items []backend.SnapshotItem) ([]backend.Snapshot, error)
	OrdersFunc   func(ctx context.Context) ([]backend.Order, error)
	GridFunc     func(ctx context.Context, op string, body any) (*backend.GridResponse, error)
	AIFunc       func(ctx context.Context, req backend.AIRequest) (string, error)
	NonceFunc    func(ctx context.Context, address string) (string, error)
	VerifyFunc   func(ctx context.Context, address, nonce, signature string) (string, error)

	mu            sync.Mutex
	healthCalls   []healthCall
	snapshotCalls [][]backend.SnapshotItem
	gridCalls     []string
	token         string
}

func (m *MockBackend) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *MockBackend) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *MockBackend) Health(ctx context.Context, symbol string, fast bool) (*backend.Health, error) {
	m.mu.Lock()
	m.healthCalls = append(m.healthCalls, healthCall{Symbol: symbol, Fast: fast})
	m.mu.Unlock()
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx, symbol, fast)
	}
	return &backend.Health{}, nil
}

func (m *MockBackend) HealthCalls() []healthCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]healthCall(nil), m.healthCalls...)
}

func (m *MockBackend) WatchlistSnapshot(ctx context.Context, items []backend.SnapshotItem) ([]backend.Snapshot, error) {
	m.mu.Lock()
	m.snapshotCalls = append(m.snapshotCalls, items)
	m.mu.Unlock()
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc(ctx, items)
	}
	return nil, nil
}

func (m *MockBackend) SnapshotCalls() [][]backend.SnapshotItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]backend.SnapshotItem(nil), m.snapshotCalls...)
}

func (m *MockBackend) GridOrders(ctx context.Context) ([]backend.Order, error) {
	if m.OrdersFunc != nil {
		return m.OrdersFunc(ctx)
	}
	return nil, nil
}

func (m *MockBackend) grid(ctx context.Context, op string, body any) (*backend.GridResponse, error) {
	m.mu.Lock()
	m.gridCalls = append(m.gridCalls, op)
	m.mu.Unlock()
	if m.GridFunc != nil {
		return m.GridFunc(ctx, op, body)
	}
	return &backend.GridResponse{}, nil
}

func (m *MockBackend) GridCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.gridCalls...)
}

func (m *MockBackend) GridStart(ctx context.Context, params backend.GridParams) (*backend.GridResponse, error) {
	return m.grid(ctx, "start", params)
}

func (m *MockBackend) GridTick(ctx context.Context) (*backend.GridResponse, error) {
	return m.grid(ctx, "tick", nil)
}

func (m *MockBackend) GridStop(ctx context.Context) (*backend.GridResponse, error) {
	return m.grid(ctx, "stop", nil)
}

func (m *MockBackend) GridAutorun(ctx context.Context, enabled bool) (*backend.GridResponse, error) {
	return m.grid(ctx, "autorun", enabled)
}

func (m *MockBackend) GridOrderAdd(ctx context.Context, req backend.OrderRequest) (*backend.GridResponse, error) {
	return m.grid(ctx, "order/add", req)
}

func (m *MockBackend) GridOrderStop(ctx context.Context, id backend.OrderID) (*backend.GridResponse, error) {
	return m.grid(ctx, "order/stop", id)
}

func (m *MockBackend) AI(ctx context.Context, req backend.AIRequest) (string, error) {
	if m.AIFunc != nil {
		return m.AIFunc(ctx, req)
	}
	return "", nil
}

func (m *MockBackend) AuthNonce(ctx context.Context, address string) (string, error) {
	if m.NonceFunc != nil {
		return m.NonceFunc(ctx, address)
	}
	return "nonce-" + address, nil
}

func (m *MockBackend) AuthVerify(ctx context.Context, address, nonce, signature string) (string, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, address, nonce, signature)
	}
	return "token", nil
}

// mockSigner is a Signer with a fixed address.
type mockSigner struct {
	mu       sync.Mutex
	address  string
	disabled bool
	signErr  error
	signed   []string
}

func (s *mockSigner) IsEnabled() bool { return !s.disabled }

func (s *mockSigner) Connect() (wallet.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return wallet.Connection{Address: s.address, Provider: "mock"}, nil
}

func (s *mockSigner) SignMessage(message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signErr != nil {
		return "", s.signErr
	}
	s.signed = append(s.signed, message)
	return "sig:" + message, nil
}

func (s *mockSigner) SetAddress(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = address
}
