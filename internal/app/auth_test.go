package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"gridwatch/internal/apperr"
	"gridwatch/internal/kvstore"

	"github.com/golang-jwt/jwt/v5"
)

const (
	addrA = "0x970E8128AB834E8EAC17Ab8E3812F010678CF791"
	addrB = "0x1111111111111111111111111111111111111111"
)

type authFixture struct {
	store  *kvstore.Store
	api    *MockBackend
	signer *mockSigner
	clock  *fakeClock
	auth   *AuthSession
	events *[]EventType
	bus    *Bus
}

func newAuthFixture(store *kvstore.Store) *authFixture {
	bus := NewBus()
	var events []EventType
	bus.Subscribe(EventWalletChanged, func(ev Event) { events = append(events, ev.Type) })
	bus.Subscribe(EventSignedOut, func(ev Event) { events = append(events, ev.Type) })

	api := &MockBackend{}
	signer := &mockSigner{address: addrA}
	clock := newFakeClock()
	auth := NewAuthSession(nil, store, bus, api, signer, 30*time.Minute)
	auth.now = clock.Now
	return &authFixture{store: store, api: api, signer: signer, clock: clock, auth: auth, events: &events, bus: bus}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestAuthSession_SignIn(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(newMemoryStore())

	if err := f.auth.SignIn(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.auth.SignedIn() || f.api.Token() != "token" {
		t.Errorf("expected signed in with bearer set, got %q", f.api.Token())
	}
	if len(f.signer.signed) != 1 || f.signer.signed[0] != "nonce-"+addrA {
		t.Errorf("expected nonce signed, got %v", f.signer.signed)
	}
	st := f.auth.Status()
	if st.Wallet == nil || st.Wallet.Address != addrA {
		t.Errorf("expected wallet connected, got %+v", st)
	}
	if got := kvstore.Get(ctx, f.store, kvstore.KeyAuthToken, ""); got != "token" {
		t.Errorf("expected token persisted, got %q", got)
	}
}

func TestAuthSession_SignInFailures(t *testing.T) {
	ctx := context.Background()

	f := newAuthFixture(newMemoryStore())
	f.api.NonceFunc = func(context.Context, string) (string, error) {
		return "", apperr.New(apperr.KindNetworkTimeout, "auth nonce", context.DeadlineExceeded)
	}
	if err := f.auth.SignIn(ctx); !apperr.Is(err, apperr.KindNetworkTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
	if f.auth.SignedIn() {
		t.Error("expected not signed in")
	}

	f = newAuthFixture(newMemoryStore())
	f.signer.disabled = true
	if err := f.auth.SignIn(ctx); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error without wallet, got %v", err)
	}

	f = newAuthFixture(newMemoryStore())
	f.signer.signErr = errors.New("rejected")
	if err := f.auth.SignIn(ctx); err == nil {
		t.Error("expected sign error")
	}
}

func TestAuthSession_IdleSignOut(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(newMemoryStore())
	f.auth.SignIn(ctx)

	f.clock.Advance(20 * time.Minute)
	f.auth.Touch(ctx)
	f.clock.Advance(29 * time.Minute)
	if f.auth.CheckIdle(ctx) {
		t.Fatal("expected session alive before idle timeout")
	}

	f.clock.Advance(time.Minute)
	if !f.auth.CheckIdle(ctx) {
		t.Fatal("expected idle sign-out at 30 minutes")
	}
	if f.auth.SignedIn() || f.api.Token() != "" {
		t.Error("expected token cleared")
	}
	if f.auth.Status().Wallet == nil {
		t.Error("expected wallet to remain connected")
	}
	last := (*f.events)[len(*f.events)-1]
	if last != EventSignedOut {
		t.Errorf("expected auth.signed_out, got %v", last)
	}
	if f.auth.CheckIdle(ctx) {
		t.Error("expected no second sign-out")
	}
}

func TestAuthSession_ExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(newMemoryStore())
	exp := f.clock.Now().Add(5 * time.Minute)
	tok := signedToken(t, exp)
	f.api.VerifyFunc = func(context.Context, string, string, string) (string, error) { return tok, nil }

	f.auth.SignIn(ctx)
	if st := f.auth.Status(); st.ExpiresAt == nil || !st.ExpiresAt.Equal(exp.Truncate(time.Second)) {
		t.Errorf("expected expiry %v, got %v", exp, st.ExpiresAt)
	}
	f.clock.Advance(5 * time.Minute)
	f.auth.Touch(ctx)
	if !f.auth.CheckIdle(ctx) {
		t.Error("expected sign-out on expired token")
	}
}

func TestAuthSession_AccountSwitchSignsOut(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(newMemoryStore())
	f.auth.SignIn(ctx)

	if _, err := f.auth.ConnectWallet(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.auth.SignedIn() {
		t.Fatal("expected same account to keep the session")
	}

	f.signer.SetAddress(addrB)
	f.auth.ConnectWallet(ctx)
	if f.auth.SignedIn() {
		t.Error("expected different account to sign out")
	}
	if f.auth.Status().Wallet.Address != addrB {
		t.Error("expected new wallet connected")
	}
}

func TestAuthSession_DisconnectKeepsToken(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(newMemoryStore())
	f.auth.SignIn(ctx)
	n := len(*f.events)

	f.auth.DisconnectWallet(ctx)
	f.auth.DisconnectWallet(ctx)
	if !f.auth.SignedIn() || f.auth.Status().Wallet != nil {
		t.Errorf("unexpected status %+v", f.auth.Status())
	}
	if len(*f.events) != n+1 {
		t.Errorf("expected one wallet.changed, got %d", len(*f.events)-n)
	}
}

func TestAuthSession_Load(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	first := newAuthFixture(store)
	first.auth.SignIn(ctx)

	second := newAuthFixture(store)
	second.clock.Advance(10 * time.Minute)
	second.auth.Load(ctx)
	if !second.auth.SignedIn() || second.api.Token() != "token" {
		t.Errorf("expected restored session, got token %q", second.api.Token())
	}

	third := newAuthFixture(store)
	third.clock.Advance(31 * time.Minute)
	third.auth.Load(ctx)
	if third.auth.SignedIn() {
		t.Error("expected stale session dropped on load")
	}
}

func TestAuthSession_FailingStore(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(kvstore.New(nil, &failingBackend{}))

	f.auth.Load(ctx)
	if err := f.auth.SignIn(ctx); err != nil {
		t.Fatalf("expected sign-in without storage, got %v", err)
	}
	f.auth.Touch(ctx)
	f.auth.SignOut(ctx, "test")
	if f.auth.SignedIn() {
		t.Error("expected signed out")
	}
}
