package app

import (
	"context"
	"sync"
	"time"

	"gridwatch/clients/wallet"
	"gridwatch/internal/apperr"
	"gridwatch/internal/kvstore"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const touchPersistGap = 15 * time.Second

// AuthAPI is the backend half of the sign-in handshake.
type AuthAPI interface {
	AuthNonce(ctx context.Context, address string) (string, error)
	AuthVerify(ctx context.Context, address, nonce, signature string) (string, error)
	SetToken(token string)
}

// Signer is a wallet that can connect and sign the sign-in nonce.
type Signer interface {
	IsEnabled() bool
	Connect() (wallet.Connection, error)
	SignMessage(message string) (string, error)
}

var _ Signer = (*wallet.WalletClient)(nil)

type AuthStatus struct {
	SignedIn     bool               `json:"signedIn"`
	Wallet       *wallet.Connection `json:"wallet,omitempty"`
	LastActivity time.Time          `json:"lastActivity,omitempty"`
	ExpiresAt    *time.Time         `json:"expiresAt,omitempty"`
}

// AuthSession tracks the wallet connection and the backend token. A token is
// dropped after IdleTimeout without activity, whether or not the wallet stays
// connected, and when its exp claim has passed.
type AuthSession struct {
	logger      *zap.Logger
	store       *kvstore.Store
	bus         *Bus
	api         AuthAPI
	signer      Signer
	idleTimeout time.Duration
	now         func() time.Time

	mu           sync.Mutex
	token        string
	conn         *wallet.Connection
	lastActivity time.Time
	lastPersist  time.Time
}

func NewAuthSession(logger *zap.Logger, store *kvstore.Store, bus *Bus, api AuthAPI, signer Signer, idleTimeout time.Duration) *AuthSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthSession{
		logger:      logger.Named("auth"),
		store:       store,
		bus:         bus,
		api:         api,
		signer:      signer,
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Load restores the persisted session and signs out if it went stale while
// the process was down.
func (a *AuthSession) Load(ctx context.Context) {
	token := kvstore.Get(ctx, a.store, kvstore.KeyAuthToken, "")
	conn := kvstore.Get[*wallet.Connection](ctx, a.store, kvstore.KeyWallet, nil)
	last := kvstore.Get(ctx, a.store, kvstore.KeyLastActivity, time.Time{})

	a.mu.Lock()
	a.token = token
	a.conn = conn
	a.lastActivity = last
	a.mu.Unlock()

	if token == "" {
		return
	}
	if a.CheckIdle(ctx) {
		return
	}
	a.api.SetToken(token)
	a.logger.Info("restored session", zap.Bool("wallet", conn != nil))
}

// ConnectWallet connects the signer. Connecting a different account than the
// one signed in ends the session.
func (a *AuthSession) ConnectWallet(ctx context.Context) (wallet.Connection, error) {
	if a.signer == nil || !a.signer.IsEnabled() {
		return wallet.Connection{}, apperr.Validation("wallet connect", "no wallet available")
	}
	conn, err := a.signer.Connect()
	if err != nil {
		return wallet.Connection{}, err
	}

	a.mu.Lock()
	switched := a.conn != nil && a.token != "" && !wallet.SameAddress(a.conn.Address, conn.Address)
	a.conn = &conn
	a.mu.Unlock()

	if switched {
		a.SignOut(ctx, "wallet account changed")
	}
	a.store.Put(ctx, kvstore.KeyWallet, &conn)
	a.publish(EventWalletChanged)
	return conn, nil
}

// DisconnectWallet forgets the wallet. The token stays until the idle policy
// or its expiry ends it.
func (a *AuthSession) DisconnectWallet(ctx context.Context) {
	a.mu.Lock()
	had := a.conn != nil
	a.conn = nil
	a.mu.Unlock()

	if !had {
		return
	}
	a.store.Put(ctx, kvstore.KeyWallet, (*wallet.Connection)(nil))
	a.publish(EventWalletChanged)
}

// SignIn runs nonce, sign, verify and stores the token.
func (a *AuthSession) SignIn(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()

	if conn == nil {
		c, err := a.ConnectWallet(ctx)
		if err != nil {
			return err
		}
		conn = &c
	}

	nonce, err := a.api.AuthNonce(ctx, conn.Address)
	if err != nil {
		return err
	}
	sig, err := a.signer.SignMessage(nonce)
	if err != nil {
		return err
	}
	token, err := a.api.AuthVerify(ctx, conn.Address, nonce, sig)
	if err != nil {
		return err
	}

	now := a.now()
	a.mu.Lock()
	a.token = token
	a.lastActivity = now
	a.lastPersist = now
	a.mu.Unlock()

	a.api.SetToken(token)
	a.store.Put(ctx, kvstore.KeyAuthToken, token)
	a.store.Put(ctx, kvstore.KeyLastActivity, now)
	a.logger.Info("signed in", zap.String("address", shortID(conn.Address)))
	return nil
}

// SignOut clears the token and publishes auth.signed_out.
func (a *AuthSession) SignOut(ctx context.Context, reason string) {
	a.mu.Lock()
	had := a.token != ""
	a.token = ""
	a.mu.Unlock()

	a.api.SetToken("")
	a.store.Put(ctx, kvstore.KeyAuthToken, "")
	if !had {
		return
	}
	a.logger.Info("signed out", zap.String("reason", reason))
	a.publish(EventSignedOut)
}

// Touch records user activity. Persistence is throttled.
func (a *AuthSession) Touch(ctx context.Context) {
	now := a.now()
	a.mu.Lock()
	a.lastActivity = now
	persist := now.Sub(a.lastPersist) >= touchPersistGap
	if persist {
		a.lastPersist = now
	}
	a.mu.Unlock()

	if persist {
		a.store.Put(ctx, kvstore.KeyLastActivity, now)
	}
}

// CheckIdle signs out an idle or expired session and reports whether it did.
func (a *AuthSession) CheckIdle(ctx context.Context) bool {
	now := a.now()
	a.mu.Lock()
	token := a.token
	last := a.lastActivity
	a.mu.Unlock()

	if token == "" {
		return false
	}
	if a.idleTimeout > 0 && now.Sub(last) >= a.idleTimeout {
		a.SignOut(ctx, "idle timeout")
		return true
	}
	if exp, ok := tokenExpiry(token); ok && !now.Before(exp) {
		a.SignOut(ctx, "token expired")
		return true
	}
	return false
}

func (a *AuthSession) SignedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != ""
}

func (a *AuthSession) Status() AuthStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := AuthStatus{SignedIn: a.token != "", LastActivity: a.lastActivity}
	if a.conn != nil {
		c := *a.conn
		st.Wallet = &c
	}
	if exp, ok := tokenExpiry(a.token); ok {
		st.ExpiresAt = &exp
	}
	return st
}

func (a *AuthSession) publish(t EventType) {
	if a.bus != nil {
		a.bus.Publish(Event{Type: t})
	}
}

// tokenExpiry reads the exp claim without verifying the signature. The
// backend verifies; this only drives the local sign-out.
func tokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
