package wallet

import (
	"strings"
	"testing"

	"gridwatch/config"
	"gridwatch/internal/apperr"

	"go.uber.org/zap"
)

const (
	testPrivHex = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"
	testAddrHex = "0x970e8128ab834e8eac17ab8e3812f010678cf791"
)

func newTestWallet(t *testing.T, key string) *WalletClient {
	t.Helper()
	cfg := config.Defaults()
	cfg.Auth.WalletKey = key
	return NewWalletClient(zap.NewNop(), cfg)
}

func TestNewWalletClient_NoKey(t *testing.T) {
	w := newTestWallet(t, "")

	if w.IsEnabled() {
		t.Error("expected disabled wallet without key")
	}
	if w.Address() != "" {
		t.Errorf("expected empty address, got: %s", w.Address())
	}
	if _, err := w.Connect(); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got: %v", err)
	}
	if _, err := w.SignMessage("hi"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("expected validation error, got: %v", err)
	}
}

func TestNewWalletClient_BadKey(t *testing.T) {
	w := newTestWallet(t, "not-hex")
	if w.IsEnabled() {
		t.Error("expected disabled wallet for malformed key")
	}

	var nilWallet *WalletClient
	if nilWallet.IsEnabled() {
		t.Error("expected nil wallet to be disabled")
	}
}

func TestNewWalletClient_Address(t *testing.T) {
	for _, key := range []string{testPrivHex, "0x" + testPrivHex} {
		w := newTestWallet(t, key)
		if !w.IsEnabled() {
			t.Fatalf("expected enabled wallet for %s", key)
		}
		if !SameAddress(w.Address(), testAddrHex) {
			t.Errorf("expected %s, got %s", testAddrHex, w.Address())
		}
	}
}

func TestConnect(t *testing.T) {
	w := newTestWallet(t, testPrivHex)
	conn, err := w.Connect()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conn.Provider != ProviderLocal {
		t.Errorf("unexpected provider: %s", conn.Provider)
	}
	if !SameAddress(conn.Address, testAddrHex) {
		t.Errorf("unexpected address: %s", conn.Address)
	}
	if conn.ConnectedAt.IsZero() {
		t.Error("expected connection time")
	}
}

func TestSignMessage_Recover(t *testing.T) {
	w := newTestWallet(t, testPrivHex)
	message := "Sign in to gridwatch\nnonce: abc123"

	sig, err := w.SignMessage(message)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+65*2 {
		t.Errorf("unexpected signature format: %s", sig)
	}
	if v := sig[len(sig)-2:]; v != "1b" && v != "1c" {
		t.Errorf("expected v of 27 or 28, got 0x%s", v)
	}

	addr, err := RecoverAddress(message, sig)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if !SameAddress(addr, w.Address()) {
		t.Errorf("expected %s, got %s", w.Address(), addr)
	}

	other, err := RecoverAddress("different message", sig)
	if err != nil {
		t.Fatalf("unexpected recover error: %v", err)
	}
	if SameAddress(other, w.Address()) {
		t.Error("expected a different address for a different message")
	}
}

func TestRecoverAddress_Invalid(t *testing.T) {
	tests := []string{"zz", "0x1234"}
	for _, sig := range tests {
		if _, err := RecoverAddress("m", sig); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("RecoverAddress(%q): expected validation error, got: %v", sig, err)
		}
	}
}

func TestValidateContract(t *testing.T) {
	tests := []struct {
		name     string
		chain    string
		contract string
		valid    bool
	}{
		{"evm lower", "eth", "0x970e8128ab834e8eac17ab8e3812f010678cf791", true},
		{"evm default chain", "", "0x970E8128AB834E8EAC17AB8E3812F010678CF791", true},
		{"evm missing prefix", "bsc", "970e8128ab834e8eac17ab8e3812f010678cf791", false},
		{"evm short", "eth", "0x1234", false},
		{"evm non-hex", "base", "0xzz0e8128ab834e8eac17ab8e3812f010678cf791", false},
		{"empty", "eth", "  ", false},
		{"solana", "solana", "So11111111111111111111111111111111111111112", true},
		{"solana bad char", "sol", "So1111111111111111111111111111111111111111O", false},
		{"solana short", "sol", "So111", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContract(tt.chain, tt.contract)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
			if !tt.valid && !apperr.Is(err, apperr.KindValidation) {
				t.Errorf("expected validation error, got: %v", err)
			}
		})
	}
}

func TestSameAddress(t *testing.T) {
	if !SameAddress(testAddrHex, strings.ToUpper(testAddrHex[2:])) {
		t.Error("expected case-insensitive match")
	}
	if SameAddress(testAddrHex, "nope") {
		t.Error("expected invalid address to not match")
	}
}
