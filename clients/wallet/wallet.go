package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"strings"
	"time"

	"gridwatch/config"
	"gridwatch/internal/apperr"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// ProviderLocal identifies connections backed by a local key.
const ProviderLocal = "local"

// Connection describes a connected wallet. It is persisted between runs.
type Connection struct {
	Address     string    `json:"address"`
	Provider    string    `json:"provider"`
	ChainID     int64     `json:"chainId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// WalletClient signs sign-in messages with a local key. Without a key it
// is disabled and Connect fails with a validation error.
type WalletClient struct {
	logger  *zap.Logger
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewWalletClient(logger *zap.Logger, cfg *config.Config) *WalletClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	hexKey := strings.TrimSpace(cfg.Auth.WalletKey)
	if hexKey == "" {
		logger.Warn("WALLET_PRIVATE_KEY not set, sign-in disabled")
		return &WalletClient{logger: logger}
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		logger.Error("failed to parse wallet key", zap.Error(err))
		return &WalletClient{logger: logger}
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	logger.Info("wallet initialized", zap.String("address", address.Hex()))

	return &WalletClient{
		logger:  logger,
		key:     key,
		address: address,
	}
}

// IsEnabled returns true if a signing key is loaded.
func (w *WalletClient) IsEnabled() bool {
	return w != nil && w.key != nil
}

// Address returns the checksummed address, or "" when disabled.
func (w *WalletClient) Address() string {
	if !w.IsEnabled() {
		return ""
	}
	return w.address.Hex()
}

// Connect returns a connection descriptor for the local key.
func (w *WalletClient) Connect() (Connection, error) {
	if !w.IsEnabled() {
		return Connection{}, apperr.Validation("wallet connect", "no wallet key configured")
	}
	return Connection{
		Address:     w.address.Hex(),
		Provider:    ProviderLocal,
		ConnectedAt: time.Now().UTC(),
	}, nil
}

// SignMessage produces a personal_sign signature over message.
func (w *WalletClient) SignMessage(message string) (string, error) {
	if !w.IsEnabled() {
		return "", apperr.Validation("wallet sign", "no wallet key configured")
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverAddress returns the address that produced a personal_sign signature.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "recover address", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", apperr.Validation("recover address", "signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", apperr.New(apperr.KindValidation, "recover address", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// SameAddress compares two addresses case-insensitively.
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return false
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
