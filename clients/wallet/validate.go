package wallet

import (
	"strings"

	"gridwatch/internal/apperr"

	"github.com/ethereum/go-ethereum/common"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateContract checks the format of a DEX contract or pair address for
// chain. Solana mints are base58; every other chain is EVM hex.
func ValidateContract(chain, contract string) error {
	contract = strings.TrimSpace(contract)
	if contract == "" {
		return apperr.Validation("validate contract", "contract is empty")
	}

	switch strings.ToLower(strings.TrimSpace(chain)) {
	case "solana", "sol":
		if len(contract) < 32 || len(contract) > 44 {
			return apperr.Validation("validate contract", "solana address must be 32-44 characters, got %d", len(contract))
		}
		for _, r := range contract {
			if !strings.ContainsRune(base58Alphabet, r) {
				return apperr.Validation("validate contract", "invalid base58 character %q", r)
			}
		}
		return nil
	}

	if !strings.HasPrefix(contract, "0x") && !strings.HasPrefix(contract, "0X") {
		return apperr.Validation("validate contract", "address must start with 0x")
	}
	if !common.IsHexAddress(contract) {
		return apperr.Validation("validate contract", "invalid address %q", contract)
	}
	return nil
}
