package domain

import (
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ValidateAddress checks that account is a well-formed chain-native address.
func ValidateAddress(chain Chain, account string) error {
	switch chain {
	case ChainSolana:
		raw, err := base58.Decode(account)
		if err != nil {
			return fmt.Errorf("invalid solana address %q: %w", shortAccount(account), err)
		}
		if len(raw) != 32 {
			return fmt.Errorf("invalid solana address %q: %d bytes, want 32", shortAccount(account), len(raw))
		}
		return nil
	case ChainEthereum, ChainBase, ChainBSC:
		if !isHexAddress(account) {
			return fmt.Errorf("invalid %s address %q", chain, shortAccount(account))
		}
		return nil
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
}

// IsOnCurve reports whether a Solana account is a valid ed25519 point.
// Program-derived addresses (bonding-curve accounts among them) are
// deliberately off-curve; wallet-owned accounts are on-curve.
func IsOnCurve(account string) bool {
	raw, err := base58.Decode(account)
	if err != nil || len(raw) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(raw)
	return err == nil
}

// isHexAddress checks the 0x-prefixed 20-byte hex form used by EVM chains.
func isHexAddress(account string) bool {
	if len(account) != 42 || !strings.HasPrefix(account, "0x") {
		return false
	}
	for _, r := range account[2:] {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
