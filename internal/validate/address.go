package validate

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/bcext/cashutil"
	"github.com/bcext/gcash/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/mr-tron/base58"
)

// legacyVersions lists the accepted base58check version bytes per network:
// P2PKH and P2SH.
var legacyVersions = map[string][]byte{
	"mainnet": {0x00, 0x05},
	"testnet": {0x6f, 0xc4},
}

// Address validates that addr is a well-formed BCH address for the given
// network. Both cashaddr (with or without the bitcoincash:/bchtest: prefix)
// and legacy base58check encodings are accepted.
// Network must be "mainnet" or "testnet".
func Address(addr, network string) error {
	slog.Debug("validating address",
		"address", addr,
		"network", network,
	)

	if addr == "" {
		return fmt.Errorf("empty address")
	}

	if isLegacy(addr) {
		return validateLegacy(addr, network)
	}
	return validateCashAddr(addr, network)
}

// isLegacy reports whether addr looks like a base58check address. Legacy
// addresses start with 1 or 3 on mainnet and m, n or 2 on testnet; everything
// else goes through the cashaddr decoder.
func isLegacy(addr string) bool {
	switch addr[0] {
	case '1', '3', 'm', 'n', '2':
		return true
	}
	return false
}

// validateCashAddr uses cashutil.DecodeAddress to fully validate a cashaddr
// string including its polymod checksum, and verifies the address belongs to
// the specified network. A prefixless address is checked against the
// network's canonical prefix.
func validateCashAddr(addr, network string) error {
	params, err := netParams(network)
	if err != nil {
		return err
	}

	decoded, err := cashutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("invalid BCH address %q: %w", addr, err)
	}

	if !decoded.IsForNet(params) {
		return fmt.Errorf("invalid BCH address %q: address is not for %s network", addr, network)
	}

	return nil
}

// validateLegacy decodes a base58check address and verifies its length, its
// double-SHA256 checksum and that its version byte belongs to the specified
// network.
func validateLegacy(addr, network string) error {
	versions, ok := legacyVersions[network]
	if !ok {
		return fmt.Errorf("unsupported BCH network %q", network)
	}

	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid BCH address %q: base58 decode failed: %w", addr, err)
	}
	if len(decoded) != 25 {
		return fmt.Errorf("invalid BCH address %q: decoded to %d bytes, expected 25", addr, len(decoded))
	}

	checksum := chainhash.DoubleHashB(decoded[:21])[:4]
	if !bytes.Equal(checksum, decoded[21:]) {
		return fmt.Errorf("invalid BCH address %q: checksum mismatch", addr)
	}

	version := decoded[0]
	for _, v := range versions {
		if version == v {
			return nil
		}
	}
	return fmt.Errorf("invalid BCH address %q: version byte 0x%02x is not for %s network", addr, version, network)
}

func netParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	default:
		return nil, fmt.Errorf("unsupported BCH network %q", network)
	}
}
