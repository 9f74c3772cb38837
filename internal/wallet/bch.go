package wallet

import (
	"fmt"
	"log/slog"

	"github.com/bcext/cashutil"
	bchchaincfg "github.com/bcext/gcash/chaincfg"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/farmstream/bchwatch/internal/config"
)

// BIP-44 change-level branches.
const (
	ExternalChain uint32 = 0
	InternalChain uint32 = 1
)

// DeriveBCHParentKey derives the change-level parent key at
// m/44'/coin'/0'/change. Everything below this point is non-hardened, so
// batch derivation pays the hardened steps only once.
func DeriveBCHParentKey(masterKey *hdkeychain.ExtendedKey, change uint32, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	coinType := uint32(config.BCHCoinType)
	if net == &chaincfg.TestNet3Params {
		coinType = uint32(config.BCHTestCoinType)
	}

	// m/44'
	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP44Purpose))
	if err != nil {
		return nil, fmt.Errorf("derive BCH purpose key: %w", err)
	}

	// m/44'/coin'
	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return nil, fmt.Errorf("derive BCH coin key: %w", err)
	}

	// m/44'/coin'/0'
	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return nil, fmt.Errorf("derive BCH account key: %w", err)
	}

	// m/44'/coin'/0'/change
	parent, err := account.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("derive BCH change key %d: %w", change, err)
	}

	return parent, nil
}

// AccountXpub returns the neutered account-level key m/44'/coin'/0' as a
// string, suitable for handing to a watch-only deployment.
func AccountXpub(masterKey *hdkeychain.ExtendedKey, net *chaincfg.Params) (string, error) {
	coinType := uint32(config.BCHCoinType)
	if net == &chaincfg.TestNet3Params {
		coinType = uint32(config.BCHTestCoinType)
	}

	purpose, err := masterKey.Derive(hdkeychain.HardenedKeyStart + uint32(config.BIP44Purpose))
	if err != nil {
		return "", fmt.Errorf("derive BCH purpose key: %w", err)
	}

	coin, err := purpose.Derive(hdkeychain.HardenedKeyStart + coinType)
	if err != nil {
		return "", fmt.Errorf("derive BCH coin key: %w", err)
	}

	account, err := coin.Derive(hdkeychain.HardenedKeyStart + 0)
	if err != nil {
		return "", fmt.Errorf("derive BCH account key: %w", err)
	}

	neutered, err := account.Neuter()
	if err != nil {
		return "", fmt.Errorf("neuter BCH account key: %w", err)
	}

	return neutered.String(), nil
}

// ParentKeyFromXpub parses an account-level extended public key
// (m/44'/coin'/0') and derives the change branch below it. The key carries
// no private material, so this is the watch-only entry point.
func ParentKeyFromXpub(xpub string, change uint32, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, fmt.Errorf("parse extended key: %v: %w", err, ErrInvalidExtendedKey)
	}

	if !key.IsForNet(net) {
		return nil, fmt.Errorf("extended key is not for %s network: %w", net.Name, ErrInvalidExtendedKey)
	}

	parent, err := key.Derive(change)
	if err != nil {
		return nil, fmt.Errorf("derive change branch %d: %w", change, err)
	}

	return parent, nil
}

// DeriveBCHAddressFromParent derives the cashaddr at parent/index:
// compressed pubkey, HASH160, cashaddr P2PKH encoding with network prefix.
func DeriveBCHAddressFromParent(parentKey *hdkeychain.ExtendedKey, index uint32, net *chaincfg.Params) (string, error) {
	child, err := parentKey.Derive(index)
	if err != nil {
		return "", fmt.Errorf("derive BCH child key at index %d: %w", index, err)
	}

	pubKey, err := child.ECPubKey()
	if err != nil {
		return "", fmt.Errorf("get BCH public key at index %d: %w", index, err)
	}

	h160 := btcutil.Hash160(pubKey.SerializeCompressed())
	addr, err := cashutil.NewAddressPubKeyHash(h160, cashParams(net))
	if err != nil {
		return "", fmt.Errorf("create BCH cashaddr at index %d: %w", index, err)
	}

	return addr.EncodeAddress(true), nil
}

// DeriveBCHAddress derives the cashaddr at m/44'/coin'/0'/change/index.
// Path per BIP-44 with coin type 145 (mainnet) or 1 (testnet).
func DeriveBCHAddress(masterKey *hdkeychain.ExtendedKey, change, index uint32, net *chaincfg.Params) (string, error) {
	parent, err := DeriveBCHParentKey(masterKey, change, net)
	if err != nil {
		return "", err
	}

	addr, err := DeriveBCHAddressFromParent(parent, index, net)
	if err != nil {
		return "", err
	}

	slog.Debug("derived BCH address",
		"change", change,
		"index", index,
		"address", addr,
		"network", net.Name,
	)

	return addr, nil
}

// cashParams maps the HD network parameters onto the cashaddr parameter set.
func cashParams(net *chaincfg.Params) *bchchaincfg.Params {
	if net == &chaincfg.TestNet3Params {
		return &bchchaincfg.TestNet3Params
	}
	return &bchchaincfg.MainNetParams
}
