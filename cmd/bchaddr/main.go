package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/farmstream/bchwatch/internal/wallet"
)

func main() {
	xpub := flag.String("xpub", "", "account-level extended public key (m/44'/coin'/0')")
	mnemonicFile := flag.String("mnemonic-file", "", "path to a file containing a BIP-39 mnemonic")
	network := flag.String("network", "mainnet", "network: mainnet or testnet")
	change := flag.Uint("change", 0, "change branch: 0 external, 1 internal")
	start := flag.Uint("start", 0, "first derivation index")
	count := flag.Int("count", 20, "number of addresses to derive")
	out := flag.String("out", "", "write the addresses to a JSON file instead of stdout")
	showXpub := flag.Bool("show-xpub", false, "with -mnemonic-file, also print the account xpub")
	flag.Parse()

	if err := run(*xpub, *mnemonicFile, *network, uint32(*change), uint32(*start), *count, *out, *showXpub); err != nil {
		fmt.Fprintf(os.Stderr, "bchaddr: %v\n", err)
		os.Exit(1)
	}
}

func run(xpub, mnemonicFile, network string, change, start uint32, count int, out string, showXpub bool) error {
	if (xpub == "") == (mnemonicFile == "") {
		return fmt.Errorf("exactly one of -xpub or -mnemonic-file is required")
	}
	if network != "mainnet" && network != "testnet" {
		return fmt.Errorf("network must be mainnet or testnet, got %q", network)
	}
	if change > 1 {
		return fmt.Errorf("change must be 0 or 1, got %d", change)
	}
	if count < 1 {
		return fmt.Errorf("count must be >= 1, got %d", count)
	}

	// Address output goes to stdout; keep the derivation logs on stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	net := wallet.NetworkParams(network)

	parentKey, err := resolveParentKey(xpub, mnemonicFile, change, net, showXpub)
	if err != nil {
		return err
	}

	addrs, err := wallet.GenerateBCHAddresses(parentKey, start, count, net, nil)
	if err != nil {
		return fmt.Errorf("derive addresses: %w", err)
	}

	if out != "" {
		return wallet.ExportAddresses(out, net, change, addrs)
	}

	for _, a := range addrs {
		fmt.Printf("%d\t%s\n", a.Index, a.Address)
	}
	return nil
}

// resolveParentKey builds the change-level parent key from whichever input
// was given. The xpub path never touches private material.
func resolveParentKey(xpub, mnemonicFile string, change uint32, net *chaincfg.Params, showXpub bool) (*hdkeychain.ExtendedKey, error) {
	if xpub != "" {
		return wallet.ParentKeyFromXpub(xpub, change, net)
	}

	mnemonic, err := wallet.ReadMnemonicFromFile(mnemonicFile)
	if err != nil {
		return nil, fmt.Errorf("read mnemonic: %w", err)
	}

	seed, err := wallet.MnemonicToSeed(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}

	masterKey, err := wallet.DeriveMasterKey(seed, net)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	if showXpub {
		accountXpub, err := wallet.AccountXpub(masterKey, net)
		if err != nil {
			return nil, fmt.Errorf("derive account xpub: %w", err)
		}
		fmt.Fprintf(os.Stderr, "account xpub: %s\n", accountXpub)
	}

	return wallet.DeriveBCHParentKey(masterKey, change, net)
}
