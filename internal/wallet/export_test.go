package wallet

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

type addressExport struct {
	Network                string           `json:"network"`
	DerivationPathTemplate string           `json:"derivation_path_template"`
	GeneratedAt            string           `json:"generated_at"`
	Count                  int              `json:"count"`
	Addresses              []DerivedAddress `json:"addresses"`
}

func TestExportAddresses(t *testing.T) {
	addrs := []DerivedAddress{
		{Index: 0, Address: "bitcoincash:qtest0"},
		{Index: 1, Address: "bitcoincash:qtest1"},
		{Index: 2, Address: "bitcoincash:qtest2"},
	}

	path := filepath.Join(t.TempDir(), "export", "addresses.json")

	err := ExportAddresses(path, &chaincfg.MainNetParams, ExternalChain, addrs)
	if err != nil {
		t.Fatalf("ExportAddresses() error = %v", err)
	}

	// Read and verify exported file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var export addressExport
	if err := json.Unmarshal(data, &export); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}

	if export.Network != "mainnet" {
		t.Errorf("export.Network = %v, want mainnet", export.Network)
	}
	if export.Count != 3 {
		t.Errorf("export.Count = %d, want 3", export.Count)
	}
	if len(export.Addresses) != 3 {
		t.Errorf("export.Addresses length = %d, want 3", len(export.Addresses))
	}
	if export.DerivationPathTemplate != "m/44'/145'/0'/0/{index}" {
		t.Errorf("export.DerivationPathTemplate = %v", export.DerivationPathTemplate)
	}
	if export.GeneratedAt == "" {
		t.Error("export.GeneratedAt is empty")
	}
	if export.Addresses[0].Address != "bitcoincash:qtest0" {
		t.Errorf("export.Addresses[0].Address = %v, want bitcoincash:qtest0", export.Addresses[0].Address)
	}
}

func TestExportAddressesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addresses.json")

	err := ExportAddresses(path, &chaincfg.MainNetParams, ExternalChain, nil)
	if err == nil {
		t.Error("ExportAddresses() expected error for empty batch")
	}
}

func TestDerivationPathTemplate(t *testing.T) {
	tests := []struct {
		net    *chaincfg.Params
		change uint32
		want   string
	}{
		{&chaincfg.MainNetParams, ExternalChain, "m/44'/145'/0'/0/{index}"},
		{&chaincfg.MainNetParams, InternalChain, "m/44'/145'/0'/1/{index}"},
		{&chaincfg.TestNet3Params, ExternalChain, "m/44'/1'/0'/0/{index}"},
	}

	for _, tt := range tests {
		if got := derivationPathTemplate(tt.net, tt.change); got != tt.want {
			t.Errorf("derivationPathTemplate(%s, %d) = %v, want %v", tt.net.Name, tt.change, got, tt.want)
		}
	}
}
