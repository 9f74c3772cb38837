package wallet

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/farmstream/bchwatch/internal/config"
)

// derivationPathTemplate returns the derivation path template for the given
// network and change branch.
func derivationPathTemplate(net *chaincfg.Params, change uint32) string {
	coinType := uint32(config.BCHCoinType)
	if net == &chaincfg.TestNet3Params {
		coinType = uint32(config.BCHTestCoinType)
	}
	return fmt.Sprintf("m/44'/%d'/0'/%d/{index}", coinType, change)
}

// ExportAddresses writes derived addresses to a JSON file. Entries are
// written incrementally so large batches are not buffered twice in memory.
func ExportAddresses(path string, net *chaincfg.Params, change uint32, addrs []DerivedAddress) error {
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses to export")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory %q: %w", dir, err)
		}
	}

	slog.Info("exporting addresses",
		"count", len(addrs),
		"network", net.Name,
		"file", path,
	)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file %q: %w", path, err)
	}
	defer f.Close()

	header := fmt.Sprintf(
		`{"network":"%s","derivation_path_template":"%s","generated_at":"%s","count":%d,"addresses":[`,
		net.Name, derivationPathTemplate(net, change),
		time.Now().UTC().Format(time.RFC3339), len(addrs),
	)
	if _, err := io.WriteString(f, header); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}

	for i, addr := range addrs {
		if i > 0 {
			if _, err := io.WriteString(f, ","); err != nil {
				return fmt.Errorf("write export separator: %w", err)
			}
		}

		entry, err := json.Marshal(addr)
		if err != nil {
			return fmt.Errorf("marshal address entry: %w", err)
		}
		if _, err := f.Write(entry); err != nil {
			return fmt.Errorf("write export entry: %w", err)
		}

		if n := i + 1; n%100_000 == 0 {
			slog.Info("export progress",
				"exported", n,
				"total", len(addrs),
			)
		}
	}

	if _, err := io.WriteString(f, "]}"); err != nil {
		return fmt.Errorf("write export footer: %w", err)
	}

	slog.Info("export complete",
		"exported", len(addrs),
		"file", path,
	)
	return nil
}
