package wallet

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// DerivedAddress pairs a derivation index with its encoded cashaddr.
type DerivedAddress struct {
	Index   uint32 `json:"index"`
	Address string `json:"address"`
}

// ProgressCallback is called during batch derivation to report progress.
type ProgressCallback func(generated, total int)

// GenerateBCHAddresses derives count addresses from the change-level parent
// key, starting at index start. Uses runtime.NumCPU() parallel workers over
// the shared parent key.
func GenerateBCHAddresses(parentKey *hdkeychain.ExtendedKey, start uint32, count int, net *chaincfg.Params, progress ProgressCallback) ([]DerivedAddress, error) {
	numWorkers := runtime.NumCPU()
	slog.Info("generating BCH addresses",
		"start", start,
		"count", count,
		"network", net.Name,
		"workers", numWorkers,
	)
	began := time.Now()

	addresses := make([]DerivedAddress, count)
	var done atomic.Int64
	var firstErr atomic.Value

	var wg sync.WaitGroup
	chunkSize := (count + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		chunkStart := w * chunkSize
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > count {
			chunkEnd = count
		}
		if chunkStart >= count {
			break
		}

		wg.Add(1)
		go func(from, to int) {
			defer wg.Done()
			for i := from; i < to; i++ {
				// Stop early if another worker hit an error.
				if firstErr.Load() != nil {
					return
				}

				index := start + uint32(i)
				addr, err := DeriveBCHAddressFromParent(parentKey, index, net)
				if err != nil {
					firstErr.CompareAndSwap(nil, fmt.Errorf("generate BCH address at index %d: %w", index, err))
					return
				}

				addresses[i] = DerivedAddress{
					Index:   index,
					Address: addr,
				}

				if n := done.Add(1); progress != nil && n%10000 == 0 {
					progress(int(n), count)
				}
			}
		}(chunkStart, chunkEnd)
	}

	wg.Wait()

	if errVal := firstErr.Load(); errVal != nil {
		return nil, errVal.(error)
	}

	slog.Info("BCH address generation complete",
		"count", len(addresses),
		"workers", numWorkers,
		"duration", time.Since(began).Round(time.Millisecond),
	)
	return addresses, nil
}
