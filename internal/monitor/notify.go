package monitor

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"

	"github.com/google/uuid"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/electrum"
	"github.com/farmstream/bchwatch/internal/models"
)

// Electrum notification methods the monitor reacts to.
const (
	methodAddressNotify = "blockchain.address.subscribe"
	methodHeadersNotify = "blockchain.headers.subscribe"
)

// notifyJob asks a worker to re-list one address and diff the result.
type notifyJob struct {
	id      string
	address string
}

func (m *Monitor) registerHandlers() {
	m.client.OnNotification(methodAddressNotify, m.onAddressNotify)
	m.client.OnNotification(methodHeadersNotify, m.onHeadersNotify)
}

// onAddressNotify runs on the client's dispatch goroutine. It only routes:
// the actual listing and diffing happen on a worker so a burst of
// notifications cannot stall the read path.
func (m *Monitor) onAddressNotify(params json.RawMessage) {
	var fields []string
	if err := json.Unmarshal(params, &fields); err != nil || len(fields) == 0 {
		slog.Warn("malformed address notification", "params", string(params))
		return
	}
	m.enqueue(fields[0])
}

func (m *Monitor) onHeadersNotify(params json.RawMessage) {
	var headers []electrum.Header
	if err := json.Unmarshal(params, &headers); err != nil || len(headers) == 0 {
		return
	}
	slog.Debug("new block", "height", headers[0].Height)
}

// enqueue routes an address to its worker. The same address always hashes to
// the same worker, so its jobs run in arrival order and the known-output set
// is never diffed concurrently. The send blocks when the queue is full; the
// client's notification buffer absorbs the backpressure and sheds load there.
func (m *Monitor) enqueue(address string) {
	h := fnv.New32a()
	h.Write([]byte(address))
	idx := int(h.Sum32() % uint32(len(m.workers)))

	job := notifyJob{id: uuid.New().String(), address: address}
	select {
	case m.workers[idx] <- job:
	case <-m.stop:
	}
}

func (m *Monitor) worker(ctx context.Context, jobs chan notifyJob) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case <-ctx.Done():
			return
		case job := <-jobs:
			m.runJob(ctx, job)
		}
	}
}

// runJob isolates one notification so a panic in the pipeline downs neither
// the worker nor the process. The output stays undetected until the next
// notification for its address re-lists it.
func (m *Monitor) runJob(ctx context.Context, job notifyJob) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing notification",
				"jobID", job.id, "address", job.address, "panic", r)
		}
	}()
	m.processNotification(ctx, job)
}

// processNotification re-lists the address's unspent outputs, emits a payment
// event for every output not yet known, and only then advances the known set.
// Advancing last means a crash mid-handler re-detects the output on the next
// notification instead of silently losing it.
func (m *Monitor) processNotification(ctx context.Context, job notifyJob) {
	watch, watched := m.watches.Get(job.address)

	m.clientMu.Lock()
	utxos, err := m.client.ListUnspent(ctx, job.address)
	m.clientMu.Unlock()
	if err != nil {
		slog.Warn("listunspent failed for notification",
			"jobID", job.id, "address", job.address, "error", err)
		return
	}

	current := make(map[models.UtxoKey]struct{}, len(utxos))
	for _, u := range utxos {
		current[models.UtxoKey{TxHash: u.TxHash, TxPos: u.TxPos}] = struct{}{}
	}

	m.mu.Lock()
	known, primed := m.known[job.address]
	newKeys := make(map[models.UtxoKey]struct{})
	if primed {
		for k := range current {
			if _, ok := known[k]; !ok {
				newKeys[k] = struct{}{}
			}
		}
	}
	m.mu.Unlock()

	if !watched {
		// Left-over notification for an address the registry dropped.
		slog.Debug("notification for unwatched address",
			"jobID", job.id, "address", job.address)
		return
	}

	if !primed {
		// Subscribed-but-never-primed should not happen; treat the listing
		// as historical rather than risk re-crediting old outputs.
		m.mu.Lock()
		if _, ok := m.known[job.address]; !ok {
			m.known[job.address] = current
		}
		m.mu.Unlock()
		slog.Warn("notification for unprimed address, baselining",
			"jobID", job.id, "address", job.address, "outputs", len(current))
		return
	}

	if len(newKeys) > 0 {
		slog.Info("address activity",
			"jobID", job.id,
			"address", job.address,
			"newOutputs", len(newKeys),
			"totalUnspent", len(current),
		)

		// Server listing order, not map order.
		for _, u := range utxos {
			key := models.UtxoKey{TxHash: u.TxHash, TxPos: u.TxPos}
			if _, ok := newKeys[key]; !ok {
				continue
			}

			sats := int64(u.Value)
			ev := models.PaymentEvent{
				Address:   job.address,
				TxHash:    u.TxHash,
				TxPos:     u.TxPos,
				ValueSats: sats,
				ValueBCH:  float64(sats) / config.SatsPerBCH,
				Height:    u.Height,
				Status:    models.StatusFromHeight(u.Height),
			}

			slog.Info("payment output detected",
				"jobID", job.id,
				"address", ev.Address,
				"txHash", ev.TxHash,
				"txPos", ev.TxPos,
				"valueBCH", ev.ValueBCH,
				"status", ev.Status,
			)

			m.qualify(ctx, watch, ev)
		}
	}

	// Mutate the set captured at diff time. If a reconcile replaced or
	// removed the entry meanwhile, this writes to an orphan and the fresher
	// baseline wins.
	m.mu.Lock()
	clear(known)
	for k := range current {
		known[k] = struct{}{}
	}
	m.mu.Unlock()
}
