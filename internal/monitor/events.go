package monitor

import (
	"log/slog"

	"github.com/ethereum/go-ethereum/event"

	"github.com/farmstream/bchwatch/internal/models"
)

// SubscribePayments delivers every qualified payment event to ch until the
// subscription is unsubscribed. Used by the SSE endpoint.
func (m *Monitor) SubscribePayments(ch chan<- models.PaymentEvent) event.Subscription {
	return m.feed.Subscribe(ch)
}

// publish hands an event to the forwarding goroutine. Detection never waits
// on subscribers: when the buffer is full the event is dropped, and the
// payment is still in the database for anyone who missed it.
func (m *Monitor) publish(ev models.PaymentEvent) {
	select {
	case m.events <- ev:
	default:
		slog.Warn("payment event buffer full, dropping event",
			"address", ev.Address, "txHash", ev.TxHash)
	}
}

func (m *Monitor) forwardEvents() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stop:
			return
		case ev := <-m.events:
			m.feed.Send(ev)
		}
	}
}
