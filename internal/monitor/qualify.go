package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/models"
)

// qualify routes a detected output to the user or device pipeline. Every
// qualified payment always produces a bchpayment row; the fiat amounts, grain
// reward, and feeding counters are best-effort extras on top.
func (m *Monitor) qualify(ctx context.Context, watch models.WatchedAddress, ev models.PaymentEvent) {
	switch {
	case watch.UserID != nil:
		m.publish(ev)
		m.qualifyUser(ctx, watch, ev)
	case watch.DeviceID != nil:
		if !m.deviceGate(ctx, *watch.DeviceID, ev) {
			return
		}
		m.publish(ev)
		m.qualifyDevice(ctx, watch, ev)
	default:
		// Ownerless rows are blocked by a DB constraint, but a registry
		// event could still carry one. Record the payment with the address
		// itself as the reference so the money is at least visible.
		slog.Warn("watched address has no owner", "address", ev.Address)
		m.publish(ev)
		m.insertRecord(ctx, &models.PaymentRecord{
			TxID:        ev.TxHash,
			Address:     ev.Address,
			AmountSats:  ev.ValueSats,
			Reference:   ev.Address,
			Description: defaultDescription(ev),
		})
	}
}

// qualifyUser records a payment to a user-owned address and credits grain.
//
// The euro amount configured on the watch is authoritative only while the
// watch is inside its grace window, has a positive threshold, and the payment
// meets it. Everything else falls back to pricing the payment at the cached
// spot rate.
func (m *Monitor) qualifyUser(ctx context.Context, watch models.WatchedAddress, ev models.PaymentEvent) {
	userID := *watch.UserID
	reference := strconv.FormatInt(userID, 10)
	description := defaultDescription(ev)
	var eurAmount, usdAmount *float64

	username, err := m.store.LookupUsername(ctx, userID)
	if err != nil {
		slog.Warn("username lookup failed", "userID", userID, "error", err)
	}
	display := fmt.Sprintf("user %d", userID)
	if username != nil && *username != "" {
		display = *username
	}

	now := time.Now().UTC()
	inWindow := watch.Age(now) < config.GraceWindow
	hasThreshold := watch.ThresholdSats != nil && *watch.ThresholdSats > 0

	if inWindow && hasThreshold && ev.ValueSats >= *watch.ThresholdSats &&
		watch.EuroAmount != nil && *watch.EuroAmount > 0 {
		// Expected payment: the euros the user was asked to pay, not the
		// market value of what arrived.
		eur := *watch.EuroAmount
		eurAmount = &eur
		if usd, ok := m.prices.Usd(); ok {
			v := ev.ValueBCH * usd
			usdAmount = &v
		}
		if desc, ok := m.creditGrain(ctx, userID, display, eur); ok {
			description = desc
		}
	} else {
		eurAmount, usdAmount, description = m.spotReward(ctx, userID, display, ev, description)
	}

	m.insertRecord(ctx, &models.PaymentRecord{
		TxID:        ev.TxHash,
		Address:     ev.Address,
		AmountSats:  ev.ValueSats,
		Reference:   reference,
		Description: description,
		EuroAmount:  eurAmount,
		UsdAmount:   usdAmount,
	})
}

// spotReward prices the payment at the cached EUR rate and credits grain on
// that value. Without a EUR quote the reward is skipped entirely but the
// payment is still recorded. USD is decorative and only set when available.
func (m *Monitor) spotReward(
	ctx context.Context,
	userID int64,
	display string,
	ev models.PaymentEvent,
	description string,
) (eurAmount, usdAmount *float64, desc string) {
	desc = description

	eurPrice, ok := m.prices.Eur()
	if !ok {
		slog.Warn("no EUR price, skipping grain reward",
			"userID", userID, "address", ev.Address, "txHash", ev.TxHash)
		return nil, nil, desc
	}

	eur := ev.ValueBCH * eurPrice
	eurAmount = &eur
	if usdPrice, ok := m.prices.Usd(); ok {
		v := ev.ValueBCH * usdPrice
		usdAmount = &v
	}

	if d, ok := m.creditGrain(ctx, userID, display, eur); ok {
		desc = d
	}
	return eurAmount, usdAmount, desc
}

// creditGrain converts the EUR value to grain and applies it to the user's
// balance. Returns the enriched description on success; on failure the
// payment record keeps its default description.
func (m *Monitor) creditGrain(ctx context.Context, userID int64, display string, eur float64) (string, bool) {
	res := m.rewards.ForEuro(eur)

	if err := m.store.ApplyGrainReward(ctx, userID, res.Grain); err != nil {
		slog.Error("grain reward failed",
			"userID", userID, "grain", res.Grain, "eur", eur, "error", err)
		return "", false
	}

	slog.Info("grain credited",
		"userID", userID,
		"user", display,
		"eur", eur,
		"multiplier", res.Multiplier,
		"grain", res.Grain,
	)
	return fmt.Sprintf("%s (+%d grain)", display, res.Grain), true
}

// deviceGate decides whether a payment to a device address is big enough to
// process. Devices with no configured feed price, and moments when the feed
// price cannot be read or priced, fail open: a dropped payment is worse than
// an undersized one.
func (m *Monitor) deviceGate(ctx context.Context, deviceID int64, ev models.PaymentEvent) bool {
	feedPrice, err := m.store.LookupDeviceFeedPrice(ctx, deviceID)
	if err != nil {
		slog.Warn("feed price lookup failed, processing ungated",
			"deviceID", deviceID, "error", err)
		return true
	}
	if feedPrice == nil {
		return true
	}

	var thresholdSats int64
	if eurPrice, ok := m.prices.Eur(); ok {
		thresholdSats = int64(math.Floor(*feedPrice / eurPrice * config.SatsPerBCH))
	}

	// 5% tolerance for fee shaving and price drift between quote and send.
	effective := int64(math.Floor(float64(thresholdSats) * config.DeviceThresholdMargin))
	if effective < 0 {
		effective = 0
	}

	if ev.ValueSats < effective {
		slog.Info("payment below device feed threshold, ignoring",
			"deviceID", deviceID,
			"address", ev.Address,
			"txHash", ev.TxHash,
			"valueSats", ev.ValueSats,
			"thresholdSats", effective,
		)
		return false
	}
	return true
}

// qualifyDevice records a payment to a device-owned address and bumps the
// feeding counters. Lookup and counter failures degrade to defaults; the
// payment row is always attempted.
func (m *Monitor) qualifyDevice(ctx context.Context, watch models.WatchedAddress, ev models.PaymentEvent) {
	deviceID := *watch.DeviceID
	reference := strconv.FormatInt(deviceID, 10)
	description := defaultDescription(ev)
	var eurAmount, usdAmount *float64

	if eurPrice, ok := m.prices.Eur(); ok {
		v := ev.ValueBCH * eurPrice
		eurAmount = &v
	}
	if usdPrice, ok := m.prices.Usd(); ok {
		v := ev.ValueBCH * usdPrice
		usdAmount = &v
	}

	device, err := m.store.LookupDevice(ctx, deviceID)
	if err != nil {
		slog.Warn("device lookup failed", "deviceID", deviceID, "error", err)
	}
	if device != nil {
		reference = device.Reference()
		if device.StreamName != nil && *device.StreamName != "" {
			description = "Direct payment to " + *device.StreamName
		}
	}

	if err := m.store.ApplyFeeding(ctx, deviceID, time.Now().UTC()); err != nil {
		slog.Error("feeding counter update failed", "deviceID", deviceID, "error", err)
	}

	m.insertRecord(ctx, &models.PaymentRecord{
		TxID:        ev.TxHash,
		Address:     ev.Address,
		AmountSats:  ev.ValueSats,
		Reference:   reference,
		Description: description,
		EuroAmount:  eurAmount,
		UsdAmount:   usdAmount,
	})
}

func (m *Monitor) insertRecord(ctx context.Context, rec *models.PaymentRecord) {
	if err := m.store.InsertPayment(ctx, rec); err != nil {
		slog.Error("payment insert failed",
			"txID", rec.TxID, "address", rec.Address, "error", err)
	}
}

func defaultDescription(ev models.PaymentEvent) string {
	return fmt.Sprintf("Auto-detected payment to %s (%s:%d)", ev.Address, ev.TxHash, ev.TxPos)
}
