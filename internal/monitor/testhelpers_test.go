package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/bcext/cashutil"

	"github.com/farmstream/bchwatch/internal/config"
	"github.com/farmstream/bchwatch/internal/electrum"
	"github.com/farmstream/bchwatch/internal/grain"
	"github.com/farmstream/bchwatch/internal/models"
)

// Known-good mainnet cash addresses for watch fixtures.
const (
	addrA = "bitcoincash:qpm2qsznhks23z7629mms6s4cwef74vcwvy22gdx6a"
	addrB = "bitcoincash:qr95sy3j9xwd2ap32xkykttr4cvcu7as4y0qverfuy"
	addrC = "bitcoincash:qqq3728yw0y47sqn6l2na30mcw6zm78dzqre909m2r"
)

// mockElectrum implements ElectrumClient with scriptable listings and errors.
type mockElectrum struct {
	mu sync.Mutex

	unspent    map[string][]electrum.UTXO
	listErr    map[string]error
	subErr     map[string]error
	pingErr    error
	connectErr error
	headersErr error

	handlers   map[string]electrum.NotificationHandler
	subCalls   map[string]int
	unsubCalls map[string]int
	listCalls  map[string]int
	headerSubs int
	connects   int
	closes     int
}

func newMockElectrum() *mockElectrum {
	return &mockElectrum{
		unspent:    make(map[string][]electrum.UTXO),
		listErr:    make(map[string]error),
		subErr:     make(map[string]error),
		handlers:   make(map[string]electrum.NotificationHandler),
		subCalls:   make(map[string]int),
		unsubCalls: make(map[string]int),
		listCalls:  make(map[string]int),
	}
}

func (m *mockElectrum) Connect(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.connectErr
}

func (m *mockElectrum) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
}

func (m *mockElectrum) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

func (m *mockElectrum) OnNotification(method string, handler electrum.NotificationHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

func (m *mockElectrum) SubscribeHeaders(_ context.Context) (*electrum.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headerSubs++
	if m.headersErr != nil {
		return nil, m.headersErr
	}
	return &electrum.Header{Height: 800000}, nil
}

func (m *mockElectrum) SubscribeAddress(_ context.Context, address string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subCalls[address]++
	if err := m.subErr[address]; err != nil {
		return nil, err
	}
	status := "initial-status"
	return &status, nil
}

func (m *mockElectrum) UnsubscribeAddress(_ context.Context, address string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubCalls[address]++
	return true, nil
}

func (m *mockElectrum) ListUnspent(_ context.Context, address string) ([]electrum.UTXO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls[address]++
	if err := m.listErr[address]; err != nil {
		return nil, err
	}
	out := make([]electrum.UTXO, len(m.unspent[address]))
	copy(out, m.unspent[address])
	return out, nil
}

func (m *mockElectrum) setUnspent(address string, utxos ...electrum.UTXO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unspent[address] = utxos
}

func (m *mockElectrum) addUnspent(address string, u electrum.UTXO) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unspent[address] = append(m.unspent[address], u)
}

func (m *mockElectrum) setListErr(address string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr[address] = err
}

func (m *mockElectrum) setPingErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

func (m *mockElectrum) setConnectErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

func (m *mockElectrum) subscribeCount(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subCalls[address]
}

func (m *mockElectrum) unsubscribeCount(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubCalls[address]
}

func (m *mockElectrum) listCount(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls[address]
}

func (m *mockElectrum) stats() (connects, closes, headerSubs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.closes, m.headerSubs
}

// notify fires the registered address-notification handler the way the client
// dispatch loop would.
func (m *mockElectrum) notify(t *testing.T, address string) {
	t.Helper()

	m.mu.Lock()
	handler := m.handlers[methodAddressNotify]
	m.mu.Unlock()

	if handler == nil {
		t.Fatal("no address notification handler registered")
	}
	params, err := json.Marshal([]string{address, "fakestatushash"})
	if err != nil {
		t.Fatalf("marshal notification params: %v", err)
	}
	handler(params)
}

func utxo(txHash string, pos uint32, sats, height int64) electrum.UTXO {
	return electrum.UTXO{
		TxHash: txHash,
		TxPos:  pos,
		Height: height,
		Value:  cashutil.Amount(sats),
	}
}

type grainCall struct {
	userID int64
	grain  int64
}

// mockStore implements PaymentStore and records every mutation.
type mockStore struct {
	mu sync.Mutex

	usernames    map[int64]string
	usernameErr  error
	grainErr     error
	devices      map[int64]*models.Device
	deviceErr    error
	feedPrices   map[int64]float64
	feedPriceErr error
	feedErr      error
	insertErr    error

	grainCalls []grainCall
	feedCalls  []int64
	payments   []models.PaymentRecord
}

func newMockStore() *mockStore {
	return &mockStore{
		usernames:  make(map[int64]string),
		devices:    make(map[int64]*models.Device),
		feedPrices: make(map[int64]float64),
	}
}

func (s *mockStore) LookupUsername(_ context.Context, userID int64) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameErr != nil {
		return nil, s.usernameErr
	}
	name, ok := s.usernames[userID]
	if !ok {
		return nil, nil
	}
	return &name, nil
}

func (s *mockStore) ApplyGrainReward(_ context.Context, userID, grainDelta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grainCalls = append(s.grainCalls, grainCall{userID: userID, grain: grainDelta})
	return s.grainErr
}

func (s *mockStore) LookupDevice(_ context.Context, deviceID int64) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceErr != nil {
		return nil, s.deviceErr
	}
	return s.devices[deviceID], nil
}

func (s *mockStore) LookupDeviceFeedPrice(_ context.Context, deviceID int64) (*float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feedPriceErr != nil {
		return nil, s.feedPriceErr
	}
	price, ok := s.feedPrices[deviceID]
	if !ok {
		return nil, nil
	}
	return &price, nil
}

func (s *mockStore) ApplyFeeding(_ context.Context, deviceID int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedCalls = append(s.feedCalls, deviceID)
	return s.feedErr
}

func (s *mockStore) InsertPayment(_ context.Context, p *models.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.payments = append(s.payments, *p)
	return nil
}

func (s *mockStore) recordedPayments() []models.PaymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentRecord(nil), s.payments...)
}

func (s *mockStore) recordedGrain() []grainCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]grainCall(nil), s.grainCalls...)
}

func (s *mockStore) recordedFeedings() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.feedCalls...)
}

// mockPrices implements PriceSource with settable quotes.
type mockPrices struct {
	mu    sync.Mutex
	eur   float64
	usd   float64
	eurOK bool
	usdOK bool
}

func newMockPrices(eur, usd float64) *mockPrices {
	return &mockPrices{eur: eur, usd: usd, eurOK: true, usdOK: true}
}

func (p *mockPrices) Eur() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eur, p.eurOK
}

func (p *mockPrices) Usd() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.usd, p.usdOK
}

func (p *mockPrices) setEur(v float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eur, p.eurOK = v, ok
}

func (p *mockPrices) setUsd(v float64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usd, p.usdOK = v, ok
}

// mockWatches implements WatchSource backed by a plain map.
type mockWatches struct {
	mu     sync.Mutex
	byAddr map[string]models.WatchedAddress
}

func newMockWatches(watches ...models.WatchedAddress) *mockWatches {
	m := &mockWatches{byAddr: make(map[string]models.WatchedAddress)}
	for _, w := range watches {
		m.byAddr[w.Address] = w
	}
	return m
}

func (m *mockWatches) Snapshot() []models.WatchedAddress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.WatchedAddress, 0, len(m.byAddr))
	for _, w := range m.byAddr {
		out = append(out, w)
	}
	return out
}

func (m *mockWatches) Get(address string) (models.WatchedAddress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.byAddr[address]
	return w, ok
}

func (m *mockWatches) put(w models.WatchedAddress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAddr[w.Address] = w
}

func (m *mockWatches) remove(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byAddr, address)
}

func userWatch(address string, userID int64) models.WatchedAddress {
	return models.WatchedAddress{
		Address:   address,
		CreatedAt: time.Now().UTC(),
		UserID:    &userID,
	}
}

func deviceWatch(address string, deviceID int64) models.WatchedAddress {
	return models.WatchedAddress{
		Address:   address,
		CreatedAt: time.Now().UTC(),
		DeviceID:  &deviceID,
	}
}

func testTiers() []models.Tier {
	twenty := 20.0
	fifty := 50.0
	return []models.Tier{
		{MinEUR: 0, MaxEUR: &twenty, Multiplier: 4},
		{MinEUR: 20, MaxEUR: &fifty, Multiplier: 5},
		{MinEUR: 50, Multiplier: 6},
	}
}

func newTestMonitor(t *testing.T, ec *mockElectrum, st *mockStore, pr *mockPrices, ws *mockWatches) *Monitor {
	t.Helper()

	cfg := &config.Config{Network: "mainnet", MonitorWorkers: 2}
	return New(cfg, ec, st, pr, ws, grain.NewCalculator(testTiers()))
}

// primeAddress runs one reconcile pass so the address baseline is captured.
func primeAddress(t *testing.T, m *Monitor) {
	t.Helper()
	m.reconcile(context.Background())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func intPtr(v int64) *int64 {
	return &v
}

func strPtr(v string) *string {
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}

func approxEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-9
}
