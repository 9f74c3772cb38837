package config

import "time"

// Electrum Protocol
const (
	ElectrumClientName      = "bchwatch"
	ElectrumProtocolVersion = "1.4"
	ElectrumDialTimeout     = 10 * time.Second
	ElectrumRequestTimeout  = 30 * time.Second
	ElectrumReadBufferSize  = 1 << 20 // Fulcrum can emit very long listunspent lines
	NotificationQueueSize   = 256
)

// Monitor
const (
	SyncInterval           = 2 * time.Second
	WatchdogInterval       = 15 * time.Second
	WatchdogReconnectDelay = 1 * time.Second
	DefaultMonitorWorkers  = 8
	WorkerQueueSize        = 32
	PrimingRequestsPerSec  = 5 // politeness cap for listunspent bursts during priming/restore
	GraceWindow            = 30 * time.Minute
	DeviceThresholdMargin  = 0.95
	SatsPerBCH             = 1e8
	PaymentEventBuffer     = 64 // decouples detection workers from slow event subscribers
)

// Registry
const (
	DefaultChangeChannel   = "bch_table_changes"
	RegistryReconnectDelay = 5 * time.Second
	RegistryPingInterval   = 90 * time.Second
	RegistryReloadTimeout  = 30 * time.Second
)

// Price
const (
	CoinGeckoBaseURL     = "https://api.coingecko.com/api/v3"
	CoinGeckoIDBCH       = "bitcoin-cash"
	PriceRefreshInterval = 10 * time.Minute
	PriceRequestTimeout  = 5 * time.Second
)

// Store
const (
	StoreMaxOpenConns    = 8
	StoreMaxIdleConns    = 4
	StoreConnMaxLifetime = 30 * time.Minute
	SweepMaxAge          = 24 * time.Hour
	SweepTimeout         = 5 * time.Minute
	DefaultSweepInterval = time.Hour
)

// Wallet (BIP-44)
const (
	BIP44Purpose    = 44
	BCHCoinType     = 145
	BCHTestCoinType = 1
)

// Logging
const (
	LogFilePrefix = "bchwatch-"
	LogMaxAgeDays = 7
)

// Tiers
const (
	TiersConfigFile = "./tiers.json"
	MinTierCount    = 2
)

// Graceful Shutdown
const (
	ShutdownTimeout = 10 * time.Second
)

// Server
const (
	ServerReadTimeout    = 30 * time.Second
	ServerIdleTimeout    = 120 * time.Second
	SSEKeepAliveInterval = 15 * time.Second
	DefaultRecentLimit   = 50
	MaxRecentLimit       = 200
)
