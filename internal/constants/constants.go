package constants

import "time"

const (
	RefreshThrottleWindow = 2000 * time.Millisecond
	RefreshWaitTimeout    = 10 * time.Second
	ReceiptPollInterval   = 200 * time.Millisecond
)

const (
	CapabilityDurationDays = 10
	CapabilityCacheSize    = 128
)

const (
	BadgeActiveWindow = 7 * 24 * time.Hour
	BadgeDailyWindow  = 24 * time.Hour
)

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
	RequestTimeout     = 30 * time.Second
)

const (
	DBMaxOpenConns    = 100
	DBMaxIdleConns    = 10
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	EventPageLimit    = 500
	MaxContentSize    = 1 << 20
	LeaderboardLimit  = 10
	DefaultChainID    = 31337
	DefaultLedgerAddr = "0x5c0e1ed9e5000000000000000000000000000001"
)
