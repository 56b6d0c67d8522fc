// Package types provides configuration types for the trading backend.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// GlobalConfig holds the portfolio-wide settings read by the orchestrator,
// the Capital Allocator, and the Global Risk Monitor (spec.md §6).
type GlobalConfig struct {
	DailyLossLimitPct       decimal.Decimal `mapstructure:"dailyLossLimit" json:"dailyLossLimit"`
	MaxDrawdownPct          decimal.Decimal `mapstructure:"maxDrawdown" json:"maxDrawdown"`
	CircuitBreakerCooldown  time.Duration   `mapstructure:"circuitBreakerCooldown" json:"circuitBreakerCooldown"`
	HeartbeatWarnSeconds    int             `mapstructure:"heartbeatWarnSeconds" json:"heartbeatWarnSeconds"`
	HeartbeatRestartSeconds int             `mapstructure:"heartbeatRestartSeconds" json:"heartbeatRestartSeconds"`
	MaxRestarts             int             `mapstructure:"maxRestarts" json:"maxRestarts"`
	ShutdownGracePeriod     time.Duration   `mapstructure:"shutdownGracePeriod" json:"shutdownGracePeriod"`
	MonitorTick             time.Duration   `mapstructure:"monitorTick" json:"monitorTick"`
	EmergencyPortfolioLossPct decimal.Decimal `mapstructure:"emergencyPortfolioLossPct" json:"emergencyPortfolioLossPct"`
	CorrelationGroups       map[string][]string `mapstructure:"correlationGroups" json:"correlationGroups"`
	CorrelationCap          int             `mapstructure:"correlationCap" json:"correlationCap"`
	BlacklistDuration       time.Duration   `mapstructure:"blacklistDuration" json:"blacklistDuration"`
	ReferenceSymbol         string          `mapstructure:"referenceSymbol" json:"referenceSymbol"`
}

// DefaultGlobalConfig matches the defaults named throughout spec.md §4.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DailyLossLimitPct:         decimal.NewFromFloat(4.0),
		MaxDrawdownPct:            decimal.NewFromFloat(10.0),
		CircuitBreakerCooldown:    60 * time.Minute,
		HeartbeatWarnSeconds:      60,
		HeartbeatRestartSeconds:   300,
		MaxRestarts:               3,
		ShutdownGracePeriod:       30 * time.Second,
		MonitorTick:               1 * time.Second,
		EmergencyPortfolioLossPct: decimal.NewFromFloat(5.0),
		CorrelationCap:            2,
		BlacklistDuration:         60 * time.Minute,
		ReferenceSymbol:           "BTCUSDT",
	}
}

// EngineConfig holds the per-engine settings enumerated in spec.md §6.
type EngineConfig struct {
	Name                  string          `mapstructure:"name" json:"name"`
	Kind                  string          `mapstructure:"kind" json:"kind"` // "spot" | "perp"
	Enabled               bool            `mapstructure:"enabled" json:"enabled"`
	CapitalPct            decimal.Decimal `mapstructure:"capitalPct" json:"capitalPct"`
	MaxPositions          int             `mapstructure:"maxPositions" json:"maxPositions"`
	ScanInterval          time.Duration   `mapstructure:"scanInterval" json:"scanInterval"`
	MonitorInterval       time.Duration   `mapstructure:"monitorInterval" json:"monitorInterval"`
	MinConfidenceTrending int             `mapstructure:"minConfidenceTrending" json:"minConfidenceTrending"`
	MinConfidenceOther    int             `mapstructure:"minConfidenceSideways" json:"minConfidenceSideways"`
	SizePctMin            decimal.Decimal `mapstructure:"sizePctMin" json:"sizePctMin"`
	SizePctMax            decimal.Decimal `mapstructure:"sizePctMax" json:"sizePctMax"`
	LeverageMin           int             `mapstructure:"leverageMin" json:"leverageMin"`
	LeverageMax           int             `mapstructure:"leverageMax" json:"leverageMax"`
	ConfirmationCandles   int             `mapstructure:"confirmationCandles" json:"confirmationCandles"`
	ConfirmationDriftPct  decimal.Decimal `mapstructure:"confirmationDriftPct" json:"confirmationDriftPct"`
	TrailingActivationPct decimal.Decimal `mapstructure:"trailingActivationPct" json:"trailingActivationPct"`
	BlacklistDurationMinutes int          `mapstructure:"blacklistDurationMinutes" json:"blacklistDurationMinutes"`
	Watchlist             []string        `mapstructure:"watchlist" json:"watchlist"`
	TickTimeout           time.Duration   `mapstructure:"tickTimeout" json:"tickTimeout"`
	EmergencyPositionLossPct decimal.Decimal `mapstructure:"emergencyPositionLossPct" json:"emergencyPositionLossPct"`
}

// DefaultEngineConfig matches spec.md §4.9's illustrative cadences.
func DefaultEngineConfig(name string) EngineConfig {
	return EngineConfig{
		Name:                     name,
		Kind:                     "perp",
		Enabled:                  true,
		CapitalPct:               decimal.NewFromFloat(50.0),
		MaxPositions:             5,
		ScanInterval:             45 * time.Second,
		MonitorInterval:          5 * time.Second,
		MinConfidenceTrending:    60,
		MinConfidenceOther:       65,
		SizePctMin:               decimal.NewFromFloat(8.0),
		SizePctMax:               decimal.NewFromFloat(25.0),
		LeverageMin:              3,
		LeverageMax:              8,
		ConfirmationCandles:      1,
		ConfirmationDriftPct:     decimal.NewFromFloat(0.3),
		TrailingActivationPct:    decimal.NewFromFloat(2.0),
		BlacklistDurationMinutes: 60,
		TickTimeout:              10 * time.Second,
		EmergencyPositionLossPct: decimal.NewFromFloat(4.0),
	}
}

// CredentialsConfig carries exchange API credentials (spec.md §6); never
// logged, never serialized with its secret populated.
type CredentialsConfig struct {
	APIKey    string `mapstructure:"apiKey" json:"-"`
	APISecret string `mapstructure:"apiSecret" json:"-"`
	Testnet   bool   `mapstructure:"testnet" json:"testnet"`
}

// UnifiedConfig is the root configuration object loaded by viper at
// startup and validated before the orchestrator starts (spec.md §4.1, §6).
type UnifiedConfig struct {
	Global      GlobalConfig        `mapstructure:"global" json:"global"`
	Engines     []EngineConfig      `mapstructure:"engines" json:"engines"`
	Credentials CredentialsConfig   `mapstructure:"credentials" json:"-"`
	Server      ServerConfig        `mapstructure:"server" json:"server"`
	DataDir     string              `mapstructure:"dataDir" json:"dataDir"`
}

// ServerConfig configures the operator-facing HTTP/WebSocket status
// surface (SPEC_FULL.md §4 status snapshot).
type ServerConfig struct {
	Host          string        `mapstructure:"host" json:"host"`
	Port          int           `mapstructure:"port" json:"port"`
	MetricsPort   int           `mapstructure:"metricsPort" json:"metricsPort"`
	WebSocketPath string        `mapstructure:"websocketPath" json:"websocketPath"`
	ReadTimeout   time.Duration `mapstructure:"readTimeout" json:"readTimeout"`
	WriteTimeout  time.Duration `mapstructure:"writeTimeout" json:"writeTimeout"`
}

// DefaultServerConfig mirrors the teacher's server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:          "0.0.0.0",
		Port:          8080,
		MetricsPort:   9090,
		WebSocketPath: "/ws",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
	}
}
