package api

import (
	"spot-trader/pkg/types"
)

// Controller is the engine surface the dashboard drives. Kept as a local
// interface so this package never imports the engine.
type Controller interface {
	// Start begins the scan loop; rejected (with an error) unless the
	// engine is in a startable state.
	Start() error
	// Stop halts the loop. hard marks an operator kill switch.
	Stop(hard bool)
	// UpdateSettings validates, persists, and applies a new settings
	// snapshot, rescheduling the loop if it is running.
	UpdateSettings(s types.Settings) error
	// Snapshot returns the current composite state for a new subscriber.
	Snapshot() InitialState
	// Events is the stream the server relays to all clients.
	Events() <-chan Event
	// Status reports the lifecycle state for health checks.
	Status() types.Status
}

// InitialState is the composite snapshot a client receives on subscribe.
// Logs start empty: the dashboard accumulates its own ring from log events.
type InitialState struct {
	BotStatus   types.Status           `json:"botStatus"`
	Settings    types.Settings         `json:"settings"`
	Logs        []types.BotLog         `json:"logs"`
	Portfolio   []types.PortfolioItem  `json:"portfolio"`
	USDTBalance float64                `json:"usdtBalance"`
	TradeLedger []types.CompletedTrade `json:"tradeLedger"`
	MarketData  []types.Coin           `json:"marketData"`
}
