package api

import (
	"spot-trader/pkg/types"
)

// Event kinds pushed to dashboard clients. initial_state is sent once per
// client on subscribe; the rest stream as the engine publishes them.
const (
	EventInitialState = "initial_state"
	EventStatus       = "status"
	EventLog          = "log"
	EventMarket       = "market_update_full"
	EventPortfolio    = "portfolio_update"
	EventLedger       = "trade_ledger_update"
)

// Event is the envelope for every frame pushed to dashboard clients. Status
// frames carry the status inline; everything else rides in Payload.
type Event struct {
	Type    string       `json:"type"`
	Status  types.Status `json:"status,omitempty"`
	Payload any          `json:"payload,omitempty"`
}

// PortfolioUpdate pairs the non-quote holdings with the free quote balance.
type PortfolioUpdate struct {
	Portfolio   []types.PortfolioItem `json:"portfolio"`
	USDTBalance float64               `json:"usdtBalance"`
}

// NewStatusEvent announces an engine status transition.
func NewStatusEvent(status types.Status) Event {
	return Event{Type: EventStatus, Status: status}
}

// NewLogEvent wraps one activity-log entry.
func NewLogEvent(entry types.BotLog) Event {
	return Event{Type: EventLog, Payload: entry}
}

// NewMarketEvent carries the full market snapshot for one scan.
func NewMarketEvent(coins []types.Coin) Event {
	return Event{Type: EventMarket, Payload: coins}
}

// NewPortfolioEvent carries the holdings derived from the latest balance read.
func NewPortfolioEvent(items []types.PortfolioItem, usdtBalance float64) Event {
	return Event{Type: EventPortfolio, Payload: PortfolioUpdate{Portfolio: items, USDTBalance: usdtBalance}}
}

// NewLedgerEvent carries the in-memory trade ledger, newest first.
func NewLedgerEvent(trades []types.CompletedTrade) Event {
	return Event{Type: EventLedger, Payload: trades}
}

// NewInitialStateEvent wraps the composite on-subscribe snapshot.
func NewInitialStateEvent(state InitialState) Event {
	return Event{Type: EventInitialState, Payload: state}
}
