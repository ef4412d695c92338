// Package engine is the central orchestrator of the trading bot.
//
// It owns every piece of mutable domain state (settings, open positions,
// portfolio, market snapshot, trade ledger) and runs the periodic
// scan/decide/execute loop under one mutex:
//
//  1. RefreshAccount pulls balances and rebuilds the portfolio view.
//  2. ScanMarket ranks the most liquid USDT pairs and decorates them with
//     RSI and dual-SMA values.
//  3. ExecuteStrategy first manages open positions (take-profit, stop-loss,
//     trailing stop, reconciliation of externally-closed balances), then
//     opens at most one new position per cycle.
//
// Every state change is persisted through the store and published as a typed
// event; the dashboard transport consumes those events and feeds commands
// back through Start, Stop, and UpdateSettings. Nothing else mutates engine
// state.
//
// Lifecycle: New() → Initialize() → Start()/Stop() cycles → process exit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"spot-trader/internal/api"
	"spot-trader/internal/config"
	"spot-trader/internal/exchange"
	"spot-trader/internal/risk"
	"spot-trader/internal/strategy"
	"spot-trader/pkg/types"
)

// Gateway is the slice of the exchange client the engine drives.
type Gateway interface {
	Initialize(ctx context.Context) error
	GetBalance(ctx context.Context) (types.Balances, error)
	PlaceMarketOrder(ctx context.Context, symbol string, side types.Side, amount float64) (*types.FilledOrder, error)
}

// MarketScanner produces the decorated market snapshot for one cycle.
type MarketScanner interface {
	Scan(ctx context.Context, settings types.Settings) ([]types.Coin, error)
}

// Persistence is the slice of the store the engine writes through.
type Persistence interface {
	SaveSettings(settings types.Settings) error
	LoadSettings() (*types.Settings, error)
	SaveActiveTrade(symbol string, trade types.ActiveTrade) error
	DeleteActiveTrade(symbol string) error
	LoadActiveTrades() (map[string]types.ActiveTrade, error)
	SaveLedgerItem(trade types.CompletedTrade) error
	LoadLedger(limit int) ([]types.CompletedTrade, error)
}

// Engine owns the trading state machine and the scan loop.
type Engine struct {
	cfg     *config.Config
	gateway Gateway
	scanner MarketScanner
	store   Persistence
	logger  *slog.Logger

	// mu guards every field below it. The scan loop holds it for a whole
	// iteration, gateway I/O included, so commands observed mid-cycle
	// serialize against trading decisions.
	mu           sync.Mutex
	settings     types.Settings
	status       types.Status
	activeTrades map[string]types.ActiveTrade
	portfolio    []types.PortfolioItem
	usdtBalance  float64
	marketData   []types.Coin
	tradeLedger  []types.CompletedTrade
	loopCancel   context.CancelFunc

	// isScanning collapses overlapping ticks; isStopping is the lock-free
	// early-exit signal Stop raises while an iteration is mid-flight.
	isScanning atomic.Bool
	isStopping atomic.Bool

	events chan api.Event
}

// New wires an engine from its ports. No I/O happens until Initialize.
func New(cfg *config.Config, gateway Gateway, scanner MarketScanner, store Persistence, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		gateway:      gateway,
		scanner:      scanner,
		store:        store,
		logger:       logger.With("component", "engine"),
		settings:     types.DefaultSettings(),
		status:       types.StatusInitializing,
		activeTrades: make(map[string]types.ActiveTrade),
		events:       make(chan api.Event, 100),
	}
}

// Initialize restores persisted state, brings up the exchange gateway, and
// performs the first account refresh. On success the engine lands in STOPPED,
// ready for Start; any failure lands it in ERROR, from which only a restart
// with fixed credentials recovers.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stored, err := e.store.LoadSettings(); err != nil {
		e.logger.Error("load settings", "error", err)
	} else if stored != nil {
		e.settings = *stored
	} else if err := e.store.SaveSettings(e.settings); err != nil {
		e.logger.Warn("persist default settings", "error", err)
	}

	if trades, err := e.store.LoadActiveTrades(); err != nil {
		e.logger.Error("load active trades", "error", err)
	} else if len(trades) > 0 {
		e.activeTrades = trades
		e.publishLog(types.BotLog{
			Type:    types.LogInfo,
			Message: fmt.Sprintf("Restored %d open position(s) from disk", len(trades)),
		})
	}

	if ledger, err := e.store.LoadLedger(types.LedgerLoadLimit); err != nil {
		e.logger.Error("load trade ledger", "error", err)
	} else {
		e.tradeLedger = ledger
	}

	if !e.cfg.HasCredentials() {
		e.setStatusLocked(types.StatusError)
		e.publishLog(types.BotLog{
			Type:    types.LogAPIKey,
			Message: "No API credentials configured; trading is disabled",
		})
		return errors.New("missing api credentials")
	}

	if err := e.gateway.Initialize(ctx); err != nil {
		e.setStatusLocked(types.StatusError)
		if errors.Is(err, exchange.ErrWithdrawEnabled) {
			e.publishLog(types.BotLog{
				Type:    types.LogAPIKey,
				Message: "API key has withdrawal permission; refusing to trade with it",
			})
		} else {
			e.publishLog(types.BotLog{
				Type:    types.LogError,
				Message: "Exchange initialization failed: " + err.Error(),
			})
		}
		return fmt.Errorf("initialize gateway: %w", err)
	}

	if err := e.refreshAccountLocked(ctx); err != nil {
		e.setStatusLocked(types.StatusError)
		e.publishLog(types.BotLog{
			Type:    types.LogError,
			Message: "Initial balance fetch failed: " + err.Error(),
		})
		return err
	}

	e.setStatusLocked(types.StatusStopped)
	msg := "Bot initialized and ready"
	if e.cfg.IsSandbox {
		msg += " (sandbox)"
	}
	e.publishLog(types.BotLog{Type: types.LogSuccess, Message: msg})
	return nil
}

// Start begins the periodic scan loop. Only valid from STOPPED; a double
// start logs a warning and keeps the existing timer.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.status {
	case types.StatusRunning:
		e.publishLog(types.BotLog{Type: types.LogWarning, Message: "Start ignored: bot is already running"})
		return nil
	case types.StatusStopped:
	default:
		err := fmt.Errorf("cannot start from status %s", e.status)
		e.publishLog(types.BotLog{Type: types.LogError, Message: "Cannot start: " + err.Error()})
		return err
	}

	e.isStopping.Store(false)
	e.setStatusLocked(types.StatusRunning)
	e.publishLog(types.BotLog{
		Type:    types.LogSuccess,
		Message: fmt.Sprintf("Bot started, scanning every %s", e.settings.ScanInterval()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	e.loopCancel = cancel
	go e.runLoop(ctx, e.settings.ScanInterval(), true)
	return nil
}

// Stop halts the loop and transitions to STOPPED. hard marks an operator
// kill switch and only changes how the stop is reported. Stopping an already
// stopped engine is a no-op; stopping from ERROR clears any stale timer.
func (e *Engine) Stop(hard bool) {
	e.isStopping.Store(true)
	defer e.isStopping.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loopCancel != nil {
		e.loopCancel()
		e.loopCancel = nil
	}

	if e.status != types.StatusRunning && e.status != types.StatusError {
		return
	}

	e.setStatusLocked(types.StatusStopped)
	if hard {
		e.publishLog(types.BotLog{Type: types.LogWarning, Message: "Kill switch engaged, bot halted"})
	} else {
		e.publishLog(types.BotLog{Type: types.LogInfo, Message: "Bot stopped"})
	}
}

// UpdateSettings validates, persists, and applies a new settings snapshot.
// While running, the loop timer restarts so the new interval takes effect on
// the next tick.
func (e *Engine) UpdateSettings(s types.Settings) error {
	if err := s.Validate(); err != nil {
		e.publishLog(types.BotLog{Type: types.LogWarning, Message: "Rejected settings update: " + err.Error()})
		return fmt.Errorf("validate settings: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings = s
	if err := e.store.SaveSettings(s); err != nil {
		e.publishLog(types.BotLog{Type: types.LogError, Message: "Failed to persist settings: " + err.Error()})
	}

	if e.status == types.StatusRunning && e.loopCancel != nil {
		e.loopCancel()
		ctx, cancel := context.WithCancel(context.Background())
		e.loopCancel = cancel
		go e.runLoop(ctx, s.ScanInterval(), false)
	}

	e.publishLog(types.BotLog{Type: types.LogInfo, Message: "Settings updated"})
	return nil
}

// runLoop drives ExecuteLoop on the scan interval until its context is
// cancelled. Start requests one immediate pass; settings updates only
// reschedule the timer.
func (e *Engine) runLoop(ctx context.Context, interval time.Duration, immediate bool) {
	if immediate {
		e.ExecuteLoop(ctx)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ExecuteLoop(ctx)
		}
	}
}

// ExecuteLoop runs one full scan cycle: refresh balances, rebuild the market
// snapshot, manage exits, consider one entry. A cycle that is still running
// when the next tick fires makes the new tick return immediately; nothing
// escapes the cycle, every failure is logged and retried on the next tick.
func (e *Engine) ExecuteLoop(ctx context.Context) {
	if !e.isScanning.CompareAndSwap(false, true) {
		e.logger.Debug("previous cycle still running, skipping tick")
		return
	}
	defer e.isScanning.Store(false)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isStopping.Load() || e.status != types.StatusRunning {
		return
	}

	if err := e.refreshAccountLocked(ctx); err != nil {
		e.publishLog(types.BotLog{Type: types.LogError, Message: "Account refresh failed: " + err.Error()})
		return
	}
	if e.isStopping.Load() {
		return
	}

	if err := e.scanMarketLocked(ctx); err != nil {
		e.publishLog(types.BotLog{Type: types.LogError, Message: "Market scan failed: " + err.Error()})
		return
	}
	if e.isStopping.Load() {
		return
	}

	e.runSellPassLocked(ctx)
	if e.isStopping.Load() {
		return
	}
	e.runBuyPassLocked(ctx)
}

// refreshAccountLocked pulls balances, splits out the quote balance, and
// rebuilds the portfolio view with purchase data joined from open positions.
func (e *Engine) refreshAccountLocked(ctx context.Context) error {
	bal, err := e.gateway.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}

	e.usdtBalance = bal.Free[types.QuoteAsset]

	portfolio := make([]types.PortfolioItem, 0, len(bal.Total))
	for asset, total := range bal.Total {
		if asset == types.QuoteAsset || total <= 0 {
			continue
		}
		item := types.PortfolioItem{
			Symbol:     asset + "/" + types.QuoteAsset,
			BaseAsset:  asset,
			QuoteAsset: types.QuoteAsset,
			Free:       bal.Free[asset],
			Locked:     bal.Used[asset],
		}
		if trade, ok := e.activeTrades[item.Symbol]; ok {
			price := trade.PurchasePrice
			ts := trade.Timestamp
			item.AvgPurchasePrice = &price
			item.PurchaseTimestamp = &ts
		}
		portfolio = append(portfolio, item)
	}
	sort.Slice(portfolio, func(i, j int) bool {
		return portfolio[i].Symbol < portfolio[j].Symbol
	})

	e.portfolio = portfolio
	e.emit(api.NewPortfolioEvent(portfolio, e.usdtBalance))
	return nil
}

// scanMarketLocked replaces the market snapshot with this cycle's scan.
func (e *Engine) scanMarketLocked(ctx context.Context) error {
	coins, err := e.scanner.Scan(ctx, e.settings)
	if err != nil {
		return fmt.Errorf("scan market: %w", err)
	}

	e.marketData = coins
	e.emit(api.NewMarketEvent(coins))
	return nil
}

// runSellPassLocked walks every open position and applies the exit rules.
// Positions whose exchange balance has vanished were closed outside the bot
// and are dropped from tracking without a ledger row.
func (e *Engine) runSellPassLocked(ctx context.Context) {
	prices := make(map[string]float64, len(e.marketData))
	for _, c := range e.marketData {
		prices[c.Symbol] = c.Price
	}
	holdings := make(map[string]types.PortfolioItem, len(e.portfolio))
	for _, item := range e.portfolio {
		holdings[item.Symbol] = item
	}

	symbols := make([]string, 0, len(e.activeTrades))
	for symbol := range e.activeTrades {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		if e.isStopping.Load() {
			return
		}
		trade := e.activeTrades[symbol]

		price, ok := prices[symbol]
		if !ok {
			// Price not refreshed this cycle (fell out of the candidate
			// pool); re-evaluated when it reappears.
			continue
		}

		item, held := holdings[symbol]
		if !held || item.Free <= 0 {
			e.dropPositionLocked(symbol)
			continue
		}

		verdict := risk.Evaluate(trade, price, e.settings)
		if verdict.NewHigh != nil {
			trade.HighestPriceSinceBuy = verdict.NewHigh
			e.activeTrades[symbol] = trade
			if err := e.store.SaveActiveTrade(symbol, trade); err != nil {
				e.logger.Error("persist high-water mark", "symbol", symbol, "error", err)
			}
		}
		if !verdict.Sell {
			continue
		}
		e.closePositionLocked(ctx, symbol, trade, item.Free, price, verdict.Reason)
	}
}

// dropPositionLocked removes a position whose balance disappeared. No ledger
// row is written: the ledger records only orders this bot placed.
func (e *Engine) dropPositionLocked(symbol string) {
	delete(e.activeTrades, symbol)
	if err := e.store.DeleteActiveTrade(symbol); err != nil {
		e.logger.Error("persist position removal", "symbol", symbol, "error", err)
	}
	e.publishLog(types.BotLog{
		Type:    types.LogWarning,
		Message: fmt.Sprintf("No balance left for %s; removing it from tracking (closed outside the bot?)", symbol),
		Pair:    symbol,
	})
}

// closePositionLocked sells the full free balance of one position and
// records the outcome. Order failures leave the position tracked; the next
// cycle retries.
func (e *Engine) closePositionLocked(ctx context.Context, symbol string, trade types.ActiveTrade, amountToSell, marketPrice float64, reason string) {
	if amountToSell*marketPrice < types.MinTradeValueQuote {
		e.publishLog(types.BotLog{
			Type:    types.LogWarning,
			Message: fmt.Sprintf("Skipping %s sell of %s: notional %.2f is below the venue minimum", reason, symbol, amountToSell*marketPrice),
			Pair:    symbol,
		})
		return
	}

	order, err := e.gateway.PlaceMarketOrder(ctx, symbol, types.SELL, amountToSell)
	if err != nil {
		e.publishLog(types.BotLog{
			Type:    types.LogError,
			Message: fmt.Sprintf("Sell order for %s failed: %v", symbol, err),
			Pair:    symbol,
		})
		return
	}

	execPrice := firstPositive(order.Average, order.Price, marketPrice)
	filled := firstPositive(order.Filled, order.Amount, amountToSell)
	cost := firstPositive(order.Cost, filled*execPrice)

	profit := cost - trade.PurchasePrice*filled
	profitPct := 0.0
	if basis := trade.PurchasePrice * filled; basis > 0 {
		profitPct = profit / basis * 100
	}

	purchase := trade.PurchasePrice
	row := types.CompletedTrade{
		ID:                   uuid.NewString(),
		Timestamp:            time.Now().UnixMilli(),
		Type:                 types.SELL,
		Pair:                 symbol,
		Price:                execPrice,
		Amount:               filled,
		Cost:                 cost,
		OrderID:              order.ID,
		ProfitAmount:         &profit,
		ProfitPercent:        &profitPct,
		PurchasePriceForSell: &purchase,
	}
	if order.FeeCurrency != "" {
		fee := order.FeeAmount
		row.FeeAmount = &fee
		row.FeeCurrency = order.FeeCurrency
	}
	e.appendLedgerLocked(row)

	delete(e.activeTrades, symbol)
	if err := e.store.DeleteActiveTrade(symbol); err != nil {
		e.logger.Error("persist position removal", "symbol", symbol, "error", err)
	}

	e.publishLog(types.BotLog{
		Type:          types.LogSell,
		Message:       fmt.Sprintf("%s: sold %s at %.6f (%+.2f %s, %+.2f%%)", reason, symbol, execPrice, profit, types.QuoteAsset, profitPct),
		Pair:          symbol,
		Price:         &execPrice,
		Amount:        &filled,
		ProfitAmount:  &profit,
		ProfitPercent: &profitPct,
	})
}

// runBuyPassLocked opens at most one position per cycle, picking the most
// liquid coin whose entry signal fires. Admission control goes first so a
// full book or an empty wallet costs nothing.
func (e *Engine) runBuyPassLocked(ctx context.Context) {
	if len(e.activeTrades) >= e.settings.MaxOpenTrades {
		return
	}
	if e.usdtBalance < e.settings.TradeAmountQuote {
		return
	}
	if e.settings.TradeAmountQuote < types.MinTradeValueQuote {
		e.logger.Debug("trade amount below venue minimum, skipping entries",
			"amount", e.settings.TradeAmountQuote)
		return
	}

	cand := strategy.FindBuyCandidate(e.marketData, e.activeTrades, e.settings)
	if cand == nil {
		return
	}

	symbol := cand.Coin.Symbol
	e.publishLog(types.BotLog{
		Type:    types.LogStrategyInfo,
		Message: fmt.Sprintf("Entry signal on %s: %s", symbol, cand.Reason),
		Pair:    symbol,
	})

	order, err := e.gateway.PlaceMarketOrder(ctx, symbol, types.BUY, cand.Amount)
	if err != nil {
		e.publishLog(types.BotLog{
			Type:    types.LogError,
			Message: fmt.Sprintf("Buy order for %s failed: %v", symbol, err),
			Pair:    symbol,
		})
		return
	}

	execPrice := firstPositive(order.Average, order.Price, cand.Coin.Price)
	filled := firstPositive(order.Filled, order.Amount, cand.Amount)
	cost := firstPositive(order.Cost, filled*execPrice)

	high := execPrice
	trade := types.ActiveTrade{
		PurchasePrice:        execPrice,
		Amount:               filled,
		Timestamp:            time.Now().UnixMilli(),
		HighestPriceSinceBuy: &high,
	}
	e.activeTrades[symbol] = trade
	if err := e.store.SaveActiveTrade(symbol, trade); err != nil {
		e.logger.Error("persist new position", "symbol", symbol, "error", err)
	}

	row := types.CompletedTrade{
		ID:        uuid.NewString(),
		Timestamp: trade.Timestamp,
		Type:      types.BUY,
		Pair:      symbol,
		Price:     execPrice,
		Amount:    filled,
		Cost:      cost,
		OrderID:   order.ID,
	}
	if order.FeeCurrency != "" {
		fee := order.FeeAmount
		row.FeeAmount = &fee
		row.FeeCurrency = order.FeeCurrency
	}
	e.appendLedgerLocked(row)

	e.publishLog(types.BotLog{
		Type:    types.LogBuy,
		Message: fmt.Sprintf("Bought %s at %.6f for %.2f %s", symbol, execPrice, cost, types.QuoteAsset),
		Pair:    symbol,
		Price:   &execPrice,
		Amount:  &filled,
	})
}

// appendLedgerLocked persists one ledger row, prepends it to the in-memory
// view (newest first, capped), and publishes the updated ledger.
func (e *Engine) appendLedgerLocked(row types.CompletedTrade) {
	if err := e.store.SaveLedgerItem(row); err != nil {
		e.logger.Error("persist ledger row", "id", row.ID, "error", err)
	}

	e.tradeLedger = append([]types.CompletedTrade{row}, e.tradeLedger...)
	if len(e.tradeLedger) > types.LedgerMemoryCap {
		e.tradeLedger = e.tradeLedger[:types.LedgerMemoryCap]
	}
	e.emit(api.NewLedgerEvent(e.tradeLedger))
}

// Snapshot returns the composite state a new subscriber needs. Logs start
// empty; the dashboard builds its own ring from streamed log events.
func (e *Engine) Snapshot() api.InitialState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return api.InitialState{
		BotStatus:   e.status,
		Settings:    e.settings,
		Logs:        []types.BotLog{},
		Portfolio:   append([]types.PortfolioItem{}, e.portfolio...),
		USDTBalance: e.usdtBalance,
		TradeLedger: append([]types.CompletedTrade{}, e.tradeLedger...),
		MarketData:  append([]types.Coin{}, e.marketData...),
	}
}

// Events is the stream the dashboard server relays to clients.
func (e *Engine) Events() <-chan api.Event {
	return e.events
}

// Status reports the lifecycle state.
func (e *Engine) Status() types.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) setStatusLocked(status types.Status) {
	if e.status == status {
		return
	}
	e.status = status
	e.logger.Info("status changed", "status", string(status))
	e.emit(api.NewStatusEvent(status))
}

// publishLog stamps, logs, and broadcasts one activity-log entry.
func (e *Engine) publishLog(entry types.BotLog) {
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UnixMilli()

	args := []any{"type", string(entry.Type)}
	if entry.Pair != "" {
		args = append(args, "pair", entry.Pair)
	}
	switch entry.Type {
	case types.LogError, types.LogAPIKey:
		e.logger.Error(entry.Message, args...)
	case types.LogWarning:
		e.logger.Warn(entry.Message, args...)
	case types.LogDebug:
		e.logger.Debug(entry.Message, args...)
	default:
		e.logger.Info(entry.Message, args...)
	}

	e.emit(api.NewLogEvent(entry))
}

// emit publishes without ever blocking the engine. When the bus is
// saturated the oldest frame is evicted first; market and portfolio frames
// are superseded every cycle anyway, and the eviction keeps room for the
// ordered log and ledger stream.
func (e *Engine) emit(evt api.Event) {
	select {
	case e.events <- evt:
		return
	default:
	}

	select {
	case <-e.events:
	default:
	}
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("event bus full, dropping event", "type", evt.Type)
	}
}

// firstPositive returns the first strictly positive value, or 0. Exchange
// order responses leave fields at zero when the venue omits them, so this is
// the fallback chain for fill price, amount, and cost.
func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
