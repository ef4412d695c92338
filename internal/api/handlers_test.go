package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"spot-trader/pkg/types"
)

// fakeController records every engine call the transport makes.
type fakeController struct {
	mu       sync.Mutex
	started  int
	stops    []bool
	applied  []types.Settings
	startErr error
	status   types.Status
	snapshot InitialState
	events   chan Event
}

func (f *fakeController) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeController) Stop(hard bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, hard)
}

func (f *fakeController) UpdateSettings(s types.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, s)
	return nil
}

func (f *fakeController) Snapshot() InitialState { return f.snapshot }

func (f *fakeController) Events() <-chan Event { return f.events }

func (f *fakeController) Status() types.Status { return f.status }

var _ Controller = (*fakeController)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClientWith(ctrl Controller) *Client {
	return &Client{hub: NewHub(testLogger()), ctrl: ctrl}
}

func TestHandleMessageCommands(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	c := newTestClientWith(ctrl)

	c.handleMessage([]byte(`{"type":"command","command":"START_BOT"}`))
	c.handleMessage([]byte(`{"type":"command","command":"STOP_BOT"}`))
	c.handleMessage([]byte(`{"type":"command","command":"KILL_SWITCH"}`))

	if ctrl.started != 1 {
		t.Errorf("Start calls = %d, want 1", ctrl.started)
	}
	if len(ctrl.stops) != 2 || ctrl.stops[0] != false || ctrl.stops[1] != true {
		t.Errorf("Stop calls = %v, want [false true]", ctrl.stops)
	}
}

func TestHandleMessageSettings(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	c := newTestClientWith(ctrl)

	payload := `{"type":"settings","payload":{"maxCoinPrice":2.5,"tradeAmountQuote":20,"scanIntervalMs":5000,"targetProfitPct":4,"stopLossPct":2,"maxOpenTrades":2,"rsiPeriod":14,"rsiBuyThreshold":25,"smaShortPeriod":7,"smaLongPeriod":25,"useTrailingStop":true,"trailingStopArmPct":1,"trailingStopOffsetPct":0.5}}`
	c.handleMessage([]byte(payload))

	if len(ctrl.applied) != 1 {
		t.Fatalf("UpdateSettings calls = %d, want 1", len(ctrl.applied))
	}
	got := ctrl.applied[0]
	if got.MaxCoinPrice != 2.5 || got.ScanIntervalMs != 5000 || !got.UseTrailingStop {
		t.Errorf("decoded settings = %+v", got)
	}
}

func TestHandleMessageIgnoresGarbage(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	c := newTestClientWith(ctrl)

	c.handleMessage([]byte(`not json`))
	c.handleMessage([]byte(`{"type":"command","command":"REBOOT_UNIVERSE"}`))
	c.handleMessage([]byte(`{"type":"telemetry"}`))
	c.handleMessage([]byte(`{"type":"settings","payload":"nope"}`))

	if ctrl.started != 0 || len(ctrl.stops) != 0 || len(ctrl.applied) != 0 {
		t.Errorf("unexpected engine calls: started=%d stops=%v applied=%v",
			ctrl.started, ctrl.stops, ctrl.applied)
	}
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{status: types.StatusRunning}
	h := NewHandlers(ctrl, NewHub(testLogger()), testLogger())

	rec := httptest.NewRecorder()
	h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body["status"] != "ok" || body["botStatus"] != "RUNNING" {
		t.Errorf("body = %v", body)
	}
}

func TestHandleSnapshot(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snapshot: InitialState{
		BotStatus:   types.StatusStopped,
		Settings:    types.DefaultSettings(),
		USDTBalance: 123.45,
		Logs:        []types.BotLog{},
	}}
	h := NewHandlers(ctrl, NewHub(testLogger()), testLogger())

	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, httptest.NewRequest(http.MethodGet, "/api/snapshot", nil))

	var got InitialState
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if got.BotStatus != types.StatusStopped || got.USDTBalance != 123.45 {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestStatusEventWireShape(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(NewStatusEvent(types.StatusRunning))
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "status" || m["status"] != "RUNNING" {
		t.Errorf("frame = %v", m)
	}
	if _, ok := m["payload"]; ok {
		t.Error("status frames must not carry a payload field")
	}
}

func TestPortfolioEventWireShape(t *testing.T) {
	t.Parallel()

	evt := NewPortfolioEvent([]types.PortfolioItem{{Symbol: "LTC/USDT", Free: 2}}, 55.5)
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatal(err)
	}

	var m struct {
		Type    string `json:"type"`
		Payload struct {
			Portfolio   []types.PortfolioItem `json:"portfolio"`
			USDTBalance float64               `json:"usdtBalance"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Type != "portfolio_update" || m.Payload.USDTBalance != 55.5 || len(m.Payload.Portfolio) != 1 {
		t.Errorf("frame = %+v", m)
	}
}
