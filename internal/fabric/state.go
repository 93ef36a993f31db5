package fabric

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"finsim/internal/intent"
)

// TTLs applied to the transient key families.
const (
	streamTTL = 10 * time.Minute
	salesTTL  = 5 * time.Minute
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Snapshot is the full system view a bank pulls at the start of its step.
type Snapshot struct {
	Step         int
	NBanks       int
	AggregateLiq float64
	AggregateExp float64
	NStressed    int
	NDefaulted   int
	MarginRate   float64
	Banks        map[int]BankState
}

// BankState is the observable (public) slice of one bank's balance sheet.
type BankState struct {
	Liquidity     float64
	Capital       float64
	TotalExposure float64
	Stressed      bool
	Defaulted     bool
	MissedPayment bool
}

// MarketData mirrors the exchange's latest update_market_data payload.
type MarketData struct {
	NewVolatility     float64 `json:"new_volatility"`
	PriceChangeSignal float64 `json:"price_change_signal"`
}

// StateManager layers the simulation's key families and the intent
// router over a Store.
type StateManager struct {
	store Store
}

// NewStateManager wraps a Store with the simulation key schema.
func NewStateManager(store Store) *StateManager {
	return &StateManager{store: store}
}

// Store exposes the underlying keyed store.
func (sm *StateManager) Store() Store { return sm.store }

// ── bank state ───────────────────────────────────────────────────────

func bankKey(idx int) string { return fmt.Sprintf("bank:%d:state", idx) }

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// PublishBankState writes one bank's observable state.
func (sm *StateManager) PublishBankState(ctx context.Context, idx int, st BankState) error {
	return sm.store.HSet(ctx, bankKey(idx), map[string]string{
		"liquidity":      formatFloat(st.Liquidity),
		"capital":        formatFloat(st.Capital),
		"total_exposure": formatFloat(st.TotalExposure),
		"stressed":       boolField(st.Stressed),
		"defaulted":      boolField(st.Defaulted),
		"missed_payment": boolField(st.MissedPayment),
	})
}

// GetBankState reads one bank's latest snapshot.
func (sm *StateManager) GetBankState(ctx context.Context, idx int) (BankState, error) {
	raw, err := sm.store.HGetAll(ctx, bankKey(idx))
	if err != nil {
		return BankState{}, err
	}
	return BankState{
		Liquidity:     parseFloat(raw["liquidity"]),
		Capital:       parseFloat(raw["capital"]),
		TotalExposure: parseFloat(raw["total_exposure"]),
		Stressed:      raw["stressed"] == "1",
		Defaulted:     raw["defaulted"] == "1",
		MissedPayment: raw["missed_payment"] == "1",
	}, nil
}

// ── system state ─────────────────────────────────────────────────────

// SetSystemValue writes a single global scalar (e.g. margin_rate).
func (sm *StateManager) SetSystemValue(ctx context.Context, field string, v float64) error {
	return sm.store.Set(ctx, "system:"+field, formatFloat(v))
}

// SystemValue reads a single global scalar.
func (sm *StateManager) SystemValue(ctx context.Context, field string) (float64, error) {
	raw, _, err := sm.store.Get(ctx, "system:"+field)
	if err != nil {
		return 0, err
	}
	return parseFloat(raw), nil
}

// PublishSystemState writes the global aggregates the scheduler owns.
func (sm *StateManager) PublishSystemState(ctx context.Context, fields map[string]float64) error {
	for k, v := range fields {
		if err := sm.SetSystemValue(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// GetSnapshot assembles the complete system view for a bank's step.
func (sm *StateManager) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Banks: make(map[int]BankState)}
	for field, dst := range map[string]*float64{
		"aggregate_liq": &snap.AggregateLiq,
		"aggregate_exp": &snap.AggregateExp,
		"margin_rate":   &snap.MarginRate,
	} {
		v, err := sm.SystemValue(ctx, field)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	for field, dst := range map[string]*int{
		"step":        &snap.Step,
		"n_banks":     &snap.NBanks,
		"n_stressed":  &snap.NStressed,
		"n_defaulted": &snap.NDefaulted,
	} {
		v, err := sm.SystemValue(ctx, field)
		if err != nil {
			return nil, err
		}
		*dst = int(v)
	}
	for i := 0; i < snap.NBanks; i++ {
		st, err := sm.GetBankState(ctx, i)
		if err != nil {
			return nil, err
		}
		snap.Banks[i] = st
	}
	return snap, nil
}

// ── market data ──────────────────────────────────────────────────────

// PublishMarketData mirrors the exchange broadcast at market:latest.
func (sm *StateManager) PublishMarketData(ctx context.Context, md MarketData) error {
	if err := sm.store.Set(ctx, "market:latest:new_volatility", formatFloat(md.NewVolatility)); err != nil {
		return err
	}
	return sm.store.Set(ctx, "market:latest:price_change_signal", formatFloat(md.PriceChangeSignal))
}

// GetMarketData reads the latest market broadcast. Defaults apply before
// the first exchange tick.
func (sm *StateManager) GetMarketData(ctx context.Context) (MarketData, error) {
	md := MarketData{NewVolatility: 0.2}
	raw, ok, err := sm.store.Get(ctx, "market:latest:new_volatility")
	if err != nil {
		return md, err
	}
	if ok {
		md.NewVolatility = parseFloat(raw)
	}
	raw, ok, err = sm.store.Get(ctx, "market:latest:price_change_signal")
	if err != nil {
		return md, err
	}
	if ok {
		md.PriceChangeSignal = parseFloat(raw)
	}
	return md, nil
}

// SetMarketDepth stores the market depth parameter (setup-time).
func (sm *StateManager) SetMarketDepth(ctx context.Context, depth float64) error {
	return sm.store.Set(ctx, "market:depth", formatFloat(depth))
}

// MarketDepth reads the configured market depth; 200 when unset.
func (sm *StateManager) MarketDepth(ctx context.Context) (float64, error) {
	raw, ok, err := sm.store.Get(ctx, "market:depth")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 200.0, nil
	}
	return parseFloat(raw), nil
}

// ── margin call inbox ────────────────────────────────────────────────

func marginKey(idx int) string { return fmt.Sprintf("margin_calls:bank:%d", idx) }

// PushMarginCall appends a margin call to a bank's inbox.
func (sm *StateManager) PushMarginCall(ctx context.Context, idx int, call *intent.Intent) error {
	raw, err := call.Encode()
	if err != nil {
		return err
	}
	return sm.store.RPush(ctx, marginKey(idx), string(raw))
}

// DrainMarginCalls reads and consumes a bank's pending margin calls.
// Delivery is at-most-once: the inbox is cleared by the read.
func (sm *StateManager) DrainMarginCalls(ctx context.Context, idx int) ([]*intent.Intent, error) {
	return sm.drainList(ctx, marginKey(idx))
}

// ── intent streams ───────────────────────────────────────────────────

func publicKey(tick int) string      { return fmt.Sprintf("stream:public:%d", tick) }
func privateKey(agent string) string { return "stream:private:" + agent }

// RouteIntent applies the visibility routing rules: always append to the
// analytics queue; public intents go to the per-tick broadcast stream;
// private intents go to the resolved target's stream plus a sender
// record when target differs from emitter.
func (sm *StateManager) RouteIntent(ctx context.Context, in *intent.Intent) error {
	raw, err := in.Encode()
	if err != nil {
		return err
	}
	msg := string(raw)
	if err := sm.store.RPush(ctx, "intents:queue", msg); err != nil {
		return err
	}

	if in.Visibility == intent.VisibilityPublic {
		key := publicKey(in.Tick)
		if err := sm.store.RPush(ctx, key, msg); err != nil {
			return err
		}
		return sm.store.Expire(ctx, key, streamTTL)
	}

	target := in.Target()
	if target == "" {
		return nil
	}
	if err := sm.pushPrivate(ctx, target, msg); err != nil {
		return err
	}
	if in.AgentID != "" && in.AgentID != target {
		return sm.pushPrivate(ctx, in.AgentID, msg)
	}
	return nil
}

func (sm *StateManager) pushPrivate(ctx context.Context, agent, msg string) error {
	key := privateKey(agent)
	if err := sm.store.RPush(ctx, key, msg); err != nil {
		return err
	}
	return sm.store.Expire(ctx, key, streamTTL)
}

// ReadPublicStream returns a tick's broadcast intents without consuming
// them; every bank sees the same fan-out.
func (sm *StateManager) ReadPublicStream(ctx context.Context, tick int) ([]*intent.Intent, error) {
	raws, err := sm.store.LRange(ctx, publicKey(tick))
	if err != nil {
		return nil, err
	}
	return decodeAll(raws), nil
}

// DrainPrivateStream reads and consumes the intents addressed to one
// agent (exactly-once delivery).
func (sm *StateManager) DrainPrivateStream(ctx context.Context, agent string) ([]*intent.Intent, error) {
	return sm.drainList(ctx, privateKey(agent))
}

// AllIntents returns the analytics side-channel: every intent routed
// since the last flush, in emission order.
func (sm *StateManager) AllIntents(ctx context.Context) ([]*intent.Intent, error) {
	raws, err := sm.store.LRange(ctx, "intents:queue")
	if err != nil {
		return nil, err
	}
	return decodeAll(raws), nil
}

func (sm *StateManager) drainList(ctx context.Context, key string) ([]*intent.Intent, error) {
	raws, err := sm.store.LRange(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := sm.store.Del(ctx, key); err != nil {
		return nil, err
	}
	return decodeAll(raws), nil
}

// decodeAll drops undecodable entries; the receiving agent treats them
// as malformed and moves on.
func decodeAll(raws []string) []*intent.Intent {
	out := make([]*intent.Intent, 0, len(raws))
	for _, r := range raws {
		in, err := intent.Decode([]byte(r))
		if err != nil {
			continue
		}
		out = append(out, in)
	}
	return out
}

// ── sale accounting ──────────────────────────────────────────────────

func salesKey(tick int, asset string) string { return fmt.Sprintf("sales:%d:%s", tick, asset) }

// RecordSale atomically adds a sale's quantity to the (tick, asset)
// cumulative volume and returns the new total. The key expires after
// five minutes.
func (sm *StateManager) RecordSale(ctx context.Context, tick int, asset string, qty float64) (float64, error) {
	total, err := sm.store.IncrByFloat(ctx, salesKey(tick, asset), qty)
	if err != nil {
		return 0, err
	}
	if err := sm.store.Expire(ctx, salesKey(tick, asset), salesTTL); err != nil {
		return 0, err
	}
	return total, nil
}

// CumulativeSales reads the volume sold of an asset within one tick.
func (sm *StateManager) CumulativeSales(ctx context.Context, tick int, asset string) (float64, error) {
	raw, _, err := sm.store.Get(ctx, salesKey(tick, asset))
	if err != nil {
		return 0, err
	}
	return parseFloat(raw), nil
}

// RecentSalePressure sums sale volume over the trailing lookback ticks,
// current tick included.
func (sm *StateManager) RecentSalePressure(ctx context.Context, tick int, asset string, lookback int) (float64, error) {
	var total float64
	lo := tick - lookback + 1
	if lo < 0 {
		lo = 0
	}
	for t := lo; t <= tick; t++ {
		v, err := sm.CumulativeSales(ctx, t, asset)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

// Flush clears every key (between runs).
func (sm *StateManager) Flush(ctx context.Context) error {
	return sm.store.FlushAll(ctx)
}
