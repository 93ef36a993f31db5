package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"finsim/internal/db"
	"finsim/internal/logger"
)

// TickMetrics is one tick of recorded system state.
type TickMetrics struct {
	Tick           int
	Defaults       int
	Active         int
	Stressed       int
	TotalLiquidity float64
	TotalExposure  float64
	Frozen         bool
	MarginRate     float64
	DefaultFund    float64
	Panic          bool
	AvgDefaultPD   float64
	AvgStress      float64
	AvgVolatility  float64
	CCPUtility     float64
	Actions        map[string]int
}

func (s *Simulation) record(tick int) {
	m := TickMetrics{Tick: tick, Actions: make(map[string]int)}
	var pdSum, stressSum, volSum float64
	for _, b := range s.registry.All() {
		if b.Defaulted {
			m.Defaults++
			continue
		}
		m.Active++
		if b.Stressed {
			m.Stressed++
		}
		m.TotalLiquidity += b.Liquidity
		m.TotalExposure += b.TotalExposure()
		if b.LastAction != "" {
			m.Actions[b.LastAction]++
		}

		var nbrPD float64
		nbrs := b.Neighbors()
		for _, nbr := range nbrs {
			nbrPD += b.DefaultBelief(nbr).Mean()
		}
		if len(nbrs) > 0 {
			pdSum += nbrPD / float64(len(nbrs))
		}
		stressSum += b.StressBelief()
		volSum += b.VolatilityBelief()
	}
	if m.Active > 0 {
		m.AvgDefaultPD = pdSum / float64(m.Active)
		m.AvgStress = stressSum / float64(m.Active)
		m.AvgVolatility = volSum / float64(m.Active)
		m.Frozen = float64(m.Stressed)/float64(m.Active) > 0.5
	}
	m.MarginRate = s.clearing.MarginRate
	m.DefaultFund = s.clearing.DefaultFund
	m.Panic = s.clearing.Panic
	if n := len(s.clearing.Utility); n > 0 {
		m.CCPUtility = s.clearing.Utility[n-1].Net
	}
	s.Metrics = append(s.Metrics, m)
}

// Summary prints the end-of-run report.
func (s *Simulation) Summary() {
	logger.Section("Run summary")
	if len(s.Metrics) == 0 {
		logger.Warn("sim", "no ticks recorded")
		return
	}
	last := s.Metrics[len(s.Metrics)-1]
	panicTicks := 0
	frozenTicks := 0
	actions := make(map[string]int)
	for _, m := range s.Metrics {
		if m.Panic {
			panicTicks++
		}
		if m.Frozen {
			frozenTicks++
		}
	}
	for _, b := range s.registry.All() {
		for action, n := range b.ActionCount {
			actions[action] += n
		}
	}

	logger.Stats("Ticks", len(s.Metrics))
	logger.Stats("Surviving banks", fmt.Sprintf("%d / %d", last.Active, s.cfg.NBanks))
	logger.Stats("Defaults", last.Defaults)
	logger.Stats("Stressed at end", last.Stressed)
	logger.Stats("Total liquidity", fmt.Sprintf("%.1f", last.TotalLiquidity))
	logger.Stats("Total exposure", fmt.Sprintf("%.1f", last.TotalExposure))
	logger.Stats("Margin rate", fmt.Sprintf("%.4f", last.MarginRate))
	logger.Stats("Default fund", fmt.Sprintf("%.1f", s.clearing.DefaultFund))
	logger.Stats("Margin calls issued", s.clearing.MarginCallsIssued)
	logger.Stats("Panic ticks", panicTicks)
	logger.Stats("Frozen ticks", frozenTicks)
	logger.Stats("Avg neighbour PD", fmt.Sprintf("%.4f", last.AvgDefaultPD))
	logger.Stats("Avg stress belief", fmt.Sprintf("%.4f", last.AvgStress))
	logger.Stats("Avg volatility belief", fmt.Sprintf("%.4f", last.AvgVolatility))

	logger.Section("Actions taken")
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		logger.Stats(name, actions[name])
	}

	logger.Section("Banks")
	for _, b := range s.registry.All() {
		status := "active"
		switch {
		case b.Defaulted:
			status = "DEFAULTED"
		case b.Stressed:
			status = "stressed"
		}
		logger.Stats(b.AgentID(), fmt.Sprintf("liq %7.1f  cap %7.1f  exp %7.1f  calls %2d  %-9s last=%s",
			b.Liquidity, b.Capital, b.TotalExposure(), b.MarginCallsSeen, status, b.LastAction))
	}

	logger.Section("CCP utility")
	for _, u := range s.clearing.Utility {
		logger.Stats(fmt.Sprintf("tick %d", u.Tick),
			fmt.Sprintf("net %6.3f  stability %5.3f  fund %5.3f  defaults %5.3f  fire %5.3f",
				u.Net, u.Stability, u.FundHealth, u.DefaultPenalty, u.FirePenalty))
	}
}

// Persist writes the run header, tick metrics and intent log to the
// run sink. Returns the assigned run id.
func (s *Simulation) Persist(ctx context.Context, sink *db.DB) (int64, error) {
	if len(s.Metrics) == 0 {
		return 0, fmt.Errorf("no metrics recorded")
	}
	last := s.Metrics[len(s.Metrics)-1]
	runID, err := sink.InsertRun(db.RunSummary{
		Seed:        s.cfg.Seed,
		NBanks:      s.cfg.NBanks,
		NetworkType: s.cfg.NetworkType,
		Steps:       s.cfg.Steps,
		Defaults:    last.Defaults,
		Survivors:   last.Active,
		FundLeft:    s.clearing.DefaultFund,
	})
	if err != nil {
		return 0, err
	}

	ticks := make([]db.TickRow, 0, len(s.Metrics))
	for _, m := range s.Metrics {
		ticks = append(ticks, db.TickRow{
			Tick:           m.Tick,
			Defaults:       m.Defaults,
			Active:         m.Active,
			Stressed:       m.Stressed,
			TotalLiquidity: m.TotalLiquidity,
			TotalExposure:  m.TotalExposure,
			Frozen:         m.Frozen,
			MarginRate:     m.MarginRate,
			DefaultFund:    m.DefaultFund,
			Panic:          m.Panic,
			AvgDefaultPD:   m.AvgDefaultPD,
			AvgStress:      m.AvgStress,
			AvgVolatility:  m.AvgVolatility,
			CCPUtility:     m.CCPUtility,
		})
	}
	if err := sink.InsertTicks(runID, ticks); err != nil {
		return 0, err
	}

	emitted, err := s.state.AllIntents(ctx)
	if err != nil {
		return 0, err
	}
	rows := make([]db.IntentRow, 0, len(emitted))
	for _, in := range emitted {
		payload, err := json.Marshal(in.Payload)
		if err != nil {
			continue
		}
		rows = append(rows, db.IntentRow{
			IntentID:   in.IntentID,
			Tick:       in.Tick,
			AgentID:    in.AgentID,
			ActionType: in.ActionType,
			Visibility: in.Visibility,
			Payload:    string(payload),
		})
	}
	if err := sink.InsertIntents(runID, rows); err != nil {
		return 0, err
	}
	logger.Success("DB", fmt.Sprintf("Run %d persisted: %d ticks, %d intents", runID, len(ticks), len(rows)))
	return runID, nil
}
