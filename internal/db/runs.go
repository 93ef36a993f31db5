package db

import (
	"fmt"
	"time"
)

// RunSummary is the per-run header row.
type RunSummary struct {
	Seed        int64
	NBanks      int
	NetworkType string
	Steps       int
	Defaults    int
	Survivors   int
	FundLeft    float64
}

// TickRow is one tick of recorded metrics.
type TickRow struct {
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
}

// IntentRow is one emitted intent, payload pre-serialised to JSON.
type IntentRow struct {
	IntentID   string
	Tick       int
	AgentID    string
	ActionType string
	Visibility string
	Payload    string
}

// InsertRun writes the run header and returns the new run id. Ids are
// monotonically increasing across runs sharing one database file.
func (d *DB) InsertRun(s RunSummary) (int64, error) {
	res, err := d.sql.Exec(`
		INSERT INTO runs (started_at, seed, n_banks, network_type, steps, defaults, survivors, fund_left)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), s.Seed, s.NBanks, s.NetworkType,
		s.Steps, s.Defaults, s.Survivors, s.FundLeft)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

// InsertTicks writes a run's tick metrics in one transaction.
func (d *DB) InsertTicks(runID int64, rows []TickRow) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin ticks tx: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO tick_metrics (run_id, tick, defaults, active, stressed,
			total_liquidity, total_exposure, frozen, margin_rate, default_fund,
			panic, avg_default_pd, avg_stress, avg_volatility, ccp_utility)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare ticks: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(runID, r.Tick, r.Defaults, r.Active, r.Stressed,
			r.TotalLiquidity, r.TotalExposure, boolInt(r.Frozen), r.MarginRate,
			r.DefaultFund, boolInt(r.Panic), r.AvgDefaultPD, r.AvgStress,
			r.AvgVolatility, r.CCPUtility); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert tick %d: %w", r.Tick, err)
		}
	}
	return tx.Commit()
}

// InsertIntents writes the run's intent log in one transaction.
func (d *DB) InsertIntents(runID int64, rows []IntentRow) error {
	tx, err := d.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin intents tx: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO intent_log (run_id, intent_id, tick, agent_id, action_type, visibility, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare intents: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(runID, r.IntentID, r.Tick, r.AgentID,
			r.ActionType, r.Visibility, r.Payload); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert intent %s: %w", r.IntentID, err)
		}
	}
	return tx.Commit()
}

// TickCount returns how many tick rows a run persisted.
func (d *DB) TickCount(runID int64) (int, error) {
	var n int
	err := d.sql.QueryRow("SELECT COUNT(*) FROM tick_metrics WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

// IntentCount returns how many intents a run persisted.
func (d *DB) IntentCount(runID int64) (int, error) {
	var n int
	err := d.sql.QueryRow("SELECT COUNT(*) FROM intent_log WHERE run_id = ?", runID).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
