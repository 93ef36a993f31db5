// Package intent defines the typed message envelope exchanged by every
// agent in the simulation, the closed action-type enumeration, and the
// validation rules applied by receiving agents.
package intent

import (
	"encoding/json"
	"fmt"
)

// Visibility values for the envelope.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Bank action types (the eleven decision alternatives), plus the two
// infrastructure types emitted by the CCP and the exchange. The mixed
// casing is part of the wire protocol.
const (
	ActionRouteOTCProposal = "route_otc_proposal"
	ActionBorrow           = "borrow"
	ActionReduceExposure   = "reduce_exposure"
	ActionHoardLiquidity   = "hoard_liquidity"
	ActionPayMarginCall    = "pay_margin_call"
	ActionSellAsset        = "sell_asset_standard"

	ActionProvideInterbankCredit = "PROVIDE_INTERBANK_CREDIT"
	ActionRepayInterbankLoan     = "REPAY_INTERBANK_LOAN"
	ActionFireSaleAsset          = "FIRE_SALE_ASSET"
	ActionDeclareDefault         = "DECLARE_DEFAULT"
	ActionDepositDefaultFund     = "DEPOSIT_DEFAULT_FUND"

	ActionIssueMarginCall  = "issue_margin_call"
	ActionUpdateMarketData = "update_market_data"
)

// BankActions lists the bank decision alternatives in utility
// tie-breaking order.
var BankActions = []string{
	ActionRepayInterbankLoan,
	ActionDeclareDefault,
	ActionDepositDefaultFund,
	ActionProvideInterbankCredit,
	ActionFireSaleAsset,
	ActionPayMarginCall,
	ActionSellAsset,
	ActionHoardLiquidity,
	ActionReduceExposure,
	ActionBorrow,
	ActionRouteOTCProposal,
}

// requiredPayload maps every action type to the payload keys a receiving
// agent insists on before executing it.
var requiredPayload = map[string][]string{
	ActionRouteOTCProposal:       {"encrypted_content", "target_agent_id"},
	ActionBorrow:                 {"amount", "target_agent_id"},
	ActionReduceExposure:         {"target_neighbor_id", "amount"},
	ActionHoardLiquidity:         {"estimated_recovery"},
	ActionPayMarginCall:          {"amount", "margin_call_id"},
	ActionSellAsset:              {"asset_type", "amount", "order_type"},
	ActionProvideInterbankCredit: {"borrower_bank_id", "principal", "interest_rate", "maturity_tick"},
	ActionRepayInterbankLoan:     {"loan_id", "principal", "interest"},
	ActionFireSaleAsset:          {"exchange_id", "asset_id", "quantity", "max_acceptable_discount"},
	ActionDeclareDefault:         {"reason"},
	ActionDepositDefaultFund:     {"amount"},
	ActionIssueMarginCall:        {"target_agent_id", "margin_amount", "deadline_tick", "reason"},
	ActionUpdateMarketData:       {"new_volatility", "price_change_signal"},
}

// Intent is the envelope every agent emits and consumes. Payload keys
// depend on the action type; belief_snapshot and risk_preference are
// optional decision-context attachments.
type Intent struct {
	IntentID       string         `json:"intent_id"`
	Tick           int            `json:"tick"`
	AgentID        string         `json:"agent_id"`
	ActionType     string         `json:"action_type"`
	Visibility     string         `json:"visibility"`
	Payload        map[string]any `json:"payload"`
	BeliefSnapshot map[string]any `json:"belief_snapshot,omitempty"`
	RiskPreference map[string]any `json:"risk_preference,omitempty"`
}

// Encode serialises the intent to its JSON wire form.
func (in *Intent) Encode() ([]byte, error) {
	return json.Marshal(in)
}

// Decode parses an intent from its JSON wire form.
func Decode(raw []byte) (*Intent, error) {
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	return &in, nil
}

// Validate checks the envelope and the per-action required payload keys.
// Receiving agents log and ignore intents that fail validation.
func (in *Intent) Validate() error {
	if in.IntentID == "" {
		return fmt.Errorf("intent missing intent_id")
	}
	if in.Visibility != VisibilityPublic && in.Visibility != VisibilityPrivate {
		return fmt.Errorf("intent %s: bad visibility %q", in.IntentID, in.Visibility)
	}
	required, ok := requiredPayload[in.ActionType]
	if !ok {
		return fmt.Errorf("intent %s: unknown action type %q", in.IntentID, in.ActionType)
	}
	for _, key := range required {
		if _, present := in.Payload[key]; !present {
			return fmt.Errorf("intent %s (%s): payload missing %q",
				in.IntentID, in.ActionType, key)
		}
	}
	return nil
}

// Target resolves the private-delivery addressee from the payload, in
// the router's key-priority order. Empty string means no target.
func (in *Intent) Target() string {
	for _, key := range []string{"target", "target_agent_id", "borrower_bank_id", "final_destination"} {
		if v, ok := in.Payload[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// Float reads a numeric payload field, tolerating the float64 that JSON
// decoding produces as well as native ints from in-process construction.
func (in *Intent) Float(key string) float64 {
	switch v := in.Payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

// Int reads an integer payload field.
func (in *Intent) Int(key string) int {
	return int(in.Float(key))
}

// Str reads a string payload field.
func (in *Intent) Str(key string) string {
	if s, ok := in.Payload[key].(string); ok {
		return s
	}
	return ""
}

// Nested reads a nested object payload field (e.g. encrypted_content).
func (in *Intent) Nested(key string) map[string]any {
	if m, ok := in.Payload[key].(map[string]any); ok {
		return m
	}
	return nil
}
