package intent

import "github.com/google/uuid"

func newEnvelope(tick int, agentID, action, visibility string, payload map[string]any) *Intent {
	return &Intent{
		IntentID:   uuid.NewString(),
		Tick:       tick,
		AgentID:    agentID,
		ActionType: action,
		Visibility: visibility,
		Payload:    payload,
	}
}

// WithContext attaches the emitter's belief snapshot and risk preference.
func (in *Intent) WithContext(beliefs, riskPref map[string]any) *Intent {
	in.BeliefSnapshot = beliefs
	in.RiskPreference = riskPref
	return in
}

// NewRouteOTCProposal builds a CCP-routed OTC loan proposal (bank → target bank).
func NewRouteOTCProposal(tick int, agentID, targetAgentID string, amount, interestRate float64, tenorTicks int) *Intent {
	return newEnvelope(tick, agentID, ActionRouteOTCProposal, VisibilityPrivate, map[string]any{
		"encrypted_content": map[string]any{
			"type":          "otc_loan",
			"amount":        amount,
			"interest_rate": interestRate,
			"tenor_ticks":   tenorTicks,
		},
		"target_agent_id": targetAgentID,
		"routing":         "ccp",
	})
}

// NewBorrow builds a liquidity request to a neighbour bank.
func NewBorrow(tick int, agentID, targetAgentID string, amount float64) *Intent {
	return newEnvelope(tick, agentID, ActionBorrow, VisibilityPrivate, map[string]any{
		"amount":          amount,
		"target_agent_id": targetAgentID,
	})
}

// NewReduceExposure builds a bilateral exposure cut against one neighbour.
func NewReduceExposure(tick int, agentID string, targetNeighborID int, amount float64) *Intent {
	return newEnvelope(tick, agentID, ActionReduceExposure, VisibilityPrivate, map[string]any{
		"target_neighbor_id": targetNeighborID,
		"amount":             amount,
	})
}

// NewHoardLiquidity builds an across-the-board exposure pullback.
func NewHoardLiquidity(tick int, agentID string, estimatedRecovery float64) *Intent {
	return newEnvelope(tick, agentID, ActionHoardLiquidity, VisibilityPrivate, map[string]any{
		"estimated_recovery": estimatedRecovery,
	})
}

// NewPayMarginCall builds a margin payment acknowledging a specific call.
func NewPayMarginCall(tick int, agentID string, amount float64, marginCallID string) *Intent {
	return newEnvelope(tick, agentID, ActionPayMarginCall, VisibilityPrivate, map[string]any{
		"amount":         amount,
		"margin_call_id": marginCallID,
	})
}

// NewSellAsset builds a standard on-exchange sale.
func NewSellAsset(tick int, agentID, assetType string, amount float64) *Intent {
	return newEnvelope(tick, agentID, ActionSellAsset, VisibilityPublic, map[string]any{
		"asset_type": assetType,
		"amount":     amount,
		"order_type": "market",
	})
}

// NewProvideInterbankCredit builds a direct interbank loan to a borrower.
func NewProvideInterbankCredit(tick int, agentID, borrowerBankID string, principal, interestRate float64, maturityTick int) *Intent {
	return newEnvelope(tick, agentID, ActionProvideInterbankCredit, VisibilityPrivate, map[string]any{
		"borrower_bank_id": borrowerBankID,
		"principal":        principal,
		"interest_rate":    interestRate,
		"maturity_tick":    maturityTick,
	})
}

// NewRepayInterbankLoan builds a principal + interest repayment.
func NewRepayInterbankLoan(tick int, agentID, loanID string, principal, interest float64) *Intent {
	return newEnvelope(tick, agentID, ActionRepayInterbankLoan, VisibilityPublic, map[string]any{
		"loan_id":   loanID,
		"principal": principal,
		"interest":  interest,
	})
}

// NewFireSaleAsset builds a distressed asset dump on the exchange.
func NewFireSaleAsset(tick int, agentID, exchangeID, assetID string, quantity, maxDiscount float64) *Intent {
	return newEnvelope(tick, agentID, ActionFireSaleAsset, VisibilityPublic, map[string]any{
		"exchange_id":             exchangeID,
		"asset_id":                assetID,
		"quantity":                quantity,
		"max_acceptable_discount": maxDiscount,
	})
}

// NewDeclareDefault builds a voluntary default declaration.
func NewDeclareDefault(tick int, agentID, reason string) *Intent {
	return newEnvelope(tick, agentID, ActionDeclareDefault, VisibilityPublic, map[string]any{
		"reason": reason,
	})
}

// NewDepositDefaultFund builds a contribution to the CCP default fund.
func NewDepositDefaultFund(tick int, agentID string, amount float64) *Intent {
	return newEnvelope(tick, agentID, ActionDepositDefaultFund, VisibilityPublic, map[string]any{
		"amount": amount,
	})
}

// NewIssueMarginCall builds the CCP's margin demand against one bank.
func NewIssueMarginCall(tick int, agentID, targetAgentID string, marginAmount float64, deadlineTick int, reason string) *Intent {
	return newEnvelope(tick, agentID, ActionIssueMarginCall, VisibilityPrivate, map[string]any{
		"target_agent_id": targetAgentID,
		"margin_amount":   marginAmount,
		"deadline_tick":   deadlineTick,
		"reason":          reason,
	})
}

// NewUpdateMarketData builds the exchange's per-tick market broadcast.
func NewUpdateMarketData(tick int, agentID string, newVolatility, priceChangeSignal float64) *Intent {
	return newEnvelope(tick, agentID, ActionUpdateMarketData, VisibilityPublic, map[string]any{
		"new_volatility":      newVolatility,
		"price_change_signal": priceChangeSignal,
	})
}
