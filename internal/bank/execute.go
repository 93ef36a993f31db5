package bank

import (
	"context"
	"fmt"
	"math"

	"finsim/internal/intent"
)

// Per-tick carry parameters: passive income accrues on capital and on
// the liquid bond book.
const (
	capitalYield    = 0.002
	liquidBondYield = 0.001
)

// Apply executes the decided intent. It runs in the serial phase of the
// tick, in bank index order: routing, the balance-sheet effect on self
// and counterparty, loan aging, the stress flag and the default check.
func (b *Bank) Apply(ctx context.Context, tick int, in *intent.Intent) error {
	if b.Defaulted {
		return nil
	}

	b.MissedPayment = false
	b.Liquidity -= b.cfg.StepOperatingCost
	b.Liquidity += b.Capital*capitalYield + b.Assets[AssetLiquidBond]*liquidBondYield

	if in != nil {
		if err := b.state.RouteIntent(ctx, in); err != nil {
			return fmt.Errorf("bank %d: route intent: %w", b.Index, err)
		}
		if in.Validate() == nil {
			if err := b.execute(ctx, tick, in); err != nil {
				return err
			}
		}
		b.LastAction = in.ActionType
		b.ActionCount[in.ActionType]++
	}

	b.AgeOTCLoans()
	b.AgeInterbankLoans(tick)
	b.Stressed = b.Liquidity < b.cfg.StressThreshold

	if !b.Defaulted && (b.Liquidity <= 0 || b.Capital <= 0) {
		b.Default()
	}
	return nil
}

func (b *Bank) execute(ctx context.Context, tick int, in *intent.Intent) error {
	switch in.ActionType {
	case intent.ActionRouteOTCProposal:
		b.execOTCProposal(in)
	case intent.ActionBorrow:
		b.execBorrow(in)
	case intent.ActionReduceExposure:
		b.execReduceExposure(in)
	case intent.ActionHoardLiquidity:
		b.execHoard()
	case intent.ActionPayMarginCall:
		b.execPayMarginCall(in)
	case intent.ActionSellAsset:
		return b.execSale(ctx, tick, in.Str("asset_type"), in.Float("amount"), false)
	case intent.ActionFireSaleAsset:
		return b.execSale(ctx, tick, in.Str("asset_id"), in.Float("quantity"), true)
	case intent.ActionProvideInterbankCredit:
		b.execProvideCredit(in)
	case intent.ActionRepayInterbankLoan:
		b.execRepay(in)
	case intent.ActionDeclareDefault:
		b.Default()
	case intent.ActionDepositDefaultFund:
		b.execDepositFund(in)
	}
	return nil
}

func (b *Bank) execOTCProposal(in *intent.Intent) {
	content := in.Nested("encrypted_content")
	if content == nil {
		return
	}
	amount, _ := content["amount"].(float64)
	rate, _ := content["interest_rate"].(float64)
	tenor := 5
	switch v := content["tenor_ticks"].(type) {
	case int:
		tenor = v
	case float64:
		tenor = int(v)
	}
	target := b.registry.ByID(in.Target())
	if target == nil || target.Defaulted || amount <= 0 || b.Liquidity < amount {
		return
	}
	b.Liquidity -= amount
	target.Liquidity += amount
	b.Exposure[target.Index] += amount
	b.OTCLoans = append(b.OTCLoans, &OTCLoan{
		Borrower:       target.AgentID(),
		Amount:         amount,
		InterestRate:   rate,
		RemainingTicks: tenor,
	})
}

func (b *Bank) execBorrow(in *intent.Intent) {
	lender := b.registry.ByID(in.Target())
	if lender == nil || lender.Defaulted {
		b.MissedPayment = true
		return
	}
	s := attemptPayment(in.Float("amount"), lender.Liquidity*0.10)
	if s.Outcome == Rejected || s.Paid <= 1 {
		b.MissedPayment = true
		return
	}
	lender.Liquidity -= s.Paid
	b.Liquidity += s.Paid
	lender.Exposure[b.Index] += s.Paid
}

func (b *Bank) execReduceExposure(in *intent.Intent) {
	nbr := in.Int("target_neighbor_id")
	cut := math.Min(in.Float("amount"), b.Exposure[nbr])
	if cut <= 0 {
		return
	}
	b.Exposure[nbr] -= cut
	b.Liquidity += 0.5 * cut
}

func (b *Bank) execHoard() {
	for _, nbr := range b.neighbors {
		cut := b.Exposure[nbr] * 0.05
		b.Exposure[nbr] -= cut
		b.Liquidity += 0.3 * cut
	}
}

func (b *Bank) execPayMarginCall(in *intent.Intent) {
	paid := math.Min(in.Float("amount"), b.Liquidity*0.9)
	if paid < 0 {
		paid = 0
	}
	b.Liquidity -= paid
	b.Capital -= 0.1 * paid
	callID := in.Str("margin_call_id")
	kept := b.PendingMarginCalls[:0]
	for _, c := range b.PendingMarginCalls {
		if c.ID != callID {
			kept = append(kept, c)
		}
	}
	b.PendingMarginCalls = kept
}

func (b *Bank) execSale(ctx context.Context, tick int, asset string, qty float64, fireSale bool) error {
	held := b.Assets[asset]
	if held <= 0 || b.pricer == nil {
		return nil
	}
	qty = math.Min(qty, held)
	quote, err := b.pricer.SalePrice(ctx, tick, asset, qty, b.volBelief.Mean(), fireSale)
	if err != nil {
		return fmt.Errorf("bank %d: sale pricing: %w", b.Index, err)
	}
	b.Assets[asset] = held - qty
	b.Liquidity += qty * quote.PricePerUnit
	return nil
}

func (b *Bank) execProvideCredit(in *intent.Intent) {
	borrower := b.registry.ByID(in.Target())
	if borrower == nil || borrower.Defaulted {
		return
	}
	principal := math.Min(in.Float("principal"), b.Liquidity*0.5)
	if principal <= 0 {
		return
	}
	b.Liquidity -= principal
	borrower.Liquidity += principal
	b.Exposure[borrower.Index] += principal
	loan := &InterbankLoan{
		LoanID:       in.IntentID,
		LenderIndex:  b.Index,
		BorrowerID:   borrower.AgentID(),
		Principal:    principal,
		InterestRate: in.Float("interest_rate"),
		MaturityTick: in.Int("maturity_tick"),
	}
	b.LoansGiven = append(b.LoansGiven, loan)
	borrower.LoansReceived = append(borrower.LoansReceived, loan)
}

func (b *Bank) execRepay(in *intent.Intent) {
	loanID := in.Str("loan_id")
	var loan *InterbankLoan
	for _, l := range b.LoansReceived {
		if l.LoanID == loanID {
			loan = l
			break
		}
	}
	if loan == nil {
		return
	}
	total := in.Float("principal") + in.Float("interest")
	s := attemptPayment(total, b.Liquidity*0.9)
	b.Liquidity -= s.Paid
	if s.Outcome != Settled {
		b.MissedPayment = true
	}
	if lender := b.registry.ByIndex(loan.LenderIndex); lender != nil && !lender.Defaulted {
		lender.Liquidity += s.Paid
		lender.Exposure[b.Index] = math.Max(0, lender.Exposure[b.Index]-loan.Principal)
		lender.dropLoanGiven(loanID)
	}
	b.dropLoanReceived(loanID)
}

func (b *Bank) execDepositFund(in *intent.Intent) {
	amount := math.Min(in.Float("amount"), b.Liquidity*0.5)
	if amount <= 0 {
		return
	}
	b.Liquidity -= amount
	b.DefaultFundContribution += amount
	if b.clearing != nil {
		b.clearing.AcceptDefaultFundDeposit(amount)
	}
}

// Default runs the default sub-routine: the fund waterfall and
// mutualisation through the CCP, direct bilateral contagion to exposed
// creditors, then the balance-sheet zeroing. Received interbank loans
// stay on the books so lenders realise the loss through contagion.
func (b *Bank) Default() {
	if b.Defaulted {
		return
	}
	b.Defaulted = true
	b.Stressed = true

	if b.clearing != nil {
		b.clearing.HandleBankDefault(b)
	}

	for _, creditor := range b.registry.All() {
		if creditor == b || creditor.Defaulted {
			continue
		}
		exposed := creditor.Exposure[b.Index]
		if exposed <= 0 {
			continue
		}
		creditor.Capital -= 0.3 * exposed
		creditor.Liquidity -= 0.045 * exposed
	}

	b.Liquidity = 0
	b.Capital = 0
	for asset := range b.Assets {
		b.Assets[asset] = 0
	}
	for nbr := range b.Exposure {
		b.Exposure[nbr] = 0
	}
	b.OTCLoans = nil
	b.LoansGiven = nil
	b.PendingMarginCalls = nil
}
