package bank

import "math"

// Outcome classifies how a settlement attempt ended.
type Outcome int

const (
	Settled Outcome = iota
	Partial
	Rejected
)

// Settlement reports the realised transfer of a repayment or draw.
// missed_payment is set only on Partial or Rejected.
type Settlement struct {
	Outcome   Outcome
	Paid      float64
	Shortfall float64
}

// attemptPayment resolves an obligation against the funds actually
// available to the payer.
func attemptPayment(owed, available float64) Settlement {
	switch {
	case owed <= 0:
		return Settlement{Outcome: Settled}
	case available <= 0:
		return Settlement{Outcome: Rejected, Shortfall: owed}
	case available >= owed:
		return Settlement{Outcome: Settled, Paid: owed}
	default:
		return Settlement{Outcome: Partial, Paid: available, Shortfall: owed - available}
	}
}

// OTCLoan is a CCP-routed bilateral loan held by the lender. The
// borrower repays principal times (1 + rate) when RemainingTicks
// reaches zero.
type OTCLoan struct {
	Borrower       string // agent id
	Amount         float64
	InterestRate   float64
	RemainingTicks int
}

// InterbankLoan is a direct loan; the lender holds it in LoansGiven and
// the borrower mirrors it in LoansReceived.
type InterbankLoan struct {
	LoanID       string
	LenderIndex  int
	BorrowerID   string
	Principal    float64
	InterestRate float64
	MaturityTick int
}

// MarginCall is a pending CCP demand drained from the margin inbox.
type MarginCall struct {
	ID       string
	Amount   float64
	Deadline int
	Reason   string
}

// interbankGraceTicks is how far past maturity an interbank loan may
// run before forced settlement.
const interbankGraceTicks = 2

// AgeOTCLoans decrements every OTC loan the bank holds and settles the
// ones that mature. A borrower short of the full repayment surrenders
// half its remaining liquidity and the loan is marked missed.
func (b *Bank) AgeOTCLoans() {
	var live []*OTCLoan
	for _, loan := range b.OTCLoans {
		loan.RemainingTicks--
		if loan.RemainingTicks > 0 {
			live = append(live, loan)
			continue
		}
		b.settleOTC(loan)
	}
	b.OTCLoans = live
}

func (b *Bank) settleOTC(loan *OTCLoan) {
	borrower := b.registry.ByID(loan.Borrower)
	if borrower == nil || borrower.Defaulted {
		b.reduceExposureTo(loan.Borrower, loan.Amount)
		return
	}
	repayment := loan.Amount * (1 + loan.InterestRate)
	available := repayment
	if borrower.Liquidity < repayment {
		// Distressed borrower surrenders half its remaining liquidity.
		available = borrower.Liquidity * 0.5
	}
	s := attemptPayment(repayment, available)
	borrower.Liquidity -= s.Paid
	b.Liquidity += s.Paid
	if s.Outcome != Settled {
		b.MissedPayment = true
	}
	b.reduceExposureTo(loan.Borrower, loan.Amount)
}

func (b *Bank) reduceExposureTo(agentID string, amount float64) {
	target := b.registry.ByID(agentID)
	if target == nil {
		return
	}
	b.Exposure[target.Index] = math.Max(0, b.Exposure[target.Index]-amount)
}

// AgeInterbankLoans force-settles received loans that overran maturity
// by more than the grace window, paying up to 80 % of the borrower's
// liquidity.
func (b *Bank) AgeInterbankLoans(tick int) {
	var live []*InterbankLoan
	for _, loan := range b.LoansReceived {
		if loan.MaturityTick+interbankGraceTicks >= tick {
			live = append(live, loan)
			continue
		}
		total := loan.Principal * (1 + loan.InterestRate)
		s := attemptPayment(total, b.Liquidity*0.8)
		b.Liquidity -= s.Paid
		b.MissedPayment = true
		if lender := b.registry.ByIndex(loan.LenderIndex); lender != nil && !lender.Defaulted {
			lender.Liquidity += s.Paid
			lender.Exposure[b.Index] = math.Max(0, lender.Exposure[b.Index]-loan.Principal)
			lender.dropLoanGiven(loan.LoanID)
		}
	}
	b.LoansReceived = live
}

func (b *Bank) dropLoanGiven(loanID string) {
	var kept []*InterbankLoan
	for _, loan := range b.LoansGiven {
		if loan.LoanID != loanID {
			kept = append(kept, loan)
		}
	}
	b.LoansGiven = kept
}

func (b *Bank) dropLoanReceived(loanID string) {
	var kept []*InterbankLoan
	for _, loan := range b.LoansReceived {
		if loan.LoanID != loanID {
			kept = append(kept, loan)
		}
	}
	b.LoansReceived = kept
}

// loansDue returns received loans maturing at or before the next tick.
func (b *Bank) loansDue(tick int) []*InterbankLoan {
	var due []*InterbankLoan
	for _, loan := range b.LoansReceived {
		if loan.MaturityTick <= tick+1 {
			due = append(due, loan)
		}
	}
	return due
}
