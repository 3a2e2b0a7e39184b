package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PoolState captures the global accounting state for the lending pool. Amount
// fields are denominated in the underlying asset's native units;
// TotalDebtProportion is an internal proportion unit, not a native amount.
type PoolState struct {
	// TotalBorrowed tracks outstanding principal plus interest already folded
	// in by accrual.
	TotalBorrowed *uint256.Int
	// TotalPendingFees is the accrued performance fee owed to the fee
	// recipient but not yet withdrawn.
	TotalPendingFees *uint256.Int
	// TotalDebtProportion is the sum of all borrowers' proportion units.
	TotalDebtProportion *uint256.Int
	// LastAccrualTimestamp is the unix-second checkpoint of the last accrual.
	LastAccrualTimestamp uint64
	// Model is the kinked borrow-rate curve in force.
	Model *RateModel
	// PerformanceFee is the wad fraction of accrued interest routed to the
	// fee recipient.
	PerformanceFee *uint256.Int
}

// Clone returns a deep copy of the pool state.
func (p *PoolState) Clone() *PoolState {
	if p == nil {
		return nil
	}
	clone := &PoolState{LastAccrualTimestamp: p.LastAccrualTimestamp, Model: p.Model.Clone()}
	if p.TotalBorrowed != nil {
		clone.TotalBorrowed = new(uint256.Int).Set(p.TotalBorrowed)
	}
	if p.TotalPendingFees != nil {
		clone.TotalPendingFees = new(uint256.Int).Set(p.TotalPendingFees)
	}
	if p.TotalDebtProportion != nil {
		clone.TotalDebtProportion = new(uint256.Int).Set(p.TotalDebtProportion)
	}
	if p.PerformanceFee != nil {
		clone.PerformanceFee = new(uint256.Int).Set(p.PerformanceFee)
	}
	return clone
}

// EnsureDefaults populates nil amount fields so codecs and arithmetic never
// observe a nil pointer.
func (p *PoolState) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.TotalBorrowed == nil {
		p.TotalBorrowed = new(uint256.Int)
	}
	if p.TotalPendingFees == nil {
		p.TotalPendingFees = new(uint256.Int)
	}
	if p.TotalDebtProportion == nil {
		p.TotalDebtProportion = new(uint256.Int)
	}
	if p.PerformanceFee == nil {
		p.PerformanceFee = new(uint256.Int)
	}
}

// BorrowerPosition records one borrower's ownership of the pool debt. The
// outstanding amount owed is DebtProportion times the debt proportion rate,
// rounded up.
type BorrowerPosition struct {
	Address        common.Address
	DebtProportion *uint256.Int
}

// Clone returns a deep copy of the position.
func (b *BorrowerPosition) Clone() *BorrowerPosition {
	if b == nil {
		return nil
	}
	clone := &BorrowerPosition{Address: b.Address}
	if b.DebtProportion != nil {
		clone.DebtProportion = new(uint256.Int).Set(b.DebtProportion)
	}
	return clone
}

// EnsureDefaults populates nil fields.
func (b *BorrowerPosition) EnsureDefaults() {
	if b == nil {
		return
	}
	if b.DebtProportion == nil {
		b.DebtProportion = new(uint256.Int)
	}
}

// PoolSnapshot is the read-side view of the pool with accrual applied up to
// the query time. All rates are wad scaled.
type PoolSnapshot struct {
	CashBalance          *uint256.Int
	AvailableCash        *uint256.Int
	TotalBorrowed        *uint256.Int
	TotalPendingFees     *uint256.Int
	TotalSupplyShares    *uint256.Int
	TotalDebtProportion  *uint256.Int
	Utilization          *uint256.Int
	BorrowRatePerSecond  *uint256.Int
	ExchangeRate         *uint256.Int
	DebtProportionRate   *uint256.Int
	LastAccrualTimestamp uint64
}
