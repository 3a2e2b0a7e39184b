package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is a structured record of a pool state change, consumed by external
// monitoring.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// AccrualEvent records one checkpoint advance of the accrual engine.
type AccrualEvent struct {
	PreviousTimestamp     uint64
	CurrentTimestamp      uint64
	PreviousTotalBorrowed *uint256.Int
	PreviousTotalFees     *uint256.Int
	RatePerSecond         *uint256.Int
	ElapsedSeconds        uint64
	InterestAmount        *uint256.Int
	NewTotalBorrowed      *uint256.Int
	NewTotalFees          *uint256.Int
}

func (AccrualEvent) EventType() string { return "lending.accrued" }

// SupplyAddedEvent records a deposit priced at the quoted exchange rate.
type SupplyAddedEvent struct {
	Account      common.Address
	Amount       *uint256.Int
	ExchangeRate *uint256.Int
	ShareAmount  *uint256.Int
}

func (SupplyAddedEvent) EventType() string { return "lending.supply_added" }

// SupplyRemovedEvent records a share redemption.
type SupplyRemovedEvent struct {
	Account      common.Address
	Amount       *uint256.Int
	ExchangeRate *uint256.Int
	ShareAmount  *uint256.Int
}

func (SupplyRemovedEvent) EventType() string { return "lending.supply_removed" }

// BorrowEvent records a draw against the pool.
type BorrowEvent struct {
	Account            common.Address
	Amount             *uint256.Int
	DebtProportionRate *uint256.Int
}

func (BorrowEvent) EventType() string { return "lending.borrowed" }

// RepayEvent records a debt repayment.
type RepayEvent struct {
	Account            common.Address
	Amount             *uint256.Int
	DebtProportionRate *uint256.Int
}

func (RepayEvent) EventType() string { return "lending.repaid" }

// FeesCollectedEvent records a performance fee withdrawal.
type FeesCollectedEvent struct {
	Collector common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

func (FeesCollectedEvent) EventType() string { return "lending.fees_collected" }
