package lending

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "lendpool/native/common"
)

const moduleName = "lending"

// AssetCustody abstracts the external holder of the underlying asset. All
// transfers must fail loudly on insufficient balance rather than truncate.
type AssetCustody interface {
	BalanceOf(addr common.Address) (*uint256.Int, error)
	TransferIn(from common.Address, amount *uint256.Int) error
	TransferOut(to common.Address, amount *uint256.Int) error
}

// ShareLedger abstracts the claim-token ledger. It is the source of truth for
// the total supply-share count.
type ShareLedger interface {
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
	TotalSupply() (*uint256.Int, error)
}

type engineState interface {
	GetPool() (*PoolState, error)
	PutPool(pool *PoolState) error
	GetPosition(addr common.Address) (*BorrowerPosition, error)
	PutPosition(position *BorrowerPosition) error
}

// Engine orchestrates accrual and the five pool operations against a single
// lending pool. It is invoked synchronously; the in-flight flag rejects any
// re-entrant mutating call.
type Engine struct {
	state        engineState
	custody      AssetCustody
	shares       ShareLedger
	access       AccessControl
	emitter      Emitter
	pauses       nativecommon.PauseView
	poolAddress  common.Address
	feeRecipient common.Address
	nowFn        func() uint64
	inFlight     atomic.Bool
}

// NewEngine constructs an engine bound to the pool's custody address and the
// performance fee recipient.
func NewEngine(poolAddr, feeRecipient common.Address) *Engine {
	return &Engine{
		poolAddress:  poolAddr,
		feeRecipient: feeRecipient,
		emitter:      NoopEmitter{},
		nowFn:        func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody wires the underlying asset holder.
func (e *Engine) SetCustody(custody AssetCustody) { e.custody = custody }

// SetShareLedger wires the claim-token ledger.
func (e *Engine) SetShareLedger(shares ShareLedger) { e.shares = shares }

// SetAccessControl wires the capability predicate gating borrow and admin
// operations.
func (e *Engine) SetAccessControl(access AccessControl) { e.access = access }

// SetEmitter wires the event sink. A nil emitter restores the noop sink.
func (e *Engine) SetEmitter(emitter Emitter) {
	if emitter == nil {
		emitter = NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires the module pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the clock, primarily for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now != nil {
		e.nowFn = now
	}
}

func (e *Engine) enter() error {
	if !e.inFlight.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) exit() { e.inFlight.Store(false) }

func (e *Engine) checkWiring() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.custody == nil {
		return errNilCustody
	}
	if e.shares == nil {
		return errNilShareLedger
	}
	return nil
}

// InitPool creates the pool singleton with zero debt and fees and the accrual
// checkpoint set to now. It fails if the pool already exists.
func (e *Engine) InitPool(model *RateModel, performanceFee *uint256.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := model.Validate(); err != nil {
		return err
	}
	if performanceFee == nil || performanceFee.Gt(wad) {
		return ErrInvalidParams
	}
	existing, err := e.state.GetPool()
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrPoolExists
	}
	pool := &PoolState{
		TotalBorrowed:        new(uint256.Int),
		TotalPendingFees:     new(uint256.Int),
		TotalDebtProportion:  new(uint256.Int),
		LastAccrualTimestamp: e.nowFn(),
		Model:                model.Clone(),
		PerformanceFee:       new(uint256.Int).Set(performanceFee),
	}
	return e.state.PutPool(pool)
}

func (e *Engine) ensurePool() (*PoolState, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotInitialized
	}
	pool.EnsureDefaults()
	if err := pool.Model.Validate(); err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) ensurePosition(addr common.Address) (*BorrowerPosition, error) {
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &BorrowerPosition{Address: addr}
	}
	position.EnsureDefaults()
	return position, nil
}

func (e *Engine) cashBalance() (*uint256.Int, error) {
	balance, err := e.custody.BalanceOf(e.poolAddress)
	if err != nil {
		return nil, fmt.Errorf("lending engine: query pool balance: %w", err)
	}
	if balance == nil {
		balance = new(uint256.Int)
	}
	return balance, nil
}

// availableCash is the cash usable for pricing and payouts: the custody
// balance net of the pending fee liability, floored at zero. Rounding drift
// can push fees past cash and must not underflow.
func availableCash(cash, pendingFees *uint256.Int) *uint256.Int {
	return subClamp(cash, pendingFees)
}

// exchangeRate prices supply shares: (available + borrowed) / totalShares,
// exactly 1.0 when no shares exist.
func exchangeRate(available, borrowed, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares == nil || totalShares.IsZero() {
		return Wad(), nil
	}
	assets, err := add(available, borrowed)
	if err != nil {
		return nil, err
	}
	return wadDiv(assets, totalShares)
}

// debtProportionRate prices debt proportion units: totalBorrowed /
// totalDebtProportion, exactly 1.0 when either operand is zero.
func debtProportionRate(totalBorrowed, totalProportion *uint256.Int) (*uint256.Int, error) {
	if totalBorrowed == nil || totalBorrowed.IsZero() {
		return Wad(), nil
	}
	if totalProportion == nil || totalProportion.IsZero() {
		return Wad(), nil
	}
	return wadDiv(totalBorrowed, totalProportion)
}

// accrue advances the pool from its checkpoint to now, folding accrued
// interest into TotalBorrowed and the performance fee slice into
// TotalPendingFees. It mutates pool in memory only; callers persist. A nil
// event means the pool was already current.
func (e *Engine) accrue(pool *PoolState, cash *uint256.Int) (*AccrualEvent, error) {
	now := e.nowFn()
	if now <= pool.LastAccrualTimestamp {
		return nil, nil
	}
	elapsed := now - pool.LastAccrualTimestamp
	available := availableCash(cash, pool.TotalPendingFees)
	utilization, err := UtilizationRate(available, pool.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	rate, err := pool.Model.BorrowRatePerSecond(utilization)
	if err != nil {
		return nil, err
	}
	linear, err := mul(rate, uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	interest, err := wadMul(linear, pool.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	fee, err := wadMul(interest, pool.PerformanceFee)
	if err != nil {
		return nil, err
	}
	principal, err := sub(interest, fee)
	if err != nil {
		return nil, err
	}
	event := &AccrualEvent{
		PreviousTimestamp:     pool.LastAccrualTimestamp,
		CurrentTimestamp:      now,
		PreviousTotalBorrowed: new(uint256.Int).Set(pool.TotalBorrowed),
		PreviousTotalFees:     new(uint256.Int).Set(pool.TotalPendingFees),
		RatePerSecond:         rate,
		ElapsedSeconds:        elapsed,
		InterestAmount:        interest,
	}
	pool.TotalBorrowed, err = add(pool.TotalBorrowed, principal)
	if err != nil {
		return nil, err
	}
	pool.TotalPendingFees, err = add(pool.TotalPendingFees, fee)
	if err != nil {
		return nil, err
	}
	pool.LastAccrualTimestamp = now
	event.NewTotalBorrowed = new(uint256.Int).Set(pool.TotalBorrowed)
	event.NewTotalFees = new(uint256.Int).Set(pool.TotalPendingFees)
	return event, nil
}

// Accrue forces a checkpoint advance without any other mutation. Redundant
// calls at the same timestamp are no-ops.
func (e *Engine) Accrue() error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	cash, err := e.cashBalance()
	if err != nil {
		return err
	}
	event, err := e.accrue(pool, cash)
	if err != nil {
		return err
	}
	if event == nil {
		return nil
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emitter.Emit(*event)
	return nil
}

// Supply pulls amount of the underlying asset from the account and mints
// supply shares priced at the post-accrual exchange rate. The minted share
// count is returned.
func (e *Engine) Supply(account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	snapshot := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return nil, err
	}
	totalShares, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	available := availableCash(cash, pool.TotalPendingFees)
	rate, err := exchangeRate(available, pool.TotalBorrowed, totalShares)
	if err != nil {
		return nil, err
	}
	minted, err := wadDiv(amount, rate)
	if err != nil {
		return nil, err
	}
	if minted.IsZero() {
		return nil, ErrDustDeposit
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.custody.TransferIn(account, amount); err != nil {
		e.revertPool(snapshot)
		return nil, err
	}
	if err := e.shares.Mint(account, minted); err != nil {
		_ = e.custody.TransferOut(account, amount)
		e.revertPool(snapshot)
		return nil, err
	}
	e.emitAccrual(accrual)
	e.emitter.Emit(SupplyAddedEvent{Account: account, Amount: new(uint256.Int).Set(amount), ExchangeRate: rate, ShareAmount: minted})
	return minted, nil
}

// Withdraw burns shareAmount supply shares and pays out the underlying at the
// post-accrual exchange rate. It fails when the payout exceeds available cash.
func (e *Engine) Withdraw(account common.Address, shareAmount *uint256.Int) (*uint256.Int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if shareAmount == nil || shareAmount.IsZero() {
		return nil, ErrInvalidAmount
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	snapshot := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return nil, err
	}
	totalShares, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	if totalShares == nil || totalShares.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	available := availableCash(cash, pool.TotalPendingFees)
	rate, err := exchangeRate(available, pool.TotalBorrowed, totalShares)
	if err != nil {
		return nil, err
	}
	payout, err := wadMul(shareAmount, rate)
	if err != nil {
		return nil, err
	}
	if payout.Gt(available) {
		return nil, ErrInsufficientLiquidity
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.shares.Burn(account, shareAmount); err != nil {
		e.revertPool(snapshot)
		return nil, err
	}
	if err := e.custody.TransferOut(account, payout); err != nil {
		_ = e.shares.Mint(account, shareAmount)
		e.revertPool(snapshot)
		return nil, err
	}
	e.emitAccrual(accrual)
	e.emitter.Emit(SupplyRemovedEvent{Account: account, Amount: payout, ExchangeRate: rate, ShareAmount: new(uint256.Int).Set(shareAmount)})
	return payout, nil
}

// Borrow draws amount from the pool and mints debt proportion priced at the
// post-accrual debt proportion rate. Only authorized borrowers may call it.
func (e *Engine) Borrow(account common.Address, amount *uint256.Int) error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.access == nil || !e.access.IsAuthorizedBorrower(account) {
		return ErrUnauthorized
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	snapshot := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return err
	}
	available := availableCash(cash, pool.TotalPendingFees)
	if amount.Gt(available) {
		return ErrInsufficientLiquidity
	}
	rate, err := debtProportionRate(pool.TotalBorrowed, pool.TotalDebtProportion)
	if err != nil {
		return err
	}
	minted, err := wadDiv(amount, rate)
	if err != nil {
		return err
	}
	if minted.IsZero() {
		// A positive draw must never be free of debt proportion.
		minted = uint256.NewInt(1)
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	positionSnapshot := position.Clone()
	position.DebtProportion, err = add(position.DebtProportion, minted)
	if err != nil {
		return err
	}
	pool.TotalDebtProportion, err = add(pool.TotalDebtProportion, minted)
	if err != nil {
		return err
	}
	pool.TotalBorrowed, err = add(pool.TotalBorrowed, amount)
	if err != nil {
		return err
	}
	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		e.revertPosition(positionSnapshot)
		return err
	}
	if err := e.custody.TransferOut(account, amount); err != nil {
		e.revertPosition(positionSnapshot)
		e.revertPool(snapshot)
		return err
	}
	e.emitAccrual(accrual)
	e.emitter.Emit(BorrowEvent{Account: account, Amount: new(uint256.Int).Set(amount), DebtProportionRate: rate})
	return nil
}

// Repay pulls up to amount from the account and burns the matching debt
// proportion. The amount actually charged is returned; it is capped at the
// borrower's outstanding debt.
func (e *Engine) Repay(account common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	snapshot := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return nil, err
	}
	rate, err := debtProportionRate(pool.TotalBorrowed, pool.TotalDebtProportion)
	if err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(account)
	if err != nil {
		return nil, err
	}
	owed, err := wadMulUp(position.DebtProportion, rate)
	if err != nil {
		return nil, err
	}
	if owed.IsZero() {
		return nil, ErrNoDebt
	}
	charged := umin(amount, owed)
	burned, err := wadDiv(charged, rate)
	if err != nil {
		return nil, err
	}
	burned = umin(burned, position.DebtProportion)
	positionSnapshot := position.Clone()
	position.DebtProportion = subClamp(position.DebtProportion, burned)
	pool.TotalDebtProportion = subClamp(pool.TotalDebtProportion, burned)
	pool.TotalBorrowed = subClamp(pool.TotalBorrowed, charged)
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		e.revertPosition(positionSnapshot)
		return nil, err
	}
	if err := e.custody.TransferIn(account, charged); err != nil {
		e.revertPosition(positionSnapshot)
		e.revertPool(snapshot)
		return nil, err
	}
	e.emitAccrual(accrual)
	e.emitter.Emit(RepayEvent{Account: account, Amount: charged, DebtProportionRate: rate})
	return charged, nil
}

// CollectFees pushes the accrued performance fees to the configured recipient
// and resets the pending total. The collected amount is returned; collecting
// with nothing pending is a no-op.
func (e *Engine) CollectFees(collector common.Address) (*uint256.Int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.feeRecipient == (common.Address{}) {
		return nil, errFeeRecipient
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	snapshot := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return nil, err
	}
	amount := new(uint256.Int).Set(pool.TotalPendingFees)
	if amount.IsZero() {
		if accrual != nil {
			if err := e.state.PutPool(pool); err != nil {
				return nil, err
			}
			e.emitAccrual(accrual)
		}
		return new(uint256.Int), nil
	}
	if cash.Lt(amount) {
		return nil, ErrInsufficientLiquidity
	}
	pool.TotalPendingFees = new(uint256.Int)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.custody.TransferOut(e.feeRecipient, amount); err != nil {
		e.revertPool(snapshot)
		return nil, err
	}
	e.emitAccrual(accrual)
	e.emitter.Emit(FeesCollectedEvent{Collector: collector, Recipient: e.feeRecipient, Amount: amount})
	return amount, nil
}

// SetRateModel swaps the borrow curve. Interest up to now is accrued under
// the outgoing parameters first. Admin only.
func (e *Engine) SetRateModel(caller common.Address, model *RateModel) error {
	return e.updateParams(caller, func(pool *PoolState) error {
		if err := model.Validate(); err != nil {
			return err
		}
		pool.Model = model.Clone()
		return nil
	})
}

// SetPerformanceFee updates the fee fraction applied to future interest.
// Admin only.
func (e *Engine) SetPerformanceFee(caller common.Address, fee *uint256.Int) error {
	return e.updateParams(caller, func(pool *PoolState) error {
		if fee == nil || fee.Gt(wad) {
			return ErrInvalidParams
		}
		pool.PerformanceFee = new(uint256.Int).Set(fee)
		return nil
	})
}

func (e *Engine) updateParams(caller common.Address, apply func(*PoolState) error) error {
	if err := e.checkWiring(); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if e.access == nil || !e.access.IsAdmin(caller) {
		return ErrUnauthorized
	}
	pool, err := e.ensurePool()
	if err != nil {
		return err
	}
	cash, err := e.cashBalance()
	if err != nil {
		return err
	}
	accrual, err := e.accrue(pool, cash)
	if err != nil {
		return err
	}
	if err := apply(pool); err != nil {
		return err
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emitAccrual(accrual)
	return nil
}

// Snapshot returns the read-side view of the pool with accrual applied in
// memory up to the query time. No state is persisted.
func (e *Engine) Snapshot() (*PoolSnapshot, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	view := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(view, cash); err != nil {
		return nil, err
	}
	totalShares, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	if totalShares == nil {
		totalShares = new(uint256.Int)
	}
	available := availableCash(cash, view.TotalPendingFees)
	utilization, err := UtilizationRate(available, view.TotalBorrowed)
	if err != nil {
		return nil, err
	}
	rate, err := view.Model.BorrowRatePerSecond(utilization)
	if err != nil {
		return nil, err
	}
	supplyRate, err := exchangeRate(available, view.TotalBorrowed, totalShares)
	if err != nil {
		return nil, err
	}
	debtRate, err := debtProportionRate(view.TotalBorrowed, view.TotalDebtProportion)
	if err != nil {
		return nil, err
	}
	return &PoolSnapshot{
		CashBalance:          cash,
		AvailableCash:        available,
		TotalBorrowed:        view.TotalBorrowed,
		TotalPendingFees:     view.TotalPendingFees,
		TotalSupplyShares:    totalShares,
		TotalDebtProportion:  view.TotalDebtProportion,
		Utilization:          utilization,
		BorrowRatePerSecond:  rate,
		ExchangeRate:         supplyRate,
		DebtProportionRate:   debtRate,
		LastAccrualTimestamp: view.LastAccrualTimestamp,
	}, nil
}

// BorrowerDebt returns the amount addr currently owes, accrued up to now and
// rounded up.
func (e *Engine) BorrowerDebt(addr common.Address) (*uint256.Int, error) {
	if err := e.checkWiring(); err != nil {
		return nil, err
	}
	pool, err := e.ensurePool()
	if err != nil {
		return nil, err
	}
	view := pool.Clone()
	cash, err := e.cashBalance()
	if err != nil {
		return nil, err
	}
	if _, err := e.accrue(view, cash); err != nil {
		return nil, err
	}
	position, err := e.ensurePosition(addr)
	if err != nil {
		return nil, err
	}
	rate, err := debtProportionRate(view.TotalBorrowed, view.TotalDebtProportion)
	if err != nil {
		return nil, err
	}
	return wadMulUp(position.DebtProportion, rate)
}

func (e *Engine) emitAccrual(event *AccrualEvent) {
	if event == nil {
		return
	}
	e.emitter.Emit(*event)
}

func (e *Engine) revertPool(snapshot *PoolState) {
	if snapshot == nil {
		return
	}
	_ = e.state.PutPool(snapshot)
}

func (e *Engine) revertPosition(snapshot *BorrowerPosition) {
	if snapshot == nil {
		return
	}
	_ = e.state.PutPosition(snapshot)
}
