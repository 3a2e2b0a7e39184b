package lending

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type mockState struct {
	pool      *PoolState
	positions map[common.Address]*BorrowerPosition
}

func newMockState() *mockState {
	return &mockState{positions: make(map[common.Address]*BorrowerPosition)}
}

func (m *mockState) GetPool() (*PoolState, error) {
	return m.pool.Clone(), nil
}

func (m *mockState) PutPool(pool *PoolState) error {
	m.pool = pool.Clone()
	return nil
}

func (m *mockState) GetPosition(addr common.Address) (*BorrowerPosition, error) {
	if position, ok := m.positions[addr]; ok {
		return position.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutPosition(position *BorrowerPosition) error {
	if position == nil {
		return nil
	}
	m.positions[position.Address] = position.Clone()
	return nil
}

type mockCustody struct {
	balances        map[common.Address]*uint256.Int
	pool            common.Address
	failTransferIn  bool
	failTransferOut bool
	onTransferOut   func() error
}

func newMockCustody(pool common.Address) *mockCustody {
	return &mockCustody{balances: make(map[common.Address]*uint256.Int), pool: pool}
}

func (m *mockCustody) balance(addr common.Address) *uint256.Int {
	if existing, ok := m.balances[addr]; ok {
		return existing
	}
	fresh := new(uint256.Int)
	m.balances[addr] = fresh
	return fresh
}

func (m *mockCustody) BalanceOf(addr common.Address) (*uint256.Int, error) {
	return new(uint256.Int).Set(m.balance(addr)), nil
}

func (m *mockCustody) TransferIn(from common.Address, amount *uint256.Int) error {
	if m.failTransferIn {
		return errors.New("custody: transfer rejected")
	}
	source := m.balance(from)
	if source.Lt(amount) {
		return errors.New("custody: insufficient balance")
	}
	source.Sub(source, amount)
	m.balance(m.pool).Add(m.balance(m.pool), amount)
	return nil
}

func (m *mockCustody) TransferOut(to common.Address, amount *uint256.Int) error {
	if m.onTransferOut != nil {
		if err := m.onTransferOut(); err != nil {
			return err
		}
	}
	if m.failTransferOut {
		return errors.New("custody: transfer rejected")
	}
	source := m.balance(m.pool)
	if source.Lt(amount) {
		return errors.New("custody: insufficient balance")
	}
	source.Sub(source, amount)
	m.balance(to).Add(m.balance(to), amount)
	return nil
}

type mockShares struct {
	balances map[common.Address]*uint256.Int
	total    *uint256.Int
	failMint bool
}

func newMockShares() *mockShares {
	return &mockShares{balances: make(map[common.Address]*uint256.Int), total: new(uint256.Int)}
}

func (m *mockShares) balance(addr common.Address) *uint256.Int {
	if existing, ok := m.balances[addr]; ok {
		return existing
	}
	fresh := new(uint256.Int)
	m.balances[addr] = fresh
	return fresh
}

func (m *mockShares) Mint(to common.Address, amount *uint256.Int) error {
	if m.failMint {
		return errors.New("shares: mint rejected")
	}
	m.balance(to).Add(m.balance(to), amount)
	m.total.Add(m.total, amount)
	return nil
}

func (m *mockShares) Burn(from common.Address, amount *uint256.Int) error {
	holding := m.balance(from)
	if holding.Lt(amount) {
		return errors.New("shares: insufficient balance")
	}
	holding.Sub(holding, amount)
	m.total.Sub(m.total, amount)
	return nil
}

func (m *mockShares) TotalSupply() (*uint256.Int, error) {
	return new(uint256.Int).Set(m.total), nil
}

type mockAccess struct {
	borrowers map[common.Address]bool
	admins    map[common.Address]bool
}

func newMockAccess() *mockAccess {
	return &mockAccess{borrowers: make(map[common.Address]bool), admins: make(map[common.Address]bool)}
}

func (m *mockAccess) IsAuthorizedBorrower(addr common.Address) bool { return m.borrowers[addr] }
func (m *mockAccess) IsAdmin(addr common.Address) bool              { return m.admins[addr] }

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(event Event) { r.events = append(r.events, event) }

type testFixture struct {
	engine  *Engine
	state   *mockState
	custody *mockCustody
	shares  *mockShares
	access  *mockAccess
	emitter *recordingEmitter
	now     uint64
}

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = suffix
	return addr
}

var (
	poolAddr     = makeAddress(0x01)
	feeRecipient = makeAddress(0x02)
)

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	fixture := &testFixture{
		state:   newMockState(),
		custody: newMockCustody(poolAddr),
		shares:  newMockShares(),
		access:  newMockAccess(),
		emitter: &recordingEmitter{},
		now:     1_700_000_000,
	}
	engine := NewEngine(poolAddr, feeRecipient)
	engine.SetState(fixture.state)
	engine.SetCustody(fixture.custody)
	engine.SetShareLedger(fixture.shares)
	engine.SetAccessControl(fixture.access)
	engine.SetEmitter(fixture.emitter)
	engine.SetNowFunc(func() uint64 { return fixture.now })
	fixture.engine = engine
	if err := engine.InitPool(testModel(t), mustWad(t, "0.1")); err != nil {
		t.Fatalf("init pool: %v", err)
	}
	return fixture
}

func (f *testFixture) advance(seconds uint64) { f.now += seconds }

func (f *testFixture) setPerformanceFee(t *testing.T, fee string) {
	t.Helper()
	f.state.pool.PerformanceFee = mustWad(t, fee)
}

func TestInitPoolRejectsSecondInit(t *testing.T) {
	fixture := newTestFixture(t)
	if err := fixture.engine.InitPool(testModel(t), new(uint256.Int)); !errors.Is(err, ErrPoolExists) {
		t.Fatalf("expected ErrPoolExists, got %v", err)
	}
}

func TestAccrueNoOpAtSameTimestamp(t *testing.T) {
	fixture := newTestFixture(t)
	fixture.state.pool.TotalBorrowed = uint256.NewInt(100_000_000)
	fixture.custody.balance(poolAddr).SetUint64(100_000_000)

	fixture.advance(86_400)
	if err := fixture.engine.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	borrowedAfterFirst := new(uint256.Int).Set(fixture.state.pool.TotalBorrowed)
	feesAfterFirst := new(uint256.Int).Set(fixture.state.pool.TotalPendingFees)

	if err := fixture.engine.Accrue(); err != nil {
		t.Fatalf("redundant accrue: %v", err)
	}
	if !fixture.state.pool.TotalBorrowed.Eq(borrowedAfterFirst) {
		t.Fatalf("redundant accrual changed borrowed: %s vs %s", fixture.state.pool.TotalBorrowed, borrowedAfterFirst)
	}
	if !fixture.state.pool.TotalPendingFees.Eq(feesAfterFirst) {
		t.Fatalf("redundant accrual changed fees: %s vs %s", fixture.state.pool.TotalPendingFees, feesAfterFirst)
	}
}

func TestAccrueSplitsPerformanceFee(t *testing.T) {
	fixture := newTestFixture(t)
	// 50% utilisation: 100_000_000 borrowed against 100_000_000 cash.
	fixture.state.pool.TotalBorrowed = uint256.NewInt(100_000_000)
	fixture.custody.balance(poolAddr).SetUint64(100_000_000)

	fixture.advance(86_400)
	if err := fixture.engine.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	// rate 3523310220/sec over a day on 100_000_000 yields 30_441 interest,
	// split 10% fee / 90% principal.
	if !fixture.state.pool.TotalBorrowed.Eq(uint256.NewInt(100_027_397)) {
		t.Fatalf("unexpected borrowed %s", fixture.state.pool.TotalBorrowed)
	}
	if !fixture.state.pool.TotalPendingFees.Eq(uint256.NewInt(3_044)) {
		t.Fatalf("unexpected fees %s", fixture.state.pool.TotalPendingFees)
	}
	if fixture.state.pool.LastAccrualTimestamp != fixture.now {
		t.Fatalf("checkpoint not advanced: %d", fixture.state.pool.LastAccrualTimestamp)
	}

	if len(fixture.emitter.events) != 1 {
		t.Fatalf("expected one accrual event, got %d", len(fixture.emitter.events))
	}
	accrual, ok := fixture.emitter.events[0].(AccrualEvent)
	if !ok {
		t.Fatalf("unexpected event %T", fixture.emitter.events[0])
	}
	if accrual.ElapsedSeconds != 86_400 {
		t.Fatalf("unexpected elapsed %d", accrual.ElapsedSeconds)
	}
	if !accrual.RatePerSecond.Eq(uint256.NewInt(3523310220)) {
		t.Fatalf("unexpected rate %s", accrual.RatePerSecond)
	}
	if !accrual.InterestAmount.Eq(uint256.NewInt(30_441)) {
		t.Fatalf("unexpected interest %s", accrual.InterestAmount)
	}
}

func TestAccrueFeeSplitTenPercent(t *testing.T) {
	fixture := newTestFixture(t)
	// Full utilisation pins the rate at the ceiling; choose the ceiling so
	// the interest over 100 seconds is exactly 10 units.
	fixture.state.pool.Model.MaxRatePerSecond = uint256.NewInt(100_000_000_000_000)
	fixture.state.pool.TotalBorrowed = uint256.NewInt(1_000)

	fixture.advance(100)
	if err := fixture.engine.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !fixture.state.pool.TotalBorrowed.Eq(uint256.NewInt(1_009)) {
		t.Fatalf("expected borrowed 1009, got %s", fixture.state.pool.TotalBorrowed)
	}
	if !fixture.state.pool.TotalPendingFees.Eq(uint256.NewInt(1)) {
		t.Fatalf("expected fees 1, got %s", fixture.state.pool.TotalPendingFees)
	}
}

func TestAccrueSplitIntervalsMatchesSingleStep(t *testing.T) {
	run := func(t *testing.T, steps []uint64) *uint256.Int {
		fixture := newTestFixture(t)
		fixture.setPerformanceFee(t, "0")
		fixture.state.pool.TotalBorrowed = uint256.NewInt(100_000_000)
		fixture.custody.balance(poolAddr).SetUint64(100_000_000)
		for _, step := range steps {
			fixture.advance(step)
			if err := fixture.engine.Accrue(); err != nil {
				t.Fatalf("accrue: %v", err)
			}
		}
		return new(uint256.Int).Set(fixture.state.pool.TotalBorrowed)
	}

	oneShot := run(t, []uint64{172_800})
	twoStep := run(t, []uint64{86_400, 86_400})

	if !oneShot.Eq(uint256.NewInt(100_060_882)) {
		t.Fatalf("unexpected one-shot total %s", oneShot)
	}
	var diff uint256.Int
	if twoStep.Gt(oneShot) {
		diff.Sub(twoStep, oneShot)
	} else {
		diff.Sub(oneShot, twoStep)
	}
	if diff.GtUint64(20) {
		t.Fatalf("accrual paths diverged beyond rounding: %s vs %s", oneShot, twoStep)
	}
}

func TestAccrueClampsFeesAboveCash(t *testing.T) {
	fixture := newTestFixture(t)
	// Pending fees exceed cash through rounding drift; available cash must
	// clamp to zero and the rate must pin at the ceiling.
	fixture.state.pool.TotalBorrowed = uint256.NewInt(1_000)
	fixture.state.pool.TotalPendingFees = uint256.NewInt(500)
	fixture.custody.balance(poolAddr).SetUint64(400)
	fixture.state.pool.Model.MaxRatePerSecond = uint256.NewInt(77)

	fixture.advance(10)
	if err := fixture.engine.Accrue(); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	accrual := fixture.emitter.events[0].(AccrualEvent)
	if !accrual.RatePerSecond.Eq(uint256.NewInt(77)) {
		t.Fatalf("expected ceiling rate at full utilisation, got %s", accrual.RatePerSecond)
	}
}
