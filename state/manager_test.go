package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"lendpool/native/lending"
	"lendpool/storage"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func wad(t *testing.T, value string) *uint256.Int {
	t.Helper()
	parsed, err := lending.ParseWad(value)
	require.NoError(t, err)
	return parsed
}

func TestPoolRoundtrip(t *testing.T) {
	mgr := testManager(t)

	pool, err := mgr.GetPool()
	require.NoError(t, err)
	require.Nil(t, pool, "missing pool must decode to nil")

	model := lending.NewRateModel(
		wad(t, "0.9"),
		wad(t, "0.2"),
		wad(t, "0.6"),
		wad(t, "1000"),
	)
	stored := &lending.PoolState{
		TotalBorrowed:        uint256.NewInt(100_000),
		TotalPendingFees:     uint256.NewInt(250),
		TotalDebtProportion:  uint256.NewInt(90_000),
		LastAccrualTimestamp: 1_700_000_000,
		Model:                model,
		PerformanceFee:       wad(t, "0.1"),
	}
	require.NoError(t, mgr.PutPool(stored))

	loaded, err := mgr.GetPool()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.TotalBorrowed.Eq(stored.TotalBorrowed))
	require.True(t, loaded.TotalPendingFees.Eq(stored.TotalPendingFees))
	require.True(t, loaded.TotalDebtProportion.Eq(stored.TotalDebtProportion))
	require.Equal(t, stored.LastAccrualTimestamp, loaded.LastAccrualTimestamp)
	require.True(t, loaded.Model.OptimalUtilization.Eq(model.OptimalUtilization))
	require.True(t, loaded.Model.Slope1.Eq(model.Slope1))
	require.True(t, loaded.Model.Slope2.Eq(model.Slope2))
	require.True(t, loaded.Model.MaxRatePerSecond.Eq(model.MaxRatePerSecond))
	require.True(t, loaded.PerformanceFee.Eq(stored.PerformanceFee))
}

func TestPutPoolRejectsNil(t *testing.T) {
	mgr := testManager(t)
	require.ErrorIs(t, mgr.PutPool(nil), errNilRecord)
	require.ErrorIs(t, mgr.PutPool(&lending.PoolState{}), errNilRecord)
}

func TestPositionRoundtrip(t *testing.T) {
	mgr := testManager(t)
	borrower := common.HexToAddress("0x0000000000000000000000000000000000000042")

	position, err := mgr.GetPosition(borrower)
	require.NoError(t, err)
	require.Nil(t, position, "missing position must decode to nil")

	require.NoError(t, mgr.PutPosition(&lending.BorrowerPosition{
		Address:        borrower,
		DebtProportion: uint256.NewInt(4_000),
	}))

	loaded, err := mgr.GetPosition(borrower)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, borrower, loaded.Address)
	require.True(t, loaded.DebtProportion.Eq(uint256.NewInt(4_000)))
}

func TestAccountDefaultsAndCredit(t *testing.T) {
	mgr := testManager(t)
	addr := common.HexToAddress("0x0000000000000000000000000000000000000011")

	account, err := mgr.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, account.AssetBalance.IsZero())
	require.True(t, account.ShareBalance.IsZero())

	require.NoError(t, mgr.Credit(addr, uint256.NewInt(1_000)))
	require.NoError(t, mgr.Credit(addr, uint256.NewInt(500)))

	account, err = mgr.GetAccount(addr)
	require.NoError(t, err)
	require.True(t, account.AssetBalance.Eq(uint256.NewInt(1_500)))
}

func TestCustodyTransfers(t *testing.T) {
	mgr := testManager(t)
	pool := common.HexToAddress("0x0000000000000000000000000000000000000001")
	lender := common.HexToAddress("0x0000000000000000000000000000000000000010")
	custody := mgr.CustodyFor(pool)

	require.NoError(t, mgr.Credit(lender, uint256.NewInt(300)))

	require.NoError(t, custody.TransferIn(lender, uint256.NewInt(200)))
	poolBalance, err := custody.BalanceOf(pool)
	require.NoError(t, err)
	require.True(t, poolBalance.Eq(uint256.NewInt(200)))
	lenderBalance, err := custody.BalanceOf(lender)
	require.NoError(t, err)
	require.True(t, lenderBalance.Eq(uint256.NewInt(100)))

	err = custody.TransferIn(lender, uint256.NewInt(200))
	require.ErrorIs(t, err, errInsufficientBalance)

	require.NoError(t, custody.TransferOut(lender, uint256.NewInt(50)))
	lenderBalance, err = custody.BalanceOf(lender)
	require.NoError(t, err)
	require.True(t, lenderBalance.Eq(uint256.NewInt(150)))

	err = custody.TransferOut(lender, uint256.NewInt(1_000))
	require.ErrorIs(t, err, errInsufficientBalance)
}

func TestShareBookMintBurn(t *testing.T) {
	mgr := testManager(t)
	holder := common.HexToAddress("0x0000000000000000000000000000000000000020")
	book := mgr.Shares()

	total, err := book.TotalSupply()
	require.NoError(t, err)
	require.True(t, total.IsZero())

	require.NoError(t, book.Mint(holder, uint256.NewInt(125)))
	total, err = book.TotalSupply()
	require.NoError(t, err)
	require.True(t, total.Eq(uint256.NewInt(125)))
	account, err := mgr.GetAccount(holder)
	require.NoError(t, err)
	require.True(t, account.ShareBalance.Eq(uint256.NewInt(125)))

	err = book.Burn(holder, uint256.NewInt(200))
	require.ErrorIs(t, err, errInsufficientBalance)

	require.NoError(t, book.Burn(holder, uint256.NewInt(25)))
	total, err = book.TotalSupply()
	require.NoError(t, err)
	require.True(t, total.Eq(uint256.NewInt(100)))
	account, err = mgr.GetAccount(holder)
	require.NoError(t, err)
	require.True(t, account.ShareBalance.Eq(uint256.NewInt(100)))
}
