package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendpool/native/lending"
	"lendpool/storage"
)

var (
	poolKey        = []byte("lending/pool")
	positionPrefix = []byte("lending/position/")
	accountPrefix  = []byte("accounts/")
	shareSupplyKey = []byte("shares/total")
)

var errNilRecord = errors.New("state: nil record")

// Manager persists the lending ledger to a key-value database using RLP
// encoding. It satisfies the engine's persistence interface and, through
// CustodyFor and Shares, the custody and share-ledger collaborators used by
// the bundled daemon.
type Manager struct {
	db storage.Database
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type storedPool struct {
	TotalBorrowed        *uint256.Int
	TotalPendingFees     *uint256.Int
	TotalDebtProportion  *uint256.Int
	LastAccrualTimestamp uint64
	OptimalUtilization   *uint256.Int
	Slope1               *uint256.Int
	Slope2               *uint256.Int
	MaxRatePerSecond     *uint256.Int
	PerformanceFee       *uint256.Int
}

// GetPool loads the pool singleton. A missing pool decodes to nil with no
// error so the engine can distinguish "not initialised".
func (m *Manager) GetPool() (*lending.PoolState, error) {
	raw, err := m.db.Get(poolKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load pool: %w", err)
	}
	stored := new(storedPool)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("state: decode pool: %w", err)
	}
	pool := &lending.PoolState{
		TotalBorrowed:        stored.TotalBorrowed,
		TotalPendingFees:     stored.TotalPendingFees,
		TotalDebtProportion:  stored.TotalDebtProportion,
		LastAccrualTimestamp: stored.LastAccrualTimestamp,
		Model: lending.NewRateModel(
			stored.OptimalUtilization,
			stored.Slope1,
			stored.Slope2,
			stored.MaxRatePerSecond,
		),
		PerformanceFee: stored.PerformanceFee,
	}
	pool.EnsureDefaults()
	return pool, nil
}

// PutPool persists the pool singleton.
func (m *Manager) PutPool(pool *lending.PoolState) error {
	if pool == nil || pool.Model == nil {
		return errNilRecord
	}
	pool.EnsureDefaults()
	stored := &storedPool{
		TotalBorrowed:        pool.TotalBorrowed,
		TotalPendingFees:     pool.TotalPendingFees,
		TotalDebtProportion:  pool.TotalDebtProportion,
		LastAccrualTimestamp: pool.LastAccrualTimestamp,
		OptimalUtilization:   pool.Model.OptimalUtilization,
		Slope1:               pool.Model.Slope1,
		Slope2:               pool.Model.Slope2,
		MaxRatePerSecond:     pool.Model.MaxRatePerSecond,
		PerformanceFee:       pool.PerformanceFee,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode pool: %w", err)
	}
	return m.db.Put(poolKey, encoded)
}

type storedPosition struct {
	DebtProportion *uint256.Int
}

func positionKey(addr common.Address) []byte {
	return append(append([]byte(nil), positionPrefix...), addr.Bytes()...)
}

// GetPosition loads a borrower position; missing positions decode to nil.
func (m *Manager) GetPosition(addr common.Address) (*lending.BorrowerPosition, error) {
	raw, err := m.db.Get(positionKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load position %s: %w", addr.Hex(), err)
	}
	stored := new(storedPosition)
	if err := rlp.DecodeBytes(raw, stored); err != nil {
		return nil, fmt.Errorf("state: decode position %s: %w", addr.Hex(), err)
	}
	position := &lending.BorrowerPosition{Address: addr, DebtProportion: stored.DebtProportion}
	position.EnsureDefaults()
	return position, nil
}

// PutPosition persists a borrower position.
func (m *Manager) PutPosition(position *lending.BorrowerPosition) error {
	if position == nil {
		return errNilRecord
	}
	position.EnsureDefaults()
	encoded, err := rlp.EncodeToBytes(&storedPosition{DebtProportion: position.DebtProportion})
	if err != nil {
		return fmt.Errorf("state: encode position %s: %w", position.Address.Hex(), err)
	}
	return m.db.Put(positionKey(position.Address), encoded)
}
