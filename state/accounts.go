package state

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"lendpool/storage"
)

var (
	errInvalidAmount       = errors.New("state: transfer amount must be set")
	errInsufficientBalance = errors.New("state: insufficient balance")
)

// Account is one participant's holdings: the underlying asset balance and the
// claim-token balance.
type Account struct {
	AssetBalance *uint256.Int
	ShareBalance *uint256.Int
}

func (a *Account) ensureDefaults() {
	if a.AssetBalance == nil {
		a.AssetBalance = new(uint256.Int)
	}
	if a.ShareBalance == nil {
		a.ShareBalance = new(uint256.Int)
	}
}

func accountKey(addr common.Address) []byte {
	return append(append([]byte(nil), accountPrefix...), addr.Bytes()...)
}

// GetAccount loads an account, returning a zeroed account when absent.
func (m *Manager) GetAccount(addr common.Address) (*Account, error) {
	raw, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		account := &Account{}
		account.ensureDefaults()
		return account, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load account %s: %w", addr.Hex(), err)
	}
	account := new(Account)
	if err := rlp.DecodeBytes(raw, account); err != nil {
		return nil, fmt.Errorf("state: decode account %s: %w", addr.Hex(), err)
	}
	account.ensureDefaults()
	return account, nil
}

// PutAccount persists an account.
func (m *Manager) PutAccount(addr common.Address, account *Account) error {
	if account == nil {
		return errNilRecord
	}
	account.ensureDefaults()
	encoded, err := rlp.EncodeToBytes(account)
	if err != nil {
		return fmt.Errorf("state: encode account %s: %w", addr.Hex(), err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// Credit adds amount to an account's asset balance. Used to seed balances at
// genesis and by operational tooling.
func (m *Manager) Credit(addr common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errInvalidAmount
	}
	account, err := m.GetAccount(addr)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(account.AssetBalance, amount)
	if overflow {
		return fmt.Errorf("state: credit %s overflows", addr.Hex())
	}
	account.AssetBalance = updated
	return m.PutAccount(addr, account)
}

// Custody adapts the account book to the engine's AssetCustody interface,
// bound to the pool's own address.
type Custody struct {
	mgr  *Manager
	pool common.Address
}

// CustodyFor returns an AssetCustody view bound to the pool address.
func (m *Manager) CustodyFor(pool common.Address) *Custody {
	return &Custody{mgr: m, pool: pool}
}

// BalanceOf returns the asset balance held by addr.
func (c *Custody) BalanceOf(addr common.Address) (*uint256.Int, error) {
	account, err := c.mgr.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.AssetBalance, nil
}

// TransferIn moves amount from the account into the pool. It fails loudly on
// insufficient balance.
func (c *Custody) TransferIn(from common.Address, amount *uint256.Int) error {
	return c.mgr.transferAsset(from, c.pool, amount)
}

// TransferOut moves amount from the pool to the account.
func (c *Custody) TransferOut(to common.Address, amount *uint256.Int) error {
	return c.mgr.transferAsset(c.pool, to, amount)
}

func (m *Manager) transferAsset(from, to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	source, err := m.GetAccount(from)
	if err != nil {
		return err
	}
	if source.AssetBalance.Lt(amount) {
		return fmt.Errorf("%w: %s", errInsufficientBalance, from.Hex())
	}
	destination, err := m.GetAccount(to)
	if err != nil {
		return err
	}
	source.AssetBalance = new(uint256.Int).Sub(source.AssetBalance, amount)
	updated, overflow := new(uint256.Int).AddOverflow(destination.AssetBalance, amount)
	if overflow {
		return fmt.Errorf("state: transfer to %s overflows", to.Hex())
	}
	destination.AssetBalance = updated
	if err := m.PutAccount(from, source); err != nil {
		return err
	}
	return m.PutAccount(to, destination)
}

// ShareBook adapts the account book to the engine's ShareLedger interface and
// is the source of truth for the claim-token supply.
type ShareBook struct {
	mgr *Manager
}

// Shares returns the claim-token ledger view.
func (m *Manager) Shares() *ShareBook {
	return &ShareBook{mgr: m}
}

// Mint credits freshly issued shares to an account.
func (b *ShareBook) Mint(to common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errInvalidAmount
	}
	account, err := b.mgr.GetAccount(to)
	if err != nil {
		return err
	}
	updated, overflow := new(uint256.Int).AddOverflow(account.ShareBalance, amount)
	if overflow {
		return fmt.Errorf("state: share mint to %s overflows", to.Hex())
	}
	account.ShareBalance = updated
	total, err := b.TotalSupply()
	if err != nil {
		return err
	}
	newTotal, overflow := new(uint256.Int).AddOverflow(total, amount)
	if overflow {
		return errors.New("state: share supply overflows")
	}
	if err := b.mgr.putShareSupply(newTotal); err != nil {
		return err
	}
	return b.mgr.PutAccount(to, account)
}

// Burn destroys shares held by an account, failing loudly when the holding is
// insufficient.
func (b *ShareBook) Burn(from common.Address, amount *uint256.Int) error {
	if amount == nil {
		return errInvalidAmount
	}
	account, err := b.mgr.GetAccount(from)
	if err != nil {
		return err
	}
	if account.ShareBalance.Lt(amount) {
		return fmt.Errorf("%w: shares of %s", errInsufficientBalance, from.Hex())
	}
	total, err := b.TotalSupply()
	if err != nil {
		return err
	}
	if total.Lt(amount) {
		return errors.New("state: share supply below burn amount")
	}
	account.ShareBalance = new(uint256.Int).Sub(account.ShareBalance, amount)
	if err := b.mgr.putShareSupply(new(uint256.Int).Sub(total, amount)); err != nil {
		return err
	}
	return b.mgr.PutAccount(from, account)
}

// TotalSupply returns the outstanding claim-token supply.
func (b *ShareBook) TotalSupply() (*uint256.Int, error) {
	raw, err := b.mgr.db.Get(shareSupplyKey)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load share supply: %w", err)
	}
	total := new(uint256.Int)
	if err := rlp.DecodeBytes(raw, total); err != nil {
		return nil, fmt.Errorf("state: decode share supply: %w", err)
	}
	return total, nil
}

func (m *Manager) putShareSupply(total *uint256.Int) error {
	encoded, err := rlp.EncodeToBytes(total)
	if err != nil {
		return fmt.Errorf("state: encode share supply: %w", err)
	}
	return m.db.Put(shareSupplyKey, encoded)
}
