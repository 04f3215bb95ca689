package state

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"yieldstake/native/staking"
	"yieldstake/storage"
)

// Manager reads committed staking state from a key/value database. Mutations
// go through a Journal so that a settlement lands in one batch.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Journal opens a write buffer over the committed state.
func (m *Manager) Journal() *Journal {
	return newJournal(m)
}

// KVGet decodes the RLP value stored under key into out. The boolean return
// value indicates whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return decodeInto(data, out)
}

func decodeInto(data []byte, out interface{}) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// ProgramConfig returns the committed configuration or nil.
func (m *Manager) ProgramConfig() (*staking.ProgramConfig, error) {
	return readConfig(m.KVGet)
}

// StakingAccount returns the committed account for owner or nil.
func (m *Manager) StakingAccount(owner [20]byte) (*staking.StakingAccount, error) {
	return readAccount(m.KVGet, owner)
}

// TokenBalance returns the committed raw balance of addr in token.
func (m *Manager) TokenBalance(addr [20]byte, token string) (uint64, error) {
	return readBalance(m.KVGet, addr, normalizeToken(token))
}

// Receipt returns the committed receipt for a settlement ID or nil.
func (m *Manager) Receipt(id string) (*staking.Receipt, error) {
	return readReceipt(m.KVGet, id)
}

// Accounts visits every committed staking account in key order. Returning
// false from fn stops the walk.
func (m *Manager) Accounts(fn func(*staking.StakingAccount) bool) error {
	var decodeErr error
	err := m.db.IteratePrefix(stakingAccountPrefix, func(key, value []byte) bool {
		stored := new(storedAccount)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			decodeErr = fmt.Errorf("state: decode account %x: %w", bytes.TrimPrefix(key, stakingAccountPrefix), err)
			return false
		}
		return fn(stored.toAccount())
	})
	if err != nil {
		return err
	}
	return decodeErr
}

// Receipts visits every committed settlement receipt in settlement ID order.
func (m *Manager) Receipts(fn func(*staking.Receipt) bool) error {
	var decodeErr error
	err := m.db.IteratePrefix(receiptPrefix, func(key, value []byte) bool {
		stored := new(storedReceipt)
		if err := rlp.DecodeBytes(value, stored); err != nil {
			decodeErr = fmt.Errorf("state: decode receipt %q: %w", bytes.TrimPrefix(key, receiptPrefix), err)
			return false
		}
		return fn(stored.toReceipt())
	})
	if err != nil {
		return err
	}
	return decodeErr
}

type kvGetter func(key []byte, out interface{}) (bool, error)

func readConfig(get kvGetter) (*staking.ProgramConfig, error) {
	stored := new(storedConfig)
	ok, err := get(stakingConfigKey, stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toConfig(), nil
}

func readAccount(get kvGetter, owner [20]byte) (*staking.StakingAccount, error) {
	stored := new(storedAccount)
	ok, err := get(StakingAccountKey(owner), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toAccount(), nil
}

func readBalance(get kvGetter, addr [20]byte, token string) (uint64, error) {
	var balance uint64
	if _, err := get(BalanceKey(addr, token), &balance); err != nil {
		return 0, err
	}
	return balance, nil
}

func readReceipt(get kvGetter, id string) (*staking.Receipt, error) {
	stored := new(storedReceipt)
	ok, err := get(ReceiptKey(id), stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toReceipt(), nil
}
