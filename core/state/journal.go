package state

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"yieldstake/core/types"
	"yieldstake/native/staking"
)

// Journal buffers writes on top of the committed state. Reads observe the
// buffered writes first. Nothing reaches the database until Commit, which
// writes every buffered key in one batch.
type Journal struct {
	mgr    *Manager
	writes map[string][]byte
	order  []string
	events []*types.Event
}

var _ staking.State = (*Journal)(nil)

func newJournal(mgr *Manager) *Journal {
	return &Journal{mgr: mgr, writes: make(map[string][]byte)}
}

func (j *Journal) get(key []byte, out interface{}) (bool, error) {
	if data, ok := j.writes[string(key)]; ok {
		return decodeInto(data, out)
	}
	return j.mgr.KVGet(key, out)
}

func (j *Journal) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	k := string(key)
	if _, exists := j.writes[k]; !exists {
		j.order = append(j.order, k)
	}
	j.writes[k] = encoded
	return nil
}

// ProgramConfig implements staking.State.
func (j *Journal) ProgramConfig() (*staking.ProgramConfig, error) {
	return readConfig(j.get)
}

// PutProgramConfig implements staking.State.
func (j *Journal) PutProgramConfig(cfg *staking.ProgramConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: nil program config")
	}
	return j.put(stakingConfigKey, newStoredConfig(cfg))
}

// StakingAccount implements staking.State.
func (j *Journal) StakingAccount(owner [20]byte) (*staking.StakingAccount, error) {
	return readAccount(j.get, owner)
}

// PutStakingAccount implements staking.State.
func (j *Journal) PutStakingAccount(account *staking.StakingAccount) error {
	if account == nil {
		return fmt.Errorf("state: nil staking account")
	}
	return j.put(StakingAccountKey(account.Owner), newStoredAccount(account))
}

// TokenBalance implements staking.State.
func (j *Journal) TokenBalance(addr [20]byte, token string) (uint64, error) {
	return readBalance(j.get, addr, normalizeToken(token))
}

// SetTokenBalance implements staking.State.
func (j *Journal) SetTokenBalance(addr [20]byte, token string, amount uint64) error {
	symbol := normalizeToken(token)
	if symbol == "" {
		return fmt.Errorf("state: token symbol must not be empty")
	}
	return j.put(BalanceKey(addr, symbol), amount)
}

// Receipt implements staking.State.
func (j *Journal) Receipt(id string) (*staking.Receipt, error) {
	return readReceipt(j.get, id)
}

// PutReceipt implements staking.State.
func (j *Journal) PutReceipt(receipt *staking.Receipt) error {
	if receipt == nil || receipt.ID == "" {
		return fmt.Errorf("state: receipt requires an id")
	}
	return j.put(ReceiptKey(receipt.ID), newStoredReceipt(receipt))
}

// AppendEvent implements staking.State.
func (j *Journal) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	j.events = append(j.events, evt.Clone())
}

// Events returns the events recorded since the journal was opened.
func (j *Journal) Events() []*types.Event {
	out := make([]*types.Event, len(j.events))
	copy(out, j.events)
	return out
}

// Dirty reports whether the journal holds uncommitted writes.
func (j *Journal) Dirty() bool { return len(j.order) > 0 }

// Commit writes all buffered entries atomically and resets the journal.
func (j *Journal) Commit() error {
	if len(j.order) == 0 {
		return nil
	}
	batch := j.mgr.db.NewBatch()
	for _, key := range j.order {
		batch.Put([]byte(key), j.writes[key])
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit %d entries: %w", batch.Len(), err)
	}
	j.Discard()
	return nil
}

// Discard drops every buffered write and event.
func (j *Journal) Discard() {
	j.writes = make(map[string][]byte)
	j.order = nil
	j.events = nil
}

func normalizeToken(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
