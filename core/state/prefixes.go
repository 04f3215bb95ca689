package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	stakingConfigKey     = []byte("staking/config")
	stakingAccountPrefix = []byte("staking/account/")
	receiptPrefix        = []byte("staking/receipt/")
	balancePrefix        = []byte("balance/")
)

// StakingAccountKey returns the storage key for an owner's staking account.
func StakingAccountKey(owner [20]byte) []byte {
	key := make([]byte, len(stakingAccountPrefix)+len(owner))
	copy(key, stakingAccountPrefix)
	copy(key[len(stakingAccountPrefix):], owner[:])
	return key
}

// ReceiptKey returns the storage key for a settlement receipt.
func ReceiptKey(id string) []byte {
	key := make([]byte, len(receiptPrefix)+len(id))
	copy(key, receiptPrefix)
	copy(key[len(receiptPrefix):], id)
	return key
}

// BalanceKey hashes the token symbol and holder into a fixed-width key under
// the balance prefix.
func BalanceKey(addr [20]byte, token string) []byte {
	buf := make([]byte, 0, len(token)+1+len(addr))
	buf = append(buf, token...)
	buf = append(buf, ':')
	buf = append(buf, addr[:]...)
	digest := ethcrypto.Keccak256(buf)
	key := make([]byte, len(balancePrefix)+len(digest))
	copy(key, balancePrefix)
	copy(key[len(balancePrefix):], digest)
	return key
}
