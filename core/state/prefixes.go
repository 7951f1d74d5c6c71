package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountPrefix      = []byte("account/")
	ticketPoolKeyBytes = []byte("tickets/pool")
	ticketRecordPrefix = []byte("tickets/ticket/")
	ticketVaultSeed    = []byte("tickets/vault")
)

func accountKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr[:])
	return buf
}

func ticketRecordKey(id uint64) []byte {
	buf := make([]byte, len(ticketRecordPrefix)+8)
	copy(buf, ticketRecordPrefix)
	binary.BigEndian.PutUint64(buf[len(ticketRecordPrefix):], id)
	return buf
}

// TicketVaultAddress is the account holding ticket payments until they are
// refunded. No key controls it.
func TicketVaultAddress() [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256(ticketVaultSeed)[12:])
	return addr
}
