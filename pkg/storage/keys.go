package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
)

// Ledger key schema for Pebble storage:
//
//   pool:<token>                  → PoolState (JSON)
//   fund:<token>                  → FundingState (JSON)
//   pos:<positionKey>             → Position (JSON), open positions only
//   apos:<account>:<positionKey>  → empty, index of positions by account
//   bal:<account>                 → stable-unit balance (32 bytes)
//   supply                        → stable-unit supply (32 bytes)

const (
	prefixPool            = "pool:"
	prefixFunding         = "fund:"
	prefixPosition        = "pos:"
	prefixAccountPosition = "apos:"
	prefixBalance         = "bal:"
	keySupply             = "supply"
)

func poolKey(token common.Address) []byte {
	return []byte(prefixPool + token.Hex())
}

func fundingKey(token common.Address) []byte {
	return []byte(prefixFunding + token.Hex())
}

func positionKey(key ledger.PositionKey) []byte {
	return []byte(prefixPosition + key.Hex())
}

// accountPositionKey indexes key under its owner.
// Format: "apos:{account}:{positionKey}"
func accountPositionKey(account common.Address, key ledger.PositionKey) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAccountPosition, account.Hex(), key.Hex()))
}

func accountPositionPrefix(account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAccountPosition, account.Hex()))
}

func balanceKey(account common.Address) []byte {
	return []byte(prefixBalance + account.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
