package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
)

type EventType string

const (
	EventMint              EventType = "mint"
	EventRedeem            EventType = "redeem"
	EventPoolDeposit       EventType = "pool_deposit"
	EventIncreasePosition  EventType = "increase_position"
	EventDecreasePosition  EventType = "decrease_position"
	EventClosePosition     EventType = "close_position"
	EventLiquidatePosition EventType = "liquidate_position"
	EventFundingUpdate     EventType = "funding_update"
)

// Event describes one committed change. Amounts in Data are decimal strings:
// token amounts in the token's units, USD values in dollars.
type Event struct {
	ID      uuid.UUID           `json:"id"`
	Type    EventType           `json:"type"`
	Time    time.Time           `json:"time"`
	Token   common.Address      `json:"token"`
	Account *common.Address     `json:"account,omitempty"`
	Key     *ledger.PositionKey `json:"key,omitempty"`
	Data    map[string]string   `json:"data,omitempty"`
}

// Listener receives events after their change-set is committed. Listeners
// run on the calling goroutine and must not call back into the vault.
type Listener func(Event)

func newEvent(typ EventType, at time.Time, token common.Address) Event {
	return Event{
		ID:    uuid.New(),
		Type:  typ,
		Time:  at,
		Token: token,
		Data:  make(map[string]string),
	}
}

func (e Event) withAccount(account common.Address) Event {
	e.Account = &account
	return e
}

func (e Event) withKey(key ledger.PositionKey) Event {
	e.Key = &key
	return e
}
