package event

import "github.com/google/uuid"

// EventType discriminator for settlement event payloads.
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePriceUpdated
	EventTypeWithdrawalFeeUpdated
	EventTypeDepositQueued
	EventTypeDepositSettled
	EventTypeDepositReverted
	EventTypeRedeemQueued
	EventTypeRedeemSettled
	EventTypeRedeemReverted
	EventTypeSwept
)

func (et EventType) String() string {
	switch et {
	case EventTypePriceUpdated:
		return "PriceUpdated"
	case EventTypeWithdrawalFeeUpdated:
		return "WithdrawalFeeUpdated"
	case EventTypeDepositQueued:
		return "DepositQueued"
	case EventTypeDepositSettled:
		return "DepositSettled"
	case EventTypeDepositReverted:
		return "DepositReverted"
	case EventTypeRedeemQueued:
		return "RedeemQueued"
	case EventTypeRedeemSettled:
		return "RedeemSettled"
	case EventTypeRedeemReverted:
		return "RedeemReverted"
	case EventTypeSwept:
		return "Swept"
	default:
		return "Unknown"
	}
}

// PriceUpdated is emitted when the operator publishes a new valuation.
type PriceUpdated struct {
	Price int64 `json:"price"`
}

// WithdrawalFeeUpdated is emitted when the operator changes the fee rate.
type WithdrawalFeeUpdated struct {
	Rate int64 `json:"rate"`
}

// DepositQueued is emitted when a deposit request enters the queue.
type DepositQueued struct {
	Sender   uuid.UUID `json:"sender"`
	Receiver uuid.UUID `json:"receiver"`
	Assets   int64     `json:"assets"`
}

// DepositSettled is emitted once per deposit settled by a processing batch.
type DepositSettled struct {
	Sender uuid.UUID `json:"sender"`
	Owner  uuid.UUID `json:"owner"`
	Assets int64     `json:"assets"`
	Shares int64     `json:"shares"`
}

// DepositReverted is emitted when the operator cancels the front deposit.
type DepositReverted struct {
	Sender uuid.UUID `json:"sender"`
	Assets int64     `json:"assets"`
}

// RedeemQueued is emitted when a redeem request enters the queue.
type RedeemQueued struct {
	Caller   uuid.UUID `json:"caller"`
	Owner    uuid.UUID `json:"owner"`
	Receiver uuid.UUID `json:"receiver"`
	Shares   int64     `json:"shares"`
}

// RedeemSettled is emitted once per redemption settled by a processing
// batch. Assets is the net payout after the withdrawal fee.
type RedeemSettled struct {
	Caller   uuid.UUID `json:"caller"`
	Receiver uuid.UUID `json:"receiver"`
	Owner    uuid.UUID `json:"owner"`
	Assets   int64     `json:"assets"`
	Shares   int64     `json:"shares"`
}

// RedeemReverted is emitted when the operator cancels the front redemption.
type RedeemReverted struct {
	Owner  uuid.UUID `json:"owner"`
	Shares int64     `json:"shares"`
}

// Swept is emitted when the operator sweeps a stray token balance.
type Swept struct {
	Token  string `json:"token"`
	Amount int64  `json:"amount"`
}
