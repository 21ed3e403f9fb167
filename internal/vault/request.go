package vault

import (
	"time"

	"github.com/google/uuid"
)

// DepositRequest is a queued subscription. Immutable once enqueued;
// it leaves the queue on settlement or reversal.
type DepositRequest struct {
	Sender     uuid.UUID `json:"sender"`
	Receiver   uuid.UUID `json:"receiver"`
	Assets     int64     `json:"assets"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedeemRequest is a queued redemption. Owner is the principal whose
// shares are escrowed; Caller may differ under delegated allowance;
// Receiver is the payout destination.
type RedeemRequest struct {
	Caller     uuid.UUID `json:"caller"`
	Owner      uuid.UUID `json:"owner"`
	Receiver   uuid.UUID `json:"receiver"`
	Shares     int64     `json:"shares"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DepositBatchPreview is the aggregate view of the next n deposits.
// Shares is converted once over the summed assets.
type DepositBatchPreview struct {
	Assets int64 `json:"assets"`
	Shares int64 `json:"shares"`
}

// RedeemBatchPreview is the per-request-summed view of the next n
// redemptions: net payout, shares burned, and fee withheld.
type RedeemBatchPreview struct {
	NetAssets int64 `json:"net_assets"`
	Shares    int64 `json:"shares"`
	FeeAssets int64 `json:"fee_assets"`
}
