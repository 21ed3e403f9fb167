package vault

import "errors"

var (
	// ErrZeroAmount rejects zero-valued deposit and redeem submissions.
	ErrZeroAmount = errors.New("vault: amount must be positive")

	// ErrStalePrice rejects settlement of requests enqueued after the
	// current price was published.
	ErrStalePrice = errors.New("vault: price is outdated")

	// ErrQueueEmpty rejects a reversal when nothing is queued.
	ErrQueueEmpty = errors.New("vault: queue is empty")

	// ErrInvalidFeeRate rejects withdrawal fee rates above 100%.
	ErrInvalidFeeRate = errors.New("vault: withdrawal fee rate exceeds 100%")
)
