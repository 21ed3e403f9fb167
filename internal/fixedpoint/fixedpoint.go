package fixedpoint

import (
	"errors"
	"math/big"
	"sync"
)

// Scales for the two fixed-point domains used by the vault.
const (
	// PriceScale is the assets-per-share rate scale: price 1e18 == 1.0.
	PriceScale int64 = 1_000_000_000_000_000_000

	// FeeScale is the withdrawal fee rate scale: 1e6 == 100%.
	FeeScale int64 = 1_000_000
)

var (
	// ErrZeroPrice is returned when a conversion is attempted before
	// any valuation has been published.
	ErrZeroPrice = errors.New("fixedpoint: price is zero")

	// ErrOverflow is returned when an exact conversion result does not
	// fit in int64. Truncating would mint or pay out a garbage amount.
	ErrOverflow = errors.New("fixedpoint: result exceeds int64 range")
)

// Intermediate products exceed int64 (amount * 1e18), so all
// multiply-then-divide steps go through big.Int. The pool avoids
// allocating on every conversion in the settlement loop.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// mulDivFloor computes floor(a * b / d) for non-negative operands.
// big.Int Quo truncates toward zero, which is floor for non-negative
// values. The vault never rounds in favor of the holder. Quotients
// outside int64 fail with ErrOverflow; Int64() on an oversized value
// would silently wrap.
func mulDivFloor(a, b, d int64) (int64, error) {
	num := getInt()
	den := getInt()
	defer putInt(num)
	defer putInt(den)

	num.Mul(num.SetInt64(a), den.SetInt64(b))
	num.Quo(num, den.SetInt64(d))
	if !num.IsInt64() {
		return 0, ErrOverflow
	}
	return num.Int64(), nil
}

// ConvertToShares returns floor(assets * 1e18 / price).
func ConvertToShares(assets, price int64) (int64, error) {
	if price == 0 {
		return 0, ErrZeroPrice
	}
	return mulDivFloor(assets, PriceScale, price)
}

// ConvertToAssets returns floor(shares * price / 1e18).
func ConvertToAssets(shares, price int64) (int64, error) {
	if price == 0 {
		return 0, ErrZeroPrice
	}
	return mulDivFloor(shares, price, PriceScale)
}

// NetOfFee returns floor(assets * (1e6 - feeRate) / 1e6), the payout
// remaining after the withdrawal haircut. The caller validates
// feeRate <= FeeScale, so the result is at most assets and cannot
// overflow.
func NetOfFee(assets, feeRate int64) int64 {
	if feeRate == 0 {
		return assets
	}
	net, _ := mulDivFloor(assets, FeeScale-feeRate, FeeScale)
	return net
}
