package vault

import (
	"fmt"
	"math"
)

// Checked int64 arithmetic. Every amount and timestamp computation goes
// through these helpers; overflow aborts the operation instead of wrapping.

func addInt64(left int64, right int64) (int64, error) {
	if right > 0 && left > math.MaxInt64-right {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, left, right)
	}
	if right < 0 && left < math.MinInt64-right {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, left, right)
	}
	return left + right, nil
}

func subInt64(left int64, right int64) (int64, error) {
	if right > 0 && left < math.MinInt64+right {
		return 0, fmt.Errorf("%w: %d - %d", ErrAmountOverflow, left, right)
	}
	if right < 0 && left > math.MaxInt64+right {
		return 0, fmt.Errorf("%w: %d - %d", ErrAmountOverflow, left, right)
	}
	return left - right, nil
}

func mulInt64(left int64, right int64) (int64, error) {
	if left == 0 || right == 0 {
		return 0, nil
	}
	product := left * right
	if (right == -1 && left == math.MinInt64) || product/right != left {
		return 0, fmt.Errorf("%w: %d * %d", ErrAmountOverflow, left, right)
	}
	return product, nil
}

func addTimestamp(nowUnix int64, deltaSeconds int64) (int64, error) {
	sum, err := addInt64(nowUnix, deltaSeconds)
	if err != nil {
		return 0, fmt.Errorf("%w: %d + %d", ErrTimeOverflow, nowUnix, deltaSeconds)
	}
	return sum, nil
}

func addAmount(left Amount, right Amount) (Amount, error) {
	sum, err := addInt64(left.Int64(), right.Int64())
	if err != nil {
		return 0, err
	}
	return Amount(sum), nil
}
