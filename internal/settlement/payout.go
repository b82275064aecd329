package settlement

import (
	"math/bits"

	"github.com/alanyoungcy/privymarket/internal/domain"
)

// Bonus returns a winner's share of the losing pool:
//
//	floor(amount * losing / winning)
//
// winning is the final revealed winning pool, so amount <= winning and the
// result never exceeds losing. It returns 0 when winning is 0.
func Bonus(amount, losing, winning uint64) uint64 {
	if winning == 0 || amount == 0 || losing == 0 {
		return 0
	}
	hi, lo := bits.Mul64(amount, losing)
	if hi >= winning {
		// amount > winning; cannot happen for a revealed winner.
		return losing
	}
	q, _ := bits.Div64(hi, lo, winning)
	return q
}

// TotalReceived is what a winner receives over the life of the market: the
// stake returned at claim plus the bonus paid at finalization.
func TotalReceived(amount, losing, winning uint64) uint64 {
	return amount + Bonus(amount, losing, winning)
}

func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, domain.ErrOverflow
	}
	return sum, nil
}
