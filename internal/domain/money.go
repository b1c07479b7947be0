package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Money 游戏币金额（整数，单位与服务器一致）
type Money int64

// Decimal converts the amount for exact arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m))
}

// String formats with thousands separators, e.g. 1.250.000 đ.
func (m Money) String() string {
	s := strconv.FormatInt(int64(m), 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	out := b.String() + " đ"
	if neg {
		return "-" + out
	}
	return out
}

// MoneyFromDecimal rounds up to the next whole unit.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money(d.Ceil().IntPart())
}
