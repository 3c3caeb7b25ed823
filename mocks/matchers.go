package mocks

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
)

type decimalEq struct {
	want decimal.Decimal
}

// DecimalEq matches a decimal.Decimal numerically equal to want, ignoring
// exponent differences that defeat gomock.Eq.
func DecimalEq(want decimal.Decimal) gomock.Matcher {
	return decimalEq{want: want}
}

func (m decimalEq) Matches(x any) bool {
	got, ok := x.(decimal.Decimal)
	return ok && got.Equal(m.want)
}

func (m decimalEq) String() string {
	return fmt.Sprintf("is decimal equal to %s", m.want)
}
