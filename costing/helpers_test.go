package costing_test

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, context ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s %s", want, got.String(), fmt.Sprint(context...))
}
