package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := map[string]int64{
		"0":      0,
		"12.50":  1250,
		"19.99":  1999,
		"0.005":  1,
		"100":    10000,
		"3.3333": 333,
	}
	for in, want := range tests {
		assert.Equal(t, want, MinorUnits(decimal.RequireFromString(in)), in)
	}
	assert.Equal(t, "12.5", FromMinorUnits(1250).String())
}
