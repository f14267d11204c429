package user

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTier(t *testing.T) {
	level1 := Tier{Level: 1, PrepaymentPercentage: 0, DailyUploadLimit: 7}
	level2 := Tier{Level: 2, PrepaymentPercentage: 1, DailyUploadLimit: 7}
	level3 := Tier{Level: 3, PrepaymentPercentage: 3, DailyUploadLimit: Unlimited}

	tests := []struct {
		total int
		want  Tier
	}{
		{0, level1},
		{1, level1},
		{49, level1},
		{50, level2},
		{51, level2},
		{99, level2},
		{100, level3},
		{101, level3},
		{10_000, level3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("total=%d", tt.total), func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTier(tt.total))
		})
	}
}

func TestComputeTier_Ranges(t *testing.T) {
	for total := range 200 {
		got := ComputeTier(total)
		switch {
		case total < 50:
			assert.Equal(t, 1, got.Level, "total=%d", total)
		case total < 100:
			assert.Equal(t, 2, got.Level, "total=%d", total)
		default:
			assert.Equal(t, 3, got.Level, "total=%d", total)
		}
	}
}

func TestDailyLimit_Allows(t *testing.T) {
	assert.True(t, DailyLimit(7).Allows(0))
	assert.True(t, DailyLimit(7).Allows(6))
	assert.False(t, DailyLimit(7).Allows(7))
	assert.False(t, DailyLimit(7).Allows(8))

	assert.True(t, Unlimited.Allows(0))
	assert.True(t, Unlimited.Allows(1_000_000))
}

func TestDailyLimit_String(t *testing.T) {
	assert.Equal(t, "7", DailyLimit(7).String())
	assert.Equal(t, "unlimited", Unlimited.String())
}
