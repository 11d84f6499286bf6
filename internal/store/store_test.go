package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericFloat(t *testing.T) {
	tests := []struct {
		in     Numeric
		want   float64
		wantOK bool
	}{
		{"40.7128", 40.7128, true},
		{" -74.006 ", -74.006, true},
		{"", 0, false},
		{"north", 0, false},
		{"NaN", 0, false},
		{"+Inf", 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.in.Float()
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}

func TestNumericInt(t *testing.T) {
	v, ok := Numeric("1250000.75").Int()
	assert.True(t, ok)
	assert.Equal(t, int64(1250000), v)

	_, ok = Numeric("1e300").Int()
	assert.False(t, ok)
}

func TestNumericIntRange(t *testing.T) {
	tests := []struct {
		in     Numeric
		want   int64
		wantOK bool
	}{
		{"9223372036854775807", 0, false},
		{"9223372036854775808", 0, false},
		{"-9223372036854775808", -9223372036854775808, true},
		{"-9223372036854777856", 0, false},
		{"9007199254740992", 9007199254740992, true},
	}
	for _, tt := range tests {
		got, ok := tt.in.Int()
		assert.Equal(t, tt.wantOK, ok, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
