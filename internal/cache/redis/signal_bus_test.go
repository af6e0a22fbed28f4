package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPattern(t *testing.T) {
	cases := []struct {
		channel string
		want    bool
	}{
		{"orders.BTC-USDT", false},
		{"orders.*", true},
		{"orders.BTC-USD?", true},
		{"orders.[ab]", true},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, hasPattern(tc.channel), tc.channel)
	}
}
