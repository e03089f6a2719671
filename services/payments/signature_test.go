package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedSignature(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("order_abc|pay_xyz"))
	want := hex.EncodeToString(mac.Sum(nil))

	got := ExpectedSignature("secret", "order_abc", "pay_xyz")

	assert.Equal(t, want, got)
	assert.Len(t, got, 64)
	assert.Equal(t, strings.ToLower(got), got)
}

func TestVerifySignature(t *testing.T) {
	valid := ExpectedSignature("secret", "order_abc", "pay_xyz")

	tests := []struct {
		name      string
		secret    string
		orderID   string
		paymentID string
		signature string
		want      bool
	}{
		{"valid", "secret", "order_abc", "pay_xyz", valid, true},
		{"wrong secret", "other", "order_abc", "pay_xyz", valid, false},
		{"swapped ids", "secret", "pay_xyz", "order_abc", valid, false},
		{"other payment", "secret", "order_abc", "pay_other", valid, false},
		{"last char flipped", "secret", "order_abc", "pay_xyz", valid[:63] + flip(valid[63]), false},
		{"upper case hex", "secret", "order_abc", "pay_xyz", strings.ToUpper(valid), false},
		{"empty signature", "secret", "order_abc", "pay_xyz", "", false},
		{"empty secret", "", "order_abc", "pay_xyz", ExpectedSignature("", "order_abc", "pay_xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.secret, tt.orderID, tt.paymentID, tt.signature))
		})
	}
}

func flip(c byte) string {
	if c == '0' {
		return "1"
	}
	return "0"
}
