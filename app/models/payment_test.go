package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaymentIsTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{PaymentStatusPending, false},
		{PaymentStatusSuccess, true},
		{PaymentStatusFailed, true},
	}

	for _, tt := range tests {
		p := &Payment{Status: tt.status}
		assert.Equal(t, tt.want, p.IsTerminal(), tt.status)
	}
}
