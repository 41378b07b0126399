package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExchangeOrder_IsProtected(t *testing.T) {
	protected := []string{OrderStatusCompleted, OrderStatusDisputed, OrderStatusRefunded, OrderStatusCancelled}
	for _, status := range protected {
		assert.True(t, (&ExchangeOrder{Status: status}).IsProtected(), status)
		assert.True(t, IsProtectedOrderStatus(status), status)
	}

	open := []string{OrderStatusNew, OrderStatusAwaiting, OrderStatusPaid}
	for _, status := range open {
		assert.False(t, (&ExchangeOrder{Status: status}).IsProtected(), status)
		assert.False(t, IsProtectedOrderStatus(status), status)
	}
}
