package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOrderStatusTerminal(t *testing.T) {
	require.True(t, OrderStatusTerminal(OrderStatusCompleted))
	require.True(t, OrderStatusTerminal(OrderStatusCancelled))
	require.False(t, OrderStatusTerminal(OrderStatusWaiting))
	require.False(t, OrderStatusTerminal(OrderStatusPaidByClient))
	require.False(t, OrderStatusTerminal(OrderStatusProblem))
	require.False(t, OrderStatusTerminal(OrderStatusErrorRequisites))
}

func TestOrderProviderID(t *testing.T) {
	order := Order{Data: OrderData{PspwareID: "psp-42"}}
	provider, id := order.ProviderID()
	require.Equal(t, "PSPWare", provider)
	require.Equal(t, "psp-42", id)

	empty := Order{}
	provider, id = empty.ProviderID()
	require.Empty(t, provider)
	require.Empty(t, id)
}
