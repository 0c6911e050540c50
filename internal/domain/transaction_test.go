package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTradeTotals(t *testing.T) {
	now := time.Now().UTC()
	pid := uuid.New()

	buy, err := NewTrade(pid, "AAPL", TransactionBuy, dec("10"), dec("100"), dec("9.99"), now)
	require.NoError(t, err)
	assert.Equal(t, TransactionBuy, buy.Type)
	assert.Equal(t, TransactionPending, buy.Status)
	assert.NotEmpty(t, buy.Reference)
	require.NotNil(t, buy.Trade)
	assertDec(t, "1009.99", buy.TotalAmount)

	sell, err := NewTrade(pid, "AAPL", TransactionSell, dec("10"), dec("100"), dec("9.99"), now)
	require.NoError(t, err)
	assertDec(t, "990.01", sell.TotalAmount)

	assert.NotEqual(t, buy.Reference, sell.Reference)
}

func TestNewTradeRejectsBadInput(t *testing.T) {
	now := time.Now().UTC()
	pid := uuid.New()

	_, err := NewTrade(pid, "AAPL", TransactionDividend, dec("1"), dec("1"), dec("0"), now)
	assert.Error(t, err)

	_, err = NewTrade(pid, "AAPL", TransactionBuy, dec("0"), dec("1"), dec("0"), now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = NewTrade(pid, "AAPL", TransactionBuy, dec("1"), dec("1"), dec("-1"), now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestNewDividend(t *testing.T) {
	now := time.Now().UTC()

	txn, err := NewDividend(uuid.New(), "AAPL", dec("25.50"), now)
	require.NoError(t, err)
	assert.Equal(t, TransactionDividend, txn.Type)
	require.NotNil(t, txn.Dividend)
	assertDec(t, "25.50", txn.TotalAmount)
	assert.Nil(t, txn.Trade)

	_, err = NewDividend(uuid.New(), "AAPL", dec("0"), now)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestNewFee(t *testing.T) {
	now := time.Now().UTC()

	txn, err := NewFee(uuid.New(), dec("12.34"), "advisory fee Q3", now)
	require.NoError(t, err)
	assert.Equal(t, TransactionFee, txn.Type)
	require.NotNil(t, txn.Fee)
	assert.Equal(t, "advisory fee Q3", txn.Fee.Memo)
	assertDec(t, "12.34", txn.TotalAmount)
}

func TestStatusTransitionsAreOneWay(t *testing.T) {
	now := time.Now().UTC()

	txn, err := NewFee(uuid.New(), dec("1"), "", now)
	require.NoError(t, err)
	assert.False(t, txn.Terminal())

	require.NoError(t, txn.Complete())
	assert.True(t, txn.Terminal())
	assert.Equal(t, TransactionCompleted, txn.Status)

	// Terminal entries admit no further transitions.
	assert.ErrorIs(t, txn.Cancel(), ErrTerminalState)
	assert.ErrorIs(t, txn.MarkFailed(), ErrTerminalState)
	assert.Equal(t, TransactionCompleted, txn.Status)
}

func TestCancelAndFail(t *testing.T) {
	now := time.Now().UTC()

	txn, _ := NewFee(uuid.New(), dec("1"), "", now)
	require.NoError(t, txn.Cancel())
	assert.Equal(t, TransactionCancelled, txn.Status)
	assert.ErrorIs(t, txn.Complete(), ErrTerminalState)

	txn2, _ := NewFee(uuid.New(), dec("1"), "", now)
	require.NoError(t, txn2.MarkFailed())
	assert.Equal(t, TransactionFailed, txn2.Status)
}
