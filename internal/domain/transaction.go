package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType identifies the ledger event a transaction records.
type TransactionType string

const (
	TransactionBuy      TransactionType = "BUY"
	TransactionSell     TransactionType = "SELL"
	TransactionDividend TransactionType = "DIVIDEND"
	TransactionFee      TransactionType = "FEE"
)

// TransactionStatus is the lifecycle state of a journal entry. A transaction
// is created PENDING and transitions exactly once to a terminal state;
// terminal entries are never mutated. Corrections are new entries.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionCancelled TransactionStatus = "CANCELLED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// TradeDetail carries the fields specific to BUY and SELL entries.
type TradeDetail struct {
	Shares        decimal.Decimal
	PricePerShare decimal.Decimal
	Fee           decimal.Decimal
}

// DividendDetail carries the fields specific to DIVIDEND entries.
type DividendDetail struct {
	Amount decimal.Decimal
}

// FeeDetail carries the fields specific to standalone FEE entries.
type FeeDetail struct {
	Amount decimal.Decimal
	Memo   string
}

// Transaction is one immutable journal entry. Exactly one of the detail
// fields is set, matching Type; there is no loose key/value bag.
type Transaction struct {
	ID          uuid.UUID
	PortfolioID uuid.UUID
	Ticker      string
	Type        TransactionType
	Status      TransactionStatus
	Reference   string // unique reference number
	Trade       *TradeDetail
	Dividend    *DividendDetail
	Fee         *FeeDetail
	TotalAmount decimal.Decimal
	OccurredAt  time.Time
	CreatedAt   time.Time
}

// NewTrade builds a PENDING BUY or SELL entry. The total amount is
// shares*price + fee for a buy and shares*price - fee for a sell.
func NewTrade(portfolioID uuid.UUID, ticker string, typ TransactionType, shares, pricePerShare, fee decimal.Decimal, now time.Time) (Transaction, error) {
	if typ != TransactionBuy && typ != TransactionSell {
		return Transaction{}, fmt.Errorf("new trade: type %s is not a trade", typ)
	}
	if shares.Sign() <= 0 || pricePerShare.Sign() <= 0 || fee.Sign() < 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	gross := shares.Mul(pricePerShare)
	total := gross.Add(fee)
	if typ == TransactionSell {
		total = gross.Sub(fee)
	}
	return Transaction{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Type:        typ,
		Status:      TransactionPending,
		Reference:   uuid.NewString(),
		Trade: &TradeDetail{
			Shares:        RoundShares(shares),
			PricePerShare: RoundBasis(pricePerShare),
			Fee:           RoundMoney(fee),
		},
		TotalAmount: RoundMoney(total),
		OccurredAt:  now,
		CreatedAt:   now,
	}, nil
}

// NewDividend builds a PENDING DIVIDEND entry.
func NewDividend(portfolioID uuid.UUID, ticker string, amount decimal.Decimal, now time.Time) (Transaction, error) {
	if amount.Sign() <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	return Transaction{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Ticker:      ticker,
		Type:        TransactionDividend,
		Status:      TransactionPending,
		Reference:   uuid.NewString(),
		Dividend:    &DividendDetail{Amount: RoundMoney(amount)},
		TotalAmount: RoundMoney(amount),
		OccurredAt:  now,
		CreatedAt:   now,
	}, nil
}

// NewFee builds a PENDING standalone FEE entry (e.g. an advisory charge).
func NewFee(portfolioID uuid.UUID, amount decimal.Decimal, memo string, now time.Time) (Transaction, error) {
	if amount.Sign() <= 0 {
		return Transaction{}, ErrInvalidQuantity
	}
	return Transaction{
		ID:          uuid.New(),
		PortfolioID: portfolioID,
		Type:        TransactionFee,
		Status:      TransactionPending,
		Reference:   uuid.NewString(),
		Fee:         &FeeDetail{Amount: RoundMoney(amount), Memo: memo},
		TotalAmount: RoundMoney(amount),
		OccurredAt:  now,
		CreatedAt:   now,
	}, nil
}

// Terminal reports whether the status admits no further transitions.
func (t *Transaction) Terminal() bool {
	return t.Status == TransactionCompleted || t.Status == TransactionCancelled || t.Status == TransactionFailed
}

func (t *Transaction) transition(to TransactionStatus) error {
	if t.Terminal() {
		return fmt.Errorf("transaction %s: %s -> %s: %w", t.Reference, t.Status, to, ErrTerminalState)
	}
	t.Status = to
	return nil
}

// Complete marks the entry COMPLETED.
func (t *Transaction) Complete() error { return t.transition(TransactionCompleted) }

// Cancel marks the entry CANCELLED.
func (t *Transaction) Cancel() error { return t.transition(TransactionCancelled) }

// MarkFailed marks the entry FAILED.
func (t *Transaction) MarkFailed() error { return t.transition(TransactionFailed) }
