package domain

import "errors"

var (
	ErrPortfolioNotFound  = errors.New("portfolio not found")
	ErrPositionNotFound   = errors.New("position not found")
	ErrPortfolioArchived  = errors.New("portfolio is archived")
	ErrInvalidQuantity    = errors.New("invalid quantity or price")
	ErrInvalidTicker      = errors.New("invalid ticker symbol")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInsufficientCash   = errors.New("insufficient cash balance")
	ErrPersistence        = errors.New("persistence failure")
	ErrReconciliation     = errors.New("position does not reconcile")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrTerminalState      = errors.New("transaction already in terminal state")
)
