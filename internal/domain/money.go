package domain

import "github.com/shopspring/decimal"

// Declared scales for the ledger's decimal fields. Every stored value is
// rounded half-up at its field's scale, so reconciliation checks compare
// like with like.
const (
	ScaleShares = 6 // share quantities
	ScaleBasis  = 4 // per-share cost basis
	ScaleMoney  = 2 // monetary amounts (values, fees, dividends)
)

// basisTolerance bounds the drift allowed between the stored total cost and
// shares*averageCostBasis after independent rounding. halfBasisQuantum is
// the largest rounding error a single share can carry in the stored basis;
// reconciliation scales its tolerance by it, since on large low-priced
// positions the per-share rounding compounds well past the fixed tolerance.
var (
	basisTolerance   = decimal.New(1, -ScaleMoney)     // 0.01
	halfBasisQuantum = decimal.New(5, -(ScaleBasis + 1)) // 0.00005
)

func RoundShares(d decimal.Decimal) decimal.Decimal { return d.Round(ScaleShares) }
func RoundBasis(d decimal.Decimal) decimal.Decimal  { return d.Round(ScaleBasis) }
func RoundMoney(d decimal.Decimal) decimal.Decimal  { return d.Round(ScaleMoney) }
