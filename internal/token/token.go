package token

import "github.com/shopspring/decimal"

// Token defines what pulls cost in one currency.
type Token struct {
	Name      string  // e.g. "Stellar Jade", "Star Stone"
	PerDraw   int64   // currency units per pull, e.g. 160
	BatchSize int     // pulls in one multi-pull; 0 means no multi-pull discount
	Discount  float64 // fraction off a full multi-pull, e.g. 0.1
}

// TokensForDraws returns the cost of n pulls made in one request.
// The discount applies only when n equals BatchSize exactly; the result is floored to whole units.
func (t Token) TokensForDraws(n int) int64 {
	if n <= 0 || t.PerDraw <= 0 {
		return 0
	}
	total := decimal.NewFromInt(t.PerDraw).Mul(decimal.NewFromInt(int64(n)))
	if t.BatchSize > 0 && n == t.BatchSize && t.Discount > 0 {
		total = total.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(t.Discount)))
	}
	return total.Floor().IntPart()
}
