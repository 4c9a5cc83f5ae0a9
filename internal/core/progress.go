package core

// BudgetProgress is the spend of one budget category against its limit for
// a month.
type BudgetProgress struct {
	Category   string
	LimitCents int64
	SpentCents int64
}

// Ratio is spent/limit. A zero limit yields 0.
func (p BudgetProgress) Ratio() float64 {
	if p.LimitCents <= 0 {
		return 0
	}
	return float64(p.SpentCents) / float64(p.LimitCents)
}
