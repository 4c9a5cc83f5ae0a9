// Package insights turns monthly aggregates and budgets into progress
// figures and short advice strings.
package insights

import (
	"fmt"
	"maps"
	"slices"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"finsync/internal/aggregate"
	"finsync/internal/core"
)

type Category string

const (
	CategorySavings     Category = "savings"
	CategoryWarning     Category = "warning"
	CategoryExpense     Category = "expense"
	CategoryBudget      Category = "budget"
	CategoryOpportunity Category = "opportunity"
)

// Insight is one piece of advice shown to the user.
type Insight struct {
	ID       string
	Title    string
	Message  string
	Category Category
}

const budgetWarningRatio = 0.75

var printer = message.NewPrinter(language.Spanish)

// FormatAmount renders cents as whole pesos with Spanish grouping, for
// example "$1.450 CLP". Fractions are truncated.
func FormatAmount(cents int64) string {
	return printer.Sprintf("$%d CLP", cents/100)
}

// BudgetProgress pairs every budget with the month's spend in its category.
// Budgets keep their order.
func BudgetProgress(agg aggregate.Monthly, budgets []core.BudgetGoal) []core.BudgetProgress {
	out := make([]core.BudgetProgress, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, core.BudgetProgress{
			Category:   b.Category,
			LimitCents: b.LimitCents,
			SpentCents: agg.ExpensesByCategory[b.Category],
		})
	}
	return out
}

// Generate builds the insights for one month. A month without movements
// has none.
func Generate(agg aggregate.Monthly, progress []core.BudgetProgress) []Insight {
	if agg.TotalIncome == 0 && agg.TotalExpense == 0 {
		return nil
	}

	var out []Insight
	net := agg.Net()
	if net >= 0 {
		out = append(out, Insight{
			ID:       "savings",
			Title:    "Ritmo de ahorro positivo",
			Message:  fmt.Sprintf("Podrías ahorrar aproximadamente %s en los próximos 3 meses si mantienes el ritmo actual.", FormatAmount(net*3)),
			Category: CategorySavings,
		})
	} else {
		out = append(out, Insight{
			ID:       "overspend",
			Title:    "Gasto por encima de los ingresos",
			Message:  fmt.Sprintf("Estás gastando %s más de lo que ingresas este mes. Ajusta tus presupuestos para evitar pérdidas.", FormatAmount(-net)),
			Category: CategoryWarning,
		})
	}

	if category, amount, ok := topCategory(agg.ExpensesByCategory); ok {
		out = append(out, Insight{
			ID:       "topCategory",
			Title:    "Mayor gasto en " + category,
			Message:  fmt.Sprintf("Has invertido %s en %s este mes. Considera establecer un límite específico.", FormatAmount(amount), category),
			Category: CategoryExpense,
		})
	}

	seen := map[string]bool{}
	for _, p := range progress {
		ratio := p.Ratio()
		if ratio < budgetWarningRatio || seen[p.Category] {
			continue
		}
		seen[p.Category] = true

		msg := fmt.Sprintf("Ya consumiste el %d%% de tu meta mensual en %s. Reduce el ritmo para evitar sobrepasarla.", int(ratio*100), p.Category)
		if ratio >= 1 {
			msg = fmt.Sprintf("Has superado el 100%% del límite (%s). Ajusta tus gastos cuanto antes.", FormatAmount(p.LimitCents))
		}
		out = append(out, Insight{
			ID:       "budget-" + p.Category,
			Title:    "Alerta en " + p.Category,
			Message:  msg,
			Category: CategoryBudget,
		})
	}

	if net > 0 {
		// 20% of the monthly surplus over twelve months.
		out = append(out, Insight{
			ID:       "investment",
			Title:    "Multiplica tus ahorros",
			Message:  fmt.Sprintf("Si destinas el 20%% de tu ahorro mensual a inversiones podrías sumar cerca de %s en un año.", FormatAmount(net*12/5)),
			Category: CategoryOpportunity,
		})
	}
	return out
}

// topCategory returns the category with the largest amount. Ties go to the
// alphabetically first category.
func topCategory(amounts map[string]int64) (string, int64, bool) {
	var (
		best   string
		amount int64
		found  bool
	)
	for _, k := range slices.Sorted(maps.Keys(amounts)) {
		if !found || amounts[k] > amount {
			best, amount, found = k, amounts[k], true
		}
	}
	return best, amount, found
}
