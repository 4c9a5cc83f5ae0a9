package repository

import "finsync/internal/core"

// DefaultTransactions are the sample records a new account starts with.
func DefaultTransactions() []core.Transaction {
	return []core.Transaction{
		{Title: "Pago de salario", Description: "Depósito mensual de tu trabajo", AmountCents: 145000, Type: core.Income, Category: "Salario", Date: "2024-10-05", MonthKey: "2024-10"},
		{Title: "Supermercado", Description: "Compra semanal", AmountCents: 21050, Type: core.Expense, Category: "Alimentos", Date: "2024-10-06", MonthKey: "2024-10"},
		{Title: "Freelance diseño", Description: "Proyecto UX/UI", AmountCents: 38000, Type: core.Income, Category: "Freelance", Date: "2024-10-07", MonthKey: "2024-10"},
		{Title: "Suscripción streaming", Description: "Plan familiar", AmountCents: 1299, Type: core.Expense, Category: "Entretenimiento", Date: "2024-10-08", MonthKey: "2024-10"},
		{Title: "Cena con amigos", Description: "Restaurante centro", AmountCents: 4825, Type: core.Expense, Category: "Social", Date: "2024-10-08", MonthKey: "2024-10"},
		{Title: "Intereses cuenta", Description: "Rendimiento mensual", AmountCents: 2575, Type: core.Income, Category: "Inversiones", Date: "2024-10-09", MonthKey: "2024-10"},
	}
}

// DefaultBudgets are the budget goals a new account starts with.
func DefaultBudgets() []core.BudgetGoal {
	return []core.BudgetGoal{
		{Category: "Alimentos", LimitCents: 30000, IconKey: "food"},
		{Category: "Entretenimiento", LimitCents: 12000, IconKey: "entertainment"},
		{Category: "Social", LimitCents: 15000, IconKey: "social"},
		{Category: "Inversiones", LimitCents: 20000, IconKey: "investments"},
	}
}
