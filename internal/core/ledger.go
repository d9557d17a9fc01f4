package core

import (
	"fmt"
	"math"
)

// ExpenseData maps quinzena keys to accumulated fuel expenses.
type ExpenseData map[string]float64

// Quinzena returns the fuel spent in one half of a month, 0 when absent.
func (x ExpenseData) Quinzena(monthKey string, q Quinzena) float64 {
	return x[QuinzenaKey(monthKey, q)]
}

// Monthly returns the sum of both halves of a month.
func (x ExpenseData) Monthly(monthKey string) float64 {
	return x.Quinzena(monthKey, FirstQuinzena) + x.Quinzena(monthKey, SecondQuinzena)
}

// ValidateExpense checks an expense before it reaches a ledger. Negative
// amounts are accepted as refunds.
func ValidateExpense(monthKey string, q Quinzena, amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	if !q.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidQuinzena, q)
	}
	if _, _, err := ParseMonthKey(monthKey); err != nil {
		return err
	}
	return nil
}

// Add accumulates amount into the quinzena; it never replaces the stored
// value. Invalid input leaves the ledger untouched.
func (x ExpenseData) Add(monthKey string, q Quinzena, amount float64) error {
	if err := ValidateExpense(monthKey, q, amount); err != nil {
		return err
	}
	x[QuinzenaKey(monthKey, q)] += amount
	return nil
}
