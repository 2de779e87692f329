package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rumor-ml/commons.systems/tradesync/internal/domain"
)

var (
	// amountTolerance is the relative slack allowed between amount and
	// quantity × price on domestic trades.
	amountTolerance = decimal.RequireFromString("0.001")
	// amountFloor is the minimum absolute slack, in KRW.
	amountFloor = decimal.NewFromInt(10)

	tickerPattern = regexp.MustCompile(`^[A-Z0-9\-.]{1,10}$`)
)

// ValidationResult contains all validation errors and warnings for a batch
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a trade that must not be written
type ValidationError struct {
	Index   int // position in the checked slice
	ID      string
	Field   string
	Value   string
	Message string
}

// ValidationWarning represents a non-critical validation issue; the trade is
// still written
type ValidationWarning struct {
	Index   int
	ID      string
	Field   string
	Value   string
	Message string
}

// HasErrors reports whether any trade was rejected.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Trades checks every trade and returns the ones that passed, in order.
// domain.Trade.Validate failures are errors and drop the trade. The amount
// cross-check and the ticker format are warnings only.
func Trades(trades []domain.Trade) ([]domain.Trade, *ValidationResult) {
	result := &ValidationResult{
		Errors:   []ValidationError{},
		Warnings: []ValidationWarning{},
	}

	valid := make([]domain.Trade, 0, len(trades))
	for i, t := range trades {
		id := t.Identity().String()
		if err := t.Validate(); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Index:   i,
				ID:      id,
				Message: err.Error(),
			})
			continue
		}
		valid = append(valid, t)

		switch t.Kind {
		case domain.Domestic:
			if w, ok := checkAmount(t); ok {
				w.Index, w.ID = i, id
				result.Warnings = append(result.Warnings, w)
			}
		case domain.Foreign:
			if !tickerPattern.MatchString(strings.ToUpper(t.Code)) {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Index:   i,
					ID:      id,
					Field:   "Code",
					Value:   t.Code,
					Message: fmt.Sprintf("unexpected ticker format: %q", t.Code),
				})
			}
			if !t.FXRate.IsPositive() {
				result.Warnings = append(result.Warnings, ValidationWarning{
					Index:   i,
					ID:      id,
					Field:   "FXRate",
					Value:   t.FXRate.String(),
					Message: "exchange rate is not positive",
				})
			}
		}
	}
	return valid, result
}

// checkAmount compares amount to quantity × price, allowing
// max(0.1% of the expected amount, 10 KRW).
func checkAmount(t domain.Trade) (ValidationWarning, bool) {
	expected := t.Quantity.Mul(t.Price)
	tolerance := decimal.Max(expected.Mul(amountTolerance), amountFloor)
	if t.Amount.Sub(expected).Abs().LessThanOrEqual(tolerance) {
		return ValidationWarning{}, false
	}
	return ValidationWarning{
		Field:   "Amount",
		Value:   t.Amount.String(),
		Message: fmt.Sprintf("amount %s differs from %s × %s = %s", t.Amount, t.Quantity, t.Price, expected),
	}, true
}
