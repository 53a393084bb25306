// Package billing holds the pure business rules of the auto-send run: charge
// aggregation, subject/body composition, mailing-list-type derivation, and
// recipient partitioning. It imports nothing from db, email, or notify so the
// rules can be tested without any I/O.
package billing

import (
	"database/sql"
	"errors"
)

// ErrNoCharges is returned when an invoice has zero charge lines. Every
// invoice is expected to carry at least one.
var ErrNoCharges = errors.New("billing: invoice has no charge lines")

// ChargeLine is one charge of an invoice. Amount and Tax mirror the nullable
// schema columns; a null contributes zero.
type ChargeLine struct {
	Amount sql.NullFloat64
	Tax    sql.NullFloat64
}

// Accumulator carries the running charge total for one whole run. The total
// is never reset between invoices: each invoice's subject shows the sum of
// every charge processed so far in the batch, including its own.
type Accumulator struct {
	total float64
}

// AddCharges folds one invoice's charge lines into the running total and
// returns the total as of this invoice. An empty line set fails with
// ErrNoCharges.
func (a *Accumulator) AddCharges(lines []ChargeLine) (float64, error) {
	if len(lines) == 0 {
		return 0, ErrNoCharges
	}
	for _, line := range lines {
		if line.Amount.Valid {
			a.total += line.Amount.Float64
		}
		if line.Tax.Valid {
			a.total += line.Tax.Float64
		}
	}
	return a.total, nil
}

// Total returns the running total without adding anything.
func (a *Accumulator) Total() float64 {
	return a.total
}
