// Package db holds the database models and the hand-written queries the
// pipeline runs against Postgres. The Querier interface is what every
// consumer depends on; tests substitute an in-memory stub.
package db

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need. Queries works
// identically inside and outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the concrete Querier backed by a DBTX.
type Queries struct {
	db DBTX
}

// New creates a Queries over a connection pool or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries scoped to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Querier is the query surface of the invoice database.
type Querier interface {
	// ListPendingInvoices returns every invoice that is checked, unsent, and
	// not soft-deleted. An empty result is a normal, successful outcome.
	ListPendingInvoices(ctx context.Context) ([]Invoice, error)

	// GetInvoiceDetails calls sfs.pr_get_invoice_details. One row is expected
	// per invoice; callers use the first.
	GetInvoiceDetails(ctx context.Context, arg GetInvoiceDetailsParams) ([]InvoiceDetail, error)

	// GetInvoiceCharges calls sfs.pr_get_invoice_charges and returns the
	// charge lines for one invoice in charge-number order.
	GetInvoiceCharges(ctx context.Context, invoiceNumber string) ([]InvoiceCharge, error)

	// GetEmailSettingByCode returns template rows keyed by (invoice type,
	// package code). The code comparison is case-insensitive.
	GetEmailSettingByCode(ctx context.Context, arg GetEmailSettingByCodeParams) ([]EmailSetting, error)

	// GetEmailSettingDefault returns template rows for the invoice type where
	// no package code is configured (code IS NULL).
	GetEmailSettingDefault(ctx context.Context, invoiceType string) ([]EmailSetting, error)

	// GetMailingList calls sfs.pr_get_mailing_list and returns the recipient
	// rows for one invoice's client and list type.
	GetMailingList(ctx context.Context, arg GetMailingListParams) ([]MailingListEntry, error)

	// MarkInvoiceSent stamps date_send and the audit columns on the invoice.
	MarkInvoiceSent(ctx context.Context, arg MarkInvoiceSentParams) error

	// InsertEmailLog records one delivered email, including the rendered
	// message payload, for auditing duplicate sends.
	InsertEmailLog(ctx context.Context, arg InsertEmailLogParams) (EmailLog, error)
}

var _ Querier = (*Queries)(nil)
