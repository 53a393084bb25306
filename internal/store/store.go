// Package store wraps db.Querier with transaction support and groups the
// multi-step write operations that must execute atomically.
//
// Single-query reads (ListPendingInvoices, GetInvoiceCharges, etc.) should be
// called directly on db.Querier in the pipeline — there is no value in
// proxying them through this package.
//
// Dependency rule: store imports db only. It never imports pipeline, billing,
// email, or notify.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/hscfreight/invoice-mailer/internal/db"
)

// systemID is the audit identity stamped into modified_by for every write
// this batch job performs.
const systemID = "SYSBATCHAUTO"

// Store holds a *sql.DB for starting transactions and a db.Querier for
// executing queries outside of transactions.
type Store struct {
	// pool is the raw connection pool, used only to begin transactions.
	pool *sql.DB

	// q is the Querier used for non-transactional calls.
	q db.Querier
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified (e.g. via PingContext) before calling New.
func New(pool *sql.DB, q db.Querier) *Store {
	return &Store{pool: pool, q: q}
}

// Q exposes the underlying Querier so callers can run single-query reads
// without going through a store method.
func (s *Store) Q() db.Querier {
	return s.q
}

// txQuerier is a function that receives a transactional Querier and returns
// an error. Returning a non-nil error causes withTx to roll back.
type txQuerier func(ctx context.Context, q db.Querier) error

// withTx begins a transaction, passes a Querier scoped to that transaction to
// fn, and commits on success or rolls back on any error (including panics).
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	tx, err := s.pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	// Roll back on panic so the connection is never left in a broken state.
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // re-panic after rollback
		}
	}()

	txQ := s.q.(*db.Queries).WithTx(tx)

	if err := fn(ctx, txQ); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			// Wrap both errors so the caller sees both failure reasons.
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// ─── RECORD SENT ─────────────────────────────────────────────────────────────

// RecordSentParams is everything the pipeline hands to the store once the
// mail transport has accepted an invoice's email.
type RecordSentParams struct {
	InvoiceNumber string
	SentTo        string // semicolon-delimited To list
	CcTo          string
	BccTo         string
	Payload       json.RawMessage // rendered message snapshot; may be nil
}

// RecordSent is called by the pipeline after a successful send. It atomically:
//
//  1. Stamps date_send and the audit columns on the invoice.
//  2. Inserts one email_log row with the rendered message payload.
//
// If either step fails the whole transaction rolls back, the invoice stays
// pending, and the run aborts. The send itself has already happened at that
// point, so an abort here means the next run can deliver a duplicate — the
// email_log rows are what operators use to audit that.
func (s *Store) RecordSent(ctx context.Context, p RecordSentParams) (db.EmailLog, error) {
	var logRow db.EmailLog

	err := s.withTx(ctx, func(ctx context.Context, q db.Querier) error {
		if err := q.MarkInvoiceSent(ctx, db.MarkInvoiceSentParams{
			InvoiceNumber: p.InvoiceNumber,
			ModifiedBy:    systemID,
		}); err != nil {
			return fmt.Errorf("RecordSent: mark invoice sent: %w", err)
		}

		inserted, err := q.InsertEmailLog(ctx, db.InsertEmailLogParams{
			ID:            uuid.New(),
			InvoiceNumber: p.InvoiceNumber,
			SentTo:        p.SentTo,
			CcTo:          p.CcTo,
			BccTo:         p.BccTo,
			Payload: pqtype.NullRawMessage{
				RawMessage: p.Payload,
				Valid:      len(p.Payload) > 0,
			},
		})
		if err != nil {
			return fmt.Errorf("RecordSent: insert email log: %w", err)
		}

		logRow = inserted
		return nil
	})
	if err != nil {
		return db.EmailLog{}, err
	}

	return logRow, nil
}
