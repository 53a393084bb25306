// Package pipeline contains the invoice auto-send run: fetch pending
// invoices, then for each one aggregate charges, compose the email, resolve
// recipients, send, and mark the invoice sent. Invoices are processed
// strictly one at a time in fetch order; the first error at any stage aborts
// the entire run. There is no retry and no per-invoice isolation.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hscfreight/invoice-mailer/internal/billing"
	"github.com/hscfreight/invoice-mailer/internal/db"
	"github.com/hscfreight/invoice-mailer/internal/email"
	"github.com/hscfreight/invoice-mailer/internal/notify"
	"github.com/hscfreight/invoice-mailer/internal/store"
)

// ErrNoInvoiceNumber is returned when a pending invoice row carries an empty
// invoice number. The row cannot be processed or marked, so the run stops.
var ErrNoInvoiceNumber = errors.New("pipeline: invoice has no invoice number")

// ErrNoInvoiceDetail is returned when sfs.pr_get_invoice_details yields no
// rows for a pending invoice.
var ErrNoInvoiceDetail = errors.New("pipeline: no invoice detail found")

// ErrNoTemplate is returned when no c_email_setting row matches the invoice
// type and package code.
var ErrNoTemplate = errors.New("pipeline: no email setting configured")

// SentRecorder is the narrow slice of *store.Store the pipeline needs. Tests
// inject an in-memory implementation.
type SentRecorder interface {
	RecordSent(ctx context.Context, p store.RecordSentParams) (db.EmailLog, error)
}

// Job holds the dependencies for one auto-send run. Run may be called once
// per scheduler invocation; each call is an independent run with its own
// accumulator and run ID.
type Job struct {
	q        db.Querier
	recorder SentRecorder
	mailer   email.Sender
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewJob constructs a Job with all required dependencies.
func NewJob(
	q db.Querier,
	recorder SentRecorder,
	mailer email.Sender,
	notifier notify.Notifier,
	logger *slog.Logger,
) *Job {
	return &Job{
		q:        q,
		recorder: recorder,
		mailer:   mailer,
		notifier: notifier,
		logger:   logger,
	}
}

// Run executes one full batch run and reports the outcome to the notifier.
// Exactly one notification is posted per run: a success summary with the
// processed count, or a failure card with the causing error. The error is
// also returned so the invoking host records a failed invocation.
func (j *Job) Run(ctx context.Context) error {
	runID := uuid.New()
	log := j.logger.With("run_id", runID)
	log.Info("run: starting")

	sent, err := j.process(ctx, log)

	// The run context may already be cancelled or expired when the run fails;
	// the terminal notification gets its own deadline so it still goes out.
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err != nil {
		log.Error("run: aborted", "error", err)
		j.notifier.Failure(notifyCtx, runID, "Invoice auto-send run failed", err)
		return err
	}

	log.Info("run: completed", "sent", sent)
	j.notifier.Success(notifyCtx, runID, "Invoice auto-send run completed",
		fmt.Sprintf("%d email(s) sent.", sent))
	return nil
}

// process fetches the pending invoices and drives each one through the
// per-invoice stages. It returns the number of invoices sent and marked.
func (j *Job) process(ctx context.Context, log *slog.Logger) (int, error) {
	invoices, err := j.q.ListPendingInvoices(ctx)
	if err != nil {
		return 0, fmt.Errorf("pipeline: list pending invoices: %w", err)
	}

	log.Info("run: pending invoices fetched", "count", len(invoices))

	// The running total is shared across the whole batch: invoice N's subject
	// shows the sum of all charges processed so far, not just its own.
	acc := &billing.Accumulator{}

	for _, inv := range invoices {
		if err := j.sendInvoice(ctx, log, acc, inv); err != nil {
			return 0, err
		}
	}

	return len(invoices), nil
}

// sendInvoice runs the per-invoice stages: detail, charges, template,
// recipients, send, mark. Any error propagates and aborts the run.
func (j *Job) sendInvoice(ctx context.Context, log *slog.Logger, acc *billing.Accumulator, inv db.Invoice) error {
	if inv.InvoiceNumber == "" {
		return ErrNoInvoiceNumber
	}
	log = log.With("invoice_number", inv.InvoiceNumber)

	// ── 1. Invoice detail (first row wins) ────────────────────────────────────
	details, err := j.q.GetInvoiceDetails(ctx, db.GetInvoiceDetailsParams{
		InvoiceNumber: inv.InvoiceNumber,
	})
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: get details: %w", inv.InvoiceNumber, err)
	}
	if len(details) == 0 {
		return fmt.Errorf("pipeline: invoice %s: %w", inv.InvoiceNumber, ErrNoInvoiceDetail)
	}
	detail := details[0]

	// ── 2. Charges → running total ────────────────────────────────────────────
	charges, err := j.q.GetInvoiceCharges(ctx, inv.InvoiceNumber)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: get charges: %w", inv.InvoiceNumber, err)
	}
	lines := make([]billing.ChargeLine, len(charges))
	for i, c := range charges {
		lines[i] = billing.ChargeLine{Amount: c.Amount, Tax: c.GST}
	}
	total, err := acc.AddCharges(lines)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: %w", inv.InvoiceNumber, err)
	}

	// ── 3. Template lookup ────────────────────────────────────────────────────
	settings, err := j.lookupTemplate(ctx, detail)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: get email setting: %w", inv.InvoiceNumber, err)
	}
	if len(settings) == 0 {
		return fmt.Errorf("pipeline: invoice %s: %w", inv.InvoiceNumber, ErrNoTemplate)
	}
	setting := settings[0]

	// ── 4. Compose subject and body ───────────────────────────────────────────
	content := billing.Compose(billing.ComposeParams{
		InvoiceType:   detail.InvoiceType,
		Package:       detail.InvoicePackage,
		ClientID:      detail.BillTo,
		ClientRef:     detail.ClientRef,
		InvoiceNumber: inv.InvoiceNumber,
		Total:         total,
		Template:      billing.Template{Subject: setting.Subject, Body: setting.Body},
	})

	// ── 5. Resolve recipients ─────────────────────────────────────────────────
	listType := billing.ListType(detail.InvoicePackage, detail.JobTypeCode)
	entries, err := j.q.GetMailingList(ctx, db.GetMailingListParams{
		ClientID:      detail.BillTo,
		EmailListType: listType,
		PIC:           detail.PICID,
		Package:       detail.InvoicePackage,
	})
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: get mailing list: %w", inv.InvoiceNumber, err)
	}
	rows := make([]billing.RecipientRow, len(entries))
	for i, e := range entries {
		rows[i] = billing.RecipientRow{Role: e.Recipient, Emails: e.Emails}
	}
	rcpts, err := billing.PartitionRecipients(rows)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: %w", inv.InvoiceNumber, err)
	}

	// ── 6. Send ───────────────────────────────────────────────────────────────
	log.Info("run: sending email", "subject", content.Subject, "list_type", listType)

	msg := email.Message{
		Subject: content.Subject,
		Body:    content.Body,
		To:      rcpts.To,
		Cc:      rcpts.Cc,
		Bcc:     rcpts.Bcc,
	}
	result, err := j.mailer.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: send email: %w", inv.InvoiceNumber, err)
	}
	log.Info("run: email sent", "accepted", result.Accepted)

	// ── 7. Mark sent + audit log ──────────────────────────────────────────────
	// The send already happened; a failure from here on still aborts the run,
	// and the invoice will be re-sent next run (at-least-once delivery).
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("pipeline: invoice %s: marshal email payload: %w", inv.InvoiceNumber, err)
	}
	if _, err := j.recorder.RecordSent(ctx, store.RecordSentParams{
		InvoiceNumber: inv.InvoiceNumber,
		SentTo:        rcpts.To,
		CcTo:          rcpts.Cc,
		BccTo:         rcpts.Bcc,
		Payload:       payload,
	}); err != nil {
		return fmt.Errorf("pipeline: invoice %s: record sent: %w", inv.InvoiceNumber, err)
	}

	log.Info("run: invoice marked sent")
	return nil
}

// lookupTemplate picks the template query branch: pay-on-behalf packages use
// the exact-code rows, everything else falls back to the rows with no code.
func (j *Job) lookupTemplate(ctx context.Context, detail db.InvoiceDetail) ([]db.EmailSetting, error) {
	if billing.IsPOB(detail.InvoicePackage) {
		return j.q.GetEmailSettingByCode(ctx, db.GetEmailSettingByCodeParams{
			InvoiceType: detail.InvoiceType,
			Code:        detail.InvoicePackage.String,
		})
	}
	return j.q.GetEmailSettingDefault(ctx, detail.InvoiceType)
}
