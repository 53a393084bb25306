package pipeline_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hscfreight/invoice-mailer/internal/billing"
	"github.com/hscfreight/invoice-mailer/internal/db"
	"github.com/hscfreight/invoice-mailer/internal/email"
	"github.com/hscfreight/invoice-mailer/internal/pipeline"
	"github.com/hscfreight/invoice-mailer/internal/store"
)

// ─── STUBS ────────────────────────────────────────────────────────────────────

// stubQuerier satisfies db.Querier with in-memory state. Fields may be set
// per-test to control behaviour.
type stubQuerier struct {
	db.Querier // embedded to panic on unimplemented methods

	invoices        []db.Invoice
	details         map[string][]db.InvoiceDetail
	charges         map[string][]db.InvoiceCharge
	settingsByCode  map[string][]db.EmailSetting     // keyed by invoiceType+"|"+upper(code)
	settingsDefault map[string][]db.EmailSetting     // keyed by invoiceType
	mailingLists    map[string][]db.MailingListEntry // keyed by clientID+"|"+listType

	mailingListCalls []db.GetMailingListParams
}

func newStubQuerier() *stubQuerier {
	return &stubQuerier{
		details:         make(map[string][]db.InvoiceDetail),
		charges:         make(map[string][]db.InvoiceCharge),
		settingsByCode:  make(map[string][]db.EmailSetting),
		settingsDefault: make(map[string][]db.EmailSetting),
		mailingLists:    make(map[string][]db.MailingListEntry),
	}
}

func (q *stubQuerier) ListPendingInvoices(context.Context) ([]db.Invoice, error) {
	return q.invoices, nil
}

func (q *stubQuerier) GetInvoiceDetails(_ context.Context, p db.GetInvoiceDetailsParams) ([]db.InvoiceDetail, error) {
	return q.details[p.InvoiceNumber], nil
}

func (q *stubQuerier) GetInvoiceCharges(_ context.Context, invoiceNumber string) ([]db.InvoiceCharge, error) {
	return q.charges[invoiceNumber], nil
}

func (q *stubQuerier) GetEmailSettingByCode(_ context.Context, p db.GetEmailSettingByCodeParams) ([]db.EmailSetting, error) {
	return q.settingsByCode[p.InvoiceType+"|"+strings.ToUpper(p.Code)], nil
}

func (q *stubQuerier) GetEmailSettingDefault(_ context.Context, invoiceType string) ([]db.EmailSetting, error) {
	return q.settingsDefault[invoiceType], nil
}

func (q *stubQuerier) GetMailingList(_ context.Context, p db.GetMailingListParams) ([]db.MailingListEntry, error) {
	q.mailingListCalls = append(q.mailingListCalls, p)
	return q.mailingLists[p.ClientID+"|"+p.EmailListType], nil
}

// stubRecorder records RecordSent calls and simulates the mark-sent side
// effect by removing the invoice from the pending list.
type stubRecorder struct {
	q        *stubQuerier
	calls    []store.RecordSentParams
	failWith error
}

func (r *stubRecorder) RecordSent(_ context.Context, p store.RecordSentParams) (db.EmailLog, error) {
	if r.failWith != nil {
		return db.EmailLog{}, r.failWith
	}
	r.calls = append(r.calls, p)
	if r.q != nil {
		remaining := make([]db.Invoice, 0, len(r.q.invoices))
		for _, inv := range r.q.invoices {
			if inv.InvoiceNumber != p.InvoiceNumber {
				remaining = append(remaining, inv)
			}
		}
		r.q.invoices = remaining
	}
	return db.EmailLog{ID: uuid.New(), InvoiceNumber: p.InvoiceNumber}, nil
}

// stubSender records sent messages.
type stubSender struct {
	sent     []email.Message
	failWith error
}

func (s *stubSender) Send(_ context.Context, msg email.Message) (email.Result, error) {
	if s.failWith != nil {
		return email.Result{}, s.failWith
	}
	s.sent = append(s.sent, msg)
	return email.Result{Accepted: []string{"a@x"}}, nil
}

// stubNotifier records terminal notifications.
type stubNotifier struct {
	successes []string // detail lines
	failures  []error
}

func (n *stubNotifier) Success(_ context.Context, _ uuid.UUID, _, detail string) {
	n.successes = append(n.successes, detail)
}

func (n *stubNotifier) Failure(_ context.Context, _ uuid.UUID, _ string, err error) {
	n.failures = append(n.failures, err)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─── FIXTURES ─────────────────────────────────────────────────────────────────

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: true} }

func chargeLine(amount, tax float64) db.InvoiceCharge {
	return db.InvoiceCharge{
		Amount: sql.NullFloat64{Float64: amount, Valid: true},
		GST:    sql.NullFloat64{Float64: tax, Valid: true},
	}
}

// seedInvoice wires one fully-sendable invoice into the stub querier.
func seedInvoice(q *stubQuerier, number, invType string, pkgCode sql.NullString) {
	q.invoices = append(q.invoices, db.Invoice{
		InvoiceNumber:  number,
		InvoiceType:    invType,
		InvoicePackage: pkgCode,
		InvoiceChecked: true,
	})
	q.details[number] = []db.InvoiceDetail{{
		BillTo:         "CLI01",
		InvoiceType:    invType,
		InvoicePackage: pkgCode,
		ClientRef:      "REF1",
		PICID:          sql.NullInt32{Int32: 7, Valid: true},
		JobTypeCode:    "AF",
	}}
	q.charges[number] = []db.InvoiceCharge{chargeLine(100, 0)}
	q.settingsDefault[invType] = []db.EmailSetting{{
		InvoiceType: invType, Subject: " Invoice ", Body: "Dear client",
	}}
	q.settingsByCode[invType+"|POB"] = []db.EmailSetting{{
		InvoiceType: invType, Code: nullStr("POB"), Subject: "Invoice Ready: ", Body: "POB body",
	}}
	listType := "AF"
	if pkgCode.Valid && strings.EqualFold(pkgCode.String, "POB") {
		listType = "pAF"
	}
	q.mailingLists["CLI01|"+listType] = []db.MailingListEntry{
		{Recipient: billing.RoleTo, Emails: "a@x"},
	}
}

func newJob(q *stubQuerier) (*pipeline.Job, *stubRecorder, *stubSender, *stubNotifier) {
	recorder := &stubRecorder{q: q}
	sender := &stubSender{}
	notifier := &stubNotifier{}
	job := pipeline.NewJob(q, recorder, sender, notifier, testLogger())
	return job, recorder, sender, notifier
}

// ─── END TO END ───────────────────────────────────────────────────────────────

func TestRun_SingleInvoiceSendsMarksAndNotifies(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	job, recorder, sender, notifier := newJob(q)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	if got, want := sender.sent[0].Subject, "CLI01 Invoice INV-100"; got != want {
		t.Errorf("subject: got %q, want %q", got, want)
	}
	if sender.sent[0].To != "a@x" {
		t.Errorf("to: got %q, want a@x", sender.sent[0].To)
	}

	if len(recorder.calls) != 1 || recorder.calls[0].InvoiceNumber != "INV-100" {
		t.Fatalf("recorded %+v, want one INV-100 call", recorder.calls)
	}
	if len(recorder.calls[0].Payload) == 0 {
		t.Error("expected a rendered payload snapshot in the email log")
	}

	if len(notifier.successes) != 1 || len(notifier.failures) != 0 {
		t.Fatalf("notifications: %d success %d failure, want 1/0", len(notifier.successes), len(notifier.failures))
	}
	if got, want := notifier.successes[0], "1 email(s) sent."; got != want {
		t.Errorf("success detail: got %q, want %q", got, want)
	}
}

func TestRun_SecondRunSendsNothing(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	job, _, sender, notifier := newJob(q)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// The first run marked the invoice sent, so the pending predicate
	// excludes it and the second run delivers nothing.
	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails across both runs, want 1", len(sender.sent))
	}
	if got, want := notifier.successes[1], "0 email(s) sent."; got != want {
		t.Errorf("second run detail: got %q, want %q", got, want)
	}
}

func TestRun_EmptyPendingListIsSuccess(t *testing.T) {
	q := newStubQuerier()
	job, _, sender, notifier := newJob(q)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
	if len(notifier.successes) != 1 {
		t.Errorf("got %d success notifications, want 1", len(notifier.successes))
	}
}

func TestRun_POBInvoiceUsesPOBTemplateAndListType(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", nullStr("pob")) // lowercase on purpose
	q.charges["INV-100"] = []db.InvoiceCharge{chargeLine(150, 0)}
	job, _, sender, _ := newJob(q)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(sender.sent))
	}
	want := "Invoice Ready: REF1 - Inv: INV-100 $150.00"
	if sender.sent[0].Subject != want {
		t.Errorf("subject: got %q, want %q", sender.sent[0].Subject, want)
	}
	if sender.sent[0].Body != "POB body" {
		t.Errorf("body: got %q, want %q", sender.sent[0].Body, "POB body")
	}

	if len(q.mailingListCalls) != 1 {
		t.Fatalf("mailing list calls: %d, want 1", len(q.mailingListCalls))
	}
	if got := q.mailingListCalls[0].EmailListType; got != "pAF" {
		t.Errorf("list type: got %q, want pAF", got)
	}
}

// ─── ABORT PATHS ──────────────────────────────────────────────────────────────

func TestRun_ZeroChargesAbortsRun(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	q.charges["INV-100"] = nil
	job, recorder, sender, notifier := newJob(q)

	err := job.Run(context.Background())
	if !errors.Is(err, billing.ErrNoCharges) {
		t.Fatalf("got %v, want ErrNoCharges", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
	if len(recorder.calls) != 0 {
		t.Errorf("marked %d invoices, want 0", len(recorder.calls))
	}
	if len(notifier.failures) != 1 || len(notifier.successes) != 0 {
		t.Fatalf("notifications: %d failure %d success, want 1/0", len(notifier.failures), len(notifier.successes))
	}
	if !errors.Is(notifier.failures[0], billing.ErrNoCharges) {
		t.Errorf("failure notification carries %v, want ErrNoCharges", notifier.failures[0])
	}
}

func TestRun_MissingTemplateAbortsRun(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	q.settingsDefault = map[string][]db.EmailSetting{}
	job, _, sender, notifier := newJob(q)

	err := job.Run(context.Background())
	if !errors.Is(err, pipeline.ErrNoTemplate) {
		t.Fatalf("got %v, want ErrNoTemplate", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
	if len(notifier.failures) != 1 {
		t.Errorf("got %d failure notifications, want 1", len(notifier.failures))
	}
}

func TestRun_ZeroRecipientRowsAbortsRun(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	q.mailingLists = map[string][]db.MailingListEntry{}
	job, _, sender, _ := newJob(q)

	err := job.Run(context.Background())
	if !errors.Is(err, billing.ErrNoRecipients) {
		t.Fatalf("got %v, want ErrNoRecipients", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
}

func TestRun_SendFailureAbortsBeforeMarking(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	job, recorder, sender, notifier := newJob(q)
	sender.failWith = errors.New("smtp: 550 mailbox unavailable")

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(recorder.calls) != 0 {
		t.Errorf("marked %d invoices after failed send, want 0", len(recorder.calls))
	}
	if len(notifier.failures) != 1 {
		t.Errorf("got %d failure notifications, want 1", len(notifier.failures))
	}
}

func TestRun_MarkSentFailureAbortsRun(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	job, recorder, sender, notifier := newJob(q)
	recorder.failWith = errors.New("store: commit transaction: connection reset")

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// The email went out before marking failed — at-least-once delivery.
	if len(sender.sent) != 1 {
		t.Errorf("sent %d emails, want 1", len(sender.sent))
	}
	if len(notifier.failures) != 1 {
		t.Errorf("got %d failure notifications, want 1", len(notifier.failures))
	}
}

func TestRun_EmptyInvoiceNumberAbortsRun(t *testing.T) {
	q := newStubQuerier()
	q.invoices = []db.Invoice{{InvoiceNumber: "", InvoiceType: "I"}}
	job, _, _, notifier := newJob(q)

	err := job.Run(context.Background())
	if !errors.Is(err, pipeline.ErrNoInvoiceNumber) {
		t.Fatalf("got %v, want ErrNoInvoiceNumber", err)
	}
	if len(notifier.failures) != 1 {
		t.Errorf("got %d failure notifications, want 1", len(notifier.failures))
	}
}

func TestRun_FirstErrorStopsLaterInvoices(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", sql.NullString{})
	seedInvoice(q, "INV-200", "I", sql.NullString{})
	q.charges["INV-100"] = nil // first invoice fails at the charges stage
	job, _, sender, _ := newJob(q)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	// No per-invoice isolation: the healthy second invoice is not attempted.
	if len(sender.sent) != 0 {
		t.Errorf("sent %d emails, want 0", len(sender.sent))
	}
}

func TestRun_RunningTotalSpansInvoicesInSubject(t *testing.T) {
	q := newStubQuerier()
	seedInvoice(q, "INV-100", "I", nullStr("POB"))
	seedInvoice(q, "INV-200", "I", nullStr("POB"))
	q.charges["INV-100"] = []db.InvoiceCharge{chargeLine(100, 0)}
	q.charges["INV-200"] = []db.InvoiceCharge{chargeLine(50, 5)}
	job, _, sender, _ := newJob(q)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d emails, want 2", len(sender.sent))
	}
	if got, want := sender.sent[0].Subject, "Invoice Ready: REF1 - Inv: INV-100 $100.00"; got != want {
		t.Errorf("first subject: got %q, want %q", got, want)
	}
	// The second subject shows the batch total so far, not just its own sum.
	if got, want := sender.sent[1].Subject, "Invoice Ready: REF1 - Inv: INV-200 $155.00"; got != want {
		t.Errorf("second subject: got %q, want %q", got, want)
	}
}
