package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Invoice is a row of tb_invoice. Only the columns the pipeline reads are
// mapped; the table carries many more upstream.
type Invoice struct {
	InvoiceNumber  string
	InvoiceType    string // "I" = invoice, anything else = credit note
	InvoicePackage sql.NullString
	InvoiceChecked bool
	DateSend       sql.NullTime
	DelStatus      bool
}

// GetInvoiceDetailsParams are the arguments to sfs.pr_get_invoice_details.
// ModifiedBy is accepted by the procedure for audit purposes and is null for
// read-only callers.
type GetInvoiceDetailsParams struct {
	InvoiceNumber string
	ModifiedBy    sql.NullString
}

// InvoiceDetail is the denormalized projection returned by
// sfs.pr_get_invoice_details.
type InvoiceDetail struct {
	BillTo         string // billing client id
	InvoiceType    string
	InvoicePackage sql.NullString
	ClientRef      string
	PICID          sql.NullInt32
	JobTypeCode    string
}

// InvoiceCharge is one charge line of an invoice. Amount and GST are nullable
// in the schema; a null contributes zero to the total.
type InvoiceCharge struct {
	InvoiceNumber string
	Amount        sql.NullFloat64
	GST           sql.NullFloat64
}

type GetEmailSettingByCodeParams struct {
	InvoiceType string
	Code        string
}

// EmailSetting is a row of c_email_setting: the subject fragment and body
// text for one (invoice type, package code) combination.
type EmailSetting struct {
	InvoiceType string
	Code        sql.NullString
	Subject     string
	Body        string
}

type GetMailingListParams struct {
	ClientID      string
	EmailListType string
	PIC           sql.NullInt32
	Package       sql.NullString
}

// MailingListEntry is one row returned by sfs.pr_get_mailing_list: a role tag
// and a semicolon-delimited address list.
type MailingListEntry struct {
	Recipient string // "To" | "Cc" | "Bcc"
	Emails    string
}

type MarkInvoiceSentParams struct {
	InvoiceNumber string
	ModifiedBy    string
}

type InsertEmailLogParams struct {
	ID            uuid.UUID
	InvoiceNumber string
	SentTo        string
	CcTo          string
	BccTo         string
	Payload       pqtype.NullRawMessage
}

// EmailLog is a row of email_log, written once per delivered email in the
// same transaction as the date_send update.
type EmailLog struct {
	ID            uuid.UUID
	InvoiceNumber string
	SentTo        string
	CcTo          string
	BccTo         string
	Payload       pqtype.NullRawMessage
	CreatedAt     time.Time
}
