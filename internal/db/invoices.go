package db

import (
	"context"
	"database/sql"
	"fmt"
)

const listPendingInvoices = `
SELECT invoice_number, invoice_type, invoice_package, invoice_checked, date_send, del_status
FROM tb_invoice
WHERE invoice_checked
  AND date_send IS NULL
  AND NOT del_status
ORDER BY invoice_number
`

func (q *Queries) ListPendingInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := q.db.QueryContext(ctx, listPendingInvoices)
	if err != nil {
		return nil, fmt.Errorf("db: list pending invoices: %w", err)
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(
			&inv.InvoiceNumber,
			&inv.InvoiceType,
			&inv.InvoicePackage,
			&inv.InvoiceChecked,
			&inv.DateSend,
			&inv.DelStatus,
		); err != nil {
			return nil, fmt.Errorf("db: scan invoice: %w", err)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list pending invoices: %w", err)
	}
	return invoices, nil
}

const getInvoiceDetails = `
SELECT bill_to, invoice_type, invoice_package, client_ref, pic_id, job_type_code
FROM sfs.pr_get_invoice_details($1, $2)
`

func (q *Queries) GetInvoiceDetails(ctx context.Context, arg GetInvoiceDetailsParams) ([]InvoiceDetail, error) {
	rows, err := q.db.QueryContext(ctx, getInvoiceDetails, arg.InvoiceNumber, arg.ModifiedBy)
	if err != nil {
		return nil, fmt.Errorf("db: get invoice details %q: %w", arg.InvoiceNumber, err)
	}
	defer rows.Close()

	var details []InvoiceDetail
	for rows.Next() {
		var d InvoiceDetail
		if err := rows.Scan(
			&d.BillTo,
			&d.InvoiceType,
			&d.InvoicePackage,
			&d.ClientRef,
			&d.PICID,
			&d.JobTypeCode,
		); err != nil {
			return nil, fmt.Errorf("db: scan invoice detail: %w", err)
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: get invoice details %q: %w", arg.InvoiceNumber, err)
	}
	return details, nil
}

const getInvoiceCharges = `
SELECT invoice_number, amount, gst
FROM sfs.pr_get_invoice_charges($1)
`

func (q *Queries) GetInvoiceCharges(ctx context.Context, invoiceNumber string) ([]InvoiceCharge, error) {
	rows, err := q.db.QueryContext(ctx, getInvoiceCharges, invoiceNumber)
	if err != nil {
		return nil, fmt.Errorf("db: get invoice charges %q: %w", invoiceNumber, err)
	}
	defer rows.Close()

	var charges []InvoiceCharge
	for rows.Next() {
		var c InvoiceCharge
		if err := rows.Scan(&c.InvoiceNumber, &c.Amount, &c.GST); err != nil {
			return nil, fmt.Errorf("db: scan invoice charge: %w", err)
		}
		charges = append(charges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: get invoice charges %q: %w", invoiceNumber, err)
	}
	return charges, nil
}

const getEmailSettingByCode = `
SELECT invoice_type, code, subject, body
FROM c_email_setting
WHERE invoice_type = $1
  AND upper(code) = upper($2)
`

func (q *Queries) GetEmailSettingByCode(ctx context.Context, arg GetEmailSettingByCodeParams) ([]EmailSetting, error) {
	rows, err := q.db.QueryContext(ctx, getEmailSettingByCode, arg.InvoiceType, arg.Code)
	if err != nil {
		return nil, fmt.Errorf("db: get email setting (%s, %s): %w", arg.InvoiceType, arg.Code, err)
	}
	return scanEmailSettings(rows)
}

const getEmailSettingDefault = `
SELECT invoice_type, code, subject, body
FROM c_email_setting
WHERE invoice_type = $1
  AND code IS NULL
`

func (q *Queries) GetEmailSettingDefault(ctx context.Context, invoiceType string) ([]EmailSetting, error) {
	rows, err := q.db.QueryContext(ctx, getEmailSettingDefault, invoiceType)
	if err != nil {
		return nil, fmt.Errorf("db: get default email setting (%s): %w", invoiceType, err)
	}
	return scanEmailSettings(rows)
}

func scanEmailSettings(rows *sql.Rows) ([]EmailSetting, error) {
	defer rows.Close()

	var settings []EmailSetting
	for rows.Next() {
		var s EmailSetting
		if err := rows.Scan(&s.InvoiceType, &s.Code, &s.Subject, &s.Body); err != nil {
			return nil, fmt.Errorf("db: scan email setting: %w", err)
		}
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: read email settings: %w", err)
	}
	return settings, nil
}

const getMailingList = `
SELECT recipient, emails
FROM sfs.pr_get_mailing_list($1, $2, $3, $4)
`

func (q *Queries) GetMailingList(ctx context.Context, arg GetMailingListParams) ([]MailingListEntry, error) {
	rows, err := q.db.QueryContext(ctx, getMailingList, arg.ClientID, arg.EmailListType, arg.PIC, arg.Package)
	if err != nil {
		return nil, fmt.Errorf("db: get mailing list (%s, %s): %w", arg.ClientID, arg.EmailListType, err)
	}
	defer rows.Close()

	var entries []MailingListEntry
	for rows.Next() {
		var e MailingListEntry
		if err := rows.Scan(&e.Recipient, &e.Emails); err != nil {
			return nil, fmt.Errorf("db: scan mailing list entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: get mailing list (%s, %s): %w", arg.ClientID, arg.EmailListType, err)
	}
	return entries, nil
}

const markInvoiceSent = `
UPDATE tb_invoice
SET date_send = now(),
    modified_by = $2,
    modified_date = now()
WHERE invoice_number = $1
`

func (q *Queries) MarkInvoiceSent(ctx context.Context, arg MarkInvoiceSentParams) error {
	res, err := q.db.ExecContext(ctx, markInvoiceSent, arg.InvoiceNumber, arg.ModifiedBy)
	if err != nil {
		return fmt.Errorf("db: mark invoice sent %q: %w", arg.InvoiceNumber, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db: mark invoice sent %q: rows affected: %w", arg.InvoiceNumber, err)
	}
	if affected == 0 {
		return fmt.Errorf("db: mark invoice sent %q: no such invoice", arg.InvoiceNumber)
	}
	return nil
}

const insertEmailLog = `
INSERT INTO email_log (id, invoice_number, sent_to, cc_to, bcc_to, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING id, invoice_number, sent_to, cc_to, bcc_to, payload, created_at
`

func (q *Queries) InsertEmailLog(ctx context.Context, arg InsertEmailLogParams) (EmailLog, error) {
	row := q.db.QueryRowContext(ctx, insertEmailLog,
		arg.ID,
		arg.InvoiceNumber,
		arg.SentTo,
		arg.CcTo,
		arg.BccTo,
		arg.Payload,
	)
	var l EmailLog
	if err := row.Scan(
		&l.ID,
		&l.InvoiceNumber,
		&l.SentTo,
		&l.CcTo,
		&l.BccTo,
		&l.Payload,
		&l.CreatedAt,
	); err != nil {
		return EmailLog{}, fmt.Errorf("db: insert email log %q: %w", arg.InvoiceNumber, err)
	}
	return l, nil
}
