package billing

import (
	"database/sql"
	"fmt"
	"strings"
)

// InvoiceTypeInvoice is the tb_invoice type code for a regular invoice. Any
// other type code (credit notes use "CN") composes the credit-note way.
const InvoiceTypeInvoice = "I"

// packageCodePOB is the pay-on-behalf package code. All comparisons against
// it are case-insensitive at every decision point; historically the checks
// were inconsistent and the POB template branch could silently never match.
const packageCodePOB = "POB"

// IsPOB reports whether the invoice package is the pay-on-behalf code.
func IsPOB(pkg sql.NullString) bool {
	return pkg.Valid && strings.EqualFold(pkg.String, packageCodePOB)
}

// ListType derives the mailing-list type for an invoice: pay-on-behalf
// invoices prefix the job type code with "p", everything else uses the job
// type code unchanged.
func ListType(pkg sql.NullString, jobTypeCode string) string {
	if IsPOB(pkg) {
		return "p" + jobTypeCode
	}
	return jobTypeCode
}

// Template is the subject fragment and body text of one email setting row.
type Template struct {
	Subject string
	Body    string
}

// ComposeParams is everything subject/body composition needs for one invoice.
type ComposeParams struct {
	InvoiceType   string
	Package       sql.NullString
	ClientID      string
	ClientRef     string
	InvoiceNumber string
	Total         float64 // running batch total as of this invoice
	Template      Template
}

// Content is the composed subject and body, ready for the mail transport.
type Content struct {
	Subject string
	Body    string
}

// Compose builds the email subject and body for one invoice.
//
// Pay-on-behalf invoices get the reference-and-total subject:
//
//	<tmplSubject><clientRef> - Inv: <invoiceNo> $<total>
//
// Everything else — plain invoices and credit notes — concatenates:
//
//	<clientID><tmplSubject><invoiceNo>
//
// The body is always the template body verbatim.
func Compose(p ComposeParams) Content {
	var subject string
	if p.InvoiceType == InvoiceTypeInvoice && IsPOB(p.Package) {
		subject = fmt.Sprintf("%s%s - Inv: %s $%.2f", p.Template.Subject, p.ClientRef, p.InvoiceNumber, p.Total)
	} else {
		subject = p.ClientID + p.Template.Subject + p.InvoiceNumber
	}
	return Content{
		Subject: subject,
		Body:    p.Template.Body,
	}
}
