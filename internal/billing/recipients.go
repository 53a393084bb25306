package billing

import "errors"

// ErrNoRecipients is returned when the mailing-list lookup yields zero rows.
// A client with no configured recipients cannot receive its invoice, and the
// run must stop rather than silently skip it.
var ErrNoRecipients = errors.New("billing: no recipients configured")

// Recipient roles as tagged by sfs.pr_get_mailing_list.
const (
	RoleTo  = "To"
	RoleCc  = "Cc"
	RoleBcc = "Bcc"
)

// RecipientRow is one mailing-list row: a role tag and a semicolon-delimited
// address list.
type RecipientRow struct {
	Role   string
	Emails string
}

// Recipients is the partitioned recipient set for one email. Each field is a
// semicolon-delimited list; an absent role is the empty string.
type Recipients struct {
	To  string
	Cc  string
	Bcc string
}

// PartitionRecipients splits mailing-list rows by role. The first row per
// role wins. Zero input rows is an error even though a row set could in
// principle carry only empty address strings — the lookup returning nothing
// means the client is not configured at all.
func PartitionRecipients(rows []RecipientRow) (Recipients, error) {
	if len(rows) == 0 {
		return Recipients{}, ErrNoRecipients
	}

	var r Recipients
	seen := make(map[string]bool, 3)
	for _, row := range rows {
		if seen[row.Role] {
			continue
		}
		switch row.Role {
		case RoleTo:
			r.To = row.Emails
		case RoleCc:
			r.Cc = row.Emails
		case RoleBcc:
			r.Bcc = row.Emails
		default:
			continue // unknown role tag — ignore
		}
		seen[row.Role] = true
	}
	return r, nil
}
