package email

import (
	"fmt"
	"strings"
)

// splitAddresses turns a semicolon-delimited list into individual addresses,
// trimming whitespace and dropping empties.
func splitAddresses(list string) []string {
	if list == "" {
		return nil
	}
	var addrs []string
	for _, a := range strings.Split(list, ";") {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// recipients returns every envelope recipient of the message: To, Cc, and Bcc.
func (m Message) recipients() []string {
	var all []string
	all = append(all, splitAddresses(m.To)...)
	all = append(all, splitAddresses(m.Cc)...)
	all = append(all, splitAddresses(m.Bcc)...)
	return all
}

var lineBreaks = strings.NewReplacer("\r\n", "<br>", "\r", "<br>", "\n", "<br>")

// htmlBody converts the plain-text body's line breaks to HTML line breaks.
// Template bodies are authored as plain text with newlines.
func (m Message) htmlBody() string {
	return lineBreaks.Replace(m.Body)
}

// render produces the full RFC 5322 message for the given From address. Bcc
// recipients go on the envelope only, never into the headers.
func (m Message) render(from string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	if to := splitAddresses(m.To); len(to) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	}
	if cc := splitAddresses(m.Cc); len(cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\r\n", strings.Join(cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.htmlBody())
	b.WriteString("\r\n")
	return []byte(b.String())
}
