package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
)

const (
	office365Host = "smtp.office365.com"
	office365Addr = office365Host + ":587"
)

// office365Client is the concrete Sender for the Office365 SMTP relay. The
// connection is plain on port 587 and upgraded via STARTTLS before auth.
type office365Client struct {
	user     string // account name without the domain suffix
	password string
	domain   string // e.g. "@hscfreight.com", appended to user for the full address
}

// NewOffice365 returns a Sender that delivers through the Office365 relay
// with password authentication.
func NewOffice365(user, password, domain string) Sender {
	return &office365Client{
		user:     user,
		password: password,
		domain:   domain,
	}
}

func (c *office365Client) Send(ctx context.Context, msg Message) (Result, error) {
	rcpts := msg.recipients()
	if len(rcpts) == 0 {
		return Result{}, errors.New("email: message has no recipients")
	}

	from := c.user + c.domain
	auth := loginAuth{username: from, password: c.password}

	if err := sendSMTP(ctx, office365Addr, office365Host, false, auth, from, rcpts, msg.render(from)); err != nil {
		return Result{}, fmt.Errorf("email: office365 send: %w", err)
	}
	return Result{Accepted: rcpts}, nil
}

// loginAuth implements the AUTH LOGIN mechanism. Office365 rejects PLAIN on
// many tenants, so the username and password are answered to the server's
// prompts instead.
type loginAuth struct {
	username string
	password string
}

func (a loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("email: refusing LOGIN auth on unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("email: unexpected LOGIN prompt %q", fromServer)
}
