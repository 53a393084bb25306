package email

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"

	"golang.org/x/oauth2"
)

const (
	gmailHost = "smtp.gmail.com"
	gmailAddr = gmailHost + ":465"
)

// gmailClient is the concrete Sender for Gmail. Authentication is XOAUTH2: a
// long-lived refresh token is exchanged for a short-lived access token on
// every send, then presented in the SASL initial response. Port 465 speaks
// TLS from the first byte.
type gmailClient struct {
	from   string
	tokens oauth2.TokenSource
}

// NewGmail returns a Sender that delivers through Gmail using the OAuth2
// refresh-token flow.
func NewGmail(clientID, clientSecret, refreshToken, from string) Sender {
	conf := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	// ReuseTokenSource caches the access token until it expires, so
	// back-to-back sends in one run pay for a single token exchange.
	tokens := oauth2.ReuseTokenSource(nil,
		conf.TokenSource(context.Background(), &oauth2.Token{RefreshToken: refreshToken}))

	return &gmailClient{from: from, tokens: tokens}
}

func (c *gmailClient) Send(ctx context.Context, msg Message) (Result, error) {
	rcpts := msg.recipients()
	if len(rcpts) == 0 {
		return Result{}, errors.New("email: message has no recipients")
	}

	token, err := c.tokens.Token()
	if err != nil {
		return Result{}, fmt.Errorf("email: gmail access token: %w", err)
	}

	auth := xoauth2Auth{user: c.from, accessToken: token.AccessToken}

	if err := sendSMTP(ctx, gmailAddr, gmailHost, true, auth, c.from, rcpts, msg.render(c.from)); err != nil {
		return Result{}, fmt.Errorf("email: gmail send: %w", err)
	}
	return Result{Accepted: rcpts}, nil
}

// xoauth2Auth implements the XOAUTH2 SASL mechanism: the whole credential is
// carried in the initial response, and any server continuation is an error
// payload acknowledged with an empty line.
type xoauth2Auth struct {
	user        string
	accessToken string
}

func (a xoauth2Auth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("email: refusing XOAUTH2 on unencrypted connection")
	}
	resp := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", a.user, a.accessToken)
	return "XOAUTH2", []byte(resp), nil
}

func (a xoauth2Auth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		// The server sent a JSON error blob; an empty response tells it to
		// fail the exchange so the real error surfaces.
		return []byte(""), nil
	}
	return nil, nil
}
