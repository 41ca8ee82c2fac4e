package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

var errSendgridConfigRequired = errors.New("sendgrid api key and from address are required")

// sender is the slice of the SendGrid client the mailer uses.
type sender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// Client sends transactional email through SendGrid.
type Client struct {
	api  sender
	from *mail.Email
}

// NewClient builds the mailer from configuration.
func NewClient(cfg config.SendgridConfig) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	from := strings.TrimSpace(cfg.DefaultFrom)
	if key == "" || from == "" {
		return nil, errSendgridConfigRequired
	}
	return &Client{
		api:  sendgrid.NewSendClient(key),
		from: mail.NewEmail("", from),
	}, nil
}

// newClientWithAPI is used by tests to stub the SendGrid surface.
func newClientWithAPI(api sender, from string) *Client {
	return &Client{api: api, from: mail.NewEmail("", from)}
}

// Send delivers a plain-text email to the given address.
func (c *Client) Send(ctx context.Context, to, subject, body string) error {
	if c == nil || c.api == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "mailer not configured")
	}
	if strings.TrimSpace(to) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "destination email is required")
	}
	if strings.TrimSpace(subject) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subject is required")
	}

	message := mail.NewSingleEmail(c.from, subject, mail.NewEmail("", to), body, body)
	resp, err := c.api.SendWithContext(ctx, message)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "send email")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(resp.Body)), "email rejected")
	}
	return nil
}
