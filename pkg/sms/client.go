package sms

import (
	"context"
	"errors"
	"strings"

	"github.com/jmwhitfield/clubpay-backend/pkg/config"
	pkgerrors "github.com/jmwhitfield/clubpay-backend/pkg/errors"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var errTwilioConfigRequired = errors.New("twilio account sid, auth token and from number are required")

// messageCreator is the slice of the Twilio REST client the sender uses.
type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// Client sends SMS messages through Twilio.
type Client struct {
	api  messageCreator
	from string
}

// Delivery reports the provider's acceptance of a message.
type Delivery struct {
	SID    string
	Status string
}

// NewClient builds the SMS client from configuration.
func NewClient(cfg config.TwilioConfig) (*Client, error) {
	sid := strings.TrimSpace(cfg.AccountSID)
	token := strings.TrimSpace(cfg.AuthToken)
	from := strings.TrimSpace(cfg.FromNumber)
	if sid == "" || token == "" || from == "" {
		return nil, errTwilioConfigRequired
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: sid,
		Password: token,
	})

	return &Client{api: rest.Api, from: from}, nil
}

// newClientWithAPI is used by tests to stub the Twilio surface.
func newClientWithAPI(api messageCreator, from string) *Client {
	return &Client{api: api, from: from}
}

// Send delivers a single SMS to the given phone number.
func (c *Client) Send(ctx context.Context, to, body string) (*Delivery, error) {
	if c == nil || c.api == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sms client not configured")
	}
	if strings.TrimSpace(to) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "destination phone number is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "message body is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sms send canceled")
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create twilio message")
	}

	delivery := &Delivery{}
	if msg.Sid != nil {
		delivery.SID = *msg.Sid
	}
	if msg.Status != nil {
		delivery.Status = *msg.Status
	}
	return delivery, nil
}
