package services

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Gateway is the carrier send boundary. The outbound-enabled toggle is
// enforced by callers, which record suppressed sends instead of invoking it.
type Gateway interface {
	Send(to, body string) (string, error)
}

// TwilioService sends SMS via the Twilio REST API.
type TwilioService struct {
	client       *twilio.RestClient
	messagingSID string
	from         string
}

// NewTwilioService creates a new Twilio service instance
func NewTwilioService() (*TwilioService, error) {
	accountSid := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	messagingSID := os.Getenv("TWILIO_MESSAGING_SID")
	from := os.Getenv("TWILIO_PHONE_NUMBER")

	if accountSid == "" || authToken == "" {
		return nil, fmt.Errorf("missing Twilio credentials in environment variables")
	}
	if messagingSID == "" && from == "" {
		return nil, fmt.Errorf("set TWILIO_MESSAGING_SID or TWILIO_PHONE_NUMBER")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})
	// Carrier calls must not block the pipeline indefinitely.
	client.Client.SetTimeout(10 * time.Second)

	return &TwilioService{
		client:       client,
		messagingSID: messagingSID,
		from:         from,
	}, nil
}

// Send delivers one SMS and returns the carrier message SID.
func (t *TwilioService) Send(to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetBody(body)
	if t.messagingSID != "" {
		params.SetMessagingServiceSid(t.messagingSID)
	} else {
		params.SetFrom(t.from)
	}

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		log.Printf("❌ Failed to send SMS to %s: %v", to, err)
		return "", &GatewayError{To: to, Err: err}
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	log.Printf("✅ SMS sent to %s! SID: %s", to, sid)
	return sid, nil
}
