package services

import (
	"context"
	"log"
	"strings"

	"github.com/greenshield/reengage-backend/internal/models"
)

// Generator produces reply text from conversation context. The real
// implementation calls the external generation service; tests stub it.
type Generator interface {
	Generate(ctx context.Context, contact *models.Contact, history []*models.ConversationTurn, state State) (string, error)
}

// ReplyComposer turns a committed state transition into exactly one bounded
// outbound message. Generation failure is non-fatal: the composer falls back
// to the per-state template and the transition stands.
type ReplyComposer struct {
	generator Generator
	maxLength int
}

// NewReplyComposer creates a composer. generator may be nil, in which case
// every reply is the per-state template.
func NewReplyComposer(generator Generator, maxLength int) *ReplyComposer {
	if maxLength <= 0 {
		maxLength = 320
	}
	return &ReplyComposer{generator: generator, maxLength: maxLength}
}

// Compose returns the reply for the contact's current state. It never fails;
// one inbound message always yields one reply.
func (c *ReplyComposer) Compose(ctx context.Context, contact *models.Contact, history []*models.ConversationTurn, state State) string {
	if c.generator == nil {
		return c.truncate(TemplateReply(state))
	}

	text, err := c.generator.Generate(ctx, contact, history, state)
	if err != nil {
		log.Printf("⚠️  GenerationFailure for %s (state %s): %v - using template", contact.Phone, state, err)
		return c.truncate(TemplateReply(state))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return c.truncate(TemplateReply(state))
	}
	return c.truncate(text)
}

// truncate bounds the reply length in runes. Overflow from the generator is
// never sent untruncated.
func (c *ReplyComposer) truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= c.maxLength {
		return text
	}
	return string(runes[:c.maxLength])
}

// TemplateReply is the deterministic fallback message for each state.
func TemplateReply(state State) string {
	switch state {
	case StateStart:
		return "Hey! Quick check-in—are you still seeing any pest activity?"
	case StateInterested:
		return "Great—roughly how many square feet is the area you want serviced?"
	case StateActionSqft:
		return "Please let me know the square footage of your property."
	case StateFollowUp:
		return "Thanks, I've noted those details. We will reach out with a booking."
	case StateDone:
		return "All set—thanks! We will reach out if anything is needed."
	case StatePause:
		return "Let's pause for now. Ping us when you're ready."
	case StateStop:
		return "You're opted out"
	default:
		return "I didn't catch that, mind rephrasing?"
	}
}
