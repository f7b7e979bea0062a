package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/greenshield/reengage-backend/internal/models"
)

// HTTPGenerator calls the external reply-generation service over HTTP.
// The request carries the contact profile, the current state and the
// recent conversation history; the service returns the reply text.
type HTTPGenerator struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPGenerator creates a generator client with a hard request timeout.
// A timeout fails that single message only; callers fall back to templates.
func NewHTTPGenerator(endpoint, apiKey string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPGenerator{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Phone            string             `json:"phone"`
	State            string             `json:"state"`
	Name             string             `json:"name,omitempty"`
	LastService      string             `json:"last_service,omitempty"`
	DaysSinceService int                `json:"days_since_service,omitempty"`
	History          []generateHistoryT `json:"history"`
}

type generateHistoryT struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

type generateResponse struct {
	Reply string `json:"reply"`
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, contact *models.Contact, history []*models.ConversationTurn, state State) (string, error) {
	if g.endpoint == "" {
		return "", fmt.Errorf("generator endpoint not configured")
	}

	payload := generateRequest{
		Phone:            contact.Phone,
		State:            string(state),
		Name:             contact.FirstName,
		LastService:      contact.LastService,
		DaysSinceService: contact.DaysSinceService,
	}
	for _, turn := range history {
		role := "assistant"
		if turn.Direction == models.DirectionIn {
			role = "user"
		}
		payload.History = append(payload.History, generateHistoryT{Role: role, Content: turn.Body})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("generator returned %d: %s", resp.StatusCode, string(raw))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Reply, nil
}
