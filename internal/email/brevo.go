package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBrevoEndpoint = "https://api.brevo.com/v3/smtp/email"

	brevoTimeout = 10 * time.Second
)

// BrevoSender posts messages to Brevo's transactional email API.
type BrevoSender struct {
	client   *http.Client
	endpoint string
	apiKey   string
	from     string
}

func NewBrevoSender(httpClient *http.Client, endpoint, apiKey, from string) (*BrevoSender, error) {
	if apiKey == "" {
		return nil, errors.New("BREVO_API_KEY is required")
	}
	if from == "" {
		return nil, ErrNoSender
	}
	if endpoint == "" {
		endpoint = DefaultBrevoEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: brevoTimeout}
	}
	return &BrevoSender{client: httpClient, endpoint: endpoint, apiKey: apiKey, from: from}, nil
}

type brevoAddress struct {
	Email string `json:"email"`
}

type brevoPayload struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	TextContent string         `json:"textContent"`
}

func (b *BrevoSender) Send(ctx context.Context, msg Message) error {
	if err := msg.validate(); err != nil {
		return err
	}
	payload := brevoPayload{Sender: brevoAddress{b.from}, Subject: msg.Subject, TextContent: msg.Text}
	for _, to := range msg.To {
		if to = strings.TrimSpace(to); to != "" {
			payload.To = append(payload.To, brevoAddress{to})
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, brevoTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo responded %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
