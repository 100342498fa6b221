package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultResendURL = "https://api.resend.com/emails"

// ResendSender sends emails through the Resend HTTP API.
type ResendSender struct {
	from       string
	apiKey     string
	url        string
	httpClient *http.Client
}

type resendRequest struct {
	From    string      `json:"from"`
	To      []string    `json:"to"`
	Subject string      `json:"subject"`
	HTML    string      `json:"html"`
	Tags    []resendTag `json:"tags,omitempty"`
}

type resendTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type resendError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewResendSender creates a Resend sender. A nil client gets a 30s default.
func NewResendSender(from, apiKey, url string, client *http.Client) (*ResendSender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend: %w (missing API key)", ErrNotConfigured)
	}
	if url == "" {
		url = defaultResendURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ResendSender{from: from, apiKey: apiKey, url: url, httpClient: client}, nil
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	body := resendRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	}
	for k, v := range msg.Tags {
		body.Tags = append(body.Tags, resendTag{Name: k, Value: v})
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("failed to encode resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("resend request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var re resendError
	if json.Unmarshal(raw, &re) == nil && re.Message != "" {
		return fmt.Errorf("resend http %d: %s", resp.StatusCode, re.Message)
	}
	return fmt.Errorf("resend http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}
