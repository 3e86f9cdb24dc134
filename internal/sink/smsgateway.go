package sink

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

	"caseobserver/internal/task/engine"
)

// SMSGatewayConfig configures a JSON-over-HTTP SMS gateway.
type SMSGatewayConfig struct {
	URL     string
	Token   string
	Sender  string
	Timeout time.Duration
}

// SMSGateway posts {"from","to","text"} to a provider endpoint with a bearer
// token. 4xx responses are permanent failures.
type SMSGateway struct {
	cfg  SMSGatewayConfig
	http *http.Client
}

type smsRequest struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
	Text string `json:"text"`
}

func NewSMSGateway(cfg SMSGatewayConfig) (*SMSGateway, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("sms gateway: url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMSGateway{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

func (g *SMSGateway) SendSMS(ctx context.Context, to, body string) error {
	if strings.TrimSpace(to) == "" {
		return engine.NoRetry(errors.New("sms gateway: empty recipient"))
	}
	payload, err := json.Marshal(smsRequest{From: g.cfg.Sender, To: to, Text: body})
	if err != nil {
		return engine.NoRetry(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return engine.NoRetry(fmt.Errorf("sms gateway: build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("sms gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return engine.NoRetry(fmt.Errorf("sms gateway: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}
}
