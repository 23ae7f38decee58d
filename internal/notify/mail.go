// Package notify delivers messages through an HTTP mail API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/veilletech/sitewatch/internal/watch"
)

// Config controls the mail API client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	To       []string
	CC       []string
	BCC      []string
}

// MailClient posts messages to the configured mail API endpoint.
type MailClient struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewMailClient builds a MailClient.
func NewMailClient(cfg Config, logger *zap.Logger) (*MailClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("notify.endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// payload is the mail API wire format.
type payload struct {
	To      []string `json:"to"`
	CC      []string `json:"cc"`
	BCC     []string `json:"bcc"`
	Subject string   `json:"subject"`
	Message string   `json:"message"`
	IsHTML  bool     `json:"isHtml"`
}

// Send posts the message. Recipients default to the configured lists when
// the message leaves them empty.
func (c *MailClient) Send(ctx context.Context, msg watch.Message) error {
	to := msg.To
	if len(to) == 0 {
		to = c.cfg.To
	}
	if len(to) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	cc := msg.CC
	if len(cc) == 0 {
		cc = c.cfg.CC
	}
	bcc := msg.BCC
	if len(bcc) == 0 {
		bcc = c.cfg.BCC
	}

	body, err := json.Marshal(payload{
		To:      emptyNotNil(to),
		CC:      emptyNotNil(cc),
		BCC:     emptyNotNil(bcc),
		Subject: msg.Subject,
		Message: msg.Body,
		IsHTML:  msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mail api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	c.logger.Debug("mail dispatched",
		zap.String("subject", msg.Subject),
		zap.Int("recipients", len(to)),
	)
	return nil
}

func emptyNotNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
