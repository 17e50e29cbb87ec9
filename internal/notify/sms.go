// Package notify sends top-up outcome SMS through the hosted SMS function.
package notify

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

	"akiba/internal/core"

	"github.com/shopspring/decimal"
)

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, phoneNumber, message string) error
}

// SMSClient posts {phone_number, message} to the SMS function. Any 2xx is accepted.
type SMSClient struct {
	url   string
	token string
	http  *http.Client
}

func NewSMSClient(url, token string, hc *http.Client) (*SMSClient, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("sms function url is empty")
	}
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &SMSClient{url: url, token: token, http: hc}, nil
}

type smsRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
}

func (c *SMSClient) Send(ctx context.Context, phoneNumber, message string) error {
	if phoneNumber == "" || message == "" {
		return fmt.Errorf("%w: phone number and message are required", core.ErrInvalidInput)
	}
	body, err := json.Marshal(smsRequest{PhoneNumber: phoneNumber, Message: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sms function: %v", core.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: sms function status %d: %s",
			core.ErrUpstreamUnavailable, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return nil
}

// TopUpMessage renders the user-facing text for a terminal top-up.
func TopUpMessage(status core.TopUpStatus, amount decimal.Decimal, currency, reference string) string {
	switch status {
	case core.StatusSuccessful:
		return fmt.Sprintf("Your top-up of %s was received and added to your savings. Ref %s.",
			core.FormatAmount(amount, currency), reference)
	case core.StatusFailed:
		return fmt.Sprintf("Your top-up of %s failed. Please start a new top-up. Ref %s.",
			core.FormatAmount(amount, currency), reference)
	default:
		return ""
	}
}
