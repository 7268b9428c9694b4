// Package connector talks to the payment connector that performs the actual packet
// transmission and rate probing for outgoing payments.
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/provider"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type rateResponse struct {
	Low             domain.Rate `json:"low"`
	High            domain.Rate `json:"high"`
	ReceiveCapacity string      `json:"receive_capacity"`
}

// Probe asks the connector for the current rate envelope. Any failure is reported as
// domain.ErrProbeUnavailable so the payment retries.
func (c *Client) Probe(ctx context.Context, source, destination domain.Asset) (*provider.ProbeResult, error) {
	url := fmt.Sprintf("%s/v1/rates?source=%s&source_scale=%d&destination=%s&destination_scale=%d",
		c.baseURL, source.Code, source.Scale, destination.Code, destination.Scale)

	var resp rateResponse
	status, err := c.do(ctx, http.MethodGet, url, nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProbeUnavailable, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: connector returned %d", domain.ErrProbeUnavailable, status)
	}

	res := &provider.ProbeResult{Low: resp.Low, High: resp.High}
	if resp.ReceiveCapacity != "" {
		if res.ReceiveCapacity, err = strconv.ParseUint(resp.ReceiveCapacity, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: invalid receive capacity %q", domain.ErrProbeUnavailable, resp.ReceiveCapacity)
		}
	}
	return res, nil
}

type sendRequest struct {
	PaymentID       string      `json:"payment_id"`
	Destination     string      `json:"destination"`
	Amount          string      `json:"amount"`
	AssetCode       string      `json:"asset_code"`
	AssetScale      uint8       `json:"asset_scale"`
	MaxPacketAmount string      `json:"max_packet_amount"`
	MinExchangeRate domain.Rate `json:"min_exchange_rate"`
	Attempt         uint32      `json:"attempt"`
}

// Send posts the remaining amount to the connector. Timeouts, transport errors and 5xx or
// 429 responses are transient; other 4xx responses are fatal.
func (c *Client) Send(ctx context.Context, p *domain.OutgoingPayment, remaining domain.Amount) provider.Result {
	if p.Quote == nil {
		return provider.Result{Kind: provider.ResultFatal, Reason: "payment has no quote"}
	}
	req := sendRequest{
		PaymentID:       p.ID.String(),
		Destination:     p.ReceivingPaymentPointer,
		Amount:          strconv.FormatUint(remaining.Value, 10),
		AssetCode:       remaining.AssetCode,
		AssetScale:      remaining.AssetScale,
		MaxPacketAmount: strconv.FormatUint(p.Quote.MaxPacketAmount.Value, 10),
		MinExchangeRate: p.Quote.MinExchangeRate,
		Attempt:         p.StateAttempts,
	}

	var res provider.Result
	url := fmt.Sprintf("%s/v1/payments/%s/send", c.baseURL, p.ID)
	status, err := c.do(ctx, http.MethodPost, url, req, &res)
	if err != nil {
		c.logger.Warn("connector send failed",
			zap.String("payment_id", p.ID.String()),
			zap.Error(err))
		return provider.Result{Kind: provider.ResultTransient, Reason: err.Error()}
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return provider.Result{Kind: provider.ResultTransient, Reason: fmt.Sprintf("connector returned %d", status)}
	case status >= 400:
		reason := res.Reason
		if reason == "" {
			reason = fmt.Sprintf("connector rejected payment with %d", status)
		}
		return provider.Result{Kind: provider.ResultFatal, Reason: reason}
	}

	switch res.Kind {
	case provider.ResultDelivered, provider.ResultTransient, provider.ResultFatal:
	default:
		return provider.Result{Kind: provider.ResultTransient, Reason: fmt.Sprintf("unknown connector status %q", res.Kind)}
	}
	if res.Amount > remaining.Value {
		res.Amount = remaining.Value
	}
	return res
}

func (c *Client) do(ctx context.Context, method, url string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if len(responseBody) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, errors.New("failed to parse connector response")
	}
	return resp.StatusCode, nil
}
