// Package gateway wraps the external payment processor. Calls happen outside
// the caller's database transaction; an ambiguous response (timeout) is
// surfaced as StatusTimeout so the caller can leave its aggregate in a
// pending/processing state instead of guessing.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"creatorlink-marketplace/pkg/config"
	"creatorlink-marketplace/pkg/errutil"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ChargeStatus string

const (
	ChargeSucceeded ChargeStatus = "succeeded"
	ChargePending   ChargeStatus = "pending"
	ChargeFailed    ChargeStatus = "failed"
)

type ChargeRequest struct {
	ReferenceID string          `json:"reference_id"`
	PayerID     string          `json:"payer_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
}

type ChargeResult struct {
	Status     ChargeStatus `json:"status"`
	ExternalID string       `json:"external_id"`
	Reason     string       `json:"reason,omitempty"`
}

type PayoutRequest struct {
	ReferenceID string          `json:"reference_id"`
	RecipientID string          `json:"recipient_id"`
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method"`
	Details     map[string]any  `json:"details,omitempty"`
}

type PayoutResult struct {
	Status     ChargeStatus `json:"status"`
	ExternalID string       `json:"external_id"`
	Reason     string       `json:"reason,omitempty"`
}

type AccountLookup struct {
	Method  string         `json:"method"`
	Details map[string]any `json:"details,omitempty"`
}

type AccountInfo struct {
	Valid      bool   `json:"valid"`
	HolderName string `json:"holder_name,omitempty"`
	BankName   string `json:"bank_name,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

type Client interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	Retrieve(ctx context.Context, externalID string) (*ChargeResult, error)
	Cancel(ctx context.Context, externalID string) error
	VerifyAccount(ctx context.Context, req AccountLookup) (*AccountInfo, error)
}

var Module = fx.Module("gateway",
	fx.Provide(NewRESTClient),
)

type restClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRESTClient(cfg *config.Config) Client {
	return &restClient{
		baseURL: cfg.Gateway.BaseURL,
		apiKey:  cfg.Gateway.APIKey,
		http:    &http.Client{Timeout: cfg.Gateway.Timeout},
	}
}

func (c *restClient) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var out ChargeResult
	if err := c.post(ctx, "/v1/charges", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	var out PayoutResult
	if err := c.post(ctx, "/v1/payouts", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) Retrieve(ctx context.Context, externalID string) (*ChargeResult, error) {
	var out ChargeResult
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+externalID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) Cancel(ctx context.Context, externalID string) error {
	return c.do(ctx, http.MethodPost, "/v1/charges/"+externalID+"/cancel", nil, nil)
}

func (c *restClient) VerifyAccount(ctx context.Context, req AccountLookup) (*AccountInfo, error) {
	var out AccountInfo
	if err := c.post(ctx, "/v1/accounts/verify", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *restClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errutil.Internal("gateway: encode request", errutil.WithErr(err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errutil.Internal("gateway: build request", errutil.WithErr(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errutil.Timeout("gateway: request timed out", errutil.WithErr(err))
		}
		return errutil.GatewayError("gateway: request failed", errutil.WithErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return errutil.GatewayError(fmt.Sprintf("gateway: server error %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		zap.L().Warn("gateway: request rejected",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return errutil.GatewayError(fmt.Sprintf("gateway: rejected with status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errutil.GatewayError("gateway: decode response", errutil.WithErr(err))
		}
	}
	return nil
}
