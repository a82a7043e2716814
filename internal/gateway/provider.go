package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProviderClient talks to the payment provider's REST API. Amounts cross the
// wire in minor units (kobo); everything inside the service is major units.
type ProviderClient struct {
	baseURL string
	secret  string
	client  *http.Client
}

func NewProviderClient(baseURL, secret string) *ProviderClient {
	return &ProviderClient{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

var minorUnit = decimal.NewFromInt(100)

type providerEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type providerTransaction struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
	PaidAt string `json:"paid_at"`
}

func (c *ProviderClient) VerifyTransaction(ctx context.Context, reference string) (Verification, error) {
	var env providerEnvelope
	path := "/transaction/verify/" + url.PathEscape(reference)
	if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
		return Verification{}, err
	}

	var tx providerTransaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return Verification{}, fmt.Errorf("decode transaction: %w", err)
	}

	v := Verification{
		AmountPaid:  decimal.NewFromInt(tx.Amount).Div(minorUnit),
		ExternalRef: fmt.Sprintf("%d", tx.ID),
	}
	switch tx.Status {
	case "success":
		v.Status = VerificationSuccess
	case "failed", "abandoned", "reversed":
		v.Status = VerificationFailed
	default:
		v.Status = VerificationPending
	}
	if tx.PaidAt != "" {
		if paidAt, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			v.PaidAt = paidAt
		}
	}
	return v, nil
}

type transferRequest struct {
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Currency      string `json:"currency"`
}

type providerTransfer struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (c *ProviderClient) InitiateTransfer(ctx context.Context, amount decimal.Decimal, dest Destination) (TransferResult, error) {
	req := transferRequest{
		Amount:        amount.Mul(minorUnit).IntPart(),
		Reference:     uuid.NewString(),
		BankCode:      dest.BankCode,
		AccountNumber: dest.AccountNumber,
		AccountName:   dest.AccountName,
		Currency:      "NGN",
	}

	var env providerEnvelope
	if err := c.do(ctx, http.MethodPost, "/transfer", req, &env); err != nil {
		return TransferResult{}, err
	}

	var tr providerTransfer
	if err := json.Unmarshal(env.Data, &tr); err != nil {
		return TransferResult{}, fmt.Errorf("decode transfer: %w", err)
	}

	res := TransferResult{Ref: tr.Reference}
	switch tr.Status {
	case "success":
		res.Status = TransferSuccess
	case "failed", "reversed":
		res.Status = TransferFailed
	default:
		res.Status = TransferPending
	}
	return res, nil
}

func (c *ProviderClient) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider returned %d for %s %s", resp.StatusCode, method, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
