package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
)

const defaultBlockRailAPIBaseURL = "https://api.blockrail.net/v1"

// BlockRailClient wraps the BlockRail gateway API. BlockRail uses
// bearer-token auth and form-encoded requests.
type BlockRailClient struct {
	APIToken   string
	APIBaseURL string
	Enabled    bool

	HTTPClient *http.Client
}

// NewBlockRailClientFromEnv creates a BlockRail client configured from the environment.
func NewBlockRailClientFromEnv() *BlockRailClient {
	return &BlockRailClient{
		APIToken:   strings.TrimSpace(env.GetEnv("BLOCKRAIL_API_TOKEN", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("BLOCKRAIL_API_BASE_URL", defaultBlockRailAPIBaseURL)),
		Enabled:    env.GetEnvBool("BLOCKRAIL_ENABLED", true),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *BlockRailClient) Name() string {
	return models.ProviderBlockRail
}

func (c *BlockRailClient) Available() bool {
	return c.Enabled && c.APIToken != "" && models.GetPaymentSettings().BlockRailEnabled
}

func (c *BlockRailClient) CreatePaymentAddress(ctx context.Context, req AddressRequest) (*AddressResult, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: blockrail is disabled or not configured", ErrProviderUnavailable)
	}

	form := url.Values{}
	form.Set("currency", req.Currency)
	form.Set("amount", req.Amount)
	form.Set("ipn_url", req.CallbackURL)
	form.Set("order_ref", req.ReferenceID)
	for k, v := range req.Metadata {
		form.Set("custom_"+k, v)
	}

	var out struct {
		DepositAddress string `json:"deposit_address"`
		InvoiceID      string `json:"invoice_id"`
		MinConfirms    int    `json:"min_confirms"`
		TTLSeconds     int    `json:"ttl_seconds"`
	}
	if err := c.do(ctx, http.MethodPost, "/invoices", form, &out); err != nil {
		return nil, err
	}
	if out.DepositAddress == "" {
		return nil, fmt.Errorf("blockrail returned empty address for reference %s", req.ReferenceID)
	}
	return &AddressResult{
		Address:               out.DepositAddress,
		PaymentID:             out.InvoiceID,
		RequiredConfirmations: out.MinConfirms,
		ExpiresIn:             out.TTLSeconds,
	}, nil
}

func (c *BlockRailClient) CheckPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: blockrail is disabled or not configured", ErrProviderUnavailable)
	}

	var out struct {
		TxHash        string `json:"tx_hash"`
		State         string `json:"state"`
		Confirmations int    `json:"confirmations"`
		AmountPaid    string `json:"amount_paid"`
	}
	if err := c.do(ctx, http.MethodGet, "/invoices/"+paymentID, nil, &out); err != nil {
		return nil, err
	}
	return &StatusResult{
		TxID:          out.TxHash,
		Status:        out.State,
		Confirmations: out.Confirmations,
		AmountCrypto:  out.AmountPaid,
	}, nil
}

func (c *BlockRailClient) GetSupportedCurrencies(ctx context.Context) ([]string, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: blockrail is disabled or not configured", ErrProviderUnavailable)
	}

	var out struct {
		Supported []string `json:"supported"`
	}
	if err := c.do(ctx, http.MethodGet, "/currencies", nil, &out); err != nil {
		return nil, err
	}
	return out.Supported, nil
}

func (c *BlockRailClient) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var reqBody io.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.APIBaseURL, "/")+path, reqBody)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: blockrail status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("blockrail request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
