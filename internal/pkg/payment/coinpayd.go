package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tradesafe-app/paygate/app/models"
	"github.com/tradesafe-app/paygate/internal/pkg/env"
)

const defaultCoinPaydAPIBaseURL = "https://api.coinpayd.io/v2"

// CoinPaydClient wraps the CoinPayd merchant API. Requests are signed
// with HMAC-SHA256 over the request body using the merchant secret.
type CoinPaydClient struct {
	APIKey     string
	APISecret  string
	APIBaseURL string
	Enabled    bool

	HTTPClient *http.Client
}

// NewCoinPaydClientFromEnv creates a CoinPayd client configured from the environment.
func NewCoinPaydClientFromEnv() *CoinPaydClient {
	return &CoinPaydClient{
		APIKey:     strings.TrimSpace(env.GetEnv("COINPAYD_API_KEY", "")),
		APISecret:  strings.TrimSpace(env.GetEnv("COINPAYD_API_SECRET", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("COINPAYD_API_BASE_URL", defaultCoinPaydAPIBaseURL)),
		Enabled:    env.GetEnvBool("COINPAYD_ENABLED", true),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *CoinPaydClient) Name() string {
	return models.ProviderCoinPayd
}

func (c *CoinPaydClient) Available() bool {
	return c.Enabled && c.APIKey != "" && c.APISecret != "" && models.GetPaymentSettings().CoinPaydEnabled
}

func (c *CoinPaydClient) CreatePaymentAddress(ctx context.Context, req AddressRequest) (*AddressResult, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: coinpayd is disabled or not configured", ErrProviderUnavailable)
	}

	payload := map[string]interface{}{
		"currency":     req.Currency,
		"amount":       req.Amount,
		"callback_url": req.CallbackURL,
		"reference":    req.ReferenceID,
	}
	for k, v := range req.Metadata {
		payload["meta_"+k] = v
	}

	var out struct {
		Address       string `json:"address"`
		PaymentID     string `json:"payment_id"`
		Confirmations int    `json:"confirms_needed"`
		Timeout       int    `json:"timeout"`
	}
	if err := c.post(ctx, "/addresses", payload, &out); err != nil {
		return nil, err
	}
	if out.Address == "" {
		return nil, fmt.Errorf("coinpayd returned empty address for reference %s", req.ReferenceID)
	}
	return &AddressResult{
		Address:               out.Address,
		PaymentID:             out.PaymentID,
		RequiredConfirmations: out.Confirmations,
		ExpiresIn:             out.Timeout,
	}, nil
}

func (c *CoinPaydClient) CheckPaymentStatus(ctx context.Context, paymentID string) (*StatusResult, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: coinpayd is disabled or not configured", ErrProviderUnavailable)
	}

	var out struct {
		TxID          string `json:"txn_id"`
		Status        string `json:"status"`
		Confirmations int    `json:"received_confirms"`
		Amount        string `json:"received_amount"`
	}
	if err := c.post(ctx, "/payments/"+paymentID, map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return &StatusResult{
		TxID:          out.TxID,
		Status:        out.Status,
		Confirmations: out.Confirmations,
		AmountCrypto:  out.Amount,
	}, nil
}

func (c *CoinPaydClient) GetSupportedCurrencies(ctx context.Context) ([]string, error) {
	if !c.Available() {
		return nil, fmt.Errorf("%w: coinpayd is disabled or not configured", ErrProviderUnavailable)
	}

	var out struct {
		Currencies []string `json:"currencies"`
	}
	if err := c.post(ctx, "/currencies", map[string]interface{}{}, &out); err != nil {
		return nil, err
	}
	return out.Currencies, nil
}

func (c *CoinPaydClient) post(ctx context.Context, path string, payload map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.APIBaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	mac := hmac.New(sha256.New, []byte(c.APISecret))
	mac.Write(body)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CoinPayd-Key", c.APIKey)
	req.Header.Set("X-CoinPayd-Signature", hex.EncodeToString(mac.Sum(nil)))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: coinpayd status=%d body=%s", ErrProviderUnavailable, resp.StatusCode, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coinpayd request failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return json.Unmarshal(respBody, out)
}
