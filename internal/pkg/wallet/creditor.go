package wallet

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

	"github.com/tradesafe-app/paygate/internal/pkg/env"
)

// CreditRequest asks the ledger service to credit a confirmed deposit
// to the user's wallet. TxID doubles as the ledger-side idempotency
// key, so re-sending a request for an already-credited transaction is a
// no-op there as well.
type CreditRequest struct {
	Provider     string `json:"provider"`
	TxID         string `json:"txid"`
	OrderID      uint   `json:"order_id"`
	UserID       uint   `json:"user_id"`
	Currency     string `json:"currency"`
	AmountCrypto string `json:"amount_crypto"`
}

// Creditor is the boundary to the external wallet/ledger collaborator.
// The engine calls into it but does not implement balances itself.
type Creditor interface {
	Credit(ctx context.Context, req CreditRequest) error
}

// LedgerClient talks to the wallet ledger service over HTTP.
type LedgerClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewLedgerClientFromEnv creates a ledger client configured from the environment.
func NewLedgerClientFromEnv() *LedgerClient {
	return &LedgerClient{
		BaseURL: strings.TrimRight(env.GetEnv("LEDGER_API_URL", "http://localhost:4100"), "/"),
		APIKey:  strings.TrimSpace(env.GetEnv("LEDGER_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *LedgerClient) Credit(ctx context.Context, req CreditRequest) error {
	if strings.TrimSpace(req.TxID) == "" {
		return errors.New("txid is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/wallet/credit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	// The ledger deduplicates on this key independently of our state machine.
	httpReq.Header.Set("Idempotency-Key", req.Provider+":"+req.TxID)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger credit failed: status=%d body=%s", resp.StatusCode, string(respBody))
	}
	return nil
}
