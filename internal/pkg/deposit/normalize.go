package deposit

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/tradesafe-app/paygate/app/models"
)

var validate = validator.New()

// coinPaydIPN is the JSON body CoinPayd posts to the IPN endpoint.
type coinPaydIPN struct {
	TxnID          string `json:"txn_id" validate:"required"`
	OrderID        string `json:"order_id" validate:"required"`
	Address        string `json:"address"`
	Currency       string `json:"currency" validate:"required"`
	Amount         string `json:"amount" validate:"required"`
	FiatAmount     string `json:"fiat_amount"`
	FiatCurrency   string `json:"fiat_currency"`
	Confirms       int    `json:"confirms"`
	ConfirmsNeeded int    `json:"confirms_needed"`
	Status         string `json:"status"`
}

// blockRailNotification is BlockRail's invoice callback. BlockRail
// sends every value as a string, including the confirmation counts.
type blockRailNotification struct {
	TxHash        string `json:"tx_hash" validate:"required"`
	Reference     string `json:"reference" validate:"required"`
	Address       string `json:"address"`
	Coin          string `json:"coin" validate:"required"`
	Value         string `json:"value" validate:"required"`
	FiatValue     string `json:"fiat_value"`
	FiatCode      string `json:"fiat_code"`
	Confirmations string `json:"confirmations"`
	MinConfirms   string `json:"min_confirms"`
	Event         string `json:"event"`
}

// NormalizePayload turns a raw provider payload into the
// provider-agnostic reconcile input. Unknown providers and structurally
// invalid payloads are permanent errors.
func NormalizePayload(provider, payload string) (*ReconcileInput, error) {
	switch provider {
	case models.ProviderCoinPayd:
		return normalizeCoinPayd(payload)
	case models.ProviderBlockRail:
		return normalizeBlockRail(payload)
	default:
		return nil, fmt.Errorf("no payload mapping for provider %s", provider)
	}
}

func normalizeCoinPayd(payload string) (*ReconcileInput, error) {
	var ipn coinPaydIPN
	if err := json.Unmarshal([]byte(payload), &ipn); err != nil {
		return nil, fmt.Errorf("malformed coinpayd payload: %w", err)
	}
	if err := validate.Struct(&ipn); err != nil {
		return nil, fmt.Errorf("invalid coinpayd payload: %w", err)
	}
	orderID, err := strconv.ParseUint(ipn.OrderID, 10, 64)
	if err != nil || orderID == 0 {
		return nil, fmt.Errorf("invalid coinpayd order_id %q", ipn.OrderID)
	}
	return &ReconcileInput{
		Provider:              models.ProviderCoinPayd,
		TxID:                  ipn.TxnID,
		OrderID:               uint(orderID),
		Address:               ipn.Address,
		Currency:              ipn.Currency,
		AmountCrypto:          ipn.Amount,
		AmountFiat:            ipn.FiatAmount,
		FiatCurrency:          ipn.FiatCurrency,
		Confirmations:         ipn.Confirms,
		RequiredConfirmations: ipn.ConfirmsNeeded,
		RawPayload:            payload,
	}, nil
}

func normalizeBlockRail(payload string) (*ReconcileInput, error) {
	var n blockRailNotification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil, fmt.Errorf("malformed blockrail payload: %w", err)
	}
	if err := validate.Struct(&n); err != nil {
		return nil, fmt.Errorf("invalid blockrail payload: %w", err)
	}
	orderID, err := strconv.ParseUint(n.Reference, 10, 64)
	if err != nil || orderID == 0 {
		return nil, fmt.Errorf("invalid blockrail reference %q", n.Reference)
	}
	confirms, _ := strconv.Atoi(n.Confirmations)
	required, _ := strconv.Atoi(n.MinConfirms)
	return &ReconcileInput{
		Provider:              models.ProviderBlockRail,
		TxID:                  n.TxHash,
		OrderID:               uint(orderID),
		Address:               n.Address,
		Currency:              n.Coin,
		AmountCrypto:          n.Value,
		AmountFiat:            n.FiatValue,
		FiatCurrency:          n.FiatCode,
		Confirmations:         confirms,
		RequiredConfirmations: required,
		RawPayload:            payload,
	}, nil
}
