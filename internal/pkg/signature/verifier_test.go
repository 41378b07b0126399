package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradesafe-app/paygate/app/models"
)

const (
	testCoinPaydSecret  = "cp-secret-1"
	testBlockRailSecret = "br-secret-1"
)

func hardenedVerifier() *Verifier {
	return NewVerifierWithSecrets(true, map[string]string{
		models.ProviderCoinPayd:  testCoinPaydSecret,
		models.ProviderBlockRail: testBlockRailSecret,
	})
}

func hmacHex(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerify_CoinPaydValidSignature(t *testing.T) {
	v := hardenedVerifier()
	payload := []byte(`{"txn_id":"tx-1","order_id":"42","amount":"0.5"}`)

	err := v.Verify(models.ProviderCoinPayd, payload, hmacHex(testCoinPaydSecret, payload), "1.2.3.4")
	assert.NoError(t, err)
}

func TestVerify_CoinPaydSignatureIsCaseInsensitiveHex(t *testing.T) {
	v := hardenedVerifier()
	payload := []byte(`{"txn_id":"tx-1"}`)
	sig := hmacHex(testCoinPaydSecret, payload)

	assert.NoError(t, v.Verify(models.ProviderCoinPayd, payload, sig, "1.2.3.4"))
	upper := ""
	for _, r := range sig {
		if r >= 'a' && r <= 'f' {
			upper += string(r - 32)
		} else {
			upper += string(r)
		}
	}
	assert.NoError(t, v.Verify(models.ProviderCoinPayd, payload, upper, "1.2.3.4"))
}

func TestVerify_CoinPaydTamperedPayload(t *testing.T) {
	v := hardenedVerifier()
	payload := []byte(`{"txn_id":"tx-1","amount":"0.5"}`)
	sig := hmacHex(testCoinPaydSecret, payload)

	tampered := []byte(`{"txn_id":"tx-1","amount":"99.5"}`)
	err := v.Verify(models.ProviderCoinPayd, tampered, sig, "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_BlockRailSignsSortedForm(t *testing.T) {
	v := hardenedVerifier()

	// Key order in the JSON body must not matter: the canonical form is
	// the sorted query-string encoding.
	payloadA := []byte(`{"tx_hash":"h1","reference":"42","value":"0.5"}`)
	payloadB := []byte(`{"value":"0.5","reference":"42","tx_hash":"h1"}`)

	sig, err := v.Sign(models.ProviderBlockRail, payloadA)
	require.NoError(t, err)

	assert.NoError(t, v.Verify(models.ProviderBlockRail, payloadA, sig, "1.2.3.4"))
	assert.NoError(t, v.Verify(models.ProviderBlockRail, payloadB, sig, "1.2.3.4"))
}

func TestVerify_BlockRailMalformedJSON(t *testing.T) {
	v := hardenedVerifier()
	err := v.Verify(models.ProviderBlockRail, []byte("not-json"), "deadbeef", "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_MalformedSignatureEncoding(t *testing.T) {
	v := hardenedVerifier()
	payload := []byte(`{"txn_id":"tx-1"}`)

	err := v.Verify(models.ProviderCoinPayd, payload, "zz-not-hex", "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_HardenedRejectsMissingSignature(t *testing.T) {
	v := hardenedVerifier()
	err := v.Verify(models.ProviderCoinPayd, []byte(`{}`), "", "1.2.3.4")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestVerify_HardenedRejectsMissingSecret(t *testing.T) {
	v := NewVerifierWithSecrets(true, map[string]string{})
	err := v.Verify(models.ProviderCoinPayd, []byte(`{}`), "deadbeef", "1.2.3.4")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_DevModeToleratesMissingSignature(t *testing.T) {
	v := NewVerifierWithSecrets(false, map[string]string{
		models.ProviderCoinPayd: testCoinPaydSecret,
	})
	assert.NoError(t, v.Verify(models.ProviderCoinPayd, []byte(`{}`), "", "127.0.0.1"))
}

func TestVerify_DevModeToleratesMissingSecret(t *testing.T) {
	v := NewVerifierWithSecrets(false, map[string]string{})
	assert.NoError(t, v.Verify(models.ProviderCoinPayd, []byte(`{}`), "", "127.0.0.1"))
}

func TestVerify_DevModeStillRejectsBadSignature(t *testing.T) {
	// A present-but-wrong signature fails even in dev mode.
	v := NewVerifierWithSecrets(false, map[string]string{
		models.ProviderCoinPayd: testCoinPaydSecret,
	})
	payload := []byte(`{"txn_id":"tx-1"}`)
	err := v.Verify(models.ProviderCoinPayd, payload, hmacHex("wrong-secret", payload), "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerify_UnknownProvider(t *testing.T) {
	v := NewVerifierWithSecrets(true, map[string]string{"stripe": "x"})
	err := v.Verify("stripe", []byte(`{}`), "deadbeef", "1.2.3.4")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSign_RoundTrip(t *testing.T) {
	v := hardenedVerifier()
	payload := []byte(`{"txn_id":"tx-9","order_id":"7"}`)

	sig, err := v.Sign(models.ProviderCoinPayd, payload)
	require.NoError(t, err)
	assert.NoError(t, v.Verify(models.ProviderCoinPayd, payload, sig, "1.2.3.4"))
}
