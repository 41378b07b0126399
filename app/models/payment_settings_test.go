package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetPaymentSettings_DefaultsBeforeLoad(t *testing.T) {
	ResetPaymentSettingsForTest()
	t.Cleanup(ResetPaymentSettingsForTest)

	s := GetPaymentSettings()
	assert.Equal(t, ProviderCoinPayd, s.PrimaryProvider)
	assert.Equal(t, ProviderBlockRail, s.BackupProvider)
	assert.True(t, s.FailoverEnabled)
}

func TestUpdatePaymentSettings_SwapsBackupOnPrimaryChange(t *testing.T) {
	ResetPaymentSettingsForTest()
	t.Cleanup(ResetPaymentSettingsForTest)

	updated, err := UpdatePaymentSettings(nil, func(s *PaymentSettings) {
		s.PrimaryProvider = ProviderBlockRail
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderBlockRail, updated.PrimaryProvider)
	assert.Equal(t, ProviderCoinPayd, updated.BackupProvider)

	// Switching back swaps again.
	updated, err = UpdatePaymentSettings(nil, func(s *PaymentSettings) {
		s.PrimaryProvider = ProviderCoinPayd
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderCoinPayd, updated.PrimaryProvider)
	assert.Equal(t, ProviderBlockRail, updated.BackupProvider)
}

func TestUpdatePaymentSettings_NoSwapWithoutPrimaryChange(t *testing.T) {
	ResetPaymentSettingsForTest()
	t.Cleanup(ResetPaymentSettingsForTest)

	updated, err := UpdatePaymentSettings(nil, func(s *PaymentSettings) {
		s.FailoverEnabled = false
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderCoinPayd, updated.PrimaryProvider)
	assert.Equal(t, ProviderBlockRail, updated.BackupProvider)
	assert.False(t, updated.FailoverEnabled)

	// Readers observe the swapped snapshot.
	assert.False(t, GetPaymentSettings().FailoverEnabled)
}

func TestPaymentSettings_IsProviderEnabled(t *testing.T) {
	s := &PaymentSettings{CoinPaydEnabled: true, BlockRailEnabled: false}
	assert.True(t, s.IsProviderEnabled(ProviderCoinPayd))
	assert.False(t, s.IsProviderEnabled(ProviderBlockRail))
	assert.False(t, s.IsProviderEnabled("stripe"))
}
