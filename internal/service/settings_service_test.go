package service

import (
	"context"
	"testing"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = config.Config{
	Chat: testChatConfig,
	Defaults: config.DefaultsConfig{
		AppTheme:          "system",
		BankID:            "acme",
		RiskTolerance:     "moderate",
		InvestmentHorizon: "medium-term",
	},
	Banks: []config.BankConfig{
		{ID: "acme", Name: "Acme Bank"},
		{ID: "northwind", Name: "Northwind Savings"},
	},
}

func TestSettingsDefaults(t *testing.T) {
	svc := NewSettingsService(repository.NewMemoryStore(), testConfig)

	st := svc.Get(context.Background(), testDevice)
	assert.Equal(t, "system", st.AppTheme)
	assert.Equal(t, "flash", st.SelectedAIModelKey)
	assert.Equal(t, "acme", st.SelectedBankID)
	assert.False(t, st.EnableDeepResearch)
	assert.Equal(t, "moderate", st.AnalysisPreferences.RiskTolerance)
}

func TestSettingsUpdatePatch(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	svc := NewSettingsService(store, testConfig)

	theme := "dark"
	deep := true
	bank := "northwind"
	st, err := svc.Update(ctx, testDevice, model.SettingsPatch{
		AppTheme:            &theme,
		EnableDeepResearch:  &deep,
		SelectedBankID:      &bank,
		UserProfile:         &model.UserProfile{Name: "Dana"},
		AnalysisPreferences: &model.AnalysisPreferences{RiskTolerance: "aggressive", InvestmentHorizon: "long-term"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dark", st.AppTheme)
	assert.True(t, st.EnableDeepResearch)
	assert.Equal(t, "Dana", st.UserProfile.Name)
	assert.Equal(t, "flash", st.SelectedAIModelKey)

	raw, ok, err := store.Get(ctx, repository.DeviceKey(testDevice, repository.KeyEnableDeepResearch))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "true", raw)

	_, ok, _ = store.Get(ctx, repository.DeviceKey(testDevice, repository.KeySelectedAIModel))
	assert.False(t, ok, "fields absent from the patch are not written")

	params := svc.ContextParameters(st)
	assert.Equal(t, model.ContextParameters{
		BankID:            "northwind",
		BankName:          "Northwind Savings",
		UserName:          "Dana",
		RiskTolerance:     "aggressive",
		InvestmentHorizon: "long-term",
		DeepResearch:      true,
		ModelKey:          "flash",
	}, params)
}

func TestSettingsCorruptValuesFallBack(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.Set(ctx, repository.DeviceKey(testDevice, repository.KeyUserProfile), "not-json"))
	require.NoError(t, store.Set(ctx, repository.DeviceKey(testDevice, repository.KeyEnableDeepResearch), "maybe"))

	st := NewSettingsService(store, testConfig).Get(ctx, testDevice)
	assert.Empty(t, st.UserProfile.Name)
	assert.False(t, st.EnableDeepResearch)
}

func TestSettingsStoreFailureUsesDefaults(t *testing.T) {
	st := NewSettingsService(failingStore{}, testConfig).Get(context.Background(), testDevice)
	assert.Equal(t, "acme", st.SelectedBankID)
}
