package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"fin-chat-go/internal/config"
	"fin-chat-go/internal/model"
	"fin-chat-go/internal/repository"
	"fin-chat-go/pkg/log"
)

// SettingsService 定义了按设备读写偏好设置的接口。
type SettingsService interface {
	Get(ctx context.Context, deviceID string) model.Settings
	Update(ctx context.Context, deviceID string, patch model.SettingsPatch) (model.Settings, error)
	ContextParameters(s model.Settings) model.ContextParameters
}

type settingsService struct {
	store repository.Store
	cfg   config.Config
}

// NewSettingsService 创建一个新的 SettingsService。
func NewSettingsService(store repository.Store, cfg config.Config) SettingsService {
	return &settingsService{store: store, cfg: cfg}
}

func (s *settingsService) defaults() model.Settings {
	return model.Settings{
		AppTheme:           s.cfg.Defaults.AppTheme,
		SelectedAIModelKey: s.cfg.Chat.DefaultModel,
		SelectedBankID:     s.cfg.Defaults.BankID,
		AnalysisPreferences: model.AnalysisPreferences{
			RiskTolerance:     s.cfg.Defaults.RiskTolerance,
			InvestmentHorizon: s.cfg.Defaults.InvestmentHorizon,
		},
	}
}

// Get 逐键读取设置；缺失、损坏或读取失败的键回退为默认值。
func (s *settingsService) Get(ctx context.Context, deviceID string) model.Settings {
	st := s.defaults()

	if v, ok := s.read(ctx, deviceID, repository.KeyAppTheme); ok {
		st.AppTheme = v
	}
	if v, ok := s.read(ctx, deviceID, repository.KeySelectedAIModel); ok {
		st.SelectedAIModelKey = v
	}
	if v, ok := s.read(ctx, deviceID, repository.KeyEnableDeepResearch); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			st.EnableDeepResearch = b
		}
	}
	if v, ok := s.read(ctx, deviceID, repository.KeySelectedBankID); ok {
		st.SelectedBankID = v
	}
	if v, ok := s.read(ctx, deviceID, repository.KeyUserProfile); ok {
		var p model.UserProfile
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			st.UserProfile = p
		} else {
			log.Warnf("用户资料数据已损坏: device=%s, err=%v", deviceID, err)
		}
	}
	if v, ok := s.read(ctx, deviceID, repository.KeyAnalysisPreferences); ok {
		var p model.AnalysisPreferences
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			st.AnalysisPreferences = p
		} else {
			log.Warnf("分析偏好数据已损坏: device=%s, err=%v", deviceID, err)
		}
	}
	return st
}

func (s *settingsService) read(ctx context.Context, deviceID, key string) (string, bool) {
	v, ok, err := s.store.Get(ctx, repository.DeviceKey(deviceID, key))
	if err != nil {
		log.Errorf("读取设置失败: device=%s, key=%s, err=%v", deviceID, key, err)
		return "", false
	}
	return v, ok
}

// Update 只写入 patch 中给出的字段，每个字段对应一个键。
func (s *settingsService) Update(ctx context.Context, deviceID string, patch model.SettingsPatch) (model.Settings, error) {
	writes := map[string]string{}
	if patch.AppTheme != nil {
		writes[repository.KeyAppTheme] = *patch.AppTheme
	}
	if patch.SelectedAIModelKey != nil {
		writes[repository.KeySelectedAIModel] = *patch.SelectedAIModelKey
	}
	if patch.EnableDeepResearch != nil {
		writes[repository.KeyEnableDeepResearch] = strconv.FormatBool(*patch.EnableDeepResearch)
	}
	if patch.SelectedBankID != nil {
		writes[repository.KeySelectedBankID] = *patch.SelectedBankID
	}
	if patch.UserProfile != nil {
		b, err := json.Marshal(patch.UserProfile)
		if err != nil {
			return model.Settings{}, fmt.Errorf("failed to marshal user profile: %w", err)
		}
		writes[repository.KeyUserProfile] = string(b)
	}
	if patch.AnalysisPreferences != nil {
		b, err := json.Marshal(patch.AnalysisPreferences)
		if err != nil {
			return model.Settings{}, fmt.Errorf("failed to marshal analysis preferences: %w", err)
		}
		writes[repository.KeyAnalysisPreferences] = string(b)
	}

	for key, value := range writes {
		if err := s.store.Set(ctx, repository.DeviceKey(deviceID, key), value); err != nil {
			return model.Settings{}, fmt.Errorf("failed to save setting %s: %w", key, err)
		}
	}
	return s.Get(ctx, deviceID), nil
}

func (s *settingsService) ContextParameters(st model.Settings) model.ContextParameters {
	modelKey := st.SelectedAIModelKey
	if modelKey == "" {
		modelKey = s.cfg.Chat.DefaultModel
	}
	return model.ContextParameters{
		BankID:            st.SelectedBankID,
		BankName:          s.cfg.BankName(st.SelectedBankID),
		UserName:          st.UserProfile.Name,
		RiskTolerance:     st.AnalysisPreferences.RiskTolerance,
		InvestmentHorizon: st.AnalysisPreferences.InvestmentHorizon,
		DeepResearch:      st.EnableDeepResearch,
		ModelKey:          modelKey,
	}
}
