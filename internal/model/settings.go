package model

// UserProfile 是用户在客户端填写的个人信息。
type UserProfile struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// AnalysisPreferences 是分析偏好：风险承受能力与投资期限。
type AnalysisPreferences struct {
	RiskTolerance     string `json:"riskTolerance"`
	InvestmentHorizon string `json:"investmentHorizon"`
}

// Settings 汇总了按设备持久化的所有偏好设置。
type Settings struct {
	AppTheme            string              `json:"appTheme"`
	SelectedAIModelKey  string              `json:"selectedAiModelKey"`
	EnableDeepResearch  bool                `json:"enableDeepResearch"`
	SelectedBankID      string              `json:"selectedBankId"`
	UserProfile         UserProfile         `json:"userProfile"`
	AnalysisPreferences AnalysisPreferences `json:"analysisPreferences"`
}

// SettingsPatch 用于部分更新，nil 字段保持不变。
type SettingsPatch struct {
	AppTheme            *string              `json:"appTheme"`
	SelectedAIModelKey  *string              `json:"selectedAiModelKey"`
	EnableDeepResearch  *bool                `json:"enableDeepResearch"`
	SelectedBankID      *string              `json:"selectedBankId"`
	UserProfile         *UserProfile         `json:"userProfile"`
	AnalysisPreferences *AnalysisPreferences `json:"analysisPreferences"`
}
