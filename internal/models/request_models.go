package models

// GenerateRequest is the body of POST /api/generate. Several aliases are
// accepted for each field because older frontends sent different names.
type GenerateRequest struct {
	UseCase      string `json:"useCase"`
	UseCaseSnake string `json:"use_case"`
	UC           string `json:"uc"`
	Template     string `json:"template"`
	Type         string `json:"type"`

	Tone  string `json:"tone"`
	Style string `json:"style"`
	Voice string `json:"voice"`

	Topic   string `json:"topic"`
	Goal    string `json:"goal"`
	Subject string `json:"subject"`
	Title   string `json:"title"`

	Extra        string `json:"extra"`
	Context      string `json:"context"`
	Instructions string `json:"instructions"`
	Prompt       string `json:"prompt"`

	OutLang  string `json:"outLang"`
	Language string `json:"language"`
	Lang     string `json:"lang"`

	Boost  bool   `json:"boost"`
	APIKey string `json:"apiKey"`
	// Honeypot field. Bots fill it, humans never see it.
	HP string `json:"hp"`
}

// SyncCheckoutRequest is the body of POST /api/sync-checkout-session.
type SyncCheckoutRequest struct {
	SessionID string `json:"sessionId"`
}

// SetPlanRequest is the body of POST /api/admin/set-plan.
type SetPlanRequest struct {
	AccountID string `json:"accountId"`
	Plan      string `json:"plan"`
	AdminKey  string `json:"adminKey"`
}

// APIKeyRequest carries a caller key in the body as a fallback to headers.
type APIKeyRequest struct {
	APIKey string `json:"apiKey"`
}
