package domain

// GatewayCredentials authenticate against the WhatsApp gateway API.
type GatewayCredentials struct {
	BaseURL     string `json:"baseUrl,omitempty"`
	Instance    string `json:"instance"`
	Token       string `json:"token"`
	ClientToken string `json:"clientToken,omitempty"`
}

// Complete reports whether the credentials can be used to send.
func (c GatewayCredentials) Complete() bool {
	return c.Instance != "" && c.Token != ""
}

// AdminConfig is the singleton settings document edited from the admin panel.
// Completion parameters are kept as the raw strings the panel saved.
type AdminConfig struct {
	Gateway       GatewayCredentials `json:"gateway"`
	Model         string             `json:"model,omitempty"`
	Temperature   string             `json:"temperature,omitempty"`
	MaxTokens     string             `json:"maxTokens,omitempty"`
	SystemPrompt  string             `json:"systemPrompt,omitempty"`
	AIDisplayName string             `json:"aiDisplayName,omitempty"`
}
