package api

// TokenResponse describes a registered credential. The secret is never returned.
type TokenResponse struct {
	ID           int64  `json:"id"`
	Supplier     string `json:"supplier"`
	BaseURL      string `json:"base_url,omitempty"`
	Weight       int    `json:"weight"`
	Status       string `json:"status"`
	SecretPrefix string `json:"secret_prefix"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
