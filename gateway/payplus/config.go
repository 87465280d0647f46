package payplus

import "time"

const (
	SandboxBaseURL    = "https://restapidev.payplus.co.il/api/v1.0"
	ProductionBaseURL = "https://restapi.payplus.co.il/api/v1.0"
)

// Config holds PayPlus terminal credentials. It is read once when the
// adapter is built.
type Config struct {
	APIKey         string        `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	SecretKey      string        `json:"secret_key" mapstructure:"secret_key" yaml:"secret_key"`
	TerminalUID    string        `json:"terminal_uid" mapstructure:"terminal_uid" yaml:"terminal_uid"`
	CashierUID     string        `json:"cashier_uid" mapstructure:"cashier_uid" yaml:"cashier_uid"`
	PaymentPageUID string        `json:"payment_page_uid" mapstructure:"payment_page_uid" yaml:"payment_page_uid"`
	Sandbox        bool          `json:"sandbox" mapstructure:"sandbox" yaml:"sandbox"`
	BaseURL        string        `json:"base_url,omitempty" mapstructure:"base_url" yaml:"base_url,omitempty"`
	Language       string        `json:"language" mapstructure:"language" yaml:"language"`
	LinkExpiry     time.Duration `json:"link_expiry" mapstructure:"link_expiry" yaml:"link_expiry"`
	Timeout        time.Duration `json:"timeout" mapstructure:"timeout" yaml:"timeout"`

	// RequestsPerSecond bounds outbound API calls; Burst allows short spikes.
	RequestsPerSecond float64 `json:"requests_per_second" mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `json:"burst" mapstructure:"burst" yaml:"burst"`
}

// DefaultConfig returns a sandbox configuration without credentials.
func DefaultConfig() Config {
	return Config{
		Sandbox:           true,
		Language:          "he",
		LinkExpiry:        time.Hour,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             5,
	}
}

func (c Config) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	if c.Sandbox {
		return SandboxBaseURL
	}
	return ProductionBaseURL
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Language == "" {
		c.Language = d.Language
	}
	if c.LinkExpiry <= 0 {
		c.LinkExpiry = d.LinkExpiry
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = d.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	return c
}
