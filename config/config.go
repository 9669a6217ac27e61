package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

type Config struct {
	Mode   string `mapstructure:"mode"`
	Server struct {
		HTTPPort string        `mapstructure:"HTTPPort"`
		Timeout  time.Duration `mapstructure:"HTTPTimeout"`
	} `mapstructure:"server"`
	Handlers struct {
		Prometheus struct {
			Port string `mapstructure:"port"`
		} `mapstructure:"prometheus"`
	} `mapstructure:"handlers"`
	Repositories struct {
		Postgres struct {
			Host     string `mapstructure:"host"`
			Password string `mapstructure:"password"`
			Port     string `mapstructure:"port"`
			Username string `mapstructure:"username"`
			DB       string `mapstructure:"db"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"postgres"`
	} `mapstructure:"repositories"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Accounts AccountsConfig `mapstructure:"accounts"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// JWTConfig configures token issuance and validation.
type JWTConfig struct {
	SecretKey string        `mapstructure:"secretKey"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
}

// SMTPConfig configures the outbound mailer. When Enabled is false the
// application logs messages instead of sending them.
type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	// VerifyURL is the public base URL of the clickable verification link
	// embedded in signup emails, e.g. https://example.com/api/enduser-verify.
	VerifyURL string `mapstructure:"verifyURL"`
}

// AccountsConfig holds the account state machine knobs.
type AccountsConfig struct {
	// StaticSalt is the process-wide salt mixed into every digest.
	StaticSalt string `mapstructure:"staticSalt"`
	// VerificationExpiry bounds how long a verification pin can be reissued.
	VerificationExpiry time.Duration `mapstructure:"verificationExpiry"`
	// SessionCacheTTL bounds how long resolved play sessions are cached.
	SessionCacheTTL time.Duration `mapstructure:"sessionCacheTTL"`
}

// RegistryConfig holds the server registry and stats aggregation knobs.
type RegistryConfig struct {
	PlayerLimit     int           `mapstructure:"playerLimit"`
	ServerTimeout   time.Duration `mapstructure:"serverTimeout"`
	StatsUpdateRate time.Duration `mapstructure:"statsUpdateRate"`
	// StatsCSVPath is the live append-only sample log. Empty disables the sink.
	StatsCSVPath string `mapstructure:"statsCSVPath"`
	// HistoricalCSVPath is a frozen sample log concatenated into reports.
	HistoricalCSVPath string `mapstructure:"historicalCSVPath"`
	// ExcludedDates lists YYYY/MM/DD prefixes filtered out of stats reports.
	ExcludedDates []string `mapstructure:"excludedDates"`
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %s", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %s", err)
	}
	return config, nil
}
