package apiclient

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Env is the process-start configuration read from the environment.
type Env struct {
	BaseURL        string        `envconfig:"API_BASE_URL"`
	Timeout        time.Duration `envconfig:"API_TIMEOUT" default:"15s"`
	MaxRetries     int           `envconfig:"API_MAX_RETRIES" default:"2"`
	LogoutCooldown time.Duration `envconfig:"API_LOGOUT_COOLDOWN" default:"2s"`
	OfflineRoute   string        `envconfig:"API_OFFLINE_ROUTE" default:"/offline"`
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`
	Environment    string        `envconfig:"ENVIRONMENT" default:"development"`
}

// LoadEnv reads and validates the environment. A missing or relative
// API_BASE_URL is an error wrapping ErrInvalidBaseURL.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("apiclient: process env: %w", err)
	}
	origin, err := parseBaseURL(env.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("API_BASE_URL: %w", err)
	}
	env.BaseURL = origin
	if env.MaxRetries < 0 {
		return nil, fmt.Errorf("apiclient: API_MAX_RETRIES must not be negative, got %d", env.MaxRetries)
	}
	return &env, nil
}

// MustLoadEnv returns the environment or exits the process.
func MustLoadEnv() *Env {
	env, err := LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return env
}

// Options converts the environment into client options.
func (e *Env) Options() []Option {
	return []Option{
		WithTimeout(e.Timeout),
		WithMaxRetries(e.MaxRetries),
	}
}

// GuardOptions converts the environment into session guard options.
func (e *Env) GuardOptions() []GuardOption {
	return []GuardOption{
		WithLogoutCooldown(e.LogoutCooldown),
		WithOfflineRoute(e.OfflineRoute),
	}
}
