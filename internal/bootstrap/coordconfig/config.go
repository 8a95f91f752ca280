// Package coordconfig loads the daemon's yaml configuration and resolves
// it against defaults and environment overrides.
package coordconfig

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"blockroute/go-coordinator/internal/contextstore"
	"blockroute/go-coordinator/internal/ledger"
	"blockroute/go-coordinator/internal/subscription"
)

type DaemonConfig struct {
	Ledger       ledger.Config       `yaml:"ledger"`
	Context      contextstore.Config `yaml:"context"`
	Subscription subscription.Config `yaml:"subscription"`
	Coordinator  CoordinatorConfig   `yaml:"coordinator"`
}

type CoordinatorConfig struct {
	LedgerRetries  int           `yaml:"ledgerRetries"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
	MirrorTimeout  time.Duration `yaml:"mirrorTimeout"`
	Retention      time.Duration `yaml:"retention"`
}

func Defaults() DaemonConfig {
	return DaemonConfig{
		Ledger:       ledger.DefaultConfig(),
		Context:      contextstore.DefaultConfig(),
		Subscription: subscription.DefaultConfig(),
		Coordinator: CoordinatorConfig{
			LedgerRetries:  3,
			ConfirmTimeout: 2 * time.Minute,
			MirrorTimeout:  10 * time.Second,
			Retention:      24 * time.Hour,
		},
	}
}

func LoadFromPath(configPath string) DaemonConfig {
	cfg := Defaults()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-coordinator/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed DaemonConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *DaemonConfig, src DaemonConfig) {
	if src.Ledger.Transport != "" {
		dst.Ledger.Transport = src.Ledger.Transport
	}
	if src.Ledger.Endpoint != "" {
		dst.Ledger.Endpoint = src.Ledger.Endpoint
	}
	if src.Ledger.ContractAddress != "" {
		dst.Ledger.ContractAddress = src.Ledger.ContractAddress
	}
	if src.Ledger.SenderAddress != "" {
		dst.Ledger.SenderAddress = src.Ledger.SenderAddress
	}
	if src.Ledger.PollInterval != 0 {
		dst.Ledger.PollInterval = src.Ledger.PollInterval
	}
	if src.Ledger.RequestTimeout != 0 {
		dst.Ledger.RequestTimeout = src.Ledger.RequestTimeout
	}
	if src.Context.RPCEndpoint != "" {
		dst.Context.RPCEndpoint = src.Context.RPCEndpoint
	}
	if src.Context.WSEndpoint != "" {
		dst.Context.WSEndpoint = src.Context.WSEndpoint
	}
	if src.Context.ApplicationID != "" {
		dst.Context.ApplicationID = src.Context.ApplicationID
	}
	if src.Context.RequestTimeout != 0 {
		dst.Context.RequestTimeout = src.Context.RequestTimeout
	}
	if src.Subscription.Endpoint != "" {
		dst.Subscription.Endpoint = src.Subscription.Endpoint
	}
	if src.Subscription.ReconnectInterval != 0 {
		dst.Subscription.ReconnectInterval = src.Subscription.ReconnectInterval
	}
	if src.Subscription.ReconnectBackoffMax != 0 {
		dst.Subscription.ReconnectBackoffMax = src.Subscription.ReconnectBackoffMax
	}
	if src.Subscription.MaxReconnectTries != 0 {
		dst.Subscription.MaxReconnectTries = src.Subscription.MaxReconnectTries
	}
	if src.Subscription.Buffer != 0 {
		dst.Subscription.Buffer = src.Subscription.Buffer
	}
	if src.Coordinator.LedgerRetries != 0 {
		dst.Coordinator.LedgerRetries = src.Coordinator.LedgerRetries
	}
	if src.Coordinator.ConfirmTimeout != 0 {
		dst.Coordinator.ConfirmTimeout = src.Coordinator.ConfirmTimeout
	}
	if src.Coordinator.MirrorTimeout != 0 {
		dst.Coordinator.MirrorTimeout = src.Coordinator.MirrorTimeout
	}
	if src.Coordinator.Retention != 0 {
		dst.Coordinator.Retention = src.Coordinator.Retention
	}
}

func ApplyEnvOverrides(cfg *DaemonConfig) {
	if transport := strings.TrimSpace(os.Getenv("BLOCKROUTE_LEDGER_TRANSPORT")); transport != "" {
		cfg.Ledger.Transport = transport
	}
	if endpoint := strings.TrimSpace(os.Getenv("BLOCKROUTE_LEDGER_ENDPOINT")); endpoint != "" {
		cfg.Ledger.Endpoint = endpoint
	}
	if appID := strings.TrimSpace(os.Getenv("BLOCKROUTE_CONTEXT_APPLICATION_ID")); appID != "" {
		cfg.Context.ApplicationID = appID
	}
	if raw := strings.TrimSpace(os.Getenv("BLOCKROUTE_LEDGER_RETRIES")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.Coordinator.LedgerRetries = v
		}
	}
}
