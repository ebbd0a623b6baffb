// Package config holds the operator-wide defaults consumed by every
// reconciliation pass. The record is built once at startup and passed by
// value; nothing mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults is the process-wide configuration. Per-service annotations
// override the matching field during spec resolution.
type Defaults struct {
	// HCloudToken authenticates against the Hetzner Cloud API.
	// Never read from the config file, only from the environment.
	HCloudToken string `yaml:"-"`

	// Network is the cloud network newly created balancers are attached
	// to when the service does not name one. Empty means no attachment.
	Network string `yaml:"network"`

	// DynamicNodeSelector switches target resolution from the static
	// node-selector annotation to pod placement.
	DynamicNodeSelector bool `yaml:"dynamicNodeSelector"`

	// Health check defaults, in seconds on the wire.
	CheckInterval int `yaml:"checkInterval"`
	CheckTimeout  int `yaml:"checkTimeout"`
	CheckRetries  int `yaml:"checkRetries"`

	Location     string `yaml:"location"`
	BalancerType string `yaml:"balancerType"`
	Algorithm    string `yaml:"algorithm"`
	ProxyMode    bool   `yaml:"proxyMode"`

	// IPv6Ingress additionally publishes the balancer's public IPv6
	// address on the service status.
	IPv6Ingress bool `yaml:"ipv6Ingress"`

	// MaxConcurrentReconciles bounds the reconciliation worker pool.
	MaxConcurrentReconciles int `yaml:"maxConcurrentReconciles"`

	// ResyncPeriod is the periodic requeue interval after a successful
	// pass. Keeps the cloud state converged even without cluster events.
	ResyncPeriod time.Duration `yaml:"resyncPeriod"`
}

// New returns the built-in defaults.
func New() Defaults {
	return Defaults{
		CheckInterval:           15,
		CheckTimeout:            10,
		CheckRetries:            3,
		Location:                "fsn1",
		BalancerType:            "lb11",
		Algorithm:               "round-robin",
		MaxConcurrentReconciles: 4,
		ResyncPeriod:            30 * time.Second,
	}
}

// Load builds the Defaults record: built-in values, then the optional
// YAML file at path, then ROBOTLB_* environment variables.
func Load(path string) (Defaults, error) {
	d := New()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return d, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &d); err != nil {
			return d, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	}

	if err := d.fromEnv(); err != nil {
		return d, err
	}

	if err := d.Validate(); err != nil {
		return d, fmt.Errorf("configuration validation failed: %w", err)
	}
	return d, nil
}

func (d *Defaults) fromEnv() error {
	if v := os.Getenv("ROBOTLB_HCLOUD_TOKEN"); v != "" {
		d.HCloudToken = v
	} else if v := os.Getenv("HCLOUD_TOKEN"); v != "" {
		d.HCloudToken = v
	}

	stringVars := map[string]*string{
		"ROBOTLB_DEFAULT_NETWORK":       &d.Network,
		"ROBOTLB_DEFAULT_LOCATION":      &d.Location,
		"ROBOTLB_DEFAULT_BALANCER_TYPE": &d.BalancerType,
		"ROBOTLB_DEFAULT_LB_ALGORITHM":  &d.Algorithm,
	}
	for key, dst := range stringVars {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	intVars := map[string]*int{
		"ROBOTLB_DEFAULT_LB_INTERVAL": &d.CheckInterval,
		"ROBOTLB_DEFAULT_LB_TIMEOUT":  &d.CheckTimeout,
		"ROBOTLB_DEFAULT_LB_RETRIES":  &d.CheckRetries,
	}
	for key, dst := range intVars {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, v)
		}
		*dst = n
	}

	boolVars := map[string]*bool{
		"ROBOTLB_DYNAMIC_NODE_SELECTOR": &d.DynamicNodeSelector,
		"ROBOTLB_DEFAULT_PROXY_MODE":    &d.ProxyMode,
		"ROBOTLB_IPV6_INGRESS":          &d.IPv6Ingress,
	}
	for key, dst := range boolVars {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %q", key, v)
		}
		*dst = b
	}

	return nil
}

// Validate checks the record for values no reconciliation could work with.
func (d Defaults) Validate() error {
	if d.HCloudToken == "" {
		return fmt.Errorf("hcloud token is required (set ROBOTLB_HCLOUD_TOKEN or HCLOUD_TOKEN)")
	}
	if d.CheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %d", d.CheckInterval)
	}
	if d.CheckTimeout <= 0 {
		return fmt.Errorf("health check timeout must be positive, got %d", d.CheckTimeout)
	}
	if d.CheckRetries <= 0 {
		return fmt.Errorf("health check retries must be positive, got %d", d.CheckRetries)
	}
	if d.Location == "" {
		return fmt.Errorf("default location must not be empty")
	}
	if d.BalancerType == "" {
		return fmt.Errorf("default balancer type must not be empty")
	}
	switch d.Algorithm {
	case "round-robin", "least-connections":
	default:
		return fmt.Errorf("unknown default algorithm %q", d.Algorithm)
	}
	if d.MaxConcurrentReconciles <= 0 {
		return fmt.Errorf("max concurrent reconciles must be positive, got %d", d.MaxConcurrentReconciles)
	}
	if d.ResyncPeriod <= 0 {
		return fmt.Errorf("resync period must be positive, got %s", d.ResyncPeriod)
	}
	return nil
}
