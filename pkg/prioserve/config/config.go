/*
Copyright 2025 The prioserve Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the prioserve runtime configuration: defaults, an optional YAML file, environment overrides
// and command-line options, applied in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"

	"github.com/prioserve/prioserve/pkg/prioserve/auth"
	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
	"github.com/prioserve/prioserve/pkg/prioserve/util/env"
)

const (
	defaultListenAddress       = ":8080"
	defaultAdminAddress        = ":9090"
	defaultHealthPort          = 9003
	defaultWorkers             = 4
	defaultReadTimeout         = 10 * time.Second
	defaultWriteTimeout        = 10 * time.Second
	defaultShutdownGracePeriod = 30 * time.Second
	defaultMaxConcurrentParses = 256
)

// Environment variables read by ApplyEnv.
const (
	EnvListenAddress       = "PRIOSERVE_LISTEN_ADDRESS"
	EnvAdminAddress        = "PRIOSERVE_ADMIN_ADDRESS"
	EnvHealthPort          = "PRIOSERVE_HEALTH_PORT"
	EnvWorkers             = "PRIOSERVE_WORKERS"
	EnvMaxQueueLength      = "PRIOSERVE_MAX_QUEUE_LENGTH"
	EnvOrderingPolicy      = "PRIOSERVE_ORDERING_POLICY"
	EnvAuthTokenDigests    = "PRIOSERVE_AUTH_TOKEN_DIGESTS"
	EnvShutdownGracePeriod = "PRIOSERVE_SHUTDOWN_GRACE_PERIOD"
	EnvJournalPath         = "PRIOSERVE_JOURNAL_PATH"
	EnvProcessingDelay     = "PRIOSERVE_PROCESSING_DELAY"
	EnvEnablePprof         = "PRIOSERVE_ENABLE_PPROF"
	EnvEnableTracing       = "PRIOSERVE_ENABLE_TRACING"
)

// Config holds the configuration of a prioserve process.
type Config struct {
	// ListenAddress is the TCP address clients send requests to.
	ListenAddress string `yaml:"listenAddress"`
	// AdminAddress serves health, readiness, metrics and debug endpoints. Empty disables the admin server.
	AdminAddress string `yaml:"adminAddress"`
	// HealthPort is the port of the gRPC health service. Zero disables it.
	HealthPort int `yaml:"healthPort"`
	// EnablePprof serves /debug/pprof on the admin server.
	EnablePprof bool `yaml:"enablePprof"`
	// EnableTracing exports a span per processed request, configured through the OTEL_* environment variables.
	EnableTracing bool `yaml:"enableTracing"`

	// Workers is the number of concurrent workers.
	Workers int `yaml:"workers"`
	// MaxQueueLength bounds pending requests. Zero means unbounded.
	MaxQueueLength int `yaml:"maxQueueLength"`
	// MaxConcurrentParses bounds the connections being read at once.
	MaxConcurrentParses int64 `yaml:"maxConcurrentParses"`

	// OrderingPolicy names a registered ordering policy.
	OrderingPolicy string `yaml:"orderingPolicy"`
	// CategoryRanks overrides the policy's rank (or weight) per kind name, e.g. {"shopping": 5}.
	CategoryRanks map[string]int `yaml:"categoryRanks"`
	// AuthBonus is the score added to authenticated requests by the weighted-score policy. Zero selects its default.
	AuthBonus int `yaml:"authBonus"`
	// AuthTokenDigests lists hex SHA3-256 digests of accepted tokens. Empty accepts any non-empty token.
	AuthTokenDigests []string `yaml:"authTokenDigests"`

	// ReadTimeout bounds the time a client may take to send its request head.
	ReadTimeout time.Duration `yaml:"readTimeout"`
	// WriteTimeout bounds the time spent writing a response.
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	// ShutdownGracePeriod is how long shutdown waits for pending requests to be processed before answering the rest
	// with 503.
	ShutdownGracePeriod time.Duration `yaml:"shutdownGracePeriod"`
	// ProcessingDelay is an artificial pause before each request is processed, for demonstrations.
	ProcessingDelay time.Duration `yaml:"processingDelay"`

	// JournalPath is the SQLite file recording finished requests. Empty disables the journal.
	JournalPath string `yaml:"journalPath"`
}

// Option is a functional option applied over a loaded Config.
type Option func(*Config)

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		ListenAddress:       defaultListenAddress,
		AdminAddress:        defaultAdminAddress,
		HealthPort:          defaultHealthPort,
		Workers:             defaultWorkers,
		MaxConcurrentParses: defaultMaxConcurrentParses,
		OrderingPolicy:      ordering.CategoryAuthFCFSName,
		ReadTimeout:         defaultReadTimeout,
		WriteTimeout:        defaultWriteTimeout,
		ShutdownGracePeriod: defaultShutdownGracePeriod,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse returns the defaults overlaid with the YAML document in data. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PRIOSERVE_* environment variables.
func (c *Config) ApplyEnv(logger logr.Logger) {
	c.ListenAddress = env.GetEnvString(EnvListenAddress, c.ListenAddress, logger)
	c.AdminAddress = env.GetEnvString(EnvAdminAddress, c.AdminAddress, logger)
	c.HealthPort = env.GetEnvInt(EnvHealthPort, c.HealthPort, logger)
	c.Workers = env.GetEnvInt(EnvWorkers, c.Workers, logger)
	c.MaxQueueLength = env.GetEnvInt(EnvMaxQueueLength, c.MaxQueueLength, logger)
	c.OrderingPolicy = env.GetEnvString(EnvOrderingPolicy, c.OrderingPolicy, logger)
	c.AuthTokenDigests = env.GetEnvStringSlice(EnvAuthTokenDigests, c.AuthTokenDigests, logger)
	c.ShutdownGracePeriod = env.GetEnvDuration(EnvShutdownGracePeriod, c.ShutdownGracePeriod, logger)
	c.JournalPath = env.GetEnvString(EnvJournalPath, c.JournalPath, logger)
	c.ProcessingDelay = env.GetEnvDuration(EnvProcessingDelay, c.ProcessingDelay, logger)
	c.EnablePprof = env.GetEnvBool(EnvEnablePprof, c.EnablePprof, logger)
	c.EnableTracing = env.GetEnvBool(EnvEnableTracing, c.EnableTracing, logger)
}

// Apply applies opts and validates the result.
func (c *Config) Apply(opts ...Option) error {
	for _, opt := range opts {
		opt(c)
	}
	return c.validate()
}

// WithListenAddress sets the request listener address.
func WithListenAddress(addr string) Option {
	return func(c *Config) {
		c.ListenAddress = addr
	}
}

// WithAdminAddress sets the admin server address.
func WithAdminAddress(addr string) Option {
	return func(c *Config) {
		c.AdminAddress = addr
	}
}

// WithHealthPort sets the gRPC health port.
func WithHealthPort(port int) Option {
	return func(c *Config) {
		c.HealthPort = port
	}
}

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

// WithMaxQueueLength sets the queue bound.
func WithMaxQueueLength(n int) Option {
	return func(c *Config) {
		c.MaxQueueLength = n
	}
}

// WithOrderingPolicy sets the ordering policy name.
func WithOrderingPolicy(name string) Option {
	return func(c *Config) {
		c.OrderingPolicy = name
	}
}

// WithJournalPath sets the journal file.
func WithJournalPath(path string) Option {
	return func(c *Config) {
		c.JournalPath = path
	}
}

// WithPprof toggles the /debug/pprof endpoints.
func WithPprof(enabled bool) Option {
	return func(c *Config) {
		c.EnablePprof = enabled
	}
}

// WithTracing toggles OpenTelemetry tracing.
func WithTracing(enabled bool) Option {
	return func(c *Config) {
		c.EnableTracing = enabled
	}
}

// WithProcessingDelay sets the artificial processing delay.
func WithProcessingDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ProcessingDelay = d
	}
}

// Ranks converts CategoryRanks to a rank table.
func (c *Config) Ranks() (ordering.RankTable, error) {
	if len(c.CategoryRanks) == 0 {
		return nil, nil
	}
	table := make(ordering.RankTable, len(c.CategoryRanks))
	for name, rank := range c.CategoryRanks {
		kind, err := types.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("categoryRanks: %w", err)
		}
		table[kind] = rank
	}
	return table, nil
}

// Policy builds the configured ordering policy.
func (c *Config) Policy() (ordering.Policy, error) {
	ranks, err := c.Ranks()
	if err != nil {
		return nil, err
	}
	return ordering.New(c.OrderingPolicy, ordering.Params{Ranks: ranks, AuthBonus: c.AuthBonus})
}

// Verifier builds the token verifier.
func (c *Config) Verifier() (*auth.Verifier, error) {
	return auth.NewVerifier(c.AuthTokenDigests)
}

// validate checks the configuration for validity.
func (c *Config) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return fmt.Errorf("listenAddress %q is invalid: %w", c.ListenAddress, err)
	}
	if c.AdminAddress != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddress); err != nil {
			return fmt.Errorf("adminAddress %q is invalid: %w", c.AdminAddress, err)
		}
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("healthPort must be within [0, 65535], but got %d", c.HealthPort)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, but got %d", c.Workers)
	}
	if c.MaxQueueLength < 0 {
		return fmt.Errorf("maxQueueLength cannot be negative, but got %d", c.MaxQueueLength)
	}
	if c.MaxConcurrentParses <= 0 {
		return fmt.Errorf("maxConcurrentParses must be positive, but got %d", c.MaxConcurrentParses)
	}
	if c.AuthBonus < 0 {
		return fmt.Errorf("authBonus cannot be negative, but got %d", c.AuthBonus)
	}
	for name, d := range map[string]time.Duration{
		"readTimeout":         c.ReadTimeout,
		"writeTimeout":        c.WriteTimeout,
		"shutdownGracePeriod": c.ShutdownGracePeriod,
		"processingDelay":     c.ProcessingDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s cannot be negative, but got %v", name, d)
		}
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := c.Verifier(); err != nil {
		return fmt.Errorf("authTokenDigests: %w", err)
	}
	return nil
}
