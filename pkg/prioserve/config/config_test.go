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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prioserve/prioserve/pkg/prioserve/auth"
	"github.com/prioserve/prioserve/pkg/prioserve/ordering"
	"github.com/prioserve/prioserve/pkg/prioserve/types"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Apply())

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, 4, cfg.Workers)
	assert.Zero(t, cfg.MaxQueueLength, "queue is unbounded by default")
	assert.Equal(t, ordering.CategoryAuthFCFSName, cfg.OrderingPolicy)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, ordering.CategoryAuthFCFSName, policy.Name())
}

func TestLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prioserve.yaml")
	doc := `
listenAddress: 127.0.0.1:8081
workers: 8
maxQueueLength: 100
orderingPolicy: weighted-score
categoryRanks:
  index: 4
authBonus: 3
authTokenDigests:
  - ` + auth.Digest("secret") + `
shutdownGracePeriod: 5s
journalPath: /tmp/prioserve.db
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Apply())

	assert.Equal(t, "127.0.0.1:8081", cfg.ListenAddress)
	assert.Equal(t, ":9090", cfg.AdminAddress, "unset fields keep their defaults")
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 100, cfg.MaxQueueLength)
	assert.Equal(t, 5*time.Second, cfg.ShutdownGracePeriod)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "/tmp/prioserve.db", cfg.JournalPath)

	ranks, err := cfg.Ranks()
	require.NoError(t, err)
	assert.Equal(t, ordering.RankTable{types.KindIndex: 4}, ranks)

	policy, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, ordering.WeightedScoreName, policy.Name())

	verifier, err := cfg.Verifier()
	require.NoError(t, err)
	assert.True(t, verifier.Authenticate("secret"))
	assert.False(t, verifier.Authenticate("other"))
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Parse([]byte("workers: [1, 2]"))
	assert.ErrorContains(t, err, "failed to parse config")

	_, err = Parse([]byte("wrokers: 2"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestLoad_EmptyPathAndDocument(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApply_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		opts    []Option
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid overrides", opts: []Option{WithWorkers(2), WithMaxQueueLength(10), WithListenAddress("localhost:0")}},
		{name: "admin disabled", opts: []Option{WithAdminAddress("")}},
		{name: "zero workers", opts: []Option{WithWorkers(0)}, wantErr: "workers must be positive"},
		{name: "negative queue length", opts: []Option{WithMaxQueueLength(-1)}, wantErr: "maxQueueLength cannot be negative"},
		{name: "bad listen address", opts: []Option{WithListenAddress("8080")}, wantErr: "listenAddress"},
		{name: "bad admin address", opts: []Option{WithAdminAddress("nope")}, wantErr: "adminAddress"},
		{name: "health port out of range", opts: []Option{WithHealthPort(70000)}, wantErr: "healthPort"},
		{name: "unknown policy", opts: []Option{WithOrderingPolicy("random")}, wantErr: "no ordering policy registered"},
		{name: "negative delay", opts: []Option{WithProcessingDelay(-time.Second)}, wantErr: "processingDelay cannot be negative"},
		{
			name:    "unknown kind in ranks",
			mutate:  func(c *Config) { c.CategoryRanks = map[string]int{"checkout": 3} },
			wantErr: "categoryRanks",
		},
		{
			name:    "bad digest",
			mutate:  func(c *Config) { c.AuthTokenDigests = []string{"xyz"} },
			wantErr: "authTokenDigests",
		},
		{
			name:    "negative auth bonus",
			mutate:  func(c *Config) { c.AuthBonus = -1 },
			wantErr: "authBonus cannot be negative",
		},
		{
			name:    "parse concurrency",
			mutate:  func(c *Config) { c.MaxConcurrentParses = 0 },
			wantErr: "maxConcurrentParses must be positive",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			err := cfg.Apply(tc.opts...)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvWorkers, "16")
	t.Setenv(EnvMaxQueueLength, "64")
	t.Setenv(EnvOrderingPolicy, ordering.WeightedScoreName)
	t.Setenv(EnvAuthTokenDigests, auth.Digest("a")+","+auth.Digest("b"))
	t.Setenv(EnvShutdownGracePeriod, "1m")
	t.Setenv(EnvProcessingDelay, "not-a-duration")

	cfg := Default()
	cfg.ApplyEnv(testr.New(t))
	require.NoError(t, cfg.Apply(WithWorkers(12)))

	assert.Equal(t, 12, cfg.Workers, "options take precedence over the environment")
	assert.Equal(t, 64, cfg.MaxQueueLength)
	assert.Equal(t, ordering.WeightedScoreName, cfg.OrderingPolicy)
	assert.Len(t, cfg.AuthTokenDigests, 2)
	assert.Equal(t, time.Minute, cfg.ShutdownGracePeriod)
	assert.Zero(t, cfg.ProcessingDelay, "unparsable values keep the previous setting")
}
