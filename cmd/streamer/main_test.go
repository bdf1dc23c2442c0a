package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang-intel-service/internal/channel"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadConfigOverrides(t *testing.T) {
	assert := assert.New(t)

	envFile := filepath.Join(t.TempDir(), "streamer.env")
	require.Nil(t, os.WriteFile(envFile, []byte("WS_PORT=9000\nSOURCE=simulated\n"), 0o600))

	cmdArgs = cliArgs{EnvFile: envFile, Port: "9100", LogLevel: "debug"}
	t.Cleanup(func() { cmdArgs = cliArgs{} })

	cfg, err := loadConfig()
	require.Nil(t, err)
	assert.Equal("9100", cfg.Server.Port)
	assert.Equal("debug", cfg.Logging.Level)
	assert.Equal("simulated", cfg.Producer.Source)

	// Overrides are validated like the environment
	cmdArgs.Source = "redis"
	_, err = loadConfig()
	assert.NotNil(err)
}

func TestLoadConfigOverrideRepairsEnvironment(t *testing.T) {
	t.Setenv("SOURCE", "bogus")
	cmdArgs = cliArgs{EnvFile: filepath.Join(t.TempDir(), "missing.env")}
	t.Cleanup(func() { cmdArgs = cliArgs{} })

	// Case 1: the environment alone is invalid
	_, err := loadConfig()
	assert.NotNil(t, err)

	// Case 2: the flag replaces it before validation
	cmdArgs.Source = "simulated"
	cfg, err := loadConfig()
	require.Nil(t, err)
	assert.Equal(t, "simulated", cfg.Producer.Source)
}

func TestApplicationRunAndStop(t *testing.T) {
	t.Setenv("WS_PORT", "0")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("SIMULATED_RATE", "200")
	cmdArgs = cliArgs{EnvFile: filepath.Join(t.TempDir(), "missing.env")}
	t.Cleanup(func() { cmdArgs = cliArgs{} })

	cfg, err := loadConfig()
	require.Nil(t, err)

	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApplication(ctxt, cfg, zap.NewNop())
	require.Nil(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Run(ctxt) }()

	assert.Eventually(t, func() bool { return app.cache.Len() > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, app.pump.Running())

	cancel()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("application did not stop")
	}
	assert.False(t, app.pump.Running())
}

func TestBuildRecord(t *testing.T) {
	assert := assert.New(t)
	registry := channel.DefaultRegistry()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rec, err := buildRecord(registry, "market_data", "AAPL", `{"price": 101}`, now)
	require.Nil(t, err)
	assert.Equal(channel.MarketData, rec.Category)
	assert.Equal("AAPL", rec.Key)
	assert.Equal(float64(101), rec.Payload["price"])
	assert.Equal(now, rec.Timestamp)

	// Case 1: unknown category
	_, err = buildRecord(registry, "weather", "x", "{}", now)
	assert.NotNil(err)

	// Case 2: missing key
	_, err = buildRecord(registry, "market_data", "", "{}", now)
	assert.NotNil(err)

	// Case 3: payload that is not a JSON object
	_, err = buildRecord(registry, "market_data", "AAPL", `[1, 2]`, now)
	assert.NotNil(err)
}
