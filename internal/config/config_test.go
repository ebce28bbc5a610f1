package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleYAML = `
logging:
  level: debug
  console: true
network: testnet
engine:
  dust_floor: 2000
  default_interval: 10
  send_timeout: 20s
payment:
  driver: http
  http:
    url: http://127.0.0.1:8787/send
    rate_per_sec: 2
storage:
  driver: sqlite
  path: ./data/streamkas.db
persistence:
  debounce: 250ms
  checkpoint: "@every 30s"
`

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, t.TempDir(), "streamkas.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, int64(2000), cfg.Engine.DustFloor)
	assert.Equal(t, "http", cfg.Payment.Driver)
	require.NotNil(t, cfg.Payment.HTTP)
	assert.Equal(t, 2.0, cfg.Payment.HTTP.RatePerSec)
	require.NotNil(t, cfg.Storage)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "@every 30s", cfg.Persistence.Checkpoint)
}

func TestLoadRejectsUnknownAndTrailing(t *testing.T) {
	dir := t.TempDir()

	p := writeFile(t, dir, "a.json", `{"logging":{"level":"info"},"wallets":{}}`)
	_, err := NewConfigManager(p).Load()
	require.Error(t, err)

	p = writeFile(t, dir, "b.json", `{"logging":{"level":"info"}}{}`)
	_, err = NewConfigManager(p).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(Default()))

	cfg := Default()
	cfg.Payment = PaymentConfig{Driver: "http"}
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Payment = PaymentConfig{Driver: "http", HTTP: &PaymentHTTPConfig{URL: "not a url"}}
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Telegram = TelegramConfig{Enabled: true}
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Storage = &StorageConfig{Driver: "sqlite"}
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Network = "devnet"
	require.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Engine.SendTimeout = "soon"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.send_timeout")

	require.Error(t, Validate(nil))
}

func TestLoadOrDefault(t *testing.T) {
	m := NewConfigManager(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, exists, err := m.LoadOrDefault()
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, Default(), cfg)
	assert.Same(t, cfg, m.Get())
}

func TestDuration(t *testing.T) {
	d, err := DurationOr("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = Duration("x", " 2m ")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	d, err = Duration("x", "15")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)

	_, err = Duration("x", "-1s")
	require.Error(t, err)
	_, err = Duration("x", "soon")
	require.ErrorContains(t, err, "x: invalid duration")
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("STREAMKAS_TEST_TOKEN", "from-env")
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := "telegram:\n  enabled: true\n  token: ${STREAMKAS_TEST_TOKEN}\n  chat_id: 7\nstatus:\n  token: ${STREAMKAS_TEST_UNSET}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := NewConfigManager(path).Parse()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Telegram.Token)
	assert.Equal(t, "${STREAMKAS_TEST_UNSET}", cfg.Status.Token)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Telegram = TelegramConfig{Enabled: true, Token: "secret", ChatID: 42}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"logging", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"telegram"}, RestartRequired(changed))

	changed, _ = SummarizeConfigChange(oldCfg, Default())
	assert.Empty(t, changed)
}

func TestWatchPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "streamkas.json", `{"logging":{"level":"info"}}`)

	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "streamkas.json", `{"logging":{"level":"bogus"}}`)
	time.Sleep(400 * time.Millisecond)
	writeFile(t, dir, "streamkas.json", `{"logging":{"level":"debug"}}`)

	select {
	case cfg := <-ch:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not published")
	}
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := NewConfigManager(filepath.Join("..", "..", "streamkas.example.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "127.0.0.1:6060", cfg.Status.Addr)
	assert.False(t, cfg.Telegram.Commands)
}

func TestStatusIsHot(t *testing.T) {
	a, b := Default(), Default()
	b.Status.Enabled = true
	changed, _ := SummarizeConfigChange(a, b)
	assert.Equal(t, []string{"status"}, changed)
	assert.Empty(t, RestartRequired(changed))
}
