package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/config"
	"github.com/himanshu-sugha/StreamKAS/internal/engine"
	"github.com/himanshu-sugha/StreamKAS/internal/notifier"
	"github.com/himanshu-sugha/StreamKAS/internal/observability/status"
	"github.com/himanshu-sugha/StreamKAS/internal/payment"
	"github.com/himanshu-sugha/StreamKAS/internal/persistence"
	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "memory", "mem":
		return storage.Config{Driver: "memory"}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.Duration("engine.send_timeout", cfg.Engine.SendTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		DustFloor:       cfg.Engine.DustFloor,
		DefaultInterval: cfg.Engine.DefaultInterval,
		SendTimeout:     timeout,
		Sender:          strings.TrimSpace(cfg.Engine.Sender),
	}, nil
}

// newSender builds the configured wallet adapter. demo forces the demo adapter.
func newSender(cfg *config.Config, demo bool, log logx.Logger) (payment.Sender, string, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Payment.Driver))
	if demo || driver == "" {
		driver = "demo"
	}
	switch driver {
	case "demo":
		lat, err := config.DurationOr("payment.demo_latency", cfg.Payment.DemoLatency, 500*time.Millisecond)
		if err != nil {
			return nil, "", err
		}
		return payment.NewDemo(lat, log), driver, nil
	case "http":
		if cfg.Payment.HTTP == nil {
			return nil, "", fmt.Errorf("payment.http is required when payment.driver=http")
		}
		h := cfg.Payment.HTTP
		timeout, err := config.Duration("payment.http.timeout", h.Timeout)
		if err != nil {
			return nil, "", err
		}
		s, err := payment.NewHTTP(payment.HTTPConfig{
			URL:        h.URL,
			Token:      h.Token,
			Timeout:    timeout,
			RatePerSec: int(h.RatePerSec),
		})
		if err != nil {
			return nil, "", err
		}
		return s, driver, nil
	default:
		return nil, "", fmt.Errorf("unknown payment.driver: %s", cfg.Payment.Driver)
	}
}

func mapPersistenceConfig(cfg *config.Config) (persistence.Config, error) {
	debounce, err := config.Duration("persistence.debounce", cfg.Persistence.Debounce)
	if err != nil {
		return persistence.Config{}, err
	}
	return persistence.Config{
		Key:        cfg.Persistence.Key,
		Debounce:   debounce,
		Checkpoint: cfg.Persistence.Checkpoint,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (notifier.TelegramConfig, notifier.Config, error) {
	poll, err := config.DurationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return notifier.TelegramConfig{}, notifier.Config{}, err
	}
	return notifier.TelegramConfig{
			Token:       cfg.Telegram.Token,
			ChatID:      cfg.Telegram.ChatID,
			ThreadID:    cfg.Telegram.ThreadID,
			PollTimeout: poll,
		}, notifier.Config{
			RatePerSec: cfg.Telegram.RatePerSec,
		}, nil
}

func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := cfg.Status
	rt, err := config.DurationOr("status.read_timeout", sc.ReadTimeout, 10*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	// pprof profiles stream for up to 30s by default.
	wt, err := config.DurationOr("status.write_timeout", sc.WriteTimeout, 60*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	return status.Config{
		Enabled:       sc.Enabled,
		Addr:          sc.Addr,
		Token:         sc.Token,
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
		PprofPrefix:   sc.PprofPrefix,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

// validateMappings runs every mapping so a hot reload that would fail at the
// next restart is rejected up front.
func validateMappings(cfg *config.Config) error {
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPersistenceConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		return err
	}
	if _, err := config.Duration("payment.demo_latency", cfg.Payment.DemoLatency); err != nil {
		return err
	}
	if cfg.Payment.HTTP != nil {
		if _, err := config.Duration("payment.http.timeout", cfg.Payment.HTTP.Timeout); err != nil {
			return err
		}
	}
	return nil
}
