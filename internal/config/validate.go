package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct rules and every duration field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := structValidator().Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	durations := map[string]string{
		"engine.send_timeout":   cfg.Engine.SendTimeout,
		"payment.demo_latency":  cfg.Payment.DemoLatency,
		"persistence.debounce":  cfg.Persistence.Debounce,
		"telegram.poll_timeout": cfg.Telegram.PollTimeout,
		"status.read_timeout":   cfg.Status.ReadTimeout,
		"status.write_timeout":  cfg.Status.WriteTimeout,
	}
	if cfg.Payment.HTTP != nil {
		durations["payment.http.timeout"] = cfg.Payment.HTTP.Timeout
	}
	if cfg.Storage != nil {
		durations["storage.busy_timeout"] = cfg.Storage.BusyTimeout
	}
	for path, raw := range durations {
		if _, err := Duration(path, raw); err != nil {
			return err
		}
	}
	return nil
}
