package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

// HotSections can be applied without a restart.
var HotSections = map[string]bool{"logging": true, "status": true}

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (tokens) are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if strings.TrimSpace(oldCfg.Network) != strings.TrimSpace(newCfg.Network) {
		changed = append(changed, "network")
		attrs = append(attrs, logx.String("network", newCfg.Network))
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int64("engine.dust_floor", newCfg.Engine.DustFloor),
			logx.Int64("engine.default_interval", newCfg.Engine.DefaultInterval),
			logx.String("engine.send_timeout", newCfg.Engine.SendTimeout),
		)
	}

	oHTTP, nHTTP := derefHTTP(oldCfg.Payment.HTTP), derefHTTP(newCfg.Payment.HTTP)
	if oldCfg.Payment.Driver != newCfg.Payment.Driver ||
		oldCfg.Payment.DemoLatency != newCfg.Payment.DemoLatency ||
		oHTTP != nHTTP {
		changed = append(changed, "payment")
		attrs = append(attrs,
			logx.String("payment.driver", newCfg.Payment.Driver),
			logx.String("payment.http.url", nHTTP.URL),
			logx.Bool("payment.http.token_set", strings.TrimSpace(nHTTP.Token) != ""),
		)
	}

	// Nil means disabled.
	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if oldCfg.Persistence != newCfg.Persistence {
		changed = append(changed, "persistence")
		attrs = append(attrs,
			logx.String("persistence.debounce", newCfg.Persistence.Debounce),
			logx.String("persistence.checkpoint", newCfg.Persistence.Checkpoint),
		)
	}

	// Telegram (never log token)
	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Bool("telegram.chat_set", newCfg.Telegram.ChatID != 0),
		)
	}

	if oldCfg.Status != newCfg.Status {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", newCfg.Status.Enabled),
			logx.String("status.addr", newCfg.Status.Addr),
			logx.Bool("status.pprof", newCfg.Status.Pprof),
			logx.Bool("status.token_set", strings.TrimSpace(newCfg.Status.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists the sections in changed that are not hot.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}

func derefHTTP(c *PaymentHTTPConfig) PaymentHTTPConfig {
	if c == nil {
		return PaymentHTTPConfig{}
	}
	return *c
}

func derefStorage(c *StorageConfig) StorageConfig {
	if c == nil {
		return StorageConfig{}
	}
	return *c
}
