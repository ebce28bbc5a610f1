package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/himanshu-sugha/StreamKAS/internal/config"
	"github.com/himanshu-sugha/StreamKAS/internal/engine"
	"github.com/himanshu-sugha/StreamKAS/internal/eventbus"
	"github.com/himanshu-sugha/StreamKAS/internal/notifier"
	"github.com/himanshu-sugha/StreamKAS/internal/observability/status"
	"github.com/himanshu-sugha/StreamKAS/internal/payment"
	"github.com/himanshu-sugha/StreamKAS/internal/persistence"
	"github.com/himanshu-sugha/StreamKAS/internal/runtime/supervisor"
	"github.com/himanshu-sugha/StreamKAS/internal/storage"
	"github.com/himanshu-sugha/StreamKAS/internal/stream"
	logx "github.com/himanshu-sugha/StreamKAS/pkg/logx"
)

type App struct {
	cfgPath    string
	cfgOnDisk  bool
	paymentDrv string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *engine.Service
	persist  *persistence.Persister
	notif    *notifier.Service
	telegram *notifier.Telegram
	status   *status.Service

	unsubOutcomes func()
	startOnce     sync.Once
	stopOnce      sync.Once
}

type options struct {
	demo       bool
	sender     string
	engineOpts []engine.Option
	paySender  payment.Sender
}

type Option func(*options)

// WithDemo forces the demo payment adapter regardless of payment.driver.
func WithDemo(on bool) Option { return func(o *options) { o.demo = on } }

// WithSender overrides engine.sender for streams created by this process.
func WithSender(addr string) Option { return func(o *options) { o.sender = strings.TrimSpace(addr) } }

// WithEngineOptions passes options through to engine.New.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *options) { o.engineOpts = append(o.engineOpts, opts...) }
}

// WithPaymentSender replaces the configured wallet adapter.
func WithPaymentSender(s payment.Sender) Option { return func(o *options) { o.paySender = s } }

// NewApp loads cfgPath (or the defaults if the file does not exist), opens
// storage and restores persisted streams. Nothing runs until Start.
func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, onDisk, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", cfgPath, err)
	}
	if err := validateMappings(cfg); err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	if !onDisk {
		log.Info("config file not found; using defaults", logx.String("path", cfgPath))
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgOnDisk: onDisk,
		cfgm:      cfgm,
		root:      root,
		log:       log,
		logs:      logSvc,
		bus:       eventbus.New(),
	}
	if err := a.build(cfg, o); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, o options) error {
	root := a.root

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	} else {
		a.log.Warn("storage disabled; streams will not survive a restart")
	}

	sender, drv := o.paySender, "custom"
	if sender == nil {
		var err error
		sender, drv, err = newSender(cfg, o.demo, root.With(logx.String("comp", "payment")))
		if err != nil {
			return err
		}
	}
	a.paymentDrv = drv

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return err
	}
	if o.sender != "" {
		engCfg.Sender = o.sender
	}
	engOpts := append([]engine.Option{
		engine.WithValidator(stream.NewKaspaValidator(cfg.Network)),
	}, o.engineOpts...)
	a.engine = engine.New(engCfg, sender, root, a.bus, engOpts...)

	pcfg, err := mapPersistenceConfig(cfg)
	if err != nil {
		return err
	}
	if a.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		restored, err := persistence.Restore(ctx, a.store, pcfg.Key, root)
		cancel()
		if err != nil {
			return err
		}
		if err := a.engine.Load(restored); err != nil {
			return err
		}
		a.persist, err = persistence.New(pcfg, a.store, a.engine, root)
		if err != nil {
			return err
		}
	}

	if cfg.Telegram.Enabled {
		tcfg, ncfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return err
		}
		tg, err := notifier.NewTelegram(tcfg, root)
		if err != nil {
			return err
		}
		if cfg.Telegram.Commands {
			tg.HandleCommands(a.Control("telegram"))
		}
		a.telegram = tg
		a.notif = notifier.New(ncfg, tg, a.bus, root)
		a.log.Info("telegram alerts enabled", logx.Bool("commands", cfg.Telegram.Commands))
	}

	stcfg, err := mapStatusConfig(cfg)
	if err != nil {
		return err
	}
	a.status = status.New(stcfg, a.engine, root)
	if a.persist != nil {
		a.status.AddSection("persistence", func() any { return a.persist.Stats() })
	}
	if a.notif != nil {
		a.status.AddSection("notifier", func() any { return a.notif.Stats() })
	}
	a.status.AddSection("bus", func() any { return map[string]uint64{"dropped": eventbus.Dropped(a.bus)} })

	a.log.Info("app ready",
		logx.String("payment", drv),
		logx.String("network", cfg.Network),
		logx.Int("streams", len(a.engine.List())),
	)
	return nil
}

func (a *App) Engine() *engine.Service { return a.engine }

// Store is nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

func (a *App) Logger() logx.Logger { return a.log }

// PaymentDriver names the wallet adapter in use.
func (a *App) PaymentDriver() string { return a.paymentDrv }

// Control returns an audited operator surface tagged with actor.
func (a *App) Control(actor string) *Control {
	return newControl(a.engine, a.store, a.log.With(logx.String("actor", actor)), actor)
}

// RecentAudit lists the newest audit entries. It returns storage.ErrDisabled
// when the store cannot list its journal.
func (a *App) RecentAudit(ctx context.Context, limit int) ([]storage.AuditEntry, error) {
	r, ok := a.store.(storage.AuditReader)
	if !ok {
		return nil, storage.ErrDisabled
	}
	return r.RecentAudit(ctx, limit)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the background loops: persistence, outcome journal, alerts,
// Telegram commands and config hot reload. It is idempotent.
func (a *App) Start(ctx context.Context) error {
	a.startOnce.Do(func() { a.start(ctx) })
	return nil
}

func (a *App) start(ctx context.Context) {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	if a.persist != nil {
		a.sup.GoRestart("persistence", a.persist.Run)
	}

	if a.store != nil {
		a.unsubOutcomes = a.engine.OnUpdate("", func(u stream.Update) {
			e, ok := outcomeEntry(u)
			if !ok {
				return
			}
			actx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := a.store.AppendAudit(actx, e); err != nil {
				a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
			}
		})
	}

	if a.notif != nil {
		a.notif.Start(a.sup.Context())
		if a.cfgm.Get().Telegram.Commands {
			a.sup.Go("telegram.poll", a.telegram.Run)
		}
	}

	if stcfg, err := mapStatusConfig(a.cfgm.Get()); err == nil {
		a.status.Reconfigure(a.sup.Context(), stcfg)
	}
	a.status.AddSection("supervisor", func() any { return a.sup.Counters() })

	if a.cfgOnDisk {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return validateMappings(cfg)
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) {
			defer a.cfgm.Unsubscribe(sub)
			a.reloadLoop(c, sub)
		})
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.log.Info("app started")
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if slices.Contains(sections, "status") {
		if stcfg, err := mapStatusConfig(newCfg); err != nil {
			a.log.Warn("invalid status config; keeping previous", logx.Err(err))
		} else {
			a.status.Reconfigure(ctx, stcfg)
		}
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop halts the engine, writes a final snapshot and releases everything.
// Stream statuses are saved as they are; a later NewApp demotes active
// streams to paused. Stop is idempotent and also valid without Start.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	var firstErr error
	a.stopOnce.Do(func() { firstErr = a.stop(ctx, reason) })
	return firstErr
}

func (a *App) stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; log the straggler and move on.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("engine", 5*time.Second, a.engine.Stop)
	if a.unsubOutcomes != nil {
		a.unsubOutcomes()
	}
	if a.persist != nil {
		step("persistence", 5*time.Second, func(c context.Context) error {
			a.persist.Close()
			return a.persist.Flush(c)
		})
	}
	step("status", 2*time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	if a.notif != nil {
		step("notifier", 3*time.Second, a.notif.Stop)
	}
	if a.sup != nil {
		step("supervisor", 3*time.Second, func(c context.Context) error {
			err := a.sup.Stop(c)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}
