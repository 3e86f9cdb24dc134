// Package app wires configuration, storage, the registry client, the check
// engine, the delivery queue and the sweep scheduler into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"caseobserver/internal/config"
	"caseobserver/internal/eventbus"
	"caseobserver/internal/monitor"
	"caseobserver/internal/notifier"
	"caseobserver/internal/registry"
	"caseobserver/internal/runtime/supervisor"
	"caseobserver/internal/sink"
	"caseobserver/internal/storage"
	"caseobserver/internal/task/engine"
	"caseobserver/internal/task/scheduler"
	"caseobserver/internal/transport/telegram"
	logx "caseobserver/pkg/logx"
)

const sweepJobName = "monitor.sweep"

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine   *engine.Service
	sched    *scheduler.Service
	delivery *notifier.Service
	monitor  *monitor.Service
}

// New loads the config at cfgPath, opens storage (running migrations) and
// builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var sender logx.Sender
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		tcfg, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		tg, err := telegram.New(tcfg)
		if err != nil {
			return nil, fmt.Errorf("telegram log sender: %w", err)
		}
		sender = tg
	}
	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)

	a, err := build(ctx, cfg, log, sink.NewLog(log))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

// build assembles the components from cfg. fallback serves any channel
// without a configured provider.
func build(ctx context.Context, cfg *config.Config, log logx.Logger, fallback *sink.Log) (*App, error) {
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, log)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	rc, err := mapRegistryConfig(cfg)
	if err != nil {
		return fail(err)
	}
	reg, err := registry.New(rc, log)
	if err != nil {
		return fail(err)
	}

	email, sms, err := buildSinks(cfg, fallback)
	if err != nil {
		return fail(err)
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}
	delivery := notifier.New(ncfg, email, sms, log.With(logx.String("comp", "delivery")), bus)
	disp := notifier.NewDispatcher(store, delivery, log.With(logx.String("comp", "dispatcher")), bus)

	ecfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	eng := engine.New(ecfg, log.With(logx.String("comp", "taskengine")), bus)

	mcfg, err := mapMonitorConfig(cfg)
	if err != nil {
		return fail(err)
	}
	mon := monitor.New(mcfg, store, reg, disp, eng, log.With(logx.String("comp", "monitor")), monitor.WithBus(bus))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return fail(err)
	}
	sched := scheduler.New(schedCfg, log.With(logx.String("comp", "scheduler")), bus)
	sweepTimeout, err := config.ParseDurationOrDefault("monitor.sweep_timeout", cfg.Monitor.SweepTimeout, 30*time.Second)
	if err != nil {
		return fail(err)
	}
	if _, err := sched.Add(sweepJobName, cfg.SweepSchedule(), sweepTimeout, mon.Sweep); err != nil {
		return fail(fmt.Errorf("monitor.sweep_schedule: %w", err))
	}

	return &App{
		log:      log.With(logx.String("comp", "app")),
		bus:      bus,
		store:    store,
		engine:   eng,
		sched:    sched,
		delivery: delivery,
		monitor:  mon,
	}, nil
}

func buildSinks(cfg *config.Config, fallback *sink.Log) (notifier.EmailSender, notifier.SMSSender, error) {
	var (
		email notifier.EmailSender = fallback
		sms   notifier.SMSSender   = fallback
	)
	if cfg.Mailjet.PublicKey != "" {
		mj, err := sink.NewMailjet(sink.MailjetConfig{
			PublicKey:  cfg.Mailjet.PublicKey,
			PrivateKey: cfg.Mailjet.PrivateKey,
			FromEmail:  cfg.Mailjet.FromEmail,
			FromName:   cfg.Mailjet.FromName,
			BaseURL:    cfg.Mailjet.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		email = mj
	}
	if strings.TrimSpace(cfg.SMS.URL) != "" {
		timeout, err := config.ParseDurationField("sms.timeout", cfg.SMS.Timeout)
		if err != nil {
			return nil, nil, err
		}
		gw, err := sink.NewSMSGateway(sink.SMSGatewayConfig{
			URL:     cfg.SMS.URL,
			Token:   cfg.SMS.Token,
			Sender:  cfg.SMS.Sender,
			Timeout: timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		sms = gw
	}
	return email, sms, nil
}

// Monitor exposes the inbound operations.
func (a *App) Monitor() *monitor.Service { return a.monitor }

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

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// Checks and deliveries outlive the run context so Stop can drain them
	// within its own deadline.
	a.delivery.Start(context.WithoutCancel(runCtx))
	a.engine.Start(context.WithoutCancel(runCtx))
	if !a.engine.Enabled() {
		a.log.Warn("task engine disabled; sweeps will not run checks")
	}
	a.sched.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("events.watch", func(c context.Context) {
		defer unsub()
		a.watchEvents(c, events)
	})

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			_, err := mapNotifierConfig(cfg)
			return err
		})
		a.startConfigReload()
		a.sup.Loop("config.watch", a.cfgm.Watch, supervisor.WithBackoff(time.Second, time.Minute))
	}

	sdNotify(a.log, "READY=1")
	a.log.Info("app started")
	return nil
}

// startConfigReload applies hot-reloadable sections and warns about the rest.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	ncfg, err := mapNotifierConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.delivery.Enabled()
		a.delivery.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("delivery disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.delivery.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("delivery enabled via config")
			a.delivery.Start(context.WithoutCancel(ctx))
		}
	}

	if len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts down in dependency order: no new sweeps, then running checks,
// then pending deliveries, then storage.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, "STOPPING=1")

	a.sup.Cancel()

	for _, st := range a.shutdownSteps() {
		a.runShutdownStep(ctx, st)
	}

	st := a.sup.Stats()
	a.log.Info("stopped", logx.Uint64("loop_restarts", st.Restarts), logx.Uint64("loop_panics", st.Panics))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

type shutdownStep struct {
	name  string
	limit time.Duration
	run   func(ctx context.Context) error
}

func (a *App) shutdownSteps() []shutdownStep {
	return []shutdownStep{
		{"scheduler", 2 * time.Second, func(c context.Context) error { a.sched.Stop(c); return nil }},
		{"taskengine", 10 * time.Second, func(c context.Context) error { a.engine.Stop(c); return nil }},
		{"delivery", 5 * time.Second, func(c context.Context) error { a.delivery.Stop(c); return nil }},
		{"storage", 2 * time.Second, func(context.Context) error { return a.store.Close() }},
		{"supervisor", 2 * time.Second, func(c context.Context) error { return a.sup.Wait(c) }},
	}
}

// runShutdownStep gives one step its own deadline within ctx. A step that
// overruns is abandoned and shutdown moves on.
func (a *App) runShutdownStep(ctx context.Context, st shutdownStep) {
	began := time.Now()
	sctx, cancel := context.WithTimeout(ctx, st.limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- st.run(sctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("shutdown step failed", logx.String("step", st.name), logx.Err(err))
		}
		a.log.Debug("shutdown step done", logx.String("step", st.name), logx.Duration("took", time.Since(began)))
	case <-sctx.Done():
		a.log.Warn("shutdown step overran; continuing", logx.String("step", st.name), logx.Duration("limit", st.limit))
	}
}
