package app

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"

	"qseq/internal/config"
	"qseq/internal/task/scheduler"
	logx "qseq/pkg/logx"
)

var ErrNoSchedule = errors.New("daemon mode requires daemon.schedule")

// serve repeats the sequence on daemon.schedule until ctx ends or a
// supervised goroutine fails.
func (a *App) serve(ctx context.Context) error {
	sets := a.settings()
	if sets.Schedule.IsZero() {
		return ErrNoSchedule
	}
	a.trig = scheduler.New(func(c context.Context) error {
		_, err := a.RunOnce(c)
		return err
	}, scheduler.Options{
		Log:        a.log.With(logx.String("comp", "trigger")),
		Bus:        a.bus,
		Location:   sets.Location,
		RunOnStart: true,
	})
	if err := a.trig.Start(a.sup.Context(), sets.Schedule); err != nil {
		return err
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("daemon started", logx.String("schedule", sets.Schedule.String()), logx.String("config", a.cfgm.Path()))

	<-a.sup.Context().Done()
	sdNotify(a.log, daemon.SdNotifyStopping)

	stopCtx, cancel := context.WithTimeout(context.Background(), a.settings().ShutdownTimeout)
	defer cancel()
	if err := a.trig.Stop(stopCtx); err != nil {
		a.log.Warn("run still active at shutdown", logx.Err(err))
	}
	st := a.trig.Stats()
	a.log.Info("daemon stopped",
		logx.Uint64("runs", st.Runs),
		logx.Uint64("failed", st.Failed),
		logx.Uint64("skipped", st.Skipped),
	)
	if ctx.Err() != nil {
		return nil
	}
	return a.sup.Err()
}

// reloadLoop applies hot reloaded configs. Logging, the slow step
// threshold, the metrics endpoint, the sandbox allowlist and the schedule
// apply live; the rest needs a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Keep only the newest pending config.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, last, newCfg)
			last = newCfg
		}
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	sets, err := newCfg.Resolve()
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	a.logs.Apply(mapLogConfig(newCfg, a.opts.Verbose))
	a.exec.SetSlowThreshold(sets.SlowThreshold)
	a.server.Reconfigure(ctx, mapServerConfig(newCfg, sets))

	prev := a.settings()
	if a.trig != nil && sets.Schedule != prev.Schedule {
		if sets.Schedule.IsZero() {
			a.log.Warn("daemon.schedule removed; keeping previous schedule")
			sets.Schedule = prev.Schedule
		} else if err := a.trig.Reschedule(sets.Schedule); err != nil {
			a.log.Warn("reschedule failed; keeping previous schedule", logx.Err(err))
			sets.Schedule = prev.Schedule
		}
	}
	if sets.Location.String() != prev.Location.String() {
		a.log.Warn("daemon.timezone changed; restart required for changes to take effect")
		sets.Location = prev.Location
	}
	for _, s := range []string{"cache", "eventlog"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if oldCfg != nil && oldCfg.Sequencer.DryRun != newCfg.Sequencer.DryRun {
		a.log.Warn("sequencer.dry_run changed; restart required for changes to take effect")
	}

	a.mu.Lock()
	a.sets = sets
	a.mu.Unlock()

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func sdNotify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	switch {
	case err != nil:
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	case sent:
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}
