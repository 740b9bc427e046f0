package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qseq/internal/datacache"
	"qseq/internal/eventlog"
	"qseq/internal/sandbox"
	logx "qseq/pkg/logx"
)

// Names under which the run exposes itself to scripts.
const (
	BindStartTimestamp   = "StartTimestamp"
	BindTimestamp        = "Timestamp"
	BindLog              = "Log"
	BindHeader           = "Header"
	BindCache            = "Cache"
	BindCacheGet         = "CacheGet"
	BindCacheGetExtended = "CacheGetExtended"
)

// injectBindings exposes the run clock, the event log and the run's data
// caches to env.
//
// StartTimestamp is the run start in Unix seconds. Timestamp returns the
// seconds elapsed since then.
func injectBindings(env *sandbox.Environment, start time.Time, events *eventlog.Log, caches *datacache.Registry, log logx.Logger) error {
	startTS := float64(start.UnixNano()) / float64(time.Second)

	cacheGetExt := func(name string) (int, float64, float64, any, bool) {
		w, err := caches.Get(name)
		if err != nil {
			log.Warn("unknown data cache", logx.String("cache", name))
			return 0, 0, 0, nil, false
		}
		ds, ok := w.GetExtended()
		if !ok {
			return 0, 0, 0, nil, false
		}
		ts := float64(ds.Timestamp.UnixNano()) / float64(time.Second)
		return ds.FetchCount, ts, ds.Duration.Seconds(), ds.Data, true
	}

	bindings := []struct {
		name  string
		value any
	}{
		{BindStartTimestamp, startTS},
		{BindTimestamp, events.Timestamp},
		{BindLog, events.Write},
		{BindHeader, events.Header},
		{BindCache, func(name string, acquire func() (any, error)) error {
			if acquire == nil {
				return errors.New("cache " + name + ": nil acquire function")
			}
			_, err := caches.Register(name, datacache.AcquireFunc(func(context.Context) (any, error) {
				return acquire()
			}))
			return err
		}},
		{BindCacheGet, func(name string) any {
			_, _, _, data, _ := cacheGetExt(name)
			return data
		}},
		{BindCacheGetExtended, cacheGetExt},
	}
	for _, b := range bindings {
		if err := env.InjectBinding(b.name, b.value); err != nil {
			return fmt.Errorf("bind %s: %w", b.name, err)
		}
	}
	return nil
}
