package system

import (
	"context"
	"errors"
	"time"

	"widgetrt/internal/logging"
)

// closeTimeout bounds how long Close waits for the main loop to close
// open instances.
const closeTimeout = 5 * time.Second

// Close stops the pipeline, closes open instances, stops the main loop and
// releases the property store.
//
// Open SQLite handles keep TempDir cleanup from succeeding on Windows, so
// tests must always Close a Runtime.
func (rt *Runtime) Close() error {
	if rt == nil || rt.closed {
		return nil
	}
	rt.closed = true

	var errs []error

	if rt.Pipeline != nil {
		rt.Pipeline.Stop()
	}

	if rt.Loop != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := rt.CloseInstances(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	if rt.Resolver != nil {
		rt.Resolver.Stop()
	}

	if rt.cancel != nil {
		rt.cancel()
		<-rt.done
		rt.cancel = nil
	}

	if rt.Store != nil && rt.ownsStore {
		if err := rt.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.Store = nil
	}

	logging.Boot("Runtime closed")
	logging.CloseAll()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
