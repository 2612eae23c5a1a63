package system

import (
	"context"
	"errors"
	"fmt"

	"widgetrt/internal/logging"
	"widgetrt/internal/selection"
	"widgetrt/internal/widget"
)

// Call runs fn on the main loop and waits for it.
func (rt *Runtime) Call(ctx context.Context, fn func()) error {
	return rt.Loop.Call(ctx, fn)
}

// Find runs a selection query on the main loop.
func (rt *Runtime) Find(ctx context.Context, pred selection.Predicate, use selection.Use, place selection.Place) (*widget.Component, error) {
	var c *widget.Component
	if err := rt.Call(ctx, func() { c = rt.Selector.Find(pred, use, place) }); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveInstances persists the state of every open instance. Layout groups are
// persisted as layout files, not here.
func (rt *Runtime) SaveInstances(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	err := rt.Call(ctx, func() {
		for _, c := range rt.Env.Instances.All() {
			if c.IsLayout() {
				continue
			}
			if err := c.SaveState(rt.Store); err != nil {
				errs = append(errs, fmt.Errorf("save %s: %w", c.OwnerID(), err))
				continue
			}
			n++
		}
	})
	if err != nil {
		return n, err
	}
	logging.Store("Saved %d instances", n)
	return n, errors.Join(errs...)
}

// RestoreInstances recreates and loads every persisted instance. Instances
// whose factory is not registered yet load a NoFactory placeholder and are
// retried when the factory is published.
//
// Restored instances have no container. A recompile only migrates contained
// instances, so until the host calls SetContainer on one it keeps running on
// the factory version it was restored from.
func (rt *Runtime) RestoreInstances(ctx context.Context) ([]*widget.Component, error) {
	recs, err := rt.Store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	var (
		out  []*widget.Component
		errs []error
	)
	err = rt.Call(ctx, func() {
		for _, rec := range recs {
			if rt.Env.Instances.Get(rec.ID) != nil {
				continue
			}
			if f := rt.Env.Registry.ByName(rec.Factory); f != nil && f.Kind() == widget.KindLayout {
				continue
			}
			c := widget.NewDetached(rt.Env, rec.ID, rec.Factory)
			if err := c.RestoreState(rt.Store); err != nil {
				errs = append(errs, fmt.Errorf("restore %s: %w", rec.ID, err))
				continue
			}
			if _, err := c.Load(); err != nil {
				errs = append(errs, fmt.Errorf("load %s: %w", rec.ID, err))
				continue
			}
			out = append(out, c)
		}
	})
	if err != nil {
		return out, err
	}
	logging.Store("Restored %d of %d instances", len(out), len(recs))
	return out, errors.Join(errs...)
}

// CloseInstances closes every open instance.
func (rt *Runtime) CloseInstances(ctx context.Context) error {
	var errs []error
	err := rt.Call(ctx, func() {
		for _, c := range rt.Env.Instances.All() {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", c.OwnerID(), err))
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}
