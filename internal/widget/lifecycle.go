package widget

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"widgetrt/internal/binding"
	"widgetrt/internal/logging"
	"widgetrt/internal/store"
	"widgetrt/pkg/behavior"
)

// Load instantiates, configures and builds the component. It is idempotent:
// a loaded component returns its existing root. Failures never escape as
// errors; the component loads an ErrorPlaceholder (or a NoFactory
// placeholder when its factory is missing) instead. The only error is
// ErrClosed.
func (c *Component) Load() (behavior.Root, error) {
	switch c.state {
	case StateLoaded:
		return c.root, nil
	case StateClosed:
		return nil, ErrClosed
	}

	start := time.Now()
	log := logging.Get(logging.CategoryLifecycle).With("instance", c.OwnerID(), "factory", c.factoryName)

	config := c.effectiveConfig()

	b, release, err := c.resolveBehavior()
	if err == nil {
		err = c.materialize(b, config)
	}

	switch {
	case errors.Is(err, ErrNoFactory):
		log.Warn("Factory %q not registered, loading placeholder", c.factoryName)
		c.setPlaceholder(&NoFactory{FactoryName: c.factoryName}, nil)
		if release != nil {
			release()
		}
	case err != nil:
		log.Error("Load failed: %v", err)
		disposeQuietly(b)
		if release != nil {
			release()
		}
		c.setPlaceholder(&ErrorPlaceholder{FactoryName: c.factoryName, Err: err}, err)
		logging.Audit(logging.AuditEvent{
			EventType: logging.AuditInstanceError,
			Target:    c.OwnerID(),
			Error:     err.Error(),
			Message:   c.factoryName,
		})
	default:
		c.behavior = b
		c.release = release
		c.loadErr = nil
		if ep, ok := b.(*ErrorPlaceholder); ok {
			c.loadErr = ep.Err
		}
		c.registerIO()
	}

	c.state = StateLoaded
	if c.env != nil && c.env.Instances != nil {
		c.env.Instances.add(c)
	}

	logging.Audit(logging.AuditEvent{
		EventType:  logging.AuditInstanceLoad,
		Target:     c.OwnerID(),
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
		Message:    c.factoryName,
	})
	log.Debug("Loaded in %v (placeholder=%v)", time.Since(start), c.IsPlaceholder())
	return c.root, nil
}

// resolveBehavior returns the behavior to load and the func releasing its
// load context.
func (c *Component) resolveBehavior() (behavior.Behavior, func(), error) {
	if c.preset != nil {
		return c.preset, nil, nil
	}
	if c.env != nil && c.env.Registry != nil {
		c.factory = c.currentFactory()
	}
	if c.factory == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoFactory, c.factoryName)
	}
	return c.factory.instantiate()
}

// currentFactory returns the factory to instantiate from. A compiled factory
// that was replaced or evicted before this component first loaded gives way
// to the registered one; the component holds no reference to its context yet.
func (c *Component) currentFactory() *Factory {
	f := c.factory
	if f == nil {
		return c.env.Registry.ByName(c.factoryName)
	}
	if f.kind != KindCompiled {
		return f
	}
	cur := c.env.Registry.ByName(c.factoryName)
	switch {
	case cur != nil && cur != f:
		logging.Lifecycle("Instance %s of %s moves to %s before loading", c.OwnerID(), f.Describe(), cur.Describe())
		return cur
	case f.handle.Released():
		return cur
	default:
		return f
	}
}

// materialize applies configuration and builds the root. Non-legacy
// configurable behaviors are configured before Build; legacy ones restore
// their fields right after it.
func (c *Component) materialize(b behavior.Behavior, config map[string]string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic loading %s (%s): %v\n%s", c.factoryName, c.OwnerID(), r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	legacy, isLegacy := b.(behavior.Legacy)
	if cfg, ok := b.(behavior.Configurable); ok && !isLegacy && len(config) > 0 {
		if err := cfg.ApplyConfig(config); err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}

	root, err := b.Build()
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}

	if isLegacy && len(config) > 0 {
		if err := legacy.RestoreFields(config); err != nil {
			return fmt.Errorf("restore fields: %w", err)
		}
	}
	c.root = root
	return nil
}

func (c *Component) setPlaceholder(p behavior.Behavior, err error) {
	c.behavior = p
	c.loadErr = err
	c.release = nil
	root, _ := p.Build()
	c.root = root
}

// registerIO declares the behavior's ports with the resolver and files
// requests for the persisted input bindings.
func (c *Component) registerIO() {
	if c.env == nil || c.env.Resolver == nil {
		return
	}
	decl, ok := c.behavior.(behavior.IODeclarer)
	if !ok {
		return
	}

	ports := binding.NewPorts(c.OwnerID())
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.LifecycleError("Panic declaring IO for %s: %v", c.OwnerID(), r)
			}
		}()
		decl.DeclareIO(ports)
	}()
	c.ports = ports

	c.env.Resolver.Register(c.OwnerID(), ports.Outputs(), ports.Inputs())
	c.requestBindings()
}

// requestBindings turns the io.* bag entries into pending requests.
func (c *Component) requestBindings() {
	if c.env == nil || c.env.Resolver == nil || c.ports == nil {
		return
	}
	for _, name := range c.ports.InputNames() {
		ids := splitIDs(c.props[IOPrefix+name])
		if len(ids) == 0 {
			continue
		}
		c.env.Resolver.Request(binding.Request{ConsumerID: c.OwnerID(), Input: name, OutputIDs: ids})
	}
	c.env.Resolver.RequestReconciliation()
}

// effectiveConfig merges the per-widget default.properties overrides beneath
// the persisted cfg.* values.
func (c *Component) effectiveConfig() map[string]string {
	config := map[string]string{}
	if path := c.defaultsPath(); path != "" {
		defaults, err := store.ReadProperties(path)
		if err != nil {
			logging.LifecycleWarn("Ignoring unreadable defaults %s: %v", path, err)
		}
		maps.Copy(config, defaults)
	}
	maps.Copy(config, c.ConfigValues())
	return config
}

func (c *Component) defaultsPath() string {
	if c.env == nil || c.env.UserDataDir == "" || c.factoryName == "" {
		return ""
	}
	return filepath.Join(c.env.UserDataDir, c.factoryName, store.DefaultPropertiesFile)
}

// Close disposes the component. It is idempotent: the second call does
// nothing. On-close callbacks run exactly once.
func (c *Component) Close() error {
	if c.state == StateClosed {
		return nil
	}
	wasLoaded := c.state == StateLoaded

	if c.env != nil && c.env.Resolver != nil && c.ports != nil {
		c.env.Resolver.Unregister(c.OwnerID())
	}
	var err error
	if wasLoaded {
		err = dispose(c.behavior)
	}
	if c.release != nil {
		c.release()
	}
	if c.container != nil {
		cont := c.container
		c.container = nil
		cont.RemoveChild(c)
	}
	if c.env != nil && c.env.Instances != nil {
		c.env.Instances.remove(c)
	}

	c.state = StateClosed
	c.behavior = nil
	c.root = nil
	c.release = nil
	c.ports = nil
	c.focused = false

	callbacks := c.onClose
	c.onClose = nil
	for _, fn := range callbacks {
		runCallback(c, fn)
	}

	if wasLoaded {
		logging.Audit(logging.AuditEvent{EventType: logging.AuditInstanceClose, Target: c.OwnerID(), Success: err == nil, Message: c.factoryName})
	}
	logging.LifecycleDebug("Closed %s (%s)", c.OwnerID(), c.factoryName)
	return err
}

// unload returns a loaded component to StateUnloaded without detaching it.
func (c *Component) unload() {
	if c.state != StateLoaded {
		return
	}
	if c.env != nil && c.env.Resolver != nil && c.ports != nil {
		c.env.Resolver.Unregister(c.OwnerID())
	}
	if err := dispose(c.behavior); err != nil {
		logging.LifecycleWarn("Dispose of %s failed: %v", c.OwnerID(), err)
	}
	if c.release != nil {
		c.release()
	}
	if c.env != nil && c.env.Instances != nil {
		c.env.Instances.remove(c)
	}
	c.state = StateUnloaded
	c.behavior = nil
	c.root = nil
	c.release = nil
	c.ports = nil
}

// Retry reloads a placeholder component after re-resolving its factory by
// identity name. Returns ErrNoFactory if the factory is still missing.
func (c *Component) Retry() error {
	if c.state == StateClosed {
		return ErrClosed
	}
	if c.state == StateLoaded && !c.IsPlaceholder() {
		return nil
	}
	f := c.factory
	if c.env != nil && c.env.Registry != nil {
		if reg := c.env.Registry.ByName(c.factoryName); reg != nil {
			f = reg
		}
	}
	if f == nil {
		return fmt.Errorf("%w: %s", ErrNoFactory, c.factoryName)
	}

	c.unload()
	c.factory = f
	_, err := c.Load()
	return err
}

// SetStateFrom copies the persistent state of other into c: custom name, load
// type, flags and the property bag. A loaded other is serialized first so its
// live configuration and bindings are included. A loaded c applies the copied
// configuration immediately; otherwise it is applied on Load.
func (c *Component) SetStateFrom(other *Component) {
	if other.state == StateLoaded {
		other.serialize()
	}

	c.customName = other.customName
	c.loadType = other.loadType
	c.locked = other.locked
	c.preferred = other.preferred
	c.forbidUse = other.forbidUse
	c.fillWidth = other.fillWidth
	c.fillHeight = other.fillHeight
	c.props = maps.Clone(other.props)
	if c.props == nil {
		c.props = map[string]string{}
	}

	if c.state == StateLoaded {
		c.reapplyConfig()
		c.requestBindings()
	}
	logging.LifecycleDebug("Copied state %s -> %s (%d properties)", other.OwnerID(), c.OwnerID(), len(c.props))
}

// reapplyConfig pushes the bag's configuration into a loaded behavior.
func (c *Component) reapplyConfig() {
	config := c.effectiveConfig()
	if len(config) == 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic reapplying config to %s: %v", c.OwnerID(), r)
		}
	}()
	var err error
	switch b := c.behavior.(type) {
	case behavior.Legacy:
		err = b.RestoreFields(config)
	case behavior.Configurable:
		err = b.ApplyConfig(config)
	}
	if err != nil {
		logging.LifecycleWarn("Reapplying config to %s failed: %v", c.OwnerID(), err)
	}
}

// serialize writes the live configuration and input bindings into the bag.
func (c *Component) serialize() {
	if c.state != StateLoaded || c.IsPlaceholder() {
		return
	}
	if cfg, ok := c.behavior.(behavior.Configurable); ok {
		values := safeConfig(cfg)
		for k := range c.props {
			if strings.HasPrefix(k, ConfigPrefix) {
				delete(c.props, k)
			}
		}
		for k, v := range values {
			c.props[ConfigPrefix+k] = v
		}
	}
	if c.ports != nil && c.env != nil && c.env.Resolver != nil {
		for _, name := range c.ports.InputNames() {
			ids := c.env.Resolver.Sources(c.OwnerID(), name)
			if len(ids) == 0 {
				delete(c.props, IOPrefix+name)
				continue
			}
			c.props[IOPrefix+name] = strings.Join(ids, ",")
		}
	}
}

// ReapplyResource tells a loaded behavior that a resource file changed.
func (c *Component) ReapplyResource(path string) {
	rr, ok := c.behavior.(behavior.ResourceReloader)
	if !ok || c.state != StateLoaded {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic reloading resource %s in %s: %v", path, c.OwnerID(), r)
		}
	}()
	if err := rr.ReloadResource(path); err != nil {
		logging.LifecycleWarn("Reloading resource %s in %s failed: %v", path, c.OwnerID(), err)
	}
}

// ExportDefaults writes the behavior's non-default configuration values to
// the per-widget default.properties, which seeds every later instantiation.
func (c *Component) ExportDefaults() error {
	if c.state != StateLoaded {
		return ErrNotLoaded
	}
	cfg, ok := c.behavior.(behavior.Configurable)
	if !ok {
		return ErrNotConfigurable
	}
	path := c.defaultsPath()
	if path == "" {
		return fmt.Errorf("widget: no user data directory for %s", c.factoryName)
	}

	current := safeConfig(cfg)
	defaults := safeDefaults(cfg)

	changed := map[string]string{}
	for k, v := range current {
		if d, ok := defaults[k]; !ok || d != v {
			changed[k] = v
		}
	}
	if err := store.WriteProperties(path, changed, c.factoryName+" defaults"); err != nil {
		return err
	}
	logging.Lifecycle("Exported %d default values for %s to %s", len(changed), c.factoryName, path)
	return nil
}

// ClearDefaults removes the per-widget default.properties.
func (c *Component) ClearDefaults() error {
	path := c.defaultsPath()
	if path == "" {
		return nil
	}
	return removeIfExists(path)
}

// SaveState persists the bag and flags.
func (c *Component) SaveState(s store.PropertyStore) error {
	c.serialize()
	return s.Save(store.Record{
		ID:         c.id,
		Factory:    c.factoryName,
		CustomName: c.customName,
		LoadType:   string(c.loadType),
		Locked:     c.locked,
		Preferred:  c.preferred,
		ForbidUse:  c.forbidUse,
		FillWidth:  c.fillWidth,
		FillHeight: c.fillHeight,
		Properties: c.props,
	})
}

// RestoreState loads the persisted bag and flags. A loaded component applies
// the restored configuration immediately.
func (c *Component) RestoreState(s store.PropertyStore) error {
	rec, err := s.Load(c.id)
	if err != nil {
		return err
	}
	c.applyRecord(rec)
	if c.state == StateLoaded {
		c.reapplyConfig()
		c.requestBindings()
	}
	return nil
}

func (c *Component) applyRecord(rec store.Record) {
	if rec.Factory != "" {
		c.factoryName = rec.Factory
	}
	c.customName = rec.CustomName
	if rec.LoadType != "" {
		c.loadType = LoadType(rec.LoadType)
	}
	c.locked = rec.Locked
	c.preferred = rec.Preferred
	c.forbidUse = rec.ForbidUse
	c.fillWidth = rec.FillWidth
	c.fillHeight = rec.FillHeight
	c.props = maps.Clone(rec.Properties)
	if c.props == nil {
		c.props = map[string]string{}
	}
}

// Migrate replaces old with a fresh component from f that keeps old's id:
// state is copied, the new component takes old's container position, old is
// closed and the new one loaded. Components without a container are not
// migrated (ErrNotContained).
func Migrate(old *Component, f *Factory) (*Component, error) {
	if old.state == StateClosed {
		return nil, ErrClosed
	}
	cont := old.container
	if cont == nil {
		return nil, ErrNotContained
	}

	nw := f.createAs(old.env, old.id)
	nw.SetStateFrom(old)
	nw.windowKey = old.windowKey

	if !cont.ReplaceChild(old, nw) {
		return nil, ErrReplaceRefused
	}
	nw.container = cont
	nw.inLayout = old.inLayout
	wasFocused := old.focused

	old.container = nil
	if err := old.Close(); err != nil {
		logging.LifecycleWarn("Closing migrated %s returned: %v", old.OwnerID(), err)
	}
	if _, err := nw.Load(); err != nil {
		return nw, err
	}
	if wasFocused && nw.env != nil && nw.env.Instances != nil {
		nw.env.Instances.Focus(nw)
	}

	logging.Audit(logging.AuditEvent{EventType: logging.AuditMigrate, Target: nw.OwnerID(), Success: !nw.IsPlaceholder(), Message: f.Describe()})
	logging.Lifecycle("Migrated %s to %s", nw.OwnerID(), f.Describe())
	return nw, nil
}

func safeConfig(cfg behavior.Configurable) (values map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic reading config: %v", r)
			values = map[string]string{}
		}
	}()
	values = cfg.Config()
	if values == nil {
		values = map[string]string{}
	}
	return values
}

func safeDefaults(cfg behavior.Configurable) (values map[string]string) {
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic reading defaults: %v", r)
			values = map[string]string{}
		}
	}()
	return cfg.Defaults()
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func dispose(b behavior.Behavior) (err error) {
	closer, ok := b.(behavior.Closer)
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return closer.Close()
}

func disposeQuietly(b behavior.Behavior) {
	if b == nil {
		return
	}
	if err := dispose(b); err != nil {
		logging.LifecycleWarn("Dispose after failed load: %v", err)
	}
}

func runCallback(c *Component, fn func(*Component)) {
	defer func() {
		if r := recover(); r != nil {
			logging.LifecycleError("Panic in on-close callback for %s: %v", c.OwnerID(), r)
		}
	}()
	fn(c)
}
