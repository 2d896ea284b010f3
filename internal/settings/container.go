package settings

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/tracing"
)

var (
	ErrInvalidSetting     = errors.New("invalid setting")
	ErrTypeMismatch       = errors.New("value type does not match setting type")
	ErrSettingNotFound    = errors.New("setting not registered in container")
	ErrProfileNotFound    = errors.New("no saved settings for profile")
	ErrStackNotFound      = errors.New("no saved settings for stack")
	ErrInvalidStackTag    = errors.New("invalid stack tag")
	ErrAlreadyInitialized = errors.New("container already initialized")
)

// DefinitionProvider supplies setting definitions. OnLoaded must invoke fn
// exactly once, immediately if loading has already finished.
type DefinitionProvider interface {
	IsLoading() bool
	OnLoaded(fn func())
	Definitions(scope Scope) []*Definition
}

// Wrapper is a setting whose value is owned by another system. The container
// only tells it when to apply, discard or reset its own state. An Apply error
// is reported by ApplyChanges after the profile is saved.
type Wrapper interface {
	Name() string
	Apply(ctx context.Context) error
	Clear()
	Reset()
}

// Options configures a Container.
type Options struct {
	Name        string
	Scope       Scope
	Store       storage.Store
	MaxProfiles int
	Profile     int
	Logger      *zap.Logger
}

// Status is a point in time summary of a container.
type Status struct {
	Name         string     `json:"name"`
	Scope        string     `json:"scope"`
	State        string     `json:"state"`
	Profile      int        `json:"profile"`
	Definitions  int        `json:"definitions"`
	Pending      []Identity `json:"pending"`
	Changed      []Identity `json:"changed"`
	Stacks       []Identity `json:"stacks"`
	CanReset     bool       `json:"can_reset"`
	HasUnapplied bool       `json:"has_unapplied"`
}

type stackLayer struct {
	tag    Identity
	values *ValueContainer
}

// Container owns the committed values, pending changes, changed-from-default
// set and bindings of one scope instance.
type Container struct {
	name        string
	scope       Scope
	store       storage.Store
	maxProfiles int
	logger      *zap.Logger

	mu              sync.Mutex
	state           InitState
	ready           chan struct{}
	closed          bool
	profile         int
	defs            map[Identity]*Definition
	values          *ValueContainer
	pending         map[Identity]Value
	changed         map[Identity]struct{}
	stacks          []stackLayer
	pendingWrappers []Wrapper
	changedWrappers []Wrapper
	bindings        bindingRegistry
}

// NewContainer creates an uninitialized container. A nil store is a wiring
// error and panics.
func NewContainer(opts Options) *Container {
	if opts.Store == nil {
		panic("settings: container requires a store")
	}
	if opts.Name == "" {
		opts.Name = opts.Scope.String()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxProfiles < 1 {
		opts.MaxProfiles = DefaultMaxProfiles
	}

	metrics.ActiveContainers.WithLabelValues(opts.Scope.String()).Inc()
	return &Container{
		name:        opts.Name,
		scope:       opts.Scope,
		store:       opts.Store,
		maxProfiles: opts.MaxProfiles,
		logger:      opts.Logger.With(zap.String("container", opts.Name)),
		ready:       make(chan struct{}),
		profile:     ClampProfile(opts.Profile, opts.MaxProfiles),
		defs:        make(map[Identity]*Definition),
		values:      NewValueContainer(),
		pending:     make(map[Identity]Value),
		changed:     make(map[Identity]struct{}),
	}
}

func (c *Container) Name() string { return c.name }
func (c *Container) Scope() Scope { return c.scope }

// Ready is closed once definitions are registered and the profile is loaded.
func (c *Container) Ready() <-chan struct{} { return c.ready }

func (c *Container) State() InitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitReady blocks until the container is ready or ctx is done.
func (c *Container) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the container's metric series. It is safe to call twice.
func (c *Container) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	metrics.ActiveContainers.WithLabelValues(c.scope.String()).Dec()
	metrics.PendingChanges.DeleteLabelValues(c.name)
}

// Initialize registers the provider's definitions for this scope and loads
// the current profile. When the provider is still loading the work is
// deferred to its completion callback and Initialize returns immediately.
func (c *Container) Initialize(ctx context.Context, provider DefinitionProvider) error {
	if provider == nil {
		panic("settings: nil definition provider")
	}
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.state = StateLoading
	c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	if provider.IsLoading() {
		c.logger.Info("Definitions still loading, deferring initialization")
		provider.OnLoaded(func() { c.finishInitialize(ctx, provider) })
		return nil
	}
	c.finishInitialize(ctx, provider)
	return nil
}

func (c *Container) finishInitialize(ctx context.Context, provider DefinitionProvider) {
	added := c.AddDefinitions(provider.Definitions(c.scope))

	if err := c.LoadSettings(ctx); err != nil && !errors.Is(err, ErrProfileNotFound) {
		c.logger.Error("Failed to load settings, using defaults", zap.Error(err))
	}

	c.mu.Lock()
	c.state = StateReady
	close(c.ready)
	c.mu.Unlock()

	c.logger.Info("Settings container ready",
		zap.String("scope", c.scope.String()),
		zap.Int("definitions", added),
	)
}

// AddDefinitions registers definitions of this container's scope and seeds
// their defaults. Invalid, foreign-scope and already registered definitions
// are skipped. It returns the number registered.
func (c *Container) AddDefinitions(defs []*Definition) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, def := range defs {
		if def == nil || def.Scope != c.scope {
			continue
		}
		if err := def.Validate(); err != nil {
			c.logger.Warn("Skipping invalid setting definition", zap.Error(err))
			continue
		}
		if existing, ok := c.defs[def.ID]; ok {
			if existing != def {
				c.logger.Warn("Duplicate setting identity ignored", zap.String("setting", string(def.ID)))
			}
			continue
		}
		c.defs[def.ID] = def
		if _, ok := c.values.Lookup(def.ID); !ok {
			c.values.Set(def.ID, def.Default)
		}
		added++
	}
	return added
}

// Definition returns the registered definition for id, or nil.
func (c *Container) Definition(id Identity) *Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defs[id]
}

// Definitions returns the registered definitions ordered by identity.
func (c *Container) Definitions() []*Definition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Definition, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (c *Container) lookupLocked(id Identity) *Definition {
	return c.defs[id]
}

// effectiveLocked resolves the topmost active stack override, then the
// committed value, then the definition default.
func (c *Container) effectiveLocked(def *Definition) Value {
	for i := len(c.stacks) - 1; i >= 0; i-- {
		if v, ok := c.stacks[i].values.Lookup(def.ID); ok && v.Type() == def.Type {
			return v
		}
	}
	return c.values.Get(def.Type, def.ID, def.Default)
}

// GetValue returns the effective value of def. A nil definition yields NoValue.
func (c *Container) GetValue(def *Definition) Value {
	if def == nil {
		return NoValue()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLocked(def)
}

// CommittedValue returns the base profile value of def, ignoring stacks.
func (c *Container) CommittedValue(def *Definition) Value {
	if def == nil {
		return NoValue()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Get(def.Type, def.ID, def.Default)
}

// PendingValue returns the uncommitted value of def, if any.
func (c *Container) PendingValue(def *Definition) (Value, bool) {
	if def == nil {
		return NoValue(), false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.pending[def.ID]
	return v, ok
}

func (c *Container) GetBool(def *Definition) bool { return c.GetValue(def).Bool() }
func (c *Container) GetInt(def *Definition) int32 { return c.GetValue(def).Int() }
func (c *Container) GetFloat(def *Definition) float32 { return c.GetValue(def).Float() }
func (c *Container) GetColor(def *Definition) Color { return c.GetValue(def).Color() }
func (c *Container) GetTag(def *Definition) Identity { return c.GetValue(def).Tag() }
func (c *Container) ChangeBool(def *Definition, v bool) error { return c.ChangeValue(def, BoolValue(v)) }
func (c *Container) ChangeInt(def *Definition, v int32) error { return c.ChangeValue(def, IntValue(v)) }
func (c *Container) ChangeFloat(def *Definition, v float32) error { return c.ChangeValue(def, FloatValue(v)) }
func (c *Container) ChangeColor(def *Definition, v Color) error { return c.ChangeValue(def, ColorValue(v)) }
func (c *Container) ChangeTag(def *Definition, v Identity) error { return c.ChangeValue(def, TagValue(v)) }

// ChangeValue proposes v for def. Changed bindings see the proposal first;
// then a value equal to the committed one cancels any pending change and
// anything else is queued until ApplyChanges.
func (c *Container) ChangeValue(def *Definition, v Value) error {
	if def == nil {
		return ErrInvalidSetting
	}

	c.mu.Lock()
	reg, ok := c.defs[def.ID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrSettingNotFound, def.ID, c.name)
	}
	if v.Type() != reg.Type {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, reg.ID, reg.Type, v.Type())
	}
	if !finite(v) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is not finite", ErrOutOfRange, reg.ID)
	}
	var d dispatch
	c.bindings.collect(&d, c.name, EventChanged, reg, v)
	c.mu.Unlock()

	d.run()

	c.mu.Lock()
	if v.Equal(c.values.Get(reg.Type, reg.ID, reg.Default)) {
		delete(c.pending, reg.ID)
	} else {
		c.pending[reg.ID] = v
	}
	n := len(c.pending)
	c.mu.Unlock()

	metrics.PendingChanges.WithLabelValues(c.name).Set(float64(n))
	return nil
}

// HasUnappliedChanges reports pending changes or pending wrapped settings.
func (c *Container) HasUnappliedChanges() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0 || len(c.pendingWrappers) > 0
}

// ApplyChanges commits every pending change, fires Committed bindings,
// applies pending wrapped settings and saves the profile. Every wrapper is
// applied even when one fails; their errors are joined with any save error.
func (c *Container) ApplyChanges(ctx context.Context) error {
	c.mu.Lock()
	var d dispatch
	ids := sortedIDs(c.pending)
	for _, id := range ids {
		def, v := c.defs[id], c.pending[id]
		c.values.Set(id, v)
		if v.Equal(def.Default) {
			delete(c.changed, id)
		} else {
			c.changed[id] = struct{}{}
		}
		c.bindings.collect(&d, c.name, EventCommitted, def, v)
	}
	c.pending = make(map[Identity]Value)
	wrappers := c.pendingWrappers
	c.pendingWrappers = nil
	c.mu.Unlock()

	metrics.PendingChanges.WithLabelValues(c.name).Set(0)
	metrics.ChangesApplied.WithLabelValues(c.scope.String()).Add(float64(len(ids)))

	d.run()
	var errs []error
	for _, w := range wrappers {
		if err := w.Apply(ctx); err != nil {
			c.logger.Warn("Wrapped setting failed to apply", zap.String("wrapper", w.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("failed to apply %s: %w", w.Name(), err))
		}
	}

	if len(ids) > 0 || len(wrappers) > 0 {
		c.logger.Info("Applied setting changes",
			zap.Int("settings", len(ids)),
			zap.Int("wrapped", len(wrappers)),
		)
	}
	if err := c.SaveSettings(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ClearUnappliedChanges discards pending changes. Each discarded value is
// reported through Changed, followed by Cleared with the value that remains
// in effect. Pending wrapped settings are told to clear.
func (c *Container) ClearUnappliedChanges() {
	c.mu.Lock()
	var d dispatch
	ids := sortedIDs(c.pending)
	for _, id := range ids {
		def := c.defs[id]
		c.bindings.collect(&d, c.name, EventChanged, def, c.pending[id])
		c.bindings.collect(&d, c.name, EventCleared, def, c.effectiveLocked(def))
	}
	c.pending = make(map[Identity]Value)
	wrappers := c.pendingWrappers
	c.pendingWrappers = nil
	c.mu.Unlock()

	metrics.PendingChanges.WithLabelValues(c.name).Set(0)
	metrics.ChangesCleared.WithLabelValues(c.scope.String()).Add(float64(len(ids)))

	d.run()
	for _, w := range wrappers {
		w.Clear()
	}
}

// CanResetSettings reports whether any setting or wrapped setting differs from its default.
func (c *Container) CanResetSettings() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canResetLocked()
}

func (c *Container) canResetLocked() bool {
	return len(c.changed) > 0 || len(c.changedWrappers) > 0
}

// ResetSettings restores every changed setting to its default, firing Reset
// bindings, and drops pending changes. It does nothing when nothing can be reset.
func (c *Container) ResetSettings() {
	c.mu.Lock()
	if !c.canResetLocked() {
		c.mu.Unlock()
		return
	}
	var d dispatch
	ids := sortedIDs(c.changed)
	for _, id := range ids {
		def := c.defs[id]
		if def == nil {
			continue
		}
		c.values.Set(id, def.Default)
		c.bindings.collect(&d, c.name, EventReset, def, def.Default)
	}
	c.changed = make(map[Identity]struct{})
	c.pending = make(map[Identity]Value)
	wrappers := c.changedWrappers
	c.changedWrappers = nil
	c.pendingWrappers = nil
	c.mu.Unlock()

	metrics.PendingChanges.WithLabelValues(c.name).Set(0)
	metrics.SettingsReset.WithLabelValues(c.scope.String()).Add(float64(len(ids)))

	d.run()
	for _, w := range wrappers {
		w.Reset()
	}
	c.logger.Info("Settings reset to defaults", zap.Int("settings", len(ids)), zap.Int("wrapped", len(wrappers)))
}

// ResetSettingsAndApply resets and persists the result.
func (c *Container) ResetSettingsAndApply(ctx context.Context) error {
	c.ResetSettings()
	return c.SaveSettings(ctx)
}

// ChangedSettings returns the identities whose committed value differs from the default.
func (c *Container) ChangedSettings() []Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedIDs(c.changed)
}

// CallOnLoadedEvents fires Loaded for every registered setting with its effective value.
func (c *Container) CallOnLoadedEvents() {
	c.mu.Lock()
	var d dispatch
	c.values.Each(func(id Identity, _ Value) {
		if def := c.defs[id]; def != nil {
			c.bindings.collect(&d, c.name, EventLoaded, def, c.effectiveLocked(def))
		}
	})
	c.mu.Unlock()
	d.run()
}

// Profile returns the active profile slot.
func (c *Container) Profile() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// SetProfile drops active stacks, resets to defaults, switches to the
// clamped slot and loads it. Stacks are saved per profile, so none carry
// over. An empty slot is not an error.
func (c *Container) SetProfile(ctx context.Context, index int) error {
	c.dropStacks()
	c.ResetSettings()

	c.mu.Lock()
	c.profile = ClampProfile(index, c.maxProfiles)
	profile := c.profile
	c.mu.Unlock()

	c.logger.Info("Switching settings profile", zap.Int("profile", profile))
	if err := c.LoadSettings(ctx); err != nil && !errors.Is(err, ErrProfileNotFound) {
		return err
	}
	return nil
}

// SaveSettings writes the sparse profile document for the active slot.
func (c *Container) SaveSettings(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "settings.save", attribute.String("container", c.name))
	defer span.End()

	c.mu.Lock()
	data, err := Encode(c.values, c.lookupLocked)
	key := DocumentKey(c.profile, c.name, "")
	c.mu.Unlock()

	if err != nil {
		metrics.DocumentSaves.WithLabelValues("profile", "error").Inc()
		tracing.RecordError(span, err)
		c.logger.Error("Failed to encode settings", zap.Error(err))
		return fmt.Errorf("failed to encode settings for %s: %w", c.name, err)
	}
	if err := c.write(ctx, key, data, "profile"); err != nil {
		tracing.RecordError(span, err)
		return err
	}
	return nil
}

// LoadSettings reads the active profile document and merges it over the
// committed values. Nothing changes unless the document decodes cleanly.
func (c *Container) LoadSettings(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "settings.load", attribute.String("container", c.name))
	defer span.End()

	c.mu.Lock()
	key := DocumentKey(c.profile, c.name, "")
	c.mu.Unlock()

	data, err := c.read(ctx, key, "profile")
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, key)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	c.mu.Lock()
	scratch := NewValueContainer()
	loaded, err := Decode(data, c.lookupLocked, scratch)
	if err != nil {
		c.mu.Unlock()
		tracing.RecordError(span, err)
		metrics.DocumentLoads.WithLabelValues("profile", "malformed").Inc()
		c.logger.Error("Failed to decode settings document", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	for _, id := range loaded {
		v, _ := scratch.Lookup(id)
		def := c.defs[id]
		c.values.Set(id, v)
		if v.Equal(def.Default) {
			delete(c.changed, id)
		} else {
			c.changed[id] = struct{}{}
		}
	}
	for id, pv := range c.pending {
		def := c.defs[id]
		if pv.Equal(c.values.Get(def.Type, id, def.Default)) {
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	c.logger.Info("Settings loaded", zap.String("key", key), zap.Int("settings", len(loaded)))
	return nil
}

// SaveStack persists overrides as the stack document tag for the active profile.
func (c *Container) SaveStack(ctx context.Context, tag Identity, overrides map[Identity]Value) error {
	if !tag.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStackTag, tag)
	}

	c.mu.Lock()
	layer := NewValueContainer()
	for id, v := range overrides {
		def := c.defs[id]
		if def == nil {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s in %s", ErrSettingNotFound, id, c.name)
		}
		if v.Type() != def.Type {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, id, def.Type, v.Type())
		}
		layer.Set(id, v)
	}
	data, err := EncodeFull(layer, c.lookupLocked)
	key := DocumentKey(c.profile, c.name, string(tag))
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to encode stack %s: %w", tag, err)
	}
	return c.write(ctx, key, data, "stack")
}

// ApplyStack loads the stack document tag and places it on top of any
// active stacks. Reads resolve the topmost override first. Committed values,
// pending changes and the changed set are untouched. StackChanged fires for
// every setting whose effective value moved.
func (c *Container) ApplyStack(ctx context.Context, tag Identity) error {
	if !tag.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStackTag, tag)
	}

	c.mu.Lock()
	key := DocumentKey(c.profile, c.name, string(tag))
	c.mu.Unlock()

	data, err := c.read(ctx, key, "stack")
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrStackNotFound, tag)
	}
	if err != nil {
		return err
	}

	c.mu.Lock()
	layer := NewValueContainer()
	if _, err := Decode(data, c.lookupLocked, layer); err != nil {
		c.mu.Unlock()
		metrics.DocumentLoads.WithLabelValues("stack", "malformed").Inc()
		return fmt.Errorf("failed to decode stack %s: %w", tag, err)
	}
	before := c.snapshotLocked()
	c.removeStackLocked(tag)
	c.stacks = append(c.stacks, stackLayer{tag: tag, values: layer})
	var d dispatch
	c.collectStackChangesLocked(&d, before)
	c.mu.Unlock()

	d.run()
	c.logger.Info("Settings stack applied", zap.String("stack", string(tag)), zap.Int("overrides", layer.Len()))
	return nil
}

// RemoveStack deactivates stack tag. It reports whether the stack was active.
func (c *Container) RemoveStack(tag Identity) bool {
	c.mu.Lock()
	before := c.snapshotLocked()
	if !c.removeStackLocked(tag) {
		c.mu.Unlock()
		return false
	}
	var d dispatch
	c.collectStackChangesLocked(&d, before)
	c.mu.Unlock()

	d.run()
	c.logger.Info("Settings stack removed", zap.String("stack", string(tag)))
	return true
}

// ActiveStacks returns active stack tags, bottom first.
func (c *Container) ActiveStacks() []Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Identity, len(c.stacks))
	for i, s := range c.stacks {
		out[i] = s.tag
	}
	return out
}

func (c *Container) dropStacks() {
	c.mu.Lock()
	if len(c.stacks) == 0 {
		c.mu.Unlock()
		return
	}
	before := c.snapshotLocked()
	n := len(c.stacks)
	c.stacks = nil
	var d dispatch
	c.collectStackChangesLocked(&d, before)
	c.mu.Unlock()

	d.run()
	c.logger.Info("Settings stacks dropped", zap.Int("stacks", n))
}

func (c *Container) removeStackLocked(tag Identity) bool {
	for i, s := range c.stacks {
		if s.tag == tag {
			c.stacks = append(c.stacks[:i], c.stacks[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Container) snapshotLocked() map[Identity]Value {
	out := make(map[Identity]Value, len(c.defs))
	for id, def := range c.defs {
		out[id] = c.effectiveLocked(def)
	}
	return out
}

func (c *Container) collectStackChangesLocked(d *dispatch, before map[Identity]Value) {
	for _, id := range sortedIDs(before) {
		def := c.defs[id]
		if after := c.effectiveLocked(def); !after.Equal(before[id]) {
			c.bindings.collect(d, c.name, EventStackChanged, def, after)
		}
	}
}

// AddPendingWrapper marks an externally owned setting as having an unapplied change.
func (c *Container) AddPendingWrapper(w Wrapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingWrappers = addUnique(c.pendingWrappers, w)
}

func (c *Container) RemovePendingWrapper(w Wrapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingWrappers = removeWrapper(c.pendingWrappers, w)
}

// AddChangedWrapper marks an externally owned setting as differing from its default.
func (c *Container) AddChangedWrapper(w Wrapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changedWrappers = addUnique(c.changedWrappers, w)
}

func (c *Container) RemoveChangedWrapper(w Wrapper) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changedWrappers = removeWrapper(c.changedWrappers, w)
}

// Status summarizes the container.
func (c *Container) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	stacks := make([]Identity, len(c.stacks))
	for i, s := range c.stacks {
		stacks[i] = s.tag
	}
	return Status{
		Name:         c.name,
		Scope:        c.scope.String(),
		State:        c.state.String(),
		Profile:      c.profile,
		Definitions:  len(c.defs),
		Pending:      sortedIDs(c.pending),
		Changed:      sortedIDs(c.changed),
		Stacks:       stacks,
		CanReset:     c.canResetLocked(),
		HasUnapplied: len(c.pending) > 0 || len(c.pendingWrappers) > 0,
	}
}

func (c *Container) read(ctx context.Context, key, kind string) ([]byte, error) {
	start := time.Now()
	data, err := c.store.Read(ctx, key)
	metrics.PersistenceDuration.WithLabelValues("read").Observe(time.Since(start).Seconds())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		metrics.DocumentLoads.WithLabelValues(kind, "not_found").Inc()
		c.logger.Debug("No saved settings document", zap.String("key", key))
		return nil, err
	case err != nil:
		metrics.DocumentLoads.WithLabelValues(kind, "error").Inc()
		c.logger.Error("Failed to read settings document", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	metrics.DocumentLoads.WithLabelValues(kind, "success").Inc()
	return data, nil
}

func (c *Container) write(ctx context.Context, key string, data []byte, kind string) error {
	start := time.Now()
	err := c.store.Write(ctx, key, data)
	metrics.PersistenceDuration.WithLabelValues("write").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DocumentSaves.WithLabelValues(kind, "error").Inc()
		c.logger.Error("Failed to save settings document", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	metrics.DocumentSaves.WithLabelValues(kind, "success").Inc()
	c.logger.Debug("Settings document saved", zap.String("key", key))
	return nil
}

func sortedIDs[V any](m map[Identity]V) []Identity {
	ids := make([]Identity, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func addUnique(list []Wrapper, w Wrapper) []Wrapper {
	for _, existing := range list {
		if existing == w {
			return list
		}
	}
	return append(list, w)
}

func removeWrapper(list []Wrapper, w Wrapper) []Wrapper {
	for i, existing := range list {
		if existing == w {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
