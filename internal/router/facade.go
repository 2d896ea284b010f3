package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

// Definition returns the catalog definition for id, or nil.
func (r *Router) Definition(id settings.Identity) *settings.Definition {
	return r.source.Definition(id)
}

// resolve finds the definition for id and the container that owns it for playerID.
func (r *Router) resolve(playerID string, id settings.Identity) (*settings.Container, *settings.Definition, error) {
	def := r.source.Definition(id)
	if def == nil {
		return nil, nil, fmt.Errorf("%w: %s", settings.ErrInvalidSetting, id)
	}
	c, err := r.Container(playerID, def.Scope)
	if err != nil {
		return nil, nil, err
	}
	return c, def, nil
}

// GetValue returns the effective value of id for playerID.
func (r *Router) GetValue(playerID string, id settings.Identity) (settings.Value, error) {
	c, def, err := r.resolve(playerID, id)
	if err != nil {
		return settings.NoValue(), err
	}
	return c.GetValue(def), nil
}

func (r *Router) GetBool(playerID string, id settings.Identity) (bool, error) {
	v, err := r.GetValue(playerID, id)
	return v.Bool(), err
}

func (r *Router) GetInt(playerID string, id settings.Identity) (int32, error) {
	v, err := r.GetValue(playerID, id)
	return v.Int(), err
}

func (r *Router) GetFloat(playerID string, id settings.Identity) (float32, error) {
	v, err := r.GetValue(playerID, id)
	return v.Float(), err
}

func (r *Router) GetColor(playerID string, id settings.Identity) (settings.Color, error) {
	v, err := r.GetValue(playerID, id)
	return v.Color(), err
}

func (r *Router) GetTag(playerID string, id settings.Identity) (settings.Identity, error) {
	v, err := r.GetValue(playerID, id)
	return v.Tag(), err
}

// IsEditable reports whether every requirement of id holds for playerID.
// GameInstance settings with no registered player are evaluated as the primary player.
func (r *Router) IsEditable(playerID string, id settings.Identity) bool {
	def := r.source.Definition(id)
	if def == nil {
		return false
	}
	p, ok := r.Player(playerID)
	if !ok {
		if def.Scope == settings.ScopeLocalPlayer {
			return false
		}
		p = settings.Player{ID: playerID}
	}
	return def.AreRequirementsMet(p)
}

// ChangeValue stages v for id on behalf of playerID.
func (r *Router) ChangeValue(playerID string, id settings.Identity, v settings.Value) error {
	c, def, err := r.resolve(playerID, id)
	if err != nil {
		return err
	}
	if !r.IsEditable(playerID, id) {
		return fmt.Errorf("%w: %s", ErrNotEditable, id)
	}
	return c.ChangeValue(def, v)
}

func (r *Router) ChangeBool(playerID string, id settings.Identity, v bool) error {
	return r.ChangeValue(playerID, id, settings.BoolValue(v))
}

func (r *Router) ChangeInt(playerID string, id settings.Identity, v int32) error {
	return r.ChangeValue(playerID, id, settings.IntValue(v))
}

func (r *Router) ChangeFloat(playerID string, id settings.Identity, v float32) error {
	return r.ChangeValue(playerID, id, settings.FloatValue(v))
}

func (r *Router) ChangeColor(playerID string, id settings.Identity, v settings.Color) error {
	return r.ChangeValue(playerID, id, settings.ColorValue(v))
}

func (r *Router) ChangeTag(playerID string, id settings.Identity, v settings.Identity) error {
	return r.ChangeValue(playerID, id, settings.TagValue(v))
}

// ApplyChanges commits pending changes in the player's container and the
// GameInstance container.
func (r *Router) ApplyChanges(ctx context.Context, playerID string) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cs {
		if err := c.ApplyChanges(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ClearChanges discards pending changes in both containers.
func (r *Router) ClearChanges(playerID string) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	for _, c := range cs {
		c.ClearUnappliedChanges()
	}
	return nil
}

func (r *Router) HasUnappliedChanges(playerID string) bool {
	cs, err := r.containers(playerID)
	if err != nil {
		return false
	}
	for _, c := range cs {
		if c.HasUnappliedChanges() {
			return true
		}
	}
	return false
}

func (r *Router) CanResetSettings(playerID string) bool {
	cs, err := r.containers(playerID)
	if err != nil {
		return false
	}
	for _, c := range cs {
		if c.CanResetSettings() {
			return true
		}
	}
	return false
}

// ResetSettings restores defaults in both containers and persists the result.
func (r *Router) ResetSettings(ctx context.Context, playerID string) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cs {
		if !c.CanResetSettings() {
			continue
		}
		if err := c.ResetSettingsAndApply(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SetProfile switches both containers to profile index.
func (r *Router) SetProfile(ctx context.Context, playerID string, index int) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range cs {
		if err := c.SetProfile(ctx, index); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SaveStack splits overrides by owning container and saves each part as stack tag.
func (r *Router) SaveStack(ctx context.Context, playerID string, tag settings.Identity, overrides map[settings.Identity]settings.Value) error {
	parts := make(map[*settings.Container]map[settings.Identity]settings.Value)
	for id, v := range overrides {
		c, _, err := r.resolve(playerID, id)
		if err != nil {
			return err
		}
		if parts[c] == nil {
			parts[c] = make(map[settings.Identity]settings.Value)
		}
		parts[c][id] = v
	}
	for c, part := range parts {
		if err := c.SaveStack(ctx, tag, part); err != nil {
			return fmt.Errorf("%s: %w", c.Name(), err)
		}
	}
	return nil
}

// ApplyStack activates stack tag in every container that has it saved. It
// fails with ErrStackNotFound only when no container does.
func (r *Router) ApplyStack(ctx context.Context, playerID string, tag settings.Identity) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	applied := 0
	var errs []error
	for _, c := range cs {
		err := c.ApplyStack(ctx, tag)
		switch {
		case err == nil:
			applied++
		case errors.Is(err, settings.ErrStackNotFound):
		default:
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if applied == 0 {
		return fmt.Errorf("%w: %s", settings.ErrStackNotFound, tag)
	}
	return nil
}

// RemoveStack deactivates stack tag in both containers. It reports whether
// any container had it active.
func (r *Router) RemoveStack(playerID string, tag settings.Identity) bool {
	cs, err := r.containers(playerID)
	if err != nil {
		return false
	}
	removed := false
	for _, c := range cs {
		if c.RemoveStack(tag) {
			removed = true
		}
	}
	return removed
}

// CallOnLoadedEvents replays Loaded bindings in both containers.
func (r *Router) CallOnLoadedEvents(playerID string) error {
	cs, err := r.containers(playerID)
	if err != nil {
		return err
	}
	for _, c := range cs {
		c.CallOnLoadedEvents()
	}
	return nil
}

// Status summarizes both containers, player container first.
func (r *Router) Status(playerID string) ([]settings.Status, error) {
	cs, err := r.containers(playerID)
	if err != nil {
		return nil, err
	}
	out := make([]settings.Status, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Status())
	}
	return out, nil
}

// Bind registers fn for event on id in the owning container. The returned
// function removes the binding.
func (r *Router) Bind(playerID string, id settings.Identity, event settings.ChangeEvent, fn settings.Callback) (func() bool, error) {
	c, def, err := r.resolve(playerID, id)
	if err != nil {
		return nil, err
	}
	h, err := c.BindValue(def, event, fn)
	if err != nil {
		return nil, err
	}
	return func() bool { return c.Unbind(h) }, nil
}

// Observe subscribes fn to every notification from both containers.
func (r *Router) Observe(playerID string, fn func(settings.Notification)) (func(), error) {
	cs, err := r.containers(playerID)
	if err != nil {
		return nil, err
	}
	cancels := make([]func(), 0, len(cs))
	for _, c := range cs {
		cancels = append(cancels, c.Observe(fn))
	}
	return func() {
		for _, stop := range cancels {
			stop()
		}
	}, nil
}

// AddPendingWrapper registers an externally owned setting with pending changes.
func (r *Router) AddPendingWrapper(w settings.Wrapper) error {
	c, err := r.Container("", settings.ScopeGameInstance)
	if err != nil {
		return err
	}
	c.AddPendingWrapper(w)
	return nil
}

// AddChangedWrapper registers an externally owned setting that differs from its default.
func (r *Router) AddChangedWrapper(w settings.Wrapper) error {
	c, err := r.Container("", settings.ScopeGameInstance)
	if err != nil {
		return err
	}
	c.AddChangedWrapper(w)
	return nil
}
