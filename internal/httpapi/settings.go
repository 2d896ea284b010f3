package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

// definitionView is the JSON form of a setting definition.
type definitionView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Type         string   `json:"type"`
	Scope        string   `json:"scope"`
	Default      any      `json:"default"`
	Min          *float64 `json:"min,omitempty"`
	Max          *float64 `json:"max,omitempty"`
	Delta        float64  `json:"delta,omitempty"`
	Logarithmic  bool     `json:"logarithmic,omitempty"`
	Slider       bool     `json:"slider,omitempty"`
	Options      []any    `json:"options,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

func viewDefinition(d *settings.Definition) definitionView {
	v := definitionView{
		ID:          string(d.ID),
		Name:        d.Name,
		Description: d.Description,
		Type:        d.Type.String(),
		Scope:       d.Scope.String(),
		Default:     d.Default.Interface(),
		Delta:       d.Delta,
		Logarithmic: d.Logarithmic,
		Slider:      d.UseSlider,
	}
	if d.HasMin {
		lo := d.Min
		v.Min = &lo
	}
	if d.HasMax {
		hi := d.Max
		v.Max = &hi
	}
	for _, o := range d.Options {
		v.Options = append(v.Options, o.Interface())
	}
	for _, req := range d.Requirements {
		v.Requirements = append(v.Requirements, req.String())
	}
	return v
}

// settingView is the effective state of one setting for a player.
type settingView struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Scope    string   `json:"scope"`
	Value    any      `json:"value"`
	Default  any      `json:"default"`
	Editable bool     `json:"editable"`
	Percent  *float64 `json:"slider_percent,omitempty"`
}

func (h *Handler) viewSetting(player string, d *settings.Definition) (settingView, error) {
	v, err := h.router.GetValue(player, d.ID)
	if err != nil {
		return settingView{}, err
	}
	view := settingView{
		ID:       string(d.ID),
		Type:     d.Type.String(),
		Scope:    d.Scope.String(),
		Value:    v.Interface(),
		Default:  d.Default.Interface(),
		Editable: h.router.IsEditable(player, d.ID),
	}
	if d.UseSlider {
		pct := d.SliderPercent(v)
		view.Percent = &pct
	}
	return view, nil
}

func (h *Handler) scopesFor(player string) []settings.Scope {
	if player == "" {
		return []settings.Scope{settings.ScopeGameInstance}
	}
	return []settings.Scope{settings.ScopeLocalPlayer, settings.ScopeGameInstance}
}

// GET /v1/definitions
func (h *Handler) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	var out []definitionView
	for _, scope := range []settings.Scope{settings.ScopeGameInstance, settings.ScopeLocalPlayer} {
		for _, d := range h.catalog.Definitions(scope) {
			out = append(out, viewDefinition(d))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"definitions": out})
}

type addPlayerRequest struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// POST /v1/players
func (h *Handler) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	var req addPlayerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	c, err := h.router.AddPlayer(r.Context(), settings.Player{ID: req.ID, Index: req.Index})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        req.ID,
		"index":     req.Index,
		"container": c.Name(),
		"state":     c.State().String(),
	})
}

// DELETE /v1/players/{player}
func (h *Handler) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("player")
	if !h.router.RemovePlayer(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("player %q not registered", id))
		return
	}
	h.limiter.forget(id)
	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/players/{player}/settings
func (h *Handler) handleListSettings(w http.ResponseWriter, r *http.Request) {
	player := playerID(r)
	var out []settingView
	for _, scope := range h.scopesFor(player) {
		for _, d := range h.catalog.Definitions(scope) {
			view, err := h.viewSetting(player, d)
			if err != nil {
				h.fail(w, r, err)
				return
			}
			out = append(out, view)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":      out,
		"has_unapplied": h.router.HasUnappliedChanges(player),
		"can_reset":     h.router.CanResetSettings(player),
	})
}

func (h *Handler) definition(w http.ResponseWriter, r *http.Request) *settings.Definition {
	id := settings.Identity(r.PathValue("setting"))
	d := h.router.Definition(id)
	if d == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown setting %q", id))
	}
	return d
}

// GET /v1/players/{player}/settings/{setting}
func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	d := h.definition(w, r)
	if d == nil {
		return
	}
	view, err := h.viewSetting(playerID(r), d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type changeRequest struct {
	Value json.RawMessage `json:"value"`
}

// parseJSONValue converts a raw JSON value to a setting value of type t.
func parseJSONValue(t settings.ValueType, raw json.RawMessage) (settings.Value, error) {
	if len(raw) == 0 {
		return settings.NoValue(), fmt.Errorf("%w: value is required", settings.ErrTypeMismatch)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return settings.NoValue(), fmt.Errorf("%w: %v", settings.ErrTypeMismatch, err)
	}
	parsed, err := settings.ParseValue(t, v)
	if errors.Is(err, settings.ErrOutOfRange) {
		return settings.NoValue(), err
	}
	if err != nil {
		return settings.NoValue(), fmt.Errorf("%w: %v", settings.ErrTypeMismatch, err)
	}
	return parsed, nil
}

// PUT /v1/players/{player}/settings/{setting}
func (h *Handler) handleChangeSetting(w http.ResponseWriter, r *http.Request) {
	d := h.definition(w, r)
	if d == nil {
		return
	}
	var req changeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	v, err := parseJSONValue(d.Type, req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := d.Check(v); err != nil {
		h.fail(w, r, err)
		return
	}
	player := playerID(r)
	if err := h.router.ChangeValue(player, d.ID, v); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            string(d.ID),
		"value":         v.Interface(),
		"has_unapplied": h.router.HasUnappliedChanges(player),
	})
}

// POST /v1/players/{player}/apply
func (h *Handler) handleApply(w http.ResponseWriter, r *http.Request) {
	player := playerID(r)
	if err := h.router.ApplyChanges(r.Context(), player); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied", "can_reset": h.router.CanResetSettings(player)})
}

// POST /v1/players/{player}/clear
func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.router.ClearChanges(playerID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// POST /v1/players/{player}/reset
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.router.ResetSettings(r.Context(), playerID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}

// GET /v1/players/{player}/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.router.Status(playerID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": h.router.SessionID(), "containers": st})
}

type profileRequest struct {
	Profile int `json:"profile"`
}

// PUT /v1/players/{player}/profile
func (h *Handler) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.router.SetProfile(r.Context(), playerID(r), req.Profile); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "loaded", "profile": req.Profile})
}

type stackRequest struct {
	Overrides map[string]json.RawMessage `json:"overrides"`
}

// PUT /v1/players/{player}/stacks/{stack}
func (h *Handler) handleSaveStack(w http.ResponseWriter, r *http.Request) {
	var req stackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	overrides := make(map[settings.Identity]settings.Value, len(req.Overrides))
	for id, raw := range req.Overrides {
		d := h.router.Definition(settings.Identity(id))
		if d == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown setting %q", id))
			return
		}
		v, err := parseJSONValue(d.Type, raw)
		if err == nil {
			err = d.Check(v)
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		overrides[d.ID] = v
	}
	tag := settings.Identity(r.PathValue("stack"))
	if err := h.router.SaveStack(r.Context(), playerID(r), tag, overrides); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "stack": string(tag), "overrides": len(overrides)})
}

// POST /v1/players/{player}/stacks/{stack}/apply
func (h *Handler) handleApplyStack(w http.ResponseWriter, r *http.Request) {
	tag := settings.Identity(r.PathValue("stack"))
	if err := h.router.ApplyStack(r.Context(), playerID(r), tag); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "applied", "stack": string(tag)})
}

// DELETE /v1/players/{player}/stacks/{stack}
func (h *Handler) handleRemoveStack(w http.ResponseWriter, r *http.Request) {
	tag := settings.Identity(r.PathValue("stack"))
	if !h.router.RemoveStack(playerID(r), tag) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("stack %q is not active", tag))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
