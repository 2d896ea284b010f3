package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/requirements"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
)

type fakeSource struct {
	mu      sync.Mutex
	defs    map[settings.Identity]*settings.Definition
	onAdded []func([]*settings.Definition)
}

func newFakeSource(defs ...*settings.Definition) *fakeSource {
	s := &fakeSource{defs: make(map[settings.Identity]*settings.Definition)}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

func (s *fakeSource) IsLoading() bool { return false }
func (s *fakeSource) OnLoaded(fn func()) { fn() }

func (s *fakeSource) Definitions(scope settings.Scope) []*settings.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*settings.Definition
	for _, d := range s.defs {
		if d.Scope == scope {
			out = append(out, d)
		}
	}
	return out
}

func (s *fakeSource) Definition(id settings.Identity) *settings.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defs[id]
}

func (s *fakeSource) OnAdded(fn func([]*settings.Definition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAdded = append(s.onAdded, fn)
}

func (s *fakeSource) add(defs ...*settings.Definition) {
	s.mu.Lock()
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	handlers := s.onAdded
	s.mu.Unlock()
	for _, h := range handlers {
		h(defs)
	}
}

var (
	brightness = &settings.Definition{ID: "UI.Brightness", Type: settings.TypeFloat, Default: settings.FloatValue(1)}
	crosshair  = &settings.Definition{ID: "HUD.Crosshair", Type: settings.TypeColor, Default: settings.ColorValue(settings.White), Scope: settings.ScopeLocalPlayer}
	invertY    = &settings.Definition{
		ID: "Input.InvertY", Type: settings.TypeBoolean, Default: settings.BoolValue(false), Scope: settings.ScopeLocalPlayer,
		Requirements: []settings.Requirement{requirements.PrimaryPlayer{}},
	}
)

func newTestRouter(t *testing.T, source *fakeSource) (*Router, storage.Store) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	r := NewRouter(source, store, Config{}, zaptest.NewLogger(t))
	t.Cleanup(r.CloseSession)
	return r, store
}

func openWithPlayers(t *testing.T, r *Router, players ...settings.Player) {
	t.Helper()
	ctx := context.Background()
	_, err := r.OpenSession(ctx)
	require.NoError(t, err)
	for _, p := range players {
		c, err := r.AddPlayer(ctx, p)
		require.NoError(t, err)
		require.NoError(t, c.WaitReady(ctx))
	}
}

func TestRouterResolvesContainersByScope(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness, crosshair))

	_, err := r.Container("", settings.ScopeGameInstance)
	assert.ErrorIs(t, err, ErrScopeNotRegistered)
	assert.Panics(t, func() { r.MustContainer("p1", settings.ScopeLocalPlayer) })

	openWithPlayers(t, r, settings.Player{ID: "p1", Index: 0}, settings.Player{ID: "p2", Index: 1})

	game := r.MustContainer("anyone", settings.ScopeGameInstance)
	assert.Equal(t, "GameInstance", game.Name())
	p1 := r.MustContainer("p1", settings.ScopeLocalPlayer)
	assert.Equal(t, "LocalPlayer_p1", p1.Name())
	assert.NotSame(t, p1, r.MustContainer("p2", settings.ScopeLocalPlayer))

	_, err = r.Container("ghost", settings.ScopeLocalPlayer)
	assert.ErrorIs(t, err, ErrScopeNotRegistered)

	assert.Equal(t, []settings.Player{{ID: "p1", Index: 0}, {ID: "p2", Index: 1}}, r.Players())
	assert.NotEmpty(t, r.SessionID())
}

func TestRouterSessionLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness))
	ctx := context.Background()

	_, err := r.AddPlayer(ctx, settings.Player{ID: "p1"})
	assert.ErrorIs(t, err, ErrNoSession)

	first, err := r.OpenSession(ctx)
	require.NoError(t, err)
	_, err = r.OpenSession(ctx)
	assert.ErrorIs(t, err, ErrSessionOpen)

	_, err = r.AddPlayer(ctx, settings.Player{ID: "bad id"})
	assert.ErrorIs(t, err, ErrInvalidPlayer)
	_, err = r.AddPlayer(ctx, settings.Player{ID: "p1"})
	require.NoError(t, err)
	_, err = r.AddPlayer(ctx, settings.Player{ID: "p1"})
	assert.ErrorIs(t, err, ErrPlayerExists)

	assert.True(t, r.RemovePlayer("p1"))
	assert.False(t, r.RemovePlayer("p1"))

	r.CloseSession()
	assert.Empty(t, r.SessionID())

	second, err := r.OpenSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRouterFacadeRoutesBothScopes(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness, crosshair))
	openWithPlayers(t, r, settings.Player{ID: "p1"})
	ctx := context.Background()

	v, err := r.GetFloat("p1", "UI.Brightness")
	require.NoError(t, err)
	assert.Equal(t, float32(1), v)

	require.NoError(t, r.ChangeFloat("p1", "UI.Brightness", 0.5))
	require.NoError(t, r.ChangeColor("p1", "HUD.Crosshair", settings.Red))
	assert.True(t, r.HasUnappliedChanges("p1"))

	require.NoError(t, r.ApplyChanges(ctx, "p1"))
	assert.False(t, r.HasUnappliedChanges("p1"))

	f, _ := r.GetFloat("p1", "UI.Brightness")
	assert.Equal(t, float32(0.5), f)
	c, _ := r.GetColor("p1", "HUD.Crosshair")
	assert.Equal(t, settings.Red, c)
	assert.True(t, r.CanResetSettings("p1"))

	require.NoError(t, r.ResetSettings(ctx, "p1"))
	f, _ = r.GetFloat("p1", "UI.Brightness")
	assert.Equal(t, float32(1), f)
	c, _ = r.GetColor("p1", "HUD.Crosshair")
	assert.Equal(t, settings.White, c)
	assert.False(t, r.CanResetSettings("p1"))
}

func TestRouterClearChanges(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness))
	openWithPlayers(t, r)

	require.NoError(t, r.ChangeFloat("", "UI.Brightness", 0.25))
	require.NoError(t, r.ClearChanges(""))
	assert.False(t, r.HasUnappliedChanges(""))
	f, _ := r.GetFloat("", "UI.Brightness")
	assert.Equal(t, float32(1), f)
}

func TestRouterUnknownSettingAndPlayer(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness, crosshair))
	openWithPlayers(t, r)

	_, err := r.GetValue("", "Nope.Missing")
	assert.ErrorIs(t, err, settings.ErrInvalidSetting)

	_, err = r.GetValue("ghost", "HUD.Crosshair")
	assert.ErrorIs(t, err, ErrScopeNotRegistered)

	assert.ErrorIs(t, r.ApplyChanges(context.Background(), "ghost"), ErrPlayerNotFound)
	assert.ErrorIs(t, r.ChangeInt("", "UI.Brightness", 3), settings.ErrTypeMismatch)
}

func TestRouterIsEditable(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(invertY, brightness))
	openWithPlayers(t, r, settings.Player{ID: "p1", Index: 0}, settings.Player{ID: "p2", Index: 1})

	assert.True(t, r.IsEditable("p1", "Input.InvertY"))
	assert.False(t, r.IsEditable("p2", "Input.InvertY"))
	assert.False(t, r.IsEditable("ghost", "Input.InvertY"))
	assert.True(t, r.IsEditable("", "UI.Brightness"))
	assert.False(t, r.IsEditable("p1", "Nope.Missing"))

	assert.ErrorIs(t, r.ChangeBool("p2", "Input.InvertY", true), ErrNotEditable)
	assert.NoError(t, r.ChangeBool("p1", "Input.InvertY", true))
}

func TestRouterProfilesPersistPerContainer(t *testing.T) {
	src := newFakeSource(brightness)
	r, store := newTestRouter(t, src)
	openWithPlayers(t, r)
	ctx := context.Background()

	require.NoError(t, r.ChangeFloat("", "UI.Brightness", 0.5))
	require.NoError(t, r.ApplyChanges(ctx, ""))

	require.NoError(t, r.SetProfile(ctx, "", 2))
	f, _ := r.GetFloat("", "UI.Brightness")
	assert.Equal(t, float32(1), f, "empty profile slot yields defaults")

	require.NoError(t, r.SetProfile(ctx, "", 1))
	f, _ = r.GetFloat("", "UI.Brightness")
	assert.Equal(t, float32(0.5), f)

	// a fresh router over the same store sees the saved profile
	r2 := NewRouter(src, store, Config{}, zaptest.NewLogger(t))
	t.Cleanup(r2.CloseSession)
	openWithPlayers(t, r2)
	require.NoError(t, r2.MustContainer("", settings.ScopeGameInstance).WaitReady(ctx))
	f, _ = r2.GetFloat("", "UI.Brightness")
	assert.Equal(t, float32(0.5), f)
}

func TestRouterStacks(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness, crosshair))
	openWithPlayers(t, r, settings.Player{ID: "p1"})
	ctx := context.Background()

	require.NoError(t, r.SaveStack(ctx, "p1", "Mode.Photo", map[settings.Identity]settings.Value{
		"UI.Brightness": settings.FloatValue(0.2),
		"HUD.Crosshair": settings.ColorValue(settings.Black),
	}))

	var events []settings.ChangeEvent
	cancel, err := r.Observe("p1", func(n settings.Notification) { events = append(events, n.Event) })
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, r.ApplyStack(ctx, "p1", "Mode.Photo"))
	f, _ := r.GetFloat("p1", "UI.Brightness")
	assert.Equal(t, float32(0.2), f)
	c, _ := r.GetColor("p1", "HUD.Crosshair")
	assert.Equal(t, settings.Black, c)
	assert.Equal(t, []settings.ChangeEvent{settings.EventStackChanged, settings.EventStackChanged}, events)

	assert.True(t, r.RemoveStack("p1", "Mode.Photo"))
	assert.False(t, r.RemoveStack("p1", "Mode.Photo"))
	f, _ = r.GetFloat("p1", "UI.Brightness")
	assert.Equal(t, float32(1), f)

	assert.ErrorIs(t, r.ApplyStack(ctx, "p1", "Mode.Missing"), settings.ErrStackNotFound)
	assert.ErrorIs(t, r.SaveStack(ctx, "p1", "Mode.X", map[settings.Identity]settings.Value{"Nope.Y": settings.BoolValue(true)}), settings.ErrInvalidSetting)
}

func TestRouterBindAndLoadedEvents(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness))
	openWithPlayers(t, r)

	var got []float32
	unbind, err := r.Bind("", "UI.Brightness", settings.EventLoaded, func(v settings.Value, _ *settings.Definition) {
		got = append(got, v.Float())
	})
	require.NoError(t, err)

	require.NoError(t, r.CallOnLoadedEvents(""))
	assert.Equal(t, []float32{1}, got)

	assert.True(t, unbind())
	require.NoError(t, r.CallOnLoadedEvents(""))
	assert.Len(t, got, 1)

	_, err = r.Bind("", "Nope.Missing", settings.EventLoaded, func(settings.Value, *settings.Definition) {})
	assert.ErrorIs(t, err, settings.ErrInvalidSetting)
}

func TestRouterForwardsLateDefinitions(t *testing.T) {
	src := newFakeSource(brightness)
	r, _ := newTestRouter(t, src)
	openWithPlayers(t, r, settings.Player{ID: "p1"})

	_, err := r.GetValue("p1", "HUD.Crosshair")
	assert.ErrorIs(t, err, settings.ErrInvalidSetting)

	src.add(crosshair)
	c, err := r.GetColor("p1", "HUD.Crosshair")
	require.NoError(t, err)
	assert.Equal(t, settings.White, c)
	assert.NotNil(t, r.MustContainer("p1", settings.ScopeLocalPlayer).Definition("HUD.Crosshair"))
}

func TestRouterStatus(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness, crosshair))
	openWithPlayers(t, r, settings.Player{ID: "p1"})

	require.NoError(t, r.ChangeFloat("p1", "UI.Brightness", 0.5))
	st, err := r.Status("p1")
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.Equal(t, "LocalPlayer_p1", st[0].Name)
	assert.Equal(t, "GameInstance", st[1].Name)
	assert.Equal(t, []settings.Identity{"UI.Brightness"}, st[1].Pending)
}

type countingWrapper struct{ applied int }

func (w *countingWrapper) Name() string { return "Display.Resolution" }
func (w *countingWrapper) Apply(context.Context) error {
	w.applied++
	return nil
}
func (w *countingWrapper) Clear() {}
func (w *countingWrapper) Reset() {}

func TestRouterWrappers(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness))
	w := &countingWrapper{}
	assert.ErrorIs(t, r.AddPendingWrapper(w), ErrScopeNotRegistered)

	openWithPlayers(t, r)
	require.NoError(t, r.AddPendingWrapper(w))
	require.NoError(t, r.ApplyChanges(context.Background(), ""))
	assert.Equal(t, 1, w.applied)
}

func TestRouterContainerHooks(t *testing.T) {
	r, _ := newTestRouter(t, newFakeSource(brightness))
	var opened, closed []string
	r.OnContainer(
		func(c *settings.Container) { opened = append(opened, c.Name()) },
		func(c *settings.Container) { closed = append(closed, c.Name()) },
	)

	openWithPlayers(t, r, settings.Player{ID: "p1"})
	assert.Equal(t, []string{"GameInstance", "LocalPlayer_p1"}, opened)

	r.RemovePlayer("p1")
	r.CloseSession()
	assert.Equal(t, []string{"LocalPlayer_p1", "GameInstance"}, closed)
}
