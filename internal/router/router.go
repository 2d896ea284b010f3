// Package router resolves the settings container that owns a setting for a
// given caller and exposes the player facing settings operations.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
)

var (
	ErrNoSession          = errors.New("no settings session is open")
	ErrSessionOpen        = errors.New("settings session already open")
	ErrScopeNotRegistered = errors.New("no container registered for scope")
	ErrPlayerNotFound     = errors.New("player not registered")
	ErrPlayerExists       = errors.New("player already registered")
	ErrInvalidPlayer      = errors.New("invalid player id")
	ErrNotEditable        = errors.New("setting requirements not met for player")
)

// DefinitionSource is the catalog a router serves definitions from.
type DefinitionSource interface {
	settings.DefinitionProvider
	Definition(id settings.Identity) *settings.Definition
	OnAdded(fn func([]*settings.Definition))
}

// Config holds container defaults applied to every container the router creates.
type Config struct {
	MaxProfiles int `mapstructure:"max_profiles"`
	Profile     int `mapstructure:"profile"`
}

const gameInstanceName = "GameInstance"

type playerEntry struct {
	player    settings.Player
	container *settings.Container
}

// Router owns the GameInstance container of the open session and one
// LocalPlayer container per registered player.
type Router struct {
	source DefinitionSource
	store  storage.Store
	cfg    Config
	logger *zap.Logger

	mu        sync.RWMutex
	sessionID string
	game      *settings.Container
	players   map[string]*playerEntry
	hooks     []containerHook
}

type containerHook struct {
	opened func(*settings.Container)
	closed func(*settings.Container)
}

// NewRouter creates a router and subscribes it to late definitions.
func NewRouter(source DefinitionSource, store storage.Store, cfg Config, logger *zap.Logger) *Router {
	if source == nil || store == nil {
		panic("router: definition source and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxProfiles < 1 {
		cfg.MaxProfiles = settings.DefaultMaxProfiles
	}
	r := &Router{
		source:  source,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		players: make(map[string]*playerEntry),
	}
	source.OnAdded(r.forwardDefinitions)
	return r
}

// OnContainer registers callbacks run when a container is created, before
// it is initialized, and after it is closed. Either may be nil.
func (r *Router) OnContainer(opened, closed func(*settings.Container)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, containerHook{opened: opened, closed: closed})
}

func (r *Router) runHooks(c *settings.Container, opened bool) {
	r.mu.RLock()
	hooks := make([]containerHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()
	for _, h := range hooks {
		if opened && h.opened != nil {
			h.opened(c)
		}
		if !opened && h.closed != nil {
			h.closed(c)
		}
	}
}

// OpenSession creates and initializes the GameInstance container.
func (r *Router) OpenSession(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.game != nil {
		r.mu.Unlock()
		return "", ErrSessionOpen
	}
	r.sessionID = uuid.New().String()
	r.game = r.newContainer(gameInstanceName, settings.ScopeGameInstance)
	game, id := r.game, r.sessionID
	r.mu.Unlock()

	r.runHooks(game, true)
	if err := game.Initialize(ctx, r.source); err != nil {
		return "", fmt.Errorf("failed to initialize game instance settings: %w", err)
	}
	r.logger.Info("Settings session opened", zap.String("session_id", id))
	return id, nil
}

// CloseSession tears down every container. Unsaved pending changes are dropped.
func (r *Router) CloseSession() {
	r.mu.Lock()
	game := r.game
	players := r.players
	id := r.sessionID
	r.game = nil
	r.sessionID = ""
	r.players = make(map[string]*playerEntry)
	r.mu.Unlock()

	for _, p := range players {
		p.container.Close()
		r.runHooks(p.container, false)
	}
	if game != nil {
		game.Close()
		r.runHooks(game, false)
		r.logger.Info("Settings session closed", zap.String("session_id", id))
	}
}

// SessionID returns the open session's id, or "" when none is open.
func (r *Router) SessionID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessionID
}

// AddPlayer registers a local player and initializes its container.
func (r *Router) AddPlayer(ctx context.Context, p settings.Player) (*settings.Container, error) {
	if !settings.Identity(p.ID).IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPlayer, p.ID)
	}
	r.mu.Lock()
	if r.game == nil {
		r.mu.Unlock()
		return nil, ErrNoSession
	}
	if _, ok := r.players[p.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPlayerExists, p.ID)
	}
	c := r.newContainer("LocalPlayer_"+p.ID, settings.ScopeLocalPlayer)
	r.players[p.ID] = &playerEntry{player: p, container: c}
	r.mu.Unlock()

	r.runHooks(c, true)
	if err := c.Initialize(ctx, r.source); err != nil {
		return nil, fmt.Errorf("failed to initialize settings for player %s: %w", p.ID, err)
	}
	r.logger.Info("Local player registered", zap.String("player_id", p.ID), zap.Int("index", p.Index))
	return c, nil
}

// RemovePlayer unregisters a local player. It reports whether one was removed.
func (r *Router) RemovePlayer(id string) bool {
	r.mu.Lock()
	entry, ok := r.players[id]
	delete(r.players, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	entry.container.Close()
	r.runHooks(entry.container, false)
	r.logger.Info("Local player removed", zap.String("player_id", id))
	return true
}

// Player returns the registered player with id.
func (r *Router) Player(id string) (settings.Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.players[id]; ok {
		return e.player, true
	}
	return settings.Player{}, false
}

// Players returns registered players ordered by index.
func (r *Router) Players() []settings.Player {
	r.mu.RLock()
	out := make([]settings.Player, 0, len(r.players))
	for _, e := range r.players {
		out = append(out, e.player)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Container returns the live container for scope on behalf of playerID.
// GameInstance lookups ignore the player.
func (r *Router) Container(playerID string, scope settings.Scope) (*settings.Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch scope {
	case settings.ScopeGameInstance:
		if r.game == nil {
			return nil, fmt.Errorf("%w: %s", ErrScopeNotRegistered, scope)
		}
		return r.game, nil
	case settings.ScopeLocalPlayer:
		if e, ok := r.players[playerID]; ok {
			return e.container, nil
		}
		return nil, fmt.Errorf("%w: %s for player %q", ErrScopeNotRegistered, scope, playerID)
	default:
		return nil, fmt.Errorf("%w: %s", ErrScopeNotRegistered, scope)
	}
}

// MustContainer is Container for callers where a missing registration is a
// wiring bug. It panics on failure.
func (r *Router) MustContainer(playerID string, scope settings.Scope) *settings.Container {
	c, err := r.Container(playerID, scope)
	if err != nil {
		panic(fmt.Sprintf("router: %v", err))
	}
	return c
}

func (r *Router) newContainer(name string, scope settings.Scope) *settings.Container {
	return settings.NewContainer(settings.Options{
		Name:        name,
		Scope:       scope,
		Store:       r.store,
		MaxProfiles: r.cfg.MaxProfiles,
		Profile:     r.cfg.Profile,
		Logger:      r.logger,
	})
}

// containers returns the containers a player-wide operation touches: the
// player's LocalPlayer container when registered, then the GameInstance one.
func (r *Router) containers(playerID string) ([]*settings.Container, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.game == nil {
		return nil, ErrNoSession
	}
	var out []*settings.Container
	if playerID != "" {
		e, ok := r.players[playerID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID)
		}
		out = append(out, e.container)
	}
	return append(out, r.game), nil
}

func (r *Router) forwardDefinitions(defs []*settings.Definition) {
	r.mu.RLock()
	var targets []*settings.Container
	if r.game != nil {
		targets = append(targets, r.game)
	}
	for _, e := range r.players {
		targets = append(targets, e.container)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if n := c.AddDefinitions(defs); n > 0 {
			r.logger.Info("Late setting definitions registered",
				zap.String("container", c.Name()),
				zap.Int("count", n),
			)
		}
	}
}
