package settings

import (
	"fmt"
	"strings"
)

// Identity is the hierarchical, dot separated tag naming a setting (e.g. "UI.Brightness").
type Identity string

// IsValid reports whether the identity is non-empty and has no empty segments.
func (id Identity) IsValid() bool {
	if id == "" {
		return false
	}
	for _, part := range strings.Split(string(id), ".") {
		if part == "" || strings.ContainsAny(part, " \t\r\n,/\\") {
			return false
		}
	}
	return true
}

func (id Identity) String() string { return string(id) }

// ValueType selects which payload of a Value is active.
type ValueType int

const (
	TypeNone ValueType = iota
	TypeBoolean
	TypeInteger
	TypeFloat
	TypeColor
	TypeTag
)

// ValueTypes lists every concrete value type in persistence order.
var ValueTypes = []ValueType{TypeBoolean, TypeInteger, TypeFloat, TypeColor, TypeTag}

func (t ValueType) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeBoolean:
		return "bool"
	case TypeInteger:
		return "int"
	case TypeFloat:
		return "float"
	case TypeColor:
		return "color"
	case TypeTag:
		return "tag"
	default:
		return "unknown"
	}
}

// ParseValueType resolves the catalog spelling of a value type.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bool", "boolean":
		return TypeBoolean, nil
	case "int", "integer":
		return TypeInteger, nil
	case "float":
		return TypeFloat, nil
	case "color", "colour":
		return TypeColor, nil
	case "tag":
		return TypeTag, nil
	default:
		return TypeNone, fmt.Errorf("unknown value type %q", s)
	}
}

// Scope is the lifetime domain a setting and its container belong to.
type Scope int

const (
	ScopeGameInstance Scope = iota
	ScopeLocalPlayer
)

func (s Scope) String() string {
	switch s {
	case ScopeGameInstance:
		return "GameInstance"
	case ScopeLocalPlayer:
		return "LocalPlayer"
	default:
		return "unknown"
	}
}

// ParseScope resolves the catalog spelling of a scope. Empty means GameInstance.
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gameinstance", "game_instance", "game":
		return ScopeGameInstance, nil
	case "localplayer", "local_player", "player":
		return ScopeLocalPlayer, nil
	default:
		return ScopeGameInstance, fmt.Errorf("unknown scope %q", s)
	}
}

// ChangeEvent is the lifecycle moment a binding listens for.
type ChangeEvent int

const (
	EventChanged ChangeEvent = iota
	EventCommitted
	EventLoaded
	EventCleared
	EventReset
	EventStackChanged
)

func (e ChangeEvent) String() string {
	switch e {
	case EventChanged:
		return "changed"
	case EventCommitted:
		return "committed"
	case EventLoaded:
		return "loaded"
	case EventCleared:
		return "cleared"
	case EventReset:
		return "reset"
	case EventStackChanged:
		return "stack_changed"
	default:
		return "unknown"
	}
}

// InitState tracks the definition loading protocol of a container.
type InitState int

const (
	StateUninitialized InitState = iota
	StateLoading
	StateReady
)

func (s InitState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Color is an RGBA color with byte components.
type Color struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

var (
	White = Color{R: 255, G: 255, B: 255, A: 255}
	Black = Color{A: 255}
	Red   = Color{R: 255, A: 255}
)

// ParseColor accepts "#RRGGBB", "#RRGGBBAA" or "R,G,B[,A]" byte components.
func ParseColor(s string) (Color, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		hex := s[1:]
		var c Color
		c.A = 255
		switch len(hex) {
		case 6:
			if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &c.R, &c.G, &c.B); err != nil {
				return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
			}
		case 8:
			if _, err := fmt.Sscanf(hex, "%02x%02x%02x%02x", &c.R, &c.G, &c.B, &c.A); err != nil {
				return Color{}, fmt.Errorf("invalid color %q: %w", s, err)
			}
		default:
			return Color{}, fmt.Errorf("invalid color %q", s)
		}
		return c, nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != 3 && len(parts) != 4 {
		return Color{}, fmt.Errorf("invalid color %q", s)
	}
	comps := [4]uint8{0, 0, 0, 255}
	for i, p := range parts {
		var v int
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &v); err != nil || v < 0 || v > 255 {
			return Color{}, fmt.Errorf("invalid color component %q in %q", p, s)
		}
		comps[i] = uint8(v)
	}
	return Color{R: comps[0], G: comps[1], B: comps[2], A: comps[3]}, nil
}

func (c Color) String() string {
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}
