package settings

import (
	"errors"
	"fmt"
	"math"
)

// Player identifies the local player a request is made on behalf of.
// Index is the player's position among connected local players; 0 is primary.
type Player struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// IsPrimary reports whether this is the first local player.
func (p Player) IsPrimary() bool { return p.Index == 0 }

// Requirement is a predicate that must hold for a setting to be editable.
type Requirement interface {
	IsMet(p Player) bool
	String() string
}

// Definition describes one configurable value. Definitions are immutable
// once registered with a container.
type Definition struct {
	ID          Identity
	Name        string
	Description string
	Type        ValueType
	Default     Value
	Scope       Scope

	HasMin      bool
	Min         float64
	HasMax      bool
	Max         float64
	Delta       float64
	Logarithmic bool
	UseSlider   bool

	// Options restricts the value to an explicit list when non-empty.
	Options      []Value
	Requirements []Requirement
}

var (
	ErrInvalidDefinition = errors.New("invalid setting definition")
	ErrOutOfRange        = errors.New("value out of range")
	ErrNotAnOption       = errors.New("value is not one of the allowed options")
)

// Validate checks the structural consistency of a definition.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil definition", ErrInvalidDefinition)
	}
	if !d.ID.IsValid() {
		return fmt.Errorf("%w: invalid identity %q", ErrInvalidDefinition, d.ID)
	}
	switch d.Type {
	case TypeBoolean, TypeInteger, TypeFloat, TypeColor, TypeTag:
	default:
		return fmt.Errorf("%w: %s has unsupported type %s", ErrInvalidDefinition, d.ID, d.Type)
	}
	if d.Default.Type() != d.Type {
		return fmt.Errorf("%w: %s default is %s, want %s", ErrInvalidDefinition, d.ID, d.Default.Type(), d.Type)
	}
	if d.Scope != ScopeGameInstance && d.Scope != ScopeLocalPlayer {
		return fmt.Errorf("%w: %s has unknown scope %d", ErrInvalidDefinition, d.ID, d.Scope)
	}
	for _, opt := range d.Options {
		if opt.Type() != d.Type {
			return fmt.Errorf("%w: %s option %s does not match type %s", ErrInvalidDefinition, d.ID, opt, d.Type)
		}
	}
	if d.Logarithmic && d.HasMin && d.Min <= 0 {
		return fmt.Errorf("%w: %s is logarithmic with non-positive min", ErrInvalidDefinition, d.ID)
	}
	return nil
}

// Normalize repairs inverted ranges and clamps numeric defaults into range.
func (d *Definition) Normalize() {
	if d.Type != TypeInteger && d.Type != TypeFloat {
		return
	}
	if d.HasMin && d.HasMax && d.Min > d.Max {
		d.Max = d.Min
	}
	d.Default = d.clamp(d.Default)
}

func (d *Definition) clamp(v Value) Value {
	switch v.Type() {
	case TypeInteger:
		n := float64(v.Int())
		if d.HasMin && n < d.Min {
			n = math.Ceil(d.Min)
		}
		if d.HasMax && n > d.Max {
			n = math.Floor(d.Max)
		}
		return IntValue(int32(n))
	case TypeFloat:
		n := float64(v.Float())
		if d.HasMin && n < d.Min {
			n = d.Min
		}
		if d.HasMax && n > d.Max {
			n = d.Max
		}
		return FloatValue(float32(n))
	default:
		return v
	}
}

// Check reports whether v is an acceptable value for this setting.
func (d *Definition) Check(v Value) error {
	if v.Type() != d.Type {
		return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, d.ID, d.Type, v.Type())
	}
	if !finite(v) || !d.clamp(v).Equal(v) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, d.ID)
	}
	if len(d.Options) > 0 {
		for _, opt := range d.Options {
			if opt.Equal(v) {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotAnOption, d.ID)
	}
	return nil
}

// AreRequirementsMet reports whether every requirement holds for the player.
func (d *Definition) AreRequirementsMet(p Player) bool {
	for _, req := range d.Requirements {
		if req != nil && !req.IsMet(p) {
			return false
		}
	}
	return true
}
