package settings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSentinels(t *testing.T) {
	v := NoValue()
	assert.Equal(t, TypeNone, v.Type())
	assert.False(t, v.IsValid())
	assert.False(t, v.Bool())
	assert.Equal(t, int32(-1), v.Int())
	assert.Equal(t, float32(-1), v.Float())
	assert.Equal(t, White, v.Color())
	assert.Equal(t, Identity(""), v.Tag())

	// accessors of a different type fall back too
	f := FloatValue(0.25)
	assert.Equal(t, int32(-1), f.Int())
	assert.Equal(t, float32(0.25), f.Float())
}

func TestValueEqual(t *testing.T) {
	assert.True(t, IntValue(3).Equal(IntValue(3)))
	assert.False(t, IntValue(3).Equal(IntValue(4)))
	assert.False(t, IntValue(1).Equal(FloatValue(1)))
	assert.True(t, ColorValue(Red).Equal(ColorValue(Color{R: 255, A: 255})))
	assert.True(t, TagValue("Quality.High").Equal(TagValue("Quality.High")))
	assert.True(t, NoValue().Equal(Value{}))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     ValueType
		raw     any
		want    Value
		wantErr bool
	}{
		{"bool", TypeBoolean, true, BoolValue(true), false},
		{"bool string", TypeBoolean, "false", BoolValue(false), false},
		{"int from json number", TypeInteger, float64(7), IntValue(7), false},
		{"int from toml", TypeInteger, int64(-2), IntValue(-2), false},
		{"int fraction", TypeInteger, 1.5, Value{}, true},
		{"float", TypeFloat, 0.5, FloatValue(0.5), false},
		{"float from int", TypeFloat, 2, FloatValue(2), false},
		{"float largest", TypeFloat, float64(math.MaxFloat32), FloatValue(math.MaxFloat32), false},
		{"float overflow", TypeFloat, 1e39, Value{}, true},
		{"float negative overflow", TypeFloat, -1e39, Value{}, true},
		{"float nan", TypeFloat, math.NaN(), Value{}, true},
		{"float inf", TypeFloat, math.Inf(1), Value{}, true},
		{"float overflow string", TypeFloat, "1e39", Value{}, true},
		{"color hex", TypeColor, "#ff000080", ColorValue(Color{R: 255, A: 128}), false},
		{"color bytes", TypeColor, "0,255,0", ColorValue(Color{G: 255, A: 255}), false},
		{"color junk", TypeColor, "nope", Value{}, true},
		{"tag", TypeTag, "Quality.High", TagValue("Quality.High"), false},
		{"tag empty", TypeTag, "", TagValue(""), false},
		{"tag invalid", TypeTag, "a..b", Value{}, true},
		{"wrong go type", TypeBoolean, 3, Value{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.typ, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestIdentityIsValid(t *testing.T) {
	assert.True(t, Identity("UI.Brightness").IsValid())
	assert.True(t, Identity("Audio").IsValid())
	assert.False(t, Identity("").IsValid())
	assert.False(t, Identity("UI..Brightness").IsValid())
	assert.False(t, Identity(".UI").IsValid())
	assert.False(t, Identity("UI.Bright ness").IsValid())
}

func TestDefinitionNormalizeAndCheck(t *testing.T) {
	d := &Definition{
		ID: "Audio.Volume", Type: TypeFloat, Default: FloatValue(2),
		HasMin: true, Min: 0, HasMax: true, Max: 1,
	}
	d.Normalize()
	assert.Equal(t, float32(1), d.Default.Float())

	assert.NoError(t, d.Check(FloatValue(0.3)))
	assert.ErrorIs(t, d.Check(FloatValue(1.5)), ErrOutOfRange)
	assert.ErrorIs(t, d.Check(IntValue(1)), ErrTypeMismatch)

	unbounded := &Definition{ID: "UI.Gamma", Type: TypeFloat, Default: FloatValue(2.2)}
	assert.NoError(t, unbounded.Check(FloatValue(1e30)))
	assert.ErrorIs(t, unbounded.Check(FloatValue(float32(math.Inf(1)))), ErrOutOfRange)
	assert.ErrorIs(t, unbounded.Check(FloatValue(float32(math.Inf(-1)))), ErrOutOfRange)
	assert.ErrorIs(t, unbounded.Check(FloatValue(float32(math.NaN()))), ErrOutOfRange)

	inverted := &Definition{ID: "X.Y", Type: TypeInteger, Default: IntValue(5), HasMin: true, Min: 10, HasMax: true, Max: 2}
	inverted.Normalize()
	assert.Equal(t, float64(10), inverted.Max)
	assert.Equal(t, int32(10), inverted.Default.Int())

	opts := &Definition{ID: "Gfx.Quality", Type: TypeTag, Default: TagValue("Q.Low"), Options: []Value{TagValue("Q.Low"), TagValue("Q.High")}}
	require.NoError(t, opts.Validate())
	assert.NoError(t, opts.Check(TagValue("Q.High")))
	assert.ErrorIs(t, opts.Check(TagValue("Q.Ultra")), ErrNotAnOption)
}

func TestDefinitionValidate(t *testing.T) {
	assert.ErrorIs(t, (&Definition{ID: "bad..id", Type: TypeBoolean, Default: BoolValue(true)}).Validate(), ErrInvalidDefinition)
	assert.ErrorIs(t, (&Definition{ID: "A.B", Type: TypeBoolean, Default: IntValue(1)}).Validate(), ErrInvalidDefinition)
	assert.ErrorIs(t, (&Definition{ID: "A.B", Type: TypeNone}).Validate(), ErrInvalidDefinition)
	assert.NoError(t, boolDef("A.B", true).Validate())
}

type fixedRequirement bool

func (r fixedRequirement) IsMet(Player) bool { return bool(r) }
func (r fixedRequirement) String() string { return "fixed" }

func TestAreRequirementsMet(t *testing.T) {
	d := boolDef("A.B", true)
	assert.True(t, d.AreRequirementsMet(Player{}))
	d.Requirements = []Requirement{fixedRequirement(true), fixedRequirement(false)}
	assert.False(t, d.AreRequirementsMet(Player{}))
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#102030")
	require.NoError(t, err)
	assert.Equal(t, Color{R: 0x10, G: 0x20, B: 0x30, A: 255}, c)
	assert.Equal(t, "#102030ff", c.String())

	_, err = ParseColor("1,2")
	assert.Error(t, err)
	_, err = ParseColor("1,2,300")
	assert.Error(t, err)
}

func TestValueContainer(t *testing.T) {
	vc := NewValueContainer()
	fallback := FloatValue(-2)

	assert.Equal(t, fallback, vc.Get(TypeFloat, "A.Float", fallback), "missing key is not an error")

	vc.Set("A.Float", FloatValue(0.5))
	vc.Set("A.Bool", BoolValue(true))
	assert.Equal(t, FloatValue(0.5), vc.Get(TypeFloat, "A.Float", fallback))
	assert.Equal(t, fallback, vc.Get(TypeInteger, "A.Float", fallback), "wrong type falls back")

	vc.Set("A.Float", FloatValue(0.75))
	assert.Equal(t, 2, vc.Len())

	clone := vc.Clone()
	vc.Delete("A.Float")
	_, ok := vc.Lookup("A.Float")
	assert.False(t, ok)
	v, ok := clone.Lookup("A.Float")
	require.True(t, ok)
	assert.Equal(t, FloatValue(0.75), v)

	var order []Identity
	clone.Each(func(id Identity, _ Value) { order = append(order, id) })
	assert.Equal(t, []Identity{"A.Bool", "A.Float"}, order, "ordered by type then identity")
}
