package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Block names of the persisted document.
const (
	BlockBool    = "BoolValues"
	BlockInteger = "IntegerValues"
	BlockFloat   = "FloatValues"
	BlockColor   = "ColorValues"
	BlockTag     = "TagValues"
)

// DefaultMaxProfiles is the number of profile slots when none is configured.
const DefaultMaxProfiles = 5

var ErrMalformedDocument = errors.New("malformed settings document")

// Lookup resolves an identity to its definition, or nil when unknown.
type Lookup func(Identity) *Definition

type document struct {
	BoolValues    map[string]bool    `json:"BoolValues"`
	IntegerValues map[string]int32   `json:"IntegerValues"`
	FloatValues   map[string]float32 `json:"FloatValues"`
	ColorValues   map[string]string  `json:"ColorValues"`
	TagValues     map[string]string  `json:"TagValues"`
}

func newDocument() *document {
	return &document{
		BoolValues:    map[string]bool{},
		IntegerValues: map[string]int32{},
		FloatValues:   map[string]float32{},
		ColorValues:   map[string]string{},
		TagValues:     map[string]string{},
	}
}

// Encode serializes the values of known settings, omitting those equal to
// their definition's default.
func Encode(values *ValueContainer, lookup Lookup) ([]byte, error) {
	return encode(values, lookup, true)
}

// EncodeFull serializes every known value, including defaults. Stack
// documents use it since an override equal to the default is still an override.
func EncodeFull(values *ValueContainer, lookup Lookup) ([]byte, error) {
	return encode(values, lookup, false)
}

func encode(values *ValueContainer, lookup Lookup, sparse bool) ([]byte, error) {
	doc := newDocument()
	var err error
	values.Each(func(id Identity, v Value) {
		def := lookup(id)
		if def == nil || def.Type != v.Type() {
			return
		}
		if sparse && v.Equal(def.Default) {
			return
		}
		key := string(id)
		switch v.Type() {
		case TypeBoolean:
			doc.BoolValues[key] = v.Bool()
		case TypeInteger:
			doc.IntegerValues[key] = v.Int()
		case TypeFloat:
			f := v.Float()
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				err = fmt.Errorf("cannot encode %s: non-finite float", id)
				return
			}
			doc.FloatValues[key] = f
		case TypeColor:
			doc.ColorValues[key] = encodeColor(v.Color())
		case TypeTag:
			doc.TagValues[key] = string(v.Tag())
		default:
			panic(fmt.Sprintf("settings: unhandled value type %d", v.Type()))
		}
	})
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(doc, "", "\t")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settings document: %w", err)
	}
	return data, nil
}

// encodeColor writes normalized components. Interior bytes are written at
// the midpoint of their bucket so the truncating decodeColor reproduces them.
func encodeColor(c Color) string {
	comps := []uint8{c.R, c.G, c.B, c.A}
	parts := make([]string, len(comps))
	for i, b := range comps {
		switch b {
		case 0:
			parts[i] = "0"
		case 255:
			parts[i] = "1"
		default:
			parts[i] = strconv.FormatFloat((float64(b)+0.5)/255, 'f', -1, 64)
		}
	}
	return strings.Join(parts, ",")
}

// decodeColor parses four comma separated unit floats. Each component is
// scaled by 255, clamped and truncated to a byte. Anything but four parts is rejected.
func decodeColor(s string) (Color, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Color{}, false
	}
	var comps [4]uint8
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			f = 0
		}
		comps[i] = uint8(math.Max(0, math.Min(255, f*255)))
	}
	return Color{R: comps[0], G: comps[1], B: comps[2], A: comps[3]}, true
}

// Decode parses a settings document and writes every known setting into
// into. Unknown identities and entries filed under the wrong block are
// skipped. The returned identities are the ones written. On error into is
// left untouched.
func Decode(data []byte, lookup Lookup, into *ValueContainer) ([]Identity, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDocument)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: document is not an object", ErrMalformedDocument)
	}

	scratch := NewValueContainer()
	var loaded []Identity
	readBlock := func(block string, t ValueType, convert func(gjson.Result) (Value, bool)) {
		res := root.Get(block)
		if !res.Exists() || !res.IsObject() {
			return
		}
		res.ForEach(func(key, val gjson.Result) bool {
			id := Identity(key.String())
			def := lookup(id)
			if def == nil || def.Type != t {
				return true
			}
			v, ok := convert(val)
			if !ok {
				return true
			}
			if _, seen := scratch.Lookup(id); !seen {
				loaded = append(loaded, id)
			}
			scratch.Set(id, v)
			return true
		})
	}

	readBlock(BlockBool, TypeBoolean, func(r gjson.Result) (Value, bool) {
		return BoolValue(r.Bool()), true
	})
	readBlock(BlockInteger, TypeInteger, func(r gjson.Result) (Value, bool) {
		f := math.Trunc(r.Float())
		f = math.Max(math.MinInt32, math.Min(math.MaxInt32, f))
		return IntValue(int32(f)), true
	})
	readBlock(BlockFloat, TypeFloat, func(r gjson.Result) (Value, bool) {
		f := r.Float()
		if math.Abs(f) > math.MaxFloat32 {
			return Value{}, false
		}
		return FloatValue(float32(f)), true
	})
	readBlock(BlockColor, TypeColor, func(r gjson.Result) (Value, bool) {
		c, ok := decodeColor(r.String())
		return ColorValue(c), ok
	})
	readBlock(BlockTag, TypeTag, func(r gjson.Result) (Value, bool) {
		return TagValue(Identity(r.String())), true
	})

	scratch.Each(func(id Identity, v Value) {
		into.Set(id, v)
	})
	return loaded, nil
}

// ClampProfile bounds a profile index to [1, maxProfiles].
func ClampProfile(index, maxProfiles int) int {
	if maxProfiles < 1 {
		maxProfiles = DefaultMaxProfiles
	}
	if index < 1 {
		return 1
	}
	if index > maxProfiles {
		return maxProfiles
	}
	return index
}

// DocumentKey is the storage key of a container's document within a profile.
// Stack documents append the stack tag after the extension.
func DocumentKey(profile int, container, stackTag string) string {
	return fmt.Sprintf("Profile%d/%s.json%s", profile, container, stackTag)
}
