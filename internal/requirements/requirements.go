// Package requirements provides the edit predicates attached to setting
// definitions by the catalog.
package requirements

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
)

// DefaultEvalTimeout bounds a single Lua predicate evaluation.
const DefaultEvalTimeout = 50 * time.Millisecond

var ErrUnknownRequirement = errors.New("unknown requirement")

// PrimaryPlayer is met only for the first local player.
type PrimaryPlayer struct{}

func (PrimaryPlayer) IsMet(p settings.Player) bool { return p.IsPrimary() }
func (PrimaryPlayer) String() string { return "primary" }

// Lua is a boolean Lua expression evaluated against a `player` table with
// fields id, index and primary. The expression is compiled once.
type Lua struct {
	expr    string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// NewLua compiles expr as the body of `return <expr>`.
func NewLua(expr string) (*Lua, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty lua expression", ErrUnknownRequirement)
	}
	chunk, err := parse.Parse(strings.NewReader("return "+expr), "requirement")
	if err != nil {
		return nil, fmt.Errorf("parse lua requirement %q: %w", expr, err)
	}
	proto, err := lua.Compile(chunk, "requirement")
	if err != nil {
		return nil, fmt.Errorf("compile lua requirement %q: %w", expr, err)
	}
	return &Lua{expr: expr, proto: proto, timeout: DefaultEvalTimeout}, nil
}

// WithTimeout returns a copy of the predicate with a different evaluation bound.
func (r *Lua) WithTimeout(d time.Duration) *Lua {
	cp := *r
	cp.timeout = d
	return &cp
}

// IsMet evaluates the expression. Evaluation errors count as unmet.
func (r *Lua) IsMet(p settings.Player) bool {
	ok, err := r.Eval(context.Background(), p)
	return err == nil && ok
}

// Eval runs the expression in a fresh sandboxed state.
func (r *Lua) Eval(ctx context.Context, p settings.Player) (result bool, err error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibraries(L)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	L.SetContext(ctx)

	player := L.NewTable()
	player.RawSetString("id", lua.LString(p.ID))
	player.RawSetString("index", lua.LNumber(p.Index))
	player.RawSetString("primary", lua.LBool(p.IsPrimary()))
	L.SetGlobal("player", player)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("lua panic: %v", rec)
		}
	}()

	L.Push(L.NewFunctionFromProto(r.proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("evaluate lua requirement %q: %w", r.expr, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func (r *Lua) String() string { return "lua:" + r.expr }

func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Parse builds a requirement from its catalog spelling: "primary" or "lua:<expr>".
func Parse(raw string) (settings.Requirement, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(raw, "primary"):
		return PrimaryPlayer{}, nil
	case strings.HasPrefix(raw, "lua:"):
		return NewLua(strings.TrimPrefix(raw, "lua:"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequirement, raw)
	}
}

// ParseAll parses every entry, stopping at the first failure.
func ParseAll(raws []string) ([]settings.Requirement, error) {
	if len(raws) == 0 {
		return nil, nil
	}
	out := make([]settings.Requirement, 0, len(raws))
	for _, s := range raws {
		r, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
