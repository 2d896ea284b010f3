package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
)

type memStore struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failRead error
	failSave error
	writes   int
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string][]byte)}
}

func (m *memStore) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	data, ok := m.docs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *memStore) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.docs[key] = append([]byte(nil), data...)
	m.writes++
	return nil
}

func (m *memStore) doc(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.docs[key]
	return string(data), ok
}

var errDisk = errors.New("disk on fire")

// staticProvider serves a fixed definition list, optionally pretending to
// still be loading until finish is called.
type staticProvider struct {
	mu      sync.Mutex
	defs    []*Definition
	loading bool
	waiters []func()
}

func (p *staticProvider) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

func (p *staticProvider) OnLoaded(fn func()) {
	p.mu.Lock()
	if !p.loading {
		p.mu.Unlock()
		fn()
		return
	}
	p.waiters = append(p.waiters, fn)
	p.mu.Unlock()
}

func (p *staticProvider) Definitions(scope Scope) []*Definition {
	var out []*Definition
	for _, d := range p.defs {
		if d.Scope == scope {
			out = append(out, d)
		}
	}
	return out
}

func (p *staticProvider) finish() {
	p.mu.Lock()
	p.loading = false
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()
	for _, fn := range waiters {
		fn()
	}
}

func floatDef(id string, def float32) *Definition {
	return &Definition{ID: Identity(id), Type: TypeFloat, Default: FloatValue(def), Scope: ScopeGameInstance}
}

func intDef(id string, def int32) *Definition {
	return &Definition{ID: Identity(id), Type: TypeInteger, Default: IntValue(def), Scope: ScopeGameInstance}
}

func boolDef(id string, def bool) *Definition {
	return &Definition{ID: Identity(id), Type: TypeBoolean, Default: BoolValue(def), Scope: ScopeGameInstance}
}

func colorDef(id string, def Color) *Definition {
	return &Definition{ID: Identity(id), Type: TypeColor, Default: ColorValue(def), Scope: ScopeGameInstance}
}

func tagDef(id string, def Identity) *Definition {
	return &Definition{ID: Identity(id), Type: TypeTag, Default: TagValue(def), Scope: ScopeGameInstance}
}

type recordedEvent struct {
	event ChangeEvent
	id    Identity
	value Value
}

type eventLog struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (l *eventLog) observe(n Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, recordedEvent{event: n.Event, id: n.Setting, value: n.Value})
}

func (l *eventLog) of(kind ChangeEvent) []recordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []recordedEvent
	for _, e := range l.events {
		if e.event == kind {
			out = append(out, e)
		}
	}
	return out
}

func (l *eventLog) kinds() []ChangeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChangeEvent, len(l.events))
	for i, e := range l.events {
		out[i] = e.event
	}
	return out
}
