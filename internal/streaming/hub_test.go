package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kocoro-lab/Shannon/go/settings/internal/settings"
	"github.com/Kocoro-lab/Shannon/go/settings/internal/storage"
)

func TestRingReplaySince(t *testing.T) {
	r := newRing(3)
	for i := 0; i < 4; i++ {
		r.push(Event{Seq: uint64(i + 1)})
	}
	evs := r.since(0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)

	evs = r.since(2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
}

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(4)
	ch := h.Subscribe("GameInstance", 8)

	h.Publish("GameInstance", Event{Type: "committed", Setting: "UI.Brightness"})
	h.Publish("LocalPlayer_p1", Event{Type: "changed"})

	evt := <-ch
	assert.Equal(t, "GameInstance", evt.Topic)
	assert.Equal(t, uint64(1), evt.Seq)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Empty(t, ch, "other topics are not delivered")

	h.Unsubscribe("GameInstance", ch)
	_, open := <-ch
	assert.False(t, open)
	h.Unsubscribe("GameInstance", ch)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub(10)
	ch := h.Subscribe("t", 1)
	defer h.Unsubscribe("t", ch)

	for i := 0; i < 3; i++ {
		h.Publish("t", Event{Type: "changed"})
	}
	assert.Len(t, ch, 1)
	assert.Len(t, h.ReplaySince("t", 1), 2, "missed events remain replayable")

	h.Forget("t")
	assert.Empty(t, h.ReplaySince("t", 0))
}

type nopStore struct{}

func (nopStore) Read(context.Context, string) ([]byte, error) { return nil, storage.ErrNotFound }
func (nopStore) Write(context.Context, string, []byte) error { return nil }

type oneDef struct{ def *settings.Definition }

func (p oneDef) IsLoading() bool { return false }
func (p oneDef) OnLoaded(fn func()) { fn() }
func (p oneDef) Definitions(settings.Scope) []*settings.Definition {
	return []*settings.Definition{p.def}
}

func TestHubAttachForwardsContainerNotifications(t *testing.T) {
	def := &settings.Definition{ID: "UI.Brightness", Type: settings.TypeFloat, Default: settings.FloatValue(1)}
	c := settings.NewContainer(settings.Options{Name: "GameInstance", Store: nopStore{}})
	defer c.Close()
	require.NoError(t, c.Initialize(context.Background(), oneDef{def}))

	h := NewHub(8)
	detach := h.Attach(c)
	ch := h.Subscribe("GameInstance", 8)
	defer h.Unsubscribe("GameInstance", ch)

	require.NoError(t, c.ChangeFloat(def, 0.5))
	evt := <-ch
	assert.Equal(t, "changed", evt.Type)
	assert.Equal(t, "UI.Brightness", evt.Setting)
	assert.Equal(t, "float", evt.ValueType)
	assert.InDelta(t, 0.5, evt.Value, 1e-6)

	detach()
	require.NoError(t, c.ChangeFloat(def, 0.25))
	assert.Empty(t, ch)
}

type fakeSource struct {
	opened, closed func(*settings.Container)
}

func (f *fakeSource) OnContainer(opened, closed func(*settings.Container)) {
	f.opened, f.closed = opened, closed
}

func TestHubFollowTracksContainerLifecycle(t *testing.T) {
	def := &settings.Definition{ID: "UI.Brightness", Type: settings.TypeFloat, Default: settings.FloatValue(1)}
	c := settings.NewContainer(settings.Options{Name: "GameInstance", Store: nopStore{}})
	defer c.Close()
	require.NoError(t, c.Initialize(context.Background(), oneDef{def}))

	h := NewHub(8)
	src := &fakeSource{}
	h.Follow(src)
	src.opened(c)
	ch := h.Subscribe("GameInstance", 4)

	require.NoError(t, c.ChangeFloat(def, 0.5))
	assert.Len(t, h.ReplaySince("GameInstance", 0), 1)
	<-ch

	src.closed(c)
	assert.Empty(t, h.ReplaySince("GameInstance", 0))
	_, open := <-ch
	assert.False(t, open, "closing the container ends its streams")
	h.Unsubscribe("GameInstance", ch)
	require.NoError(t, c.ChangeFloat(def, 0.25))
	assert.Empty(t, h.ReplaySince("GameInstance", 0))
}
