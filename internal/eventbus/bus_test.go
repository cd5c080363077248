package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEmit_NoSubscribersDoesNotPanic(t *testing.T) {
	b := New(4)
	require.NotPanics(t, func() {
		b.Emit(Event{Kind: KindRuntimeStarted, Timestamp: time.Unix(0, 0)})
	})
}

func TestSubscribeThenEmit_DeliversEvent(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Emit(Event{Kind: KindMapStarted, Domain: "example.com"})

	select {
	case got := <-sub.Events:
		require.Equal(t, KindMapStarted, got.Kind)
		require.Equal(t, "example.com", got.Domain)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestEmit_FullBufferDropsRatherThanBlocks(t *testing.T) {
	b := New(1)
	sub := b.Subscribe()
	defer sub.Unsubscribe()

	b.Emit(Event{Kind: KindLayerComplete})
	b.Emit(Event{Kind: KindLayerComplete}) // buffer full, dropped silently

	<-sub.Events
	select {
	case <-sub.Events:
		t.Fatal("expected no second event to be delivered")
	default:
	}
}

func TestMatchesDomain(t *testing.T) {
	require.True(t, MatchesDomain(Event{Kind: KindRuntimeStarted}, "anything"))
	require.True(t, MatchesDomain(Event{Kind: KindMapStarted, Domain: "a.com"}, "a.com"))
	require.False(t, MatchesDomain(Event{Kind: KindMapStarted, Domain: "a.com"}, "b.com"))
}
