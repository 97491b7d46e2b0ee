package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/model"
)

func TestTypingStopsOnceAfterSilence(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	bob, bobSink, _ := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	// A burst of keystrokes inside the debounce window.
	for i := 0; i < 5; i++ {
		alice.InputActivity()
		time.Sleep(testDebounce / 4)
	}

	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "alice is typing..."
	}, waitFor, tick)

	// Silence: the indicator clears after the debounce interval.
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == ""
	}, waitFor, tick)

	// The whole burst produced exactly one start, so exactly one
	// non-empty line on the receiving side.
	assert.Equal(t, 1, bobSink.nonEmptyTypingLines())
}

func TestTypingResumesAfterStop(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	bob, bobSink, _ := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	alice.InputActivity()
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "alice is typing..."
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == ""
	}, waitFor, tick)

	// Typing again after a stop announces again.
	alice.InputActivity()
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "alice is typing..."
	}, waitFor, tick)
	assert.Equal(t, 2, bobSink.nonEmptyTypingLines())
}

func TestTypingExpiryWithoutStopEvent(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	bob, bobSink, peer := h.session("bob", nil)
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	// A start whose stop is lost on the wire.
	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: chatID, UserID: "alice", Username: "alice"})

	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "alice is typing..."
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == ""
	}, waitFor, tick)
}

func TestTypingLinePluralizes(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	bob, bobSink, peer := h.session("bob", nil)
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: chatID, UserID: "carol", Username: "carol"})
	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: chatID, UserID: "dave", Username: "dave"})

	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "carol, dave are typing..."
	}, waitFor, tick)

	peer.Deliver(model.EventTypingStopped, model.TypingNotice{ChatID: chatID, UserID: "dave"})
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "carol is typing..."
	}, waitFor, tick)
}

func TestOwnTypingEventsIgnored(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	bob, bobSink, peer := h.session("bob", nil)
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: chatID, UserID: "bob", Username: "bob"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, bobSink.nonEmptyTypingLines())
}

func TestTypingNoticeForOtherChatIgnored(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	h.user("carol")
	open := h.activeDM("bob", "alice")
	other := h.activeDM("bob", "carol")

	bob, bobSink, peer := h.session("bob", nil)
	require.NoError(t, bob.OpenChat(context.Background(), open))

	// A notice still in flight from a previously open chat carries that
	// chat's id and must not paint the current one.
	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: other, UserID: "carol", Username: "carol"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, bobSink.nonEmptyTypingLines())
}

func TestReconnectResetsTypingAndRejoins(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	bob, bobSink, peer := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	peer.Deliver(model.EventTypingStarted, model.TypingNotice{ChatID: chatID, UserID: "alice", Username: "alice"})
	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == "alice is typing..."
	}, waitFor, tick)

	// A transport gap loses any stop event; the reconnect must not trust
	// the stale typing set.
	peer.Drop()
	peer.Reconnect()

	require.Eventually(t, func() bool {
		return bobSink.lastTypingLine() == ""
	}, waitFor, tick)

	// The rejoin puts bob back in the room: new messages still arrive.
	require.NoError(t, alice.SendMessage(context.Background(), "still there?"))
	require.Eventually(t, func() bool {
		tl := bob.Timeline()
		return len(tl) == 1 && tl[0].Text == "still there?"
	}, waitFor, tick)
}
