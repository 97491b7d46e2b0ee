package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/apperrors"
)

func acceptAll(string) bool { return true }

func TestPinToggleDrivesBanner(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, sink, _ := h.session("alice", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, alice.SendMessage(context.Background(), "first"))
	require.NoError(t, alice.SendMessage(context.Background(), "second"))

	tl := alice.Timeline()
	require.Len(t, tl, 2)
	first, second := tl[0], tl[1]

	require.NoError(t, alice.PinMessage(context.Background(), first.ID))
	banner := sink.lastBanner()
	require.NotNil(t, banner)
	assert.Equal(t, first.ID, banner.ID)

	// The most recently sent pinned message wins, not the most recently
	// pinned one.
	require.NoError(t, alice.PinMessage(context.Background(), second.ID))
	banner = sink.lastBanner()
	require.NotNil(t, banner)
	assert.Equal(t, second.ID, banner.ID)

	// Unpinning the winner demotes the banner to the older pin.
	require.NoError(t, alice.PinMessage(context.Background(), second.ID))
	banner = sink.lastBanner()
	require.NotNil(t, banner)
	assert.Equal(t, first.ID, banner.ID)

	// Unpinning the last pin clears the banner.
	require.NoError(t, alice.PinMessage(context.Background(), first.ID))
	assert.Nil(t, sink.lastBanner())

	stored, err := h.store.GetMessage(context.Background(), chatID, first.ID)
	require.NoError(t, err)
	assert.False(t, stored.Pinned)
}

func TestPinConvergesAcrossSessions(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", acceptAll)
	bob, bobSink, _ := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	require.NoError(t, alice.SendMessage(context.Background(), "pin me"))
	require.Eventually(t, func() bool {
		return len(bob.Timeline()) == 1
	}, waitFor, tick)

	msgID := alice.Timeline()[0].ID
	require.NoError(t, alice.PinMessage(context.Background(), msgID))

	require.Eventually(t, func() bool {
		b := bobSink.lastBanner()
		return b != nil && b.ID == msgID
	}, waitFor, tick)
	assert.True(t, bobSink.hasNotice("pinned"))
}

func TestDeletePinnedMessageRecomputesBanner(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, sink, _ := h.session("alice", nil)
	bob, bobSink, _ := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	require.NoError(t, alice.SendMessage(context.Background(), "keep"))
	require.NoError(t, alice.SendMessage(context.Background(), "remove"))
	tl := alice.Timeline()
	require.Len(t, tl, 2)
	keep, remove := tl[0], tl[1]

	require.NoError(t, alice.PinMessage(context.Background(), keep.ID))
	require.NoError(t, alice.PinMessage(context.Background(), remove.ID))
	require.Eventually(t, func() bool {
		b := bobSink.lastBanner()
		return b != nil && b.ID == remove.ID
	}, waitFor, tick)

	require.NoError(t, alice.DeleteMessage(context.Background(), remove.ID))

	banner := sink.lastBanner()
	require.NotNil(t, banner)
	assert.Equal(t, keep.ID, banner.ID)
	assert.Len(t, alice.Timeline(), 1)

	require.Eventually(t, func() bool {
		b := bobSink.lastBanner()
		return len(bob.Timeline()) == 1 && b != nil && b.ID == keep.ID
	}, waitFor, tick)

	_, err := h.store.GetMessage(context.Background(), chatID, remove.ID)
	require.True(t, apperrors.IsNotFound(err))
}

func TestPinAuthorization(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	bob, _, _ := h.session("bob", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, bob.OpenChat(context.Background(), chatID))

	require.NoError(t, alice.SendMessage(context.Background(), "mine"))
	require.Eventually(t, func() bool {
		return len(bob.Timeline()) == 1
	}, waitFor, tick)
	msgID := bob.Timeline()[0].ID

	// Bob is neither the sender nor the chat creator.
	err := bob.PinMessage(context.Background(), msgID)
	require.True(t, apperrors.IsForbidden(err))
	err = bob.DeleteMessage(context.Background(), msgID)
	require.True(t, apperrors.IsForbidden(err))

	// The creator may act on someone else's message.
	require.NoError(t, bob.SendMessage(context.Background(), "from bob"))
	require.Eventually(t, func() bool {
		return len(alice.Timeline()) == 2
	}, waitFor, tick)
	bobMsgID := alice.Timeline()[1].ID
	require.NoError(t, alice.PinMessage(context.Background(), bobMsgID))
}

func TestPinUnknownMessage(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))

	err := alice.PinMessage(context.Background(), 404)
	require.True(t, apperrors.IsNotFound(err))
}

func TestReplyLifecycle(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, alice.SendMessage(context.Background(), "original"))
	original := alice.Timeline()[0]

	require.NoError(t, alice.StartReply(original.ID))
	ref := alice.PendingReply()
	require.NotNil(t, ref)
	assert.Equal(t, original.ID, ref.MessageID)
	assert.Equal(t, "alice", ref.Sender)
	assert.Equal(t, "original", ref.Text)

	require.NoError(t, alice.SendMessage(context.Background(), "the reply"))
	tl := alice.Timeline()
	require.Len(t, tl, 2)
	assert.Equal(t, original.ID, tl[1].ReplyToID)
	assert.Equal(t, "alice", tl[1].ReplyToSender)
	assert.Equal(t, "original", tl[1].ReplyToText)

	// Reply context is consumed by the send.
	assert.Nil(t, alice.PendingReply())

	stored, err := h.store.GetMessage(context.Background(), chatID, tl[1].ID)
	require.NoError(t, err)
	assert.Equal(t, original.ID, stored.ReplyToID)
}

func TestReplyCancelPaths(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	alice, _, _ := h.session("alice", nil)
	require.NoError(t, alice.OpenChat(context.Background(), chatID))
	require.NoError(t, alice.SendMessage(context.Background(), "target"))
	msgID := alice.Timeline()[0].ID

	require.NoError(t, alice.StartReply(msgID))
	alice.CancelReply()
	assert.Nil(t, alice.PendingReply())

	// Focusing the composer with an empty draft abandons the reply;
	// focusing with a draft keeps it.
	require.NoError(t, alice.StartReply(msgID))
	alice.ComposerFocused("half-typed")
	assert.NotNil(t, alice.PendingReply())
	alice.ComposerFocused("")
	assert.Nil(t, alice.PendingReply())

	err := alice.StartReply(999)
	require.True(t, apperrors.IsNotFound(err))
}
