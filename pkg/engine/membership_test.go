package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

func TestFriendRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.user("alice")

	alice, _, _ := h.session("alice", nil)

	_, err := alice.SendFriendRequest(context.Background(), "alice")
	require.True(t, apperrors.IsValidation(err))

	_, err = alice.SendFriendRequest(context.Background(), "  ")
	require.True(t, apperrors.IsValidation(err))

	_, err = alice.SendFriendRequest(context.Background(), "nobody")
	require.True(t, apperrors.IsNotFound(err))
}

func TestFriendRequestCreatesPendingChat(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")

	alice, _, _ := h.session("alice", nil)
	_, bobSink, _ := h.session("bob", nil)

	chat, err := alice.SendFriendRequest(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, model.ChatDM, chat.Type)
	assert.Equal(t, model.StatusPending, chat.Status)
	assert.ElementsMatch(t, []string{"alice", "bob"}, chat.Participants)

	stored, err := h.store.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)

	require.Eventually(t, func() bool {
		return bobSink.hasNotice("Friend request from alice")
	}, waitFor, tick)
}

func TestFriendRequestAcceptActivatesChat(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")

	alice, aliceSink, _ := h.session("alice", nil)
	bob, _, _ := h.session("bob", nil)

	chat, err := alice.SendFriendRequest(context.Background(), "bob")
	require.NoError(t, err)

	require.NoError(t, bob.RespondToFriendRequest(context.Background(), chat.ID, true))

	stored, err := h.store.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, stored.Status)

	require.Eventually(t, func() bool {
		return aliceSink.hasNotice("accepted")
	}, waitFor, tick)

	// The activated chat behaves like any direct chat.
	require.NoError(t, alice.OpenChat(context.Background(), chat.ID))
	require.NoError(t, alice.SendMessage(context.Background(), "we're friends now"))
}

func TestFriendRequestRejectDeletesChat(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")

	alice, aliceSink, _ := h.session("alice", nil)
	bob, _, _ := h.session("bob", nil)

	chat, err := alice.SendFriendRequest(context.Background(), "bob")
	require.NoError(t, err)

	require.NoError(t, bob.RespondToFriendRequest(context.Background(), chat.ID, false))

	_, err = h.store.GetChat(context.Background(), chat.ID)
	require.True(t, apperrors.IsNotFound(err))

	require.Eventually(t, func() bool {
		return aliceSink.hasNotice("rejected")
	}, waitFor, tick)
}

func TestFriendRequestResponderRules(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	h.user("mallory")

	alice, _, _ := h.session("alice", nil)
	bob, _, _ := h.session("bob", nil)
	mallory, _, _ := h.session("mallory", nil)

	chat, err := alice.SendFriendRequest(context.Background(), "bob")
	require.NoError(t, err)

	// The requester cannot answer their own request.
	err = alice.RespondToFriendRequest(context.Background(), chat.ID, true)
	require.True(t, apperrors.IsForbidden(err))

	// Outsiders cannot answer at all.
	err = mallory.RespondToFriendRequest(context.Background(), chat.ID, true)
	require.True(t, apperrors.IsForbidden(err))

	// Settled requests cannot be answered twice.
	require.NoError(t, bob.RespondToFriendRequest(context.Background(), chat.ID, true))
	err = bob.RespondToFriendRequest(context.Background(), chat.ID, true)
	require.True(t, apperrors.IsValidation(err))
}

func TestCreateGroupChat(t *testing.T) {
	h := newHarness(t)
	h.user("alice")

	alice, sink, _ := h.session("alice", nil)

	_, err := alice.CreateGroupChat(context.Background(), "   ")
	require.True(t, apperrors.IsValidation(err))

	chat, err := alice.CreateGroupChat(context.Background(), "gophers")
	require.NoError(t, err)
	assert.Equal(t, model.ChatGroup, chat.Type)
	assert.Equal(t, model.StatusActive, chat.Status)
	assert.Equal(t, []string{"alice"}, chat.Participants)
	assert.Equal(t, "alice", chat.CreatorID)

	chats, err := alice.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "gophers", chats[0].Name)
	sink.mu.Lock()
	assert.Greater(t, sink.listChanges, 0)
	sink.mu.Unlock()
}

func TestJoinRequestAcceptedAddsParticipant(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")

	alice, _, _ := h.session("alice", acceptAll)
	bob, bobSink, _ := h.session("bob", nil)

	chat, err := alice.CreateGroupChat(context.Background(), "gophers")
	require.NoError(t, err)
	// The creator must have the chat open to receive join requests.
	require.NoError(t, alice.OpenChat(context.Background(), chat.ID))

	require.NoError(t, bob.RequestToJoin(context.Background(), chat.ID))

	require.Eventually(t, func() bool {
		stored, err := h.store.GetChat(context.Background(), chat.ID)
		return err == nil && stored.HasParticipant("bob")
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		return bobSink.hasNotice("accepted")
	}, waitFor, tick)

	stored, err := h.store.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 2)

	// Already a member now.
	err = bob.RequestToJoin(context.Background(), chat.ID)
	require.True(t, apperrors.IsValidation(err))

	// The new member can open the chat and talk.
	require.NoError(t, bob.OpenChat(context.Background(), chat.ID))
	require.NoError(t, bob.SendMessage(context.Background(), "thanks for having me"))
}

func TestJoinRequestRejected(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")

	alice, _, _ := h.session("alice", nil) // default confirmer declines
	bob, bobSink, _ := h.session("bob", nil)

	chat, err := alice.CreateGroupChat(context.Background(), "private club")
	require.NoError(t, err)
	require.NoError(t, alice.OpenChat(context.Background(), chat.ID))

	require.NoError(t, bob.RequestToJoin(context.Background(), chat.ID))

	require.Eventually(t, func() bool {
		return bobSink.hasNotice("rejected")
	}, waitFor, tick)

	stored, err := h.store.GetChat(context.Background(), chat.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasParticipant("bob"))
}

func TestJoinRequestGuards(t *testing.T) {
	h := newHarness(t)
	h.user("alice")
	h.user("bob")
	chatID := h.activeDM("alice", "bob")

	h.user("mallory")
	mallory, _, _ := h.session("mallory", nil)

	// Direct chats are entered through friend requests, never joins.
	err := mallory.RequestToJoin(context.Background(), chatID)
	require.True(t, apperrors.IsValidation(err))

	err = mallory.RequestToJoin(context.Background(), 424242)
	require.True(t, apperrors.IsNotFound(err))
}
