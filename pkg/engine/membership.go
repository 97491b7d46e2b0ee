package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

// ListChats returns every chat the user participates in, pending
// friend-request chats included.
func (s *Session) ListChats(ctx context.Context) ([]model.Chat, error) {
	return s.store.ChatsForUser(ctx, s.self.ID)
}

// CreateGroupChat creates a named group with the caller as sole initial
// participant and creator. Direct chats are never created this way; they
// only come out of the friend-request flow.
func (s *Session) CreateGroupChat(ctx context.Context, name string) (*model.Chat, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("group chat needs a name")
	}
	chat := &model.Chat{
		Name:         name,
		Type:         model.ChatGroup,
		Participants: []string{s.self.ID},
		CreatorID:    s.self.ID,
		Status:       model.StatusActive,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}
	s.sink.ChatListChanged()
	return chat, nil
}

// SendFriendRequest opens the friend lifecycle: a pending direct chat is
// created durably with both users as participants, then the recipient is
// notified over the transport. The durable record is authoritative; an
// offline recipient still sees the request via the store live query.
func (s *Session) SendFriendRequest(ctx context.Context, targetID string) (*model.Chat, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return nil, apperrors.Validation("missing friend user id")
	}
	if targetID == s.self.ID {
		return nil, apperrors.Validation("cannot send a friend request to yourself")
	}
	if _, err := s.store.GetUser(ctx, targetID); err != nil {
		return nil, err
	}

	chat := &model.Chat{
		Type:         model.ChatDM,
		Participants: []string{s.self.ID, targetID},
		CreatorID:    s.self.ID,
		Status:       model.StatusPending,
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, err
	}

	req := model.FriendRequest{
		RequesterID:   s.self.ID,
		RequesterName: s.self.Username,
		RecipientID:   targetID,
		ChatID:        chat.ID,
	}
	if err := s.transport.Emit(model.EventFriendRequestSend, req); err != nil {
		log.Printf("Failed to notify %s of friend request: %v", targetID, err)
	}
	s.sink.ChatListChanged()
	return chat, nil
}

// RespondToFriendRequest settles a pending direct chat. Accept flips it
// to active; reject deletes it outright. Either way the requester is
// told over the transport. Only the recipient may respond.
func (s *Session) RespondToFriendRequest(ctx context.Context, chatID int64, accept bool) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(s.self.ID) {
		return apperrors.Forbidden("you are not a participant of chat %d", chatID)
	}
	if chat.CreatorID == s.self.ID {
		return apperrors.Forbidden("cannot respond to your own friend request")
	}
	if chat.Status != model.StatusPending {
		return apperrors.Validation("chat %d has no pending request", chatID)
	}

	if accept {
		if err := s.store.UpdateChatStatus(ctx, chatID, model.StatusActive); err != nil {
			return err
		}
	} else {
		if err := s.store.DeleteChat(ctx, chatID); err != nil {
			return err
		}
	}

	resp := model.FriendResponse{
		ChatID:      chatID,
		RequesterID: chat.CreatorID,
		RecipientID: s.self.ID,
		Status:      accept,
	}
	if err := s.transport.Emit(model.EventFriendRequestRespond, resp); err != nil {
		log.Printf("Failed to notify %s of friend response: %v", chat.CreatorID, err)
	}
	s.sink.ChatListChanged()
	return nil
}

// RequestToJoin asks the creator of a group chat for membership. The
// request lives only on the transport; if the creator is not connected
// with the chat open it is lost and can be re-sent.
func (s *Session) RequestToJoin(ctx context.Context, chatID int64) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat.HasParticipant(s.self.ID) {
		return apperrors.Validation("you are already a participant of chat %d", chatID)
	}
	if chat.Type == model.ChatDM {
		return apperrors.Validation("direct chats cannot be joined; send a friend request instead")
	}

	req := model.JoinRequest{ChatID: chatID, UserID: s.self.ID}
	if err := s.transport.Emit(model.EventRequestJoin, req); err != nil {
		return err
	}
	s.sink.Notice(fmt.Sprintf("Join request sent for %s", chat.Name))
	return nil
}

// onJoinReceived handles an incoming join request. Only the chat creator
// decides. On accept the participant is union-added durably first, then
// the decision is broadcast; a failed add means no broadcast, so the
// requester is never told yes without the store agreeing.
func (s *Session) onJoinReceived(data json.RawMessage) {
	var req model.JoinReceived
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("Malformed join request event: %v", err)
		return
	}

	chat, err := s.store.GetChat(context.Background(), req.ChatID)
	if err != nil {
		log.Printf("Join request for unknown chat %d: %v", req.ChatID, err)
		return
	}
	if chat.CreatorID != s.self.ID {
		return
	}

	name := req.RequesterID
	if u, err := s.store.GetUser(context.Background(), req.RequesterID); err == nil {
		name = u.Username
	}
	accept := s.confirm(fmt.Sprintf("%s wants to join %s. Accept?", name, chat.Name))
	if accept {
		if err := s.store.AddParticipant(context.Background(), req.ChatID, req.RequesterID); err != nil {
			log.Printf("Failed to add %s to chat %d: %v", req.RequesterID, req.ChatID, err)
			s.sink.Notice("Could not add the new member; the request was not answered")
			return
		}
	}

	resp := model.JoinRespond{ChatID: req.ChatID, RequesterID: req.RequesterID, Accept: accept}
	if err := s.transport.Emit(model.EventRequestRespond, resp); err != nil {
		log.Printf("Failed to answer join request from %s: %v", req.RequesterID, err)
	}
}

func (s *Session) onJoinResponse(data json.RawMessage) {
	var resp model.JoinResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Printf("Malformed join response event: %v", err)
		return
	}
	if resp.Status {
		s.sink.Notice(fmt.Sprintf("Your request to join chat %d was accepted", resp.ChatID))
		s.sink.ChatListChanged()
	} else {
		s.sink.Notice(fmt.Sprintf("Your request to join chat %d was rejected", resp.ChatID))
	}
}

func (s *Session) onFriendRequestReceived(data json.RawMessage) {
	var req model.FriendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("Malformed friend request event: %v", err)
		return
	}
	s.sink.Notice(fmt.Sprintf("Friend request from %s", req.RequesterName))
	s.sink.ChatListChanged()
}

func (s *Session) onFriendRequestResponse(data json.RawMessage) {
	var resp model.FriendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		log.Printf("Malformed friend response event: %v", err)
		return
	}
	if resp.Status {
		s.sink.Notice("Your friend request was accepted")
		s.sink.ChatListChanged()
	} else {
		s.sink.Notice("Your friend request was rejected")
	}
}

// onPendingChat fires from the store live query when a pending direct
// chat addressed to this user appears. It converges with the transport
// notification on the same chat; both paths just surface the request.
func (s *Session) onPendingChat(chat model.Chat) {
	log.Printf("Pending friend request in chat %d", chat.ID)
	s.sink.ChatListChanged()
}
