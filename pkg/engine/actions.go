package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

// PinMessage toggles the pinned flag on a message in the open chat.
// Only the sender or the chat creator may act. The durable write lands
// first; the broadcast carries the user's choice of whether to notify
// the room.
func (s *Session) PinMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return apperrors.Validation("no chat is open")
	}
	m := s.findLocked(cur, messageID)
	if m == nil {
		s.mu.Unlock()
		return apperrors.NotFound("message %d not found", messageID)
	}
	if m.SenderID != s.self.ID && cur.chat.CreatorID != s.self.ID {
		s.mu.Unlock()
		return apperrors.Forbidden("only the sender or the chat creator can pin a message")
	}
	chatID := cur.chat.ID
	pinned := !m.Pinned
	s.mu.Unlock()

	if err := s.store.SetPinned(ctx, chatID, messageID, pinned); err != nil {
		s.sink.Notice("Pin change could not be saved")
		return err
	}

	verb := "unpinned"
	if pinned {
		verb = "pinned"
	}
	notify := s.confirm(fmt.Sprintf("Notify everyone that the message was %s?", verb))

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur = s.current; cur != nil && cur.chat.ID == chatID {
		if m = s.findLocked(cur, messageID); m != nil {
			m.Pinned = pinned
		}
		s.recomputeBannerLocked()
	}
	update := model.MessageUpdate{ChatID: chatID, MessageID: messageID, Pinned: pinned, Notify: notify}
	if err := s.transport.Emit(model.EventMessageUpdate, update); err != nil {
		log.Printf("Failed to broadcast pin change for message %d: %v", messageID, err)
	}
	return nil
}

// DeleteMessage removes a message durably and broadcasts the removal.
// Same authorization rule as pinning. Deleting a pinned message demotes
// the banner to the next most recent pinned message, if any.
func (s *Session) DeleteMessage(ctx context.Context, messageID int64) error {
	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return apperrors.Validation("no chat is open")
	}
	m := s.findLocked(cur, messageID)
	if m == nil {
		s.mu.Unlock()
		return apperrors.NotFound("message %d not found", messageID)
	}
	if m.SenderID != s.self.ID && cur.chat.CreatorID != s.self.ID {
		s.mu.Unlock()
		return apperrors.Forbidden("only the sender or the chat creator can delete a message")
	}
	chatID := cur.chat.ID
	s.mu.Unlock()

	if err := s.store.DeleteMessage(ctx, chatID, messageID); err != nil {
		s.sink.Notice("Message could not be deleted")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur = s.current; cur != nil && cur.chat.ID == chatID {
		s.removeByIDLocked(cur, messageID)
		s.sink.MessageRemoved(chatID, messageID)
		s.recomputeBannerLocked()
	}
	del := model.MessageDelete{ChatID: chatID, MessageID: messageID}
	if err := s.transport.Emit(model.EventMessageDelete, del); err != nil {
		log.Printf("Failed to broadcast delete for message %d: %v", messageID, err)
	}
	return nil
}

// StartReply arms the composer with a reply target from the open chat.
func (s *Session) StartReply(messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil {
		return apperrors.Validation("no chat is open")
	}
	m := s.findLocked(cur, messageID)
	if m == nil {
		return apperrors.NotFound("message %d not found", messageID)
	}
	s.pendingReply = &ReplyRef{MessageID: m.ID, Sender: m.SenderName, Text: m.Text}
	return nil
}

// CancelReply clears the pending reply context without sending.
func (s *Session) CancelReply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReply = nil
}

// ComposerFocused reports the composer gaining focus with the given
// draft. Focusing with an empty draft abandons the pending reply.
func (s *Session) ComposerFocused(draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if draft == "" {
		s.pendingReply = nil
	}
}

// PendingReply returns a copy of the armed reply context, or nil.
func (s *Session) PendingReply() *ReplyRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingReply == nil {
		return nil
	}
	r := *s.pendingReply
	return &r
}

func (s *Session) onMessageUpdate(data json.RawMessage) {
	var u model.MessageUpdate
	if err := json.Unmarshal(data, &u); err != nil {
		log.Printf("Malformed message update event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != u.ChatID {
		return
	}
	if m := s.findLocked(cur, u.MessageID); m != nil {
		m.Pinned = u.Pinned
	}
	s.recomputeBannerLocked()
	if u.Notify {
		verb := "unpinned"
		if u.Pinned {
			verb = "pinned"
		}
		s.sink.Notice(fmt.Sprintf("A message was %s", verb))
	}
}

func (s *Session) onMessageDelete(data json.RawMessage) {
	var d model.MessageDelete
	if err := json.Unmarshal(data, &d); err != nil {
		log.Printf("Malformed message delete event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != d.ChatID {
		return
	}
	if !cur.present[d.MessageID] {
		return
	}
	s.removeByIDLocked(cur, d.MessageID)
	s.sink.MessageRemoved(d.ChatID, d.MessageID)
	s.recomputeBannerLocked()
}

// recomputeBannerLocked derives the banner from scratch: the pinned
// message with the highest timestamp wins, ties break on id. Pure
// recomputation over the timeline, never patched incrementally.
func (s *Session) recomputeBannerLocked() {
	cur := s.current
	if cur == nil {
		return
	}
	var best *model.Message
	for i := range cur.timeline {
		m := &cur.timeline[i]
		if !m.Pinned || m.Provisional {
			continue
		}
		if best == nil || m.Timestamp.After(best.Timestamp) ||
			(m.Timestamp.Equal(best.Timestamp) && m.ID > best.ID) {
			best = m
		}
	}
	if best == nil {
		s.sink.PinnedBanner(cur.chat.ID, nil)
		return
	}
	banner := *best
	s.sink.PinnedBanner(cur.chat.ID, &banner)
}

func (s *Session) findLocked(cur *openChat, messageID int64) *model.Message {
	for i := range cur.timeline {
		if cur.timeline[i].ID == messageID && !cur.timeline[i].Provisional {
			return &cur.timeline[i]
		}
	}
	return nil
}

func (s *Session) removeByIDLocked(cur *openChat, messageID int64) {
	delete(cur.present, messageID)
	for i, t := range cur.timeline {
		if t.ID == messageID && !t.Provisional {
			cur.timeline = append(cur.timeline[:i], cur.timeline[i+1:]...)
			return
		}
	}
}
