package engine

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/chatsync/pkg/apperrors"
	"github.com/mahaj/chatsync/pkg/model"
)

// OpenChat loads the full durable history for the chat, makes it the
// session's open chat and joins its real-time room. Membership is
// enforced before anything else: a non-participant gets a forbidden
// error and no timeline.
func (s *Session) OpenChat(ctx context.Context, chatID int64) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if !chat.HasParticipant(s.self.ID) {
		return apperrors.Forbidden("you are not a participant of chat %d", chatID)
	}
	msgs, err := s.store.Messages(ctx, chatID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrentLocked()
	s.pendingReply = nil

	cur := &openChat{
		chat:     *chat,
		timeline: msgs,
		present:  make(map[int64]bool, len(msgs)),
		typing:   make(map[string]*typingEntry),
	}
	for _, m := range msgs {
		cur.present[m.ID] = true
	}
	s.current = cur

	s.sink.ChatOpened(*chat, s.timelineCopyLocked())
	s.recomputeBannerLocked()
	s.sink.TypingLine(chat.ID, "")

	if err := s.transport.Emit(model.EventChatJoin, chat.ID); err != nil {
		log.Printf("Failed to join chat %d room: %v", chat.ID, err)
		s.sink.Notice("Real-time updates unavailable for this chat")
	}
	return nil
}

// Refresh re-reads the open chat's history from the store and replaces
// the timeline wholesale. Used after a suspected gap; a redundant
// refresh is harmless.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur == nil {
		return nil
	}
	chatID := cur.chat.ID

	msgs, err := s.store.Messages(ctx, chatID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur = s.current
	if cur == nil || cur.chat.ID != chatID {
		// Chat switched while the read was in flight; the result belongs
		// to the torn-down timeline.
		return nil
	}
	cur.timeline = msgs
	cur.present = make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		cur.present[m.ID] = true
	}
	s.sink.ChatOpened(cur.chat, s.timelineCopyLocked())
	s.recomputeBannerLocked()
	return nil
}

// SendMessage runs the optimistic echo protocol: render a provisional
// message immediately, persist it durably, then reconcile the echo with
// the store-assigned identity and broadcast the confirmed record. Any
// pending reply context is attached and consumed.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	cur := s.current
	if cur == nil {
		s.mu.Unlock()
		return apperrors.Validation("no chat is open")
	}

	m := model.Message{
		ChatID:      cur.chat.ID,
		SenderID:    s.self.ID,
		SenderName:  s.self.Username,
		Text:        text,
		Timestamp:   time.Now(),
		LocalID:     uuid.NewString(),
		Provisional: true,
	}
	if r := s.pendingReply; r != nil {
		m.ReplyToID = r.MessageID
		m.ReplyToSender = r.Sender
		m.ReplyToText = r.Text
		s.pendingReply = nil
	}

	idx := s.insertLocked(cur, m)
	s.sink.MessageAppended(m, idx)
	localID := m.LocalID
	s.mu.Unlock()

	confirmed := m
	err := s.store.AppendMessage(ctx, &confirmed)

	s.mu.Lock()
	defer s.mu.Unlock()
	cur = s.current
	// Chat may have switched while the write was in flight; the echo is
	// gone with the old timeline, but a persisted record must still be
	// broadcast so the room converges without a full re-read.
	sameChat := cur != nil && cur.chat.ID == m.ChatID
	if err != nil {
		if sameChat {
			s.removeLocalLocked(cur, localID)
			s.sink.MessageDiscarded(cur.chat.ID, localID)
			s.sink.Notice("Message could not be saved")
		}
		return err
	}

	confirmed.Provisional = false
	confirmed.LocalID = ""
	if sameChat {
		s.removeLocalLocked(cur, localID)
		if !cur.present[confirmed.ID] {
			cur.present[confirmed.ID] = true
			idx = s.insertLocked(cur, confirmed)
			s.sink.MessageConfirmed(localID, confirmed, idx)
		}
	}

	if err := s.transport.Emit(model.EventMessageSend, confirmed); err != nil {
		log.Printf("Failed to broadcast message %d: %v", confirmed.ID, err)
		s.sink.Notice("Message saved; delivery to online members is delayed")
	}
	return nil
}

// Timeline returns a copy of the open chat's ordered timeline.
func (s *Session) Timeline() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timelineCopyLocked()
}

func (s *Session) timelineCopyLocked() []model.Message {
	if s.current == nil {
		return nil
	}
	return append([]model.Message(nil), s.current.timeline...)
}

// onMessageReceived folds a peer's broadcast into the open timeline.
// Events for other chats are ignored and duplicate ids are dropped, so
// redelivery is a no-op.
func (s *Session) onMessageReceived(data json.RawMessage) {
	var m model.Message
	if err := json.Unmarshal(data, &m); err != nil {
		log.Printf("Malformed message event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != m.ChatID {
		return
	}
	if cur.present[m.ID] {
		return
	}
	cur.present[m.ID] = true
	idx := s.insertLocked(cur, m)
	s.sink.MessageAppended(m, idx)
	if m.Pinned {
		s.recomputeBannerLocked()
	}
}

// insertLocked places m at its timestamp-ordered position and returns
// the insertion index. Ties break on id, so every replica converges on
// the same order regardless of arrival sequence.
func (s *Session) insertLocked(cur *openChat, m model.Message) int {
	idx := sort.Search(len(cur.timeline), func(i int) bool {
		t := cur.timeline[i]
		if !t.Timestamp.Equal(m.Timestamp) {
			return t.Timestamp.After(m.Timestamp)
		}
		return t.ID > m.ID
	})
	cur.timeline = append(cur.timeline, model.Message{})
	copy(cur.timeline[idx+1:], cur.timeline[idx:])
	cur.timeline[idx] = m
	return idx
}

func (s *Session) removeLocalLocked(cur *openChat, localID string) {
	for i, t := range cur.timeline {
		if t.Provisional && t.LocalID == localID {
			cur.timeline = append(cur.timeline[:i], cur.timeline[i+1:]...)
			return
		}
	}
}
