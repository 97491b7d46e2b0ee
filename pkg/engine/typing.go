package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/mahaj/chatsync/pkg/model"
)

// InputActivity reports a keystroke in the open chat's composer. The
// first keystroke announces typing to the room; every keystroke re-arms
// the stop timer, so exactly one stop fires after the debounce interval
// of silence.
func (s *Session) InputActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil {
		return
	}

	if !s.typingAnnounced {
		ev := model.TypingEvent{ChatID: cur.chat.ID, UserID: s.self.ID, Username: s.self.Username}
		if err := s.transport.Emit(model.EventTypingStart, ev); err != nil {
			log.Printf("Failed to announce typing: %v", err)
			return
		}
		s.typingAnnounced = true
	}

	chatID := cur.chat.ID
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.typingTimer = time.AfterFunc(s.typingDebounce, func() {
		s.typingSilence(chatID)
	})
}

// typingSilence fires when the debounce interval passes without input.
func (s *Session) typingSilence(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingTimer = nil
	if !s.typingAnnounced {
		return
	}
	s.typingAnnounced = false
	cur := s.current
	if cur == nil || cur.chat.ID != chatID {
		return
	}
	ev := model.TypingEvent{ChatID: chatID, UserID: s.self.ID}
	if err := s.transport.Emit(model.EventTypingStop, ev); err != nil {
		log.Printf("Failed to announce typing stop: %v", err)
	}
}

// onTypingStarted adds a peer to the open chat's typing set. Each peer
// carries an expiry timer so a lost stop event cannot leave the
// indicator stuck.
func (s *Session) onTypingStarted(data json.RawMessage) {
	var n model.TypingNotice
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("Malformed typing event: %v", err)
		return
	}
	if n.UserID == "" || n.UserID == s.self.ID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != n.ChatID {
		return
	}
	chatID := cur.chat.ID
	userID := n.UserID

	name := n.Username
	if name == "" {
		name = userID
	}
	if e, ok := cur.typing[userID]; ok {
		e.timer.Stop()
		e.username = name
		e.timer = time.AfterFunc(s.typingExpiry, func() {
			s.typingPeerExpired(chatID, userID)
		})
	} else {
		cur.typing[userID] = &typingEntry{
			username: name,
			timer: time.AfterFunc(s.typingExpiry, func() {
				s.typingPeerExpired(chatID, userID)
			}),
		}
	}
	s.updateTypingLineLocked(cur)
}

func (s *Session) onTypingStopped(data json.RawMessage) {
	var n model.TypingNotice
	if err := json.Unmarshal(data, &n); err != nil {
		log.Printf("Malformed typing event: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != n.ChatID {
		return
	}
	if e, ok := cur.typing[n.UserID]; ok {
		e.timer.Stop()
		delete(cur.typing, n.UserID)
		s.updateTypingLineLocked(cur)
	}
}

// typingPeerExpired drops a peer whose stop event never arrived.
func (s *Session) typingPeerExpired(chatID int64, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.current
	if cur == nil || cur.chat.ID != chatID {
		return
	}
	if _, ok := cur.typing[userID]; ok {
		delete(cur.typing, userID)
		s.updateTypingLineLocked(cur)
	}
}

// resetTypingLocked clears the whole typing set, used on reconnect when
// missed stop events make the set untrustworthy.
func (s *Session) resetTypingLocked(cur *openChat) {
	if len(cur.typing) == 0 {
		return
	}
	for id, e := range cur.typing {
		e.timer.Stop()
		delete(cur.typing, id)
	}
	s.updateTypingLineLocked(cur)
}

func (s *Session) updateTypingLineLocked(cur *openChat) {
	if len(cur.typing) == 0 {
		s.sink.TypingLine(cur.chat.ID, "")
		return
	}
	names := make([]string, 0, len(cur.typing))
	for _, e := range cur.typing {
		names = append(names, e.username)
	}
	sort.Strings(names)
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	line := fmt.Sprintf("%s %s typing...", strings.Join(names, ", "), verb)
	s.sink.TypingLine(cur.chat.ID, line)
}
