package store

import (
	"strings"

	"github.com/google/uuid"
	"github.com/sharetube/classroom/internal/domain"
)

type IncomingChat struct {
	SenderID   *domain.ParticipantID
	SenderName string
	Text       string
}

// ApplyChatMessage appends a broadcast chat message. Empty text is dropped.
// A message from self confirms the oldest pending local echo with the same
// text instead of being appended again.
func (s *Store) ApplyChatMessage(in IncomingChat) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.ChatMessage{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	own := in.SenderID != nil && s.self.Is(*in.SenderID)
	if own {
		for i := range s.chat {
			m := &s.chat[i]
			if m.Pending && m.Text == text {
				m.Pending = false
				m.SenderID = *in.SenderID
				return *m, false
			}
		}
	}

	msg := domain.ChatMessage{
		LocalID:    uuid.NewString(),
		SenderName: in.SenderName,
		Text:       text,
		ReceivedAt: s.now(),
		Own:        own,
	}
	if in.SenderID != nil {
		msg.SenderID = *in.SenderID
		if msg.SenderName == "" {
			msg.SenderName = s.participants[*in.SenderID].Name
		}
	}
	s.chat = append(s.chat, msg)

	return msg, true
}

// AppendLocalChat adds the optimistic echo of a message we are sending.
func (s *Store) AppendLocalChat(senderName, text string) (domain.ChatMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChatMessage{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg := domain.ChatMessage{
		LocalID:    uuid.NewString(),
		SenderName: senderName,
		Text:       text,
		ReceivedAt: s.now(),
		Own:        true,
		Pending:    true,
	}
	if id, ok := s.self.ID(); ok {
		msg.SenderID = id
	}
	s.chat = append(s.chat, msg)

	return msg, true
}
