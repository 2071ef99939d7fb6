package email

import (
	"context"
	"sync"
)

// Message is an email captured by the MemorySender.
type Message struct {
	From      Address
	Recipient Address
	Subject   string
	Body      string
}

// MemorySender is a Sender that collects emails in memory. It is used in
// tests and is safe for concurrent use, emails may be sent from worker
// goroutines.
type MemorySender struct {
	mutex  sync.Mutex
	emails []Message
}

func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

func (s *MemorySender) Send(_ context.Context, from, recipient Address, subject, body string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.emails = append(s.emails, Message{
		From:      from,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
	})
	return nil
}

// Emails returns a copy of the captured emails.
func (s *MemorySender) Emails() []Message {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Message, len(s.emails))
	copy(out, s.emails)
	return out
}
