package email

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// TemplateElement is used by a renderer to identify the different parts of an email template.
type TemplateElement string

const (
	ElementSubject TemplateElement = "subject"
	ElementBody    TemplateElement = "body"
)

// Renderer is responsible for rendering email templates.
type Renderer interface {
	Render(w io.Writer, name string, element TemplateElement, data any) error
}

// Sender is responsible for actually sending an email.
type Sender interface {
	Send(ctx context.Context, from, recipient Address, subject, body string) error
}

// Service renders named email templates and hands them to a sender.
type Service struct {
	renderer Renderer
	sender   Sender
	from     Address
}

func NewService(renderer Renderer, sender Sender, from Address) *Service {
	return &Service{
		renderer: renderer,
		sender:   sender,
		from:     from,
	}
}

// Send renders the subject and body of the named template with the
// provided data and sends the result to the recipient.
func (s *Service) Send(ctx context.Context, name string, recipient Address, data any) error {
	var subject strings.Builder
	if err := s.renderer.Render(&subject, name, ElementSubject, data); err != nil {
		return fmt.Errorf("failed to render subject of %q: %w", name, err)
	}

	var body strings.Builder
	if err := s.renderer.Render(&body, name, ElementBody, data); err != nil {
		return fmt.Errorf("failed to render body of %q: %w", name, err)
	}

	err := s.sender.Send(ctx, s.from, recipient, strings.TrimSpace(subject.String()), body.String())
	if err != nil {
		return fmt.Errorf("failed to send %q email: %w", name, err)
	}

	return nil
}
