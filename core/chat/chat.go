package chat

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/trezcool/coursekit/core"
	"github.com/trezcool/coursekit/core/access"
)

const maxMessageLength = 2000

var (
	// errors
	ErrNotEntitled    = errors.New("the AI chat assistant is not part of your purchases")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Completer answers a conversation with the next assistant message.
type Completer interface {
	Complete(ctx context.Context, msgs []Message) (Message, error)
}

type EntitlementResolver interface {
	Resolve(ctx context.Context, userID string) (access.Entitlements, error)
}

type Service struct {
	completer       Completer
	resolver        EntitlementResolver
	usage           UsageRepository
	demoPrompt      string
	assistantPrompt string
	maxHistory      int
	monthlyLimit    int
}

func NewService(conf *core.Config, completer Completer, resolver EntitlementResolver, usage UsageRepository) *Service {
	maxHistory := conf.LLM.MaxHistory
	if maxHistory < 0 {
		maxHistory = 0
	}
	return &Service{
		completer:       completer,
		resolver:        resolver,
		usage:           usage,
		demoPrompt:      conf.LLM.DemoPrompt,
		assistantPrompt: conf.LLM.AssistantPrompt,
		maxHistory:      maxHistory,
		monthlyLimit:    conf.LLM.MonthlyLimit,
	}
}

// Demo answers the public demo chat with the fixed demo prompt.
func (svc *Service) Demo(ctx context.Context, history []Message, question string) (Message, error) {
	msgs, err := svc.conversation(svc.demoPrompt, history, question)
	if err != nil {
		return Message{}, err
	}
	return svc.complete(ctx, msgs)
}

// Ask answers a signed in user holding the ai_chat capability, within the monthly limit.
// The returned Usage includes the question being answered.
func (svc *Service) Ask(ctx context.Context, userID string, history []Message, question string) (Message, Usage, error) {
	ents, err := svc.resolver.Resolve(ctx, userID)
	if err != nil {
		return Message{}, Usage{}, errors.Wrap(err, "resolving entitlements")
	}
	if !ents.HasAIChat {
		return Message{}, Usage{}, ErrNotEntitled
	}
	msgs, err := svc.conversation(svc.assistantPrompt, history, question)
	if err != nil {
		return Message{}, Usage{}, err
	}
	usage, err := svc.consume(ctx, userID)
	if err != nil {
		return Message{}, usage, err
	}
	answer, err := svc.complete(ctx, msgs)
	if err != nil {
		return Message{}, usage, err
	}
	return answer, usage, nil
}

func (svc *Service) complete(ctx context.Context, msgs []Message) (Message, error) {
	answer, err := svc.completer.Complete(ctx, msgs)
	if err != nil {
		return Message{}, errors.Wrap(err, "completing chat")
	}
	answer.Role = RoleAssistant
	return answer, nil
}

// conversation keeps the last maxHistory client messages. Client supplied system messages are dropped.
func (svc *Service) conversation(prompt string, history []Message, question string) ([]Message, error) {
	question = core.CleanString(question)
	if question == "" {
		return nil, core.NewValidationError(ErrEmptyMessage, core.FieldError{Field: "message", Error: ErrEmptyMessage.Error()})
	}
	if utf8.RuneCountInString(question) > maxMessageLength {
		return nil, core.NewValidationError(ErrMessageTooLong, core.FieldError{Field: "message", Error: ErrMessageTooLong.Error()})
	}

	kept := make([]Message, 0, len(history))
	for _, m := range history {
		if (m.Role == RoleUser || m.Role == RoleAssistant) && core.CleanString(m.Content) != "" {
			kept = append(kept, m)
		}
	}
	if len(kept) > svc.maxHistory {
		kept = kept[len(kept)-svc.maxHistory:]
	}

	msgs := make([]Message, 0, len(kept)+2)
	if prompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: prompt})
	}
	msgs = append(msgs, kept...)
	return append(msgs, Message{Role: RoleUser, Content: question}), nil
}
