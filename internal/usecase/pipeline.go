package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"linebot-bridge/internal/domain"
)

const (
	defaultMaxTokens          = 1024
	defaultMaxTokensNoHistory = 200
	defaultReplyMaxRunes      = 5000

	// NoResponsePlaceholder replaces an empty model answer.
	NoResponsePlaceholder = "（応答なし）"
)

type HistoryStore interface {
	Append(ctx context.Context, conversationKey string, role domain.Role, text string) error
	LoadAll(ctx context.Context, conversationKey string) ([]domain.Turn, error)
}

type ModelInvoker interface {
	Invoke(ctx context.Context, messages []domain.ChatMessage, maxTokens int) (string, error)
}

type ReplySender interface {
	Reply(ctx context.Context, replyToken, text string) error
}

type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCompleted Outcome = "completed"
)

// Options configures a ReplyService. Zero values pick the defaults of the
// matching mode.
type Options struct {
	// HistoryEnabled replays and persists per-conversation turns. Without it
	// every event is answered in isolation and no store is needed.
	HistoryEnabled bool
	// MaxTokens bounds the model output. Defaults to 1024 with history and
	// 200 without.
	MaxTokens int
	// MaxHistoryTurns caps how many stored messages are replayed; 0 replays
	// everything.
	MaxHistoryTurns int
	// PersistBeforeReply records both turns before replying. A failed reply
	// then leaves a recorded turn the user never received.
	PersistBeforeReply bool
	// ReplyMaxRunes truncates replies when history is disabled.
	ReplyMaxRunes int
	// CallTimeout bounds each store, model and reply call independently.
	CallTimeout time.Duration
	Logger      *slog.Logger
}

type HandleOutput struct {
	Outcome         Outcome
	Reason          ErrorCode // why the event was skipped
	ConversationKey string
	Answer          string
}

// ReplyService answers one webhook event end to end: resolve the key, load
// history, assemble context, invoke the model, reply and persist.
type ReplyService struct {
	model  ModelInvoker
	reply  ReplySender
	store  HistoryStore
	opts   Options
	logger *slog.Logger
}

func NewReplyService(model ModelInvoker, reply ReplySender, store HistoryStore, opts Options) (*ReplyService, error) {
	if model == nil {
		return nil, errors.New("usecase: model invoker must not be nil")
	}
	if reply == nil {
		return nil, errors.New("usecase: reply sender must not be nil")
	}
	if opts.HistoryEnabled && store == nil {
		return nil, errors.New("usecase: history store must not be nil when history is enabled")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokensNoHistory
		if opts.HistoryEnabled {
			opts.MaxTokens = defaultMaxTokens
		}
	}
	if opts.MaxHistoryTurns < 0 {
		opts.MaxHistoryTurns = 0
	}
	if opts.ReplyMaxRunes <= 0 {
		opts.ReplyMaxRunes = defaultReplyMaxRunes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReplyService{
		model:  model,
		reply:  reply,
		store:  store,
		opts:   opts,
		logger: logger,
	}, nil
}

// Handle runs the pipeline for a single event. Malformed events and events
// without conversation context are skipped without any downstream call.
// Failures are returned as *Error; no stage is retried.
func (s *ReplyService) Handle(ctx context.Context, ev domain.WebhookEvent) (HandleOutput, error) {
	replyToken := strings.TrimSpace(ev.ReplyToken)
	userText := strings.TrimSpace(ev.MessageText())
	if replyToken == "" || userText == "" {
		return HandleOutput{Outcome: OutcomeSkipped, Reason: ErrorMalformedEvent}, nil
	}

	key, err := ResolveConversationKey(ev)
	if err != nil {
		return HandleOutput{Outcome: OutcomeSkipped, Reason: ErrorMissingConversationContext}, nil
	}
	logger := s.logger.With("conversation_key", key)

	var history []domain.Turn
	if s.opts.HistoryEnabled {
		err := s.call(ctx, func(ctx context.Context) error {
			var loadErr error
			history, loadErr = s.store.LoadAll(ctx, key)
			return loadErr
		})
		if err != nil {
			return HandleOutput{}, newError(ErrorStoreUnavailable, "history_load", err)
		}
		logger.Debug("history loaded", "turns", len(history))
	}

	messages := BuildMessages(history, userText, s.opts.MaxHistoryTurns)

	var answer string
	err = s.call(ctx, func(ctx context.Context) error {
		var invokeErr error
		answer, invokeErr = s.model.Invoke(ctx, messages, s.opts.MaxTokens)
		return invokeErr
	})
	if err != nil {
		return HandleOutput{}, newError(ErrorModelInvocation, "model_invoke", err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = NoResponsePlaceholder
	}

	replyText := answer
	if !s.opts.HistoryEnabled {
		replyText = truncateRunes(answer, s.opts.ReplyMaxRunes)
	}

	if s.opts.PersistBeforeReply {
		if err := s.persist(ctx, key, userText, answer); err != nil {
			return HandleOutput{}, err
		}
		if err := s.send(ctx, replyToken, replyText); err != nil {
			return HandleOutput{}, err
		}
	} else {
		if err := s.send(ctx, replyToken, replyText); err != nil {
			return HandleOutput{}, err
		}
		if err := s.persist(ctx, key, userText, answer); err != nil {
			return HandleOutput{}, err
		}
	}

	logger.Info("turn completed",
		"context_messages", len(messages),
		"answer_runes", len([]rune(answer)),
	)
	return HandleOutput{
		Outcome:         OutcomeCompleted,
		ConversationKey: key,
		Answer:          answer,
	}, nil
}

func (s *ReplyService) send(ctx context.Context, replyToken, text string) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.reply.Reply(ctx, replyToken, text)
	})
	if err != nil {
		return newError(ErrorReplyDelivery, "reply_send", err)
	}
	return nil
}

// persist appends the user turn, then the assistant turn. A failure between
// the two leaves only the user turn, which later reads as an unanswered
// question.
func (s *ReplyService) persist(ctx context.Context, key, userText, answer string) error {
	if !s.opts.HistoryEnabled {
		return nil
	}
	err := s.call(ctx, func(ctx context.Context) error {
		return s.store.Append(ctx, key, domain.RoleUser, userText)
	})
	if err != nil {
		return newError(ErrorStoreUnavailable, "history_save_user", err)
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.store.Append(ctx, key, domain.RoleAssistant, answer)
	})
	if err != nil {
		return newError(ErrorStoreUnavailable, "history_save_assistant", err)
	}
	return nil
}

// call runs fn under its own deadline.
func (s *ReplyService) call(ctx context.Context, fn func(context.Context) error) error {
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	return fn(ctx)
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
