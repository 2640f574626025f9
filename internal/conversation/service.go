// ABOUTME: Completion service: validates context, prompts the model and records the reply
// ABOUTME: The reply is appended to the character and queued on the database for persistence

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/worldgpt/internal/character"
	"github.com/2389/worldgpt/internal/config"
	"github.com/2389/worldgpt/internal/llm"
	"github.com/2389/worldgpt/internal/store"
)

// MaxContentLength is the longest context message accepted, in characters.
const MaxContentLength = 2048

var (
	// ErrValidation marks a request rejected before the model was called.
	ErrValidation = errors.New("invalid completion request")

	// ErrRateLimited is returned when the per-minute request budget is spent.
	ErrRateLimited = errors.New("completion rate limit exceeded")

	// ErrUpstream wraps failures reported by the language model.
	ErrUpstream = errors.New("language model request failed")
)

var validate = newValidator()

// newValidator registers "contentlen", which bounds a string by
// MaxContentLength characters.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("contentlen", func(fl validator.FieldLevel) bool {
		return utf8.RuneCountInString(fl.Field().String()) <= MaxContentLength
	})
	return v
}

// Characters is what the service needs from the database subsystem.
// AppendMessage must apply against the stored record at write time.
type Characters interface {
	Get(name string) (*character.Character, error)
	AppendMessage(name string, m character.Message) error
}

// Settings supplies the live LLM settings.
type Settings interface {
	Snapshot() config.Config
}

// ContextMessage is one caller-supplied message sent after the character's
// own prompt. An empty role means user.
type ContextMessage struct {
	Role    character.Role `json:"role" validate:"omitempty,oneof=user system assistant"`
	Content string         `json:"content" validate:"required,contentlen"`
}

// CompletionRequest is the body of a completion call. An empty list asks
// the character to speak from its own prompt alone.
type CompletionRequest struct {
	Messages []ContextMessage `json:"messages" validate:"dive"`
}

// Validate checks every message is present and within MaxContentLength.
func (r *CompletionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

func (r *CompletionRequest) messages() []character.Message {
	out := make([]character.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		role := m.Role
		if role == "" {
			role = character.RoleUser
		}
		out = append(out, character.NewMessage(role, m.Content))
	}
	return out
}

// Result is a completed request.
type Result struct {
	RequestID        string            `json:"request_id"`
	Character        string            `json:"character"`
	Reply            character.Message `json:"reply"`
	Model            string            `json:"model"`
	PromptTokens     int               `json:"prompt_tokens"`
	CompletionTokens int               `json:"completion_tokens"`
}

// Option configures a Service.
type Option func(*Service)

// WithTokenCounter replaces the default character estimate.
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(s *Service) { s.counter = c }
}

// WithUsageStore records token usage for each completion.
func WithUsageStore(u store.UsageStore) Option {
	return func(s *Service) { s.usage = u }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service runs chat completions on behalf of characters.
type Service struct {
	characters Characters
	settings   Settings
	completer  llm.Completer
	counter    llm.TokenCounter
	usage      store.UsageStore
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a completion service.
func New(characters Characters, settings Settings, completer llm.Completer, opts ...Option) *Service {
	s := &Service{
		characters: characters,
		settings:   settings,
		completer:  completer,
		counter:    llm.EstimateCounter{},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "conversation")
	s.tuneLimiter(settings.Snapshot().LLM.RequestsPerMinute)
	return s
}

// tuneLimiter follows requests_per_minute; zero disables the limit.
func (s *Service) tuneLimiter(perMinute int) {
	limit, burst := rate.Inf, 0
	if perMinute > 0 {
		limit, burst = rate.Every(time.Minute/time.Duration(perMinute)), perMinute
	}
	if s.limiter.Limit() != limit || s.limiter.Burst() != burst {
		s.limiter.SetLimit(limit)
		s.limiter.SetBurst(burst)
	}
}

// Prompt returns the full message list that would be sent for name.
func (s *Service) Prompt(name string) ([]character.Message, error) {
	c, err := s.characters.Get(name)
	if err != nil {
		return nil, err
	}
	return llm.BuildPrompt(c, nil), nil
}

// Complete validates req, asks the model to answer as the named character
// and queues the reply onto its history. Invalid requests never reach the
// model and never change the character.
func (s *Service) Complete(ctx context.Context, name string, req *CompletionRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		completionsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	c, err := s.characters.Get(name)
	if err != nil {
		return nil, err
	}

	cfg := s.settings.Snapshot().LLM
	s.tuneLimiter(cfg.RequestsPerMinute)

	prompt := llm.BuildPrompt(c, req.messages())
	estimate := s.counter.Count(cfg.Model, prompt)
	if err := llm.CheckBudget(cfg.Model, estimate, cfg.MaxTokens); err != nil {
		completionsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if !s.limiter.Allow() {
		completionsTotal.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	requestID := uuid.New().String()
	s.logger.Debug("requesting completion",
		"request_id", requestID,
		"character", name,
		"model", cfg.Model,
		"messages", len(prompt),
		"estimated_tokens", estimate)

	resp, err := s.completer.Complete(ctx, llm.Request{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Messages:  prompt,
	})
	if err != nil {
		completionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	reply := resp.Message
	if reply.Role == "" {
		reply.Role = character.RoleAssistant
	}
	if reply.CreatedAt == 0 {
		reply.CreatedAt = character.NewMessage(reply.Role, "").CreatedAt
	}

	if err := s.characters.AppendMessage(name, reply); err != nil {
		completionsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("queueing reply for %q: %w", name, err)
	}

	completionsTotal.WithLabelValues("ok").Inc()
	completionTokens.WithLabelValues("prompt").Add(float64(resp.PromptTokens))
	completionTokens.WithLabelValues("completion").Add(float64(resp.CompletionTokens))

	model := resp.Model
	if model == "" {
		model = cfg.Model
	}
	s.saveUsage(&store.CompletionUsage{
		ID:               uuid.New().String(),
		Character:        name,
		RequestID:        requestID,
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		CreatedAt:        time.Now().UTC(),
	})

	return &Result{
		RequestID:        requestID,
		Character:        name,
		Reply:            reply,
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}

// saveUsage saves a usage record with its own timeout so a cancelled
// request still gets accounted.
func (s *Service) saveUsage(usage *store.CompletionUsage) {
	if s.usage == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.usage.SaveUsage(saveCtx, usage); err != nil {
		s.logger.Error("failed to save usage",
			"error", err,
			"character", usage.Character,
			"request_id", usage.RequestID)
		return
	}
	s.logger.Debug("usage saved",
		"character", usage.Character,
		"request_id", usage.RequestID,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens)
}
