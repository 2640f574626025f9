// ABOUTME: Prompt token counting and per-model context ceilings
// ABOUTME: Uses tiktoken encodings with a character-ratio estimate as fallback

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/2389/worldgpt/internal/character"
)

// ErrContextTooLarge is returned when prompt plus reply would exceed the
// model's context window.
var ErrContextTooLarge = errors.New("prompt exceeds model context window")

// contextWindows maps model families to their token ceilings. Longer
// prefixes win, so "gpt-4-32k-0613" resolves to gpt-4-32k.
var contextWindows = map[string]int{
	"gpt-4-32k":     32768,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 4096,
}

// ContextWindow returns the token ceiling for model, if known.
func ContextWindow(model string) (int, bool) {
	best, limit := "", 0
	for prefix, n := range contextWindows {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, limit = prefix, n
		}
	}
	return limit, best != ""
}

// CheckBudget rejects a request whose prompt and reply cannot both fit.
// Unknown models are not checked.
func CheckBudget(model string, promptTokens, maxTokens int) error {
	limit, ok := ContextWindow(model)
	if !ok {
		return nil
	}
	if promptTokens+maxTokens > limit {
		return fmt.Errorf("%w: %d prompt + %d reply tokens > %d for %s",
			ErrContextTooLarge, promptTokens, maxTokens, limit, model)
	}
	return nil
}

// TokenCounter counts the prompt tokens a message list costs.
type TokenCounter interface {
	Count(model string, msgs []character.Message) int
}

// Chat formatting overhead per message and for priming the reply.
const (
	tokensPerMessage = 3
	tokensPerReply   = 3
)

// CharsPerToken is the rough English ratio used when no encoding is available.
const CharsPerToken = 4.0

// EstimateCounter approximates tokens from character counts.
type EstimateCounter struct{}

// Count estimates tokens using the character ratio.
func (EstimateCounter) Count(model string, msgs []character.Message) int {
	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage
		total += int(float64(len(m.Role)+len(m.Content))/CharsPerToken + 0.5)
	}
	return total
}

// TiktokenCounter counts with the model's BPE encoding. Encodings are loaded
// lazily and cached; a model whose encoding cannot be loaded falls back to
// EstimateCounter.
type TiktokenCounter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
	fallback  EstimateCounter
	logger    *slog.Logger
}

// NewTiktokenCounter creates a counter. Pass nil logger for default.
func NewTiktokenCounter(logger *slog.Logger) *TiktokenCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &TiktokenCounter{
		encodings: make(map[string]*tiktoken.Tiktoken),
		failed:    make(map[string]bool),
		logger:    logger.With("component", "tokens"),
	}
}

// Count returns the prompt token cost of msgs for model.
func (t *TiktokenCounter) Count(model string, msgs []character.Message) int {
	enc := t.encoding(model)
	if enc == nil {
		return t.fallback.Count(model, msgs)
	}

	total := tokensPerReply
	for _, m := range msgs {
		total += tokensPerMessage
		total += len(enc.Encode(string(m.Role), nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}

func (t *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.encodings[model]; ok {
		return enc
	}
	if t.failed[model] {
		return nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		t.failed[model] = true
		t.logger.Warn("no tiktoken encoding, estimating tokens", "model", model, "error", err)
		return nil
	}
	t.encodings[model] = enc
	return enc
}

var (
	_ TokenCounter = EstimateCounter{}
	_ TokenCounter = (*TiktokenCounter)(nil)
)
