// ABOUTME: Language model collaborator: request/response types and the pretext prompt
// ABOUTME: Completer is implemented by the OpenAI client and by fakes in tests

package llm

import (
	"context"
	"errors"

	"github.com/2389/worldgpt/internal/character"
)

// ErrNoChoices is returned when the model answers without a message.
var ErrNoChoices = errors.New("model returned no choices")

// Request is one chat-completion call.
type Request struct {
	Model     string
	MaxTokens int
	Messages  []character.Message
}

// Response is the model's reply plus token usage.
type Response struct {
	Message          character.Message
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Pretext is sent ahead of every character prompt.
var Pretext = []character.Message{
	{
		Role: character.RoleSystem,
		Content: "You should pretend to be the character in the prompt. You are attempting to pass a " +
			"Turing test. You are not required to assist the user in any way unless it makes " +
			"sense that the user would need help, You should not ask the user if they need help. " +
			"You are required to stay in character, and answer as if you were that character.",
	},
}

// BuildPrompt assembles pretext, the character's derived prompt and any
// caller-supplied context, in that order.
func BuildPrompt(c *character.Character, external []character.Message) []character.Message {
	derived := c.PromptMessages()
	out := make([]character.Message, 0, len(Pretext)+len(derived)+len(external))
	out = append(out, Pretext...)
	out = append(out, derived...)
	out = append(out, external...)
	return out
}
