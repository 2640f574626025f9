// Package llm talks to the chat-completion model on behalf of characters.
//
// A prompt is the fixed Pretext, then the character's derived prompt
// messages, then any caller-supplied context. Before a call, the prompt is
// counted with a TokenCounter and checked against the model's context
// window with CheckBudget so oversized requests fail locally.
//
// OpenAIClient is the production Completer. Tests substitute a fake.
package llm
