// ABOUTME: Tests for the completion service
// ABOUTME: Uses in-memory fakes for the character source, settings and language model

package conversation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/worldgpt/internal/character"
	"github.com/2389/worldgpt/internal/config"
	"github.com/2389/worldgpt/internal/database"
	"github.com/2389/worldgpt/internal/llm"
	"github.com/2389/worldgpt/internal/store"
)

var errMissing = errors.New("character does not exist")

type fakeCharacters struct {
	mu        sync.Mutex
	byName    map[string]*character.Character
	appends   []character.Message
	appendErr error
}

func newFakeCharacters(cs ...*character.Character) *fakeCharacters {
	f := &fakeCharacters{byName: make(map[string]*character.Character)}
	for _, c := range cs {
		f.byName[c.Name] = c.Clone()
	}
	return f
}

func (f *fakeCharacters) Get(name string) (*character.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errMissing, name)
	}
	return c.Clone(), nil
}

func (f *fakeCharacters) AppendMessage(name string, m character.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	c, ok := f.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", errMissing, name)
	}
	f.appends = append(f.appends, m)
	c.AppendMessage(m)
	return nil
}

func (f *fakeCharacters) appended() []character.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]character.Message(nil), f.appends...)
}

type fakeSettings struct {
	cfg config.Config
}

func (f *fakeSettings) Snapshot() config.Config { return f.cfg }

func settingsWith(mutate func(*config.LLMConfig)) *fakeSettings {
	cfg := config.Default()
	cfg.LLM.RequestsPerMinute = 0
	if mutate != nil {
		mutate(&cfg.LLM)
	}
	return &fakeSettings{cfg: *cfg}
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []llm.Request
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{
		Message:          character.NewMessage(character.RoleAssistant, f.reply),
		Model:            req.Model,
		PromptTokens:     42,
		CompletionTokens: 3,
	}, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func ariaCharacter() *character.Character {
	return &character.Character{
		Name:        "Aria",
		Description: "A tall ranger",
		Gender:      character.GenderFemale,
		Messages:    []character.Message{},
	}
}

func userRequest(contents ...string) *CompletionRequest {
	req := &CompletionRequest{}
	for _, c := range contents {
		req.Messages = append(req.Messages, ContextMessage{Role: character.RoleUser, Content: c})
	}
	return req
}

func TestComplete_AppendsReplyAndQueuesSave(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "Well met."}
	usage := store.NewMockStore()
	svc := New(chars, settingsWith(nil), completer, WithUsageStore(usage))

	res, err := svc.Complete(context.Background(), "Aria", userRequest("Hello there"))
	require.NoError(t, err)

	assert.Equal(t, "Well met.", res.Reply.Content)
	assert.Equal(t, character.RoleAssistant, res.Reply.Role)
	assert.Equal(t, config.DefaultModel, res.Model)
	assert.NotEmpty(t, res.RequestID)

	// The model saw pretext, the character prompt and then the caller's message
	require.Equal(t, 1, completer.callCount())
	sent := completer.calls[0]
	assert.Equal(t, config.DefaultModel, sent.Model)
	assert.Equal(t, config.DefaultMaxTokens, sent.MaxTokens)
	assert.Equal(t, llm.Pretext[0], sent.Messages[0])
	assert.Equal(t, "Hello there", sent.Messages[len(sent.Messages)-1].Content)

	// Only the reply is appended to history
	appends := chars.appended()
	require.Len(t, appends, 1)
	assert.Equal(t, "Well met.", appends[0].Content)
	got, err := chars.Get("Aria")
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)

	stats, err := usage.GetUsageStats(context.Background(), store.UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(45), stats.TotalTokens)
}

func TestComplete_RejectsOversizedMessage(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "unused"}
	svc := New(chars, settingsWith(nil), completer)

	_, err := svc.Complete(context.Background(), "Aria", userRequest(strings.Repeat("a", MaxContentLength+1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	assert.Zero(t, completer.callCount())
	assert.Empty(t, chars.appended())
}

func TestComplete_AcceptsMessageAtLimit(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "ok"}
	svc := New(chars, settingsWith(func(l *config.LLMConfig) { l.Model = "gpt-4" }), completer)

	// Multi-byte characters count once each
	_, err := svc.Complete(context.Background(), "Aria", userRequest(strings.Repeat("é", MaxContentLength)))
	require.NoError(t, err)
	assert.Equal(t, 1, completer.callCount())
}

func TestCompletionRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     *CompletionRequest
		wantErr bool
	}{
		{name: "one message", req: userRequest("hi")},
		{name: "no messages", req: &CompletionRequest{}},
		{name: "empty list", req: &CompletionRequest{Messages: []ContextMessage{}}},
		{name: "empty content", req: userRequest("hi", ""), wantErr: true},
		{name: "default role", req: &CompletionRequest{Messages: []ContextMessage{{Content: "hi"}}}},
		{name: "bad role", req: &CompletionRequest{Messages: []ContextMessage{{Role: "narrator", Content: "hi"}}}, wantErr: true},
		{name: "too long", req: userRequest(strings.Repeat("x", MaxContentLength+1)), wantErr: true},
		{name: "at limit", req: userRequest(strings.Repeat("x", MaxContentLength))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestComplete_DefaultRoleIsUser(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "ok"}
	svc := New(chars, settingsWith(nil), completer)

	req := &CompletionRequest{Messages: []ContextMessage{{Content: "hi"}}}
	_, err := svc.Complete(context.Background(), "Aria", req)
	require.NoError(t, err)

	last := completer.calls[0].Messages[len(completer.calls[0].Messages)-1]
	assert.Equal(t, character.RoleUser, last.Role)
	assert.NotZero(t, last.CreatedAt)
}

func TestComplete_UnknownCharacter(t *testing.T) {
	completer := &fakeCompleter{reply: "unused"}
	svc := New(newFakeCharacters(), settingsWith(nil), completer)

	_, err := svc.Complete(context.Background(), "Nobody", userRequest("hi"))
	assert.True(t, errors.Is(err, errMissing))
	assert.Zero(t, completer.callCount())
}

func TestComplete_PromptOverBudget(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "unused"}
	svc := New(chars, settingsWith(func(l *config.LLMConfig) {
		l.Model = "gpt-3.5-turbo"
		l.MaxTokens = 4000
	}), completer)

	// Long enough that estimate + reply exceeds 4096
	req := userRequest(strings.Repeat("word ", 400), strings.Repeat("word ", 400))
	_, err := svc.Complete(context.Background(), "Aria", req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, errors.Is(err, llm.ErrContextTooLarge))
	assert.Zero(t, completer.callCount())
}

func TestComplete_UpstreamError(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{err: errors.New("503 from provider")}
	svc := New(chars, settingsWith(nil), completer)

	_, err := svc.Complete(context.Background(), "Aria", userRequest("hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Empty(t, chars.appended())
}

func TestComplete_RateLimited(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	completer := &fakeCompleter{reply: "ok"}
	svc := New(chars, settingsWith(func(l *config.LLMConfig) { l.RequestsPerMinute = 1 }), completer)

	_, err := svc.Complete(context.Background(), "Aria", userRequest("first"))
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), "Aria", userRequest("second"))
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 1, completer.callCount())
}

func TestComplete_SaveFailureIsReported(t *testing.T) {
	chars := newFakeCharacters(ariaCharacter())
	chars.appendErr = errors.New("subsystem is not active")
	svc := New(chars, settingsWith(nil), &fakeCompleter{reply: "ok"})

	_, err := svc.Complete(context.Background(), "Aria", userRequest("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queueing reply")
}

func TestPrompt(t *testing.T) {
	svc := New(newFakeCharacters(ariaCharacter()), settingsWith(nil), &fakeCompleter{})

	msgs, err := svc.Prompt("Aria")
	require.NoError(t, err)
	assert.Equal(t, llm.Pretext[0], msgs[0])
	assert.Equal(t, "Your name is Aria", msgs[1].Content)

	_, err = svc.Prompt("Nobody")
	assert.True(t, errors.Is(err, errMissing))
}

func TestComplete_ConcurrentRepliesAllKept(t *testing.T) {
	mock := store.NewMockStore()
	// Slow writes leave one reply queued while the other is being applied
	mock.FailUpsert = func(string) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	settings := settingsWith(nil)
	settings.cfg.Database.Path = filepath.Join(t.TempDir(), "datastore.db")

	db := database.New(settings,
		database.WithStoreOpener(func(string) (store.Store, error) { return mock, nil }))
	require.NoError(t, db.Bootstrap(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = db.Shutdown(ctx)
	})
	drain := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, db.Sync(ctx))
	}

	require.NoError(t, db.Create(ariaCharacter()))
	drain()

	svc := New(db, settings, &fakeCompleter{reply: "Aye."})

	var wg sync.WaitGroup
	for _, content := range []string{"first", "second"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(context.Background(), "Aria", userRequest(content))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	drain()

	got, err := db.Get("Aria")
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Empty(t, db.DeadLetters())
}
