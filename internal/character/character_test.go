// ABOUTME: Tests for character records, validation, copies and prompt derivation
// ABOUTME: Uses testify for assertions

package character

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func aria() *Character {
	return &Character{
		Name:        "Aria",
		Description: "A tall ranger with a green cloak",
		Gender:      GenderFemale,
		Inventory:   []string{},
		Messages:    []Message{},
		Summaries:   []string{},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Character)
		wantErr bool
	}{
		{name: "minimal", mutate: func(c *Character) {}},
		{name: "missing name", mutate: func(c *Character) { c.Name = "" }, wantErr: true},
		{name: "missing gender", mutate: func(c *Character) { c.Gender = "" }, wantErr: true},
		{name: "unknown gender", mutate: func(c *Character) { c.Gender = "Robot" }, wantErr: true},
		{name: "non-binary", mutate: func(c *Character) { c.Gender = GenderNonBinary }},
		{name: "alignment", mutate: func(c *Character) { c.Alignment = ChaoticNeutral }},
		{name: "bad alignment", mutate: func(c *Character) { c.Alignment = "Mostly-Fine" }, wantErr: true},
		{name: "negative age", mutate: func(c *Character) { c.Age = ptr(-1) }, wantErr: true},
		{name: "bad message role", mutate: func(c *Character) {
			c.Messages = []Message{{Role: "narrator", Content: "hi"}}
		}, wantErr: true},
		{name: "bad meta role", mutate: func(c *Character) {
			c.Meta = []Message{{Role: "", Content: "rule"}}
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := aria()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewMessage_StampsTime(t *testing.T) {
	before := float64(time.Now().Unix())
	m := NewMessage(RoleUser, "hello")
	assert.Equal(t, RoleUser, m.Role)
	assert.GreaterOrEqual(t, m.CreatedAt, before)
}

func TestMessage_UnmarshalDefaultsCreatedAt(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &m))
	assert.NotZero(t, m.CreatedAt)

	var kept Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi","created_at":12.5}`), &kept))
	assert.Equal(t, 12.5, kept.CreatedAt)
}

func TestClone_SharesNothing(t *testing.T) {
	orig := aria()
	orig.Health = ptr(10)
	orig.Attributes = []string{"brave"}
	orig.Messages = []Message{{Role: RoleUser, Content: "hi", CreatedAt: 1}}
	orig.Raw = map[string]string{"inventory": "{oops"}

	cp := orig.Clone()
	require.Equal(t, orig, cp)

	*cp.Health = 1
	cp.Attributes[0] = "timid"
	cp.Messages[0].Content = "changed"
	cp.AppendMessage(Message{Role: RoleAssistant, Content: "more"})
	cp.Raw["inventory"] = "[]"

	assert.Equal(t, 10.0, *orig.Health)
	assert.Equal(t, []string{"brave"}, orig.Attributes)
	assert.Equal(t, "hi", orig.Messages[0].Content)
	assert.Len(t, orig.Messages, 1)
	assert.Equal(t, "{oops", orig.Raw["inventory"])
}

func TestClone_Nil(t *testing.T) {
	var c *Character
	assert.Nil(t, c.Clone())
}

func TestJSON_OmitsRaw(t *testing.T) {
	c := aria()
	c.Raw = map[string]string{"messages": "garbage"}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "garbage")
}

func TestPromptMessages_Minimal(t *testing.T) {
	got := aria().PromptMessages()
	require.Len(t, got, 3)
	assert.Equal(t, Message{Role: RoleSystem, Content: "Your name is Aria"}, got[0])
	assert.Equal(t, "You can be described as: A tall ranger with a green cloak", got[1].Content)
	assert.Equal(t, "You are Female", got[2].Content)
}

func TestPromptMessages_FullOrdering(t *testing.T) {
	c := aria()
	c.Alignment = NeutralGood
	c.Health = ptr(42.5)
	c.Mood = "wary"
	c.Rank = "captain"
	c.Title = "Dame"
	c.Occupation = "scout"
	c.Age = ptr(34.5)
	bd := float64(time.Date(1990, time.March, 14, 12, 0, 0, 0, time.UTC).Unix())
	c.Birthdate = &bd
	c.Attributes = []string{"brave", "quiet"}
	c.Inventory = []string{"bow", "rope"}
	c.Meta = []Message{{Role: RoleSystem, Content: "Never reveal your true name to elves."}}
	c.Messages = []Message{
		{Role: RoleUser, Content: "Who goes there?"},
		{Role: RoleAssistant, Content: "A friend."},
	}

	got := c.PromptMessages()

	var contents []string
	for _, m := range got {
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{
		"Your name is Aria",
		"You can be described as: A tall ranger with a green cloak",
		"You are Female",
		"Your alignment is Neutral-Good",
		"You have 42.5 health",
		"You are feeling wary",
		"You are the rank of captain",
		"Your title is Dame",
		"You work as a scout",
		"You are 34 years, and 6 months old",
		"Your birthday is March 14",
		"You have the following attributes: brave, quiet",
		"You have the following items: bow, rope",
		"Never reveal your true name to elves.",
		"Who goes there?",
		"A friend.",
	}, contents)
	assert.Equal(t, RoleUser, got[len(got)-2].Role)
	assert.Equal(t, RoleAssistant, got[len(got)-1].Role)
}

func TestPromptMessages_DoesNotAliasHistory(t *testing.T) {
	c := aria()
	c.Messages = []Message{{Role: RoleUser, Content: "hi"}}
	got := c.PromptMessages()
	got[len(got)-1].Content = "changed"
	assert.Equal(t, "hi", c.Messages[0].Content)
}
