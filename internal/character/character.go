// ABOUTME: Character and Message records that drive prompt construction
// ABOUTME: Enumerations, validation tags and deep copies for snapshot safety

package character

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// Gender of a character.
type Gender string

const (
	GenderMale      Gender = "Male"
	GenderFemale    Gender = "Female"
	GenderNonBinary Gender = "Non-Binary"
)

// Alignment is one of the nine classic alignments.
type Alignment string

const (
	LawfulGood     Alignment = "Lawful-Good"
	NeutralGood    Alignment = "Neutral-Good"
	ChaoticGood    Alignment = "Chaotic-Good"
	LawfulNeutral  Alignment = "Lawful-Neutral"
	TrueNeutral    Alignment = "True-Neutral"
	ChaoticNeutral Alignment = "Chaotic-Neutral"
	LawfulEvil     Alignment = "Lawful-Evil"
	NeutralEvil    Alignment = "Neutral-Evil"
	ChaoticEvil    Alignment = "Chaotic-Evil"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// Message is one entry of conversation history or a meta directive.
type Message struct {
	Role    Role   `json:"role" validate:"required,oneof=user system assistant"`
	Content string `json:"content"`

	// CreatedAt is seconds since the epoch.
	CreatedAt float64 `json:"created_at"`
}

// NewMessage stamps a message with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: now()}
}

// UnmarshalJSON defaults a missing creation time to now.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = now()
	}
	*m = Message(p)
	return nil
}

func now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Character is a persona record. Name is the primary key.
type Character struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`

	Rank       string   `json:"rank,omitempty"`
	Title      string   `json:"title,omitempty"`
	Occupation string   `json:"occupation,omitempty"`
	Age        *float64 `json:"age,omitempty" validate:"omitempty,gte=0"`
	Birthdate  *float64 `json:"birthdate,omitempty"`

	Gender    Gender    `json:"gender" validate:"required,oneof=Male Female Non-Binary"`
	Alignment Alignment `json:"alignment,omitempty" validate:"omitempty,oneof=Lawful-Good Neutral-Good Chaotic-Good Lawful-Neutral True-Neutral Chaotic-Neutral Lawful-Evil Neutral-Evil Chaotic-Evil"`
	Mood      string    `json:"mood,omitempty"`

	Attributes []string `json:"attributes,omitempty"`
	Health     *float64 `json:"health,omitempty"`
	Inventory  []string `json:"inventory,omitempty"`

	Messages  []Message `json:"messages" validate:"dive"`
	Summaries []string  `json:"summaries"`
	Meta      []Message `json:"meta" validate:"dive"`

	// Raw holds stored column text that could not be decoded, keyed by
	// column name. It is never serialized to API clients.
	Raw map[string]string `json:"-"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required fields and enumerations.
func (c *Character) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid character: %w", err)
	}
	return nil
}

// Clone returns a deep copy that shares no slices, maps or pointers with c.
func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := *c
	out.Age = clonePtr(c.Age)
	out.Birthdate = clonePtr(c.Birthdate)
	out.Health = clonePtr(c.Health)
	out.Attributes = slices.Clone(c.Attributes)
	out.Inventory = slices.Clone(c.Inventory)
	out.Messages = slices.Clone(c.Messages)
	out.Summaries = slices.Clone(c.Summaries)
	out.Meta = slices.Clone(c.Meta)
	out.Raw = maps.Clone(c.Raw)
	return &out
}

// AppendMessage adds m to the conversation history.
func (c *Character) AppendMessage(m Message) {
	c.Messages = append(c.Messages, m)
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
