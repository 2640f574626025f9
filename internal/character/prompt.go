// ABOUTME: Derives the system prompt sequence that puts a model in character
// ABOUTME: Descriptive facts first, then meta directives, then conversation history

package character

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PromptMessages returns the messages describing c to a language model.
// Facts are emitted as system messages in a fixed order, followed by the
// meta directives and the conversation history.
func (c *Character) PromptMessages() []Message {
	var facts []string
	facts = append(facts,
		"Your name is "+c.Name,
		"You can be described as: "+c.Description,
		fmt.Sprintf("You are %s", c.Gender),
	)
	if c.Alignment != "" {
		facts = append(facts, fmt.Sprintf("Your alignment is %s", c.Alignment))
	}
	if c.Health != nil && *c.Health != 0 {
		facts = append(facts, fmt.Sprintf("You have %s health", formatFloat(*c.Health)))
	}
	if c.Mood != "" {
		facts = append(facts, "You are feeling "+c.Mood)
	}
	if c.Rank != "" {
		facts = append(facts, "You are the rank of "+c.Rank)
	}
	if c.Title != "" {
		facts = append(facts, "Your title is "+c.Title)
	}
	if c.Occupation != "" {
		facts = append(facts, "You work as a "+c.Occupation)
	}
	if c.Age != nil && *c.Age > 0 {
		facts = append(facts, fmt.Sprintf("You are %s old", describeAge(*c.Age)))
	}
	if c.Birthdate != nil && *c.Birthdate != 0 {
		bd := time.Unix(int64(*c.Birthdate), 0).UTC()
		facts = append(facts, "Your birthday is "+bd.Format("January 2"))
	}
	if len(c.Attributes) > 0 {
		facts = append(facts, "You have the following attributes: "+strings.Join(c.Attributes, ", "))
	}
	if len(c.Inventory) > 0 {
		facts = append(facts, "You have the following items: "+strings.Join(c.Inventory, ", "))
	}

	out := make([]Message, 0, len(facts)+len(c.Meta)+len(c.Messages))
	for _, f := range facts {
		out = append(out, Message{Role: RoleSystem, Content: f})
	}
	out = append(out, c.Meta...)
	out = append(out, c.Messages...)
	return out
}

// describeAge renders fractional years as "N years, and M months".
func describeAge(years float64) string {
	whole := int(years)
	months := int((years - float64(whole)) * 12)
	return fmt.Sprintf("%d years, and %d months", whole, months)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
