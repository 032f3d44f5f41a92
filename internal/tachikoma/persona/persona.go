// Package persona loads Tachikoma's persona profile: the system prompt
// templates that give the bot its voice. Profiles are YAML files validated
// against an embedded JSON Schema before use, so a malformed profile fails at
// startup rather than producing silent prompt corruption.
package persona

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON string

// Placeholder tokens replaced when a prompt is rendered for a channel.
const (
	PlaceholderServer      = "{server}"
	PlaceholderChannel     = "{channel}"
	PlaceholderTopic       = "{topic}"
	PlaceholderConversants = "{conversants}"
)

// Profile is a parsed persona file.
type Profile struct {
	// Name is the persona's display name.
	Name string `yaml:"name"`
	// Prompt is the system prompt used in shared channels. May contain
	// placeholder tokens.
	Prompt string `yaml:"prompt"`
	// DMPrompt is the system prompt used in direct messages. Falls back to
	// Prompt when empty.
	DMPrompt string `yaml:"dmPrompt"`
	// Greeting is sent to a channel when the bot joins a new conversation.
	Greeting string `yaml:"greeting"`
}

// ChannelMeta carries the channel context interpolated into a prompt.
type ChannelMeta struct {
	Server      string
	Channel     string
	Topic       string
	Conversants []string
	DM          bool
}

// Load reads, validates, and parses the persona file at path.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// Parse validates data against the persona schema and decodes it.
func Parse(data []byte) (*Profile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	if err := schema().Validate(raw); err != nil {
		return nil, fmt.Errorf("persona validate: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("persona parse: %w", err)
	}
	return &p, nil
}

// Render produces the persona prompt for a channel, choosing the DM variant
// when meta.DM is set and substituting all placeholder tokens.
func (p *Profile) Render(meta ChannelMeta) string {
	prompt := p.Prompt
	if meta.DM && p.DMPrompt != "" {
		prompt = p.DMPrompt
	}
	return Expand(prompt, meta)
}

// Expand substitutes the placeholder tokens in prompt with the channel
// context. Unknown text is left untouched, so operator-set prompts without
// placeholders pass through unchanged.
func Expand(prompt string, meta ChannelMeta) string {
	prompt = strings.ReplaceAll(prompt, PlaceholderServer, meta.Server)
	prompt = strings.ReplaceAll(prompt, PlaceholderChannel, meta.Channel)
	prompt = strings.ReplaceAll(prompt, PlaceholderTopic, meta.Topic)
	prompt = strings.ReplaceAll(prompt, PlaceholderConversants, strings.Join(meta.Conversants, ", "))
	return prompt
}

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
)

func schema() *jsonschema.Schema {
	compileOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("persona.schema.json", strings.NewReader(schemaJSON)); err != nil {
			panic(fmt.Sprintf("persona: embedded schema is invalid: %v", err))
		}
		compiled = c.MustCompile("persona.schema.json")
	})
	return compiled
}
