package domain

import (
	"regexp"
	"strings"
)

// CommandDefinition is a slash command loaded from a skill's command folder.
// It is immutable once loaded.
type CommandDefinition struct {
	Name        string
	Description string
	Skill       string
	Body        string
	Path        string
	// ReferencePath is the owning skill's reference document. It may not exist.
	ReferencePath string
}

// ParsedCommand is a slash command invocation parsed from free text.
type ParsedCommand struct {
	Name string
	Args string
}

// CommandRegistry resolves slash commands and expands them into prompts.
type CommandRegistry interface {
	Get(name string) (CommandDefinition, bool)
	List() []CommandDefinition
	BuildPrompt(name, args string) (string, error)
}

var slashCommandRe = regexp.MustCompile(`^/([a-zA-Z0-9_-]+)(?:\s+([\s\S]*))?$`)

// ParseSlashCommand parses "/name args". Args is everything after the first
// run of whitespace, newlines included, trimmed.
func ParseSlashCommand(text string) (ParsedCommand, bool) {
	m := slashCommandRe.FindStringSubmatch(text)
	if m == nil {
		return ParsedCommand{}, false
	}
	return ParsedCommand{Name: m[1], Args: strings.TrimSpace(m[2])}, true
}
