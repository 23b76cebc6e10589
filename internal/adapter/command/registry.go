// Package command discovers slash commands from skill directories.
//
// Layout: <root>/<skill>/command/<name>.md, with an optional skill reference
// document at <root>/<skill>/SKILL.md.
package command

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"anvil/internal/domain"
)

// maxCommandFileSize is the maximum accepted command or reference file size (1 MiB).
const maxCommandFileSize = 1 << 20

const (
	commandDirName   = "command"
	referenceDocName = "SKILL.md"
	argumentsToken   = "$ARGUMENTS"
)

// Compile-time check: Registry implements domain.CommandRegistry.
var _ domain.CommandRegistry = (*Registry)(nil)

// Registry holds the commands found under a skills root. Load replaces the
// whole registry; there is no incremental invalidation.
type Registry struct {
	root   string
	logger *slog.Logger

	mu       sync.RWMutex
	commands map[string]domain.CommandDefinition
}

// NewRegistry creates an empty registry rooted at root.
func NewRegistry(root string, logger *slog.Logger) *Registry {
	return &Registry{
		root:     root,
		logger:   logger,
		commands: make(map[string]domain.CommandDefinition),
	}
}

// Root returns the skills root directory.
func (r *Registry) Root() string { return r.root }

// Load scans the skills root and replaces the registry contents. A missing
// root or unreadable directory yields an empty registry; unreadable or
// malformed command files are skipped.
func (r *Registry) Load() int {
	found := scan(r.root)

	r.mu.Lock()
	r.commands = found
	r.mu.Unlock()

	r.logger.Debug("commands loaded", "root", r.root, "count", len(found))
	return len(found)
}

// Reload is Load under the name the watcher and scheduler use.
func (r *Registry) Reload() int { return r.Load() }

// Get returns the command with the given name.
func (r *Registry) Get(name string) (domain.CommandDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.commands[name]
	return def, ok
}

// List returns all commands sorted by name.
func (r *Registry) List() []domain.CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.CommandDefinition, 0, len(r.commands))
	for _, def := range r.commands {
		result = append(result, def)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// BuildPrompt expands a command into the prompt sent to the backend: every
// $ARGUMENTS in the body is replaced with args, and the skill's reference
// document, when present, is placed ahead of the instructions.
func (r *Registry) BuildPrompt(name, args string) (string, error) {
	def, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrCommandNotFound, name)
	}

	instructions := strings.ReplaceAll(def.Body, argumentsToken, args)

	reference, ok := readReference(def.ReferencePath)
	if !ok {
		return instructions, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<skill-reference skill=%q>\n", def.Skill)
	b.WriteString(reference)
	b.WriteString("\n</skill-reference>\n\n")
	b.WriteString(instructions)
	return b.String(), nil
}

// readReference reads a skill reference document. Missing or oversized
// documents are skipped.
func readReference(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() > maxCommandFileSize {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	content := strings.TrimSpace(string(data))
	return content, content != ""
}

func scan(root string) map[string]domain.CommandDefinition {
	found := make(map[string]domain.CommandDefinition)

	skills, err := os.ReadDir(root)
	if err != nil {
		return found
	}

	for _, skill := range skills {
		if !skill.IsDir() {
			continue
		}
		skillDir := filepath.Join(root, skill.Name())
		entries, err := os.ReadDir(filepath.Join(skillDir, commandDirName))
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			path := filepath.Join(skillDir, commandDirName, entry.Name())
			def, err := loadCommandFile(path)
			if err != nil {
				continue
			}
			def.Name = strings.TrimSuffix(entry.Name(), ".md")
			def.Skill = skill.Name()
			def.ReferencePath = filepath.Join(skillDir, referenceDocName)
			if _, dup := found[def.Name]; dup {
				continue
			}
			found[def.Name] = def
		}
	}
	return found
}

func loadCommandFile(path string) (domain.CommandDefinition, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.CommandDefinition{}, err
	}
	if info.Size() > maxCommandFileSize {
		return domain.CommandDefinition{}, fmt.Errorf("command file %s too large (%d bytes, max %d)", path, info.Size(), maxCommandFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CommandDefinition{}, err
	}
	meta, body, err := parseFrontmatter(string(data))
	if err != nil {
		return domain.CommandDefinition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return domain.CommandDefinition{
		Description: meta["description"],
		Body:        body,
		Path:        path,
	}, nil
}

// parseFrontmatter splits an optional leading "---" block of flat
// "key: value" lines from the markdown body. Values are kept as strings.
func parseFrontmatter(content string) (map[string]string, string, error) {
	meta := make(map[string]string)
	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return meta, strings.TrimSpace(content), nil
	}

	rest := strings.TrimLeft(trimmed[3:], " \t")
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return meta, strings.TrimSpace(content), nil
	}

	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, "", fmt.Errorf("missing closing frontmatter delimiter")
	}
	frontmatter := rest[:end]
	body := rest[end+len("\n---"):]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	} else {
		body = ""
	}

	for _, line := range strings.Split(frontmatter, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		colonIdx := strings.Index(line, ":")
		if colonIdx <= 0 {
			return nil, "", fmt.Errorf("malformed frontmatter line %q", line)
		}
		key := strings.TrimSpace(line[:colonIdx])
		value := strings.TrimSpace(line[colonIdx+1:])
		meta[key] = value
	}

	return meta, strings.TrimSpace(body), nil
}
