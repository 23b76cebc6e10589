package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"anvil/internal/domain"
	"anvil/internal/plugin"
)

const maxReadBytes = 64 * 1024

// WorkspacePlugin gives the model read-only access to the files under one
// directory, usually the directory anvil was started in.
type WorkspacePlugin struct {
	root string
}

// NewWorkspace creates the workspace plugin rooted at root.
func NewWorkspace(root string) *WorkspacePlugin {
	return &WorkspacePlugin{root: root}
}

func (p *WorkspacePlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        "workspace",
		Version:     "1.0.0",
		Description: "Read and list files in the working directory",
	}
}

func (p *WorkspacePlugin) Init(_ context.Context, pc *plugin.Context) error {
	tool, err := NewWorkspaceTool(p.root)
	if err != nil {
		return err
	}
	return pc.Tools.Register(tool)
}

func (p *WorkspacePlugin) Close() error { return nil }

// WorkspaceTool reads files and lists directories below a fixed root.
type WorkspaceTool struct {
	root string // absolute, symlinks resolved
}

// NewWorkspaceTool resolves root and checks that it is a directory.
func NewWorkspaceTool(root string) (*WorkspaceTool, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("eval symlinks for workspace root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: workspace root %q is not a directory", domain.ErrInvalidInput, resolved)
	}
	return &WorkspaceTool{root: resolved}, nil
}

func (t *WorkspaceTool) Name() string { return "workspace" }
func (t *WorkspaceTool) Description() string {
	return "Read a file or list a directory inside the workspace"
}

func (t *WorkspaceTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"action": {"type": "string", "enum": ["read", "list"], "description": "The file operation to perform"},
				"path": {"type": "string", "description": "File or directory path relative to the workspace"}
			},
			"required": ["action"],
			"additionalProperties": false
		}`),
	}
}

type workspaceParams struct {
	Action string `json:"action"`
	Path   string `json:"path"`
}

func (t *WorkspaceTool) Execute(_ context.Context, params json.RawMessage, progress domain.ProgressFunc) (*domain.ToolResult, error) {
	var p workspaceParams
	if err := json.Unmarshal(params, &p); err != nil {
		return &domain.ToolResult{IsError: true, Content: fmt.Sprintf("invalid params: %v", err)}, nil
	}

	resolved, err := t.resolvePath(p.Path)
	if err != nil {
		return &domain.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	if progress != nil {
		progress(p.Action + " " + t.rel(resolved))
	}

	var content string
	switch p.Action {
	case "read":
		content, err = readLimited(resolved)
	case "list":
		content, err = listDir(resolved)
	default:
		err = fmt.Errorf("unknown action %q", p.Action)
	}
	if err != nil {
		return &domain.ToolResult{IsError: true, Content: err.Error()}, nil
	}
	return &domain.ToolResult{Content: content}, nil
}

// resolvePath maps a workspace-relative or absolute path to a resolved path
// inside the root.
func (t *WorkspaceTool) resolvePath(path string) (string, error) {
	if path == "" || path == "." {
		return t.root, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(t.root, path)
	}
	resolved, err := filepath.EvalSymlinks(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, os.ErrNotExist)
	}
	if resolved != t.root && !strings.HasPrefix(resolved, t.root+string(os.PathSeparator)) {
		return "", domain.NewDomainError("WorkspaceTool.resolvePath", domain.ErrOutsideWorkspace, path)
	}
	return resolved, nil
}

func (t *WorkspaceTool) rel(path string) string {
	if r, err := filepath.Rel(t.root, path); err == nil {
		return r
	}
	return path
}

func readLimited(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + fmt.Sprintf("\n[truncated at %d bytes]", maxReadBytes), nil
	}
	return string(data), nil
}

func listDir(path string) (string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("list dir: %w", err)
	}
	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "%s/\n", entry.Name())
		} else {
			fmt.Fprintf(&sb, "%s\n", entry.Name())
		}
	}
	return sb.String(), nil
}
