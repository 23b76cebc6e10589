package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil/internal/domain"
	"anvil/internal/infra/config"
)

func TestRootCommandStructure(t *testing.T) {
	assert.Equal(t, "anvil", rootCmd.Use)

	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"ask", "commands", "sessions"})

	for _, flag := range []string{"config", "model", "verbose"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestResolveConfigPath(t *testing.T) {
	old := configPath
	t.Cleanup(func() { configPath = old })

	configPath = "/tmp/flag.yaml"
	assert.Equal(t, "/tmp/flag.yaml", resolveConfigPath())

	configPath = ""
	t.Setenv("ANVIL_CONFIG", "/tmp/env.yaml")
	assert.Equal(t, "/tmp/env.yaml", resolveConfigPath())

	t.Setenv("ANVIL_CONFIG", "")
	assert.Equal(t, filepath.Join(config.DefaultDataDir(), "config.yaml"), resolveConfigPath())
}

func TestStartModel(t *testing.T) {
	old := modelFlag
	t.Cleanup(func() { modelFlag = old })

	cfg := config.Defaults()
	modelFlag = ""
	assert.Equal(t, "gpt-4o-mini", startModel(cfg))

	modelFlag = "gpt-4o"
	assert.Equal(t, "gpt-4o", startModel(cfg))
}

func TestBuiltinPluginsMatchConfig(t *testing.T) {
	for name := range config.BuiltinPlugins {
		p, ok := builtinPlugin(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Manifest().Name)
	}
	_, ok := builtinPlugin("nope")
	assert.False(t, ok)
}

func TestPickAnswer(t *testing.T) {
	q := domain.QuestionRequested{RequestID: "q", Choices: []string{"Yes", "No"}}

	tests := []struct {
		in       string
		answer   string
		freeform bool
	}{
		{"1", "Yes", false},
		{"2", "No", false},
		{"3", "3", true},
		{"no", "No", false},
		{"later", "later", true},
		{"", "", true},
	}
	for _, tt := range tests {
		answer, freeform := pickAnswer(q, tt.in)
		assert.Equal(t, tt.answer, answer, tt.in)
		assert.Equal(t, tt.freeform, freeform, tt.in)
	}
}

func TestAskPrinterStreamsForegroundRun(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newAskPrinter(&out, &errOut)
	st := domain.NewHarnessState()

	p.handle(domain.RunStarted{RunID: "r1"}, st)
	p.handle(domain.MessageDelta{RunID: "r1", Delta: "Hello"}, st)
	p.handle(domain.MessageDelta{RunID: "other", Delta: "ignored"}, st)
	p.handle(domain.ToolStarted{RunID: "r1", ToolName: "read_file"}, st)
	p.handle(domain.MessageDelta{RunID: "r1", Delta: "world"}, st)
	p.handle(domain.MessageFinal{RunID: "r1"}, st)
	p.handle(domain.NewLog(domain.LogDebug, "hidden"), st)
	p.handle(domain.NewLog(domain.LogWarn, "careful"), st)
	p.handle(domain.RunFinished{RunID: "r1"}, st)

	assert.Equal(t, "r1", p.currentRun())
	assert.Equal(t, "Hello\nworld\n", out.String())
	assert.Equal(t, "[tool] read_file\n[warn] careful\n", errOut.String())

	select {
	case err := <-p.done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}
}

func TestAskPrinterFinalWithoutDeltas(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newAskPrinter(&out, &errOut)
	st := domain.NewHarnessState()

	p.handle(domain.RunStarted{RunID: "r1"}, st)
	p.handle(domain.MessageFinal{RunID: "r1", Content: "all at once"}, st)
	p.handle(domain.RunFinished{RunID: "r1", Error: "backend down"}, st)

	assert.Equal(t, "all at once\n", out.String())
	err := <-p.done
	require.Error(t, err)
	assert.Equal(t, "backend down", err.Error())
}

func TestAskPrinterQuestionAndCancel(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newAskPrinter(&out, &errOut)
	st := domain.NewHarnessState()

	p.handle(domain.RunStarted{RunID: "r1"}, st)
	p.handle(domain.QuestionRequested{RequestID: "q1", Question: "Proceed?", Choices: []string{"Yes", "No"}}, st)

	q := <-p.questions
	assert.Equal(t, "q1", q.RequestID)
	assert.Contains(t, errOut.String(), "? Proceed?\n  1) Yes\n  2) No\n")

	p.handle(domain.RunCancelled{RunID: "r1"}, st)
	assert.ErrorIs(t, <-p.done, context.Canceled)
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, nil))
	assert.Equal(t, "No saved sessions found.\n", buf.String())

	buf.Reset()
	require.NoError(t, printSessions(&buf, []domain.SessionInfo{
		{ID: "01J", Title: "fix build", Model: "gpt-test", MessageCount: 3, UpdatedAt: time.Now()},
		{ID: "01K", Model: "gpt-test"},
	}))
	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "fix build")
	assert.Contains(t, out, "(untitled)")
}

func TestPrintCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printCommands(&buf, "/skills", nil))
	assert.Equal(t, "No commands found under /skills\n", buf.String())

	buf.Reset()
	require.NoError(t, printCommands(&buf, "/skills", []domain.CommandDefinition{
		{Name: "review", Skill: "code-review", Description: "Review a diff"},
	}))
	assert.Contains(t, buf.String(), "/review")
	assert.Contains(t, buf.String(), "code-review")
	assert.Contains(t, buf.String(), "Review a diff")
}
