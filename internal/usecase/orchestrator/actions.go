package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"anvil/internal/domain"
	"anvil/internal/infra/tracer"
)

// Dispatch routes a user action to its handler. Provider failures are turned
// into log events; the returned error only reports an unusable action.
func (o *Orchestrator) Dispatch(ctx context.Context, action domain.Action) error {
	switch a := action.(type) {
	case domain.SubmitPrompt:
		o.handleSubmit(ctx, a)
	case domain.Cancel:
		o.handleCancel(ctx)
	case domain.ChangeModel:
		o.handleChangeModel(ctx, a)
	case domain.AnswerQuestion:
		o.handleAnswer(a)
	case domain.NewSession:
		o.handleNewSession(ctx)
	case domain.SwitchSession:
		o.handleSwitchSession(ctx, a)
	case domain.RefreshSessions:
		o.refreshSessions(ctx)
	case domain.CloseEphemeral:
		o.handleCloseEphemeral()
	default:
		return fmt.Errorf("%w: unsupported action %T", domain.ErrInvalidInput, action)
	}
	return nil
}

func (o *Orchestrator) handleSubmit(ctx context.Context, a domain.SubmitPrompt) {
	text := strings.TrimSpace(a.Text)
	if text == "" && len(a.Attachments) == 0 {
		return
	}
	o.actionMu.Lock()
	o.submitLocked(ctx, text, a.Attachments)
}

// pendingRun is a prompt that has claimed the foreground run.
type pendingRun struct {
	runID       string
	prompt      string
	attachments []domain.Attachment
}

// submitLocked must be called with actionMu held; it releases it before any
// provider call.
func (o *Orchestrator) submitLocked(ctx context.Context, text string, attachments []domain.Attachment) {
	if status, _ := o.status(); status == domain.StatusRunning {
		o.Emit(domain.QueueEnqueued{Text: text})
		o.Emit(domain.NewLog(domain.LogInfo, "Queued: "+preview(text)))
		o.actionMu.Unlock()
		return
	}

	prompt, display := text, ""
	if parsed, ok := domain.ParseSlashCommand(text); ok {
		switch {
		case parsed.Name == "commands" || parsed.Name == "help":
			o.Emit(domain.NewLog(domain.LogInfo, o.commandListing()))
			o.actionMu.Unlock()
			return

		case o.hasCommand(parsed.Name):
			expanded, err := o.commands.BuildPrompt(parsed.Name, parsed.Args)
			if err != nil {
				o.Emit(domain.NewLog(domain.LogError, fmt.Sprintf("Command /%s failed: %v", parsed.Name, err)))
				o.actionMu.Unlock()
				return
			}
			def, _ := o.commands.Get(parsed.Name)
			o.Emit(domain.SkillInvoked{Name: def.Skill, Path: def.ReferencePath, At: now()})
			prompt, display = expanded, text

		case o.plugins != nil:
			if cmd, ok := o.plugins.Command(parsed.Name); ok {
				o.actionMu.Unlock()
				o.runPluginCommand(ctx, cmd)
				return
			}
		}
	}

	run := o.claimRun(prompt, display, attachments)
	o.actionMu.Unlock()
	o.executePrompt(ctx, run)
}

// claimRun records the user message and starts a foreground run.
func (o *Orchestrator) claimRun(prompt, display string, attachments []domain.Attachment) pendingRun {
	run := pendingRun{runID: newRunID(), prompt: prompt, attachments: attachments}
	at := now()
	o.Emit(domain.UserMessage{Content: prompt, DisplayContent: display, At: at})
	o.Emit(domain.RunStarted{RunID: run.runID, At: at})
	return run
}

// executePrompt hands the prompt to the provider. Whatever happens, the run
// ends: a provider error becomes an error log followed by run.finished. A run
// cancelled while its stream was opening has already ended.
func (o *Orchestrator) executePrompt(ctx context.Context, run pendingRun) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.execute_prompt",
		trace.WithAttributes(tracer.StringAttr("run.id", run.runID)))
	defer span.End()

	if err := o.provider.SendPrompt(ctx, run.prompt, run.runID, run.attachments); err != nil {
		tracer.RecordError(span, err)
		if _, current := o.status(); errors.Is(err, context.Canceled) && current != run.runID {
			o.logger.Debug("send prompt cancelled", "run_id", run.runID)
			return
		}
		o.logger.Warn("send prompt failed", "run_id", run.runID, "error", err)
		o.Emit(domain.NewLog(domain.LogError, "Prompt failed: "+err.Error()))
		o.Emit(domain.RunFinished{RunID: run.runID, Error: err.Error(), At: now()})
		return
	}
	tracer.SetOK(span)
}

func (o *Orchestrator) hasCommand(name string) bool {
	if o.commands == nil {
		return false
	}
	_, ok := o.commands.Get(name)
	return ok
}

func (o *Orchestrator) runPluginCommand(ctx context.Context, cmd domain.PluginCommand) {
	if err := cmd.Run(ctx); err != nil {
		o.Emit(domain.NewLog(domain.LogError, fmt.Sprintf("Command /%s failed: %v", cmd.Name, err)))
	}
}

func (o *Orchestrator) commandListing() string {
	var lines []string
	if o.commands != nil {
		for _, def := range o.commands.List() {
			line := "  /" + def.Name
			if def.Description != "" {
				line += " - " + def.Description
			}
			if def.Skill != "" {
				line += " (" + def.Skill + ")"
			}
			lines = append(lines, line)
		}
	}
	if o.plugins != nil {
		cmds := o.plugins.Commands()
		sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
		for _, cmd := range cmds {
			if o.hasCommand(cmd.Name) {
				continue
			}
			line := "  /" + cmd.Name
			if cmd.Description != "" {
				line += " - " + cmd.Description
			}
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "No skill commands installed"
	}
	return "Available commands:\n" + strings.Join(lines, "\n")
}

func (o *Orchestrator) handleCancel(ctx context.Context) {
	status, runID := o.status()
	if status != domain.StatusRunning {
		return
	}
	if err := o.provider.Abort(ctx); err != nil {
		o.logger.Warn("abort failed", "run_id", runID, "error", err)
		o.Emit(domain.NewLog(domain.LogWarn, "Abort failed: "+err.Error()))
	}
	o.Emit(domain.RunCancelled{RunID: runID, At: now()})
}

// refuseWhileRunning returns ErrRunInProgress, after logging a warning, if a
// run is active.
func (o *Orchestrator) refuseWhileRunning(what string) error {
	if status, _ := o.status(); status != domain.StatusRunning {
		return nil
	}
	err := domain.WrapOp("cannot "+what, domain.ErrRunInProgress)
	o.logger.Debug("action refused", "code", domain.ErrorCodeOf(err), "error", err)
	o.Emit(domain.NewLog(domain.LogWarn, "Cannot "+what+": "+domain.ErrRunInProgress.Error()))
	return err
}

func (o *Orchestrator) handleChangeModel(ctx context.Context, a domain.ChangeModel) {
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	if o.refuseWhileRunning("change model") != nil {
		return
	}
	if models := o.provider.AvailableModels(); len(models) > 0 && !hasModel(models, a.ModelID) {
		o.Emit(domain.NewLog(domain.LogError, fmt.Sprintf("%v: %s", domain.ErrModelNotFound, a.ModelID)))
		return
	}
	if err := o.provider.SwitchModel(ctx, a.ModelID); err != nil {
		o.Emit(domain.NewLog(domain.LogError, "Failed to change model: "+err.Error()))
		return
	}
	o.announceModel(a.ModelID)
	o.Emit(domain.NewLog(domain.LogInfo, "Model changed to "+a.ModelID))
}

func hasModel(models []domain.ModelInfo, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (o *Orchestrator) handleNewSession(ctx context.Context) {
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	if o.refuseWhileRunning("start a new session") != nil {
		return
	}
	id, err := o.provider.CreateNewSession(ctx)
	if err != nil {
		o.Emit(domain.NewLog(domain.LogError, "Failed to create session: "+err.Error()))
		return
	}
	o.Emit(domain.SessionCreated{SessionID: id})
	o.refreshSessions(ctx)
}

func (o *Orchestrator) handleSwitchSession(ctx context.Context, a domain.SwitchSession) {
	o.actionMu.Lock()
	defer o.actionMu.Unlock()
	if o.refuseWhileRunning("switch sessions") != nil {
		return
	}
	o.stateMu.Lock()
	current := o.state.CurrentSessionID
	o.stateMu.Unlock()
	if a.SessionID == "" || a.SessionID == current {
		return
	}

	if err := o.provider.SwitchToSession(ctx, a.SessionID); err != nil {
		o.Emit(domain.NewLog(domain.LogError, "Failed to switch session: "+err.Error()))
		return
	}
	o.Emit(domain.SessionSwitched{SessionID: a.SessionID})

	if hp, ok := o.provider.(domain.HistoryProvider); ok {
		msgs, err := hp.SessionHistory(ctx, a.SessionID)
		if err != nil {
			o.Emit(domain.NewLog(domain.LogWarn, "Failed to load history: "+err.Error()))
			return
		}
		if len(msgs) > 0 {
			o.Emit(domain.HistoryLoaded{SessionID: a.SessionID, Messages: msgs})
		}
	}
}

func (o *Orchestrator) refreshSessions(ctx context.Context) {
	sessions, err := o.provider.ListSessions(ctx)
	if err != nil {
		o.Emit(domain.NewLog(domain.LogWarn, "Failed to list sessions: "+err.Error()))
		return
	}
	o.Emit(domain.SessionsListed{Sessions: sessions})
}

func (o *Orchestrator) handleCloseEphemeral() {
	o.stateMu.Lock()
	er := o.state.EphemeralRun
	o.stateMu.Unlock()
	if er == nil {
		return
	}
	o.Emit(domain.EphemeralClosed{RunID: er.RunID})
}

func preview(text string) string {
	const limit = 60
	text = strings.ReplaceAll(text, "\n", " ")
	if r := []rune(text); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return text
}
