package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"anvil/internal/domain"
	"anvil/internal/infra/tracer"
)

// RunEphemeralPrompt runs prompt in the isolated ephemeral slot, replacing any
// previous one. Its events share the main event stream and are kept apart by
// run id. A provider failure marks the slot failed; it is logged, not
// returned.
func (o *Orchestrator) RunEphemeralPrompt(ctx context.Context, prompt string, opts domain.EphemeralOptions) string {
	runID := newRunID()
	ctx, span := tracer.StartSpan(ctx, "orchestrator.ephemeral_prompt",
		trace.WithAttributes(tracer.StringAttr("run.id", runID)))
	defer span.End()

	at := now()
	o.Emit(domain.EphemeralStarted{RunID: runID, Prompt: prompt, At: at})
	o.Emit(domain.RunStarted{RunID: runID, At: at})

	if err := o.provider.RunEphemeralPrompt(ctx, prompt, runID, opts); err != nil {
		tracer.RecordError(span, err)
		o.logger.Warn("ephemeral prompt failed", "run_id", runID, "error", err)
		o.Emit(domain.NewLog(domain.LogError, "Background prompt failed: "+err.Error()))
		o.Emit(domain.RunFinished{RunID: runID, Error: err.Error(), At: now()})
		return runID
	}
	tracer.SetOK(span)
	return runID
}
