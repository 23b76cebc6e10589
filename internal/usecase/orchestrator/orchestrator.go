// Package orchestrator owns the harness state. It turns user actions into
// run provider calls, folds every event through the reducer and fans the
// result out to subscribers and plugins.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"anvil/internal/domain"
	"anvil/internal/infra/tracer"
	"anvil/internal/usecase/eventbus"
	"anvil/internal/usecase/reducer"
)

// Listener receives every event with the state the reducer produced for it.
type Listener = eventbus.Listener

// Deps holds the collaborators of an Orchestrator.
type Deps struct {
	Provider domain.RunProvider
	Commands domain.CommandRegistry // optional
	Plugins  domain.PluginHost      // optional
	Logger   *slog.Logger
	Limits   domain.Limits
}

// Orchestrator is the single owner of domain.HarnessState.
type Orchestrator struct {
	provider domain.RunProvider
	commands domain.CommandRegistry
	plugins  domain.PluginHost
	logger   *slog.Logger
	reducer  reducer.Reducer
	bus      *eventbus.Bus

	stateMu sync.Mutex
	state   domain.HarnessState
	index   *reducer.ToolIndex

	// actionMu serializes the status check of an action with the events it
	// emits to claim the run.
	actionMu sync.Mutex

	questionsMu sync.Mutex
	questions   map[string]chan domain.UserInputResponse

	ctx    context.Context
	cancel context.CancelFunc
	lifeMu sync.Mutex
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an orchestrator and registers it as the provider's event and
// user-input handler.
func New(deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		provider:  deps.Provider,
		commands:  deps.Commands,
		plugins:   deps.Plugins,
		logger:    logger,
		reducer:   reducer.New(deps.Limits),
		state:     domain.NewHarnessState(),
		index:     reducer.NewToolIndex(),
		questions: make(map[string]chan domain.UserInputResponse),
		ctx:       ctx,
		cancel:    cancel,
	}

	var tail Listener
	if deps.Plugins != nil {
		tail = func(ev domain.Event, _ domain.HarnessState) { deps.Plugins.Notify(ev) }
	}
	o.bus = eventbus.New(logger, tail)

	if o.provider != nil {
		o.provider.OnEvent(o.Emit)
		o.provider.OnUserInputRequest(o.RequestUserInput)
	}
	return o
}

// Initialize connects the run provider. Failure is fatal: it is recorded as a
// harness error and returned.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.initialize")
	defer span.End()

	if o.provider == nil {
		o.Emit(domain.HarnessError{Message: domain.ErrNotInitialized.Error()})
		return domain.ErrNotInitialized
	}
	if err := o.provider.Initialize(ctx); err != nil {
		tracer.RecordError(span, err)
		o.Emit(domain.HarnessError{Message: "Failed to initialize: " + err.Error()})
		return domain.WrapOp("orchestrator.Initialize", err)
	}

	// Session first: switching resets the context info the model sets.
	if sid := o.provider.CurrentSessionID(); sid != "" {
		o.Emit(domain.SessionSwitched{SessionID: sid})
	}
	if model := o.provider.CurrentModel(); model != "" {
		o.announceModel(model)
	}
	o.refreshSessions(ctx)

	tracer.SetOK(span)
	o.logger.Info("harness initialized", "model", o.provider.CurrentModel())
	return nil
}

// announceModel records a model change and the model's token limit.
func (o *Orchestrator) announceModel(model string) {
	o.Emit(domain.ModelChanged{ModelID: model})
	for _, m := range o.provider.AvailableModels() {
		if m.ID == model && m.TokenLimit > 0 {
			o.Emit(domain.UsageInfo{TokenLimit: m.TokenLimit})
			return
		}
	}
}

// State returns a deep copy of the current state.
func (o *Orchestrator) State() domain.HarnessState {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state.Clone()
}

// status reads the fields action handlers branch on without cloning.
func (o *Orchestrator) status() (domain.RunStatus, string) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.state.Status, o.state.CurrentRunID
}

// Subscribe registers fn for every event. Listeners run in registration
// order, before plugins. The returned func unsubscribes.
func (o *Orchestrator) Subscribe(fn Listener) func() {
	return o.bus.SubscribeAll(fn)
}

// SubscribeType registers fn for one event type.
func (o *Orchestrator) SubscribeType(t domain.EventType, fn Listener) func() {
	return o.bus.Subscribe(t, fn)
}

// Emit applies ev to the state and delivers it to listeners. Events are
// reduced in call order; an Emit from inside a listener is delivered after
// the current event reached every listener.
func (o *Orchestrator) Emit(ev domain.Event) {
	if ev == nil || o.closed.Load() {
		return
	}

	o.stateMu.Lock()
	prev := o.state
	next := o.reducer.Process(prev, ev, o.index)
	o.state = next

	var after func()
	if finishesForeground(prev, next, ev) {
		after = o.scheduleQueueDrain
	}
	o.bus.Enqueue(ev, next.Clone(), after)
	o.stateMu.Unlock()

	o.bus.Drain()
}

// finishesForeground reports whether ev ended the foreground run, either by
// finishing or by being cancelled.
func finishesForeground(prev, next domain.HarnessState, ev domain.Event) bool {
	var runID string
	switch e := ev.(type) {
	case domain.RunFinished:
		runID = e.RunID
	case domain.RunCancelled:
		runID = e.RunID
	default:
		return false
	}
	return prev.Status == domain.StatusRunning &&
		prev.CurrentRunID == runID &&
		next.Status != domain.StatusRunning
}

// scheduleQueueDrain runs after a finished or cancelled run was delivered to
// every listener. The drain itself happens on its own goroutine so listeners
// have observed the idle state before the next queued prompt starts.
func (o *Orchestrator) scheduleQueueDrain() {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()
	if o.closed.Load() {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.drainQueue(o.ctx)
	}()
}

func (o *Orchestrator) drainQueue(ctx context.Context) {
	o.actionMu.Lock()
	o.stateMu.Lock()
	idle := o.state.Status != domain.StatusRunning
	var text string
	if len(o.state.MessageQueue) > 0 {
		text = o.state.MessageQueue[0]
	}
	queued := len(o.state.MessageQueue) > 0
	o.stateMu.Unlock()

	if !idle || !queued || o.closed.Load() {
		o.actionMu.Unlock()
		return
	}
	o.Emit(domain.QueueDequeued{Text: text})
	o.submitLocked(ctx, text, nil)
}

// Close stops event delivery, cancels pending questions and waits for
// background continuations.
func (o *Orchestrator) Close() {
	o.lifeMu.Lock()
	already := o.closed.Swap(true)
	o.lifeMu.Unlock()
	if already {
		return
	}
	o.cancel()
	o.wg.Wait()
	o.bus.Close()
}

func newRunID() string {
	return ulid.Make().String()
}

func now() time.Time { return time.Now() }
