package chat

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"anvil/internal/domain"
)

// Run starts the terminal UI and blocks until the user quits or ctx is
// cancelled. Harness events reach the model through Program.Send.
func Run(ctx context.Context, deps Deps) error {
	program := tea.NewProgram(
		New(ctx, deps),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	unsubscribe := deps.Harness.Subscribe(func(ev domain.Event, st domain.HarnessState) {
		program.Send(StateMsg{Event: ev, State: st})
	})
	defer unsubscribe()

	go func() {
		<-ctx.Done()
		program.Send(QuitMsg{})
	}()

	_, err := program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
