package panel

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
)

// ProgramOptions returns the tea options for the panel. A headless program
// has no renderer and reads no input; the loop still ticks.
func ProgramOptions(ctx context.Context, headless bool, out io.Writer) []tea.ProgramOption {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if headless {
		opts = append(opts,
			tea.WithoutRenderer(),
			tea.WithInput(nil),
			tea.WithOutput(out),
		)
	} else {
		opts = append(opts, tea.WithAltScreen(), tea.WithOutput(out))
	}
	return opts
}

// Run runs the panel until the user quits, the capture finishes (with
// WithExitAfterCapture) or ctx is cancelled. Cancellation is not an error.
func Run(ctx context.Context, m Model, headless bool, out io.Writer) (Model, error) {
	p := tea.NewProgram(m, ProgramOptions(ctx, headless, out)...)
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		m = fm
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, context.Canceled) {
		return m, fmt.Errorf("panel: %w", err)
	}
	if ctx.Err() != nil {
		m.loop.Session().Cancel()
	}
	m.loop.Session().Wait()
	return m, nil
}
