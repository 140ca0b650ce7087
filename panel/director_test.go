package panel

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
)

// director runs a panel headlessly and lets a test press keys and wait for
// the model to reach a condition.
type director struct {
	t       *testing.T
	program *tea.Program
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	done    chan struct{}

	updates chan Model
	mu      sync.RWMutex
	latest  Model
}

// recordingModel forwards every updated model to the director.
type recordingModel struct {
	Model
	d *director
}

func (w recordingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	next, cmd := w.Model.Update(msg)
	m := next.(Model)
	select {
	case w.d.updates <- m:
	default:
		// full; a newer model follows
	}
	return recordingModel{Model: m, d: w.d}, cmd
}

func newDirector(t *testing.T, m Model) *director {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	d := &director{
		t:       t,
		ctx:     ctx,
		cancel:  cancel,
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
		updates: make(chan Model, 16),
		latest:  m,
	}
	go d.sync()

	d.program = tea.NewProgram(recordingModel{Model: m, d: d}, ProgramOptions(ctx, true, io.Discard)...)
	go func() {
		defer close(d.done)
		d.program.Run()
	}()
	t.Cleanup(d.stop)
	return d
}

func (d *director) sync() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case m := <-d.updates:
			d.mu.Lock()
			d.latest = m
			d.mu.Unlock()
		}
	}
}

func (d *director) model() Model {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.latest
}

// view returns the rendered panel without styling.
func (d *director) view() string {
	return ansi.Strip(d.model().View())
}

func (d *director) press(key string) *director {
	var msg tea.KeyMsg
	switch key {
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		msg = tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		msg = tea.KeyMsg{Type: tea.KeyLeft}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	d.program.Send(msg)
	return d
}

func (d *director) waitFor(what string, cond func(Model) bool) *director {
	d.t.Helper()
	timeout := time.After(d.timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			d.t.Fatalf("timeout waiting for %s; view:\n%s", what, d.view())
			return d
		case <-ticker.C:
			if cond(d.model()) {
				return d
			}
		}
	}
}

func (d *director) waitForText(text string) *director {
	d.t.Helper()
	return d.waitFor("text "+text, func(m Model) bool {
		return strings.Contains(ansi.Strip(m.View()), text)
	})
}

// finished reports whether the program exited on its own.
func (d *director) finished() bool {
	select {
	case <-d.done:
		return true
	case <-time.After(d.timeout):
		return false
	}
}

func (d *director) stop() {
	d.cancel()
	d.program.Quit()
	<-d.done
}
