package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/nanoem-plugin-wasm/uilayout"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	indexStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var tuiCmd = &cobra.Command{
	Use:   "tui <dir>",
	Short: "Pick and run functions interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("tui needs a terminal, use list and run instead")
		}
		req, err := buildRequest()
		if err != nil {
			return err
		}
		m := newInteractiveModel(cmd.Context(), args[0], runFlags.input, req, func(ctx context.Context) (*session, error) {
			// Plugin output would corrupt the alternate screen.
			return openSession(ctx, args[0], sessionOptions{kind: kind})
		})
		final, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
		if err != nil {
			return err
		}
		if fm, ok := final.(*interactiveModel); ok && fm.loadErr != nil {
			return fm.loadErr
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tuiCmd)

	f := tuiCmd.Flags()
	f.StringVarP(&runFlags.input, "input", "i", "", "Input model or motion file")
	f.StringVar(&runFlags.activeModel, "active-model", "", "Active model file (motion plugins)")
	f.StringVarP(&runFlags.language, "language", "l", "en", "Language of plugin strings (en, ja)")
}

type modelState int

const (
	stateSelectFunc modelState = iota
	stateShowResult
	stateShowLayout
	stateEditInput
)

type interactiveModel struct {
	ctx      context.Context
	open     func(context.Context) (*session, error)
	session  *session
	loadErr  error
	err      error
	res      *result
	layout   *uilayout.Window
	dir      string
	funcs    []function
	req      request
	input    textinput.Model
	inputArg string
	selected int
	state    modelState
}

type loadedMsg struct {
	err     error
	session *session
	funcs   []function
}

type callResultMsg struct {
	err error
	res *result
}

type layoutMsg struct {
	err    error
	res    *result
	layout *uilayout.Window
}

func newInteractiveModel(ctx context.Context, dir, input string, req request, open func(context.Context) (*session, error)) *interactiveModel {
	return &interactiveModel{
		ctx:      ctx,
		open:     open,
		dir:      dir,
		req:      req,
		inputArg: input,
		state:    stateSelectFunc,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.loadPlugins
}

func (m *interactiveModel) loadPlugins() tea.Msg {
	s, err := m.open(m.ctx)
	if err != nil {
		return loadedMsg{err: err}
	}
	return loadedMsg{session: s, funcs: s.functions(m.ctx)}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.close()
			return m, tea.Quit

		case "q":
			if m.state != stateEditInput {
				m.close()
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			switch m.state {
			case stateSelectFunc:
				if len(m.funcs) > 0 {
					return m, m.callFunction
				}
			case stateEditInput:
				m.applyInput()
				return m, nil
			default:
				m.reset()
			}

		case "l":
			if m.state == stateSelectFunc && len(m.funcs) > 0 {
				return m, m.loadLayout
			}

		case "i":
			if m.state == stateSelectFunc {
				m.editInput()
				return m, textinput.Blink
			}

		case "esc":
			m.reset()
		}

	case loadedMsg:
		if msg.err != nil {
			m.loadErr = msg.err
			return m, tea.Quit
		}
		m.session = msg.session
		m.funcs = msg.funcs

	case callResultMsg:
		m.err = msg.err
		m.res = msg.res
		m.state = stateShowResult

	case layoutMsg:
		m.err = msg.err
		m.res = msg.res
		m.layout = msg.layout
		m.state = stateShowLayout
	}

	if m.state == stateEditInput {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) editInput() {
	ti := textinput.New()
	ti.Placeholder = "path to input data"
	ti.Prompt = "input: "
	ti.Width = 60
	ti.SetValue(m.inputArg)
	ti.Focus()
	m.input = ti
	m.err = nil
	m.state = stateEditInput
}

func (m *interactiveModel) applyInput() {
	path := strings.TrimSpace(m.input.Value())
	data, err := readOptional(path)
	if err != nil {
		m.err = err
		return
	}
	m.inputArg = path
	m.req.input = data
	m.reset()
}

func (m *interactiveModel) reset() {
	m.state = stateSelectFunc
	m.err = nil
	m.res = nil
	m.layout = nil
}

func (m *interactiveModel) close() {
	if m.session != nil {
		m.session.Close(context.Background())
		m.session = nil
	}
}

func (m *interactiveModel) callFunction() tea.Msg {
	req := m.req
	req.function = m.funcs[m.selected].index
	res, err := m.session.run(m.ctx, req)
	return callResultMsg{res: res, err: err}
}

func (m *interactiveModel) loadLayout() tea.Msg {
	w, res, err := m.session.layout(m.ctx, m.funcs[m.selected].index)
	return layoutMsg{layout: w, res: res, err: err}
}

func (m *interactiveModel) View() string {
	if m.loadErr != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.loadErr))
	}
	if m.session == nil {
		return "Loading plugins..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("nanoem plugins"))
	b.WriteString(" ")
	b.WriteString(m.dir)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("No functions.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a function to execute:\n\n")
		for i, f := range m.funcs {
			line := indexStyle.Render(fmt.Sprintf("%3d ", f.index)) + funcStyle.Render(f.name)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + fmt.Sprintf("%3d ", f.index) + f.name))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString("\n")
		if m.inputArg != "" {
			b.WriteString(fmt.Sprintf("input: %s (%d bytes)\n", m.inputArg, len(m.req.input)))
		}
		b.WriteString(helpStyle.Render("↑/↓ select • enter execute • l layout • i input • q quit"))

	case stateEditInput:
		b.WriteString("Input data for the next execution:\n\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter load • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.name)))
		switch {
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		case m.res.err() != nil:
			b.WriteString(errorStyle.Render(m.res.err().Error()))
		default:
			b.WriteString(resultStyle.Render(fmt.Sprintf("%d bytes of output data", len(m.res.output))))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))

	case stateShowLayout:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Layout of %s:\n\n", funcStyle.Render(f.name)))
		switch {
		case m.err != nil:
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		case m.res != nil:
			b.WriteString(errorStyle.Render(m.res.err().Error()))
		default:
			var lb strings.Builder
			printLayout(&lb, m.layout)
			b.WriteString(resultStyle.Render(lb.String()))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}
