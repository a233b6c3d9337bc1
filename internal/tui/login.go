package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/soumadip-dev/VedaCLI/internal/auth"
)

// CodeMsg carries the device code once the server issued it.
type CodeMsg struct {
	Code auth.DeviceCodeResponse
}

// PollMsg is sent before each wait of the poll loop.
type PollMsg struct {
	Attempt  int
	Interval time.Duration
}

// SlowDownMsg is sent when the server asked for a longer polling interval.
type SlowDownMsg struct {
	Interval time.Duration
}

// DoneMsg ends the login screen.
type DoneMsg struct {
	Result auth.LoginResult
	Err    error
}

const separator = "────────────────────────────────────────────────────────────\n"

var (
	codeStyle = lipgloss.NewStyle().Bold(true)
	boxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 2)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// LoginModel renders a device login in progress. It only displays what it is sent;
// the login itself runs elsewhere and is stopped through cancel.
type LoginModel struct {
	serverURL  string
	cancel     context.CancelFunc
	code       auth.DeviceCodeResponse
	attempt    int
	interval   time.Duration
	slowDowns  int
	cancelling bool
	done       bool
	result     auth.LoginResult
	err        error
}

// NewLoginModel creates the login screen for serverURL. cancel aborts the running login.
func NewLoginModel(serverURL string, cancel context.CancelFunc) LoginModel {
	return LoginModel{serverURL: serverURL, cancel: cancel}
}

func (m LoginModel) Init() tea.Cmd {
	return nil
}

func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case CodeMsg:
		m.code = msg.Code
		m.interval = time.Duration(msg.Code.Interval) * time.Second

	case PollMsg:
		m.attempt = msg.Attempt
		m.interval = msg.Interval

	case SlowDownMsg:
		m.slowDowns++
		m.interval = msg.Interval

	case DoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.done {
				return m, tea.Quit
			}
			if !m.cancelling && m.cancel != nil {
				m.cancelling = true
				m.cancel()
			}
		}
	}
	return m, nil
}

func (m LoginModel) View() string {
	header := " veda · Device Login\n"

	if m.done {
		return header + separator + m.renderOutcome() + separator
	}

	var body string
	if m.code.UserCode == "" {
		body = fmt.Sprintf("\n Requesting a device code from %s...\n\n", m.serverURL)
	} else {
		lines := []string{
			"Visit:  " + m.code.VerificationURI,
			"Code:   " + codeStyle.Render(m.code.UserCode),
		}
		if m.code.VerificationURIComplete != "" {
			lines = append(lines, "", dimStyle.Render("or open "+m.code.VerificationURIComplete))
		}
		body = "\n" + boxStyle.Render(strings.Join(lines, "\n")) + "\n\n"
		if m.code.ExpiresIn > 0 {
			body += fmt.Sprintf(" The code expires in %d minutes.\n", m.code.ExpiresInMinutes())
		}
		switch {
		case m.cancelling:
			body += " Cancelling...\n"
		case m.attempt > 0:
			body += fmt.Sprintf(" Waiting for authorization (check %d, every %s)...\n", m.attempt, m.interval)
		default:
			body += " Waiting for authorization...\n"
		}
		if m.slowDowns > 0 {
			body += fmt.Sprintf(" The server asked us to slow down; polling every %s.\n", m.interval)
		}
		body += "\n"
	}

	footer := " q/ctrl+c: cancel\n"
	return header + separator + body + separator + footer
}

func (m LoginModel) renderOutcome() string {
	if m.err == nil {
		msg := "\n Authentication successful.\n"
		if !m.result.Record.ExpiresAt.IsZero() {
			msg += fmt.Sprintf(" Signed in until %s.\n", m.result.Record.ExpiresAt.Local().Format(time.RFC1123))
		}
		return msg + "\n"
	}
	if errors.Is(m.err, context.Canceled) {
		return "\n Login cancelled.\n\n"
	}
	switch auth.StateOf(m.err) {
	case auth.StateDenied:
		return "\n Authorization was denied.\n\n"
	case auth.StateExpired:
		return "\n The device code expired. Run `veda login` again.\n\n"
	default:
		return fmt.Sprintf("\n Login failed: %v\n\n", m.err)
	}
}

// Sender delivers messages to a running program. *tea.Program implements it.
type Sender interface {
	Send(msg tea.Msg)
}

// ProgramNotifier forwards login events to a running program.
type ProgramNotifier struct {
	s Sender
}

var _ auth.Notifier = (*ProgramNotifier)(nil)

// NewProgramNotifier creates a ProgramNotifier sending to s.
func NewProgramNotifier(s Sender) *ProgramNotifier {
	return &ProgramNotifier{s: s}
}

func (n *ProgramNotifier) DeviceCode(code auth.DeviceCodeResponse) {
	n.s.Send(CodeMsg{Code: code})
}

func (n *ProgramNotifier) Polling(attempt int, interval time.Duration) {
	n.s.Send(PollMsg{Attempt: attempt, Interval: interval})
}

func (n *ProgramNotifier) SlowDown(interval time.Duration) {
	n.s.Send(SlowDownMsg{Interval: interval})
}

// LoginFunc performs a login, reporting progress to n.
type LoginFunc func(ctx context.Context, n auth.Notifier) (auth.LoginResult, error)

type loginOutcome struct {
	result auth.LoginResult
	err    error
}

// RunLogin shows the login screen on stderr while fn runs.
// Quitting the screen cancels the context passed to fn; RunLogin always waits for fn to return.
func RunLogin(ctx context.Context, serverURL string, fn LoginFunc, opts ...tea.ProgramOption) (auth.LoginResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithOutput(os.Stderr)}, opts...)
	p := tea.NewProgram(NewLoginModel(serverURL, cancel), opts...)

	outcome := make(chan loginOutcome, 1)
	go func() {
		res, err := fn(ctx, NewProgramNotifier(p))
		outcome <- loginOutcome{result: res, err: err}
		p.Send(DoneMsg{Result: res, Err: err})
	}()

	if _, runErr := p.Run(); runErr != nil {
		cancel()
		out := <-outcome
		// Canceled here is our own cancel above, not the user's.
		if out.err != nil && !errors.Is(out.err, context.Canceled) {
			return out.result, out.err
		}
		return out.result, fmt.Errorf("running login screen: %w", runErr)
	}
	out := <-outcome
	return out.result, out.err
}
