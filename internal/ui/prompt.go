package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// Answer is the user's reply to an incoming call.
type Answer int

const (
	AnswerNone Answer = iota
	AnswerAccept
	AnswerDecline
)

type incomingModel struct {
	caller   string
	callType string
	answer   Answer
	spinner  spinner.Model
}

func newIncomingModel(caller, callType string) *incomingModel {
	s := spinner.New()
	s.Spinner = spinner.Pulse
	s.Style = SpinnerStyle
	return &incomingModel{caller: caller, callType: callType, spinner: s}
}

func (m *incomingModel) Init() tea.Cmd { return m.spinner.Tick }

func (m *incomingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch strings.ToLower(msg.String()) {
		case "y", "a", "enter":
			m.answer = AnswerAccept
			return m, tea.Quit
		case "n", "d", "esc", "ctrl+c":
			m.answer = AnswerDecline
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *incomingModel) View() string {
	if m.answer != AnswerNone {
		return ""
	}
	icon := IconPhone
	if m.callType == "video" {
		icon = IconVideo
	}
	body := fmt.Sprintf("%s %s Incoming %s call from %s\n\n%s",
		m.spinner.View(), icon, m.callType, BoldStyle.Render(m.caller),
		MutedStyle.Render("[y] accept   [n] decline"))
	return RingingBoxStyle.Render(body) + "\n"
}

// PromptIncoming asks the user to accept or decline a call. It returns
// AnswerNone with ctx's error when ctx ends first, e.g. the caller hung up.
func PromptIncoming(ctx context.Context, caller, callType string) (Answer, error) {
	m := newIncomingModel(caller, callType)
	p := tea.NewProgram(m, tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return AnswerNone, ctx.Err()
		}
		return AnswerNone, err
	}
	return m.answer, nil
}
