package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// CallControls is what the call screen may ask of the controller.
type CallControls interface {
	ToggleAudio() (bool, error)
	ToggleVideo() (bool, error)
	EndCall() error
}

// CallView is the live screen shown while a call is set up and running.
type CallView struct {
	model   *callModel
	updates chan tea.Msg
	program *tea.Program
}

type tickMsg time.Time

type eventMsg call.Event

type toggledMsg struct {
	kind    media.Kind
	enabled bool
	err     error
}

type hungUpMsg struct{ err error }

type callModel struct {
	ctrl        CallControls
	counterpart string
	callType    media.CallType
	updates     chan tea.Msg
	spinner     spinner.Model
	now         func() time.Time

	status      call.Status
	since       time.Time
	audioOn     bool
	videoOn     bool
	remoteAudio bool
	remoteVideo bool
	tracks      []string
	lastErr     string
	done        bool
}

// NewCallView prepares the screen for a call with counterpart.
func NewCallView(ctrl CallControls, counterpart string, callType media.CallType) *CallView {
	updates := make(chan tea.Msg, 64)
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &CallView{
		updates: updates,
		model: &callModel{
			ctrl:        ctrl,
			counterpart: counterpart,
			callType:    callType,
			updates:     updates,
			spinner:     s,
			now:         time.Now,
			audioOn:     true,
			videoOn:     callType == media.CallVideo,
		},
	}
}

// Push hands a controller event to the screen. It never blocks, so it is
// safe to call from a controller listener.
func (v *CallView) Push(ev call.Event) {
	select {
	case v.updates <- eventMsg(ev):
	default:
	}
}

// Run shows the screen until the call returns to idle or the user hangs up.
func (v *CallView) Run() error {
	v.program = tea.NewProgram(v.model)
	_, err := v.program.Run()
	return err
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *callModel) listen() tea.Cmd {
	return func() tea.Msg { return <-m.updates }
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "m":
			return m, m.toggle(media.KindAudio, m.ctrl.ToggleAudio)
		case "v":
			if m.callType == media.CallVideo {
				return m, m.toggle(media.KindVideo, m.ctrl.ToggleVideo)
			}
		case "q", "ctrl+c":
			return m, func() tea.Msg { return hungUpMsg{err: m.ctrl.EndCall()} }
		}

	case toggledMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		if msg.kind == media.KindAudio {
			m.audioOn = msg.enabled
		} else {
			m.videoOn = msg.enabled
		}

	case hungUpMsg:
		m.done = true
		return m, tea.Quit

	case eventMsg:
		if m.apply(call.Event(msg)) {
			m.done = true
			return m, tea.Quit
		}
		return m, m.listen()

	case tickMsg:
		if !m.done {
			return m, tick()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *callModel) toggle(kind media.Kind, fn func() (bool, error)) tea.Cmd {
	return func() tea.Msg {
		enabled, err := fn()
		return toggledMsg{kind: kind, enabled: enabled, err: err}
	}
}

// apply folds ev into the model and reports whether the call is over.
func (m *callModel) apply(ev call.Event) bool {
	switch ev.Kind {
	case call.EventStateChanged:
		m.status = ev.Status
		if ev.Status == call.StatusConnected && m.since.IsZero() {
			m.since = m.now()
		}
		return ev.Status == call.StatusIdle
	case call.EventRemoteStream:
		m.tracks = append(m.tracks, fmt.Sprintf("%s/%s", ev.Track.Kind, ev.Track.Codec))
		if ev.Track.Kind == string(media.KindVideo) {
			m.remoteVideo = true
		} else {
			m.remoteAudio = true
		}
	case call.EventRemoteToggle:
		if ev.Toggle.Kind == media.KindAudio {
			m.remoteAudio = ev.Toggle.Enabled
		} else {
			m.remoteVideo = ev.Toggle.Enabled
		}
	}
	return false
}

func (m *callModel) View() string {
	if m.done {
		return ""
	}
	var b strings.Builder

	icon := IconPhone
	if m.callType == media.CallVideo {
		icon = IconVideo
	}
	fmt.Fprintf(&b, "%s %s  %s\n\n", icon, BoldStyle.Render(m.counterpart), StatusStyle.Render(string(m.status)))

	switch m.status {
	case call.StatusConnected:
		elapsed := time.Duration(0)
		if !m.since.IsZero() {
			elapsed = m.now().Sub(m.since)
		}
		fmt.Fprintf(&b, "%s %s\n", IconTime, FormatDuration(elapsed))
	default:
		fmt.Fprintf(&b, "%s %s\n", m.spinner.View(), MutedStyle.Render("setting up..."))
	}

	fmt.Fprintf(&b, "\nYou:   %s", flag(IconMic, m.audioOn))
	if m.callType == media.CallVideo {
		fmt.Fprintf(&b, " %s", flag(IconVideo, m.videoOn))
	}
	fmt.Fprintf(&b, "\nThem:  %s", flag(IconMic, m.remoteAudio))
	if m.callType == media.CallVideo {
		fmt.Fprintf(&b, " %s", flag(IconVideo, m.remoteVideo))
	}
	if len(m.tracks) > 0 {
		fmt.Fprintf(&b, "  %s", MutedStyle.Render(strings.Join(m.tracks, ", ")))
	}
	b.WriteString("\n")

	if m.lastErr != "" {
		fmt.Fprintf(&b, "\n%s\n", ErrorStyle.Render(m.lastErr))
	}

	keys := "[m] mute   [q] hang up"
	if m.callType == media.CallVideo {
		keys = "[m] mute   [v] camera   [q] hang up"
	}
	return BoxStyle.Render(b.String()) + "\n" + FooterStyle.Render(keys) + "\n"
}

func flag(icon string, on bool) string {
	if on {
		return OnStyle.Render(icon + " on")
	}
	return OffStyle.Render(icon + " off")
}

// DescribeNotice turns a call notice into a sentence for the user.
func DescribeNotice(n call.Notice) string {
	var s string
	switch n.Reason {
	case call.ReasonRejected:
		s = "The call was declined"
	case call.ReasonRemoteEnded:
		s = "The other side hung up"
	case call.ReasonCancelled:
		s = "The caller hung up"
	case call.ReasonMediaFailed:
		s = "Could not access your microphone or camera"
	case call.ReasonNegotiationFailed:
		s = "Could not establish a connection"
	case call.ReasonSessionLost:
		s = "The connection was lost"
	case call.ReasonSignalingLost:
		s = "Lost connection to the server"
	default:
		s = "The call ended"
	}
	if n.Err != nil {
		s += ": " + n.Err.Error()
	}
	return s
}
