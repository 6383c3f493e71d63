package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
)

// CallSummary is what the CLI prints after a call returns to idle.
type CallSummary struct {
	Counterpart string
	CallType    string
	Role        string
	Duration    time.Duration
	Outcome     string
}

// CallSummaryView renders the summary as a rounded go-pretty table.
func CallSummaryView(s CallSummary) string {
	t := table.NewWriter()
	t.SetTitle(IconPhone + " Call Summary")
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"With", s.Counterpart},
		{"Type", s.CallType},
		{"Role", s.Role},
		{"Duration", FormatDuration(s.Duration)},
		{"Outcome", s.Outcome},
	})
	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}

// ChatLine is one row of a channel transcript.
type ChatLine struct {
	At      time.Time
	From    string
	Content string
	Edited  bool
	Deleted bool
	Readers int
}

// TranscriptView renders chat lines with lipgloss/table.
func TranscriptView(lines []ChatLine) string {
	if len(lines) == 0 {
		return MutedStyle.Render("No messages yet")
	}

	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		content := truncate(l.Content, 60)
		switch {
		case l.Deleted:
			content = "This message was deleted"
		case l.Edited:
			content += " (edited)"
		}
		read := ""
		if l.Readers > 0 {
			read = fmt.Sprintf("%d", l.Readers)
		}
		rows = append(rows, []string{l.At.Local().Format("15:04"), truncate(l.From, 16), content, read})
	}

	tbl := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Time", "From", "Message", "Read").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

// FormatDuration renders d as m:ss, or h:mm:ss for long calls.
func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
