package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BioHazard786/Huddle/internal/messaging"
	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat <channel>",
	Short: "Follow a channel's live messages",
	Long: `Join a channel's live message stream. Lines typed on stdin are sent as
messages; a few slash commands act on existing ones:

  /edit <id> <text>   change one of your messages
  /delete <id>        remove one of your messages
  /read <id>          mark a message as read
  /quit               leave the channel

Message ids may be shortened to any unique prefix.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return chat(cmd, args[0])
	},
}

func chat(cmd *cobra.Command, channel string) error {
	ctx := cmd.Context()
	rt, err := NewRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	bridge := messaging.NewBridge(messaging.Options{
		Self:          rt.Self,
		Signaler:      rt.Signaling,
		TypingTimeout: rt.Config.TypingTimeout,
		Metrics:       rt.Metrics,
		Logger:        rt.Log,
	})
	defer bridge.Close()

	room, err := bridge.Join(channel, nil)
	if err != nil {
		return err
	}
	room.OnChange(func(c messaging.Change) { printChange(room, c) })

	ui.PrintInfof("Joined %s as %s. Type a message and press Enter", channel, rt.Self.DisplayName())

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-rt.Signaling.Done():
			return errors.New("lost connection to the server")
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				break loop
			}
			if err := handleLine(room, line); err != nil {
				ui.PrintError(err.Error())
			}
		}
	}

	fmt.Println()
	fmt.Println(ui.TranscriptView(transcript(room.Messages())))
	return nil
}

func handleLine(room *messaging.Room, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := room.Send(messaging.Message{Content: line})
		return err
	}

	verb, rest, _ := strings.Cut(line, " ")
	prefix, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
	id, err := lookup(room, prefix)
	if err != nil {
		return err
	}

	switch verb {
	case "/edit":
		if strings.TrimSpace(text) == "" {
			return errors.New("usage: /edit <id> <text>")
		}
		_, err = room.Edit(id, text)
	case "/delete":
		err = room.Delete(id)
	case "/read":
		err = room.MarkRead(id)
	default:
		err = fmt.Errorf("unknown command %s", verb)
	}
	return err
}

// lookup resolves a unique message id prefix.
func lookup(room *messaging.Room, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.New("message id required")
	}
	var found string
	for _, m := range room.Messages() {
		if strings.HasPrefix(m.ID, prefix) {
			if found != "" {
				return "", fmt.Errorf("message id %q is ambiguous", prefix)
			}
			found = m.ID
		}
	}
	if found == "" {
		return "", fmt.Errorf("no message with id %q", prefix)
	}
	return found, nil
}

func printChange(room *messaging.Room, c messaging.Change) {
	if c.Kind == messaging.ChangeTyping {
		if typists := room.Typists(); len(typists) > 0 {
			fmt.Println(ui.MutedStyle.Render(ui.IconTyping + " " + strings.Join(typists, ", ") + " typing..."))
		}
		return
	}

	var msg *messaging.Message
	for _, m := range room.Messages() {
		if m.ID == c.MessageID {
			msg = &m
			break
		}
	}
	if msg == nil {
		return
	}

	switch c.Event {
	case messaging.OnNewMessage:
		fmt.Printf("%s %s %s: %s\n", ui.MutedStyle.Render(shortID(msg.ID)), msg.SentAt.Local().Format("15:04"),
			ui.BoldStyle.Render(senderName(*msg)), msg.Content)
	case messaging.OnMessageUpdated:
		fmt.Printf("%s %s edited: %s\n", ui.MutedStyle.Render(shortID(msg.ID)), senderName(*msg), msg.Content)
	case messaging.OnMessageRemoved:
		fmt.Println(ui.MutedStyle.Render(shortID(msg.ID) + " message deleted"))
	}
}

func transcript(ms []messaging.Message) []ui.ChatLine {
	lines := make([]ui.ChatLine, 0, len(ms))
	for _, m := range ms {
		lines = append(lines, ui.ChatLine{
			At:      m.SentAt,
			From:    senderName(m),
			Content: m.Content,
			Edited:  m.UpdatedAt != nil,
			Deleted: m.Deleted,
			Readers: len(m.ReadBy),
		})
	}
	return lines
}

func senderName(m messaging.Message) string {
	if m.Sender != nil {
		return m.Sender.DisplayName()
	}
	return m.SenderID
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
