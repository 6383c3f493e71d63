package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flagAutoAccept bool

var listenCmd = &cobra.Command{
	Use:     "listen",
	Aliases: []string{"l"},
	Short:   "Wait for incoming calls",
	Long: `Stay online and answer calls as they arrive. Each call is offered with an
accept/decline prompt; a call that arrives while another is active is declined
as busy.

Examples:
  huddle listen
  huddle listen --as bob --media synthetic --auto-accept`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listen(cmd)
	},
}

func init() {
	listenCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept", false, "answer every call without asking")
}

func listen(cmd *cobra.Command) error {
	ctx := cmd.Context()
	rt, err := NewRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctrl := rt.Controller()
	defer ctrl.Close()

	var result outcome
	ctrl.OnEvent(result.observe)

	// Listeners run on the controller loop, so invites are handed over here.
	invites := make(chan call.Invite, 1)
	ctrl.OnEvent(func(ev call.Event) {
		if ev.Kind != call.EventIncoming || ev.Invite == nil {
			return
		}
		select {
		case invites <- *ev.Invite:
		default:
		}
	})

	ui.PrintInfof("Online as %s. Waiting for calls (Ctrl+C to quit)", rt.Self.DisplayName())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.Signaling.Done():
			return errors.New("lost connection to the server")
		case inv := <-invites:
			result.reset()
			if err := answer(ctx, rt, ctrl, inv); err != nil {
				ui.PrintError(err.Error())
			}
			printOutcome(&result)
		}
	}
}

// answer prompts for inv and, when accepted, runs the call to completion.
func answer(ctx context.Context, rt *Runtime, ctrl *call.Controller, inv call.Invite) error {
	caller := inv.CallerName
	if caller == "" {
		caller = inv.CallerID
	}

	ans := ui.AnswerAccept
	if !flagAutoAccept {
		// The prompt goes away if the caller hangs up first.
		promptCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		off := ctrl.OnEvent(func(ev call.Event) {
			if ev.Kind == call.EventStateChanged && ev.Status != call.StatusRinging {
				cancel()
			}
		})
		defer off()

		var err error
		ans, err = ui.PromptIncoming(promptCtx, caller, string(inv.CallType))
		if err != nil {
			if ctx.Err() != nil {
				return ctrl.RejectCall()
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}

	if ans != ui.AnswerAccept {
		rt.Log.Info("declining call", zap.String("caller", inv.CallerID))
		return ctrl.RejectCall()
	}

	view := ui.NewCallView(ctrl, caller, inv.CallType)
	defer ctrl.OnEvent(view.Push)()
	if err := ctrl.AcceptCall(); err != nil {
		return fmt.Errorf("accept call: %w", err)
	}
	return runCallView(ctx, rt, ctrl, view)
}
