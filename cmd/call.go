package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/BioHazard786/Huddle/internal/call"
	"github.com/BioHazard786/Huddle/internal/errs"
	"github.com/BioHazard786/Huddle/internal/media"
	"github.com/BioHazard786/Huddle/internal/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	flagAudioOnly bool
	flagName      string
)

var callCmd = &cobra.Command{
	Use:     "call <channel> <user>",
	Aliases: []string{"c"},
	Short:   "Call a member of a direct-message channel",
	Long: `Ring a user in a channel and hold a voice or video call with them.

Examples:
  huddle call dm-7f3a u-42
  huddle call --audio dm-7f3a u-42
  huddle call --as alice --media synthetic --signaling-url ws://localhost:8080/ws dm-ab bob`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		callType := media.CallVideo
		if flagAudioOnly {
			callType = media.CallAudio
		}
		return placeCall(cmd, args[0], args[1], callType)
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagAudioOnly, "audio", false, "voice only, no camera")
	callCmd.Flags().StringVar(&flagName, "name", "", "display name of the user being called")
}

func placeCall(cmd *cobra.Command, channel, target string, callType media.CallType) error {
	rt, err := NewRuntime(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctrl := rt.Controller()
	defer ctrl.Close()

	name := flagName
	if name == "" {
		name = target
	}

	var result outcome
	view := ui.NewCallView(ctrl, name, callType)
	ctrl.OnEvent(result.observe)
	ctrl.OnEvent(view.Push)

	if err := ctrl.StartCall(channel, target, name, callType); err != nil {
		return err
	}
	if err := runCallView(cmd.Context(), rt, ctrl, view); err != nil {
		return err
	}

	printOutcome(&result)
	return nil
}

// runCallView shows view until the call ends. An interrupt or a closed
// signaling connection hangs up.
func runCallView(ctx context.Context, rt *Runtime, ctrl *call.Controller, view *ui.CallView) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	rt.ServeMetrics(gctx, g)

	g.Go(func() error {
		defer cancel()
		return view.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := ctrl.EndCall(); err != nil && !errors.Is(err, errs.ErrNoActiveCall) {
			rt.Log.Debug("hang up", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

func printOutcome(o *outcome) {
	s, ok := o.summary()
	if !ok {
		return
	}
	fmt.Println()
	ui.RenderCallSummary(s)
}
