package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/spf13/cobra"
)

var flagCallAudio bool

var callCmd = &cobra.Command{
	Use:   "call <peer-id>",
	Short: "Call one peer directly",
	Long: `Call one peer outside any room. Lines typed on stdin are sent as chat
once connected; /hangup or /quit ends the call.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := domain.ParsePeerID(args[0])
		if err != nil {
			return err
		}
		return runCall(cmd, target)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for a call and answer it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCall(cmd, "")
	},
}

func init() {
	callCmd.Flags().BoolVar(&flagCallAudio, "audio", false, "send a silent audio track")
	waitCmd.Flags().BoolVar(&flagCallAudio, "audio", false, "send a silent audio track")
}

// runCall dials target, or waits and auto-answers when target is empty.
// It returns once a call that got going is back to idle.
func runCall(cmd *cobra.Command, target domain.PeerID) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newPeerRuntime(cmd, "", false)
	if err != nil {
		return err
	}

	ended := make(chan struct{}, 1)
	var call *negotiation.Call
	var last negotiation.CallState
	started := false
	call = negotiation.NewCall(negotiation.CallOptions{
		Self:        domain.PeerID(rt.self),
		Channel:     rt.client,
		Transports:  rt.factory,
		Media:       source(flagCallAudio),
		DataChannel: rt.cfg.DataChannel,
		Poster:      rt.loop,
		OnChange: func(s negotiation.CallSnapshot) {
			if s.State == last {
				return
			}
			last = s.State
			switch s.State {
			case negotiation.CallRinging:
				rt.out.info("incoming call from %s", s.Target)
				if target == "" {
					rt.loop.Post(func() {
						if err := call.Answer(); err != nil {
							rt.out.err(err)
						}
					})
				}
			case negotiation.CallCalling:
				started = true
				rt.out.info("calling %s", s.Target)
			case negotiation.CallConnected:
				started = true
				rt.out.ok("connected to %s as %s", s.Target, s.Role)
			case negotiation.CallIdle, negotiation.CallEnded:
				if s.Err != nil {
					rt.out.err(s.Err)
				}
				if started {
					rt.out.info("call ended")
					started = false
					select {
					case ended <- struct{}{}:
					default:
					}
				}
			}
		},
		OnData: func(from domain.PeerID, data []byte) { rt.onData(string(from), data) },
	})

	rt.start(ctx, call.HandleEvent)
	defer func() {
		_ = rt.do(context.Background(), call.HangUp)
		_ = rt.client.Close()
	}()

	if target != "" {
		var callErr error
		if err := rt.do(ctx, func() { callErr = call.Call(target) }); err != nil {
			return err
		}
		if callErr != nil {
			return callErr
		}
	} else {
		rt.out.ok("waiting for a call as %s", rt.self)
	}

	lines := readCommands(ctx, os.Stdin, rt.out.err)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ended:
			if target != "" {
				return nil
			}
			rt.out.ok("waiting for a call as %s", rt.self)
		case <-rt.client.Done():
			return nil
		case c, ok := <-lines:
			if !ok || c.name == "quit" || c.name == "hangup" {
				return nil
			}
			if c.name == "say" {
				rt.chat(ctx, c.arg, call.SendData)
			}
		}
	}
}
