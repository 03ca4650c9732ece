package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/dkeye/meshcall/internal/speaker"
	"github.com/spf13/cobra"
)

var (
	flagJoinHost  bool
	flagJoinAudio bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and keep a session with every other member",
	Long: `Join a room as a full mesh peer. Lines typed on stdin are sent as chat
over the data channels. Commands:

  /roster            list participants
  /relay <text>      chat through the relay instead of the mesh
  /hand, /lower      raise or lower your hand
  /name <name>       change display name
  /admit <id>        admit a waiting peer (host)
  /reject <id>       reject a waiting peer (host)
  /handoff <id>      pass the host role
  /quit              leave`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, err := domain.ParseRoomName(args[0])
		if err != nil {
			return err
		}
		return runJoin(cmd, room)
	},
}

func init() {
	f := joinCmd.Flags()
	f.BoolVar(&flagJoinHost, "host", false, "join as the room host")
	f.BoolVar(&flagJoinAudio, "audio", false, "send a silent audio track")
	f.Bool("waiting-room", false, "gate non-hosts behind host admission")
	f.Bool("host-controls", false, "enable host handoff")
	f.Bool("active-speaker", false, "report the active speaker")
}

func runJoin(cmd *cobra.Command, room domain.RoomName) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newPeerRuntime(cmd, string(room), flagJoinHost)
	if err != nil {
		return err
	}
	cfg := rt.cfg

	lastRoster := -1
	var lastActive domain.PeerID
	var lastErr error
	mesh := negotiation.NewMesh(negotiation.MeshOptions{
		Self: domain.PeerID(rt.self),
		Room: room,
		Host: flagJoinHost,
		Features: negotiation.Features{
			DataChannel:   cfg.DataChannel,
			WaitingRoom:   cfg.WaitingRoom,
			HostControls:  cfg.HostControls,
			ActiveSpeaker: cfg.ActiveSpeaker,
		},
		Channel:    rt.client,
		Transports: rt.factory,
		Media:      source(flagJoinAudio),
		Poster:     rt.loop,
		Speaker:    speaker.DefaultConfig(),
		OnChange: func(s negotiation.MeshSnapshot) {
			if n := len(s.Room.Roster); n != lastRoster {
				lastRoster = n
				rt.out.roster(s.Participants())
			}
			if s.Room.Active != lastActive {
				lastActive = s.Room.Active
				if lastActive != "" {
					rt.out.info("%s is speaking", lastActive)
				}
			}
			if s.Err != nil && s.Err != lastErr {
				lastErr = s.Err
				rt.out.err(s.Err)
			}
		},
		OnData: func(from domain.PeerID, data []byte) { rt.onData(string(from), data) },
		OnBroadcast: func(from domain.PeerID, data json.RawMessage) {
			var text string
			if json.Unmarshal(data, &text) != nil {
				text = string(data)
			}
			rt.out.chat(string(from)+" (relay)", text)
		},
	})

	rt.out.ok("joining %s as %s", room, rt.self)
	rt.start(ctx, mesh.Handle)
	go mesh.RunSpeaker(ctx)
	defer func() {
		_ = rt.do(context.Background(), mesh.Leave)
		_ = rt.client.Close()
	}()

	lines := readCommands(ctx, os.Stdin, rt.out.err)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-rt.client.Done():
			return nil
		case c, ok := <-lines:
			if !ok || c.name == "quit" {
				return nil
			}
			if err := meshCommand(ctx, rt, mesh, c); err != nil {
				rt.out.err(err)
			}
		}
	}
}

func meshCommand(ctx context.Context, rt *peerRuntime, mesh *negotiation.Mesh, c command) error {
	if c.name == "say" {
		rt.chat(ctx, c.arg, mesh.BroadcastData)
		return nil
	}
	if c.name == "roster" {
		rt.out.roster(mesh.Snapshot().Participants())
		return nil
	}

	var run func() error
	switch c.name {
	case "relay":
		run = func() error { return mesh.Broadcast(c.arg) }
	case "hand":
		run = mesh.RaiseHand
	case "lower":
		run = mesh.LowerHand
	case "name":
		run = func() error { return mesh.SetDisplayName(c.arg) }
	case "admit":
		run = func() error { return mesh.Admit(domain.PeerID(c.arg)) }
	case "reject":
		run = func() error { return mesh.Reject(domain.PeerID(c.arg)) }
	case "handoff":
		run = func() error { return mesh.HandoffHost(domain.PeerID(c.arg)) }
	default:
		return fmt.Errorf("unknown command /%s", c.name)
	}
	var cmdErr error
	if err := rt.do(ctx, func() { cmdErr = run() }); err != nil {
		return err
	}
	return cmdErr
}
