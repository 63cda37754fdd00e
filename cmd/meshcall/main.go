// meshcall is a headless call participant: it joins a room on a
// signaling server, negotiates a peer link with every other member and
// keeps the call up until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anmol0706/VC/internal/core/domain"
	"github.com/anmol0706/VC/internal/engine"
	"github.com/anmol0706/VC/pkg/logger"
	"github.com/anmol0706/VC/pkg/utils"
	"github.com/anmol0706/VC/pkg/validation"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
)

var (
	serverURL string
	roomID    string
	identity  string
	name      string
	stunURL   string
	logLevel  string
)

func main() {
	root := &cobra.Command{
		Use:          "meshcall",
		Short:        "Mesh video call client",
		SilenceUsage: true,
	}

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and negotiate with every participant",
		RunE:  runJoin,
	}
	joinCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "signaling server websocket URL")
	joinCmd.Flags().StringVar(&roomID, "room", "", "room to join (required)")
	joinCmd.Flags().StringVar(&identity, "id", "", "participant identity (generated if empty)")
	joinCmd.Flags().StringVar(&name, "name", "", "display name")
	joinCmd.Flags().StringVar(&stunURL, "stun", "stun:stun.l.google.com:19302", "STUN server URL")
	joinCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	joinCmd.MarkFlagRequired("room")

	root.AddCommand(joinCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runJoin(cmd *cobra.Command, args []string) error {
	if identity == "" {
		identity = utils.GenerateIdentity()
	}
	if err := validation.ValidateRoomID(roomID); err != nil {
		return err
	}
	if err := validation.ValidateIdentity(identity); err != nil {
		return err
	}
	if err := validation.ValidateDisplayName(name); err != nil {
		return err
	}

	zapLogger := logger.New(logLevel)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := engine.Dial(dialCtx, serverURL, zapLogger)
	if err != nil {
		return err
	}
	defer client.Close()

	media, err := engine.NewLocalMedia(identity)
	if err != nil {
		return fmt.Errorf("create local media: %w", err)
	}

	iceServers := []webrtc.ICEServer{{URLs: []string{stunURL}}}

	eng := engine.New(domain.Identity(identity), client, media, iceServers, zapLogger)
	eng.OnLinkState = func(remote domain.Identity, state engine.LinkState) {
		log.Infow("peer link state", "remote", remote, "state", state)
	}
	eng.OnTrack = func(remote domain.Identity, track *webrtc.TrackRemote) {
		log.Infow("receiving remote track", "remote", remote, "kind", track.Kind())
	}
	go eng.Run()

	if err := client.JoinRoom(domain.RoomID(roomID), domain.Identity(identity), name); err != nil {
		eng.Shutdown()
		return err
	}
	log.Infow("joining room", "room", roomID, "identity", identity)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			log.Infow("leaving call", "signal", sig)
			if err := client.LeaveRoom(); err != nil {
				log.Warnw("failed to announce departure", "error", err)
			}
			eng.Shutdown()
			return nil
		case env, ok := <-client.Incoming():
			if !ok {
				log.Warn("signaling connection lost")
				eng.Shutdown()
				return fmt.Errorf("signaling connection closed")
			}
			eng.HandleEnvelope(env)
		}
	}
}
