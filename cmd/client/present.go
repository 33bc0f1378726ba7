package main

import (
	"context"
	"errors"
	"fmt"
	"net"

	"studyroom/internal/client"
	webrtcinfra "studyroom/internal/infrastructure/webrtc"

	"github.com/spf13/cobra"
)

var flagRTPListen string

var presentCmd = &cobra.Command{
	Use:     "present",
	Aliases: []string{"p"},
	Short:   "Share an RTP video feed with the room",
	Long: `Present reads VP8 RTP packets from a local UDP port and shares them with
every viewer who asks. Feed it with any encoder, for example:

  ffmpeg -f x11grab -i :0.0 -c:v libvpx -deadline realtime -f rtp rtp://127.0.0.1:5004`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return present()
	},
}

func init() {
	presentCmd.Flags().StringVar(&flagRTPListen, "rtp-listen", "127.0.0.1:5004", "UDP address the encoder sends RTP to")
}

func present() error {
	if flagMobile {
		return client.ErrPresentingNotAllowed
	}

	log, sync, err := newLogger()
	if err != nil {
		return err
	}
	defer sync()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	factory, err := webrtcinfra.NewFactory(webrtcinfra.ConfigFrom(cfg), log)
	if err != nil {
		return err
	}

	udp, err := net.ListenPacket("udp", flagRTPListen)
	if err != nil {
		return fmt.Errorf("listen for RTP: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := startSession(ctx, cfg, factory, true, log)
	if err != nil {
		udp.Close()
		return err
	}
	defer s.close()

	stats := &webrtcinfra.Stats{}
	forwardErr := make(chan error, 1)
	go func() { forwardErr <- webrtcinfra.ForwardRTP(ctx, udp, factory.Source(), stats, log) }()

	if err := s.ctrl.StartPresenting(ctx); err != nil {
		return err
	}
	log.Infow("Presenting", "room_code", flagRoom, "rtp_listen", udp.LocalAddr().String())

	for {
		select {
		case <-ctx.Done():
			stopCtx, stop := context.WithTimeout(context.Background(), defaultStopWait)
			if err := s.ctrl.StopPresenting(stopCtx); err != nil {
				log.Debugw("Stop presenting failed", "error", err)
			}
			stop()
			log.Infow("Presentation finished",
				"packets", stats.Packets.Load(),
				"bytes", stats.Bytes.Load(),
				"malformed", stats.Malformed.Load(),
			)
			return nil
		case u := <-s.updates:
			if u.Status == client.StatusStopped && u.Peer == "" {
				// another participant took over, or the server ended it
				return nil
			}
		case err := <-forwardErr:
			if errors.Is(err, context.Canceled) {
				continue
			}
			return fmt.Errorf("rtp input: %w", err)
		case err := <-s.runErr:
			return err
		}
	}
}
