package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"studyroom/internal/client"
	"studyroom/internal/core/domain"
	webrtcinfra "studyroom/internal/infrastructure/webrtc"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagRTPOut     string
	flagRetryEvery time.Duration
)

var viewCmd = &cobra.Command{
	Use:     "view",
	Aliases: []string{"v"},
	Short:   "Watch the current presenter",
	Long: `View asks the room's presenter for their screen and, with --rtp-out,
forwards the received VP8 RTP packets to a local UDP port a player listens on.
With no presenter yet, view keeps asking until one starts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return view()
	},
}

func init() {
	viewCmd.Flags().StringVar(&flagRTPOut, "rtp-out", "", "UDP address to forward received RTP to")
	viewCmd.Flags().DurationVar(&flagRetryEvery, "retry", 3*time.Second, "how often to ask again while nobody presents")
}

// trackSink returns the handler for the presenter's track. Packets go to
// out, or are only counted when out is nil.
func trackSink(out io.Writer, stats *webrtcinfra.Stats, log *zap.SugaredLogger) webrtcinfra.TrackHandler {
	if out == nil {
		out = io.Discard
	}
	return func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Infow("Receiving screen", "codec", track.Codec().MimeType, "ssrc", track.SSRC())
		if err := webrtcinfra.CopyRTP(out, webrtcinfra.TrackReader{Track: track}, stats); err != nil {
			log.Debugw("Track ended", "error", err)
		}
	}
}

func view() error {
	log, sync, err := newLogger()
	if err != nil {
		return err
	}
	defer sync()

	cfg, err := loadClientConfig()
	if err != nil {
		return err
	}

	var out io.Writer
	if flagRTPOut != "" {
		udp, err := net.Dial("udp", flagRTPOut)
		if err != nil {
			return fmt.Errorf("dial RTP output: %w", err)
		}
		defer udp.Close()
		out = udp
	}

	stats := &webrtcinfra.Stats{}
	factory, err := webrtcinfra.NewFactory(webrtcinfra.ConfigFrom(cfg), log,
		webrtcinfra.WithTrackHandler(trackSink(out, stats, log)),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	s, err := startSession(ctx, cfg, factory, false, log)
	if err != nil {
		return err
	}
	defer s.close()

	defer func() {
		log.Infow("Viewing finished",
			"packets", stats.Packets.Load(),
			"bytes", stats.Bytes.Load(),
			"lost", stats.Lost.Load(),
		)
	}()

	for {
		err := s.ctrl.RequestView(ctx)
		switch {
		case err == nil:
			if err := waitViewEnded(ctx, s); err != nil {
				return err
			}
		case errors.Is(err, domain.ErrNoActivePresenter):
			log.Debugw("Nobody is presenting yet", "retry_in", flagRetryEvery)
		case errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-s.runErr:
			return err
		case <-time.After(flagRetryEvery):
		}
	}
}

// waitViewEnded blocks while the view is being negotiated or watched.
func waitViewEnded(ctx context.Context, s *session) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-s.runErr:
			return err
		case u := <-s.updates:
			switch u.Status {
			case client.StatusStopped, client.StatusTimeout, client.StatusError:
				return nil
			}
		}
	}
}
