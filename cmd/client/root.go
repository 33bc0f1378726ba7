package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studyroom/internal/client"
	"studyroom/internal/core/domain"
	signalinfra "studyroom/internal/infrastructure/signal"
	webrtcinfra "studyroom/internal/infrastructure/webrtc"
	"studyroom/pkg/config"
	"studyroom/pkg/logger"
	"studyroom/pkg/validation"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagServer     string
	flagRoom       string
	flagUser       string
	flagName       string
	flagConfig     string
	flagLogLevel   string
	flagMobile     bool
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagViewWindow time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "studyroom",
	Short: "Share or watch a screen in a study room",
	Long: `studyroom joins a study room through the signaling server and either
presents an RTP video feed or views the current presenter over WebRTC.

Examples:
  studyroom present --room algebra-101 --user alice --rtp-listen 127.0.0.1:5004
  studyroom view --room algebra-101 --user bob --rtp-out 127.0.0.1:6004`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validation.ValidateSignalURL(flagServer); err != nil {
			return fmt.Errorf("--server: %w", err)
		}
		if err := validation.ValidateRoomCode(flagRoom); err != nil {
			return fmt.Errorf("--room: %w", err)
		}
		if err := validation.ValidateUserID(flagUser); err != nil {
			return fmt.Errorf("--user: %w", err)
		}
		return nil
	},
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagServer, "server", "ws://localhost:8080/ws", "signaling endpoint")
	f.StringVar(&flagRoom, "room", "", "room code")
	f.StringVar(&flagUser, "user", "", "user id")
	f.StringVar(&flagName, "name", "", "display name (defaults to the user id)")
	f.StringVar(&flagConfig, "config", "", "YAML config for ICE servers and timeouts")
	f.StringVar(&flagLogLevel, "log-level", "info", "log level")
	f.BoolVar(&flagMobile, "mobile", false, "behave as a mobile device (relay-only links, no presenting)")
	f.StringVar(&flagTURN, "turn", "", "extra TURN server URL")
	f.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	f.StringVar(&flagTURNPass, "turn-pass", "", "TURN credential")
	f.DurationVar(&flagViewWindow, "view-timeout", 0, "give up on a view request after this long (0 uses the config)")
	rootCmd.MarkPersistentFlagRequired("room")
	rootCmd.MarkPersistentFlagRequired("user")

	rootCmd.AddCommand(presentCmd, viewCmd)
}

func loadClientConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagTURN != "" {
		cfg.WebRTC.ICEServers = append(cfg.WebRTC.ICEServers, config.ICEServer{
			URLs:       []string{flagTURN},
			Username:   flagTURNUser,
			Credential: flagTURNPass,
		})
	}
	if flagViewWindow > 0 {
		cfg.ScreenShare.RequestViewTimeout = flagViewWindow
	}
	return cfg, nil
}

// session is one connected controller. Status updates are logged and
// copied to updates without blocking the controller.
type session struct {
	ctrl    *client.Controller
	conn    *signalinfra.Client
	updates chan client.StatusUpdate
	runErr  chan error
	stop    context.CancelFunc
	logger  *zap.SugaredLogger
}

const defaultStopWait = 2 * time.Second

func startSession(ctx context.Context, cfg *config.Config, factory *webrtcinfra.Factory, allowPresenting bool, log *zap.SugaredLogger) (*session, error) {
	conn, err := signalinfra.Dial(ctx, flagServer, domain.UserID(flagUser), log)
	if err != nil {
		return nil, err
	}

	s := &session{
		conn:    conn,
		updates: make(chan client.StatusUpdate, 32),
		runErr:  make(chan error, 1),
		logger:  log,
	}
	s.ctrl = client.NewController(conn, client.Options{
		RoomCode:           domain.RoomCode(flagRoom),
		UserID:             domain.UserID(flagUser),
		UserName:           flagName,
		IsMobile:           flagMobile,
		AllowPresenting:    allowPresenting && !flagMobile,
		DirectOnMobile:     !cfg.ScreenShare.RelayOnMobile,
		RequestViewTimeout: cfg.ScreenShare.RequestViewTimeout,
		MaxICERestarts:     cfg.ScreenShare.MaxICERestarts,
		Factory:            factory,
		OnStatus:           s.onStatus,
		Logger:             log,
	})

	// The controller outlives ctx so that leaving can still be signaled
	// after an interrupt.
	runCtx, stop := context.WithCancel(context.Background())
	s.stop = stop
	go func() { s.runErr <- s.ctrl.Run(runCtx) }()

	if err := s.ctrl.JoinRoom(ctx); err != nil {
		stop()
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) onStatus(u client.StatusUpdate) {
	fields := []interface{}{"status", u.Status}
	if u.Peer != "" {
		fields = append(fields, "peer", u.Peer)
	}
	if u.Message != "" {
		fields = append(fields, "message", u.Message)
	}
	if u.Err != nil {
		s.logger.Warnw("Screen share status", append(fields, "error", u.Err)...)
	} else {
		s.logger.Infow("Screen share status", fields...)
	}

	select {
	case s.updates <- u:
	default:
	}
}

// close leaves the room politely, then drops the connection.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopWait)
	defer cancel()
	if err := s.ctrl.Leave(ctx); err != nil {
		s.logger.Debugw("Leave failed", "error", err)
	}
	s.stop()
	s.conn.Close()
}

func newLogger() (*zap.SugaredLogger, func(), error) {
	l, err := logger.New(flagLogLevel)
	if err != nil {
		return nil, nil, err
	}
	return l.Sugar(), func() { l.Sync() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
