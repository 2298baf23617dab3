package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/warpmeet/internal/config"
	"github.com/BioHazard786/warpmeet/internal/logging"
	"github.com/BioHazard786/warpmeet/internal/peer"
	"github.com/BioHazard786/warpmeet/internal/protocol"
	"github.com/BioHazard786/warpmeet/internal/rtc"
	"github.com/BioHazard786/warpmeet/internal/signaling"
	"github.com/BioHazard786/warpmeet/internal/speaker"
	"github.com/BioHazard786/warpmeet/internal/ui"
)

const leaveTimeout = 5 * time.Second

var (
	flagDomain    string
	flagSignaling string
	flagSTUN      string
	flagName      string
	flagUserID    string
)

var joinCmd = &cobra.Command{
	Use:     "join <meeting-code>",
	Aliases: []string{"j"},
	Short:   "Join a meeting",
	Long: `Join a meeting and connect to every other participant directly.

Examples:
  warpmeet join ABC123
  warpmeet join abc123 --name alice
  warpmeet join ABC123 --signaling ws://localhost:8080/ws`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(slog.LevelError)

		cfg, err := config.Load(config.Options{
			Domain:       flagDomain,
			SignalingURL: flagSignaling,
			STUNServer:   flagSTUN,
			Name:         flagName,
			UserID:       flagUserID,
		})
		if err != nil {
			return err
		}

		code := protocol.NormalizeMeetingCode(args[0])
		if code == "" {
			return fmt.Errorf("meeting code must not be empty")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return joinMeeting(ctx, cfg, code)
	},
}

func joinMeeting(ctx context.Context, cfg *config.Config, code string) error {
	logger := slog.Default()

	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}

	sp := ui.NewConnectionSpinner("Connecting to server...")
	sp.Start()
	defer sp.Stop()

	client := signaling.NewClient(cfg.SignalingURL, logger)
	if err := client.Connect(ctx); err != nil {
		sp.Error("Could not reach the relay")
		return err
	}
	defer client.Close()

	api, err := rtc.NewAPI(nil)
	if err != nil {
		return peer.NewError("create webrtc api", err)
	}
	media, err := rtc.NewMediaSource()
	if err != nil {
		return peer.NewError("create local media", err)
	}
	media.Start(ctx)

	var manager *peer.Manager
	estimator := speaker.New(speaker.DefaultInterval, func(remoteID string) {
		manager.ActiveSpeaker(remoteID)
	})

	var view *ui.MeetingUI
	manager = peer.NewManager(userID, peer.Options{
		Signaler: client,
		Factory:  rtc.NewFactory(api, rtc.Configuration(cfg.STUNServers), media, logger),
		Media:    media,
		Speaker:  estimator,
		OnEvent:  func(ev peer.Event) { view.Send(ev) },
		Logger:   logger,
	})
	view = ui.NewMeetingUI(code, cfg.Name, meetingActions(manager), client.Connected)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := manager.Close(closeCtx); err != nil && !errors.Is(err, peer.ErrManagerClosed) {
			logger.Error("Failed to close sessions", "err", err)
		}
	}()

	handler := signaling.NewHandler(client, manager, logger)
	go func() {
		if err := handler.Run(ctx); err != nil {
			logger.Warn("Signaling stopped", "err", err)
		}
	}()

	estimator.Start(ctx)

	participants, err := handler.Join(ctx, code, userID, cfg.Name)
	if err != nil {
		sp.Error("Could not join the meeting")
		return err
	}
	sp.Success(fmt.Sprintf("Joined meeting %s with %d other participant(s)", code, len(participants)))

	go func() {
		<-ctx.Done()
		view.Stop()
	}()

	if err := view.Run(); err != nil {
		return err
	}

	if !client.Connected() {
		ui.PrintWarning("Lost the connection to the relay")
		return nil
	}
	if err := client.Leave(); err != nil && !errors.Is(err, signaling.ErrConnectionClosed) {
		logger.Debug("Leave not sent", "err", err)
	}
	ui.PrintSuccess("Left meeting " + code)
	return nil
}

func meetingActions(manager *peer.Manager) ui.Actions {
	return ui.Actions{
		SetMuted: func(muted bool) {
			manager.SetMediaState(muted, manager.LocalMediaState().VideoOff)
		},
		SetVideoOff: func(off bool) {
			manager.SetMediaState(manager.LocalMediaState().Muted, off)
		},
		ShareScreen: func(on bool) error {
			if !on {
				return manager.StopScreenShare()
			}
			track, err := rtc.NewScreenTrack()
			if err != nil {
				return err
			}
			return manager.StartScreenShare(track)
		},
	}
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVarP(&flagDomain, "domain", "d", "", "Custom relay domain")
	joinCmd.Flags().StringVar(&flagSignaling, "signaling", "", "Full signaling URL (overrides --domain)")
	joinCmd.Flags().StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server(s), comma separated")
	joinCmd.Flags().StringVarP(&flagName, "name", "n", "", "Display name")
	joinCmd.Flags().StringVar(&flagUserID, "id", "", "Participant id (random by default)")
}
