package main

import (
	"context"
	"fmt"
	"guardian/config"
	"guardian/models"
	"guardian/services"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func drillCmd() *cobra.Command {
	var (
		situation string
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "drill",
		Short: "Run one emergency end to end in the terminal",
		Long: `Drill triggers an emergency without a device attached. The position
comes from STATIC_LATITUDE/STATIC_LONGITUDE when set, otherwise the demo
fallback is used. The drill ends once every dispatch step completes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			setupLogger(cfg)
			return drill(cmd.Context(), cfg, situation, timeout, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&situation, "situation", "s", "", "What is happening (defaults to a general emergency)")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up when dispatch has not finished by then")

	return cmd
}

func drill(ctx context.Context, cfg *config.Config, situation string, timeout time.Duration, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	profiles := services.NewProfileService(newProfileRepository(nil))
	if cfg.ProfileSeedFile != "" {
		if err := seedProfile(profiles, cfg.ProfileSeedFile); err != nil {
			logrus.WithError(err).Warn("Profile seed skipped")
		}
	}

	advisor := newAdvisoryServices(cfg)
	printer := newDrillPrinter(out)

	opts := services.DefaultPositionOptions()
	opts.Timeout = cfg.LocationTimeout

	sequencer := services.NewEmergencySequencer(services.SequencerConfig{
		Location:           services.NewStaticLocationProvider(cfg.StaticCoordinates()),
		Scripts:            advisor,
		Facilities:         advisor,
		Voice:              advisor,
		Audio:              services.NewAudioPlayer(services.StreamingOutputFactory(printer)),
		Profiles:           profiles,
		Schedule:           dispatchSchedule(cfg),
		LocationOptions:    opts,
		RecordingTimeslice: cfg.RecordingTimeslice,
		ProfileTimeout:     cfg.ProfileTimeout,
	})
	defer sequencer.Subscribe(printer)()

	sessionID := sequencer.Trigger(situation, nil)
	fmt.Fprintf(out, "session %s\n", sessionID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result error
	select {
	case <-printer.done:
		fmt.Fprintln(out, "dispatch complete")
	case <-ctx.Done():
		result = fmt.Errorf("drill did not finish: %w", ctx.Err())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := sequencer.Shutdown(shutdownCtx); err != nil && result == nil {
		result = err
	}
	return result
}

// drillPrinter writes new log lines as they appear and stands in for the
// device speaker.
type drillPrinter struct {
	out io.Writer

	mu      sync.Mutex
	printed int
	once    sync.Once
	done    chan struct{}
}

func newDrillPrinter(out io.Writer) *drillPrinter {
	return &drillPrinter{out: out, done: make(chan struct{})}
}

func (p *drillPrinter) OnSessionUpdate(snapshot models.SessionSnapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(snapshot.Logs) < p.printed {
		p.printed = 0
	}
	for _, entry := range snapshot.Logs[p.printed:] {
		fmt.Fprintf(p.out, "%s [%s] %s\n", entry.Timestamp.Format("15:04:05"), entry.Source, entry.Message)
	}
	p.printed = len(snapshot.Logs)

	if snapshot.Active && snapshot.DispatchComplete() {
		p.once.Do(func() { close(p.done) })
	}
}

func (p *drillPrinter) SendAudio(msgType string, clip *models.WSAudioClip) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if clip == nil {
		fmt.Fprintf(p.out, "audio: %s\n", msgType)
		return
	}
	fmt.Fprintf(p.out, "audio: %s %s (%dms)\n", msgType, clip.MimeType, clip.DurationMs)
}
