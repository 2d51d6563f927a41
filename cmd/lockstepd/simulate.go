package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-lockstep/v1/clock"
	"github.com/mirkobrombin/go-lockstep/v1/core"
	"github.com/mirkobrombin/go-lockstep/v1/lock"
	"github.com/mirkobrombin/go-lockstep/v1/media"
	"github.com/mirkobrombin/go-lockstep/v1/monitor"
)

func newSimulateCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scripted audio/video/transcript session and print every dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return simulate(cmd.OutOrStdout(), cfg.Window(), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON lines")
	return cmd
}

type step struct {
	after  time.Duration
	label  string
	action func()
}

// simulate drives three virtual players on a manual clock, so the output is
// the same on every run.
func simulate(w io.Writer, window time.Duration, asJSON bool) error {
	if window <= 0 {
		window = lock.DefaultTTL
	}
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	start := clk.Now()
	enc := json.NewEncoder(w)
	var writeErr error
	printer := core.ObserverFunc(func(r core.Record) {
		if writeErr != nil {
			return
		}
		e := monitor.FromRecord(r)
		if asJSON {
			writeErr = enc.Encode(e)
			return
		}
		outcome := fmt.Sprintf("delivered=%d", e.Delivered)
		if e.Suppressed {
			outcome = "suppressed"
		}
		_, writeErr = fmt.Fprintf(w, "  %7.3fs %-10s %-9s%s %s\n",
			e.At.Sub(start).Seconds(), e.Origin, e.Kind, r.Event.Payload, outcome)
	})

	reg := core.NewRegistry(core.WithClock(clk), core.WithWindow(window), core.WithObserver(printer))
	defer reg.Reset()

	// The video names the audio as its sync target and the other way round;
	// both resolve to one group.
	g := reg.Join("demo", "video", "audio")
	reg.Join("demo", "audio", "video")

	audioP := media.NewVirtual(clk, 120)
	videoP := media.NewVirtual(clk, 120)
	textP := media.NewVirtual(clk, 120)
	audio := media.NewAudio("audio", g, audioP)
	video := media.NewVideo("video", g, videoP)
	text := media.NewParagraphs("transcript", g, textP, []media.Phrase{
		{Start: 0, End: 12, Text: "Welcome back."},
		{Start: 12, End: 31, Text: "Today we label the interview."},
		{Start: 31, End: 60, Text: "Mark each speaker turn."},
	})
	// The transcript has no native player events; it only sends when a
	// phrase is clicked.
	media.Forward(audio, audioP)
	media.Forward(video, videoP)

	script := []step{
		{0, "audio starts playing", audioP.Play},
		{window / 2, "video seeks inside the window", func() { videoP.Seek(30) }},
		{2 * window, "video seeks after the window", func() { videoP.Seek(30) }},
		{time.Second, "transcript jumps to a phrase", func() { text.SeekToPhrase(2) }},
		{2 * window, "video starts buffering", func() { videoP.SetBuffering(true) }},
		{3 * time.Second, "video is ready", func() { videoP.SetBuffering(false) }},
		{2 * window, "audio speeds up", func() { audioP.SetSpeed(1.5) }},
		{5 * time.Second, "user pauses the video", videoP.Pause},
	}
	for _, s := range script {
		clk.Advance(s.after)
		if !asJSON {
			if _, err := fmt.Fprintf(w, "%s\n", s.label); err != nil {
				return err
			}
		}
		s.action()
		if writeErr != nil {
			return writeErr
		}
	}

	if !asJSON {
		_, err := fmt.Fprintf(w, "final: audio=%.2fs muted=%t video=%.2fs muted=%t phrase=%d\n",
			audioP.Position(), audioP.Muted(), videoP.Position(), videoP.Muted(), text.Current())
		return err
	}
	return nil
}
