package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"antik/audio"
	"antik/capture"
	"antik/command"
	"antik/config"
	"antik/log"
	"antik/metrics"
	"antik/processor"
	"antik/sound"
	"antik/speech"
	"antik/status"
	"antik/transcriber"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// exitError carries a process exit code for a failure that was already
// reported to the user.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type appState struct {
	configPath      string
	server          string
	device          string
	segmentInterval time.Duration
	frameInterval   time.Duration
	speechEngine    string
	voices          []string
	logPath         string
	metricsAddr     string
	recordDir       string
	noCues          bool
	verbose         bool
	setup           bool
	testWAV         string

	fs  afero.Fs
	out io.Writer
	cfg *config.Config
}

// app is the wired set of components one run works with.
type app struct {
	model    *status.Model
	metrics  *metrics.Metrics
	speaker  speech.Speaker
	machine  *command.Machine
	pipeline *capture.Pipeline
}

func newRootCmd() *cobra.Command {
	st := &appState{fs: afero.NewOsFs(), out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "antik",
		Short:         "Talk to your assistant: listen, transcribe, and run spoken commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return st.prepare(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			log.Close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if st.testWAV != "" {
				return st.runTestMode(cmd.Context(), st.testWAV)
			}
			if st.setup {
				if err := st.pickDevice(); err != nil {
					return err
				}
			}
			return st.runTUI(cmd.Context())
		},
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	f := cmd.PersistentFlags()
	f.StringVar(&st.configPath, "config", "", "config file (default: "+config.DefaultPath()+")")
	f.StringVar(&st.server, "server", "", "assistant service base URL")
	f.StringVar(&st.device, "device", "", "capture device name (exact or substring)")
	f.DurationVar(&st.segmentInterval, "segment-interval", 0, "how often the recording is re-uploaded for transcription")
	f.DurationVar(&st.frameInterval, "frame-interval", 0, "visualizer sampling period")
	f.StringVar(&st.speechEngine, "speech", "", "speech engine: auto|espeak-ng|espeak|say|none")
	f.StringSliceVar(&st.voices, "voice", nil, "preferred voice name fragments, in order")
	f.StringVar(&st.logPath, "logpath", "", "log directory (default: OS-specific location, ./ for current dir)")
	f.StringVar(&st.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&st.recordDir, "record-dir", "", "keep a WAV copy of every listening session here")
	f.BoolVar(&st.noCues, "no-cues", false, "disable start/stop/error tones")
	f.BoolVar(&st.verbose, "verbose", false, "log to stderr instead of the diagnostics file")

	cmd.Flags().BoolVar(&st.setup, "setup", false, "pick the microphone interactively before starting")
	cmd.Flags().StringVar(&st.testWAV, "test", "", "headless test mode: replay this WAV as the microphone, driven by stdin")

	cmd.AddCommand(newAskCmd(st))
	cmd.AddCommand(newTranscribeCmd(st))
	cmd.AddCommand(newDevicesCmd(st))
	cmd.AddCommand(newVoicesCmd(st))
	cmd.AddCommand(newDoctorCmd(st))
	return cmd
}

// prepare loads configuration, applies flags on top and starts logging.
func (st *appState) prepare(cmd *cobra.Command) error {
	path, explicit := st.configPath, st.configPath != ""
	if !explicit {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(st.fs, path, explicit, os.LookupEnv)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server.URL = st.server
	}
	if flags.Changed("device") {
		cfg.Capture.Device = st.device
	}
	if flags.Changed("segment-interval") {
		cfg.Capture.SegmentInterval = st.segmentInterval
	}
	if flags.Changed("frame-interval") {
		cfg.Capture.FrameInterval = st.frameInterval
	}
	if flags.Changed("speech") {
		cfg.Speech.Engine = st.speechEngine
	}
	if flags.Changed("voice") {
		cfg.Speech.PreferredVoices = st.voices
	}
	if flags.Changed("logpath") {
		cfg.Log.Dir = st.logPath
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = st.metricsAddr
	}
	if flags.Changed("record-dir") {
		cfg.Capture.RecordDir = st.recordDir
	}
	if st.noCues {
		cfg.Capture.Cues = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	st.cfg = cfg
	if !cfg.Capture.Cues {
		sound.Disable()
	}

	if st.verbose {
		log.InitWriter(os.Stderr)
		return nil
	}
	dir, err := log.ResolveDir(cfg.Log.Dir)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
		return nil
	}
	initCrashLog(dir)
	return nil
}

func initCrashLog(dir string) {
	f, err := os.OpenFile(filepath.Join(dir, "crash_log.txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(f, debug.CrashOptions{})
}

// newSpeaker builds the configured engine. An explicitly requested engine
// that is missing is an error; auto falls back to silence.
func (st *appState) newSpeaker() (speech.Speaker, error) {
	return speech.New(st.cfg.Speech.Engine)
}

func (st *appState) commandConfig() command.Config {
	return command.Config{
		PreferredVoices: st.cfg.Speech.PreferredVoices,
		Rate:            st.cfg.Speech.Rate,
		Pitch:           st.cfg.Speech.Pitch,
	}
}

// build wires the capture pipeline and the command state machine around one
// status model. open supplies the microphone.
func (st *appState) build(ctx context.Context, open func() (audio.Context, error), tr transcriber.Transcriber, opener processor.Opener, speaker speech.Speaker) *app {
	a := &app{
		model:   status.New(),
		metrics: metrics.New(prometheus.NewRegistry()),
		speaker: speaker,
	}
	if addr := st.cfg.Metrics.Addr; addr != "" {
		bound, err := a.metrics.Serve(ctx, addr)
		if err != nil {
			log.Warnf("metrics listener disabled: %v", err)
		} else {
			log.Infof("metrics listening on http://%s/metrics", bound)
		}
	}

	a.machine = command.New(st.commandConfig(), opener, a.model, speaker, a.metrics)
	a.pipeline = capture.New(capture.Config{
		SegmentInterval: st.cfg.Capture.SegmentInterval,
		FrameInterval:   st.cfg.Capture.FrameInterval,
		Device:          st.cfg.Capture.Device,
		Cues:            st.cfg.Capture.Cues,
		RecordDir:       st.cfg.Capture.RecordDir,
	}, capture.Deps{
		Open:        open,
		Model:       a.model,
		Transcriber: tr,
		Commands:    a.machine,
		Warmup:      speech.NewWarmup(speaker),
		Metrics:     a.metrics,
		Fs:          st.fs,
	})
	return a
}

// close ends any session and command and waits for their goroutines.
func (a *app) close() {
	a.pipeline.Stop(true)
	a.machine.Abort()
	a.machine.Wait()
	a.speaker.Cancel()
}

func (st *appState) pickDevice() error {
	actx, err := audio.NewContext()
	if err != nil {
		return fmt.Errorf("initializing audio: %w", err)
	}
	defer actx.Close()

	dev, err := audio.SelectDevice(actx)
	if errors.Is(err, audio.ErrPickerCancelled) {
		return exitError{code: 130}
	}
	if err != nil {
		log.Warnf("device selection failed: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: device selection failed: %v\nFalling back to default device\n", err)
		return nil
	}
	st.cfg.Capture.Device = dev.Name
	return nil
}
