package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	diagLog  zerolog.Logger
	diagFile *os.File
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
)

const DiagnosticsFile = "diagnostics_log.txt"

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag or config
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: ANTIK_LOG_PATH environment variable
	if envPath := os.Getenv("ANTIK_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(dir, DiagnosticsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	diagFile = f
	initLogger(f)
	return nil
}

// InitWriter logs to w instead of the diagnostics file. Headless commands use
// it with --verbose.
func InitWriter(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	initLogger(w)
}

func initLogger(w io.Writer) {
	pid = os.Getpid()
	consoleWriter := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()
	logReady = true
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(server, device, speech string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("server", server).
		Str("device", device).
		Str("speech", speech).
		Msg("session_start")
}

func CaptureStart(session, device string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", session).
		Str("device", device).
		Msg("capture_start")
}

func CaptureStop(session string, segments int, audio, encode time.Duration, discard bool) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", session).
		Int("segments", segments).
		Float64("audio_s", audio.Seconds()).
		Float64("encode_ms", float64(encode.Milliseconds())).
		Bool("discard", discard).
		Msg("capture_stop")
}

type UploadMetrics struct {
	Segments   int
	Bytes      int
	TTFB       time.Duration
	Total      time.Duration
	ConnReused bool
	TLSProto   string
}

func Upload(session string, m UploadMetrics, err error) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev = ev.Str("session", session).
		Int("segments", m.Segments).
		Float64("kb", float64(m.Bytes)/1024).
		Str("conn", connStatus)
	if m.TLSProto != "" {
		ev = ev.Str("tls_proto", m.TLSProto)
	}
	ev.Float64("ttfb_ms", float64(m.TTFB.Milliseconds())).
		Float64("total_ms", float64(m.Total.Milliseconds())).
		Msg("upload")
}

func CommandStart(id string, chars int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("command", id).
		Int("chars", chars).
		Msg("command_start")
}

func Progress(id, state string, events int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("command", id).
		Str("state", state).
		Int("events", events).
		Msg("progress")
}

func CommandEnd(id, outcome string, elapsed time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("command", id).
		Str("outcome", outcome).
		Float64("total_ms", float64(elapsed.Milliseconds())).
		Msg("command_end")
}

func DuplicateClose(id string, err error) {
	if !logReady {
		return
	}
	diagLog.Debug().
		Str("command", id).
		AnErr("transport", err).
		Msg("duplicate_close")
}
