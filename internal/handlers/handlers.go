package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/demofs"
	"github.com/q2demo/demorec/internal/dispatcher"
	"github.com/q2demo/demorec/internal/logging"
	"github.com/q2demo/demorec/internal/playback"
	"github.com/q2demo/demorec/internal/queue"
	"github.com/q2demo/demorec/internal/recorder"
	"github.com/q2demo/demorec/pkg/core"
	"github.com/q2demo/demorec/pkg/streaming"
)

var (
	// ErrUsage is returned for malformed command arguments.
	ErrUsage = errors.New("usage")
	// ErrAlreadyRecording is returned by Record while a demo is recorded.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotPlaying is returned by commands that need a demo playing.
	ErrNotPlaying = errors.New("not playing a demo")
)

const (
	stopTimeout = 10 * time.Second
	// maxPending bounds the console lines waiting for the next tick.
	maxPending = 64
)

// Relay is the broadcast sink played messages are forwarded to.
type Relay interface {
	playback.Sink
	StartDemo(p streaming.StartDemoPayload) error
	Seek(frame int) error
	EndDemo() error
}

// Dependencies holds everything the service needs. Only Demo is required.
type Dependencies struct {
	Logger *slog.Logger
	Demo   config.DemoConfig
	Stats  recorder.StatsSink
	Relay  Relay
	// Out receives command results and printed effects.
	Out io.Writer
	// LogContext, when set, follows the active demos.
	LogContext *logging.DemoContext
}

// Service owns the client state and the demo sessions playing into and
// recording from it. All methods except Enqueue and Info must be called
// from the goroutine calling Tick.
type Service struct {
	deps    Dependencies
	logger  *slog.Logger
	state   *client.State
	play    *playback.Session
	rec     *recorder.Session
	pending *queue.Queue[dispatcher.Event]
	d       *dispatcher.Dispatcher

	outMu sync.Mutex
}

// NewService creates a service with an idle client state.
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	return &Service{
		deps:    deps,
		logger:  deps.Logger,
		state:   client.NewState(),
		pending: queue.New[dispatcher.Event](maxPending),
	}
}

// State returns the client state demos play into.
func (s *Service) State() *client.State { return s.state }

// Playback returns the current playback, or nil.
func (s *Service) Playback() *playback.Session { return s.play }

// Recording returns the current recording, or nil.
func (s *Service) Recording() *recorder.Session { return s.rec }

func (s *Service) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.deps.Out, format+"\n", args...)
}

// FormatFor maps the demo.format setting to a demo format.
func FormatFor(n int) demofile.Format {
	if n == 1 {
		return demofile.FormatVanilla
	}
	return demofile.FormatExtended
}

// Record starts recording the current state into name below the demo
// directory.
func (s *Service) Record(name string, opts recorder.Options) (string, error) {
	if s.rec != nil && s.rec.Active() {
		return "", fmt.Errorf("%w to %s", ErrAlreadyRecording, s.rec.Name())
	}
	if s.state.Conn != client.Active {
		return "", recorder.ErrNotActive
	}

	path := demofs.Resolve(s.deps.Demo.Dir, name, opts.Compression)

	rec, err := recorder.Start(path, s.state, opts, recorder.Deps{
		Logger: s.logger,
		Sink:   s.deps.Stats,
	})
	if err != nil {
		return "", fmt.Errorf("couldn't record %s: %w", path, err)
	}
	s.rec = rec
	if s.play != nil {
		s.play.SetRecorder(rec)
	}
	s.deps.LogContext.SetRecording(filepath.Base(path))
	s.logger.Info("Recording demo", "path", path, "format", opts.Format.String(), "msglen", recorder.ClampMsgLen(opts.MsgLen))
	return path, nil
}

// StopRecording finishes the current recording.
func (s *Service) StopRecording(ctx context.Context) (recorder.Stats, error) {
	if s.rec == nil {
		return recorder.Stats{}, recorder.ErrStopped
	}
	rec := s.rec
	s.rec = nil
	if s.play != nil {
		s.play.SetRecorder(nil)
	}
	s.deps.LogContext.SetRecording("")
	return rec.Stop(ctx)
}

// Suspend pauses or resumes the current recording and reports whether it
// is paused afterwards.
func (s *Service) Suspend() (bool, error) {
	if s.rec == nil {
		return false, recorder.ErrStopped
	}
	if err := s.rec.Suspend(); err != nil {
		return false, err
	}
	return s.rec.Paused(), nil
}

// Play starts playing the demo called name, ending the current playback.
func (s *Service) Play(name string, opts playback.Options) error {
	path, err := demofs.Find(s.deps.Demo.Dir, name)
	if err != nil {
		return err
	}
	f, err := demofs.Open(path)
	if err != nil {
		return fmt.Errorf("couldn't open %s: %w", path, err)
	}

	format, info, err := probe(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("couldn't read %s: %w", path, err)
	}

	s.StopPlayback()
	s.state.Reset()

	deps := playback.Deps{
		Logger: s.logger,
		Effect: func(_ int, text string) { s.printf("%s", text) },
	}
	if s.deps.Relay != nil {
		deps.Sink = s.deps.Relay
	}

	play, err := playback.Open(path, f, s.state, opts, deps)
	if err != nil {
		f.Close()
		return err
	}
	s.play = play
	s.deps.LogContext.SetPlaying(filepath.Base(path))

	if s.deps.Relay != nil {
		err := s.deps.Relay.StartDemo(streaming.StartDemoPayload{
			Session: uuid.NewString(),
			Name:    filepath.Base(path),
			Map:     info.Map,
			POV:     info.POV,
			Format:  format.String(),
		})
		if err != nil {
			s.logger.Warn("Relay did not accept demo", "error", err)
		}
	}
	return nil
}

// probe reads the format and header info of f and rewinds it.
func probe(f demofs.File) (demofile.Format, core.DemoInfo, error) {
	format, err := demofile.DetectFormat(f)
	if err != nil {
		return 0, core.DemoInfo{}, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, core.DemoInfo{}, err
	}
	info, err := demofile.ReadInfo(f)
	if err != nil {
		return 0, core.DemoInfo{}, err
	}
	_, err = f.Seek(0, io.SeekStart)
	return format, info, err
}

// StopPlayback ends the current playback. A recording fed by it is
// stopped as well.
func (s *Service) StopPlayback() {
	if s.play == nil {
		return
	}
	play := s.play
	s.play = nil

	if s.rec != nil {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		if _, err := s.StopRecording(ctx); err != nil {
			s.logger.Error("Failed to stop recording", "error", err)
		}
		cancel()
	}

	res, err := play.Close()
	if err != nil {
		s.logger.Warn("Failed to close demo", "error", err)
	}
	if res.Frames > 0 {
		s.printf("%d frames, %3.1f seconds: %3.1f fps", res.Frames, res.Seconds, res.FPS)
	}

	if s.deps.Relay != nil {
		if err := s.deps.Relay.EndDemo(); err != nil {
			s.logger.Warn("Relay did not take demo end", "error", err)
		}
	}
	s.deps.LogContext.SetPlaying("")
	s.state.Reset()
}

// Seek moves the playback to the target given as "[+-]<timespec>".
func (s *Service) Seek(spec string) (int, error) {
	if s.play == nil {
		return 0, ErrNotPlaying
	}
	t, err := playback.ParseTarget(spec)
	if err != nil {
		return 0, err
	}
	if err := s.play.Seek(t); err != nil {
		if errors.Is(err, playback.ErrSeekUnavailable) || errors.Is(err, playback.ErrNotActive) {
			return 0, err
		}
		// the session is gone
		s.StopPlayback()
		return 0, err
	}

	frame := s.play.FramesRead()
	if s.deps.Relay != nil {
		if err := s.deps.Relay.Seek(frame); err != nil {
			s.logger.Warn("Failed to announce seek", "error", err)
		}
	}
	return frame, nil
}

// Info reads the header info of the demo at path. It does not touch the
// service state.
func (s *Service) Info(path string) (core.DemoInfo, error) {
	resolved, err := demofs.Find(s.deps.Demo.Dir, path)
	if err != nil {
		return core.DemoInfo{}, err
	}
	f, err := demofs.Open(resolved)
	if err != nil {
		return core.DemoInfo{}, err
	}
	defer f.Close()
	return demofile.ReadInfo(f)
}

// Status describes the current playback and recording.
func (s *Service) Status() string {
	status := "Idle"
	if s.play != nil {
		status = fmt.Sprintf("Playing %s, %s (%d%%)", s.play.Name(), playback.FormatFrames(s.play.FramesRead()), s.play.FilePercent())
		if s.play.EOF() {
			status += ", at end"
		}
	}
	if s.rec != nil && s.rec.Active() {
		state := "Recording"
		if s.rec.Paused() {
			state = "Suspended"
		}
		status += fmt.Sprintf("\n%s %s: %s", state, s.rec.Name(), s.rec.Status())
	}
	return status
}

// Enqueue parses a console line and queues it for the next Tick. It
// reports false for blank lines and when too many lines are waiting. It is
// safe to call from any goroutine.
func (s *Service) Enqueue(line string) bool {
	e, ok := dispatcher.ParseLine(line)
	if !ok {
		return false
	}
	if s.pending.Push(e) == 0 {
		s.logger.Warn("Console queue full, dropping command", "command", e.Command, "dropped", s.pending.Dropped())
		return false
	}
	return true
}

// Tick runs the queued commands and advances playback by msec.
func (s *Service) Tick(msec int) error {
	for _, e := range s.pending.Drain() {
		s.run(e)
	}

	if s.play == nil {
		return nil
	}
	err := s.play.Tick(msec)
	if err == nil {
		return nil
	}
	s.StopPlayback()
	if errors.Is(err, playback.ErrFinished) {
		return nil
	}
	return err
}

func (s *Service) run(e dispatcher.Event) {
	if s.d == nil {
		s.logger.Error("No dispatcher registered", "command", e.Command)
		return
	}
	res, err := s.d.Dispatch(e)
	switch {
	case err != nil:
		s.printf("%s: %v", e.Command, err)
	case res != nil:
		s.printf("%v", res)
	}
}

// Register adds the console commands to d. Queued lines are dispatched
// through d on Tick.
func (s *Service) Register(d *dispatcher.Dispatcher) {
	s.d = d

	d.Register("record", s.handleRecord, dispatcher.Logged())
	d.Register("stop", s.handleStop, dispatcher.Logged())
	d.Register("suspend", s.handleSuspend, dispatcher.Logged())
	d.Register("demo", s.handleDemo, dispatcher.Logged())
	d.Register("seek", s.handleSeek, dispatcher.Logged())
	d.Register("status", func(dispatcher.Event) (any, error) {
		return s.Status(), nil
	})
	// read only; runs off the tick goroutine
	d.Register("demoinfo", s.handleDemoInfo, dispatcher.Buffered(16), dispatcher.Logged())
}

// ParseRecordArgs parses "[-z] [-e|-s] <name>" into a name and options
// based on cfg.
func ParseRecordArgs(args []string, cfg config.DemoConfig) (string, recorder.Options, error) {
	usage := fmt.Errorf("%w: record [-z] [-e|-s] <name>", ErrUsage)

	fs := pflag.NewFlagSet("record", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	gzip := fs.BoolP("compress", "z", false, "compress the demo with gzip")
	zstd := fs.Bool("zstd", false, "compress the demo with zstd")
	ext := fs.BoolP("extended", "e", false, "use the extended packet size")
	std := fs.BoolP("standard", "s", false, "use the standard packet size")
	if err := fs.Parse(args); err != nil {
		return "", recorder.Options{}, fmt.Errorf("%w (%v)", usage, err)
	}
	if fs.NArg() != 1 || (*ext && *std) || (*gzip && *zstd) {
		return "", recorder.Options{}, usage
	}

	opts := recorder.Options{
		Format: FormatFor(cfg.Format),
		MsgLen: cfg.MsgLen,
	}
	switch {
	case *gzip:
		opts.Compression = demofs.Gzip
	case *zstd:
		opts.Compression = demofs.Zstd
	}
	switch {
	case *ext:
		opts.MsgLen = core.MaxPacketLenWritable
	case *std:
		opts.MsgLen = core.MaxPacketLenWritableDefault
	}
	return fs.Arg(0), opts, nil
}

func (s *Service) handleRecord(e dispatcher.Event) (any, error) {
	name, opts, err := ParseRecordArgs(e.Args, s.deps.Demo)
	if err != nil {
		return nil, err
	}
	path, err := s.Record(name, opts)
	if err != nil {
		return nil, err
	}
	return "Recording to " + path, nil
}

func (s *Service) handleStop(dispatcher.Event) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	st, err := s.StopRecording(ctx)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Stopped demo (%s)", recorder.FormatStatus(st)), nil
}

func (s *Service) handleSuspend(dispatcher.Event) (any, error) {
	paused, err := s.Suspend()
	if err != nil {
		return nil, err
	}
	if paused {
		return "Suspended demo recording", nil
	}
	return "Resumed demo recording", nil
}

func (s *Service) handleDemo(e dispatcher.Event) (any, error) {
	if len(e.Args) != 1 {
		return nil, fmt.Errorf("%w: demo <name>", ErrUsage)
	}
	err := s.Play(e.Args[0], playback.Options{
		Snaps:    s.deps.Demo.Snaps,
		Wait:     s.deps.Demo.Wait,
		TimeDemo: s.deps.Demo.TimeDemo,
	})
	if err != nil {
		return nil, err
	}
	return "Playing " + s.play.Name(), nil
}

func (s *Service) handleSeek(e dispatcher.Event) (any, error) {
	if len(e.Args) != 1 {
		return nil, fmt.Errorf("%w: seek [+-]<timespec>", ErrUsage)
	}
	frame, err := s.Seek(e.Args[0])
	if err != nil {
		return nil, err
	}
	return "Seeked to " + playback.FormatFrames(frame), nil
}

func (s *Service) handleDemoInfo(e dispatcher.Event) (any, error) {
	if len(e.Args) != 1 {
		err := fmt.Errorf("%w: demoinfo <path>", ErrUsage)
		s.printf("demoinfo: %v", err)
		return nil, err
	}
	info, err := s.Info(e.Args[0])
	if err != nil {
		s.printf("demoinfo: %v", err)
		return nil, err
	}
	s.printf("%s", FormatInfo(info))
	return info, nil
}

// FormatInfo renders demo header info for the console.
func FormatInfo(info core.DemoInfo) string {
	if info.MVD {
		return "Type: MVD"
	}
	return fmt.Sprintf("Type: client\nMap:  %s\nPOV:  %s", info.Map, info.POV)
}
