// Package playback plays a demo back into a client state, capturing
// snapshots along the way so the playback can seek.
package playback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/snapshot"
	"github.com/q2demo/demorec/pkg/core"
)

var (
	// ErrFinished is returned once the demo reached its end and the session
	// does not wait for more data.
	ErrFinished = errors.New("demo finished")
	// ErrForeignFormat is returned for demos this player does not handle.
	ErrForeignFormat = errors.New("MVD demos are not supported")
	// ErrNotActive is returned when seeking before the level was entered.
	ErrNotActive = errors.New("demo is not active")
)

// Source is a seekable demo file.
type Source interface {
	io.ReadSeeker
	// Size returns the total length, or -1 when unknown.
	Size() int64
}

// Recorder is the recording a playback feeds while it runs.
type Recorder interface {
	Active() bool
	Paused() bool
	EmitFrame() error
	Passthrough(data []byte)
	WriteInputSample(sample demofile.InputSample) error
	Flush() error
	Resume() error
}

// Sink receives every server message played back. data is only valid
// during the call.
type Sink interface {
	Send(data []byte)
}

// Options control playback.
type Options struct {
	// Snaps is the snapshot cadence in seconds. 0 disables snapshots and
	// with them backward seeking.
	Snaps int
	// Wait parks the playback at the end of the demo instead of finishing.
	Wait bool
	// TimeDemo plays one server message per tick and reports the rate on
	// Close.
	TimeDemo bool
}

// Deps are the optional collaborators of a session.
type Deps struct {
	Logger *slog.Logger
	// Effect receives prints and sounds. It is not called while seeking.
	Effect func(cmd int, text string)
	// ClearEffects is called after a seek.
	ClearEffects func()
	Sink         Sink
}

// Session is one demo being played back.
type Session struct {
	name   string
	src    Source
	reader *demofile.Reader
	state  *client.State
	parser *client.Parser
	opts   Options
	deps   Deps
	logger *slog.Logger
	rec    Recorder

	started  bool
	seeking  bool
	eof      bool
	finished bool

	framesRead   int
	lastSnapshot int
	fileOffset   int64
	fileSize     int64
	filePercent  int
	snaps        snapshot.Index

	outgoingSequence int
	nextCmd          core.UserCmd
	nextCmdTime      int

	timeFrames int
	timeStart  time.Time
}

// Open starts playing src into state. The header is parsed immediately
// and messages are read until the level is entered.
func Open(name string, src Source, state *client.State, opts Options, deps Deps) (*Session, error) {
	reader, first, err := demofile.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("couldn't read %s: %w", name, err)
	}
	if reader.Format() == demofile.FormatMVD {
		return nil, ErrForeignFormat
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		name:        name,
		src:         src,
		reader:      reader,
		state:       state,
		opts:        opts,
		deps:        deps,
		logger:      logger.With("demo", name),
		nextCmdTime: math.MaxInt,
	}
	s.parser = client.NewParser(state, client.Hooks{
		ServerData:   s.onServerData,
		ConfigString: s.onConfigString,
		Frame:        s.onFrame,
		StuffText:    s.onStuffText,
		Effect:       s.onEffect,
		Passthrough:  s.onPassthrough,
	})

	state.Reset()
	if err := s.parser.Parse(first, client.ModeNormal); err != nil {
		return nil, fmt.Errorf("couldn't parse %s: %w", name, err)
	}
	if state.Conn == client.Disconnected {
		return nil, fmt.Errorf("couldn't parse %s: %w", name, demofile.ErrInvalidFormat)
	}
	for state.Conn == client.Connected {
		if _, err := s.step(false); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Playing demo", "format", reader.Format().String())
	return s, nil
}

// Name returns the demo name.
func (s *Session) Name() string { return s.name }

// State returns the client state the demo is played into.
func (s *Session) State() *client.State { return s.state }

// SetRecorder attaches a recording fed by the playback. nil detaches it.
func (s *Session) SetRecorder(r Recorder) { s.rec = r }

// FramesRead returns the number of valid frames parsed so far.
func (s *Session) FramesRead() int { return s.framesRead }

// FilePercent returns the playback progress through the file.
func (s *Session) FilePercent() int { return s.filePercent }

// EOF reports whether the playback is parked at the end of the demo.
func (s *Session) EOF() bool { return s.eof }

// Finished reports whether the session ended.
func (s *Session) Finished() bool { return s.finished }

// Snapshots returns the number of captured snapshots.
func (s *Session) Snapshots() int { return s.snaps.Len() }

func (s *Session) recording() bool {
	return s.rec != nil && s.rec.Active() && !s.rec.Paused()
}

func (s *Session) onServerData(sd *core.ServerData) {
	s.started = false
	s.logger.Debug("Server data", "protocol", sd.Protocol, "gamedir", sd.GameDir, "level", sd.LevelName)
}

func (s *Session) onConfigString(index int) {
	if s.rec != nil && s.rec.Active() && s.rec.Paused() {
		s.state.Dirty.Set(index)
	}
}

func (s *Session) onStuffText(text string) {
	s.logger.Debug("Stuff text", "text", text)
}

func (s *Session) onEffect(cmd int, text string) {
	if s.deps.Effect != nil {
		s.deps.Effect(cmd, text)
	}
}

func (s *Session) onPassthrough(data []byte) {
	if !s.seeking && s.recording() {
		s.rec.Passthrough(data)
	}
}

func (s *Session) onFrame(frame *core.Frame) {
	s.framesRead++
	if s.seeking {
		return
	}
	if !s.started {
		s.firstFrame()
	}
	if s.recording() {
		// dropped frames are accounted by the recorder
		_ = s.rec.EmitFrame()
	}
	s.state.DeltaFrame()
}

// firstFrame is called after the first valid frame of a level.
func (s *Session) firstFrame() {
	s.started = true
	s.logger.Debug("First frame", "frame", s.state.Frame.Number)

	s.state.SaveBaseConfigStrings()
	s.state.FirstFrame()

	size := s.src.Size()
	ofs := s.reader.Offset()
	if size > 0 && ofs > 0 {
		s.fileOffset = ofs
		s.fileSize = size - ofs
	}

	if s.opts.TimeDemo {
		s.timeFrames = 0
		s.timeStart = time.Now()
	}

	// force the initial snapshot
	s.lastSnapshot = math.MinInt
}

// readNext reads one record and applies its stream level metadata: the
// acknowledged input sample of server messages and input samples
// themselves.
func (s *Session) readNext() (demofile.Record, error) {
	rec, err := s.reader.Next()
	if err != nil {
		return rec, err
	}
	switch rec.Type {
	case demofile.RecordServerMessage:
		if s.reader.Format() == demofile.FormatExtended {
			s.acknowledge(rec.Prediction.AckedSample)
		}
	case demofile.RecordInputSample:
		err = s.applyInputSample(rec.Sample)
	}
	return rec, err
}

// acknowledge moves the acknowledged outgoing sequence to the one that
// carried the given input sample.
func (s *Session) acknowledge(id uint32) {
	st := s.state
	for i := 1; i <= core.CmdBackup; i++ {
		ack := st.IncomingAcknowledged + i
		if st.History[ack&core.CmdMask] == id {
			st.IncomingAcknowledged = ack
			return
		}
	}
}

func (s *Session) applyInputSample(sample demofile.InputSample) error {
	st := s.state
	st.CmdNumber = sample.ID
	st.Cmds[sample.ID&core.CmdMask] = sample.Cmd
	st.History[s.outgoingSequence&core.CmdMask] = sample.ID
	s.outgoingSequence++

	if !s.seeking && s.recording() {
		if err := s.rec.WriteInputSample(sample); err != nil {
			s.logger.Warn("Couldn't record input sample", "error", err)
		}
	}

	late := st.Time - s.nextCmdTime

	// look ahead for the next sample to interpolate towards it
	la, err := s.reader.PeekInputSample()
	if err != nil {
		return err
	}
	if la.Skipped > 0 {
		s.nextCmdTime = st.ServerTime - int(la.ElapsedMsec)
	}
	if la.Found {
		s.nextCmd = la.Sample.Cmd
		s.nextCmdTime += int(s.nextCmd.Msec)
	} else {
		s.nextCmdTime = math.MaxInt
	}

	st.Cmd = s.nextCmd
	st.Cmd.Msec = uint8(min(max(late, 0), math.MaxUint8))
	return nil
}

// step reads and applies one record. It reports false when the playback
// cannot advance any further in this tick.
func (s *Session) step(wait bool) (bool, error) {
	rec, err := s.readNext()
	if err != nil {
		return false, s.finish(fmt.Errorf("couldn't read demo: %w", err))
	}
	s.updateStatus()

	switch rec.Type {
	case demofile.RecordEnd:
		if !wait {
			return false, s.finish(ErrFinished)
		}
		s.eof = true
		return false, nil
	case demofile.RecordInputSample:
		return true, nil
	}

	if err := s.parser.Parse(rec.Data, client.ModeNormal); err != nil {
		return false, s.finish(fmt.Errorf("couldn't parse demo: %w", err))
	}

	if s.recording() {
		if err := s.rec.Flush(); err != nil {
			s.logger.Warn("Recording stopped", "error", err)
		}
	}
	if s.deps.Sink != nil {
		s.deps.Sink.Send(rec.Data)
	}
	s.maybeCapture()
	return true, nil
}

func (s *Session) finish(err error) error {
	s.finished = true
	if errors.Is(err, ErrFinished) {
		s.logger.Info("Demo finished", "frames", s.framesRead)
	} else {
		s.logger.Error("Demo playback failed", "error", err)
	}
	return err
}

// Tick advances playback by msec of client time, parsing server messages
// until the server time catches up and the next input sample is due.
func (s *Session) Tick(msec int) error {
	if s.finished {
		return ErrFinished
	}
	st := s.state

	if st.Conn != client.Active {
		_, err := s.step(false)
		return err
	}

	if s.opts.TimeDemo {
		_, err := s.step(false)
		st.Time = st.ServerTime
		s.timeFrames++
		return err
	}

	if s.eof {
		if !s.opts.Wait {
			return s.finish(ErrFinished)
		}
		return nil
	}

	st.Time += msec
	st.Cmd.Msec += uint8(msec)

	for st.ServerTime < st.Time || s.nextCmdTime <= st.Time {
		ok, err := s.step(s.opts.Wait)
		if err != nil {
			return err
		}
		if !ok || st.Conn != client.Active {
			break
		}
	}

	s.lerpAngles()
	return nil
}

// lerpAngles interpolates the view angles of the pending input sample
// between the last stored sample and the upcoming one.
func (s *Session) lerpAngles() {
	st := s.state
	if s.nextCmd.Msec == 0 {
		return
	}
	frac := float64(st.Cmd.Msec) / float64(s.nextCmd.Msec)
	prev := &st.Cmds[st.CmdNumber&core.CmdMask]
	for i := range st.Cmd.Angles {
		from := client.ShortToAngle(prev.Angles[i])
		to := client.ShortToAngle(s.nextCmd.Angles[i])
		st.Cmd.Angles[i] = client.AngleToShort(client.LerpAngle(from, to, frac))
	}
}

// maybeCapture stores a snapshot when the cadence is due.
func (s *Session) maybeCapture() {
	if s.opts.Snaps <= 0 {
		return
	}
	if s.framesRead < s.lastSnapshot+s.opts.Snaps*core.FramesPerSecond {
		return
	}
	if !s.state.Frame.Valid || s.fileSize <= 0 {
		return
	}
	pos := s.reader.Offset()
	if pos < s.fileOffset {
		return
	}

	data := snapshot.Build(s.state.Scratch, s.state)
	if data == nil {
		s.logger.Warn("Snapshot overflowed", "frame", s.framesRead)
		return
	}
	s.snaps.Append(snapshot.Entry{Frame: s.framesRead, Offset: pos, Data: data})
	s.lastSnapshot = s.framesRead
	s.logger.Debug("Captured snapshot", "frame", s.framesRead, "size", len(data))
}

func (s *Session) updateStatus() {
	if s.fileSize <= 0 {
		return
	}
	pos := s.reader.Offset()
	if pos > s.fileOffset {
		s.filePercent = int((pos - s.fileOffset) * 100 / s.fileSize)
	} else {
		s.filePercent = 0
	}
}

// TimeDemoResult is the rate a timedemo played at.
type TimeDemoResult struct {
	Frames  int
	Seconds float64
	FPS     float64
}

// Close ends the playback, releasing the source when it is closable.
func (s *Session) Close() (TimeDemoResult, error) {
	var res TimeDemoResult
	if s.opts.TimeDemo && s.timeFrames > 0 {
		if elapsed := time.Since(s.timeStart); elapsed > 0 {
			res.Frames = s.timeFrames
			res.Seconds = elapsed.Seconds()
			res.FPS = float64(s.timeFrames) / res.Seconds
			s.logger.Info(fmt.Sprintf("%d frames, %3.1f seconds: %3.1f fps", res.Frames, res.Seconds, res.FPS))
		}
	}

	if size := s.snaps.Size(); size > 0 {
		s.logger.Debug("Freed snapshots", "bytes", size)
	}
	s.snaps.Reset()
	s.finished = true

	if c, ok := s.src.(io.Closer); ok {
		return res, c.Close()
	}
	return res, nil
}
