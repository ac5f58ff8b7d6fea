// Package recorder writes the observed client state to a demo file.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/demofs"
	"github.com/q2demo/demorec/internal/differ"
	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

var (
	// ErrBudgetExceeded is returned by EmitFrame when the frame does not fit
	// into the pending record. The frame is dropped.
	ErrBudgetExceeded = errors.New("demo frame exceeds message budget")
	// ErrNotActive is returned when recording starts outside of a level.
	ErrNotActive = errors.New("must be in a level to record")
	// ErrStopped is returned by calls on a session that was torn down.
	ErrStopped = errors.New("not recording a demo")
)

// dropWarnThreshold is the number of dropped frames, at fewer than
// dropWarnFrames written frames, after which the budget warning is logged.
const (
	dropWarnThreshold = 50
	dropWarnFrames    = 10
)

// Options configure a recording.
type Options struct {
	Format      demofile.Format
	Compression demofs.Compression
	// MsgLen is the record size budget. It is clamped to
	// [core.MinPacketLen, core.MaxPacketLenWritable].
	MsgLen int
}

// ClampMsgLen bounds a configured record budget.
func ClampMsgLen(n int) int {
	switch {
	case n < core.MinPacketLen:
		return core.MinPacketLen
	case n > core.MaxPacketLenWritable:
		return core.MaxPacketLenWritable
	default:
		return n
	}
}

// Stats summarise a finished recording.
type Stats struct {
	ID              uuid.UUID
	Name            string
	Format          demofile.Format
	Started         time.Time
	FramesWritten   int
	FramesDropped   int
	MessagesDropped int
	Bytes           int64
}

// Duration is the recorded game time.
func (s Stats) Duration() time.Duration {
	return time.Duration(s.FramesWritten) * core.FrameTime * time.Millisecond
}

// StatsSink receives the statistics of stopped recordings.
type StatsSink interface {
	WriteRecording(ctx context.Context, st Stats) error
}

// MultiSink reports to every sink, joining their errors.
type MultiSink []StatsSink

func (m MultiSink) WriteRecording(ctx context.Context, st Stats) error {
	var errs []error
	for _, s := range m {
		if err := s.WriteRecording(ctx, st); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Deps are the optional collaborators of a session.
type Deps struct {
	Logger *slog.Logger
	Sink   StatsSink
}

// Session is one demo being recorded.
type Session struct {
	id      uuid.UUID
	name    string
	state   *client.State
	out     io.Closer
	w       *demofile.Writer
	buffer  *msg.Buffer
	flags   msg.EntityFlags
	logger  *slog.Logger
	sink    StatsSink
	started time.Time

	stopped         bool
	paused          bool
	lastServerFrame int32
	framesWritten   int
	framesDropped   int
	othersDropped   int
}

// Start creates path and begins recording the state into it.
func Start(path string, state *client.State, opts Options, deps Deps) (*Session, error) {
	if state.Conn != client.Active {
		return nil, ErrNotActive
	}
	out, err := demofs.Create(path, opts.Compression)
	if err != nil {
		return nil, &demofile.IOError{Op: "create", Err: err}
	}
	s, err := New(path, out, state, opts, deps)
	if err != nil {
		out.Close()
		return nil, err
	}
	if err := s.Begin(); err != nil {
		return nil, err
	}
	return s, nil
}

// New prepares a session writing to dest. The extended format magic is
// written immediately; the header follows with Begin.
func New(name string, dest io.WriteCloser, state *client.State, opts Options, deps Deps) (*Session, error) {
	w, err := demofile.NewWriter(dest, opts.Format)
	if err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:              uuid.New(),
		name:            name,
		state:           state,
		out:             dest,
		w:               w,
		buffer:          msg.NewBuffer(ClampMsgLen(opts.MsgLen)),
		sink:            deps.Sink,
		started:         time.Now(),
		lastServerFrame: -1,
	}
	if opts.Format == demofile.FormatExtended {
		s.flags = state.ESFlags & msg.ESLongSolid
	}
	s.logger = logger.With("demo", name, "session", s.id.String())
	state.Dirty.ClearAll()
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Name returns the demo path.
func (s *Session) Name() string { return s.name }

// Active reports whether the session still accepts data.
func (s *Session) Active() bool { return !s.stopped }

// Paused reports whether recording is suspended.
func (s *Session) Paused() bool { return s.paused }

// Begin writes the header record: server data, config strings, baselines
// and the precache command. It is split into several records when it
// exceeds the budget.
func (s *Session) Begin() error {
	st := s.state
	b := st.Scratch
	defer b.Clear()

	extended := s.w.Format() == demofile.FormatExtended

	sd := st.ServerData
	if !extended {
		sd.Protocol = core.ProtocolDefault
	}
	sd.ServerCount += 0x10000
	sd.AttractLoop = true
	sd.LevelName = st.ConfigStrings[core.CSName]
	msg.WriteServerData(b, &sd, extended)

	budget := s.buffer.Cap()
	for i, cs := range st.ConfigStrings {
		if cs == "" {
			continue
		}
		if b.Len()+msg.ConfigStringSize(cs) > budget {
			if err := s.WriteMessage(b); err != nil {
				return err
			}
		}
		msg.WriteConfigString(b, i, cs)
	}

	for i := 1; i < core.MaxEdicts; i++ {
		ent := &st.Baselines[i]
		if ent.Number == 0 {
			continue
		}
		if b.Len()+msg.MaxEntitySize+1 > budget {
			if err := s.WriteMessage(b); err != nil {
				return err
			}
		}
		b.WriteUint8(msg.SvcSpawnBaseline)
		msg.WriteDeltaEntity(b, nil, ent, msg.ESForce|s.flags)
	}

	b.WriteUint8(msg.SvcStuffText)
	b.WriteString("precache\n")

	return s.WriteMessage(b)
}

// WriteMessage writes buf as one server message record and clears it. An
// empty buffer writes nothing. A write failure stops the session.
func (s *Session) WriteMessage(buf *msg.Buffer) error {
	if s.stopped {
		return ErrStopped
	}
	if buf.Overflowed() {
		buf.Clear()
		s.logger.Warn("Demo message overflowed (should never happen)")
		return nil
	}
	if buf.Len() == 0 {
		return nil
	}

	meta := demofile.Prediction{
		AckedSample: s.state.AcknowledgedSample(),
		ElapsedMsec: s.state.Cmd.Msec,
	}
	err := s.w.WriteServerMessage(meta, buf.Bytes())
	buf.Clear()
	if err != nil {
		s.logger.Error("Couldn't write demo", "error", err)
		s.teardown()
		return err
	}
	return nil
}

// Flush writes the pending record.
func (s *Session) Flush() error {
	return s.WriteMessage(s.buffer)
}

// WriteInputSample records an input command. Only the extended format
// stores input samples.
func (s *Session) WriteInputSample(sample demofile.InputSample) error {
	if s.stopped {
		return ErrStopped
	}
	err := s.w.WriteInputSample(sample)
	if err != nil {
		s.logger.Error("Couldn't write demo", "error", err)
		s.teardown()
	}
	return err
}

// EmitFrame appends the delta from the last written frame to the current
// one to the pending record. Frames that do not fit are dropped and the
// delta base stays on the last written frame.
func (s *Session) EmitFrame() error {
	st := s.state
	if s.stopped {
		return ErrStopped
	}
	if !st.Frame.Valid {
		return nil
	}

	var from *core.Frame
	fromNum := int32(-1)
	if s.lastServerFrame != -1 {
		if from = st.HistoryFrame(s.lastServerFrame); from != nil {
			fromNum = int32(s.framesWritten)
		}
	}

	scratch := st.Scratch
	defer scratch.Clear()

	d := differ.Differ{
		Baseline:   st.Baseline,
		MaxClients: st.MaxClients,
		Flags:      s.flags,
	}
	d.EmitDeltaFrame(scratch, from, &st.Frame, fromNum, int32(s.framesWritten+1))

	if scratch.Overflowed() || s.buffer.Len()+scratch.Len() > s.buffer.Cap() {
		s.framesDropped++
		s.logger.Debug("Demo frame overflowed",
			"pending", s.buffer.Len(), "frame", scratch.Len(), "budget", s.buffer.Cap())
		if s.framesWritten < dropWarnFrames && s.framesDropped == dropWarnThreshold {
			s.logger.Warn(fmt.Sprintf("Too many demo frames don't fit into %d bytes. "+
				"Try to increase 'demo.msgLen' value and restart recording.", s.buffer.Cap()))
		}
		return ErrBudgetExceeded
	}

	s.buffer.WriteData(scratch.Bytes())
	s.lastServerFrame = st.Frame.Number
	s.framesWritten++
	return nil
}

// Passthrough copies a raw command into the pending record. Commands that
// do not fit are dropped and counted.
func (s *Session) Passthrough(data []byte) {
	if s.stopped || s.paused {
		return
	}
	if s.buffer.Len()+len(data) > s.buffer.Cap() {
		s.othersDropped++
		return
	}
	s.buffer.WriteData(data)
}

// Suspend pauses a running recording or resumes a paused one.
func (s *Session) Suspend() error {
	if s.stopped {
		return ErrStopped
	}
	if !s.paused {
		s.paused = true
		s.logger.Info("Suspended demo recording")
		return nil
	}
	if err := s.Resume(); err != nil {
		return err
	}
	s.paused = false
	s.logger.Info("Resumed demo recording")
	return nil
}

// Resume stitches the recording back onto the current state: changed
// config strings and an uncompressed frame are written, preferably as a
// single record.
func (s *Session) Resume() error {
	if s.stopped {
		return ErrStopped
	}
	st := s.state

	for index := range st.Dirty.All() {
		cs := st.ConfigStrings[index]
		if s.buffer.Len()+msg.ConfigStringSize(cs) > s.buffer.Cap() {
			if err := s.Flush(); err != nil {
				return err
			}
		}
		msg.WriteConfigString(s.buffer, index, cs)
	}

	s.lastServerFrame = -1
	if err := s.EmitFrame(); err != nil && !errors.Is(err, ErrBudgetExceeded) {
		return err
	}
	if err := s.Flush(); err != nil {
		return err
	}
	st.Dirty.ClearAll()
	return nil
}

// Stats returns the counters of the session so far.
func (s *Session) Stats() Stats {
	return Stats{
		ID:              s.id,
		Name:            s.name,
		Format:          s.w.Format(),
		Started:         s.started,
		FramesWritten:   s.framesWritten,
		FramesDropped:   s.framesDropped,
		MessagesDropped: s.othersDropped,
		Bytes:           s.w.Written(),
	}
}

// Status describes the recording progress, for example
// "12 kB, 1:02.3, 5 frames dropped".
func (s *Session) Status() string {
	return FormatStatus(s.Stats())
}

// FormatStatus renders recording statistics.
func FormatStatus(st Stats) string {
	frames := st.FramesWritten
	secs := frames / core.FramesPerSecond
	frames %= core.FramesPerSecond

	status := fmt.Sprintf("%s, %d:%02d.%d", humanize.Bytes(uint64(st.Bytes)), secs/60, secs%60, frames)
	if st.FramesDropped > 0 {
		status += fmt.Sprintf(", %d %s dropped", st.FramesDropped, plural(st.FramesDropped, "frame"))
	}
	if st.MessagesDropped > 0 {
		status += fmt.Sprintf(", %d %s dropped", st.MessagesDropped, plural(st.MessagesDropped, "message"))
	}
	return status
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}

// Stop finishes the demo with the end marker, closes the file and reports
// the statistics to the sink.
func (s *Session) Stop(ctx context.Context) (Stats, error) {
	if s.stopped {
		return Stats{}, ErrStopped
	}

	err := s.w.WriteEnd()
	stats := s.Stats()
	if cerr := s.teardown(); err == nil && cerr != nil {
		err = &demofile.IOError{Op: "close", Err: cerr}
	}

	s.logger.Info(fmt.Sprintf("Stopped demo (%s)", FormatStatus(stats)))

	if s.sink != nil {
		if serr := s.sink.WriteRecording(ctx, stats); serr != nil {
			s.logger.Warn("Failed to report demo statistics", "error", serr)
		}
	}
	return stats, err
}

func (s *Session) teardown() error {
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.paused = false
	s.buffer.Clear()
	return s.out.Close()
}
