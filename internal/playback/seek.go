package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/pkg/core"
)

// ErrSeekUnavailable is returned for a backward seek when no snapshot was
// captured yet.
var ErrSeekUnavailable = errors.New("couldn't seek backwards without snapshots")

// ErrInvalidTimespec is returned for malformed seek targets.
var ErrInvalidTimespec = errors.New("invalid timespec")

// Target is a seek destination in frames.
type Target struct {
	// Relative targets are offsets from the current frame; others count
	// from the first frame.
	Relative bool
	Frames   int
}

// ParseTarget parses "[+-]<timespec>". A sign makes the target relative.
func ParseTarget(spec string) (Target, error) {
	var t Target
	sign := 1
	switch {
	case strings.HasPrefix(spec, "+"):
		t.Relative = true
		spec = spec[1:]
	case strings.HasPrefix(spec, "-"):
		t.Relative = true
		sign = -1
		spec = spec[1:]
	}
	frames, err := ParseTimespec(spec)
	if err != nil {
		return Target{}, err
	}
	t.Frames = sign * frames
	return t, nil
}

// ParseTimespec converts "s", "s.f", "m:s" or "m:s.f" to a frame count at
// 10 frames per second. The fraction counts frames.
func ParseTimespec(spec string) (int, error) {
	minutes, rest, hasMinutes := strings.Cut(spec, ":")
	if !hasMinutes {
		rest, minutes = minutes, ""
	}
	secs, frac, hasFrac := strings.Cut(rest, ".")

	num := func(s string) (int, bool) {
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseUint(s, 10, 31)
		return int(n), err == nil
	}

	var frames int
	if hasMinutes {
		m, ok := num(minutes)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimespec, spec)
		}
		frames += m * 60 * core.FramesPerSecond
	}
	sec, ok := num(secs)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimespec, spec)
	}
	frames += sec * core.FramesPerSecond
	if hasFrac {
		f, ok := num(frac)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimespec, spec)
		}
		frames += f
	}
	return frames, nil
}

// FormatFrames renders a frame count as "m:ss.f".
func FormatFrames(frames int) string {
	sign := ""
	if frames < 0 {
		sign, frames = "-", -frames
	}
	secs := frames / core.FramesPerSecond
	return fmt.Sprintf("%s%d:%02d.%d", sign, secs/60, secs%60, frames%core.FramesPerSecond)
}

// Seek moves playback to the target frame. Backward seeks, and forward
// seeks past the last snapshot, restore the closest earlier snapshot and
// replay from there with effects suppressed.
func (s *Session) Seek(t Target) error {
	if s.finished {
		return ErrFinished
	}
	st := s.state
	if st.Conn != client.Active {
		return ErrNotActive
	}

	var dest, frames int
	if t.Relative {
		frames = t.Frames
		dest = s.framesRead + frames
	} else {
		dest = t.Frames
		frames = dest - s.framesRead
	}

	if frames == 0 {
		// already there
		return nil
	}
	if frames > 0 && s.eof && s.opts.Wait {
		// already at the end
		return nil
	}

	s.seeking = true
	defer func() { s.seeking = false }()

	st.Dirty.ClearAll()
	prev := st.Frame.Number

	s.logger.Debug("Seeking", "from", s.framesRead, "to", dest)

	if frames < 0 || s.lastSnapshot > s.framesRead {
		snap, ok := s.snaps.Floor(dest)
		switch {
		case ok:
			if err := s.reader.SeekTo(snap.Offset); err != nil {
				s.logger.Error("Couldn't seek demo", "error", err)
				return err
			}
			s.eof = false

			for i := range st.ConfigStrings {
				if st.ConfigStrings[i] == st.BaseConfigStrings[i] {
					continue
				}
				st.Dirty.Set(i)
				st.ConfigStrings[i] = st.BaseConfigStrings[i]
			}

			if err := s.parser.Parse(snap.Data, client.ModeSeek); err != nil {
				return s.finish(fmt.Errorf("couldn't parse snapshot: %w", err))
			}
			s.framesRead = snap.Frame
		case frames < 0:
			return ErrSeekUnavailable
		}
	}

	for s.framesRead < dest {
		rec, err := s.readNext()
		if err != nil {
			return s.finish(fmt.Errorf("couldn't read demo: %w", err))
		}
		if rec.Type == demofile.RecordEnd {
			if s.opts.Wait {
				s.eof = true
				break
			}
			return s.finish(ErrFinished)
		}
		if rec.Type == demofile.RecordServerMessage {
			if err := s.parser.Parse(rec.Data, client.ModeSeek); err != nil {
				return s.finish(fmt.Errorf("couldn't parse demo: %w", err))
			}
		}
		s.maybeCapture()
	}

	st.Dirty.Each(st.UpdateConfigString)

	// don't lerp from the frame before the seek
	st.OldFrame = core.Frame{}
	if s.deps.ClearEffects != nil {
		s.deps.ClearEffects()
	}

	st.ServerDelta += st.Frame.Number - prev
	st.DeltaFrame()

	if s.recording() {
		if err := s.rec.Resume(); err != nil {
			s.logger.Warn("Recording stopped", "error", err)
		}
	}

	s.updateStatus()
	s.logger.Debug("Seek done", "frame", s.framesRead, "server_frame", st.Frame.Number)
	return nil
}
