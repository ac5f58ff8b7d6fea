package recorder

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/demofile"
	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type failAfter struct{ n int }

func (f *failAfter) Write(p []byte) (int, error) {
	if f.n <= 0 {
		return 0, io.ErrClosedPipe
	}
	f.n--
	return len(p), nil
}

func (f *failAfter) Close() error { return nil }

// switchWriter fails every write once fail is set.
type switchWriter struct {
	bytes.Buffer
	fail bool
}

func (w *switchWriter) Write(p []byte) (int, error) {
	if w.fail {
		return 0, io.ErrClosedPipe
	}
	return w.Buffer.Write(p)
}

func (w *switchWriter) Close() error { return nil }

type fakeSink struct{ got []Stats }

func (f *fakeSink) WriteRecording(_ context.Context, st Stats) error {
	f.got = append(f.got, st)
	return nil
}

func newTestState() *client.State {
	st := client.NewState()
	st.Conn = client.Active
	st.ServerData = core.ServerData{
		Protocol:        core.ProtocolQ2PRO,
		ProtocolVersion: 1024,
		ServerCount:     3,
		GameDir:         "baseq2",
		LevelName:       "The Edge",
	}
	st.ESFlags = msg.EntityFlagsFor(&st.ServerData)
	st.ConfigStrings[core.CSName] = "The Edge"
	st.ConfigStrings[core.CSMaxClients] = "4"
	st.ConfigStrings[core.CSModels+1] = "maps/q2dm1.bsp"
	st.ConfigStrings[core.CSModels+2] = "models/items/armor/body/tris.md2"
	st.ConfigStrings[core.CSPlayerSkins] = "Player\\male/grunt"
	st.MaxClients = 4
	st.Baselines[5] = core.EntityState{Number: 5, ModelIndex: 2, Origin: [3]int32{100, 200, 300}}
	return st
}

func entity(num int, x int32) core.EntityState {
	return core.EntityState{
		Number:     num,
		Origin:     [3]int32{x, x * 2, 16},
		Angles:     [3]int32{0, 90, 0},
		OldOrigin:  [3]int32{x - 1, x * 2, 16},
		ModelIndex: int32(num),
		Frame:      x % 7,
		Solid:      0x0F1F,
	}
}

func pushFrame(st *client.State, num int32, ents ...core.EntityState) {
	f := core.Frame{
		Valid:    true,
		Number:   num,
		AreaBits: []byte{0xFF, 0x01},
		Entities: ents,
	}
	f.PS.Origin = [3]int32{num * 8, 0, 24}
	f.PS.ViewAngles = [3]int16{0, int16(num), 0}
	f.PS.FOV = 90
	f.PS.Stats[1] = int16(100 - num)
	st.Frames[num&core.UpdateMask] = f
	st.OldFrame = st.Frame
	st.Frame = f
}

// replay parses a recorded demo and returns the resulting state and every
// frame the parser delivered.
func replay(t *testing.T, data []byte) (*client.State, []core.Frame) {
	t.Helper()
	st := client.NewState()
	var frames []core.Frame
	p := client.NewParser(st, client.Hooks{
		Frame: func(f *core.Frame) { frames = append(frames, f.Clone()) },
	})

	r, first, err := demofile.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, p.Parse(first, client.ModeNormal))
	for {
		rec, err := r.Next()
		require.NoError(t, err)
		if rec.Type == demofile.RecordEnd {
			break
		}
		if rec.Type == demofile.RecordServerMessage {
			require.NoError(t, p.Parse(rec.Data, client.ModeNormal))
		}
	}
	return st, frames
}

func assertSameFrame(t *testing.T, want, got core.Frame) {
	t.Helper()
	assert.Equal(t, want.PS, got.PS)
	assert.Equal(t, want.AreaBits, got.AreaBits)
	if len(want.Entities) == 0 {
		assert.Empty(t, got.Entities)
		return
	}
	assert.Equal(t, want.Entities, got.Entities)
}

func TestRecordRoundTrip(t *testing.T) {
	for _, format := range []demofile.Format{demofile.FormatVanilla, demofile.FormatExtended} {
		t.Run(format.String(), func(t *testing.T) {
			st := newTestState()
			var out bytes.Buffer
			s, err := New("test", nopCloser{&out}, st, Options{Format: format, MsgLen: 1390}, Deps{})
			require.NoError(t, err)
			require.NoError(t, s.Begin())

			var recorded []core.Frame
			steps := [][]core.EntityState{
				{entity(1, 10), entity(3, 30), entity(5, 50)},
				{entity(3, 31), entity(5, 50), entity(7, 70)},
				{entity(1, 12), entity(7, 71)},
				{},
			}
			for i, ents := range steps {
				pushFrame(st, int32(100+i), ents...)
				require.NoError(t, s.EmitFrame())
				require.NoError(t, s.Flush())
				recorded = append(recorded, st.Frame.Clone())
			}

			stats, err := s.Stop(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(steps), stats.FramesWritten)
			assert.Equal(t, int64(out.Len()), stats.Bytes)

			got, frames := replay(t, out.Bytes())
			assert.Equal(t, client.Active, got.Conn)
			assert.Equal(t, "The Edge", got.ConfigStrings[core.CSName])
			assert.Equal(t, "maps/q2dm1.bsp", got.ConfigStrings[core.CSModels+1])
			assert.Equal(t, 4, got.MaxClients)
			assert.Equal(t, st.Baselines[5], got.Baselines[5])
			assert.True(t, got.ServerData.AttractLoop)
			if format == demofile.FormatVanilla {
				assert.Equal(t, int32(core.ProtocolDefault), got.ServerData.Protocol)
			} else {
				assert.Equal(t, int32(core.ProtocolQ2PRO), got.ServerData.Protocol)
			}

			require.Len(t, frames, len(steps))
			for i := range steps {
				assert.Equal(t, int32(i+1), frames[i].Number)
				assertSameFrame(t, recorded[i], frames[i])
			}
		})
	}
}

func TestEmitFrameDropAccounting(t *testing.T) {
	st := newTestState()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s, err := New("drops", nopCloser{io.Discard}, st, Options{MsgLen: core.MinPacketLen}, Deps{Logger: logger})
	require.NoError(t, err)

	var big []core.EntityState
	for i := 1; i <= 60; i++ {
		big = append(big, entity(i, int32(i*100)))
	}

	for i := 0; i < 60; i++ {
		pushFrame(st, int32(i+1), big...)
		assert.ErrorIs(t, s.EmitFrame(), ErrBudgetExceeded)
		assert.Zero(t, st.Scratch.Len())
	}

	stats := s.Stats()
	assert.Equal(t, 60, stats.FramesDropped)
	assert.Equal(t, 0, stats.FramesWritten)
	assert.Equal(t, 1, strings.Count(logs.String(), "Too many demo frames"))
}

func TestDroppedFrameKeepsDeltaBase(t *testing.T) {
	st := newTestState()
	var out bytes.Buffer
	s, err := New("base", nopCloser{&out}, st, Options{Format: demofile.FormatVanilla, MsgLen: core.MinPacketLen}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Begin())

	pushFrame(st, 10, entity(1, 1))
	require.NoError(t, s.EmitFrame())
	require.NoError(t, s.Flush())
	assert.Equal(t, int32(10), s.lastServerFrame)

	var big []core.EntityState
	for i := 1; i <= 40; i++ {
		big = append(big, entity(i, int32(i*100)))
	}
	pushFrame(st, 11, big...)
	require.ErrorIs(t, s.EmitFrame(), ErrBudgetExceeded)
	assert.Equal(t, int32(10), s.lastServerFrame)

	pushFrame(st, 12, entity(1, 2))
	require.NoError(t, s.EmitFrame())
	require.NoError(t, s.Flush())
	_, err = s.Stop(context.Background())
	require.NoError(t, err)

	_, frames := replay(t, out.Bytes())
	require.Len(t, frames, 2)
	assert.Equal(t, int32(2), frames[1].Number)
	assert.Equal(t, int32(1), frames[1].Delta)
	assert.Equal(t, []core.EntityState{entity(1, 2)}, frames[1].Entities)
}

func TestPassthroughDropsWhenFull(t *testing.T) {
	st := newTestState()
	s, err := New("pass", nopCloser{io.Discard}, st, Options{MsgLen: core.MinPacketLen}, Deps{})
	require.NoError(t, err)

	s.Passthrough(make([]byte, 500))
	s.Passthrough(make([]byte, 20))
	assert.Equal(t, 1, s.Stats().MessagesDropped)
	assert.Equal(t, 500, s.buffer.Len())
}

func TestSuspendResume(t *testing.T) {
	st := newTestState()
	var out bytes.Buffer
	s, err := New("pause", nopCloser{&out}, st, Options{Format: demofile.FormatVanilla}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Begin())

	pushFrame(st, 1, entity(1, 1))
	require.NoError(t, s.EmitFrame())
	require.NoError(t, s.Flush())

	require.NoError(t, s.Suspend())
	assert.True(t, s.Paused())

	// changes while paused
	s.Passthrough([]byte{msg.SvcNop})
	assert.Zero(t, s.buffer.Len())
	st.ConfigStrings[core.CSModels+3] = "models/weapons/g_rail/tris.md2"
	st.Dirty.Set(core.CSModels + 3)
	pushFrame(st, 2, entity(1, 5))
	pushFrame(st, 3, entity(1, 6), entity(4, 40))

	require.NoError(t, s.Suspend())
	assert.False(t, s.Paused())
	assert.True(t, st.Dirty.Empty())

	_, err = s.Stop(context.Background())
	require.NoError(t, err)

	got, frames := replay(t, out.Bytes())
	assert.Equal(t, "models/weapons/g_rail/tris.md2", got.ConfigStrings[core.CSModels+3])
	require.Len(t, frames, 2)
	// the resumed frame is uncompressed
	assert.Equal(t, int32(-1), frames[1].Delta)
	assert.Equal(t, []core.EntityState{entity(1, 6), entity(4, 40)}, frames[1].Entities)
}

func TestResumeStopsAtFirstWriteError(t *testing.T) {
	st := newTestState()
	out := &switchWriter{}
	s, err := New("resume", out, st, Options{Format: demofile.FormatVanilla, MsgLen: core.MinPacketLen}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Begin())
	require.NoError(t, s.Suspend())

	// more than one record's worth of changed strings
	for i := 0; i < 40; i++ {
		st.ConfigStrings[core.CSSounds+i] = strings.Repeat("s", 40)
		st.Dirty.Set(core.CSSounds + i)
	}
	written := out.Len()
	out.fail = true

	err = s.Suspend()
	var ioErr *demofile.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.False(t, s.Active())
	assert.Zero(t, s.buffer.Len(), "config strings written after the failed flush")
	assert.Equal(t, written, out.Len())
}

func TestStopWritesEndAndReports(t *testing.T) {
	st := newTestState()
	var out bytes.Buffer
	sink := &fakeSink{}
	s, err := New("stop", nopCloser{&out}, st, Options{Format: demofile.FormatExtended}, Deps{Sink: sink})
	require.NoError(t, err)

	stats, err := s.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, s.Active())
	assert.Equal(t, []byte{1, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF}, out.Bytes()[4:])

	require.Len(t, sink.got, 1)
	assert.Equal(t, stats, sink.got[0])
	assert.Equal(t, s.ID(), stats.ID)

	_, err = s.Stop(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, s.EmitFrame(), ErrStopped)
}

func TestWriteFailureStopsSession(t *testing.T) {
	st := newTestState()
	s, err := New("fail", &failAfter{n: 0}, st, Options{Format: demofile.FormatVanilla}, Deps{})
	require.NoError(t, err)

	err = s.Begin()
	var ioErr *demofile.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.False(t, s.Active())
	assert.Zero(t, st.Scratch.Len())
}

func TestHeaderSplitsAcrossRecords(t *testing.T) {
	st := newTestState()
	for i := 0; i < 200; i++ {
		st.ConfigStrings[core.CSSounds+i] = strings.Repeat("s", 40)
	}

	var out bytes.Buffer
	s, err := New("split", nopCloser{&out}, st, Options{Format: demofile.FormatVanilla, MsgLen: core.MinPacketLen}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Begin())
	_, err = s.Stop(context.Background())
	require.NoError(t, err)

	r, first, err := demofile.NewReader(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(first), core.MinPacketLen)
	records := 1
	for {
		rec, err := r.Next()
		require.NoError(t, err)
		if rec.Type == demofile.RecordEnd {
			break
		}
		assert.LessOrEqual(t, len(rec.Data), core.MinPacketLen)
		records++
	}
	assert.Greater(t, records, 10)

	got, _ := replay(t, out.Bytes())
	assert.Equal(t, client.Active, got.Conn)
	for i := 0; i < 200; i++ {
		assert.Equal(t, st.ConfigStrings[core.CSSounds+i], got.ConfigStrings[core.CSSounds+i])
	}
}

func TestFormatStatus(t *testing.T) {
	assert.Equal(t, "12 kB, 1:02.3, 1 frame dropped, 2 messages dropped", FormatStatus(Stats{
		Bytes:           12000,
		FramesWritten:   623,
		FramesDropped:   1,
		MessagesDropped: 2,
	}))
	assert.Equal(t, "0 B, 0:00.0", FormatStatus(Stats{}))
}

func TestClampMsgLen(t *testing.T) {
	assert.Equal(t, core.MinPacketLen, ClampMsgLen(0))
	assert.Equal(t, 1390, ClampMsgLen(1390))
	assert.Equal(t, core.MaxPacketLenWritable, ClampMsgLen(1<<20))
}

func TestWriteInputSampleExtendedOnly(t *testing.T) {
	sample := demofile.InputSample{ID: 7, Cmd: core.UserCmd{Msec: 16, Forward: 400}}

	var vanilla bytes.Buffer
	s, err := New("v", nopCloser{&vanilla}, newTestState(), Options{Format: demofile.FormatVanilla}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.WriteInputSample(sample))
	assert.Zero(t, vanilla.Len())

	var ext bytes.Buffer
	st := newTestState()
	s, err = New("x", nopCloser{&ext}, st, Options{Format: demofile.FormatExtended}, Deps{})
	require.NoError(t, err)
	require.NoError(t, s.Begin())
	require.NoError(t, s.WriteInputSample(sample))
	_, err = s.Stop(context.Background())
	require.NoError(t, err)

	r, _, err := demofile.NewReader(bytes.NewReader(ext.Bytes()))
	require.NoError(t, err)
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, demofile.RecordInputSample, rec.Type)
	assert.Equal(t, sample, rec.Sample)
}

type failingSink struct{}

func (failingSink) WriteRecording(context.Context, Stats) error { return io.ErrUnexpectedEOF }

func TestMultiSink(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	st := Stats{Name: "x", FramesWritten: 3}

	err := MultiSink{a, failingSink{}, b}.WriteRecording(context.Background(), st)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []Stats{st}, a.got)
	assert.Equal(t, []Stats{st}, b.got)

	assert.NoError(t, MultiSink{}.WriteRecording(context.Background(), st))
}
