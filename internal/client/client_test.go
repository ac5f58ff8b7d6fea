package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

type recorded struct {
	configs     []int
	frames      []int32
	effects     []int
	stuff       []string
	passthrough [][]byte
}

func (rec *recorded) hooks() Hooks {
	return Hooks{
		ConfigString: func(index int) { rec.configs = append(rec.configs, index) },
		Frame:        func(f *core.Frame) { rec.frames = append(rec.frames, f.Number) },
		Effect:       func(cmd int, _ string) { rec.effects = append(rec.effects, cmd) },
		StuffText:    func(text string) { rec.stuff = append(rec.stuff, text) },
		Passthrough: func(data []byte) {
			rec.passthrough = append(rec.passthrough, append([]byte(nil), data...))
		},
	}
}

func serverData() *msg.Buffer {
	b := msg.NewBuffer(core.MaxMessageLen)
	msg.WriteServerData(b, &core.ServerData{
		Protocol:        core.ProtocolQ2PRO,
		ProtocolVersion: 1024,
		LevelName:       "The Edge",
	}, true)
	return b
}

func TestParseServerDataConnects(t *testing.T) {
	st := NewState()
	st.Conn = Active
	st.ConfigStrings[7] = "stale"

	p := NewParser(st, Hooks{})
	b := serverData()
	b.WriteUint8(msg.SvcStuffText)
	b.WriteString("precache\n")

	require.NoError(t, p.Parse(b.Bytes(), ModeNormal))
	assert.Equal(t, Active, st.Conn)
	assert.Equal(t, msg.ESLongSolid, st.ESFlags)
	assert.Equal(t, "The Edge", st.ConfigStrings[core.CSName])
	assert.Empty(t, st.ConfigStrings[7])
}

func TestParseConfigStringModes(t *testing.T) {
	st := NewState()
	var rec recorded
	p := NewParser(st, rec.hooks())

	b := msg.NewBuffer(256)
	msg.WriteConfigString(b, core.CSMaxClients, "4")
	require.NoError(t, p.Parse(b.Bytes(), ModeNormal))
	assert.Equal(t, 4, st.MaxClients)
	assert.Equal(t, []int{core.CSMaxClients}, rec.configs)
	assert.True(t, st.Dirty.Empty())
	require.Len(t, rec.passthrough, 1)
	assert.Equal(t, b.Bytes(), rec.passthrough[0])

	b.Clear()
	msg.WriteConfigString(b, core.CSModels+1, "maps/q2dm1.bsp")
	require.NoError(t, p.Parse(b.Bytes(), ModeSeek))
	assert.Equal(t, "maps/q2dm1.bsp", st.ConfigStrings[core.CSModels+1])
	assert.True(t, st.Dirty.IsSet(core.CSModels+1))
	assert.Len(t, rec.configs, 1)
}

func TestParseBadConfigStringIndex(t *testing.T) {
	p := NewParser(NewState(), Hooks{})
	b := msg.NewBuffer(256)
	msg.WriteConfigString(b, core.MaxConfigStrings, "x")
	assert.Error(t, p.Parse(b.Bytes(), ModeNormal))
}

func TestParseEffectsSuppressedWhileSeeking(t *testing.T) {
	st := NewState()
	var rec recorded
	p := NewParser(st, rec.hooks())

	b := msg.NewBuffer(256)
	b.WriteUint8(msg.SvcPrint)
	b.WriteUint8(2)
	b.WriteString("hello\n")
	b.WriteUint8(msg.SvcCenterPrint)
	b.WriteString("fight")
	b.WriteUint8(msg.SvcSound)
	b.WriteInt16(1)
	b.WriteUint16(2)
	b.WriteUint8(msg.SvcLayout)
	b.WriteString("xv 0")

	require.NoError(t, p.Parse(b.Bytes(), ModeSeek))
	assert.Empty(t, rec.effects)
	assert.Equal(t, "xv 0", st.Layout)
	assert.Len(t, rec.passthrough, 4)

	require.NoError(t, p.Parse(b.Bytes(), ModeNormal))
	assert.Equal(t, []int{msg.SvcPrint, msg.SvcCenterPrint, msg.SvcSound}, rec.effects)
}

func TestParseStuffText(t *testing.T) {
	st := NewState()
	var rec recorded
	p := NewParser(st, rec.hooks())

	b := msg.NewBuffer(256)
	b.WriteUint8(msg.SvcStuffText)
	b.WriteString("precache\n")
	b.WriteUint8(msg.SvcStuffText)
	b.WriteString("echo hi\n")
	b.WriteUint8(msg.SvcNop)

	require.NoError(t, p.Parse(b.Bytes(), ModeNormal))
	assert.Equal(t, Disconnected, st.Conn)
	assert.Equal(t, []string{"echo hi\n"}, rec.stuff)
	assert.Empty(t, rec.passthrough)
}

func TestParseDisconnectAndIllegal(t *testing.T) {
	p := NewParser(NewState(), Hooks{})
	assert.ErrorIs(t, p.Parse([]byte{msg.SvcNop, msg.SvcDisconnect}, ModeNormal), ErrDisconnect)
	assert.ErrorContains(t, p.Parse([]byte{msg.SvcNop, 99}, ModeNormal), "illegal server message 99 at offset 1")
	assert.ErrorIs(t, p.Parse([]byte{msg.SvcLayout, 'a'}, ModeNormal), msg.ErrShortRead)
}

func frameMsg(num, delta int32, ents ...core.EntityState) []byte {
	b := msg.NewBuffer(core.MaxMessageLen)
	b.WriteUint8(msg.SvcFrame)
	b.WriteInt32(num)
	b.WriteInt32(delta)
	b.WriteUint8(0)
	b.WriteUint8(0)
	b.WriteUint8(msg.SvcPlayerInfo)
	msg.WriteDeltaPlayer(b, nil, &core.PlayerState{})
	b.WriteUint8(msg.SvcPacketEntities)
	for i := range ents {
		msg.WriteDeltaEntity(b, nil, &ents[i], msg.ESForce)
	}
	b.WriteUint16(0)
	return b.Bytes()
}

func TestParseFrameDeltaFromExpiredFrame(t *testing.T) {
	st := NewState()
	var rec recorded
	p := NewParser(st, rec.hooks())

	require.NoError(t, p.Parse(frameMsg(1, -1, core.EntityState{Number: 3, ModelIndex: 1}), ModeNormal))
	require.True(t, st.Frame.Valid)
	assert.Equal(t, []int32{1}, rec.frames)

	require.NoError(t, p.Parse(frameMsg(2, 1), ModeNormal))
	require.True(t, st.Frame.Valid)
	assert.Len(t, st.Frame.Entities, 1)
	assert.NotNil(t, st.HistoryFrame(2))

	require.NoError(t, p.Parse(frameMsg(40, 20), ModeNormal))
	assert.False(t, st.Frame.Valid)
	assert.Equal(t, []int32{1, 2}, rec.frames)
	assert.Nil(t, st.HistoryFrame(40))
}

func TestParseBaseline(t *testing.T) {
	st := NewState()
	p := NewParser(st, Hooks{})

	b := msg.NewBuffer(256)
	b.WriteUint8(msg.SvcSpawnBaseline)
	msg.WriteDeltaEntity(b, nil, &core.EntityState{Number: 12, ModelIndex: 2}, msg.ESForce)
	require.NoError(t, p.Parse(b.Bytes(), ModeNormal))
	assert.Equal(t, int32(2), st.Baseline(12).ModelIndex)
	assert.Nil(t, st.Baseline(core.MaxEdicts))
}

func TestHistoryFrameRequiresMatchingNumber(t *testing.T) {
	st := NewState()
	st.Frames[3] = core.Frame{Valid: true, Number: 3}
	assert.NotNil(t, st.HistoryFrame(3))
	assert.Nil(t, st.HistoryFrame(3+core.UpdateBackup))

	st.Frames[3].Valid = false
	assert.Nil(t, st.HistoryFrame(3))
}

func TestAcknowledgedSample(t *testing.T) {
	st := NewState()
	st.History[5] = 42
	st.IncomingAcknowledged = 5 + core.CmdBackup
	assert.Equal(t, uint32(42), st.AcknowledgedSample())
}

func TestUpdateConfigStringMaxClients(t *testing.T) {
	st := NewState()
	st.ConfigStrings[core.CSMaxClients] = "bogus"
	st.UpdateConfigString(core.CSMaxClients)
	assert.Equal(t, core.MaxClients, st.MaxClients)

	st.ConfigStrings[core.CSMaxClients] = "16"
	st.UpdateConfigString(core.CSMaxClients)
	assert.Equal(t, 16, st.MaxClients)
}

func TestServerTime(t *testing.T) {
	st := NewState()
	st.Frame.Number = 100
	st.FirstFrame()
	st.Frame.Number = 112
	st.DeltaFrame()
	assert.Equal(t, 1200, st.ServerTime)
}

func TestBitmapEachAscending(t *testing.T) {
	var bm Bitmap
	for _, i := range []int{core.MaxConfigStrings - 1, 40, 0, 31, 32} {
		bm.Set(i)
	}
	var got []int
	bm.Each(func(i int) { got = append(got, i) })
	assert.Equal(t, []int{0, 31, 32, 40, core.MaxConfigStrings - 1}, got)
	assert.False(t, bm.Empty())

	bm.ClearAll()
	assert.True(t, bm.Empty())
}

func TestAngles(t *testing.T) {
	assert.InDelta(t, 90.0, ShortToAngle(AngleToShort(90)), 0.01)
	assert.InDelta(t, -90.0, ShortToAngle(AngleToShort(270)), 0.01)
	assert.InDelta(t, 365.0, LerpAngle(350, 20, 0.5), 0.0001)
	assert.InDelta(t, -5.0, LerpAngle(10, 340, 0.5), 0.0001)
}
