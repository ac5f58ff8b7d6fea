package msg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q2demo/demorec/pkg/core"
)

func TestBufferLittleEndian(t *testing.T) {
	b := NewBuffer(32)
	b.WriteUint8(0x01)
	b.WriteInt16(-2)
	b.WriteUint32(0x04030201)
	b.WriteString("hi")

	assert.Equal(t, []byte{0x01, 0xFE, 0xFF, 0x01, 0x02, 0x03, 0x04, 'h', 'i', 0}, b.Bytes())
	assert.Equal(t, 32, b.Cap())
	assert.False(t, b.Overflowed())
}

func TestBufferOverflowDropsContents(t *testing.T) {
	b := NewBuffer(4)
	b.WriteUint16(1)
	b.WriteUint32(2)
	assert.True(t, b.Overflowed())
	assert.Zero(t, b.Len())

	// ignored until cleared
	b.WriteUint8(1)
	assert.Zero(t, b.Len())

	b.Clear()
	b.WriteUint32(7)
	assert.False(t, b.Overflowed())
	assert.Equal(t, 4, b.Len())
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	assert.Equal(t, uint16(0x0201), r.ReadUint16())
	assert.Zero(t, r.ReadUint32())
	assert.ErrorIs(t, r.Err(), ErrShortRead)
	assert.True(t, r.Done())
	assert.Zero(t, r.ReadUint8())

	r.Reset([]byte{'a', 'b'})
	assert.NoError(t, r.Err())
	assert.Empty(t, r.ReadString())
	assert.ErrorIs(t, r.Err(), ErrShortRead)
}

func TestEntityDeltaRoundTrip(t *testing.T) {
	from := core.EntityState{Number: 12, Origin: [3]int32{1, 2, 3}, ModelIndex: 4, Solid: 0x1234}
	to := from
	to.Origin[1] = -50
	to.Angles = [3]int32{0, 45, 0}
	to.Effects = 0x80000001
	to.Solid = 0x00ABCDEF
	to.Event = 3

	b := NewBuffer(core.MaxMessageLen)
	WriteDeltaEntity(b, &from, &to, ESLongSolid)
	require.LessOrEqual(t, b.Len(), MaxEntitySize)

	r := NewReader(b.Bytes())
	num, bits := ReadEntityHeader(r)
	assert.Equal(t, 12, num)
	assert.False(t, IsRemove(bits))
	got := ReadDeltaEntity(r, &from, num, bits, ESLongSolid)
	require.NoError(t, r.Err())
	assert.True(t, r.Done())
	assert.Equal(t, to, got)
}

func TestEntityShortSolid(t *testing.T) {
	to := core.EntityState{Number: 2, Solid: 0x00ABCDEF}
	b := NewBuffer(64)
	WriteDeltaEntity(b, nil, &to, 0)

	r := NewReader(b.Bytes())
	num, bits := ReadEntityHeader(r)
	got := ReadDeltaEntity(r, &core.EntityState{}, num, bits, 0)
	assert.Equal(t, uint32(0xCDEF), got.Solid)
}

func TestEntityUnchangedWritesNothing(t *testing.T) {
	ent := core.EntityState{Number: 7, Origin: [3]int32{1, 1, 1}}
	b := NewBuffer(64)

	WriteDeltaEntity(b, &ent, &ent, 0)
	assert.Zero(t, b.Len())

	WriteDeltaEntity(b, &ent, &ent, ESForce)
	assert.Equal(t, 6, b.Len())

	b.Clear()
	WriteDeltaEntity(b, &ent, &ent, ESNewEntity)
	r := NewReader(b.Bytes())
	_, bits := ReadEntityHeader(r)
	assert.Equal(t, uOldOrigin, bits)
}

func TestEntityEventIsTransient(t *testing.T) {
	from := core.EntityState{Number: 3, Event: 5}
	to := core.EntityState{Number: 3}

	b := NewBuffer(64)
	WriteDeltaEntity(b, &from, &to, 0)
	r := NewReader(b.Bytes())
	num, bits := ReadEntityHeader(r)
	got := ReadDeltaEntity(r, &from, num, bits, 0)
	assert.Zero(t, got.Event)
}

func TestEntityRemoval(t *testing.T) {
	from := core.EntityState{Number: 300}
	b := NewBuffer(64)
	WriteDeltaEntity(b, &from, nil, ESForce)

	r := NewReader(b.Bytes())
	num, bits := ReadEntityHeader(r)
	assert.Equal(t, 300, num)
	assert.True(t, IsRemove(bits))
	assert.True(t, r.Done())
}

func TestPlayerDeltaRoundTrip(t *testing.T) {
	var from core.PlayerState
	from.Origin = [3]int32{10, 20, 30}
	from.Stats[3] = 99

	to := from
	to.PMType = 2
	to.Velocity = [3]int32{-1, 0, 1}
	to.ViewAngles = [3]int16{100, -200, 0}
	to.ViewOffset = [3]int8{0, 0, 22}
	to.GunIndex = 5
	to.FOV = 90
	to.Stats[3] = 0
	to.Stats[31] = -7

	b := NewBuffer(core.MaxMessageLen)
	WriteDeltaPlayer(b, &from, &to)
	r := NewReader(b.Bytes())
	assert.Equal(t, to, ReadDeltaPlayer(r, &from))
	require.NoError(t, r.Err())
	assert.True(t, r.Done())

	b.Clear()
	WriteDeltaPlayer(b, nil, &to)
	r.Reset(b.Bytes())
	assert.Equal(t, to, ReadDeltaPlayer(r, nil))
}

func TestServerDataRoundTrip(t *testing.T) {
	tests := []core.ServerData{
		{Protocol: core.ProtocolDefault, ServerCount: 0x10001, AttractLoop: true, GameDir: "baseq2", ClientNum: 1, LevelName: "q2dm1"},
		{Protocol: core.ProtocolR1Q2, ProtocolVersion: 1905, GameDir: "ctf", LevelName: "x", Physics: core.PhysicsParams{StrafeHack: true}},
		{Protocol: core.ProtocolQ2PRO, ProtocolVersion: 1021, ServerState: 2, LevelName: "x", Physics: core.PhysicsParams{QWMode: true}},
		{Protocol: core.ProtocolQ2PRO, ProtocolVersion: 1024, ServerState: 2, LevelName: "x", Physics: core.PhysicsParams{WaterHack: true}},
	}
	for _, sd := range tests {
		b := NewBuffer(256)
		WriteServerData(b, &sd, true)

		r := NewReader(b.Bytes())
		require.Equal(t, uint8(SvcServerData), r.ReadUint8())
		got, err := ReadServerData(r)
		require.NoError(t, err)
		assert.Equal(t, sd, got)
		assert.True(t, r.Done())
	}
}

func TestServerDataRejectsUnknownProtocol(t *testing.T) {
	b := NewBuffer(256)
	WriteServerData(b, &core.ServerData{Protocol: 99}, true)
	r := NewReader(b.Bytes()[1:])
	_, err := ReadServerData(r)
	assert.Error(t, err)
}

func TestEntityFlagsFor(t *testing.T) {
	assert.Equal(t, ESLongSolid, EntityFlagsFor(&core.ServerData{Protocol: core.ProtocolQ2PRO, ProtocolVersion: Q2PROLongSolid}))
	assert.Zero(t, EntityFlagsFor(&core.ServerData{Protocol: core.ProtocolQ2PRO, ProtocolVersion: Q2PROLongSolid - 1}))
	assert.Zero(t, EntityFlagsFor(&core.ServerData{Protocol: core.ProtocolDefault}))
}

func TestConfigStringTruncated(t *testing.T) {
	long := strings.Repeat("a", 100)
	b := NewBuffer(256)
	WriteConfigString(b, 5, long)
	assert.Equal(t, ConfigStringSize(long), b.Len())
	assert.Equal(t, core.MaxQPath+4, b.Len())

	r := NewReader(b.Bytes())
	assert.Equal(t, uint8(SvcConfigString), r.ReadUint8())
	assert.Equal(t, int16(5), r.ReadInt16())
	assert.Equal(t, long[:core.MaxQPath], r.ReadString())
}
