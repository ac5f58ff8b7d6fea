package differ

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/q2demo/demorec/internal/client"
	"github.com/q2demo/demorec/internal/msg"
	"github.com/q2demo/demorec/pkg/core"
)

func ent(num int, x int32) core.EntityState {
	return core.EntityState{Number: num, Origin: [3]int32{x, 0, 0}, ModelIndex: 1}
}

type header struct {
	num    int
	remove bool
}

func readHeaders(t *testing.T, data []byte, flags msg.EntityFlags) []header {
	t.Helper()
	r := msg.NewReader(data)
	var out []header
	for {
		num, bits := msg.ReadEntityHeader(r)
		require.NoError(t, r.Err())
		if num == 0 {
			break
		}
		out = append(out, header{num: num, remove: msg.IsRemove(bits)})
		if !msg.IsRemove(bits) {
			msg.ReadDeltaEntity(r, &core.EntityState{}, num, bits, flags)
		}
	}
	assert.True(t, r.Done())
	return out
}

func TestEmitPacketEntitiesMerge(t *testing.T) {
	from := &core.Frame{Entities: []core.EntityState{ent(1, 0), ent(3, 0), ent(5, 0)}}
	to := &core.Frame{Entities: []core.EntityState{ent(3, 0), ent(5, 8), ent(7, 0)}}

	d := &Differ{MaxClients: 1}
	b := msg.NewBuffer(core.MaxMessageLen)
	d.EmitPacketEntities(b, from, to)

	assert.Equal(t, []header{
		{num: 1, remove: true},
		{num: 5},
		{num: 7},
	}, readHeaders(t, b.Bytes(), 0))
}

func TestEmitPacketEntitiesRefreshesPlayers(t *testing.T) {
	from := &core.Frame{Entities: []core.EntityState{ent(1, 0), ent(2, 0)}}
	to := &core.Frame{Entities: []core.EntityState{ent(1, 0), ent(2, 0)}}

	d := &Differ{MaxClients: 1}
	b := msg.NewBuffer(core.MaxMessageLen)
	d.EmitPacketEntities(b, from, to)

	assert.Equal(t, []header{{num: 1}}, readHeaders(t, b.Bytes(), 0))
}

func TestEmitPacketEntitiesHighNumbers(t *testing.T) {
	from := &core.Frame{Entities: []core.EntityState{ent(1000, 0)}}
	to := &core.Frame{Entities: []core.EntityState{ent(1022, 0), ent(1023, 0)}}

	d := &Differ{}
	b := msg.NewBuffer(core.MaxMessageLen)
	d.EmitPacketEntities(b, from, to)

	assert.Equal(t, []header{
		{num: 1000, remove: true},
		{num: 1022},
		{num: 1023},
	}, readHeaders(t, b.Bytes(), 0))
}

func TestEmitPacketEntitiesEmpty(t *testing.T) {
	d := &Differ{}
	b := msg.NewBuffer(16)
	d.EmitPacketEntities(b, nil, &core.Frame{})
	assert.Equal(t, []byte{0, 0}, b.Bytes())
}

func TestNewEntityUsesBaseline(t *testing.T) {
	base := core.EntityState{Number: 4, ModelIndex: 9, Solid: 0x0101}
	d := &Differ{Baseline: func(num int) *core.EntityState {
		if num == 4 {
			return &base
		}
		return nil
	}}
	to := &core.Frame{Entities: []core.EntityState{{Number: 4, ModelIndex: 9, Solid: 0x0101, Frame: 2}}}

	b := msg.NewBuffer(core.MaxMessageLen)
	d.EmitPacketEntities(b, nil, to)

	r := msg.NewReader(b.Bytes())
	num, bits := msg.ReadEntityHeader(r)
	got := msg.ReadDeltaEntity(r, &base, num, bits, 0)
	assert.Equal(t, to.Entities[0], got)

	// only frame and old origin differ from the baseline
	wantLen := 2 + 4 + 4 + 3*4 + 2
	assert.Equal(t, wantLen, b.Len())
}

func TestDeltaFrameRoundTrip(t *testing.T) {
	st := client.NewState()
	st.Baselines[2] = core.EntityState{Number: 2, ModelIndex: 3}
	parser := client.NewParser(st, client.Hooks{})

	d := &Differ{Baseline: st.Baseline, MaxClients: 1}

	f1 := &core.Frame{
		Number:   1,
		AreaBits: []byte{0xFF},
		Entities: []core.EntityState{{Number: 2, ModelIndex: 3, Origin: [3]int32{5, 5, 5}}, ent(6, 1)},
	}
	f1.PS.Origin = [3]int32{1, 2, 3}

	f2 := f1.Clone()
	f2.Number = 2
	f2.PS.Origin[0] = 10
	f2.Entities = []core.EntityState{{Number: 2, ModelIndex: 3, Origin: [3]int32{5, 6, 5}}, ent(8, 4)}

	b := msg.NewBuffer(core.MaxMessageLen)
	d.EmitDeltaFrame(b, nil, f1, -1, 1)
	require.NoError(t, parser.Parse(b.Bytes(), client.ModeNormal))
	require.True(t, st.Frame.Valid)
	assert.Equal(t, f1.Entities, st.Frame.Entities)
	assert.Equal(t, f1.PS, st.Frame.PS)
	assert.Equal(t, f1.AreaBits, st.Frame.AreaBits)

	b.Clear()
	d.EmitDeltaFrame(b, f1, &f2, 1, 2)
	require.NoError(t, parser.Parse(b.Bytes(), client.ModeNormal))
	require.True(t, st.Frame.Valid)
	assert.Equal(t, int32(2), st.Frame.Number)
	assert.Equal(t, f2.Entities, st.Frame.Entities)
	assert.Equal(t, f2.PS, st.Frame.PS)
	assert.Equal(t, int32(1), st.OldFrame.Number)
}
