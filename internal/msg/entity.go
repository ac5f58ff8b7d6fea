package msg

import "github.com/q2demo/demorec/pkg/core"

// EntityFlags modify how an entity delta is written.
type EntityFlags uint8

const (
	// ESForce writes the entity header even when nothing changed.
	ESForce EntityFlags = 1 << iota
	// ESNewEntity always resends the old origin.
	ESNewEntity
	// ESLongSolid encodes the solid field as 32 bits.
	ESLongSolid
)

// Entity field bits.
const (
	uOrigin1 uint32 = 1 << iota
	uOrigin2
	uOrigin3
	uAngle1
	uAngle2
	uAngle3
	uOldOrigin
	uModel
	uModel2
	uFrame
	uSkin
	uEffects
	uRenderFx
	uSolid
	uSound
	uEvent

	uRemove uint32 = 1 << 31
)

// MaxEntitySize is the largest encoding WriteDeltaEntity can produce.
const MaxEntitySize = 2 + 4 + 3*3*4 + 8*4 + 4 + 4

// WriteDeltaEntity writes the difference between from and to. A nil to
// writes a removal of from. A nil from encodes against the zero state.
// Unchanged entities produce no output unless ESForce is set.
func WriteDeltaEntity(b *Buffer, from, to *core.EntityState, flags EntityFlags) {
	if to == nil {
		if from == nil {
			return
		}
		b.WriteUint16(uint16(from.Number))
		b.WriteUint32(uRemove)
		return
	}

	var zero core.EntityState
	if from == nil {
		from = &zero
	}

	var bits uint32
	for i := 0; i < 3; i++ {
		if to.Origin[i] != from.Origin[i] {
			bits |= uOrigin1 << i
		}
		if to.Angles[i] != from.Angles[i] {
			bits |= uAngle1 << i
		}
	}
	if to.OldOrigin != from.OldOrigin || flags&ESNewEntity != 0 {
		bits |= uOldOrigin
	}
	if to.ModelIndex != from.ModelIndex {
		bits |= uModel
	}
	if to.ModelIndex2 != from.ModelIndex2 {
		bits |= uModel2
	}
	if to.Frame != from.Frame {
		bits |= uFrame
	}
	if to.SkinNum != from.SkinNum {
		bits |= uSkin
	}
	if to.Effects != from.Effects {
		bits |= uEffects
	}
	if to.RenderFx != from.RenderFx {
		bits |= uRenderFx
	}
	if to.Solid != from.Solid {
		bits |= uSolid
	}
	if to.Sound != from.Sound {
		bits |= uSound
	}
	if to.Event != 0 || to.Event != from.Event {
		bits |= uEvent
	}

	if bits == 0 && flags&ESForce == 0 {
		return
	}

	b.WriteUint16(uint16(to.Number))
	b.WriteUint32(bits)

	for i := 0; i < 3; i++ {
		if bits&(uOrigin1<<i) != 0 {
			b.WriteInt32(to.Origin[i])
		}
	}
	for i := 0; i < 3; i++ {
		if bits&(uAngle1<<i) != 0 {
			b.WriteInt32(to.Angles[i])
		}
	}
	if bits&uOldOrigin != 0 {
		for i := 0; i < 3; i++ {
			b.WriteInt32(to.OldOrigin[i])
		}
	}
	if bits&uModel != 0 {
		b.WriteInt32(to.ModelIndex)
	}
	if bits&uModel2 != 0 {
		b.WriteInt32(to.ModelIndex2)
	}
	if bits&uFrame != 0 {
		b.WriteInt32(to.Frame)
	}
	if bits&uSkin != 0 {
		b.WriteInt32(to.SkinNum)
	}
	if bits&uEffects != 0 {
		b.WriteUint32(to.Effects)
	}
	if bits&uRenderFx != 0 {
		b.WriteUint32(to.RenderFx)
	}
	if bits&uSolid != 0 {
		if flags&ESLongSolid != 0 {
			b.WriteUint32(to.Solid)
		} else {
			b.WriteUint16(uint16(to.Solid))
		}
	}
	if bits&uSound != 0 {
		b.WriteInt32(to.Sound)
	}
	if bits&uEvent != 0 {
		b.WriteInt32(to.Event)
	}
}

// ReadEntityHeader reads the entity number and field bits. Number 0 marks
// the end of an entity list.
func ReadEntityHeader(r *Reader) (num int, bits uint32) {
	num = int(r.ReadUint16())
	if num == 0 {
		return 0, 0
	}
	return num, r.ReadUint32()
}

// IsRemove reports whether the header bits describe a removal.
func IsRemove(bits uint32) bool { return bits&uRemove != 0 }

// ReadDeltaEntity applies the fields described by bits on top of base.
func ReadDeltaEntity(r *Reader, base *core.EntityState, num int, bits uint32, flags EntityFlags) core.EntityState {
	to := *base
	to.Number = num

	for i := 0; i < 3; i++ {
		if bits&(uOrigin1<<i) != 0 {
			to.Origin[i] = r.ReadInt32()
		}
	}
	for i := 0; i < 3; i++ {
		if bits&(uAngle1<<i) != 0 {
			to.Angles[i] = r.ReadInt32()
		}
	}
	if bits&uOldOrigin != 0 {
		for i := 0; i < 3; i++ {
			to.OldOrigin[i] = r.ReadInt32()
		}
	}
	if bits&uModel != 0 {
		to.ModelIndex = r.ReadInt32()
	}
	if bits&uModel2 != 0 {
		to.ModelIndex2 = r.ReadInt32()
	}
	if bits&uFrame != 0 {
		to.Frame = r.ReadInt32()
	}
	if bits&uSkin != 0 {
		to.SkinNum = r.ReadInt32()
	}
	if bits&uEffects != 0 {
		to.Effects = r.ReadUint32()
	}
	if bits&uRenderFx != 0 {
		to.RenderFx = r.ReadUint32()
	}
	if bits&uSolid != 0 {
		if flags&ESLongSolid != 0 {
			to.Solid = r.ReadUint32()
		} else {
			to.Solid = uint32(r.ReadUint16())
		}
	}
	if bits&uSound != 0 {
		to.Sound = r.ReadInt32()
	}
	if bits&uEvent != 0 {
		to.Event = r.ReadInt32()
	} else {
		to.Event = 0
	}
	return to
}
