package msg

import "github.com/q2demo/demorec/pkg/core"

const (
	psType uint32 = 1 << iota
	psOrigin
	psVelocity
	psViewAngles
	psViewOffset
	psGunIndex
	psGunFrame
	psFOV
	psRDFlags
	psStats
)

// WriteDeltaPlayer writes the difference between from and to. A nil from
// encodes against the zero state.
func WriteDeltaPlayer(b *Buffer, from, to *core.PlayerState) {
	var zero core.PlayerState
	if from == nil {
		from = &zero
	}

	var bits uint32
	if to.PMType != from.PMType {
		bits |= psType
	}
	if to.Origin != from.Origin {
		bits |= psOrigin
	}
	if to.Velocity != from.Velocity {
		bits |= psVelocity
	}
	if to.ViewAngles != from.ViewAngles {
		bits |= psViewAngles
	}
	if to.ViewOffset != from.ViewOffset {
		bits |= psViewOffset
	}
	if to.GunIndex != from.GunIndex {
		bits |= psGunIndex
	}
	if to.GunFrame != from.GunFrame {
		bits |= psGunFrame
	}
	if to.FOV != from.FOV {
		bits |= psFOV
	}
	if to.RDFlags != from.RDFlags {
		bits |= psRDFlags
	}

	var statBits uint32
	for i := 0; i < core.MaxStats; i++ {
		if to.Stats[i] != from.Stats[i] {
			statBits |= 1 << i
		}
	}
	if statBits != 0 {
		bits |= psStats
	}

	b.WriteUint32(bits)
	if bits&psType != 0 {
		b.WriteInt32(to.PMType)
	}
	if bits&psOrigin != 0 {
		for _, v := range to.Origin {
			b.WriteInt32(v)
		}
	}
	if bits&psVelocity != 0 {
		for _, v := range to.Velocity {
			b.WriteInt32(v)
		}
	}
	if bits&psViewAngles != 0 {
		for _, v := range to.ViewAngles {
			b.WriteInt16(v)
		}
	}
	if bits&psViewOffset != 0 {
		for _, v := range to.ViewOffset {
			b.WriteInt8(v)
		}
	}
	if bits&psGunIndex != 0 {
		b.WriteInt32(to.GunIndex)
	}
	if bits&psGunFrame != 0 {
		b.WriteInt32(to.GunFrame)
	}
	if bits&psFOV != 0 {
		b.WriteUint8(to.FOV)
	}
	if bits&psRDFlags != 0 {
		b.WriteUint8(to.RDFlags)
	}
	if bits&psStats != 0 {
		b.WriteUint32(statBits)
		for i := 0; i < core.MaxStats; i++ {
			if statBits&(1<<i) != 0 {
				b.WriteInt16(to.Stats[i])
			}
		}
	}
}

// ReadDeltaPlayer decodes a player delta against from (nil for the zero
// state).
func ReadDeltaPlayer(r *Reader, from *core.PlayerState) core.PlayerState {
	var to core.PlayerState
	if from != nil {
		to = *from
	}

	bits := r.ReadUint32()
	if bits&psType != 0 {
		to.PMType = r.ReadInt32()
	}
	if bits&psOrigin != 0 {
		for i := range to.Origin {
			to.Origin[i] = r.ReadInt32()
		}
	}
	if bits&psVelocity != 0 {
		for i := range to.Velocity {
			to.Velocity[i] = r.ReadInt32()
		}
	}
	if bits&psViewAngles != 0 {
		for i := range to.ViewAngles {
			to.ViewAngles[i] = r.ReadInt16()
		}
	}
	if bits&psViewOffset != 0 {
		for i := range to.ViewOffset {
			to.ViewOffset[i] = r.ReadInt8()
		}
	}
	if bits&psGunIndex != 0 {
		to.GunIndex = r.ReadInt32()
	}
	if bits&psGunFrame != 0 {
		to.GunFrame = r.ReadInt32()
	}
	if bits&psFOV != 0 {
		to.FOV = r.ReadUint8()
	}
	if bits&psRDFlags != 0 {
		to.RDFlags = r.ReadUint8()
	}
	if bits&psStats != 0 {
		statBits := r.ReadUint32()
		for i := 0; i < core.MaxStats; i++ {
			if statBits&(1<<i) != 0 {
				to.Stats[i] = r.ReadInt16()
			}
		}
	}
	return to
}
