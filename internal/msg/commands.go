package msg

import (
	"fmt"

	"github.com/q2demo/demorec/pkg/core"
)

// Q2PROLongSolid is the first Q2PRO minor version using 32 bit solids.
const Q2PROLongSolid = 1015

// ConfigStringSize returns the number of bytes WriteConfigString emits.
func ConfigStringSize(s string) int {
	return len(truncateQPath(s)) + 4
}

func truncateQPath(s string) string {
	if len(s) > core.MaxQPath {
		return s[:core.MaxQPath]
	}
	return s
}

// WriteConfigString writes an svc_configstring command. Values are cut to
// MaxQPath bytes.
func WriteConfigString(b *Buffer, index int, s string) {
	b.WriteUint8(SvcConfigString)
	b.WriteInt16(int16(index))
	b.WriteString(truncateQPath(s))
}

// WriteServerData writes the svc_serverdata header. Protocol specific
// physics bytes are only written when extended is set.
func WriteServerData(b *Buffer, sd *core.ServerData, extended bool) {
	b.WriteUint8(SvcServerData)
	b.WriteInt32(sd.Protocol)
	b.WriteInt32(sd.ServerCount)
	if sd.AttractLoop {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
	b.WriteString(sd.GameDir)
	b.WriteInt16(sd.ClientNum)
	b.WriteString(sd.LevelName)

	if !extended {
		return
	}
	switch sd.Protocol {
	case core.ProtocolR1Q2:
		b.WriteUint8(0) // not enhanced
		b.WriteUint16(sd.ProtocolVersion)
		b.WriteUint8(0) // no advanced deltas
		b.WriteUint8(boolByte(sd.Physics.StrafeHack))
	case core.ProtocolQ2PRO:
		b.WriteUint16(sd.ProtocolVersion)
		b.WriteUint8(sd.ServerState)
		b.WriteUint8(boolByte(sd.Physics.StrafeHack))
		b.WriteUint8(boolByte(sd.Physics.QWMode))
		if sd.ProtocolVersion >= core.Q2PROWaterJumpHack {
			b.WriteUint8(boolByte(sd.Physics.WaterHack))
		}
	}
}

// ReadServerData decodes the body of an svc_serverdata command (the opcode
// has already been consumed).
func ReadServerData(r *Reader) (core.ServerData, error) {
	var sd core.ServerData
	sd.Protocol = r.ReadInt32()
	sd.ServerCount = r.ReadInt32()
	sd.AttractLoop = r.ReadUint8() != 0
	sd.GameDir = r.ReadString()
	sd.ClientNum = r.ReadInt16()
	sd.LevelName = r.ReadString()

	switch sd.Protocol {
	case core.ProtocolDefault:
	case core.ProtocolR1Q2:
		r.ReadUint8()
		sd.ProtocolVersion = r.ReadUint16()
		r.ReadUint8()
		sd.Physics.StrafeHack = r.ReadUint8() != 0
	case core.ProtocolQ2PRO:
		sd.ProtocolVersion = r.ReadUint16()
		sd.ServerState = r.ReadUint8()
		sd.Physics.StrafeHack = r.ReadUint8() != 0
		sd.Physics.QWMode = r.ReadUint8() != 0
		if sd.ProtocolVersion >= core.Q2PROWaterJumpHack {
			sd.Physics.WaterHack = r.ReadUint8() != 0
		}
	default:
		return sd, fmt.Errorf("unsupported protocol %d", sd.Protocol)
	}
	if err := r.Err(); err != nil {
		return sd, fmt.Errorf("reading server data: %w", err)
	}
	return sd, nil
}

// EntityFlagsFor returns the entity codec flags implied by a server header.
func EntityFlagsFor(sd *core.ServerData) EntityFlags {
	if sd.Protocol == core.ProtocolQ2PRO && sd.ProtocolVersion >= Q2PROLongSolid {
		return ESLongSolid
	}
	return 0
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
