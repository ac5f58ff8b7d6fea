// pkg/core/protocol.go
package core

// Protocol versions understood by the recorder.
const (
	ProtocolDefault = 34
	ProtocolR1Q2    = 35
	ProtocolQ2PRO   = 36
	ProtocolMVD     = 37

	// Q2PROWaterJumpHack is the first Q2PRO minor version that carries the
	// water-jump physics flag in the server data.
	Q2PROWaterJumpHack = 1022
)

// Limits shared by the client state and the demo format.
const (
	MaxEdicts        = 1024
	MaxClients       = 256
	MaxConfigStrings = 2080
	MaxQPath         = 64
	MaxStats         = 32
	MaxAreaBytes     = 32

	// UpdateBackup is the number of server frames kept for delta decoding.
	UpdateBackup = 16
	UpdateMask   = UpdateBackup - 1

	// CmdBackup is the number of input samples kept for prediction.
	CmdBackup = 128
	CmdMask   = CmdBackup - 1

	// FrameTime is the server frame length in milliseconds (10 Hz).
	FrameTime = 100
	// FramesPerSecond converts timespecs to frame counts.
	FramesPerSecond = 1000 / FrameTime
)

// Message sizes in bytes.
const (
	MaxMessageLen               = 0x8000
	MaxPacketLen                = 4096
	MinPacketLen                = 512
	PacketHeader                = 10
	MaxPacketLenWritable        = MaxPacketLen - PacketHeader
	MaxPacketLenWritableDefault = 1400 - PacketHeader
)

// Config string layout.
const (
	CSName        = 0
	CSCDTrack     = 1
	CSSky         = 2
	CSStatusBar   = 5
	CSAirAccel    = 29
	CSMaxClients  = 30
	CSMapChecksum = 31
	CSModels      = 32
	CSSounds      = CSModels + 256
	CSImages      = CSSounds + 256
	CSLights      = CSImages + 256
	CSItems       = CSLights + 256
	CSPlayerSkins = CSItems + 256
	CSGeneral     = CSPlayerSkins + MaxClients
)
