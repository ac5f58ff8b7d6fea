// pkg/core/serverdata.go
package core

// PhysicsParams are the protocol specific movement flags stored in the
// extended demo header so prediction matches the recorded server.
type PhysicsParams struct {
	StrafeHack bool
	QWMode     bool
	WaterHack  bool
}

// ServerData is the session header sent at the start of every demo.
type ServerData struct {
	Protocol        int32
	ProtocolVersion uint16 // minor version for R1Q2/Q2PRO
	ServerCount     int32
	AttractLoop     bool
	GameDir         string
	ClientNum       int16
	LevelName       string
	ServerState     uint8
	Physics         PhysicsParams
}

// DemoInfo is the metadata extracted from a demo header.
type DemoInfo struct {
	Map string
	POV string
	MVD bool
}
