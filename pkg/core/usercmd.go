// pkg/core/usercmd.go
package core

// UserCmdSize is the encoded size of a UserCmd in the extended demo format.
const UserCmdSize = 16

// UserCmd is one locally generated input sample.
type UserCmd struct {
	Msec       uint8
	Buttons    uint8
	Angles     [3]int16
	Forward    int16
	Side       int16
	Up         int16
	Impulse    uint8
	LightLevel uint8
}
