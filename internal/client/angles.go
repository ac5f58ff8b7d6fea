package client

// ShortToAngle converts a protocol angle to degrees.
func ShortToAngle(s int16) float64 {
	return float64(s) * (360.0 / 65536)
}

// AngleToShort converts degrees to a protocol angle.
func AngleToShort(a float64) int16 {
	return int16(int(a*65536/360) & 65535)
}

// LerpAngle interpolates between two angles in degrees along the shortest
// arc.
func LerpAngle(a1, a2, frac float64) float64 {
	if a2-a1 > 180 {
		a2 -= 360
	}
	if a2-a1 < -180 {
		a2 += 360
	}
	return a1 + frac*(a2-a1)
}
