package igd

import "math/rand"

// PortSelector picks candidate external ports for AddAnyPort. The default
// draws uniformly from the dynamic port range; tests substitute a scripted
// sequence to make the retry behavior deterministic.
type PortSelector func() uint16

const (
	dynamicPortMin = 32768
	dynamicPortMax = 65535
)

func randomPort() uint16 {
	return uint16(dynamicPortMin + rand.Intn(dynamicPortMax-dynamicPortMin))
}
