// Package random provides high-entropy seed generation for dice rolling.
//
// Dice results must be unpredictable to players but reproducible from the
// journaled event, so each roll draws one crypto/rand seed and the roller
// itself stays deterministic with respect to that seed.
package random

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"time"
)

// NewSeed generates a random seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Seed returns a crypto/rand seed, falling back to the wall clock when the
// system entropy source fails.
func Seed() int64 {
	seed, err := NewSeed()
	if err != nil {
		return time.Now().UnixNano()
	}
	return seed
}
