package ogg

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloatToPCM16ConvertsAndClamps(t *testing.T) {
	out := floatToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	require16 := func(i int, want int16) {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		assert.Equal(t, want, got)
	}
	require16(0, 0)
	require16(1, 32767)
	require16(2, -32768)
	require16(3, 32767) // clamped above full scale
	require16(4, -32768) // clamped below full scale
	require16(5, int16(0.5*32768))
}

func TestFloatToPCM16EmptyInputProducesEmptyOutput(t *testing.T) {
	assert.Empty(t, floatToPCM16(nil))
}
