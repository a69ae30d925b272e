package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeLiteralAndCanID(t *testing.T) {
	b, err := Synthesize("r$tsCanId", 0x02, binary.LittleEndian, CommandParams{})
	require.NoError(t, err)
	assert.Equal(t, []byte{'r', 0x02}, b)
}

func TestSynthesizeDistinctTokens(t *testing.T) {
	params := CommandParams{Page: intPtr(0x30), Offset: intPtr(4), Count: intPtr(260)}
	b, err := Synthesize("r%1i%1o%2c", 0x00, binary.LittleEndian, params)
	require.NoError(t, err)
	assert.Equal(t, []byte{'r', 0x30, 0x04, 0x04, 0x01}, b) // 260 = 0x0104 LE
}

func TestSynthesizeBigEndianWidths(t *testing.T) {
	params := CommandParams{Count: intPtr(260)}
	b, err := Synthesize("r%2c", 0x00, binary.BigEndian, params)
	require.NoError(t, err)
	assert.Equal(t, []byte{'r', 0x01, 0x04}, b)
}

func TestSynthesizeValueTokenUsesSuppliedBytes(t *testing.T) {
	params := CommandParams{Page: intPtr(1), Offset: intPtr(2), Value: []byte{0xDE, 0xAD}}
	b, err := Synthesize("w%1i%1o%2v", 0x00, binary.LittleEndian, params)
	require.NoError(t, err)
	assert.Equal(t, []byte{'w', 0x01, 0x02, 0xDE, 0xAD}, b)
}

func TestSynthesizeHexEscape(t *testing.T) {
	b, err := Synthesize(`r\x00end`, 0x00, binary.LittleEndian, CommandParams{})
	require.NoError(t, err)
	assert.Equal(t, append([]byte("r"), append([]byte{0x00}, []byte("end")...)...), b)
}

func TestSynthesizeMissingParamErrors(t *testing.T) {
	_, err := Synthesize("r%2c", 0x00, binary.LittleEndian, CommandParams{})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestSynthesizeMissingValueErrors(t *testing.T) {
	_, err := Synthesize("w%1v", 0x00, binary.LittleEndian, CommandParams{})
	assert.ErrorIs(t, err, ErrMissingParam)
}

func TestSynthesizeUnknownTokenErrors(t *testing.T) {
	_, err := Synthesize("r%1z", 0x00, binary.LittleEndian, CommandParams{})
	assert.ErrorIs(t, err, ErrBadTemplate)
}
