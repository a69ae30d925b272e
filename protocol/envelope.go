package protocol

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// EnvelopeMode selects how a command payload and its response are framed on
// the wire. Raw mode is the bare TunerStudio dialect (no integrity check,
// relies on fixed response lengths); CRC mode is the msEnvelope_1.0 framing
// this module's CRC handling is grounded on directly
// (other_examples/…goefidash…speeduino.go): a 2-byte big-endian length
// prefix, payload, and an IEEE-802.3 CRC-32 trailer on the request; a
// 2-byte big-endian length prefix, 1-byte status, payload, and CRC-32
// trailer on the response (spec §4.3.3). The status byte only exists on the
// response side — the request frame never carries one.
type EnvelopeMode int

const (
	EnvelopeRaw EnvelopeMode = iota
	EnvelopeCRC
)

// EncodeRequest wraps payload for transmission according to mode.
func EncodeRequest(mode EnvelopeMode, payload []byte) []byte {
	if mode == EnvelopeRaw {
		return payload
	}
	out := make([]byte, 0, 2+len(payload)+4)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	out = append(out, lenBuf[:]...)
	out = append(out, payload...)
	crc := crc32.ChecksumIEEE(payload)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], crc)
	out = append(out, crcBuf[:]...)
	return out
}

// ResponseFrameLen returns how many bytes must be read off the wire (after
// the frame's own 2-byte length prefix, which this module reads separately
// as a fixed-size header) to receive a response carrying dataLen bytes of
// payload: for CRC mode that is the 1-byte status, the payload, and the
// 4-byte CRC trailer; for Raw mode it is exactly dataLen.
func ResponseFrameLen(mode EnvelopeMode, dataLen int) int {
	if mode == EnvelopeRaw {
		return dataLen
	}
	return 1 + dataLen + 4
}

// DecodeResponse extracts and, for CRC mode, validates the payload from a
// raw response frame already known to be ResponseFrameLen(mode, dataLen)
// bytes long. A non-zero status byte fails with a *BadStatusError wrapping
// ErrBadStatus (spec §4.3.3/§7 Protocol::BadStatus(u8)) even when the CRC
// itself checks out, since a well-formed frame reporting a command failure
// is not a framing problem.
func DecodeResponse(mode EnvelopeMode, frame []byte, dataLen int) ([]byte, error) {
	if mode == EnvelopeRaw {
		if len(frame) != dataLen {
			return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(frame), dataLen)
		}
		return frame, nil
	}
	want := 1 + dataLen + 4
	if len(frame) != want {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameLength, len(frame), want)
	}
	body := frame[:1+dataLen]
	status := body[0]
	data := body[1:]
	wantCRC := binary.BigEndian.Uint32(frame[1+dataLen:])
	gotCRC := crc32.ChecksumIEEE(body)
	if gotCRC != wantCRC {
		return nil, fmt.Errorf("%w: got 0x%08X, want 0x%08X", ErrCRCMismatch, gotCRC, wantCRC)
	}
	if status != 0 {
		return nil, &BadStatusError{Status: status}
	}
	return data, nil
}
