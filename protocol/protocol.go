// Package protocol implements the framed VLQ message protocol spoken between
// the timer firmware and its host tool. It follows the Klipper wire format:
// a length byte, a sequence byte, VLQ-encoded command payload, CRC16 and a
// trailing sync byte.
package protocol

// Version is the protocol/firmware version string reported in the dictionary
const Version = "prectimer-0.2.0"

// Framing constants
const (
	MessageHeaderSize  = 2 // length + sequence
	MessageTrailerSize = 3 // crc hi, crc lo, sync
	MessageMin         = MessageHeaderSize + MessageTrailerSize
	MessageMax         = 64
	MessagePayloadMax  = MessageMax - MessageMin

	MessageSync    = 0x7E
	MessageDest    = 0x10
	MessageSeqMask = 0x0F
)

// NextSeq returns the sequence byte following seq.
func NextSeq(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
