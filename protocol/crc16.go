package protocol

// CRC16 is the CCITT variant used by Klipper framing, seeded with 0xFFFF
// and processing each byte low nibble first.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc16Update(crc, b)
	}
	return crc
}

func crc16Update(crc uint16, b byte) uint16 {
	b ^= byte(crc)
	b ^= b << 4
	x := uint16(b)
	return (x<<8 | crc>>8) ^ (x >> 4) ^ (x << 3)
}
