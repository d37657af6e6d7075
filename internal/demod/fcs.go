package demod

// fcsTable is the reflected CRC-16/CCITT table used by the AX.25 frame
// check sequence.
var fcsTable = func() [256]uint16 {
	var t [256]uint16
	for i := range t {
		crc := uint16(i)
		for b := 0; b < 8; b++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0x8408
			} else {
				crc >>= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// FCS computes the AX.25 frame check sequence of data.
func FCS(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ fcsTable[byte(crc)^b]
	}
	return crc ^ 0xFFFF
}

// AppendFCS appends the frame check sequence, low byte first.
func AppendFCS(frame []byte) []byte {
	fcs := FCS(frame)
	return append(frame, byte(fcs), byte(fcs>>8))
}

// checkFCS verifies and strips a trailing FCS.
func checkFCS(frame []byte) ([]byte, bool) {
	if len(frame) < 2 {
		return nil, false
	}
	n := len(frame) - 2
	actual := uint16(frame[n]) | uint16(frame[n+1])<<8
	return frame[:n], actual == FCS(frame[:n])
}
