// Package kiss drives a KISS TNC over a serial line.
//
// Each radio unit maps to one TNC port. Transmit bursts become KISS data
// frames; data frames read from the TNC feed the unit's AFSK decoder while
// reception is enabled.
package kiss

// KISS framing bytes.
const (
	FEND  = 0xC0
	FESC  = 0xDB
	TFEND = 0xDC
	TFESC = 0xDD
)

// KISS commands, carried in the low nibble of the type byte.
const (
	CmdData        = 0x00
	CmdTxDelay     = 0x01
	CmdPersistence = 0x02
	CmdSlotTime    = 0x03
	CmdTxTail      = 0x04
	CmdFullDuplex  = 0x05
	CmdSetHardware = 0x06
	CmdReturn      = 0xFF
)

// Encode frames data as a KISS command for port.
func Encode(port uint8, cmd byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	out = append(out, FEND)
	if cmd == CmdReturn {
		out = append(out, CmdReturn)
	} else {
		out = append(out, port<<4|cmd&0x0F)
	}
	for _, b := range data {
		switch b {
		case FEND:
			out = append(out, FESC, TFEND)
		case FESC:
			out = append(out, FESC, TFESC)
		default:
			out = append(out, b)
		}
	}
	return append(out, FEND)
}

// Frame is one decoded KISS frame.
type Frame struct {
	Port    uint8
	Command byte
	Data    []byte
}

// Decoder reassembles KISS frames from a byte stream.
type Decoder struct {
	buf     []byte
	inFrame bool
	escaped bool
	limit   int
}

// NewDecoder returns a decoder that discards frames longer than limit bytes.
func NewDecoder(limit int) *Decoder {
	return &Decoder{limit: limit}
}

// Feed consumes p and returns every frame completed by it.
func (d *Decoder) Feed(p []byte) []Frame {
	var frames []Frame
	for _, b := range p {
		if b == FEND {
			if d.inFrame && len(d.buf) > 0 {
				frames = append(frames, d.frame())
			}
			d.buf = d.buf[:0]
			d.inFrame = true
			d.escaped = false
			continue
		}
		if !d.inFrame {
			continue
		}
		if d.escaped {
			d.escaped = false
			switch b {
			case TFEND:
				b = FEND
			case TFESC:
				b = FESC
			default:
				// Protocol violation: drop the frame.
				d.inFrame = false
				continue
			}
		} else if b == FESC {
			d.escaped = true
			continue
		}
		if len(d.buf) >= d.limit {
			d.inFrame = false
			continue
		}
		d.buf = append(d.buf, b)
	}
	return frames
}

func (d *Decoder) frame() Frame {
	typ := d.buf[0]
	f := Frame{Data: append([]byte(nil), d.buf[1:]...)}
	if typ == CmdReturn {
		f.Command = CmdReturn
		return f
	}
	f.Port = typ >> 4
	f.Command = typ & 0x0F
	return f
}
