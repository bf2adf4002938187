package dev

const (
	cmdSE   = 240
	cmdSB   = 250
	cmdWill = 251
	cmdWont = 252
	cmdDo   = 253
	cmdDont = 254
	cmdIAC  = 255
)

const (
	telData = iota
	telIAC
	telOption
	telSub
	telSubIAC
)

// telnetFilter strips telnet commands from the byte stream and refuses every
// option the device proposes, keeping the session plain text.
// State is kept across calls since commands may be split between reads.
type telnetFilter struct {
	state int
	cmd   byte
}

// feed consumes raw input, returning the data bytes and the replies to send.
// len(data) never exceeds len(raw).
func (f *telnetFilter) feed(raw []byte) (data, reply []byte) {
	data = make([]byte, 0, len(raw))

	for _, b := range raw {
		switch f.state {
		case telData:
			if b == cmdIAC {
				f.state = telIAC
				continue
			}
			data = append(data, b)
		case telIAC:
			switch b {
			case cmdIAC:
				data = append(data, cmdIAC) // escaped 0xFF
				f.state = telData
			case cmdDo, cmdDont, cmdWill, cmdWont:
				f.cmd = b
				f.state = telOption
			case cmdSB:
				f.state = telSub
			default:
				f.state = telData // NOP, GA, ...
			}
		case telOption:
			switch f.cmd {
			case cmdDo:
				reply = append(reply, cmdIAC, cmdWont, b)
			case cmdWill:
				reply = append(reply, cmdIAC, cmdDont, b)
			}
			f.state = telData
		case telSub:
			if b == cmdIAC {
				f.state = telSubIAC
			}
		case telSubIAC:
			if b == cmdSE {
				f.state = telData
			} else {
				f.state = telSub
			}
		}
	}

	return data, reply
}
