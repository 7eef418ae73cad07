package radio

import "time"

// Pulse widths of the protocol. These match the receivers in the field and
// must not be tuned.
const (
	ShortPulse    = 140 * time.Microsecond
	LongPulse     = 420 * time.Microsecond
	VeryLongPulse = 4620 * time.Microsecond
)

// Level is a digital output level.
type Level int

// Output levels.
const (
	Low  Level = 0
	High Level = 1
)

// String returns "HIGH" or "LOW".
func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Pulse is one output level held for a fixed duration.
type Pulse struct {
	Level    Level
	Duration time.Duration
}

// EncodeHeader returns the pulses that open every pulse-train.
func EncodeHeader() []Pulse {
	return []Pulse{{High, ShortPulse}, {Low, VeryLongPulse}}
}

// EncodeZero returns the symbol for a 0 bit.
func EncodeZero() []Pulse {
	return []Pulse{{High, ShortPulse}, {Low, LongPulse}}
}

// EncodeOne returns the symbol for a 1 bit.
func EncodeOne() []Pulse {
	return []Pulse{{High, LongPulse}, {Low, ShortPulse}}
}

// EncodeCommand returns the full pulse-train for one transmission of code:
// the header followed by one symbol per bit, in order.
//
// Every symbol ends LOW, so the output is LOW once the train has been played.
func EncodeCommand(code Code) []Pulse {
	pulses := make([]Pulse, 0, 2*(len(code)+1))
	pulses = append(pulses, EncodeHeader()...)
	for _, bit := range code {
		if bit == One {
			pulses = append(pulses, EncodeOne()...)
		} else {
			pulses = append(pulses, EncodeZero()...)
		}
	}
	return pulses
}

// TotalDuration returns the time needed to play pulses back to back.
func TotalDuration(pulses []Pulse) time.Duration {
	var total time.Duration
	for _, p := range pulses {
		total += p.Duration
	}
	return total
}
