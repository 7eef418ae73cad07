// Package gpio drives the radio transmitter's data pin through the Linux GPIO
// character device (/dev/gpiochipN).
//
// The line is requested as an output that starts LOW, written one level at a
// time by radio.Transmitter, and driven LOW again before it is released so a
// crashed or stopped bridge never leaves the carrier keyed.
package gpio
