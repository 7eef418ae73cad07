// Package radio implements the 433 MHz remote switch protocol.
//
// A command is a fixed-length code of bits. Each transmission is a header
// followed by one symbol per bit, every symbol being a HIGH pulse and a LOW
// pulse whose lengths encode the bit value:
//
//	header: HIGH short, LOW very long
//	zero:   HIGH short, LOW long
//	one:    HIGH long,  LOW short
//
// The receiver only decodes reliably when pulse widths stay within a few tens
// of microseconds of the nominal values, so the Transmitter schedules every
// edge against an absolute deadline and spins for the final stretch instead
// of relying on time.Sleep alone.
//
// The protocol is one-way. Nothing confirms that a switch actually changed
// state, which is why every command is repeated several times.
//
// # Usage
//
//	code, err := radio.ParseCode("000001000101010100110011")
//	if err != nil {
//	    return err
//	}
//	tx, err := radio.NewTransmitter(pin, radio.WithRepeatCount(6))
//	if err != nil {
//	    return err
//	}
//	result, err := tx.Transmit(ctx, code)
package radio
