package gpio

import (
	"errors"
	"fmt"
	"sync"

	gpiod "github.com/warthog618/go-gpiocdev"

	"github.com/nerrad567/radioswitch-bridge/internal/radio"
)

// DefaultConsumer is the label shown by gpioinfo for the requested line.
const DefaultConsumer = "radioswitch"

// Config identifies the output line.
type Config struct {
	// Chip is the GPIO chip name, e.g. "gpiochip0".
	Chip string

	// Offset is the line offset on the chip. On a Raspberry Pi this is the
	// BCM pin number.
	Offset int

	// Consumer labels the line request. Defaults to DefaultConsumer.
	Consumer string
}

// outputLine is the subset of *gpiod.Line the driver uses.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// Line is an output line implementing radio.Pin.
type Line struct {
	mu     sync.Mutex
	line   outputLine
	chip   interface{ Close() error }
	offset int
	closed bool
}

// Open requests cfg's line as an output driven LOW.
func Open(cfg Config) (*Line, error) {
	if cfg.Chip == "" || cfg.Offset < 0 {
		return nil, fmt.Errorf("%w: chip %q offset %d", ErrInvalidConfig, cfg.Chip, cfg.Offset)
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = DefaultConsumer
	}

	chip, err := gpiod.NewChip(cfg.Chip, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrChipOpen, cfg.Chip, err)
	}

	line, err := chip.RequestLine(cfg.Offset, gpiod.AsOutput(int(radio.Low)))
	if err != nil {
		chip.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("%w: %s line %d: %w", ErrLineRequest, cfg.Chip, cfg.Offset, err)
	}

	return newLine(line, chip, cfg.Offset), nil
}

func newLine(line outputLine, chip interface{ Close() error }, offset int) *Line {
	return &Line{line: line, chip: chip, offset: offset}
}

// Offset returns the line offset on its chip.
func (l *Line) Offset() int {
	return l.offset
}

// Write sets the output level.
func (l *Line) Write(level radio.Level) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if err := l.line.SetValue(int(level)); err != nil {
		return fmt.Errorf("gpio: set line %d %s: %w", l.offset, level, err)
	}
	return nil
}

// Close drives the line LOW and releases it and its chip. Safe to call more
// than once.
func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var errs []error
	if err := l.line.SetValue(int(radio.Low)); err != nil {
		errs = append(errs, fmt.Errorf("drive line %d low: %w", l.offset, err))
	}
	if err := l.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release line %d: %w", l.offset, err))
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
