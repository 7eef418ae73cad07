package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/radioswitch-bridge/internal/device"
)

const (
	defaultRecentLimit = 50
	maxRecentLimit     = 500

	// timestampLayout sorts lexically in time order.
	timestampLayout = "2006-01-02T15:04:05.000000Z"

	// recordTimeout bounds one insert so a locked database cannot stall the
	// event loop.
	recordTimeout = 2 * time.Second
)

var (
	// ErrDeviceRequired is returned when an entry has no device name.
	ErrDeviceRequired = errors.New("history: device is required")

	// ErrInvalidRetention is returned for a non-positive retention period.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)

// Entry is one recorded transmission.
type Entry struct {
	ID        string
	Device    string
	On        bool
	Source    string
	Code      string
	Repeats   int
	Elapsed   time.Duration
	Error     string
	CreatedAt time.Time
}

// Failed reports whether the transmission failed.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Repository stores transmission history.
//
// Implementations must be safe for concurrent use and store UTC timestamps.
type Repository interface {
	// Record inserts an entry. A missing ID is generated.
	Record(ctx context.Context, e Entry) error

	// Recent returns a device's newest entries first. limit <= 0 uses the
	// default; larger values are clamped.
	Recent(ctx context.Context, device string, limit int) ([]Entry, error)

	// Prune deletes entries older than olderThan and returns how many.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the transmission_history table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts e.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	if e.Device == "" {
		return ErrDeviceRequired
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transmission_history
		 (id, device, state, source, code, repeats, elapsed_us, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.Device,
		boolToInt(e.On),
		e.Source,
		e.Code,
		e.Repeats,
		e.Elapsed.Microseconds(),
		errText,
		e.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting transmission history: %w", err)
	}
	return nil
}

// Recent returns the newest entries for device.
func (r *SQLiteRepository) Recent(ctx context.Context, device string, limit int) ([]Entry, error) {
	if device == "" {
		return nil, ErrDeviceRequired
	}
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device, state, source, code, repeats, elapsed_us, error, created_at
		 FROM transmission_history
		 WHERE device = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		device,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transmission history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e         Entry
			state     int
			elapsedUS int64
			errText   sql.NullString
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Device, &state, &e.Source, &e.Code,
			&e.Repeats, &elapsedUS, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transmission history: %w", err)
		}

		e.On = state != 0
		e.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		e.Error = errText.String
		e.CreatedAt, err = time.Parse(timestampLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transmission history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM transmission_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting transmission history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Logger defines the logging interface used by the Recorder and Pruner.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Recorder writes every device transition to a Repository. It implements
// device.Observer. Write failures are logged and never reach the device.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// ObserveTransition implements device.Observer.
func (r *Recorder) ObserveTransition(ctx context.Context, ev device.Event) {
	// Recorded even during shutdown; the transmission already happened.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.Record(ctx, EntryFromEvent(ev)); err != nil {
		r.logger.Warn("failed to record transmission", "device", ev.Device, "error", err)
	}
}

// EntryFromEvent converts a transition event into a history entry. The
// transmission ID is reused so rows can be matched with logs.
func EntryFromEvent(ev device.Event) Entry {
	e := Entry{
		Device:    ev.Device,
		On:        ev.On,
		Source:    string(ev.Source),
		Code:      ev.Code.String(),
		Repeats:   ev.Result.Repeats,
		Elapsed:   ev.Result.Elapsed,
		CreatedAt: ev.At,
	}
	if ev.Result.ID != uuid.Nil {
		e.ID = ev.Result.ID.String()
	}
	if ev.Err != nil {
		e.Error = ev.Err.Error()
	}
	return e
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
