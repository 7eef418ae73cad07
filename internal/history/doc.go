// Package history keeps an audit log of radio transmissions in SQLite.
//
// Every device transition becomes one row in transmission_history: which
// device, the commanded state, what caused it (command, announce or direct),
// the code sent, how long the transmission took and the error if it failed.
//
// The log is write-mostly. Rows are never read back to restore device state;
// every device still starts OFF after a restart.
//
// # Usage
//
//	repo := history.NewSQLiteRepository(db.DB)
//	recorder := history.NewRecorder(repo, log)
//
//	// Plug into devices as a device.Observer
//	device.Options{..., Observer: recorder}
//
//	// Inspect
//	entries, err := repo.Recent(ctx, "LivingRoom:CornerLamp", 20)
package history
