package vault

import "github.com/rs/zerolog"

// unitOfWork stages collaborator mutations so a failing batch can be
// unwound in LIFO order. Settlement either commits the whole batch or
// leaves no trace: queue pops and ledger totals are only applied after
// every staged step has succeeded.
type unitOfWork struct {
	undo []func() error
}

// exec runs do and, on success, records undo for a later rollback.
func (u *unitOfWork) exec(do, undo func() error) error {
	if err := do(); err != nil {
		return err
	}
	u.undo = append(u.undo, undo)
	return nil
}

// rollback unwinds all staged steps in reverse order. Undo actions
// compensate in-memory ledger mutations and are expected to succeed;
// a failing step is logged and the rest of the stack still unwinds.
func (u *unitOfWork) rollback(log zerolog.Logger) {
	for i := len(u.undo) - 1; i >= 0; i-- {
		if err := u.undo[i](); err != nil {
			log.Error().Err(err).Int("step", i).Msg("rollback step failed")
		}
	}
	u.undo = nil
}
