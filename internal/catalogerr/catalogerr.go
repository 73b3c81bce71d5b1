// Package catalogerr implements the three-level error taxonomy of
// §4.D.3 / §7: every outcome from the data-access layer reduces to
// exactly one of Success, RuntimeError, UserError, or HardError.
//
// Classification reads the raw SQLite primary and extended result
// codes carried by github.com/mattn/go-sqlite3's *sqlite3.Error. The
// numeric result codes below are SQLite's own stable public values
// (https://www.sqlite.org/rescode.html), referenced by value instead
// of by the driver's symbolic names so the mapping stays legible
// against the specification's own table without depending on exact
// identifier spelling in a vendored dependency.
package catalogerr

import (
	"context"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Class is one of the four recoverability buckets from §7.
type Class int

const (
	// Success indicates normal completion.
	Success Class = iota
	// RuntimeError indicates a transient condition safe to retry.
	RuntimeError
	// UserError indicates malformed input or a constraint violation;
	// callers should report it, not retry.
	UserError
	// HardError indicates the connection is no longer usable; the
	// owning worker must be torn down and respawned.
	HardError
)

func (c Class) String() string {
	switch c {
	case Success:
		return "success"
	case RuntimeError:
		return "runtime_error"
	case UserError:
		return "user_error"
	case HardError:
		return "hard_error"
	default:
		return "unknown"
	}
}

// Primary SQLite result codes (low byte of an extended result code).
const (
	rcOK         = 0
	rcError      = 1
	rcInternal   = 2
	rcPerm       = 3
	rcAbort      = 4
	rcBusy       = 5
	rcLocked     = 6
	rcNoMem      = 7
	rcReadOnly   = 8
	rcInterrupt  = 9
	rcIOErr      = 10
	rcCorrupt    = 11
	rcNotFound   = 12
	rcFull       = 13
	rcCantOpen   = 14
	rcProtocol   = 15
	rcEmpty      = 16
	rcSchema     = 17
	rcTooBig     = 18
	rcConstraint = 19
	rcMismatch   = 20
	rcMisuse     = 21
	rcNoLFS      = 22
	rcAuth       = 23
	rcFormat     = 24
	rcRange      = 25
	rcNotADB     = 26
	rcNotice     = 27
	rcWarning    = 28
	rcRow        = 100
	rcDone       = 101
)

// Extended result codes referenced individually below (base | (n<<8)).
const (
	rcIOErrRead        = rcIOErr | (2 << 8)
	rcIOErrAccess      = rcIOErr | (13 << 8)
	rcIOErrDelete      = rcIOErr | (10 << 8)
	rcIOErrDeleteNoEnt = rcIOErr | (23 << 8)
	rcIOErrNoMem       = rcIOErr | (12 << 8)
	rcIOErrRDLock      = rcIOErr | (9 << 8)
	rcIOErrSeek        = rcIOErr | (22 << 8)
	rcIOErrShmLock     = rcIOErr | (20 << 8)
	rcIOErrShmMap      = rcIOErr | (21 << 8)
	rcIOErrShmOpen     = rcIOErr | (18 << 8)
	rcIOErrShmSize     = rcIOErr | (19 << 8)
	rcIOErrTruncate    = rcIOErr | (6 << 8)
	rcErrorRetry       = rcError | (2 << 8)
	rcErrorSnapshot    = rcError | (3 << 8)
)

// benignIOErr is the curated subset of IOERR_* extended codes the
// specification classifies as RuntimeError; every other IOERR_*
// extended code is a HardError.
var benignIOErr = map[int]struct{}{
	rcIOErrAccess:      {},
	rcIOErrDelete:      {},
	rcIOErrDeleteNoEnt: {},
	rcIOErrNoMem:       {},
	rcIOErrRDLock:      {},
	rcIOErrSeek:        {},
	rcIOErrShmLock:     {},
	rcIOErrShmMap:      {},
	rcIOErrShmOpen:     {},
	rcIOErrShmSize:     {},
	rcIOErrTruncate:    {},
}

// classifyCode buckets a single SQLite extended result code.
func classifyCode(code int) Class {
	base := code & 0xff

	switch base {
	case rcOK, rcDone:
		return Success
	case rcAbort, rcBusy, rcLocked, rcFull, rcNoLFS, rcNoMem, rcProtocol, rcRow, rcSchema:
		return RuntimeError
	case rcCantOpen:
		if code == rcCantOpen {
			return RuntimeError // bare CANTOPEN: transient, retry safe
		}
		return HardError // CANTOPEN_* extended: HardError
	case rcIOErr:
		if code == rcIOErr {
			return RuntimeError // bare IOERR: generic transient I/O
		}
		if _, ok := benignIOErr[code]; ok {
			return RuntimeError
		}
		return HardError
	case rcCorrupt, rcInternal, rcInterrupt, rcMisuse, rcNotADB, rcNotFound, rcPerm, rcReadOnly:
		return HardError
	case rcError:
		if code == rcErrorRetry || code == rcErrorSnapshot {
			return RuntimeError
		}
		return UserError
	case rcConstraint, rcAuth, rcEmpty, rcFormat, rcMismatch, rcNotice, rcRange, rcTooBig, rcWarning:
		return UserError
	default:
		return UserError
	}
}

// Classify reduces a (step, reset) outcome pair to one Class, per
// §4.D.3. stepErr is the error from executing/draining a statement
// (INSERT/UPDATE/DELETE execution, or row iteration); resetErr is the
// error (if any) from the subsequent statement reset/close. A
// database/sql driver folds "step" and "reset" into single calls, so
// callers pass the execution error and the closing error of the
// corresponding *sql.Rows / *sql.Stmt use separately.
func Classify(stepErr, resetErr error) Class {
	if resetErr != nil && !errors.Is(resetErr, context.Canceled) {
		return HardError
	}
	if stepErr == nil {
		return Success
	}
	if errors.Is(stepErr, context.DeadlineExceeded) || errors.Is(stepErr, context.Canceled) {
		return RuntimeError
	}

	var sqliteErr sqlite3.Error
	if errors.As(stepErr, &sqliteErr) {
		return classifyCode(int(sqliteErr.ExtendedCode))
	}
	// Not a recognized SQLite error (e.g. a Go-level wrapping error
	// or a driver-agnostic failure):
	// treat conservatively as a user-facing error rather than risk
	// silently retrying or tearing down a healthy connection.
	return UserError
}
