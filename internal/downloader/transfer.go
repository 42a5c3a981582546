package downloader

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// PartSuffix is appended to the destination name while a transfer is in progress
const PartSuffix = ".part"

var (
	errTransferClosed = stderrors.New("transfer already finished or discarded")
	errIncomplete     = stderrors.New("attempted to finish incomplete file")
)

// PartPath returns the temporary sibling of dest
func PartPath(dest string) (string, error) {
	name := filepath.Base(dest)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "", fmt.Errorf("destination %q lacks a file name", dest)
	}
	return filepath.Join(filepath.Dir(dest), name+PartSuffix), nil
}

type transferState int

const (
	stateUnopened transferState = iota
	stateOpened
	stateClosed
)

// Transfer writes a download to dest+PartSuffix and moves it into place on
// Finish. The part file is created on the first Write, so a transfer that
// never receives data leaves nothing behind.
//
// A part file is removed by Discard, by a failed Write or Finish, or by a
// runtime cleanup if the Transfer becomes unreachable while still open.
// Ownership ends exactly once: renamed or removed, never both.
type Transfer struct {
	dest  string
	part  string
	state transferState
	file  *os.File
	err   error

	cleanup runtime.Cleanup
}

// NewTransfer creates an unopened transfer to dest
func NewTransfer(dest string) (*Transfer, error) {
	part, err := PartPath(dest)
	if err != nil {
		return nil, err
	}
	return &Transfer{dest: dest, part: part}, nil
}

// Dest returns the final path of the transfer
func (t *Transfer) Dest() string {
	return t.dest
}

// Write implements io.Writer. The first error is sticky.
func (t *Transfer) Write(p []byte) (int, error) {
	if t.err != nil {
		return 0, t.err
	}

	switch t.state {
	case stateClosed:
		t.err = errTransferClosed
		return 0, t.err
	case stateUnopened:
		if err := t.open(); err != nil {
			t.err = err
			return 0, err
		}
	}

	n, err := t.file.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func (t *Transfer) open() error {
	f, err := os.OpenFile(t.part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", t.part, err)
	}
	t.file = f
	t.state = stateOpened
	t.cleanup = runtime.AddCleanup(t, removePart, t.part)
	return nil
}

func removePart(path string) {
	_ = os.Remove(path)
}

// Finish closes the part file and renames it to the destination. Finishing
// a transfer that never received data, or one already closed, does nothing.
func (t *Transfer) Finish() error {
	if t.err != nil {
		return errIncomplete
	}
	if t.state != stateOpened {
		t.state = stateClosed
		return nil
	}

	t.state = stateClosed
	t.cleanup.Stop()

	if err := t.file.Close(); err != nil {
		_ = os.Remove(t.part)
		return fmt.Errorf("failed to close %s: %w", t.part, err)
	}
	if err := os.Rename(t.part, t.dest); err != nil {
		_ = os.Remove(t.part)
		return fmt.Errorf("failed to move %s into place: %w", t.dest, err)
	}
	return nil
}

// Discard closes and removes the part file. It is safe to call more than
// once and after Finish.
func (t *Transfer) Discard() error {
	if t.state != stateOpened {
		t.state = stateClosed
		return nil
	}

	t.state = stateClosed
	t.cleanup.Stop()

	closeErr := t.file.Close()
	if err := os.Remove(t.part); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", t.part, err)
	}
	return closeErr
}
