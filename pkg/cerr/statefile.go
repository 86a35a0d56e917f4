package cerr

import (
	"errors"
	"fmt"

	"github.com/taskpool/taskpool/pkg/statefile"
)

func WrapStateReadError(err error) error {
	if errors.Is(err, statefile.ErrLockTimeout) {
		return NewError(DeadlineExceeded, "state lock timed out", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to read state: %w", err))
}

func WrapStateWriteError(err error) error {
	if errors.Is(err, statefile.ErrLockTimeout) {
		return NewError(DeadlineExceeded, "state lock timed out", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to write state: %w", err))
}
