package cull

import "errors"

// errShortOutput is returned when the result slice is smaller than the
// instance slice.
var errShortOutput = errors.New("cull: output slice shorter than instances")

// ErrUnavailable is wrapped by strategies whose backing accelerator
// cannot be acquired (GPU culling without a usable device). The caller
// should fall back to the CPU path; this is never frame-fatal.
var ErrUnavailable = errors.New("cull: accelerator unavailable")

// ErrUnknownHandle is returned by TryTake for a handle that was never
// issued or has already been consumed.
var ErrUnknownHandle = errors.New("cull: unknown or consumed handle")
