package segment

import "errors"

// ErrIO wraps any filesystem/OS-level failure. Never retried by the store.
var ErrIO = errors.New("segment: io error")

// ErrCorruptSegment is returned when a segment header or payload fails to
// decode. Startup scans log and skip a segment that fails with this error;
// Store.ReadRange propagates it to the caller.
var ErrCorruptSegment = errors.New("segment: corrupt segment")
