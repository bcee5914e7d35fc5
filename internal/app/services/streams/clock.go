package streams

import "time"

// Clock supplies the ledger's notion of current time in unix seconds. The
// lifecycle operations take time from here rather than from the wall clock
// directly so accounting is deterministic under test.
type Clock interface {
	Now() int64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }
