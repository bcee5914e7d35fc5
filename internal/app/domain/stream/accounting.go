package stream

// Pure accounting over (stream, now). These functions never mutate state and
// give identical results however many times the stream paused and resumed,
// because every resume advances WithdrawTime by exactly the paused interval:
// pauses are cut out of the timeline the rate applies to, not taken from the
// balance.

// ReceiverDue returns the amount accrued to the receiver but not yet
// credited at now, and the boundary WithdrawTime advances to when that
// amount is paid out. Nothing accrues before StartTime, after EndTime, or
// past the current pause.
func ReceiverDue(s Stream, now int64) (amount int64, boundary int64) {
	if now <= s.StartTime {
		return 0, s.WithdrawTime
	}

	var elapsed int64
	switch {
	case now >= s.EndTime:
		if s.WithdrawTime >= s.EndTime {
			return 0, s.WithdrawTime
		}
		if s.IsPaused {
			elapsed = s.PausedTime - s.WithdrawTime
		} else {
			elapsed = s.EndTime - s.WithdrawTime
		}
		boundary = now
	case s.IsPaused:
		elapsed = s.PausedTime - s.WithdrawTime
		boundary = s.PausedTime
	default:
		elapsed = now - s.WithdrawTime
		boundary = now
	}

	if elapsed <= 0 {
		return 0, s.WithdrawTime
	}
	return s.Rate * elapsed, boundary
}

// ReceiverOutstanding returns the amount still owed to the receiver for the
// whole stream run, assuming no further resumes: rate times the credited
// span between WithdrawTime and EndTime, frozen at PausedTime while paused.
func ReceiverOutstanding(s Stream) int64 {
	if s.WithdrawTime >= s.EndTime {
		return 0
	}
	if s.IsPaused {
		if s.PausedTime <= s.WithdrawTime {
			return 0
		}
		return s.Rate * (s.PausedTime - s.WithdrawTime)
	}
	return s.Rate * (s.EndTime - s.WithdrawTime)
}

// SenderSurplus returns the excess a sender can recover after the stream has
// ended: the held balance minus everything still owed to the receiver.
func SenderSurplus(s Stream) int64 {
	return s.Balance - ReceiverOutstanding(s)
}

// ResumeCredit returns how far WithdrawTime must advance when a stream
// paused at PausedTime resumes at now. Time after EndTime never accrues, so
// the pause interval is clamped to the stream window.
func ResumeCredit(s Stream, now int64) int64 {
	until := now
	if until > s.EndTime {
		until = s.EndTime
	}
	if until <= s.PausedTime {
		return 0
	}
	return until - s.PausedTime
}
