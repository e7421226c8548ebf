package transport

import "time"

// tokenBucket is a byte-budget rate limiter admitting rate megabits/sec.
// Unlike golang.org/x/time/rate's event-count limiter, it exposes how far
// ahead of pace the next send is, which the event loop's poll-timeout
// computation needs (see DESIGN.md).
type tokenBucket struct {
	capacityBytes float64
	tokensBytes   float64
	ratePerSec    float64 // bytes/sec
	last          time.Time
	now           func() time.Time
}

func newTokenBucket(rateMbps float64) *tokenBucket {
	b := &tokenBucket{now: time.Now}
	b.setRate(rateMbps)
	b.last = b.now()
	b.tokensBytes = b.capacityBytes
	return b
}

func (b *tokenBucket) setRate(rateMbps float64) {
	b.ratePerSec = rateMbps * 1e6 / 8
	// Allow a burst of up to 50ms worth of traffic at the configured rate.
	b.capacityBytes = b.ratePerSec * 0.050
	if b.capacityBytes < 1350 {
		b.capacityBytes = 1350
	}
}

func (b *tokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokensBytes += elapsed * b.ratePerSec
	if b.tokensBytes > b.capacityBytes {
		b.tokensBytes = b.capacityBytes
	}
}

// withinPace reports whether a send is currently permitted.
func (b *tokenBucket) withinPace() bool {
	b.refill()
	return b.tokensBytes >= 0
}

// microsAheadOfPace returns how long the caller must wait for the bucket
// to become non-negative, or a negative value if it already is (the
// event loop's convention for "ready now" / caps to "infinite" only when
// the caller has no pending sends at all, handled one layer up).
func (b *tokenBucket) microsAheadOfPace() int64 {
	b.refill()
	if b.tokensBytes >= 0 {
		return -1
	}
	deficit := -b.tokensBytes
	seconds := deficit / b.ratePerSec
	return int64(seconds * 1e6)
}

// recordSend debits nbytes from the bucket. The bucket is allowed to go
// negative so bytesSent/withinPace stay consistent with a single
// MTU-sized datagram that slightly overdraws the budget.
func (b *tokenBucket) recordSend(nbytes int) {
	b.refill()
	b.tokensBytes -= float64(nbytes)
}
