package stream

import (
	"fmt"

	"github.com/michelledaniels/streaming-audio/wire"
)

// Sequence-tracking thresholds from spec.md §4.3.1, ported verbatim from
// RFC 3550 §A.1's reference receiver algorithm.
const (
	maxDropout  = 3000
	maxMisorder = 100
	maxLate     = 200
)

// ErrBadlyMisordered is returned when a packet's sequence number is far
// enough from the expected run that it can't be explained by reorder or
// duplication, and isn't (yet) a confirmed sender restart.
type ErrBadlyMisordered struct {
	Seq uint16
}

func (e *ErrBadlyMisordered) Error() string {
	return fmt.Sprintf("badly misordered sequence %d", e.Seq)
}

// Receiver tracks one session's arrival-path statistics: extended
// sequence numbering, timestamp offset, clock-skew compensation and
// jitter estimation, all as described in spec.md §4.3.1. Every method
// here runs on the network thread; none of it touches the playout
// queue's lock.
type Receiver struct {
	skewThreshold uint32
	jitterBuffer  uint32 // queue depth * buffer size, samples

	initialized bool
	maxSeq      uint16
	wrapCount   uint32
	badSequence int32 // -1 when unset

	storedOffset  uint32
	skewInit      bool
	delayEstimate float64 // D: EWMA delay estimate, updated every packet
	activeDelay   float64 // reference point, updated only on a threshold crossing
	jitter        ewma
	dPrev        float64
	havePrevD    bool

	consecutiveLate int

	// interval stats, reset by ReceiverReport
	firstExtSeqThisInterval uint64
	maxExtSeqThisInterval   uint64
	packetsThisInterval     uint64
	cumulativeLost          uint32
}

// NewReceiver creates a Receiver with the given skew threshold (samples,
// default equal to the audio buffer size per spec.md §6) and jitter
// buffer depth (queue depth * buffer size, samples).
func NewReceiver(skewThreshold, jitterBuffer uint32) *Receiver {
	return &Receiver{
		skewThreshold: skewThreshold,
		jitterBuffer:  jitterBuffer,
		badSequence:   -1,
	}
}

// Accept runs the full arrival-path pipeline for one decoded packet:
// timestamp offset tracking, extended sequence assignment, skew
// compensation, jitter estimation and playout time computation.
// playClock-relative lateness is a separate step; see CheckLateness.
//
// It returns the packet's extended sequence number and computed
// playout time when the packet should be queued (accept == true). A
// false return with a nil error means the packet should be silently
// dropped (duplicate, stale reorder, or a sample discarded by skew
// compensation); a non-nil error means the caller should treat this as
// a badly misordered arrival.
func (r *Receiver) Accept(pkt *wire.Packet, arrivalTime uint32) (extendedSeq uint64, playout uint32, accept bool, err error) {
	currentOffset := arrivalTime - pkt.Header.Timestamp
	if !r.initialized || wrapSafeBefore(currentOffset, r.storedOffset) {
		r.storedOffset = currentOffset
	}

	seq := pkt.Header.Sequence
	if !r.initialized {
		r.initSequence(seq)
	} else {
		delta := seq - r.maxSeq // unsigned 16-bit difference
		switch {
		case delta < maxDropout:
			if seq < r.maxSeq {
				r.wrapCount++
			}
			r.maxSeq = seq
		case delta <= 65535-maxMisorder:
			if r.badSequence >= 0 && uint16(r.badSequence) == seq {
				r.initSequence(seq)
			} else {
				r.badSequence = int32(seq) + 1
				return 0, 0, false, &ErrBadlyMisordered{Seq: seq}
			}
		default:
			// duplicate or out-of-window reorder: keep current state,
			// drop silently.
			return 0, 0, false, nil
		}
	}
	extendedSeq = uint64(r.wrapCount)<<16 | uint64(seq)

	d := float64(arrivalTime) - float64(pkt.Header.Timestamp)
	discard := r.updateSkew(d)
	if discard {
		return 0, 0, false, nil
	}

	if r.havePrevD {
		r.jitter.update(absFloat(r.dPrev-d), 4)
	}
	r.dPrev = d
	r.havePrevD = true

	// storedOffset already reflects any skew adjustment made above, so
	// the playout calculation folds it in once rather than applying the
	// threshold a second time.
	playout = pkt.Header.Timestamp + r.storedOffset + r.jitterBuffer

	r.packetsThisInterval++
	if r.packetsThisInterval == 1 {
		r.firstExtSeqThisInterval = extendedSeq
	}
	r.maxExtSeqThisInterval = extendedSeq

	return extendedSeq, playout, true, nil
}

// ReceiverReport builds an RTCP receiver report from the statistics
// accumulated since the last call, then resets the per-interval counters
// (first/max sequence seen, packet count), per spec.md §4.3.3.
// senderSSRC, lastSRMiddle32 and delaySinceLastSR come from the most
// recently received sender report, if any.
func (r *Receiver) ReceiverReport(senderSSRC, lastSRMiddle32, delaySinceLastSR uint32) wire.ReceiverReport {
	var lost uint64
	var fraction uint8
	if r.packetsThisInterval > 0 {
		expected := r.maxExtSeqThisInterval - r.firstExtSeqThisInterval + 1
		if expected > r.packetsThisInterval {
			lost = expected - r.packetsThisInterval
		}
		if expected > 0 {
			fraction = uint8((lost * 256) / expected)
		}
	}
	r.cumulativeLost += uint32(lost)

	rr := wire.ReceiverReport{
		SenderSSRC:       senderSSRC,
		FractionLost:     fraction,
		CumulativeLost:   r.cumulativeLost & 0xffffff,
		ExtHighestSeq:    uint32(uint64(r.wrapCount)<<16 | uint64(r.maxSeq)),
		Jitter:           uint32(r.jitter.value),
		LastSRMiddle32:   lastSRMiddle32,
		DelaySinceLastSR: delaySinceLastSR,
	}
	r.firstExtSeqThisInterval = 0
	r.maxExtSeqThisInterval = 0
	r.packetsThisInterval = 0
	return rr
}

// CheckLateness applies spec.md §4.3.1 step 7: compares playout against
// the current play-clock and tracks consecutive late arrivals, signaling
// when a full reset is due. Kept separate from Accept so tests can
// exercise sequence/skew/jitter logic without needing a play-clock.
func (r *Receiver) CheckLateness(playout, playClock uint32) (drop bool, forceReset bool) {
	if !wrapSafeBefore(playout, playClock) {
		r.consecutiveLate = 0
		return false, false
	}
	r.consecutiveLate++
	if r.consecutiveLate > maxLate {
		return true, true
	}
	return true, false
}

// Reset reinitializes all receiver state, as triggered by a confirmed
// sender restart or a forced reset after too many late arrivals.
func (r *Receiver) Reset() {
	*r = Receiver{skewThreshold: r.skewThreshold, jitterBuffer: r.jitterBuffer, badSequence: -1}
}

// ConsecutiveLate reports the current run length of late CheckLateness
// calls, for stats reporting.
func (r *Receiver) ConsecutiveLate() int {
	return r.consecutiveLate
}

func (r *Receiver) initSequence(seq uint16) {
	r.initialized = true
	r.maxSeq = seq
	r.wrapCount = 0
	r.badSequence = -1
}

// updateSkew implements spec.md §4.3.1 step 4: refresh the EWMA delay
// estimate D every packet, but only move the reference activeDelay (and
// adjust storedOffset) when D has drifted from it by a full threshold.
// Returns true when this packet should be discarded (the "sender is
// faster" branch).
func (r *Receiver) updateSkew(d float64) (discard bool) {
	if !r.skewInit {
		r.activeDelay = d
		r.delayEstimate = d
		r.skewInit = true
	}
	r.delayEstimate = (31*r.delayEstimate + d) / 32

	threshold := float64(r.skewThreshold)
	switch {
	case r.activeDelay-r.delayEstimate >= threshold:
		r.storedOffset -= r.skewThreshold
		r.activeDelay = r.delayEstimate
		return true
	case r.activeDelay-r.delayEstimate <= -threshold:
		r.storedOffset += r.skewThreshold
		r.activeDelay = r.delayEstimate
		return false
	default:
		return false
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
