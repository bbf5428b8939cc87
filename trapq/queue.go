// Package trapq implements the order-2 trapezoid planner: an opaque
// "cqueue" container that accumulates queued move records, runs the
// backward/forward look-ahead passes, and hands back (accel_t,
// cruise_t, decel_t) triples plus start/cruise velocities. Entries are
// plain value records copied in and out — the queue holds no pointer
// back to the Move objects the caller built them from, avoiding a
// cyclic reference between the two.
package trapq

import (
	"errors"
	"math"

	"motioncore/move"
)

// ErrInvariantViolation is returned when the planner would produce a
// profile that breaks the distance-accounting invariant
// (accel_d + decel_d <= move_d + epsilon); this aborts the queue rather
// than silently emitting a profile that overruns its own move length.
var ErrInvariantViolation = errors.New("trapq: planner invariant violation")

// Entry is one queued move's planning inputs, added by Add.
type Entry struct {
	MoveD         float64
	JunctionMaxV2 float64
	MaxCruiseV2   float64
	Accel         float64
	AccelToDecel  float64

	planned bool
	entryV2 float64
	exitV2  float64
	peakV2  float64
}

// Profile is the planner's output for one move: the segment timings and
// velocities the toolhead hands to step generators, equivalent to
// Klipper's ctrap_accel_decel / move_accel_decel record.
type Profile struct {
	AccelT, CruiseT, DecelT float64
	StartV, CruiseV, EndV   float64
	AccelD, CruiseD, DecelD float64
	TotalMoveT              float64
}

// Queue is the order-2 look-ahead planner. The zero value is ready to use.
type Queue struct {
	entries     []*Entry
	lastExitV2  float64 // forward-pass continuity across flushes
	flushed     []*Profile
}

// Add appends a queued move's planning inputs, mirroring moveq_add's
// signature for the order-2 case.
func (q *Queue) Add(moveD, junctionMaxV2, maxCruiseV2, accel, accelToDecel float64) error {
	if moveD < 0 || accel <= 0 || accelToDecel <= 0 {
		return errors.New("trapq: invalid move parameters")
	}
	q.entries = append(q.entries, &Entry{
		MoveD:         moveD,
		JunctionMaxV2: junctionMaxV2,
		MaxCruiseV2:   maxCruiseV2,
		Accel:         accel,
		AccelToDecel:  accelToDecel,
	})
	return nil
}

// Len reports how many moves are queued (planned or not).
func (q *Queue) Len() int { return len(q.entries) }

// Reset discards all queued entries and forgets the velocity-continuity
// state, as if the queue had just been created.
func (q *Queue) Reset() {
	q.entries = nil
	q.flushed = nil
	q.lastExitV2 = 0
}

// Plan runs the backward pass (assume 0 terminal velocity) then the
// forward pass (propagate the last committed exit velocity), and
// returns the number of moves whose profile is now finalized. When lazy
// is true, only a prefix whose exit velocity can no longer change
// regardless of future appends is committed; pass lazy=false to force
// every queued move to be finalized (a real flush, or shutdown drain).
func (q *Queue) Plan(lazy bool) (int, error) {
	n := len(q.entries)
	if n == 0 {
		return 0, nil
	}

	// Backward pass: for each move (tail to head), the maximum entry
	// velocity squared that still allows decelerating to the next
	// move's computed entry by the time this move ends.
	backwardEntryV2 := make([]float64, n+1) // index n = assumed 0 terminal velocity
	fixedIndex := -1
	next := 0.0
	for i := n - 1; i >= 0; i-- {
		e := q.entries[i]
		localCap := math.Min(e.JunctionMaxV2, e.MaxCruiseV2)
		propagated := next + 2*e.MoveD*e.AccelToDecel
		v2 := math.Min(localCap, propagated)
		if localCap <= propagated {
			// This move's entry speed is pinned by its own junction or
			// cruise cap, not by the uncertain tail: everything at or
			// before this index is fixed regardless of future appends.
			fixedIndex = i
		}
		backwardEntryV2[i] = v2
		next = v2
	}

	flushCount := n
	if lazy {
		if fixedIndex < 0 {
			return 0, nil
		}
		flushCount = fixedIndex + 1
	}

	// Forward pass over the committed prefix: propagate the previously
	// committed exit velocity, compute each move's achievable peak and
	// actual exit, and derive segment times.
	entryV2 := q.lastExitV2
	for i := 0; i < flushCount; i++ {
		e := q.entries[i]
		exitV2Backward := backwardEntryV2[i+1]
		peakV2 := math.Min(e.MaxCruiseV2, 0.5*(entryV2+exitV2Backward+2*e.MoveD*e.Accel))
		if peakV2 < entryV2 {
			peakV2 = entryV2
		}
		if peakV2 < exitV2Backward {
			peakV2 = exitV2Backward
		}
		exitV2 := math.Min(peakV2, exitV2Backward)

		profile, err := buildProfile(e, entryV2, peakV2, exitV2)
		if err != nil {
			return 0, err
		}
		e.entryV2, e.peakV2, e.exitV2 = entryV2, peakV2, exitV2
		e.planned = true
		q.flushed = append(q.flushed, profile)

		entryV2 = exitV2
	}
	q.lastExitV2 = entryV2
	q.entries = q.entries[flushCount:]
	return flushCount, nil
}

// buildProfile solves the trapezoid (or triangle) shape for one move
// given its entry/peak/exit velocities squared, enforcing
// accel_d + decel_d <= move_d + epsilon.
func buildProfile(e *Entry, entryV2, peakV2, exitV2 float64) (*Profile, error) {
	accel := e.Accel
	accelD := math.Max(0, (peakV2-entryV2)/(2*accel))
	decelD := math.Max(0, (peakV2-exitV2)/(2*accel))
	if accelD+decelD > e.MoveD+move.Epsilon {
		// Not enough distance to reach peakV2: shrink to a triangle so
		// accel_d + decel_d == move_d exactly.
		peakV2 = 0.5 * (entryV2 + exitV2 + 2*accel*e.MoveD)
		if peakV2 < math.Max(entryV2, exitV2) {
			peakV2 = math.Max(entryV2, exitV2)
		}
		accelD = math.Max(0, (peakV2-entryV2)/(2*accel))
		decelD = math.Max(0, (peakV2-exitV2)/(2*accel))
		if accelD+decelD > e.MoveD+move.Epsilon {
			return nil, ErrInvariantViolation
		}
	}
	cruiseD := e.MoveD - accelD - decelD
	if cruiseD < 0 {
		cruiseD = 0
	}

	startV := math.Sqrt(math.Max(0, entryV2))
	cruiseV := math.Sqrt(math.Max(0, peakV2))
	endV := math.Sqrt(math.Max(0, exitV2))

	var accelT, decelT, cruiseT float64
	if accel > 0 {
		accelT = (cruiseV - startV) / accel
		decelT = (cruiseV - endV) / accel
	}
	if cruiseV > 0 {
		cruiseT = cruiseD / cruiseV
	}
	if accelT < 0 {
		accelT = 0
	}
	if decelT < 0 {
		decelT = 0
	}

	return &Profile{
		AccelT: accelT, CruiseT: cruiseT, DecelT: decelT,
		StartV: startV, CruiseV: cruiseV, EndV: endV,
		AccelD: accelD, CruiseD: cruiseD, DecelD: decelD,
		TotalMoveT: accelT + cruiseT + decelT,
	}, nil
}

// PopProfile removes and returns the oldest finalized profile, mirroring
// moveq_getmove's FIFO contract. It returns false if nothing is ready.
func (q *Queue) PopProfile() (*Profile, bool) {
	if len(q.flushed) == 0 {
		return nil, false
	}
	p := q.flushed[0]
	q.flushed = q.flushed[1:]
	return p, true
}
