// Package movequeue is the user-facing look-ahead move queue the
// toolhead appends moves to: it owns junction-flush timing, drives the
// order-2 trapezoid planner (trapq), and finalizes each Move's own
// AccelT/CruiseT/DecelT/StartAccelV/CruiseV fields once its profile is
// committed. A second implementation, CombiningQueue, additionally
// reshapes short consecutive acceleration AND deceleration runs into
// jerk-limited ramps for acceleration_order 4/6.
//
// Grounded on klippy/toolhead.py's MoveQueue (add_move, flush,
// junction_flush countdown, LOOKAHEAD_FLUSH_TIME) and
// klippy/extras/scurve.py's AccelCombiningMoveQueue, the drop-in
// replacement toolhead.py installs via SET_SCURVE — modeled here as a
// second type behind the same MoveQueue interface rather than Python's
// runtime attribute swap.
package movequeue

import (
	"errors"
	"math"

	"motioncore/move"
	"motioncore/scurve"
	"motioncore/trapq"
)

// LookaheadFlushTime is the accumulated move duration after which the
// queue forces a lazy flush even with no other reason to (toolhead.py's
// LOOKAHEAD_FLUSH_TIME).
const LookaheadFlushTime = 0.250

// MoveQueue is the toolhead's pluggable look-ahead planner front end.
type MoveQueue interface {
	AddMove(m *move.Move) error
	// NeedsFlush reports whether enough move time has accumulated that
	// the toolhead should call Flush(lazy=true) on its own initiative.
	NeedsFlush() bool
	// Flush commits as many queued moves as it can (all of them, if
	// lazy is false) and returns them in order with their profile
	// fields filled in.
	Flush(lazy bool) ([]*move.Move, error)
	Reset()
}

// Queue is the order-2 (constant acceleration) look-ahead queue.
type Queue struct {
	moves         []*move.Move
	trap          trapq.Queue
	junctionFlush float64
}

func NewQueue() *Queue {
	return &Queue{junctionFlush: LookaheadFlushTime}
}

func (q *Queue) AddMove(m *move.Move) error {
	if err := q.trap.Add(m.MoveD, m.JunctionMaxV2, m.MaxCruiseV2, m.Accel, m.AccelToDecel); err != nil {
		return err
	}
	q.moves = append(q.moves, m)
	q.junctionFlush -= m.MinMoveT
	return nil
}

func (q *Queue) NeedsFlush() bool { return q.junctionFlush <= 0 }

func (q *Queue) Flush(lazy bool) ([]*move.Move, error) {
	n, err := q.trap.Plan(lazy)
	if err != nil {
		return nil, err
	}
	flushed := q.moves[:n]
	q.moves = q.moves[n:]
	for _, m := range flushed {
		p, ok := q.trap.PopProfile()
		if !ok {
			return nil, errors.New("movequeue: planner produced fewer profiles than flushed moves")
		}
		applyProfile(m, p)
	}
	q.junctionFlush = LookaheadFlushTime
	return flushed, nil
}

func (q *Queue) Reset() {
	q.moves = nil
	q.trap.Reset()
	q.junctionFlush = LookaheadFlushTime
}

func applyProfile(m *move.Move, p *trapq.Profile) {
	m.AccelT, m.CruiseT, m.DecelT = p.AccelT, p.CruiseT, p.DecelT
	m.TotalAccelT, m.TotalDecelT = p.AccelT, p.DecelT
	m.AccelOffsetT, m.DecelOffsetT = 0, 0
	m.StartAccelV, m.CruiseV = p.StartV, p.CruiseV
	m.EffectiveAccel, m.EffectiveDecel = m.Accel, m.Accel
}

// CombiningQueue wraps Queue with a post-pass that merges consecutive
// moves' acceleration (and, symmetrically, deceleration) phases into
// one jerk-limited ramp whenever a move's own order-2 phase would be
// shorter than MinJerkLimitTime, the situation that needs combining so
// the jerk limit has enough distance to act over. Only runs of
// pure-accelerating (or, mirrored, pure-decelerating) moves are
// merged, since those are exactly the moves whose entry/exit
// velocities are already continuous across the boundary.
type CombiningQueue struct {
	Queue
	Jerk             float64
	MinJerkLimitTime float64
	MaxAccel         float64
}

func NewCombiningQueue(jerk, minJerkLimitTime, maxAccel float64) *CombiningQueue {
	return &CombiningQueue{
		Queue:            *NewQueue(),
		Jerk:             jerk,
		MinJerkLimitTime: minJerkLimitTime,
		MaxAccel:         maxAccel,
	}
}

func (q *CombiningQueue) Flush(lazy bool) ([]*move.Move, error) {
	flushed, err := q.Queue.Flush(lazy)
	if err != nil {
		return nil, err
	}
	minAccel := scurve.MinAccel(q.MaxAccel, q.Jerk, q.MinJerkLimitTime)
	q.combineAccelRuns(flushed, minAccel)
	q.combineDecelRuns(flushed, minAccel)
	q.combinePeakCruise(flushed)
	return flushed, nil
}

func accelDistance(m *move.Move) float64 {
	if m.Accel <= 0 {
		return 0
	}
	return (m.CruiseV*m.CruiseV - m.StartAccelV*m.StartAccelV) / (2 * m.Accel)
}

// decelExitV returns the velocity move i's deceleration phase ends at:
// the entry velocity of the move after it, or 0 past the last queued
// move (the toolhead comes to rest).
func decelExitV(moves []*move.Move, i int) float64 {
	if i+1 < len(moves) {
		return moves[i+1].StartAccelV
	}
	return 0
}

func decelDistance(m *move.Move, exitV float64) float64 {
	if m.Accel <= 0 {
		return 0
	}
	return (m.CruiseV*m.CruiseV - exitV*exitV) / (2 * m.Accel)
}

// candidate is one possible jerk-limited ramp covering a suffix or
// prefix of a run, evaluated against its rivals by finish time.
type candidate struct {
	pos int
	seg scurve.Segment
}

// pickEarliestValid folds a new (pos, seg) candidate into the running
// best, preferring any candidate whose ramp duration already clears
// minRampTime (a ramp that short isn't resolvable on its own regardless
// of how fast it finishes) over one that doesn't, and the earliest
// finish time within either group. This is what keeps selection from
// degenerating into always picking the least amount of combining: an
// uncombined tail move almost always "finishes" fastest in isolation,
// but if that duration is below minRampTime it is not a real option.
func pickEarliestValid(best candidate, found bool, minRampTime float64, pos int, seg scurve.Segment) (candidate, bool) {
	cand := candidate{pos: pos, seg: seg}
	if !found {
		return cand, true
	}
	bestValid := best.seg.Duration >= minRampTime
	candValid := seg.Duration >= minRampTime
	switch {
	case candValid && !bestValid:
		return cand, true
	case !candValid && bestValid:
		return best, true
	default:
		if seg.Duration < best.seg.Duration {
			return cand, true
		}
		return best, true
	}
}

// chooseCombineStart evaluates, for each possible start index into a
// run (entryV[k], distance from k through the run's end), the
// resulting combined ramp, and returns whichever start is the best
// candidate per pickEarliestValid. Starts whose entry velocity squared
// is already at or above a later (shorter, less-combined) start's are
// pruned: more combining never helps once the entry speed itself can't
// be beaten.
func chooseCombineStart(entryV, dist []float64, jerk, minAccel, maxAccel, capV2, minRampTime float64) (candidate, bool) {
	n := len(entryV)
	var best candidate
	found := false
	suffix := 0.0
	dominant := -1.0
	for start := n - 1; start >= 0; start-- {
		suffix += dist[start]
		v2 := entryV[start] * entryV[start]
		if dominant >= 0 && v2 >= dominant {
			continue
		}
		dominant = v2
		seg, err := scurve.CombineRun(entryV[start], suffix, jerk, minAccel, maxAccel, capV2)
		if err != nil {
			continue
		}
		best, found = pickEarliestValid(best, found, minRampTime, start, seg)
	}
	return best, found
}

// chooseCombineEnd mirrors chooseCombineStart for deceleration: the
// entry velocity into a decel run is fixed (it is whatever the cruise
// phase before it already settled on), so the degree of freedom is how
// far through the run the combined ramp extends.
func chooseCombineEnd(startV float64, dist []float64, jerk, minAccel, maxAccel, capV2, minRampTime float64) (candidate, bool) {
	var best candidate
	found := false
	prefix := 0.0
	for end := 0; end < len(dist); end++ {
		prefix += dist[end]
		seg, err := scurve.CombineRun(startV, prefix, jerk, minAccel, maxAccel, capV2)
		if err != nil {
			continue
		}
		best, found = pickEarliestValid(best, found, minRampTime, end, seg)
	}
	return best, found
}

func (q *CombiningQueue) combineAccelRuns(moves []*move.Move, minAccel float64) {
	if q.MinJerkLimitTime <= 0 || q.Jerk <= 0 || q.MaxAccel <= 0 {
		return
	}
	i := 0
	for i < len(moves) {
		m := moves[i]
		if m.AccelT <= 0 || m.AccelT >= q.MinJerkLimitTime {
			i++
			continue
		}
		j := i
		for j+1 < len(moves) &&
			moves[j].DecelT == 0 && moves[j].CruiseT == 0 &&
			moves[j+1].AccelT > 0 {
			j++
			if moves[j].AccelT >= q.MinJerkLimitTime {
				break
			}
		}
		if j > i {
			q.applyCombinedAccelRun(moves, i, j, minAccel)
		}
		i = j + 1
	}
}

// applyCombinedAccelRun picks, among every start index in moves[i:j+1],
// whichever combined ramp finishes earliest, then distributes that
// ramp's time across the moves it actually spans via AccelOffsetT (the
// time into the combined ramp at which that move's own portion
// begins) — mirroring the accel_offset_t field klippy/extras/scurve.py
// copies out of its combined move records. Moves before the chosen
// start keep their own order-2 profile.
func (q *CombiningQueue) applyCombinedAccelRun(moves []*move.Move, i, j int, minAccel float64) {
	run := moves[i : j+1]
	entryV := make([]float64, len(run))
	dist := make([]float64, len(run))
	for k, m := range run {
		entryV[k] = m.StartAccelV
		dist[k] = accelDistance(m)
	}
	capV2 := 0.0 // 0 leaves CombineRun's headroom cap disabled
	if j+1 < len(moves) {
		capV2 = scurve.HeadroomCapV2(moves[j+1].JunctionMaxV2)
	}
	best, ok := chooseCombineStart(entryV, dist, q.Jerk, minAccel, q.MaxAccel, capV2, scurve.MinRampTime(q.MinJerkLimitTime))
	if !ok || best.pos == len(run)-1 {
		return
	}
	combined := run[best.pos:]
	combinedDist := dist[best.pos:]
	totalD := 0.0
	for _, d := range combinedDist {
		totalD += d
	}
	offset := 0.0
	for k, m := range combined {
		share := 0.0
		if totalD > 0 {
			share = combinedDist[k] / totalD
		}
		m.EffectiveAccel = best.seg.EffectiveAccel
		m.AccelOffsetT = offset
		m.TotalAccelT = best.seg.Duration
		offset += share * best.seg.Duration
	}
	combined[len(combined)-1].CruiseV = best.seg.EndV
}

func (q *CombiningQueue) combineDecelRuns(moves []*move.Move, minAccel float64) {
	if q.MinJerkLimitTime <= 0 || q.Jerk <= 0 || q.MaxAccel <= 0 {
		return
	}
	i := 0
	for i < len(moves) {
		m := moves[i]
		if m.DecelT <= 0 || m.DecelT >= q.MinJerkLimitTime {
			i++
			continue
		}
		j := i
		for j+1 < len(moves) &&
			moves[j].AccelT == 0 && moves[j].CruiseT == 0 &&
			moves[j+1].DecelT > 0 {
			j++
			if moves[j].DecelT >= q.MinJerkLimitTime {
				break
			}
		}
		if j > i {
			q.applyCombinedDecelRun(moves, i, j, minAccel)
		}
		i = j + 1
	}
}

// applyCombinedDecelRun mirrors applyCombinedAccelRun: the run's entry
// velocity (into the first move's deceleration) is fixed, so the
// selection picks how far through the run, from its start, the
// combined ramp extends before the remaining tail reverts to its own
// order-2 decel. CombineRun's EndV always rises above its v0 argument
// (it solves forward-in-velocity), so it is reused here only for the
// magnitude it gets right regardless of direction — EffectiveAccel and
// Duration depend on |deltaV|, not its sign — and never for EndV. The
// 53/54 headroom cap is accel-side only (see combineAccelRuns): a
// decel run's entry speed is already whatever the junction upstream
// fixed, so there is no analogous peak left to re-cap here.
func (q *CombiningQueue) applyCombinedDecelRun(moves []*move.Move, i, j int, minAccel float64) {
	run := moves[i : j+1]
	dist := make([]float64, len(run))
	for k, m := range run {
		dist[k] = decelDistance(m, decelExitV(moves, i+k))
	}
	startV := run[0].CruiseV
	best, ok := chooseCombineEnd(startV, dist, q.Jerk, minAccel, q.MaxAccel, 0, scurve.MinRampTime(q.MinJerkLimitTime))
	if !ok || best.pos == 0 {
		return
	}
	combined := run[:best.pos+1]
	totalD := 0.0
	for _, d := range dist[:best.pos+1] {
		totalD += d
	}
	offset := 0.0
	for k, m := range combined {
		d := dist[k]
		share := 0.0
		if totalD > 0 {
			share = d / totalD
		}
		m.EffectiveDecel = best.seg.EffectiveAccel
		m.DecelOffsetT = offset
		m.TotalDecelT = best.seg.Duration
		offset += share * best.seg.Duration
	}
}

// combinePeakCruise handles runs that span both a combined accel phase
// and a combined decel phase with no (or a negligible) cruise move
// between them: the shared peak-cruise velocity is the lesser of what
// either combined ramp can reach, the boundary's own junction limit,
// and the cruise speed cap.
func (q *CombiningQueue) combinePeakCruise(moves []*move.Move) {
	for i := 0; i+1 < len(moves); i++ {
		accelEnd := moves[i]
		decelStart := moves[i+1]
		if accelEnd.AccelT <= 0 || accelEnd.CruiseT > 0 || accelEnd.DecelT > 0 {
			continue
		}
		if decelStart.DecelT <= 0 || decelStart.AccelT > 0 || decelStart.CruiseT > 0 {
			continue
		}
		peakV2 := min4(
			accelEnd.CruiseV*accelEnd.CruiseV,
			decelStart.CruiseV*decelStart.CruiseV,
			accelEnd.JunctionMaxV2,
			accelEnd.MaxCruiseV2,
		)
		if peakV2 <= 0 {
			continue
		}
		peakV := math.Sqrt(peakV2)
		accelEnd.CruiseV = peakV
		decelStart.CruiseV = peakV
	}
}

func min4(a, b, c, d float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if d < m {
		m = d
	}
	return m
}
