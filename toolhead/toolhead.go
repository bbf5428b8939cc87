// Package toolhead implements the motion scheduler: the state machine
// that turns queued Move objects into MCU-timed step generation,
// tracks the step-compare buffer's fill level, and coordinates drip
// mode for homing. This is the Go translation of klippy/toolhead.py's
// ToolHead class, the central module of this planning core.
package toolhead

import (
	"errors"
	"math"
	"sync"

	"motioncore/extruder"
	"motioncore/kinematics"
	"motioncore/machine"
	"motioncore/mcu"
	"motioncore/move"
	"motioncore/movequeue"
	"motioncore/reactor"
)

// Scheduler timing constants, from klippy/toolhead.py.
const (
	MinKinTime      = 0.100 // minimum lead of print_time over the MCU estimate on resync
	MoveBatchTime   = 0.500 // how far ahead _process_moves batches print_time
	StallTime       = 0.100 // longest single pause while the buffer is over BufferTimeHigh
	DripSegmentTime = 0.050 // how often DripMove polls its end signal
	DripTime        = 0.100 // drip-mode look-ahead horizon
)

// QueuingState is toolhead.py's special_queuing_state: "", "Flushed",
// "Priming", "Drip".
type QueuingState int

const (
	StateNormal QueuingState = iota
	StateFlushed
	StatePriming
	StateDrip
)

// DispatchOutcome replaces toolhead.py's DripModeEndSignal exception:
// DripMove returns a value instead of unwinding the stack via panic,
// since idiomatic Go favors returned values over panics for expected,
// non-programmer-error outcomes.
type DispatchOutcome int

const (
	DispatchComplete DispatchOutcome = iota
	DispatchEndstopTriggered
)

var (
	ErrShutdown     = errors.New("toolhead: shut down, moves rejected")
	ErrQueueMismatch = errors.New("toolhead: move queue returned an unexpected count")
)

// Toolhead is the motion scheduler. Construct with New and drive it
// with Move/Dwell/WaitMoves/DripMove.
type Toolhead struct {
	mu sync.Mutex

	r    *reactor.Reactor
	mcu  mcu.MCU
	kin  kinematics.Kinematics
	ext  extruder.Extruder
	q    movequeue.MoveQueue
	cfg  *machine.MachineConfig

	limits            move.Limits
	junctionDeviation float64
	junctionPolicy    move.JunctionPolicy

	commandedPos machine.Position
	lastMove     *move.Move

	printTime        float64
	lastKinFlushTime float64
	lastKinMoveTime  float64
	kinFlushDelay    float64

	specialQueuingState QueuingState
	idleFlushPrintTime  float64
	shutdown            bool

	flushTimer *reactor.TimerHandle

	printStallCount int
	needCheckStall  float64
}

// New constructs a Toolhead. r, m, kin, ext and q must be non-nil; q is
// typically movequeue.NewQueue() (order 2) or
// movequeue.NewCombiningQueue(...) (order 4/6).
func New(cfg *machine.MachineConfig, r *reactor.Reactor, m mcu.MCU, kin kinematics.Kinematics, ext extruder.Extruder, q movequeue.MoveQueue) *Toolhead {
	t := &Toolhead{
		r: r, mcu: m, kin: kin, ext: ext, q: q, cfg: cfg,
		limits: move.Limits{
			MaxVelocity:       cfg.MaxVelocity,
			MaxAccel:          cfg.MaxAccel,
			MaxAccelToDecel:   cfg.MaxAccelToDecel,
			MaxJerk:           cfg.MaxJerk,
			MinJerkLimitTime:  cfg.MinJerkLimitTime,
			AccelCompensation: cfg.AccelCompensation,
			AccelOrder:        move.AccelOrder(cfg.AccelOrder),
		},
		junctionDeviation:   move.JunctionDeviation(cfg.SquareCornerVelocity, cfg.MaxAccel),
		specialQueuingState: StateFlushed,
		needCheckStall:      -1,
	}
	t.flushTimer = r.RegisterTimer(t.flushHandler, reactor.NEVER)
	return t
}

// SetJunctionPolicy installs a shaping front end's junction formula
// override (shaping.SmoothAxis), or nil to restore the default
// approximated-centripetal-velocity formula.
func (t *Toolhead) SetJunctionPolicy(jc move.JunctionPolicy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.junctionPolicy = jc
}

// SetMoveQueue hot-swaps the look-ahead planner — the typed
// replacement for toolhead.py's runtime move_queue attribute swap
// (SET_SCURVE). Any moves already queued in the old planner are
// flushed first so no motion is lost.
func (t *Toolhead) SetMoveQueue(q movequeue.MoveQueue) error {
	if err := t.FlushLookahead(false); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.q = q
	return nil
}

// NoteStepGenerationScanTime records a shaping front end's required
// look-ahead window (toolhead.py's note_step_generation_scan_time):
// the toolhead must keep at least this much unflushed time in its
// buffer so the front end's scan window never runs past queued moves.
func (t *Toolhead) NoteStepGenerationScanTime(scanTime float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if scanTime > t.kinFlushDelay {
		t.kinFlushDelay = scanTime
	}
}

// GetPosition returns the toolhead's last commanded position.
func (t *Toolhead) GetPosition() machine.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commandedPos
}

// SetPosition forces the commanded position (after homing), clearing
// any in-flight junction continuity.
func (t *Toolhead) SetPosition(pos machine.Position, homingAxes []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandedPos = pos
	t.lastMove = nil
	t.kin.SetPosition(pos, homingAxes)
}

// GetMaxAxisHalt returns the velocity an axis can be assumed to stop
// from instantly, toolhead.py's get_max_axis_halt: the smaller of the
// configured max velocity and sqrt(max_accel * square_corner_velocity).
// Nothing else in this module calls it.
func (t *Toolhead) GetMaxAxisHalt() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := math.Sqrt(t.limits.MaxAccel * t.cfg.SquareCornerVelocity)
	if v > t.limits.MaxVelocity {
		return t.limits.MaxVelocity
	}
	return v
}

// Move queues a linear segment from the current commanded position to
// newPos at speed (clamped by configured and per-collaborator limits).
// A move entirely within Epsilon of the current position (including
// its extruder axis) is silently dropped, matching toolhead.py's
// zero-length move no-op.
func (t *Toolhead) Move(newPos machine.Position, speed float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown {
		return ErrShutdown
	}
	m := move.New(t.commandedPos, newPos, speed, t.limits)
	if m.MoveD < move.Epsilon && m.AxesD[3] == 0 {
		return nil
	}
	if err := t.kin.CheckMove(m); err != nil {
		return err
	}
	if err := t.ext.CheckMove(m); err != nil {
		return err
	}
	if t.lastMove != nil {
		extraV2 := t.ext.CalcJunction(t.lastMove, m)
		m.CalcJunctionWithDeviation(t.lastMove, t.junctionDeviation, extraV2, t.junctionPolicy)
	}
	if err := t.q.AddMove(m); err != nil {
		return err
	}
	t.commandedPos = m.EndPos
	t.lastMove = m
	needsFlush := t.q.NeedsFlush()
	needsStallCheck := t.printTime > t.needCheckStall
	t.mu.Unlock()
	var err error
	if needsFlush {
		err = t.FlushLookahead(true)
	}
	if err == nil && needsStallCheck {
		t.checkStall()
	}
	t.mu.Lock()
	return err
}

// FlushLookahead commits ready moves from the look-ahead queue and
// assigns them print_time, as toolhead.py's _flush_lookahead does: in
// the special queuing states Flushed/Priming, flushing instead forces
// the full flush_step_generation transition back to normal queuing.
// Drip is excluded from that: toolhead.py only ever reaches
// flush_step_generation from Drip when the drip move itself is
// finishing (see DripMove), never mid-drip.
func (t *Toolhead) FlushLookahead(lazy bool) error {
	t.mu.Lock()
	special := t.specialQueuingState
	t.mu.Unlock()
	if special == StateFlushed || special == StatePriming {
		return t.flushStepGeneration()
	}
	t.mu.Lock()
	flushed, err := t.q.Flush(lazy)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if len(flushed) == 0 {
		return nil
	}
	return t.processMoves(flushed)
}

// processMoves assigns each move a start print_time immediately after
// its predecessor's end, then hands the whole batch's end time to
// updateMoveTime, toolhead.py's _process_moves. Resyncing print_time
// off the MCU's estimate (calcPrintTime) only happens on the
// Flushed/Priming -> Normal transition, matching _process_moves'
// special_queuing_state check.
func (t *Toolhead) processMoves(moves []*move.Move) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.specialQueuingState != StateNormal {
		if t.specialQueuingState != StateDrip {
			t.specialQueuingState = StateNormal
			t.r.UpdateTimer(t.flushTimer, reactor.NOW)
		}
		t.calcPrintTime()
	}
	nextMoveTime := t.printTime
	for _, m := range moves {
		moveTime := m.TotalAccelT + m.CruiseT + m.TotalDecelT
		if moveTime <= 0 {
			moveTime = m.AccelT + m.CruiseT + m.DecelT
		}
		t.ext.Move(nextMoveTime, m)
		nextMoveTime += moveTime
	}
	if err := t.updateMoveTime(nextMoveTime); err != nil {
		return err
	}
	t.lastKinMoveTime = nextMoveTime
	return nil
}

// updateMoveTime is the layered flush: advance print_time toward
// nextPrintTime in MoveBatchTime-sized steps, and at each step flush
// three stages, each offset progressively further back in time —
// step generation to sgFlushTime, the trapezoid queue's history free
// boundary to freeTime (kinFlushDelay further back, so a shaping front
// end's scan window is never run past queued motion), and the MCU's
// own flush to mcuFlushTime (moveFlushTime further back, the MCU's own
// step-compare lookahead). All three are floored at
// lastKinFlushTime, toolhead.py's _update_move_time.
func (t *Toolhead) updateMoveTime(nextPrintTime float64) error {
	lkft := t.lastKinFlushTime
	for {
		t.printTime = math.Min(t.printTime+MoveBatchTime, nextPrintTime)
		sgFlushTime := math.Max(lkft, t.printTime-t.kinFlushDelay)
		freeTime := math.Max(lkft, sgFlushTime-t.kinFlushDelay)
		mcuFlushTime := math.Max(lkft, sgFlushTime-t.cfg.MoveFlushTime)
		if !t.mcu.IsFileoutput() {
			if err := t.mcu.FlushMoves(mcuFlushTime, freeTime); err != nil {
				return err
			}
		}
		if t.printTime >= nextPrintTime {
			break
		}
	}
	return nil
}

// calcPrintTime resyncs print_time off the MCU's own estimate after an
// idle period, toolhead.py's _calc_print_time: print_time may never
// start closer than BufferTimeStart to the MCU's current estimate, nor
// before the later of (estimate + MinKinTime) and the last kinematic
// flush, plus kinFlushDelay, so queued step generation always has
// enough future buffer.
func (t *Toolhead) calcPrintTime() {
	now := t.r.Monotonic()
	est := t.mcu.EstimatedPrintTime(now)
	kinTime := math.Max(est+MinKinTime, t.lastKinFlushTime)
	kinTime += t.kinFlushDelay
	minPrintTime := math.Max(est+t.cfg.BufferTimeStart, kinTime)
	if minPrintTime > t.printTime {
		t.printTime = minPrintTime
	}
}

// flushStepGeneration forces every queued move through the planner and
// transitions to StateFlushed, toolhead.py's flush_step_generation: the
// state the toolhead parks in between prints, where the look-ahead
// queue holds nothing back waiting for a longer combining run.
func (t *Toolhead) flushStepGeneration() error {
	t.mu.Lock()
	flushed, err := t.q.Flush(false)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	if len(flushed) > 0 {
		if err := t.processMoves(flushed); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specialQueuingState = StateFlushed
	t.r.UpdateTimer(t.flushTimer, reactor.NEVER)
	t.idleFlushPrintTime = 0
	flushTime := t.lastKinMoveTime + t.kinFlushDelay
	if flushTime > t.lastKinFlushTime {
		t.lastKinFlushTime = flushTime
	}
	target := t.printTime
	if t.lastKinFlushTime > target {
		target = t.lastKinFlushTime
	}
	return t.updateMoveTime(target)
}

// Dwell inserts a pause of delay seconds at the current position.
func (t *Toolhead) Dwell(delay float64) error {
	t.mu.Lock()
	t.printTime += delay
	needsFlush := t.q.NeedsFlush()
	t.mu.Unlock()
	defer t.checkStall()
	if needsFlush {
		return t.FlushLookahead(false)
	}
	return nil
}

// WaitMoves blocks (via the reactor) until every queued and flushed
// move has actually finished executing on the MCU, toolhead.py's
// wait_moves / _check_stall polling loop simplified to a plain wait.
func (t *Toolhead) WaitMoves() error {
	if err := t.FlushLookahead(false); err != nil {
		return err
	}
	t.mu.Lock()
	target := t.printTime
	t.mu.Unlock()
	for {
		if !t.r.CanPause() {
			return nil
		}
		now := t.r.Monotonic()
		est := t.mcu.EstimatedPrintTime(now)
		if est >= target || t.mcu.IsFileoutput() {
			return nil
		}
		t.r.Pause(now + 0.1)
	}
}

// DripMove queues a single move and commits all of it to the planner
// and the MCU at once, then polls endSignal every DripSegmentTime so a
// caller (homing) learns the instant an endstop triggers without
// waiting for the whole move to finish. print_time is not advanced in
// DripSegmentTime steps, and motion already committed is not withdrawn
// when endSignal fires. Returns DispatchEndstopTriggered if endSignal
// completed before the move did, DispatchComplete otherwise — a regular
// return value standing in for the Python DripModeEndSignal exception.
func (t *Toolhead) DripMove(newPos machine.Position, speed float64, endSignal *reactor.Completion) (DispatchOutcome, error) {
	t.mu.Lock()
	t.specialQueuingState = StateDrip
	t.needCheckStall = math.Inf(1)
	t.r.UpdateTimer(t.flushTimer, reactor.NEVER)
	t.idleFlushPrintTime = 0
	t.mu.Unlock()
	defer func() {
		// Exit Drip by way of the same transition flush_step_generation
		// makes everywhere else, landing in StateFlushed rather than
		// leaving the toolhead in a state it never otherwise visits.
		if err := t.flushStepGeneration(); err != nil {
			t.mu.Lock()
			t.specialQueuingState = StateFlushed
			t.mu.Unlock()
		}
	}()

	if err := t.Move(newPos, speed); err != nil {
		return DispatchComplete, err
	}
	if err := t.FlushLookahead(false); err != nil {
		return DispatchComplete, err
	}

	t.mu.Lock()
	target := t.printTime
	t.mu.Unlock()

	for {
		now := t.r.Monotonic()
		est := t.mcu.EstimatedPrintTime(now)
		if est >= target {
			return DispatchComplete, nil
		}
		if endSignal != nil && endSignal.Test() {
			return DispatchEndstopTriggered, nil
		}
		// Pause (rather than endSignal.Wait) so the reactor's own timer
		// queue gets pumped every segment — a completion backed by a
		// registered timer (as an endstop arm typically is) only fires
		// once something drains that queue.
		t.r.Pause(now + DripSegmentTime)
		if endSignal != nil && endSignal.Test() {
			return DispatchEndstopTriggered, nil
		}
	}
}

// flushHandler is the periodic buffer-drain timer, toolhead.py's
// _flush_handler: once the step-compare buffer has drained below
// BufferTimeLow, it forces the full Flushed-state transition instead
// of waiting for the next move to trigger it.
func (t *Toolhead) flushHandler(eventTime float64) float64 {
	t.mu.Lock()
	if t.specialQueuingState == StateDrip {
		t.mu.Unlock()
		return reactor.NEVER
	}
	printTime := t.printTime
	t.mu.Unlock()

	bufferTime := printTime - t.mcu.EstimatedPrintTime(eventTime)
	if bufferTime > t.cfg.BufferTimeLow {
		return eventTime + bufferTime - t.cfg.BufferTimeLow
	}
	if err := t.flushStepGeneration(); err != nil {
		return reactor.NEVER
	}
	t.mu.Lock()
	if printTime != t.printTime {
		t.idleFlushPrintTime = t.printTime
	}
	t.mu.Unlock()
	return reactor.NEVER
}

// checkStall is the stall-pause gate, toolhead.py's _check_stall:
// entering a special queuing state first folds in whether the
// previous idle-triggered flush actually stalled (the MCU hadn't
// reached idleFlushPrintTime by the time another move showed up), then
// the toolhead blocks in StallTime-sized increments for as long as the
// queued buffer exceeds BufferTimeHigh — too much has been queued for
// the MCU's step-compare buffer to hold before it drains.
func (t *Toolhead) checkStall() {
	t.mu.Lock()
	if t.specialQueuingState != StateNormal {
		if t.idleFlushPrintTime != 0 {
			now := t.r.Monotonic()
			if t.mcu.EstimatedPrintTime(now) < t.idleFlushPrintTime {
				t.printStallCount++
			}
			t.idleFlushPrintTime = 0
		}
		t.specialQueuingState = StatePriming
		t.needCheckStall = -1
		t.mu.Unlock()
		t.r.UpdateTimer(t.flushTimer, t.r.Monotonic()+0.100)
	} else {
		t.mu.Unlock()
	}

	for {
		eventTime := t.r.Monotonic()
		est := t.mcu.EstimatedPrintTime(eventTime)
		t.mu.Lock()
		bufferTime := t.printTime - est
		t.mu.Unlock()
		stallTime := bufferTime - t.cfg.BufferTimeHigh
		if stallTime <= 0 {
			break
		}
		if !t.r.CanPause() {
			t.mu.Lock()
			t.needCheckStall = math.Inf(1)
			t.mu.Unlock()
			return
		}
		pause := stallTime
		if pause > StallTime {
			pause = StallTime
		}
		t.r.Pause(eventTime + pause)
	}
	t.mu.Lock()
	if t.specialQueuingState == StateNormal {
		t.needCheckStall = t.mcu.EstimatedPrintTime(t.r.Monotonic()) + t.cfg.BufferTimeHigh + 0.100
	}
	t.mu.Unlock()
}

// SetVelocityLimit implements the SET_VELOCITY_LIMIT command: tighten
// or loosen the configured max velocity/accel/accel_to_decel ceilings.
// Velocity/accel/accel_to_decel values <= 0 leave that limit unchanged.
// A negative squareCornerVelocity leaves the junction deviation as it
// is; any value >= 0 (including 0) recomputes it against the current
// max accel.
func (t *Toolhead) SetVelocityLimit(maxVelocity, maxAccel, maxAccelToDecel, squareCornerVelocity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if maxVelocity > 0 {
		t.limits.MaxVelocity = maxVelocity
	}
	if maxAccel > 0 {
		t.limits.MaxAccel = maxAccel
	}
	if maxAccelToDecel > 0 {
		t.limits.MaxAccelToDecel = maxAccelToDecel
	}
	if squareCornerVelocity >= 0 {
		t.junctionDeviation = move.JunctionDeviation(squareCornerVelocity, t.limits.MaxAccel)
	}
}

// M204 implements the M204 S<accel> command (legacy print-accel override).
func (t *Toolhead) M204(accel float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if accel > 0 {
		t.limits.MaxAccel = accel
	}
}

// Stats is the snapshot returned by GetStats: the
// buffer-fill and stall bookkeeping the host side polls periodically.
type Stats struct {
	PrintTime       float64
	EstimatedTime   float64
	BufferTime      float64
	StallCount      int
	SpecialQueuing  QueuingState
}

func (t *Toolhead) GetStats(now float64) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	est := t.mcu.EstimatedPrintTime(now)
	return Stats{
		PrintTime:      t.printTime,
		EstimatedTime:  est,
		BufferTime:     t.printTime - est,
		StallCount:     t.printStallCount,
		SpecialQueuing: t.specialQueuingState,
	}
}

// CheckBusy reports whether the toolhead still has unflushed or
// unexecuted motion (toolhead.py's check_busy), which a CLI or test
// harness can poll instead of blocking in WaitMoves.
func (t *Toolhead) CheckBusy(now float64) bool {
	t.mu.Lock()
	printTime := t.printTime
	t.mu.Unlock()
	return t.mcu.EstimatedPrintTime(now) < printTime
}

// EmergencyStop halts further motion immediately: the look-ahead queue
// is discarded, the reactor is told it may no longer pause (so any
// in-flight WaitMoves/DripMove returns immediately), and all further
// Move calls are rejected until a new Toolhead is constructed.
func (t *Toolhead) EmergencyStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = true
	t.q.Reset()
	t.r.SetCanPause(false)
	t.r.UpdateTimer(t.flushTimer, reactor.NEVER)
}
