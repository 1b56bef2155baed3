package session

import (
	"sync"
	"time"
)

// ReplayState is the playback state of a session.
type ReplayState string

const (
	StateStopped ReplayState = "STOPPED"
	StatePlaying ReplayState = "PLAYING"
	StatePaused  ReplayState = "PAUSED"
)

// ReplayController is the playback state machine: state, speed
// multiplier and the source-position cursor. It is read by the
// orchestrator loop and written by control commands, so every access
// goes through the mutex; critical sections are single reads or writes.
type ReplayController struct {
	mu        sync.Mutex
	state     ReplayState
	speed     int
	cursor    time.Time
	hasCursor bool
}

// ControllerStatus is the externally visible controller state.
type ControllerStatus struct {
	State  ReplayState `json:"state"`
	Speed  int         `json:"speed"`
	Cursor *time.Time  `json:"cursor,omitempty"`
}

// NewReplayController starts STOPPED at speed 1 with no cursor.
func NewReplayController() *ReplayController {
	return &ReplayController{state: StateStopped, speed: 1}
}

// Start begins playback from the beginning: the cursor is reset.
func (c *ReplayController) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StatePlaying
	c.cursor = time.Time{}
	c.hasCursor = false
}

// Pause suspends playback, keeping the cursor so Resume continues at
// the next row.
func (c *ReplayController) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePlaying {
		c.state = StatePaused
	}
}

// Resume continues playback from the held cursor.
func (c *ReplayController) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StatePaused {
		c.state = StatePlaying
	}
}

// Stop halts playback and resets the cursor.
func (c *ReplayController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateStopped
	c.cursor = time.Time{}
	c.hasCursor = false
}

// SetSpeed sets the playback speed multiplier, floored at 1.
func (c *ReplayController) SetSpeed(speed int) {
	if speed < 1 {
		speed = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// State returns the current playback state.
func (c *ReplayController) State() ReplayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speed returns the current speed multiplier.
func (c *ReplayController) Speed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speed
}

// Cursor returns the last consumed source position. ok is false before
// the first row is consumed or after a reset.
func (c *ReplayController) Cursor() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor, c.hasCursor
}

// Advance moves the cursor to the timestamp of the last consumed row.
func (c *ReplayController) Advance(ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = ts
	c.hasCursor = true
}

// Delay divides the source's base inter-snapshot delay by the current
// speed.
func (c *ReplayController) Delay(base time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return base / time.Duration(c.speed)
}

// Status returns a copy of the full controller state.
func (c *ReplayController) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := ControllerStatus{State: c.state, Speed: c.speed}
	if c.hasCursor {
		cursor := c.cursor
		status.Cursor = &cursor
	}
	return status
}
