package housekeeping

import (
	"sync"
	"time"
)

// MoveLogCapacity is the number of channel moves a MoveLog keeps.
const MoveLogCapacity = 5

// Move is one observed change of a channel's category or position.
type Move struct {
	ChannelID    string
	Name         string
	FromParentID string
	ToParentID   string
	FromPosition int
	ToPosition   int
	At           time.Time
}

// MoveLog is a fixed-size ring of the most recent channel moves.
type MoveLog struct {
	mu    sync.Mutex
	moves [MoveLogCapacity]Move
	next  int
	size  int
}

// NewMoveLog returns an empty move log.
func NewMoveLog() *MoveLog {
	return &MoveLog{}
}

// Push records a move, evicting the oldest once full.
func (l *MoveLog) Push(m Move) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.moves[l.next] = m
	l.next = (l.next + 1) % MoveLogCapacity
	if l.size < MoveLogCapacity {
		l.size++
	}
}

// Recent returns the recorded moves, newest first.
func (l *MoveLog) Recent() []Move {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Move, 0, l.size)
	for i := 1; i <= l.size; i++ {
		out = append(out, l.moves[(l.next-i+MoveLogCapacity)%MoveLogCapacity])
	}
	return out
}
