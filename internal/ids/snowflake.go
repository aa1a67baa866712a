// Package ids generates process-local, high-churn identifiers for
// connections and gateway sessions, where a full UUIDv7 would be wasted
// because the value never outlives a websocket connection. Entities that
// are persisted (§3) use uuid.NewV7 directly and do not go through this
// package.
//
// Ported from the reference server's tools/ids Snowflake generator:
// 41 bits of millisecond timestamp since a custom epoch, 10 bits of node
// ID, 12 bits of per-millisecond sequence.
package ids

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

const (
	epochMillis  = 1577836800000 // 2020-01-01T00:00:00Z
	nodeBits     = 10
	sequenceBits = 12
	maxNode      = -1 ^ (-1 << nodeBits)
	maxSequence  = -1 ^ (-1 << sequenceBits)
	nodeShift    = sequenceBits
	timeShift    = sequenceBits + nodeBits
)

// Snowflake is a single node's generator. Safe for concurrent use.
type Snowflake struct {
	mu       sync.Mutex
	nodeID   int64
	lastTime int64
	seq      int64
}

// NewSnowflake builds a generator for the given node ID, which must be in
// [0, 1023] — callers typically derive it from a hostname hash or a
// pod-ordinal environment variable.
func NewSnowflake(nodeID int64) (*Snowflake, error) {
	if nodeID < 0 || nodeID > maxNode {
		return nil, fmt.Errorf("ids: node id %d out of range [0,%d]", nodeID, maxNode)
	}
	return &Snowflake{nodeID: nodeID}, nil
}

// Generate returns the next ID, blocking briefly if the system clock has
// moved backwards since the last call.
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.lastTime {
		// Clock moved backwards; wait it out rather than risk a collision.
		time.Sleep(time.Duration(s.lastTime-now) * time.Millisecond)
		now = s.lastTime
	}

	if now == s.lastTime {
		s.seq = (s.seq + 1) & maxSequence
		if s.seq == 0 {
			// Sequence exhausted for this millisecond; spin to the next one.
			for now <= s.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.seq = 0
	}
	s.lastTime = now

	return ((now - epochMillis) << timeShift) | (s.nodeID << nodeShift) | s.seq
}

// GenerateString returns Generate as a base-10 string, the form used in
// gateway connection IDs and snowflake-keyed log fields.
func (s *Snowflake) GenerateString() string {
	return strconv.FormatInt(s.Generate(), 10)
}
