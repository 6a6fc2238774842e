// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package changelog captures the screen from engines that record every
// drawing operation in a bounded ring instead of being compared frame by
// frame.
package changelog

import (
	"strconv"

	vnc "github.com/tenthirtyam/anyvnc"
	"github.com/tenthirtyam/anyvnc/capability"
)

// MaxChanges is the default ring capacity.
const MaxChanges = 2000

// Kind is the drawing operation behind a change record.
type Kind uint32

// Record kinds. The values are fixed by the capture drivers that produce them.
const (
	KindUnknown        Kind = 0
	KindScreenToScreen Kind = 11
	KindBlit           Kind = 12
	KindSolidFill      Kind = 13
	KindBlend          Kind = 14
	KindTrans          Kind = 15
	KindPlg            Kind = 17
	KindTextout        Kind = 18
	KindPointer        Kind = 19
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindScreenToScreen:
		return "screen-to-screen"
	case KindBlit:
		return "blit"
	case KindSolidFill:
		return "solid-fill"
	case KindBlend:
		return "blend"
	case KindTrans:
		return "trans"
	case KindPlg:
		return "plg"
	case KindTextout:
		return "textout"
	case KindPointer:
		return "pointer"
	default:
		return "kind(" + strconv.FormatUint(uint64(k), 10) + ")"
	}
}

// Paints reports whether records of kind k changed pixels that must be sent.
func (k Kind) Paints() bool {
	switch k {
	case KindBlit, KindSolidFill, KindBlend, KindTrans, KindPlg, KindTextout:
		return true
	default:
		return false
	}
}

// Record is one entry of the change log.
type Record struct {
	Kind Kind
	Rect capability.Rectangle
}

// Changes is a read-only view of a change log. Counter is the index of the
// newest record.
type Changes interface {
	Counter() int
	Capacity() int
	At(index int) Record
}

// AppendCounter is implemented by change logs that also count every record
// ever appended, which lets a reader notice records lost to wrap-around.
type AppendCounter interface {
	Appended() uint64
}

// Ring is a fixed-capacity change log. Appending advances the counter
// modulo the capacity and stores the record at the new counter, overwriting
// the oldest entry. A Ring is not synchronized; its engine's lock guards it.
type Ring struct {
	records  []Record
	counter  int
	appended uint64
}

// NewRing returns an empty ring. A non-positive capacity selects MaxChanges.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = MaxChanges
	}
	return &Ring{records: make([]Record, capacity)}
}

// Append stores rec as the newest record.
func (r *Ring) Append(rec Record) {
	r.counter = (r.counter + 1) % len(r.records)
	r.records[r.counter] = rec
	r.appended++
}

func (r *Ring) Counter() int { return r.counter }

func (r *Ring) Capacity() int { return len(r.records) }

func (r *Ring) At(index int) Record { return r.records[index] }

// Appended returns the number of records appended since the ring was made.
func (r *Ring) Appended() uint64 { return r.appended }

// Reader replays the records appended to a change log since its last replay.
// A reader that falls more than a full capacity behind silently loses the
// overwritten records.
type Reader struct {
	last   int
	logger vnc.Logger
}

// NewReader returns a reader that considers every record up to and
// including index last as already seen.
func NewReader(last int, logger vnc.Logger) *Reader {
	return &Reader{last: last, logger: vnc.OrNoOp(logger)}
}

// Last returns the index of the newest replayed record.
func (r *Reader) Last() int { return r.last }

// Reset marks everything currently in changes as seen.
func (r *Reader) Reset(changes Changes) {
	r.last = changes.Counter()
}

// Replay passes the rectangle of every new painting record to visitor, in
// log order, and returns the number of records visited. The last-seen index
// moves only after the whole replay, so a visitor that panics leaves the
// records to be replayed again.
func (r *Reader) Replay(changes Changes, visitor capability.RectangleVisitor) int {
	counter, capacity := changes.Counter(), changes.Capacity()
	if counter == r.last {
		return 0
	}
	if counter < 0 || counter >= capacity || r.last < 0 || r.last >= capacity {
		r.logger.Warn("change log counter out of range",
			vnc.Field{Key: "counter", Value: counter},
			vnc.Field{Key: "last", Value: r.last},
			vnc.Field{Key: "capacity", Value: capacity})
		return 0
	}

	visited := 0
	for i := r.last; i != counter; {
		i = (i + 1) % capacity
		rec := changes.At(i)
		visited++
		if rec.Kind.Paints() {
			visitor(rec.Rect)
			continue
		}
		r.logger.Debug("change log record skipped",
			vnc.Field{Key: "kind", Value: rec.Kind.String()},
			vnc.Field{Key: "rect", Value: rec.Rect.String()})
	}
	r.last = counter
	return visited
}
