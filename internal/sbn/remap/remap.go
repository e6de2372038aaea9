// Package remap implements the per-peer message-identifier rewrite table:
// a sorted (ProcessorId, fromId) -> toId array searched by bisection.
package remap

import (
	"fmt"
	"sort"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/sbnerrors"
)

// Entry is one remap rule.
type Entry struct {
	ProcessorId ids.ProcessorId
	From        ids.MessageId
	To          ids.MessageId
}

func lessKey(a Entry, processorID ids.ProcessorId, from ids.MessageId) bool {
	if a.ProcessorId != processorID {
		return a.ProcessorId < processorID
	}
	return a.From < from
}

// Table is a sorted, duplicate-free set of remap entries with a default
// policy applied on a miss.
type Table struct {
	entries []Entry
	policy  ids.DefaultPolicy
}

// New builds a Table from entries, sorting them and rejecting duplicate
// (ProcessorId, From) keys.
func New(entries []Entry, policy ids.DefaultPolicy) (*Table, error) {
	sorted := append([]Entry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ProcessorId != sorted[j].ProcessorId {
			return sorted[i].ProcessorId < sorted[j].ProcessorId
		}
		return sorted[i].From < sorted[j].From
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].ProcessorId == sorted[i-1].ProcessorId && sorted[i].From == sorted[i-1].From {
			return nil, fmt.Errorf("%w: duplicate remap key (processor=%d from=%d)",
				sbnerrors.ErrConfigInvalid, sorted[i].ProcessorId, sorted[i].From)
		}
	}
	return &Table{entries: sorted, policy: policy}, nil
}

// RemapMID rewrites from under the rules for processorID. On a miss the
// result depends on the table's default policy: PassThrough returns from
// unchanged, Drop returns zero. A returned zero MUST cause the caller to
// skip sending.
//
// A nil Table is treated as an empty pass-through table, so callers with
// no RemapTable installed can unconditionally call RemapMID.
func (t *Table) RemapMID(processorID ids.ProcessorId, from ids.MessageId) ids.MessageId {
	if t == nil {
		return from
	}
	i := sort.Search(len(t.entries), func(i int) bool {
		return !lessKey(t.entries[i], processorID, from)
	})
	if i < len(t.entries) && t.entries[i].ProcessorId == processorID && t.entries[i].From == from {
		return t.entries[i].To
	}
	if t.policy == ids.PolicyPassThrough {
		return from
	}
	return 0
}

// Len reports the number of entries in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}
