// Package queue implements the Priority Queues component (spec §4.5): one
// ordered, in-memory queue per stage, ranked by priority class then
// submission date then sample number. Durability is provided by the
// Orchestrator's periodic reconciler (§4.5), not by this package —
// losing a queue on restart is recoverable by design (§5).
package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	workflow "github.com/yungbote/neurobridge-backend/internal/domain/workflow"
)

// Key is the ordering key for one queued step (§4.5).
type Key struct {
	Priority       workflow.Priority
	SubmissionDate time.Time
	SampleNumber   int
	// Jitter, when queue_ordering_stable is false, orders items of equal
	// priority (lower first) ahead of the submission-date and sample-number
	// tie-breaks. No caller in this module sets it, so it is zero for every
	// queued step and ordering falls through to those tie-breaks.
	Jitter float64
}

// Item is one entry in a stage queue.
type Item struct {
	StepID   uuid.UUID
	SampleID uuid.UUID
	Stage    workflow.StageName
	Key      Key

	index int // heap index, maintained by container/heap
}

// less implements the §4.5 ordering: priority desc, submission_date asc,
// sample_number asc; jitter only participates when stable ordering is
// disabled (see StageQueue.stableOrdering).
func less(a, b *Item, stable bool) bool {
	ra, rb := a.Key.Priority.Rank(), b.Key.Priority.Rank()
	if ra != rb {
		return ra > rb
	}
	if !stable {
		if a.Key.Jitter != b.Key.Jitter {
			return a.Key.Jitter < b.Key.Jitter
		}
	}
	if !a.Key.SubmissionDate.Equal(b.Key.SubmissionDate) {
		return a.Key.SubmissionDate.Before(b.Key.SubmissionDate)
	}
	return a.Key.SampleNumber < b.Key.SampleNumber
}

type itemHeap struct {
	items  []*Item
	stable bool
}

func (h itemHeap) Len() int { return len(h.items) }
func (h itemHeap) Less(i, j int) bool {
	return less(h.items[i], h.items[j], h.stable)
}
func (h itemHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}
func (h *itemHeap) Push(x any) {
	it := x.(*Item)
	it.index = len(h.items)
	h.items = append(h.items, it)
}
func (h *itemHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	h.items = old[:n-1]
	return it
}

// StageQueue is a single stage's priority queue.
type StageQueue struct {
	mu       sync.Mutex
	h        *itemHeap
	byStepID map[uuid.UUID]*Item
}

func NewStageQueue(stableOrdering bool) *StageQueue {
	return &StageQueue{
		h:        &itemHeap{stable: stableOrdering},
		byStepID: make(map[uuid.UUID]*Item),
	}
}

// Enqueue is idempotent: re-enqueuing an id already present updates its
// key in place rather than creating a duplicate entry.
func (q *StageQueue) Enqueue(stepID, sampleID uuid.UUID, stage workflow.StageName, key Key) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.byStepID[stepID]; ok {
		existing.Key = key
		heap.Fix(q.h, existing.index)
		return
	}
	it := &Item{StepID: stepID, SampleID: sampleID, Stage: stage, Key: key}
	heap.Push(q.h, it)
	q.byStepID[stepID] = it
}

// Dequeue pops the highest-priority step id, or (uuid.Nil, false) if the
// queue is empty.
func (q *StageQueue) Dequeue() (uuid.UUID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.h.Len() == 0 {
		return uuid.Nil, false
	}
	it := heap.Pop(q.h).(*Item)
	delete(q.byStepID, it.StepID)
	return it.StepID, true
}

// Remove drops stepID from the queue if present (used when a sample is
// paused or a step cancelled). It is a no-op if absent.
func (q *StageQueue) Remove(stepID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.byStepID[stepID]
	if !ok {
		return
	}
	heap.Remove(q.h, it.index)
	delete(q.byStepID, stepID)
}

func (q *StageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.h.Len()
}

// Contains reports whether stepID is currently queued.
func (q *StageQueue) Contains(stepID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byStepID[stepID]
	return ok
}

// Snapshot returns a priority-ordered copy of the queued items, for the
// GET /api/queue endpoint. It does not mutate the queue.
func (q *StageQueue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.h.items))
	idx := make([]*Item, len(q.h.items))
	for i, it := range q.h.items {
		c := *it
		idx[i] = &c
	}
	// sort copies of the items so the live heap's indices stay untouched
	tmp := &itemHeap{items: idx, stable: q.h.stable}
	heap.Init(tmp)
	for i := range out {
		popped := heap.Pop(tmp).(*Item)
		out[i] = *popped
	}
	return out
}

// Manager owns one StageQueue per canonical stage.
type Manager struct {
	stableOrdering bool
	queues         map[workflow.StageName]*StageQueue
}

func NewManager(stableOrdering bool) *Manager {
	m := &Manager{stableOrdering: stableOrdering, queues: make(map[workflow.StageName]*StageQueue)}
	for _, s := range workflow.CanonicalStages {
		m.queues[s] = NewStageQueue(stableOrdering)
	}
	return m
}

func (m *Manager) Stage(stage workflow.StageName) *StageQueue {
	return m.queues[stage]
}

func (m *Manager) Enqueue(stage workflow.StageName, stepID, sampleID uuid.UUID, key Key) {
	if q := m.Stage(stage); q != nil {
		q.Enqueue(stepID, sampleID, stage, key)
	}
}

func (m *Manager) Dequeue(stage workflow.StageName) (uuid.UUID, bool) {
	if q := m.Stage(stage); q != nil {
		return q.Dequeue()
	}
	return uuid.Nil, false
}

func (m *Manager) Remove(stage workflow.StageName, stepID uuid.UUID) {
	if q := m.Stage(stage); q != nil {
		q.Remove(stepID)
	}
}

// RemoveFromAllStages is used by sample.status_changed -> archived (§4.6.6)
// and by pause (§4.6), which do not know a priori which single stage a
// pending step belongs to.
func (m *Manager) RemoveFromAllStages(stepID uuid.UUID) {
	for _, q := range m.queues {
		q.Remove(stepID)
	}
}

// Lengths returns the current queue length per stage, for
// GET /api/workflow/status's queueLengths map.
func (m *Manager) Lengths() map[workflow.StageName]int {
	out := make(map[workflow.StageName]int, len(m.queues))
	for stage, q := range m.queues {
		out[stage] = q.Len()
	}
	return out
}
