package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Queue orders pending job ids: higher priority first, then submission order.
type Queue interface {
	Push(ctx context.Context, id string, priority Priority) error
	// Pop removes the next id; ok is false when the queue is empty.
	Pop(ctx context.Context) (id string, ok bool, err error)
	Remove(ctx context.Context, id string) (bool, error)
	// Position is 1-based; 0 means the id is not queued.
	Position(ctx context.Context, id string) (int, error)
	Len(ctx context.Context) (int, error)
}

// ------------------------------------------------------------------
// In-process heap
// ------------------------------------------------------------------

type entry struct {
	id       string
	priority Priority
	seq      uint64
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type MemoryQueue struct {
	mu      sync.Mutex
	heap    entryHeap
	byID    map[string]*entry
	nextSeq uint64
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]*entry)}
}

func (q *MemoryQueue) Push(_ context.Context, id string, priority Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.byID[id]; ok {
		return fmt.Errorf("job %s already queued", id)
	}
	e := &entry{id: id, priority: priority, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.heap, e)
	q.byID[id] = e
	return nil
}

func (q *MemoryQueue) Pop(context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.heap.Len() == 0 {
		return "", false, nil
	}
	e := heap.Pop(&q.heap).(*entry)
	delete(q.byID, e.id)
	return e.id, true, nil
}

func (q *MemoryQueue) Remove(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return false, nil
	}
	heap.Remove(&q.heap, e.index)
	delete(q.byID, id)
	return true, nil
}

func (q *MemoryQueue) Position(_ context.Context, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.byID[id]
	if !ok {
		return 0, nil
	}
	pos := 1
	for _, other := range q.heap {
		if other != e && q.heap.Less(other.index, e.index) {
			pos++
		}
	}
	return pos, nil
}

func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len(), nil
}

// ------------------------------------------------------------------
// Redis sorted set
// ------------------------------------------------------------------

const (
	DefaultRedisKey = "queue:jobs"
	seqKeySuffix    = ":seq"
	// priorityStride keeps priority dominant over the sequence number.
	priorityStride = 1 << 40
)

// RedisQueue keeps the queue in a sorted set so it survives restarts and can
// be inspected by other processes.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{rdb: rdb, key: key}
}

// score = priority*stride - seq, so ZPOPMAX yields the highest priority and
// the oldest entry within it.
func (q *RedisQueue) Push(ctx context.Context, id string, priority Priority) error {
	seq, err := q.rdb.Incr(ctx, q.key+seqKeySuffix).Result()
	if err != nil {
		return fmt.Errorf("queue sequence: %w", err)
	}
	score := float64(int64(priority)*priorityStride - seq)
	added, err := q.rdb.ZAddNX(ctx, q.key, &redis.Z{Score: score, Member: id}).Result()
	if err != nil {
		return fmt.Errorf("queue job: %w", err)
	}
	if added == 0 {
		return fmt.Errorf("job %s already queued", id)
	}
	return nil
}

func (q *RedisQueue) Pop(ctx context.Context) (string, bool, error) {
	res, err := q.rdb.ZPopMax(ctx, q.key, 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("pop job: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	id, _ := res[0].Member.(string)
	return id, true, nil
}

func (q *RedisQueue) Remove(ctx context.Context, id string) (bool, error) {
	n, err := q.rdb.ZRem(ctx, q.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("remove job: %w", err)
	}
	return n > 0, nil
}

func (q *RedisQueue) Position(ctx context.Context, id string) (int, error) {
	rank, err := q.rdb.ZRevRank(ctx, q.key, id).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("job rank: %w", err)
	}
	return int(rank) + 1, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
)
