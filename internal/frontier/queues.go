package frontier

import (
	"math/rand"
	"sync"
)

// QueueSet is the in-memory frontier: one FIFO of pending URLs per domain.
// Queues come into existence on first publish and disappear when emptied,
// so the map only ever holds domains with work pending.
//
// One mutex guards the whole map. Critical sections are bounded to map
// mutation plus a single pop; the cooldown round-trips the selection loop
// makes between Names and PopEligible happen without the lock held.
type QueueSet struct {
	mu     sync.Mutex
	queues map[string][]string
}

func NewQueueSet() *QueueSet {
	return &QueueSet{queues: make(map[string][]string)}
}

// Add appends a URL to its domain queue, creating the queue if absent.
// No deduplication: duplicate suppression belongs to the crawler's recency
// gate, not the frontier.
func (q *QueueSet) Add(domain, url string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[domain] = append(q.queues[domain], url)
}

// Names returns a snapshot of the domains that currently have pending URLs.
func (q *QueueSet) Names() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.queues))
	for name := range q.queues {
		names = append(names, name)
	}
	return names
}

// PopEligible picks one of the eligible domains uniformly at random and pops
// the head of its queue. Domains that emptied between the snapshot and this
// call are skipped; a queue emptied by the pop is dropped from the map.
// Returns ok=false when no eligible domain has work.
func (q *QueueSet) PopEligible(eligible []string) (domain, url string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	candidates := make([]string, 0, len(eligible))
	for _, name := range eligible {
		if len(q.queues[name]) > 0 {
			candidates = append(candidates, name)
		}
	}
	if len(candidates) == 0 {
		return "", "", false
	}

	domain = candidates[rand.Intn(len(candidates))]
	queue := q.queues[domain]
	url = queue[0]
	if len(queue) == 1 {
		delete(q.queues, domain)
	} else {
		q.queues[domain] = queue[1:]
	}
	return domain, url, true
}

// Stats reports the number of live queues and pending URLs across them.
func (q *QueueSet) Stats() (queues, pending int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, urls := range q.queues {
		pending += len(urls)
	}
	return len(q.queues), pending
}
