package pipeline

import "sync"

// Stats counts admissions and rejections by reason for the heartbeat
// snapshot. Policy rejections are expected traffic, so they are counted,
// not raised.
type Stats struct {
	mu         sync.Mutex
	processed  int64
	approved   int64
	rejections map[string]int64
}

func NewStats() *Stats {
	return &Stats{rejections: make(map[string]int64)}
}

func (s *Stats) recordProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
}

func (s *Stats) recordApproved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved++
}

func (s *Stats) recordRejection(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections[reason]++
}

// Snapshot returns copies of the current counters.
func (s *Stats) Snapshot() (processed, approved int64, rejections map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rejections = make(map[string]int64, len(s.rejections))
	for reason, count := range s.rejections {
		rejections[reason] = count
	}
	return s.processed, s.approved, rejections
}
