package gfxutils

import "math"

// Statistics describes the population of one resource arena or descriptor
// heap: how many live objects it holds and how many bytes or slots they cover.
type Statistics struct {
	ResourceCount int
	ResourceBytes int
	PendingCount  int
	PendingBytes  int
}

func (s *Statistics) Clear() {
	s.ResourceCount = 0
	s.ResourceBytes = 0
	s.PendingCount = 0
	s.PendingBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ResourceCount += other.ResourceCount
	s.ResourceBytes += other.ResourceBytes
	s.PendingCount += other.PendingCount
	s.PendingBytes += other.PendingBytes
}

type DetailedStatistics struct {
	Statistics
	ResourceSizeMin int
	ResourceSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.ResourceSizeMin = math.MaxInt
	s.ResourceSizeMax = 0
}

func (s *DetailedStatistics) AddResource(size int) {
	s.ResourceCount++
	s.ResourceBytes += size

	if size < s.ResourceSizeMin {
		s.ResourceSizeMin = size
	}

	if size > s.ResourceSizeMax {
		s.ResourceSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.ResourceSizeMin < s.ResourceSizeMin {
		s.ResourceSizeMin = other.ResourceSizeMin
	}

	if other.ResourceSizeMax > s.ResourceSizeMax {
		s.ResourceSizeMax = other.ResourceSizeMax
	}
}
