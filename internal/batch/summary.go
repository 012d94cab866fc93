package batch

import "sort"

// Summary holds per-label counts for a processed input
type Summary struct {
	Total  int            `json:"total_logs"`
	Counts map[string]int `json:"label_counts"`

	// Unmatched counts records no rule matched, whatever label they were given
	Unmatched int `json:"unmatched"`

	// order of first appearance, used to break count ties
	order []string
}

func newSummary() Summary {
	return Summary{Counts: make(map[string]int)}
}

func (s *Summary) add(label string, matched bool) {
	if _, ok := s.Counts[label]; !ok {
		s.order = append(s.order, label)
	}
	s.Counts[label]++
	s.Total++
	if !matched {
		s.Unmatched++
	}
}

// ChartLabels returns labels ordered by descending count
func (s Summary) ChartLabels() []string {
	labels := make([]string, 0, len(s.Counts))
	if len(s.order) == len(s.Counts) {
		labels = append(labels, s.order...)
	} else {
		for label := range s.Counts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
	}

	sort.SliceStable(labels, func(i, j int) bool {
		return s.Counts[labels[i]] > s.Counts[labels[j]]
	})
	return labels
}

// ChartValues returns counts aligned with ChartLabels
func (s Summary) ChartValues() []int {
	labels := s.ChartLabels()
	values := make([]int, len(labels))
	for i, label := range labels {
		values[i] = s.Counts[label]
	}
	return values
}
