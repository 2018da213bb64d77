package analyzer

import (
	"sort"
	"time"

	"focusflow/internal/domain"
)

func completions(evts []domain.TaskEvent) []domain.TaskEvent {
	var out []domain.TaskEvent
	for _, e := range evts {
		if e.Type == domain.EventTaskCompleted {
			out = append(out, e)
		}
	}
	return out
}

// metaNumber pulls a numeric metadata field; JSON numbers decode as float64.
func metaNumber(e domain.TaskEvent, key string) (float64, bool) {
	v, ok := e.Metadata[key]
	if !ok {
		return 0, false
	}
	n, ok := v.(float64)
	return n, ok
}

// modeBlock returns the most frequent concrete time block and its count.
// "anytime" carries no scheduling signal and is ignored.
func modeBlock(evts []domain.TaskEvent) (domain.TimeBlock, int) {
	counts := map[domain.TimeBlock]int{}
	for _, e := range evts {
		b := e.Context.TimeBlock
		if b == "" || b == domain.BlockAnytime {
			continue
		}
		counts[b]++
	}
	var best domain.TimeBlock
	bestN := 0
	for _, b := range []domain.TimeBlock{domain.BlockMorning, domain.BlockAfternoon, domain.BlockEvening} {
		if counts[b] > bestN {
			best, bestN = b, counts[b]
		}
	}
	return best, bestN
}

// timePreference: the time block where the user actually finishes work, plus
// the weekdays carrying the most completions.
func (a Analyzer) timePreference(evts []domain.TaskEvent) ([]candidate, error) {
	done := completions(evts)
	var blocked []domain.TaskEvent
	for _, e := range done {
		if e.Context.TimeBlock != "" && e.Context.TimeBlock != domain.BlockAnytime {
			blocked = append(blocked, e)
		}
	}
	block, _ := modeBlock(blocked)
	if block == "" {
		return nil, nil
	}
	dayCounts := map[int]int{}
	for _, e := range blocked {
		dayCounts[e.Context.DayOfWeek]++
	}
	return []candidate{{
		Pattern: domain.Pattern{
			PreferredTimeBlock: block,
			PreferredDays:      topKeys(dayCounts, 3),
		},
		SampleSize: len(blocked),
	}}, nil
}

// productivityWindow: the hours of day with the most completions.
func (a Analyzer) productivityWindow(evts []domain.TaskEvent) ([]candidate, error) {
	done := completions(evts)
	if len(done) == 0 {
		return nil, nil
	}
	hourCounts := map[int]int{}
	for _, e := range done {
		hourCounts[e.Context.HourOfDay]++
	}
	return []candidate{{
		Pattern:    domain.Pattern{PreferredHours: topKeys(hourCounts, 3)},
		SampleSize: len(done),
	}}, nil
}

// completionVelocity: throughput per active day and mean time spent.
func (a Analyzer) completionVelocity(evts []domain.TaskEvent) ([]candidate, error) {
	done := completions(evts)
	if len(done) == 0 {
		return nil, nil
	}
	days := map[string]bool{}
	var totalMinutes float64
	var timed int
	for _, e := range done {
		if ts, err := time.Parse(time.RFC3339, e.CreatedAt); err == nil {
			days[ts.UTC().Format("2006-01-02")] = true
		}
		if m, ok := metaNumber(e, "actual_minutes"); ok && m > 0 {
			totalMinutes += m
			timed++
		}
	}
	p := domain.Pattern{AvgTasksPerDay: float64(len(done)) / float64(max(len(days), 1))}
	if timed > 0 {
		p.AvgCompletionTimeMinutes = totalMinutes / float64(timed)
	}
	return []candidate{{Pattern: p, SampleSize: len(done)}}, nil
}

// estimationAccuracy: mean(actual/estimated) over completions carrying both.
func (a Analyzer) estimationAccuracy(evts []domain.TaskEvent) ([]candidate, error) {
	var sum float64
	var n int
	for _, e := range completions(evts) {
		actual, okA := metaNumber(e, "actual_minutes")
		estimated, okE := metaNumber(e, "estimated_minutes")
		if !okA || !okE || estimated <= 0 || actual <= 0 {
			continue
		}
		sum += actual / estimated
		n++
	}
	if n == 0 {
		return nil, nil
	}
	return []candidate{{
		Pattern:    domain.Pattern{EstimationAccuracy: sum / float64(n)},
		SampleSize: n,
	}}, nil
}

// energyPattern: per energy level, where that kind of work actually gets done.
func (a Analyzer) energyPattern(evts []domain.TaskEvent) ([]candidate, error) {
	byEnergy := map[domain.EnergyLevel][]domain.TaskEvent{}
	for _, e := range completions(evts) {
		if e.Context.EnergyLevel == "" {
			continue
		}
		byEnergy[e.Context.EnergyLevel] = append(byEnergy[e.Context.EnergyLevel], e)
	}
	var cands []candidate
	for _, lvl := range []domain.EnergyLevel{domain.EnergyLow, domain.EnergyMedium, domain.EnergyHigh} {
		group := byEnergy[lvl]
		block, n := modeBlock(group)
		if block == "" {
			continue
		}
		cands = append(cands, candidate{
			Category: string(lvl),
			Pattern: domain.Pattern{
				PreferredTimeBlock: block,
				EnergyLevel:        lvl,
				CompletionRate:     float64(n) / float64(len(group)),
			},
			SampleSize: len(group),
		})
	}
	return cands, nil
}

// projectTiming: per project, the block its completions cluster in.
func (a Analyzer) projectTiming(evts []domain.TaskEvent) ([]candidate, error) {
	byProject := map[string][]domain.TaskEvent{}
	for _, e := range completions(evts) {
		if e.Context.ProjectID == "" {
			continue
		}
		byProject[e.Context.ProjectID] = append(byProject[e.Context.ProjectID], e)
	}
	ids := make([]string, 0, len(byProject))
	for id := range byProject {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var cands []candidate
	for _, id := range ids {
		group := byProject[id]
		block, _ := modeBlock(group)
		if block == "" {
			continue
		}
		cands = append(cands, candidate{
			Category: id,
			Pattern: domain.Pattern{
				PreferredTimeBlock: block,
				ProjectID:          id,
			},
			SampleSize: len(group),
		})
	}
	return cands, nil
}

// rolloverPattern: how often tasks get pushed to another day before finishing.
func (a Analyzer) rolloverPattern(evts []domain.TaskEvent) ([]candidate, error) {
	moves := 0
	tasks := map[string]bool{}
	for _, e := range evts {
		if e.Type != domain.EventTaskMoved || e.TaskID == nil {
			continue
		}
		moves++
		tasks[*e.TaskID] = true
	}
	if moves == 0 {
		return nil, nil
	}
	return []candidate{{
		Pattern:    domain.Pattern{AvgRolloverCount: float64(moves) / float64(len(tasks))},
		SampleSize: moves,
	}}, nil
}

// priorityBehavior: how urgent work behaves relative to everything else.
func (a Analyzer) priorityBehavior(evts []domain.TaskEvent) ([]candidate, error) {
	done := completions(evts)
	var urgentMinutes float64
	var urgentTimed, urgentTotal int
	for _, e := range done {
		if e.Context.Priority != domain.PriorityUrgent {
			continue
		}
		urgentTotal++
		if m, ok := metaNumber(e, "actual_minutes"); ok && m > 0 {
			urgentMinutes += m
			urgentTimed++
		}
	}
	if urgentTimed == 0 {
		return nil, nil
	}
	return []candidate{{
		Category: string(domain.PriorityUrgent),
		Pattern: domain.Pattern{
			Priority:                 domain.PriorityUrgent,
			AvgCompletionTimeMinutes: urgentMinutes / float64(urgentTimed),
			CompletionRate:           float64(urgentTotal) / float64(len(done)),
		},
		SampleSize: urgentTimed,
	}}, nil
}

// topKeys returns the n highest-count keys, largest first, ties by key order.
func topKeys(counts map[int]int, n int) []int {
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
