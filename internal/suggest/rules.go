package suggest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"focusflow/internal/domain"
)

// overloadWarnings fires once per (date, time block) pair holding more than
// the threshold of pending tasks, not once per task.
func (g Generator) overloadWarnings(ctx context.Context, env genEnv) ([]draft, error) {
	type slot struct {
		date  string
		block domain.TimeBlock
	}
	counts := map[slot]int{}
	for _, t := range env.pending() {
		if t.Date == nil {
			continue
		}
		counts[slot{*t.Date, t.TimeBlock}]++
	}
	slots := make([]slot, 0, len(counts))
	for s := range counts {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].date != slots[j].date {
			return slots[i].date < slots[j].date
		}
		return slots[i].block < slots[j].block
	})
	var out []draft
	for _, s := range slots {
		n := counts[s]
		if n <= g.Config.Suggestions.OverloadThreshold {
			continue
		}
		out = append(out, draft{
			Type:       domain.SuggestOverloadWarning,
			Scope:      s.date + "|" + string(s.block),
			Title:      fmt.Sprintf("%d tasks crowd the %s of %s", n, s.block, s.date),
			Reasoning:  fmt.Sprintf("More than %d pending tasks share one slot; consider spreading them out.", g.Config.Suggestions.OverloadThreshold),
			Action:     domain.DismissAction{},
			Confidence: g.Config.Suggestions.RuleConfidence,
			Source:     domain.SourceRule,
		})
	}
	return out, nil
}

// dependencyReady fires for pending tasks whose every dependency is completed.
func (g Generator) dependencyReady(ctx context.Context, env genEnv) ([]draft, error) {
	var out []draft
	for _, t := range env.pending() {
		if len(t.DependsOn) == 0 {
			continue
		}
		ready, err := g.Graph.IsReady(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestDependencyReady,
			TaskID:     &id,
			Title:      fmt.Sprintf("%q is unblocked", t.Title),
			Reasoning:  "Everything this task was waiting on is done.",
			Action:     domain.FocusAction{TaskIDs: []string{t.ID}},
			Confidence: g.Config.Suggestions.RuleConfidence,
			Source:     domain.SourceRule,
		})
	}
	return out, nil
}

// staleTasks flags pending tasks untouched past the staleness window with no
// completed subtasks.
func (g Generator) staleTasks(ctx context.Context, env genEnv) ([]draft, error) {
	cutoff := g.now().UTC().AddDate(0, 0, -g.Config.Suggestions.StaleAfterDays)
	var out []draft
	for _, t := range env.pending() {
		updated, err := time.Parse(time.RFC3339, t.UpdatedAt)
		if err != nil || !updated.Before(cutoff) {
			continue
		}
		if anySubtaskDone(t) {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestStaleTask,
			TaskID:     &id,
			Title:      fmt.Sprintf("%q has been sitting for %d+ days", t.Title, g.Config.Suggestions.StaleAfterDays),
			Reasoning:  "No progress since creation; archive it or break it down.",
			Action:     domain.ArchiveAction{},
			Confidence: g.Config.Suggestions.RuleConfidence,
			Source:     domain.SourceRule,
		})
	}
	return out, nil
}

func anySubtaskDone(t domain.Task) bool {
	for _, s := range t.Subtasks {
		if s.Completed {
			return true
		}
	}
	return false
}

// reschedules moves past-dated pending tasks to today.
func (g Generator) reschedules(ctx context.Context, env genEnv) ([]draft, error) {
	var out []draft
	for _, t := range env.pending() {
		if t.Date == nil || *t.Date >= env.today {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestReschedule,
			TaskID:     &id,
			Title:      fmt.Sprintf("%q slipped past its date", t.Title),
			Reasoning:  fmt.Sprintf("Scheduled for %s and still open.", *t.Date),
			Action:     domain.MoveDateAction{TargetDate: env.today},
			Confidence: g.Config.Suggestions.RuleConfidence,
			Source:     domain.SourceRule,
		})
	}
	return out, nil
}

// dailyPlan proposes up to three ready tasks for today, highest priority
// first. One plan per user per day.
func (g Generator) dailyPlan(ctx context.Context, env genEnv) ([]draft, error) {
	var todays []domain.Task
	for _, t := range env.pending() {
		if t.Date == nil || *t.Date != env.today {
			continue
		}
		ready, err := g.Graph.IsReady(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if ready {
			todays = append(todays, t)
		}
	}
	if len(todays) == 0 {
		return nil, nil
	}
	sort.SliceStable(todays, func(i, j int) bool {
		return priorityRank[todays[i].Priority] > priorityRank[todays[j].Priority]
	})
	if len(todays) > 3 {
		todays = todays[:3]
	}
	ids := make([]string, len(todays))
	for i, t := range todays {
		ids[i] = t.ID
	}
	return []draft{{
		Type:       domain.SuggestDailyPlan,
		Scope:      env.today,
		Title:      "Your focus picks for today",
		Reasoning:  "Highest-priority unblocked tasks scheduled for today.",
		Action:     domain.FocusAction{TaskIDs: ids},
		Confidence: g.Config.Suggestions.RuleConfidence,
		Source:     domain.SourceRule,
	}}, nil
}

// breakdowns targets big, unstructured pending tasks with a starter-step
// split that lowers the cost of getting going.
func (g Generator) breakdowns(ctx context.Context, env genEnv) ([]draft, error) {
	var out []draft
	for _, t := range env.pending() {
		if t.EstimatedMinutes < g.Config.Suggestions.BreakdownMinutes || len(t.Subtasks) > 0 {
			continue
		}
		id := t.ID
		main := t.EstimatedMinutes - 15
		if main < 15 {
			main = 15
		}
		out = append(out, draft{
			Type:      domain.SuggestBreakdown,
			TaskID:    &id,
			Title:     fmt.Sprintf("Break %q into smaller steps", t.Title),
			Reasoning: fmt.Sprintf("%d minutes in one sitting is a lot; a small first step makes it easier to start.", t.EstimatedMinutes),
			Action: domain.BreakdownAction{SuggestedSubtasks: []domain.SubtaskDraft{
				{Title: "Get set up and open what you need", EstimatedMinutes: 5, EnergyLevel: domain.EnergyLow},
				{Title: "Main work block", EstimatedMinutes: main, EnergyLevel: t.EnergyLevel},
				{Title: "Review and wrap up", EstimatedMinutes: 10, EnergyLevel: domain.EnergyLow},
			}},
			Confidence: g.Config.Suggestions.RuleConfidence,
			Source:     domain.SourceRule,
		})
	}
	return out, nil
}

// timeBlockMismatches compares scheduled blocks against the user's observed
// completion preference.
func (g Generator) timeBlockMismatches(ctx context.Context, env genEnv) ([]draft, error) {
	in, ok := env.insights.unscoped[domain.InsightTimePreference]
	if !ok || in.Confidence < g.Config.Suggestions.ConfidenceFloor {
		return nil, nil
	}
	preferred := in.Pattern.PreferredTimeBlock
	if preferred == "" || preferred == domain.BlockAnytime {
		return nil, nil
	}
	var out []draft
	for _, t := range env.pending() {
		if t.TimeBlock == preferred || t.TimeBlock == domain.BlockAnytime {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestTimeBlock,
			TaskID:     &id,
			Title:      fmt.Sprintf("Move %q to the %s", t.Title, preferred),
			Reasoning:  fmt.Sprintf("You finish most tasks in the %s (%d completions observed).", preferred, in.SampleSize),
			Action:     domain.MoveTimeBlockAction{TargetTimeBlock: preferred},
			Confidence: in.Confidence,
			Source:     domain.SourcePattern,
		})
	}
	return out, nil
}

// typicalBlockFor is the fallback energy-to-block mapping used when no
// energy_pattern insight exists yet: peak energy in the morning, wind-down in
// the evening.
func typicalBlockFor(lvl domain.EnergyLevel) domain.TimeBlock {
	switch lvl {
	case domain.EnergyHigh:
		return domain.BlockMorning
	case domain.EnergyLow:
		return domain.BlockEvening
	default:
		return domain.BlockAfternoon
	}
}

// energyMismatches flags tasks whose energy level diverges from the block
// they sit in.
func (g Generator) energyMismatches(ctx context.Context, env genEnv) ([]draft, error) {
	var out []draft
	for _, t := range env.pending() {
		if t.TimeBlock == domain.BlockAnytime || t.EnergyLevel == "" {
			continue
		}
		expected := typicalBlockFor(t.EnergyLevel)
		confidence := g.Config.Suggestions.RuleConfidence
		source := domain.SourceRule
		reason := fmt.Sprintf("%s-energy tasks usually fit the %s better.", t.EnergyLevel, expected)
		if in, ok := env.insights.byEnergy[t.EnergyLevel]; ok && in.Confidence >= g.Config.Suggestions.ConfidenceFloor {
			expected = in.Pattern.PreferredTimeBlock
			confidence = in.Confidence
			source = domain.SourcePattern
			reason = fmt.Sprintf("Your %s-energy work gets done in the %s.", t.EnergyLevel, expected)
		}
		if expected == "" || t.TimeBlock == expected {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestEnergyMatch,
			TaskID:     &id,
			Title:      fmt.Sprintf("%q fits the %s better", t.Title, expected),
			Reasoning:  reason,
			Action:     domain.MoveTimeBlockAction{TargetTimeBlock: expected},
			Confidence: confidence,
			Source:     source,
		})
	}
	return out, nil
}

// priorityEscalations proposes bumping high-priority tasks to urgent when the
// user's urgent work completes materially faster than their average.
func (g Generator) priorityEscalations(ctx context.Context, env genEnv) ([]draft, error) {
	pb, ok := env.insights.unscoped[domain.InsightPriorityBehavior]
	if !ok || pb.Confidence < g.Config.Suggestions.ConfidenceFloor {
		return nil, nil
	}
	velocity, ok := env.insights.unscoped[domain.InsightCompletionVelocity]
	if !ok || velocity.Pattern.AvgCompletionTimeMinutes <= 0 {
		return nil, nil
	}
	urgentMean := pb.Pattern.AvgCompletionTimeMinutes
	if urgentMean <= 0 || urgentMean >= g.Config.Suggestions.PrioritySpeedup*velocity.Pattern.AvgCompletionTimeMinutes {
		return nil, nil
	}
	var out []draft
	for _, t := range env.pending() {
		if t.Priority != domain.PriorityHigh || t.EnergyLevel != domain.EnergyHigh {
			continue
		}
		id := t.ID
		out = append(out, draft{
			Type:       domain.SuggestPriority,
			TaskID:     &id,
			Title:      fmt.Sprintf("Mark %q as urgent", t.Title),
			Reasoning:  "Urgent tasks get finished noticeably faster for you; this one fits that profile.",
			Action:     domain.ChangePriorityAction{TargetPriority: domain.PriorityUrgent},
			Confidence: pb.Confidence,
			Source:     domain.SourcePattern,
		})
	}
	return out, nil
}

// focusRecommendations pairs the productivity window with today's most
// important open task.
func (g Generator) focusRecommendations(ctx context.Context, env genEnv) ([]draft, error) {
	pw, ok := env.insights.unscoped[domain.InsightProductivityWindow]
	if !ok || pw.Confidence < g.Config.Suggestions.ConfidenceFloor || len(pw.Pattern.PreferredHours) == 0 {
		return nil, nil
	}
	var best *domain.Task
	for _, t := range env.pending() {
		if t.Date == nil || *t.Date != env.today {
			continue
		}
		if priorityRank[t.Priority] < priorityRank[domain.PriorityHigh] {
			continue
		}
		if best == nil || priorityRank[t.Priority] > priorityRank[best.Priority] {
			tt := t
			best = &tt
		}
	}
	if best == nil {
		return nil, nil
	}
	id := best.ID
	return []draft{{
		Type:       domain.SuggestFocus,
		TaskID:     &id,
		Title:      fmt.Sprintf("Tackle %q around %02d:00", best.Title, pw.Pattern.PreferredHours[0]),
		Reasoning:  "That is when your completions peak.",
		Action:     domain.FocusAction{TaskIDs: []string{best.ID}},
		Confidence: pw.Confidence,
		Source:     domain.SourcePattern,
	}}, nil
}
