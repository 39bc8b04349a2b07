package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"etl-narrative-engine/internal/clinical"
	"etl-narrative-engine/internal/models"

	"go.uber.org/zap"
)

// StepsProcessor analyzes step-count batches against the 10,000-step
// guideline: daily totals, goal attainment, streaks and weekday/weekend
// split.
type StepsProcessor struct {
	logger *zap.Logger
	ranges clinical.Range
}

func NewStepsProcessor(logger *zap.Logger) *StepsProcessor {
	return &StepsProcessor{logger: logger}
}

func (p *StepsProcessor) Initialize() error {
	r, ok := clinical.FieldRange(models.RecordTypeStepCount, "count")
	if !ok {
		return fmt.Errorf("missing clinical range table for count")
	}
	p.ranges = r
	return nil
}

func (p *StepsProcessor) Process(ctx context.Context, records []models.RawRecord, msg *models.InboundMessage, validation *models.ValidationResult) (*models.ProcessingResult, error) {
	start := time.Now()

	daily := dailyTotals(records, "count")
	if len(daily.days) == 0 {
		return nil, fmt.Errorf("no step counts in batch of %d records", len(records))
	}

	summary := Describe(daily.totals)
	goalDays, activeDays := 0, 0
	weekdaySum, weekdayCount, weekendSum, weekendCount := 0.0, 0, 0.0, 0
	for i, day := range daily.days {
		total := daily.totals[i]
		if total >= clinical.StepGoalDaily {
			goalDays++
		}
		if total >= clinical.StepActiveDaily {
			activeDays++
		}
		if wd := daily.weekdays[day]; wd == time.Saturday || wd == time.Sunday {
			weekendSum += total
			weekendCount++
		} else {
			weekdaySum += total
			weekdayCount++
		}
	}
	streak := bestStreak(daily.totals, clinical.StepGoalDaily)

	assessment := map[string]string{
		"activity_level": activityTier(summary.Mean),
	}

	stats := map[string]interface{}{
		"summary":             summary.AsMap(),
		"days_observed":       len(daily.days),
		"mean_daily_steps":    round1(summary.Mean),
		"goal_days":           goalDays,
		"active_days":         activeDays,
		"goal_attainment_pct": math.Round(float64(goalDays)/float64(len(daily.days))*1000) / 10,
		"best_goal_streak":    streak,
	}
	if weekdayCount > 0 {
		stats["weekday_mean"] = round1(weekdaySum / float64(weekdayCount))
	}
	if weekendCount > 0 {
		stats["weekend_mean"] = round1(weekendSum / float64(weekendCount))
	}

	insight := &models.ClinicalInsight{
		Domain:           "activity_statistics",
		Statistics:       stats,
		TemporalPatterns: Temporal(records).AsMap(),
		Assessment:       assessment,
		Recommendations:  p.recommendations(assessment, goalDays, len(daily.days)),
	}

	return &models.ProcessingResult{
		Success:          true,
		Narrative:        p.narrative(summary, goalDays, len(daily.days), assessment),
		ProcessingTime:   time.Since(start),
		RecordsProcessed: len(records),
		QualityScore:     validation.QualityScore,
		Insight:          insight,
	}, nil
}

// dailySeries keeps ordered per-day totals so streaks follow the calendar.
type dailySeries struct {
	days     []string
	totals   []float64
	weekdays map[string]time.Weekday
}

func dailyTotals(records []models.RawRecord, field string) dailySeries {
	byDay := map[string]float64{}
	weekdays := map[string]time.Weekday{}
	for i := range records {
		v, ok := records[i].Float(field)
		if !ok || records[i].Timestamp.IsZero() {
			continue
		}
		day := dayKey(records[i].Timestamp)
		byDay[day] += v
		weekdays[day] = records[i].Timestamp.UTC().Weekday()
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	totals := make([]float64, len(days))
	for i, day := range days {
		totals[i] = byDay[day]
	}
	return dailySeries{days: days, totals: totals, weekdays: weekdays}
}

func bestStreak(totals []float64, goal float64) int {
	best, run := 0, 0
	for _, t := range totals {
		if t >= goal {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

func activityTier(meanDaily float64) string {
	switch {
	case meanDaily >= clinical.StepGoalDaily:
		return "excellent"
	case meanDaily >= clinical.StepActiveDaily:
		return "good"
	case meanDaily >= 5000:
		return "fair"
	default:
		return "low"
	}
}

func (p *StepsProcessor) narrative(summary Summary, goalDays, totalDays int, assessment map[string]string) string {
	text := fmt.Sprintf("Analyzed step counts across %d days averaging %.0f steps per day.", totalDays, summary.Mean)
	text += fmt.Sprintf(" The 10,000-step guideline was met on %d of %d days.", goalDays, totalDays)
	text += fmt.Sprintf(" Overall activity level is %s.", assessment["activity_level"])
	return text
}

func (p *StepsProcessor) recommendations(assessment map[string]string, goalDays, totalDays int) []string {
	recs := []string{}
	switch assessment["activity_level"] {
	case "low":
		recs = append(recs, "Daily steps are well below guideline; short walks added through the day can close the gap.")
	case "fair":
		recs = append(recs, "Activity is moderate; aim for 7,500 or more steps on most days.")
	}
	if goalDays == 0 && totalDays >= 3 {
		recs = append(recs, "The 10,000-step goal was not reached on any observed day; consider a gradual weekly target.")
	}
	if len(recs) == 0 {
		recs = append(recs, "Activity level is strong; keep up the daily step habit.")
	}
	return recs
}
