package pricing

import (
	"math"
	"sort"
	"strings"

	"etinuxe/internal/apperr"
	"etinuxe/internal/models"
)

type HealthAssessment struct {
	Score   int                 `json:"health_score"`
	Bucket  models.HealthBucket `json:"health_bucket"`
	Summary string              `json:"health_summary"`
	Risks   []string            `json:"health_risks"`
}

// BucketForScore maps a 0-100 health score onto its pricing bucket.
func BucketForScore(score int) models.HealthBucket {
	switch {
	case score < 20:
		return models.BucketExtremelyUnhealthy
	case score < 60:
		return models.BucketUnhealthy
	case score < 80:
		return models.BucketNormal
	default:
		return models.BucketGood
	}
}

func ValidateSurvey(s models.HealthSurvey) error {
	switch {
	case s.SleepHours < 0 || s.SleepHours > 12:
		return apperr.Validation("invalid_survey", "sleep_hours must be within 0-12")
	case s.ExerciseMinutesPerWeek < 0 || s.ExerciseMinutesPerWeek > 840:
		return apperr.Validation("invalid_survey", "exercise_minutes_per_week must be within 0-840")
	case s.DietQuality < 1 || s.DietQuality > 5:
		return apperr.Validation("invalid_survey", "diet_quality must be within 1-5")
	case s.StressLevel < 1 || s.StressLevel > 5:
		return apperr.Validation("invalid_survey", "stress_level must be within 1-5")
	case s.AlcoholUnitsPerWeek < 0 || s.AlcoholUnitsPerWeek > 40:
		return apperr.Validation("invalid_survey", "alcohol_units_per_week must be within 0-40")
	case s.MeditationMinutesPerWeek < 0 || s.MeditationMinutesPerWeek > 840:
		return apperr.Validation("invalid_survey", "meditation_minutes_per_week must be within 0-840")
	case s.HydrationLitersPerDay < 0 || s.HydrationLitersPerDay > 6:
		return apperr.Validation("invalid_survey", "hydration_liters_per_day must be within 0-6")
	}
	return nil
}

// EvaluateSurvey scores a lifestyle survey starting from a baseline of 40.
func EvaluateSurvey(s models.HealthSurvey) HealthAssessment {
	score := 40.0
	var insights []string
	risks := map[string]struct{}{}
	risk := func(name string) { risks[name] = struct{}{} }

	switch sleep := s.SleepHours; {
	case sleep >= 7 && sleep <= 9:
		score += 15
		insights = append(insights, "Sleep duration sits within the optimal 7-9 hour band.")
	case (sleep >= 6 && sleep < 7) || (sleep > 9 && sleep <= 10):
		score += 10
		insights = append(insights, "Sleep pattern is near the optimal range; minor refinements recommended.")
	case (sleep >= 5 && sleep < 6) || (sleep > 10 && sleep <= 11):
		score += 5
		risk("sleep_irregularity")
		insights = append(insights, "Sleep duration drifts from ideal targets; consider structured bedtime routines.")
	default:
		risk("sleep_deficit")
		insights = append(insights, "Significant sleep disruption detected; prioritise restorative rest.")
	}

	activity := math.Min(1, float64(s.ExerciseMinutesPerWeek)/210)
	score += 18 * activity
	if activity < 0.5 {
		risk("low_activity")
		insights = append(insights, "Weekly activity falls below 150 minutes; gradual increases will stabilise metabolism.")
	} else {
		insights = append(insights, "Movement targets align with guidance for metabolic balance.")
	}

	score += float64(s.DietQuality-1) / 4 * 16
	if s.DietQuality <= 2 {
		risk("dietary_risk")
		insights = append(insights, "Diet quality trending low; emphasise whole foods and hydration.")
	} else if s.DietQuality >= 4 {
		insights = append(insights, "Nutrient intake supports cellular resilience.")
	}

	score += 12 * float64(6-s.StressLevel) / 5
	if s.StressLevel >= 4 {
		risk("elevated_stress")
		insights = append(insights, "Heightened stress levels recorded; introduce decompression rituals.")
	} else {
		insights = append(insights, "Stress responses remain within adaptive thresholds.")
	}

	if s.ChronicCondition {
		score -= 10
		risk("chronic_condition")
		insights = append(insights, "Chronic condition disclosed; coordinate with medical oversight for stability.")
	} else {
		score += 2
	}

	switch alcohol := s.AlcoholUnitsPerWeek; {
	case alcohol <= 7:
		score += 4
	case alcohol <= 14:
		score++
		insights = append(insights, "Alcohol use remains moderate; continue monitoring intake.")
	default:
		score -= 6
		risk("alcohol_load")
		insights = append(insights, "Alcohol intake exceeds recommended bounds; taper to protect liver function.")
	}

	if s.Smoker {
		score -= 12
		risk("tobacco_exposure")
		insights = append(insights, "Nicotine exposure detected; cessation strongly advised to support microvascular health.")
	} else {
		score += 3
	}

	mindfulness := math.Min(1, float64(s.MeditationMinutesPerWeek)/180)
	score += 6 * mindfulness
	if mindfulness < 0.25 {
		insights = append(insights, "Mindfulness practice is minimal; short guided sessions can offset stress load.")
	} else {
		insights = append(insights, "Consistent mindfulness supports emotional regulation.")
	}

	switch h := s.HydrationLitersPerDay; {
	case h >= 2.5:
		score += 6
		insights = append(insights, "Hydration levels sustain metabolic clearance.")
	case h >= 1.5:
		score += 3
	default:
		risk("low_hydration")
		insights = append(insights, "Hydration falls below recommended 1.5L; increase fluid intake daily.")
	}

	final := int(math.Round(math.Max(0, math.Min(100, score))))
	riskList := make([]string, 0, len(risks))
	for r := range risks {
		riskList = append(riskList, r)
	}
	sort.Strings(riskList)

	return HealthAssessment{
		Score:   final,
		Bucket:  BucketForScore(final),
		Summary: strings.Join(insights, " "),
		Risks:   riskList,
	}
}
