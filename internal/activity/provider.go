package activity

import (
	"context"
	"strings"
	"time"
)

// Record is one day's training signal as reported by a fitness platform.
type Record struct {
	Date            time.Time
	TrainingDay     bool
	Kind            string
	DurationMinutes int
}

// Provider abstracts a fitness-platform integration. One implementation per
// platform; the curator only ever sees this contract.
type Provider interface {
	Name() string
	FetchActivity(ctx context.Context, date time.Time) (Record, error)
}

// StaticSchedule is the default provider: the user declares training weekdays
// on intake and every matching weekday counts as a training day.
type StaticSchedule struct {
	weekdays map[time.Weekday]bool
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func NewStaticSchedule(trainingDays []string) *StaticSchedule {
	m := make(map[time.Weekday]bool, len(trainingDays))
	for _, name := range trainingDays {
		if wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]; ok {
			m[wd] = true
		}
	}
	return &StaticSchedule{weekdays: m}
}

func (s *StaticSchedule) Name() string { return "static_schedule" }

func (s *StaticSchedule) FetchActivity(_ context.Context, date time.Time) (Record, error) {
	training := s.weekdays[date.Weekday()]
	rec := Record{Date: date, TrainingDay: training}
	if training {
		rec.Kind = "scheduled_training"
	}
	return rec, nil
}
