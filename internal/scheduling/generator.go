package scheduling

import (
	"fmt"
	"sort"
	"time"
)

// DayRequest is the input of GenerateSlots. Weekly and Exceptions may contain
// rows for other weekdays and dates; only the ones that apply to Date are used.
type DayRequest struct {
	Date               Date
	Weekly             []WeeklyAvailability
	Exceptions         []Exception
	DefaultSlotMinutes int
	Location           *time.Location
}

type window struct {
	start    Clock
	end      Clock
	step     int
	modality Modality
	source   string
}

type clockRange struct {
	start Clock
	end   Clock
}

// GenerateSlots enumerates the candidate slots for a single date.
//
// Windows emit a slot every step minutes from start up to and including end.
// A whole-day block empties the day. Partial blocks drop candidates whose start
// falls in [start, end). Openings add windows of their own. The result is
// sorted by start time and a start time produced by more than one window is
// kept once, with the attributes of the window that produced it first.
func GenerateSlots(req DayRequest) (DayPlan, error) {
	weekday := req.Date.Weekday()
	plan := DayPlan{Date: req.Date, Weekday: weekday}

	var blocks, openings []Exception
	for _, ex := range req.Exceptions {
		if ex.Date != req.Date {
			continue
		}
		switch ex.Kind {
		case ExceptionBlock:
			if ex.WholeDay() {
				return plan, nil
			}
			blocks = append(blocks, ex)
		case ExceptionOpening:
			openings = append(openings, ex)
		}
	}

	var windows []window
	for _, wa := range req.Weekly {
		if !wa.Active || wa.Weekday != weekday {
			continue
		}
		if err := validateWindow(wa.StartTime, wa.EndTime, wa.SlotMinutes); err != nil {
			return DayPlan{}, fmt.Errorf("weekly availability %s: %w", wa.ID, err)
		}
		modality := wa.Modality
		if modality == "" {
			modality = ModalityInPerson
		}
		windows = append(windows, window{
			start:    wa.StartTime,
			end:      wa.EndTime,
			step:     wa.SlotMinutes,
			modality: modality,
			source:   fmt.Sprintf("%s-%s", wa.StartTime, wa.EndTime),
		})
	}
	plan.Warnings = overlapWarnings(windows)

	for _, op := range openings {
		if op.StartTime == nil || op.EndTime == nil {
			return DayPlan{}, &ValidationError{Field: "exception", Reason: fmt.Sprintf("opening %s needs both start and end time", op.ID)}
		}
		step := req.DefaultSlotMinutes
		if op.SlotMinutes != nil && *op.SlotMinutes > 0 {
			step = *op.SlotMinutes
		}
		if err := validateWindow(*op.StartTime, *op.EndTime, step); err != nil {
			return DayPlan{}, fmt.Errorf("opening %s: %w", op.ID, err)
		}
		modality := op.Modality
		if modality == "" {
			modality = ModalityInPerson
		}
		windows = append(windows, window{start: *op.StartTime, end: *op.EndTime, step: step, modality: modality})
	}

	blocked := make([]clockRange, 0, len(blocks))
	for _, b := range blocks {
		if b.StartTime == nil || b.EndTime == nil {
			return DayPlan{}, &ValidationError{Field: "exception", Reason: fmt.Sprintf("block %s has only one of start and end time", b.ID)}
		}
		if *b.StartTime >= *b.EndTime {
			return DayPlan{}, &ValidationError{Field: "exception", Reason: fmt.Sprintf("block %s ends before it starts", b.ID)}
		}
		blocked = append(blocked, clockRange{start: *b.StartTime, end: *b.EndTime})
	}

	seen := make(map[Clock]struct{})
	for _, w := range windows {
		for t := w.start; t <= w.end; t = t.Add(w.step) {
			if _, dup := seen[t]; dup {
				continue
			}
			if isBlocked(t, blocked) {
				continue
			}
			seen[t] = struct{}{}
			plan.Slots = append(plan.Slots, Slot{
				Date:            req.Date,
				Start:           t,
				DurationMinutes: w.step,
				Modality:        w.modality,
				StartsAt:        req.Date.At(t, req.Location).UTC(),
			})
		}
	}

	sort.SliceStable(plan.Slots, func(i, j int) bool {
		return plan.Slots[i].Start < plan.Slots[j].Start
	})

	return plan, nil
}

func validateWindow(start, end Clock, step int) error {
	if !start.Valid() || !end.Valid() {
		return &ValidationError{Field: "time", Reason: "time of day out of range"}
	}
	if end <= start {
		return &ValidationError{Field: "end_time", Reason: fmt.Sprintf("end %s is not after start %s", end, start)}
	}
	if step <= 0 {
		return &ValidationError{Field: "slot_minutes", Reason: "slot duration must be positive"}
	}
	return nil
}

func isBlocked(t Clock, ranges []clockRange) bool {
	for _, r := range ranges {
		if t >= r.start && t < r.end {
			return true
		}
	}
	return false
}

// overlapWarnings flags weekly windows that share time. Overlap is legal; the
// generator merges the windows and the warning is surfaced to whoever
// configured them.
func overlapWarnings(windows []window) []string {
	var warnings []string
	for i := 0; i < len(windows); i++ {
		for j := i + 1; j < len(windows); j++ {
			a, b := windows[i], windows[j]
			if a.start < b.end && b.start < a.end {
				warnings = append(warnings, fmt.Sprintf("availability windows %s and %s overlap", a.source, b.source))
			}
		}
	}
	return warnings
}
