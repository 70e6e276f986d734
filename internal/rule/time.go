package rule

import "time"

// activeAt reports whether now lies inside a window generated by this
// calendar item's recurrence.
func (c CalendarItem) activeAt(now time.Time) bool {
	switch c.Repeating.Mode {
	case RepeatingNone:
		anchor := time.Unix(c.DateTime, 0).In(now.Location())
		if anchor.Year() != now.Year() || anchor.YearDay() != now.YearDay() {
			return false
		}
		return withinTimeOfDayWindow(now, c.StartTime, c.Duration)
	case RepeatingHourly:
		return withinHourlyWindow(now, c.StartTime, c.Duration)
	case RepeatingDaily:
		return withinTimeOfDayWindow(now, c.StartTime, c.Duration)
	case RepeatingWeekly:
		if !weekdayMatches(now, c.Repeating.WeekDays) {
			return false
		}
		return withinTimeOfDayWindow(now, c.StartTime, c.Duration)
	case RepeatingMonthly:
		if !monthDayMatches(now, c.Repeating.MonthDays) {
			return false
		}
		return withinTimeOfDayWindow(now, c.StartTime, c.Duration)
	case RepeatingYearly:
		anchor := time.Unix(c.DateTime, 0).In(now.Location())
		if anchor.Month() != now.Month() || anchor.Day() != now.Day() {
			return false
		}
		return withinTimeOfDayWindow(now, c.StartTime, c.Duration)
	}
	return false
}

func withinTimeOfDayWindow(now time.Time, startSec, durationSec int) bool {
	secOfDay := now.Hour()*3600 + now.Minute()*60 + now.Second()
	end := startSec + durationSec
	if end <= 24*60*60 {
		return secOfDay >= startSec && secOfDay < end
	}
	wrappedEnd := end % (24 * 60 * 60)
	return secOfDay >= startSec || secOfDay < wrappedEnd
}

func withinHourlyWindow(now time.Time, startSec, durationSec int) bool {
	offset := startSec % 3600
	secOfHour := now.Minute()*60 + now.Second()
	end := offset + durationSec
	if end <= 3600 {
		return secOfHour >= offset && secOfHour < end
	}
	wrappedEnd := end % 3600
	return secOfHour >= offset || secOfHour < wrappedEnd
}

func isoWeekday(t time.Time) int {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return int(t.Weekday())
}

func weekdayMatches(t time.Time, days []int) bool {
	iso := isoWeekday(t)
	for _, d := range days {
		if d == iso {
			return true
		}
	}
	return false
}

func lastDayOfMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	return firstOfNext.AddDate(0, 0, -1).Day()
}

func monthDayMatches(t time.Time, days []int) bool {
	day := t.Day()
	last := lastDayOfMonth(t)
	for _, d := range days {
		if d == day || (d == -1 && day == last) {
			return true
		}
	}
	return false
}

// evaluateCalendar reports whether now falls inside any of the descriptor's
// calendar windows. An empty item list evaluates true (vacuous membership
// — a rule with no calendar items is not time-gated by calendar windows).
func (td TimeDescriptor) evaluateCalendar(now time.Time) bool {
	if len(td.CalendarItems) == 0 {
		return true
	}
	for _, c := range td.CalendarItems {
		if c.activeAt(now) {
			return true
		}
	}
	return false
}

// maxOccurrenceScan bounds the day/hour/month/year iteration used to find
// an occurrence inside (since, now]; it only matters for pathologically
// large gaps between evaluateTime ticks.
const maxOccurrenceScan = 4000

// fires reports whether this time-event item has an occurrence strictly
// after since and no later than now.
func (te TimeEventItem) fires(since, now time.Time) bool {
	anchor := time.Unix(te.DateTime, 0).In(now.Location())

	switch te.Repeating.Mode {
	case RepeatingNone:
		return anchor.After(since) && !anchor.After(now)

	case RepeatingHourly:
		start := truncateToHour(since)
		for i := 0; i <= maxOccurrenceScan; i++ {
			hourStart := start.Add(time.Duration(i) * time.Hour)
			if hourStart.After(now) {
				break
			}
			occ := time.Date(hourStart.Year(), hourStart.Month(), hourStart.Day(),
				hourStart.Hour(), anchor.Minute(), anchor.Second(), 0, now.Location())
			if occ.After(since) && !occ.After(now) {
				return true
			}
		}
		return false

	case RepeatingDaily:
		return anyDayOccurrence(since, now, anchor, nil)

	case RepeatingWeekly:
		return anyDayOccurrence(since, now, anchor, te.Repeating.WeekDays)

	case RepeatingMonthly:
		return anyMonthOccurrence(since, now, anchor, te.Repeating.MonthDays)

	case RepeatingYearly:
		return anyYearOccurrence(since, now, anchor)
	}
	return false
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func truncateToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func anyDayOccurrence(since, now time.Time, anchor time.Time, weekDays []int) bool {
	day := truncateToDay(since)
	for i := 0; i <= maxOccurrenceScan; i++ {
		if day.After(now) {
			break
		}
		if weekDays != nil && !weekdayMatches(day, weekDays) {
			day = day.AddDate(0, 0, 1)
			continue
		}
		occ := time.Date(day.Year(), day.Month(), day.Day(),
			anchor.Hour(), anchor.Minute(), anchor.Second(), 0, now.Location())
		if occ.After(since) && !occ.After(now) {
			return true
		}
		day = day.AddDate(0, 0, 1)
	}
	return false
}

func anyMonthOccurrence(since, now time.Time, anchor time.Time, monthDays []int) bool {
	month := time.Date(since.Year(), since.Month(), 1, 0, 0, 0, 0, since.Location())
	for i := 0; i <= maxOccurrenceScan; i++ {
		if month.After(now) {
			break
		}
		last := lastDayOfMonth(month)
		for _, d := range monthDays {
			day := d
			if d == -1 {
				day = last
			}
			if day < 1 || day > last {
				continue
			}
			occ := time.Date(month.Year(), month.Month(), day,
				anchor.Hour(), anchor.Minute(), anchor.Second(), 0, now.Location())
			if occ.After(since) && !occ.After(now) {
				return true
			}
		}
		month = month.AddDate(0, 1, 0)
	}
	return false
}

func anyYearOccurrence(since, now time.Time, anchor time.Time) bool {
	year := time.Date(since.Year(), anchor.Month(), anchor.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0, since.Location())
	for i := 0; i <= maxOccurrenceScan; i++ {
		if year.After(now) {
			break
		}
		if year.After(since) {
			return true
		}
		year = year.AddDate(1, 0, 0)
	}
	return false
}

// evaluateTimeEvents reports whether any time-event item fires in the
// half-open window (since, now].
func (td TimeDescriptor) evaluateTimeEvents(since, now time.Time) bool {
	for _, te := range td.TimeEventItems {
		if te.fires(since, now) {
			return true
		}
	}
	return false
}
