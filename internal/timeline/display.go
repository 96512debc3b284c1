package timeline

import "time"

// Display derives the human-readable fields of a card from its timestamps.
type Display struct {
	Location     *time.Location
	DayStartHour int
}

// NewDisplay returns a Display for the local time zone.
func NewDisplay(dayStartHour int) Display {
	return Display{Location: time.Local, DayStartHour: dayStartHour}
}

func (d Display) loc() *time.Location {
	if d.Location == nil {
		return time.Local
	}
	return d.Location
}

// DayKey returns the YYYY-MM-DD timeline day containing ts. Instants before
// DayStartHour belong to the previous day.
func (d Display) DayKey(ts int64) string {
	t := time.Unix(ts, 0).In(d.loc())
	if t.Hour() < d.DayStartHour {
		t = t.AddDate(0, 0, -1)
	}
	return t.Format("2006-01-02")
}

// DayBounds returns the [start, end) unix range of a day key.
func (d Display) DayBounds(dayKey string) (int64, int64, error) {
	day, err := time.ParseInLocation("2006-01-02", dayKey, d.loc())
	if err != nil {
		return 0, 0, err
	}
	start := day.Add(time.Duration(d.DayStartHour) * time.Hour)
	end := start.AddDate(0, 0, 1)
	return start.Unix(), end.Unix(), nil
}

// Clock formats ts as a 12-hour clock label, e.g. "9:05 AM".
func (d Display) Clock(ts int64) string {
	return time.Unix(ts, 0).In(d.loc()).Format("3:04 PM")
}

// Apply fills the label and day fields of card from its timestamps.
func (d Display) Apply(card *ActivityCard) {
	card.StartLabel = d.Clock(card.StartTs)
	card.EndLabel = d.Clock(card.EndTs)
	card.DayKey = d.DayKey(card.StartTs)
}

// DayKeysBetween lists every day key touched by [from, to).
func (d Display) DayKeysBetween(from, to int64) []string {
	if to <= from {
		return []string{d.DayKey(from)}
	}
	var keys []string
	seen := make(map[string]bool)
	for ts := from; ts < to; ts += 6 * 60 * 60 {
		k := d.DayKey(ts)
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	if k := d.DayKey(to - 1); !seen[k] {
		keys = append(keys, k)
	}
	return keys
}
