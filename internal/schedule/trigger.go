package schedule

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Trigger is the tagged trigger variant of a task. The concrete types are
// *DateTrigger, *IntervalTrigger and *CronTrigger.
type Trigger interface {
	Kind() TriggerKind
	// Params returns exactly the properties that were set.
	Params() map[string]any
	// Location is the zone naive timestamps and cron fields are read in.
	Location() (*time.Location, error)

	set(key string, v any) error
	validate() error
}

// Property lists: the keys a task entry may carry after sched_type.
var (
	DateProps     = []string{"run_date", "timezone"}
	IntervalProps = []string{"weeks", "days", "hours", "minutes", "seconds", "start", "end", "timezone", "jitter"}
	CronProps     = []string{"year", "month", "day", "day_of_week", "hour", "minute", "second", "start", "end", "timezone", "jitter"}
)

// keyAliases maps accepted spellings onto property names.
var keyAliases = map[string]string{
	"start_date": "start",
	"end_date":   "end",
}

// CanonicalKey resolves aliases such as start_date.
func CanonicalKey(key string) string {
	if k, ok := keyAliases[key]; ok {
		return k
	}
	return key
}

// Props returns the property list of kind.
func Props(kind TriggerKind) []string {
	switch kind {
	case KindDate:
		return DateProps
	case KindInterval:
		return IntervalProps
	case KindCron:
		return CronProps
	default:
		return nil
	}
}

// IsProperty reports whether key (after alias resolution) is legal for kind.
func IsProperty(kind TriggerKind, key string) bool {
	key = CanonicalKey(key)
	for _, p := range Props(kind) {
		if p == key {
			return true
		}
	}
	return false
}

func isAnyProperty(key string) bool {
	return IsProperty(KindDate, key) || IsProperty(KindInterval, key) || IsProperty(KindCron, key)
}

func newTrigger(kind TriggerKind) Trigger {
	switch kind {
	case KindDate:
		return &DateTrigger{}
	case KindInterval:
		return &IntervalTrigger{}
	case KindCron:
		return &CronTrigger{}
	default:
		return nil
	}
}

// NewTrigger builds and validates a trigger from a property map, the inverse
// of Trigger.Params.
func NewTrigger(kind TriggerKind, params map[string]any) (Trigger, error) {
	t := newTrigger(kind)
	if t == nil {
		return nil, fmt.Errorf("unknown trigger kind %v", kind)
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !IsProperty(kind, k) {
			return nil, fmt.Errorf("%s is not a property of %s triggers", k, kind)
		}
		if err := t.set(CanonicalKey(k), params[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Timestamp is a configured point in time. Naive timestamps carry only a
// wall clock (stored in UTC) and are pinned to a zone by Resolve.
type Timestamp struct {
	Time  time.Time
	Naive bool
}

func (t Timestamp) Resolve(loc *time.Location) time.Time {
	if !t.Naive {
		return t.Time
	}
	if loc == nil {
		loc = time.Local
	}
	w := t.Time
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), loc)
}

func (t Timestamp) String() string {
	if t.Naive {
		return t.Time.Format("2006-01-02 15:04:05")
	}
	return t.Time.Format(time.RFC3339)
}

func loadLocation(tz *string) (*time.Location, error) {
	if tz == nil || *tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", *tz, err)
	}
	return loc, nil
}

// ---- date ----

// DateTrigger fires once at RunDate.
type DateTrigger struct {
	RunDate  *Timestamp
	Timezone *string
}

func (t *DateTrigger) Kind() TriggerKind { return KindDate }

func (t *DateTrigger) Location() (*time.Location, error) { return loadLocation(t.Timezone) }

func (t *DateTrigger) Params() map[string]any {
	p := map[string]any{}
	if t.RunDate != nil {
		p["run_date"] = *t.RunDate
	}
	if t.Timezone != nil {
		p["timezone"] = *t.Timezone
	}
	return p
}

func (t *DateTrigger) set(key string, v any) error {
	switch key {
	case "run_date":
		ts, err := toTimestamp(v)
		if err != nil {
			return err
		}
		t.RunDate = &ts
	case "timezone":
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Timezone = &s
	default:
		return errUnknownProperty
	}
	return nil
}

func (t *DateTrigger) validate() error {
	if t.RunDate == nil {
		return errors.New("run_date is required")
	}
	_, err := t.Location()
	return err
}

// ---- shared window ----

// MaxPeriod bounds interval periods and jitter so they fit a time.Duration.
const MaxPeriod = 100 * 365 * 24 * time.Hour

// Window holds the optional bounds shared by interval and cron triggers.
type Window struct {
	Start    *Timestamp
	End      *Timestamp
	Timezone *string
	// Jitter is the upper bound, in seconds, of a random delay added to each fire.
	Jitter *uint64
}

func (w *Window) Location() (*time.Location, error) { return loadLocation(w.Timezone) }

// JitterDuration returns the jitter bound, zero when unset.
func (w *Window) JitterDuration() time.Duration {
	if w.Jitter == nil {
		return 0
	}
	return time.Duration(*w.Jitter) * time.Second
}

func (w *Window) params(p map[string]any) {
	if w.Start != nil {
		p["start"] = *w.Start
	}
	if w.End != nil {
		p["end"] = *w.End
	}
	if w.Timezone != nil {
		p["timezone"] = *w.Timezone
	}
	if w.Jitter != nil {
		p["jitter"] = *w.Jitter
	}
}

func (w *Window) set(key string, v any) (bool, error) {
	switch key {
	case "start", "end":
		ts, err := toTimestamp(v)
		if err != nil {
			return true, err
		}
		if key == "start" {
			w.Start = &ts
		} else {
			w.End = &ts
		}
	case "timezone":
		s, err := toString(v)
		if err != nil {
			return true, err
		}
		w.Timezone = &s
	case "jitter":
		n, err := toUint(v)
		if err != nil {
			return true, err
		}
		w.Jitter = &n
	default:
		return false, nil
	}
	return true, nil
}

func (w *Window) validate() error {
	if w.Jitter != nil && *w.Jitter > uint64(MaxPeriod/time.Second) {
		return fmt.Errorf("jitter %ds exceeds %s", *w.Jitter, MaxPeriod)
	}
	loc, err := w.Location()
	if err != nil {
		return err
	}
	if w.Start != nil && w.End != nil && w.End.Resolve(loc).Before(w.Start.Resolve(loc)) {
		return fmt.Errorf("end %s is before start %s", w.End, w.Start)
	}
	return nil
}

// ---- interval ----

// IntervalTrigger fires every Period starting at Start.
type IntervalTrigger struct {
	Weeks   *uint64
	Days    *uint64
	Hours   *uint64
	Minutes *uint64
	Seconds *uint64
	Window
}

func (t *IntervalTrigger) Kind() TriggerKind { return KindInterval }

func (t *IntervalTrigger) fields() []struct {
	key  string
	ptr  **uint64
	unit time.Duration
} {
	return []struct {
		key  string
		ptr  **uint64
		unit time.Duration
	}{
		{"weeks", &t.Weeks, 7 * 24 * time.Hour},
		{"days", &t.Days, 24 * time.Hour},
		{"hours", &t.Hours, time.Hour},
		{"minutes", &t.Minutes, time.Minute},
		{"seconds", &t.Seconds, time.Second},
	}
}

// Period is the sum of the supplied period fields.
func (t *IntervalTrigger) Period() time.Duration {
	var d time.Duration
	for _, f := range t.fields() {
		if *f.ptr != nil {
			d += time.Duration(**f.ptr) * f.unit
		}
	}
	return d
}

func (t *IntervalTrigger) Params() map[string]any {
	p := map[string]any{}
	for _, f := range t.fields() {
		if *f.ptr != nil {
			p[f.key] = **f.ptr
		}
	}
	t.Window.params(p)
	return p
}

func (t *IntervalTrigger) set(key string, v any) error {
	for _, f := range t.fields() {
		if f.key == key {
			n, err := toUint(v)
			if err != nil {
				return err
			}
			*f.ptr = &n
			return nil
		}
	}
	ok, err := t.Window.set(key, v)
	if !ok {
		return errUnknownProperty
	}
	return err
}

func (t *IntervalTrigger) validate() error {
	var total time.Duration
	for _, f := range t.fields() {
		if *f.ptr == nil {
			continue
		}
		if **f.ptr > uint64(MaxPeriod/f.unit) {
			return fmt.Errorf("%s = %d exceeds %s", f.key, **f.ptr, MaxPeriod)
		}
		total += time.Duration(**f.ptr) * f.unit
		if total > MaxPeriod {
			return fmt.Errorf("interval period exceeds %s", MaxPeriod)
		}
	}
	if t.Period() <= 0 {
		return errors.New("interval period must be > 0 (set weeks, days, hours, minutes or seconds)")
	}
	return t.Window.validate()
}

// ---- cron ----

// CronTrigger fires whenever the wall clock matches the supplied fields.
type CronTrigger struct {
	Year      *string
	Month     *string
	Day       *string
	DayOfWeek *string
	Hour      *string
	Minute    *string
	Second    *string
	Window
}

func (t *CronTrigger) Kind() TriggerKind { return KindCron }

// fields lists the cron fields from most to least significant.
func (t *CronTrigger) fields() []struct {
	key string
	ptr **string
} {
	return []struct {
		key string
		ptr **string
	}{
		{"year", &t.Year},
		{"month", &t.Month},
		{"day", &t.Day},
		{"day_of_week", &t.DayOfWeek},
		{"hour", &t.Hour},
		{"minute", &t.Minute},
		{"second", &t.Second},
	}
}

func (t *CronTrigger) Params() map[string]any {
	p := map[string]any{}
	for _, f := range t.fields() {
		if *f.ptr != nil {
			p[f.key] = **f.ptr
		}
	}
	t.Window.params(p)
	return p
}

func (t *CronTrigger) set(key string, v any) error {
	for _, f := range t.fields() {
		if f.key == key {
			s, err := toCronField(v)
			if err != nil {
				return err
			}
			*f.ptr = &s
			return nil
		}
	}
	ok, err := t.Window.set(key, v)
	if !ok {
		return errUnknownProperty
	}
	return err
}

func (t *CronTrigger) validate() error {
	if err := t.Window.validate(); err != nil {
		return err
	}
	_, err := t.Schedule()
	return err
}

var errUnknownProperty = errors.New("unknown property")
