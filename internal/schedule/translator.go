package schedule

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FallbackExpression is returned for schedules that resolve to neither a
// valid cron expression nor a recognized phrase. It fires once a day at
// midnight so an unparsable schedule still produces a working recurrence.
const FallbackExpression = "0 0 0 * * ?"

var fiveFieldParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Translator normalizes user-supplied schedule descriptors into canonical
// cron expressions. Inputs may be raw cron strings (5 or 6 fields) or
// natural-language phrases such as 每天9点, 每周一8:30 and 每月1号0点.
type Translator struct {
	logger *zap.Logger
}

// NewTranslator creates a new schedule translator
func NewTranslator(logger *zap.Logger) *Translator {
	return &Translator{logger: logger.Named("translator")}
}

// Translate converts a schedule descriptor into a canonical cron expression.
// It never fails: descriptors that cannot be interpreted degrade to
// FallbackExpression.
func (t *Translator) Translate(raw string) string {
	raw = strings.TrimSpace(raw)

	if expr, ok := t.normalizeCron(raw); ok {
		return expr
	}

	lowered := strings.ToLower(raw)
	if expr, ok := parseDaily(lowered); ok {
		return expr
	}
	if expr, ok := parseWeekly(lowered); ok {
		return expr
	}
	if expr, ok := parseMonthly(lowered); ok {
		return expr
	}

	t.logger.Warn("Unrecognized schedule, falling back to daily midnight",
		zap.String("schedule", raw))
	return FallbackExpression
}

// normalizeCron validates raw as a cron expression. A 6-field expression has
// its seconds field dropped. Cron treats 0 as out of range for the
// day-of-month and month fields, so a literal 0 there is repaired to 1
// instead of rejecting the whole expression.
func (t *Translator) normalizeCron(raw string) (string, bool) {
	fields := strings.Fields(raw)
	if len(fields) != 5 && len(fields) != 6 {
		return "", false
	}
	if len(fields) == 6 {
		fields = fields[1:]
	}

	if fields[2] == "0" {
		fields[2] = "1"
	}
	if fields[3] == "0" {
		fields[3] = "1"
	}

	expr := strings.Join(fields, " ")
	if _, err := fiveFieldParser.Parse(expr); err != nil {
		t.logger.Warn("Invalid cron expression",
			zap.String("expression", raw),
			zap.Error(err))
		return "", false
	}
	return expr, true
}

// weekdays maps phrase suffixes to cron day-of-week codes, Sunday = 0.
// Ordered so that the named forms win before the bare digits, and 7 maps to
// Sunday like the source vocabulary allows.
var weekdays = []struct {
	name string
	code string
}{
	{"一", "1"}, {"二", "2"}, {"三", "3"}, {"四", "4"},
	{"五", "5"}, {"六", "6"}, {"日", "0"}, {"天", "0"},
	{"1", "1"}, {"2", "2"}, {"3", "3"}, {"4", "4"},
	{"5", "5"}, {"6", "6"}, {"7", "0"}, {"0", "0"},
}

func parseDaily(s string) (string, bool) {
	_, rest, found := strings.Cut(s, "每天")
	if !found {
		return "", false
	}
	hour, minute, ok := parseClock(rest)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("0 %d %d * * ?", minute, hour), true
}

func parseWeekly(s string) (string, bool) {
	if !strings.Contains(s, "每周") && !strings.Contains(s, "每星期") {
		return "", false
	}
	for _, day := range weekdays {
		for _, prefix := range []string{"每周" + day.name, "每星期" + day.name} {
			idx := strings.Index(s, prefix)
			if idx < 0 {
				continue
			}
			hour, minute, ok := parseClock(s[idx+len(prefix):])
			if !ok {
				continue
			}
			return fmt.Sprintf("0 %d %d ? * %s", minute, hour, day.code), true
		}
	}
	return "", false
}

func parseMonthly(s string) (string, bool) {
	_, rest, found := strings.Cut(s, "每月")
	if !found {
		return "", false
	}
	dayStr, timePart, found := strings.Cut(rest, "号")
	if !found {
		return "", false
	}
	day, err := strconv.Atoi(strings.TrimSpace(dayStr))
	if err != nil || day < 1 || day > 31 {
		return "", false
	}

	hour, minute := 0, 0
	if strings.TrimSpace(timePart) != "" {
		var ok bool
		hour, minute, ok = parseClock(timePart)
		if !ok {
			return "", false
		}
	}
	return fmt.Sprintf("0 %d %d %d * ?", minute, hour, day), true
}

// parseClock extracts the hour and minute preceding a 点 marker, or from a
// bare H[:M] remainder when the marker is absent. The minute defaults to 0
// when only an hour is given; both halfwidth and fullwidth colons separate
// hour from minute.
func parseClock(s string) (int, int, bool) {
	head, _, found := strings.Cut(s, "点")
	if !found {
		head = s
	}
	return parseHourMinute(strings.TrimSpace(head))
}

func parseHourMinute(s string) (int, int, bool) {
	hourStr, minuteStr := s, ""
	if h, m, found := strings.Cut(s, ":"); found {
		hourStr, minuteStr = h, m
	} else if h, m, found := strings.Cut(s, "："); found {
		hourStr, minuteStr = h, m
	}

	hour, err := strconv.Atoi(strings.TrimSpace(hourStr))
	if err != nil {
		return 0, 0, false
	}
	minute := 0
	if minuteStr != "" {
		minute, err = strconv.Atoi(strings.TrimSpace(minuteStr))
		if err != nil {
			return 0, 0, false
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
