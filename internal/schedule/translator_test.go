package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTranslateCronExpressions(t *testing.T) {
	translator := NewTranslator(zap.NewNop())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"five fields pass through", "30 8 * * 1", "30 8 * * 1"},
		{"six fields drop seconds", "0 30 8 * * 1", "30 8 * * 1"},
		{"question mark accepted", "0 0 ? * 1", "0 0 ? * 1"},
		{"zero day of month coerced", "0 0 0 * *", "0 0 1 * *"},
		{"zero month coerced", "0 0 1 0 *", "0 0 1 1 *"},
		{"zero day and month coerced", "15 6 0 0 *", "15 6 1 1 *"},
		{"six fields with zero day", "0 0 0 0 * *", "0 0 1 * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, translator.Translate(tt.input))
		})
	}
}

func TestTranslateNaturalLanguage(t *testing.T) {
	translator := NewTranslator(zap.NewNop())

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"daily on the hour", "每天9点", "0 0 9 * * ?"},
		{"daily midnight", "每天0点", "0 0 0 * * ?"},
		{"daily with minute", "每天8:30点", "0 30 8 * * ?"},
		{"daily fullwidth colon", "每天8：30点", "0 30 8 * * ?"},
		{"weekly monday", "每周一8:30", "0 30 8 ? * 1"},
		{"weekly with marker", "每周五18点", "0 0 18 ? * 5"},
		{"weekly sunday named", "每周日20点", "0 0 20 ? * 0"},
		{"weekly sunday alias", "每周天20点", "0 0 20 ? * 0"},
		{"weekly digit seven is sunday", "每周7 6点", "0 0 6 ? * 0"},
		{"alternate week word", "每星期三12点", "0 0 12 ? * 3"},
		{"monthly with time", "每月1号0点", "0 0 0 1 * ?"},
		{"monthly midday", "每月15号12:45点", "0 45 12 15 * ?"},
		{"monthly day only", "每月5号", "0 0 0 5 * ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, translator.Translate(tt.input))
		})
	}
}

func TestTranslateFallback(t *testing.T) {
	translator := NewTranslator(zap.NewNop())

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"nonsense", "whenever you like"},
		{"invalid cron fields", "99 99 * * *"},
		{"out of range hour", "每天25点"},
		{"invalid monthly day", "每月99号"},
		{"weekday without time", "每周一"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, FallbackExpression, translator.Translate(tt.input))
		})
	}
}
