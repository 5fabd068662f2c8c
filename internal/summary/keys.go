package summary

import (
	"fmt"
	"strings"
)

// Blob key builders for the flat namespace shared with upstream ingestion
// and downstream consumers. Shows are identified by UUID; the UUID appears
// both as the folder and in the object name.

// ShowDailyKey is the canonical key of a raw show-daily file for one date.
func ShowDailyKey(showUUID, date string) string {
	return fmt.Sprintf("show-daily/%s/%s-%s.tsv", showUUID, showUUID, date)
}

// ShowDailyPrefix lists the raw daily files of one month.
func ShowDailyPrefix(showUUID, month string) string {
	return fmt.Sprintf("show-daily/%s/%s-%s", showUUID, showUUID, month)
}

// SummaryKey is the key of a persisted ShowSummary for any period form.
func SummaryKey(showUUID, period string) string {
	return fmt.Sprintf("summaries/show/%s/%s-%s.summary.json", showUUID, showUUID, period)
}

// OverallSummaryKey is the key of the monotone per-episode overall record.
func OverallSummaryKey(showUUID string) string {
	return SummaryKey(showUUID, PeriodOverall)
}

// DailyAudienceKey is the key of the per-day audience file a daily
// computation writes.
func DailyAudienceKey(showUUID, date string) string {
	return fmt.Sprintf("audiences/show/%s/%s-%s.all.audience.txt", showUUID, showUUID, date)
}

// DailyAudiencePrefix lists the per-day audience files of one month. The
// trailing dash keeps the month's own roll-up (whose period has no day
// suffix) out of the listing.
func DailyAudiencePrefix(showUUID, month string) string {
	return fmt.Sprintf("audiences/show/%s/%s-%s-", showUUID, showUUID, month)
}

// MonthlyAudienceKey is the key of the monthly audience blob; part is a
// label like "2of4", or empty for the unsharded run.
func MonthlyAudienceKey(showUUID, month, part string) string {
	return fmt.Sprintf("audiences/show/%s/%s-%s.%s.audience.txt", showUUID, showUUID, month, partOrAll(part))
}

// AudienceSummaryKey is the key of the monthly AudienceSummary JSON.
func AudienceSummaryKey(showUUID, month, part string) string {
	return fmt.Sprintf("audience-summaries/show/%s/%s-%s.%s.audience-summary.json", showUUID, showUUID, month, partOrAll(part))
}

func partOrAll(part string) string {
	if part == "" {
		return "all"
	}
	return part
}

// DateFromKey extracts the YYYY-MM-DD period out of a listed blob key whose
// object name has the form <uuid>-<date>…. Returns "" when the key does not
// carry a date.
func DateFromKey(key string) string {
	name := key
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		name = key[i+1:]
	}
	// The object name embeds the 36-character show UUID (which itself
	// contains dashes); the date starts right after "<uuid>-".
	const uuidLen = 36
	const dateLen = len("2006-01-02")
	if len(name) < uuidLen+1+dateLen || name[uuidLen] != '-' {
		return ""
	}
	return name[uuidLen+1 : uuidLen+1+dateLen]
}

// SummaryKeyForDailyKey maps a listed show-daily key to the summary key of
// the same (show, date).
func SummaryKeyForDailyKey(showUUID, dailyKey string) string {
	return SummaryKey(showUUID, DateFromKey(dailyKey))
}
