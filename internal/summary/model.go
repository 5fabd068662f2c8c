// Package summary computes and persists per-show download summaries: daily
// roll-ups from raw show-daily files, monthly aggregates over those dailies,
// and the monotone per-episode "overall" record.
package summary

import (
	"encoding/json"
	"fmt"
)

// Period forms: a date (2024-03-05), a month (2024-03), or PeriodOverall.
const PeriodOverall = "overall"

// Dimension names used in ShowSummary.DimensionDownloads.
const (
	DimCountryCode = "countryCode"
	DimMetroCode   = "metroCode"
	DimEURegion    = "euRegion"
	DimASRegion    = "asRegion"
	DimAURegion    = "auRegion"
	DimCARegion    = "caRegion"
	DimLatamRegion = "latamRegion"
	DimAFRegion    = "afRegion"
	DimAppName     = "appName"
	DimBrowserName = "browserName"
	DimReferrer    = "referrer"
	DimLibraryName = "libraryName"
	DimDeviceType  = "deviceType"
	DimDeviceName  = "deviceName"
	DimTag         = "tag"
)

// EpisodeSummary is the per-episode slice of a ShowSummary. FirstHour is the
// lexicographic minimum hour bucket ever observed for the episode within the
// encompassing period; under the fixed YYYY-MM-DDTHH format lexicographic
// order is chronological order.
type EpisodeSummary struct {
	HourlyDownloads map[string]int64 `json:"hourlyDownloads,omitempty"`
	FirstHour       string           `json:"firstHour,omitempty"`
}

// ShowSummary is the roll-up for one (show, period). Sources records the
// ETag of every input blob read to produce it.
type ShowSummary struct {
	ShowUUID           string                      `json:"showUuid"`
	Period             string                      `json:"period"`
	HourlyDownloads    map[string]int64            `json:"hourlyDownloads"`
	Episodes           map[string]*EpisodeSummary  `json:"episodes"`
	DimensionDownloads map[string]map[string]int64 `json:"dimensionDownloads,omitempty"`
	Sources            map[string]string           `json:"sources"`
}

// NewShowSummary creates an empty summary with all maps initialized, so a
// marshal never emits null where the format requires an object.
func NewShowSummary(showUUID, period string) *ShowSummary {
	return &ShowSummary{
		ShowUUID:        showUUID,
		Period:          period,
		HourlyDownloads: make(map[string]int64),
		Episodes:        make(map[string]*EpisodeSummary),
		Sources:         make(map[string]string),
	}
}

// episode returns the EpisodeSummary for id, creating it on first use.
func (s *ShowSummary) episode(id string) *EpisodeSummary {
	ep, ok := s.Episodes[id]
	if !ok {
		ep = &EpisodeSummary{HourlyDownloads: make(map[string]int64)}
		s.Episodes[id] = ep
	}
	return ep
}

// dimension returns the bucket map for a dimension, creating it on first use.
func (s *ShowSummary) dimension(name string) map[string]int64 {
	if s.DimensionDownloads == nil {
		s.DimensionDownloads = make(map[string]map[string]int64)
	}
	buckets, ok := s.DimensionDownloads[name]
	if !ok {
		buckets = make(map[string]int64)
		s.DimensionDownloads[name] = buckets
	}
	return buckets
}

// Marshal serializes the summary. encoding/json emits map keys in ascending
// order at every level, which is the persisted-sort contract.
func (s *ShowSummary) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalShowSummary decodes a persisted summary and checks its shape.
func UnmarshalShowSummary(data []byte) (*ShowSummary, error) {
	var s ShowSummary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptInput, err)
	}
	if s.ShowUUID == "" || s.Period == "" {
		return nil, fmt.Errorf("%w: summary missing showUuid or period", ErrCorruptInput)
	}
	if s.HourlyDownloads == nil {
		s.HourlyDownloads = make(map[string]int64)
	}
	if s.Episodes == nil {
		s.Episodes = make(map[string]*EpisodeSummary)
	}
	if s.Sources == nil {
		s.Sources = make(map[string]string)
	}
	return &s, nil
}

// AudienceSummary is the monthly distinct-audience roll-up written next to
// the monthly audience blob.
type AudienceSummary struct {
	ShowUUID           string           `json:"showUuid"`
	Period             string           `json:"period"`
	Part               string           `json:"part,omitempty"`
	DailyFoundAudience map[string]int64 `json:"dailyFoundAudience"`
}
