package summary

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/onnwee/podrollup/internal/blob"
	"github.com/onnwee/podrollup/internal/tsv"
)

// Field defaults applied while accumulating dimensions.
const (
	defaultCountryCode = "XX"
	defaultContinent   = "XX"
	defaultRegionName  = "Unknown"
	defaultAgentType   = "unknown"
	defaultAgentName   = "Unknown"
	defaultDeviceType  = "unknown"
	defaultDeviceName  = "Unknown"
	defaultReferrer    = "Unknown"
)

// hourLen is the length of an hour bucket, the YYYY-MM-DDTHH prefix of an
// ISO-8601 timestamp.
const hourLen = len("2006-01-02T15")

// compactTimestampLen is the digits-only timestamp length (YYYYMMDDhhmmssm).
const compactTimestampLen = 15

// DailyAudience is the distinct audience-id set observed for one
// (show, date), in first-insertion order.
type DailyAudience struct {
	ShowUUID   string
	Period     string
	IDs        []string
	Timestamps map[string]string
}

// add records an audience id with its compact timestamp on first sight.
func (a *DailyAudience) add(id, ts string) {
	if _, seen := a.Timestamps[id]; seen {
		return
	}
	a.Timestamps[id] = ts
	a.IDs = append(a.IDs, id)
}

// ComputeDailyForDate recomputes the summary for one (show, date) from its
// canonical show-daily key. ErrMissingInput when the blob does not exist.
func ComputeDailyForDate(ctx context.Context, store blob.Store, showUUID, date string) (*ShowSummary, *DailyAudience, error) {
	return ComputeDaily(ctx, store, showUUID, ShowDailyKey(showUUID, date), date)
}

// ComputeDaily recomputes the summary for one (show, date) from the given
// show-daily blob key, streaming the file row by row. It returns the
// summary together with the distinct audience observed that day; it does
// not persist either.
func ComputeDaily(ctx context.Context, store blob.Store, showUUID, key, date string) (*ShowSummary, *DailyAudience, error) {
	obj, found, err := store.GetStreamMeta(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("read show-daily %q: %w", key, err)
	}
	if !found {
		return nil, nil, fmt.Errorf("%w: %s", ErrMissingInput, key)
	}
	defer func() { _ = obj.Body.Close() }()

	s := NewShowSummary(showUUID, date)
	s.Sources[key] = obj.ETag
	audience := &DailyAudience{
		ShowUUID:   showUUID,
		Period:     date,
		Timestamps: make(map[string]string),
	}

	r := tsv.NewReader(obj.Body)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read show-daily %q: %w", key, err)
		}
		if _, bot := rec["botType"]; bot {
			continue
		}
		if err := accumulateRow(s, audience, rec); err != nil {
			return nil, nil, fmt.Errorf("show-daily %q: %w", key, err)
		}
	}
	return s, audience, nil
}

// accumulateRow applies one non-bot download row to the summary and the
// day's audience set.
func accumulateRow(s *ShowSummary, audience *DailyAudience, rec tsv.Record) error {
	t, ok := rec["time"]
	if !ok || len(t) < hourLen {
		return fmt.Errorf("%w: row missing time", ErrCorruptInput)
	}
	hour := t[:hourLen]
	Increment(s.HourlyDownloads, hour)

	if id := rec["audienceId"]; id != "" {
		audience.add(id, CompactTimestamp(t))
	}

	if episodeID := rec["episodeId"]; episodeID != "" {
		ep := s.episode(episodeID)
		if ep.FirstHour == "" || hour < ep.FirstHour {
			ep.FirstHour = hour
		}
		Increment(ep.HourlyDownloads, hour)
	}

	accumulateDimensions(s, rec, hour)
	return nil
}

func accumulateDimensions(s *ShowSummary, rec tsv.Record, hour string) {
	country := fieldOr(rec, "countryCode", defaultCountryCode)
	continent := fieldOr(rec, "continentCode", defaultContinent)
	region := fieldOr(rec, "regionName", defaultRegionName)
	agentType := fieldOr(rec, "agentType", defaultAgentType)
	agentName := fieldOr(rec, "agentName", defaultAgentName)

	Increment(s.dimension(DimCountryCode), country)
	if metro, ok := rec["metroCode"]; ok {
		Increment(s.dimension(DimMetroCode), metro)
	}

	regionLabel := region + ", " + country
	switch continent {
	case "EU":
		Increment(s.dimension(DimEURegion), regionLabel)
	case "AS":
		Increment(s.dimension(DimASRegion), regionLabel)
	case "AF":
		Increment(s.dimension(DimAFRegion), regionLabel)
	}
	if country == "AU" || country == "NZ" {
		Increment(s.dimension(DimAURegion), regionLabel)
	}
	if country == "CA" {
		Increment(s.dimension(DimCARegion), region)
	}
	if (continent == "NA" || continent == "SA") && country != "US" && country != "CA" {
		Increment(s.dimension(DimLatamRegion), regionLabel)
	}

	switch agentType {
	case "app":
		Increment(s.dimension(DimAppName), agentName)
	case "browser":
		Increment(s.dimension(DimBrowserName), agentName)
		if refType, ok := rec["referrerType"]; ok {
			refName := fieldOr(rec, "referrerName", defaultReferrer)
			Increment(s.dimension(DimReferrer), refType+"."+refName)
		}
	case "library":
		Increment(s.dimension(DimLibraryName), agentName)
	}

	Increment(s.dimension(DimDeviceType), fieldOr(rec, "deviceType", defaultDeviceType))
	Increment(s.dimension(DimDeviceName), fieldOr(rec, "deviceName", defaultDeviceName))

	if tags, ok := rec["tags"]; ok {
		for _, tag := range strings.Split(tags, ",") {
			if tag != "" {
				Increment(s.dimension(DimTag), tag)
			}
		}
	}
}

func fieldOr(rec tsv.Record, name, def string) string {
	if v, ok := rec[name]; ok {
		return v
	}
	return def
}

// CompactTimestamp reduces an ISO-8601 timestamp to its digits, truncated
// to 15 characters (YYYYMMDDhhmmssm).
func CompactTimestamp(t string) string {
	var b strings.Builder
	b.Grow(compactTimestampLen)
	for i := 0; i < len(t) && b.Len() < compactTimestampLen; i++ {
		if t[i] >= '0' && t[i] <= '9' {
			b.WriteByte(t[i])
		}
	}
	return b.String()
}

// SaveSummary persists a summary at its canonical key and returns the key.
func SaveSummary(ctx context.Context, store blob.Store, s *ShowSummary) (string, error) {
	key := SummaryKey(s.ShowUUID, s.Period)
	data, err := s.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal summary %q: %w", key, err)
	}
	if _, err := store.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("save summary %q: %w", key, err)
	}
	return key, nil
}

// SaveDailyAudience persists a day's audience file: one
// "<audienceId>\t<compactTimestamp>" line per distinct id, in insertion
// order.
func SaveDailyAudience(ctx context.Context, store blob.Store, a *DailyAudience) (string, error) {
	key := DailyAudienceKey(a.ShowUUID, a.Period)
	var buf bytes.Buffer
	for _, id := range a.IDs {
		buf.WriteString(id)
		buf.WriteByte('\t')
		buf.WriteString(a.Timestamps[id])
		buf.WriteByte('\n')
	}
	if _, err := store.Put(ctx, key, buf.Bytes()); err != nil {
		return "", fmt.Errorf("save audience %q: %w", key, err)
	}
	return key, nil
}
