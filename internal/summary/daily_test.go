package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/onnwee/podrollup/internal/blob"
)

const testShow = "3d0e9f1a-7b2c-4d5e-8f90-1a2b3c4d5e6f"

var dailyColumns = []string{
	"time", "episodeId", "audienceId", "botType",
	"countryCode", "continentCode", "regionName",
	"agentType", "agentName", "deviceType", "deviceName",
	"referrerType", "referrerName", "metroCode", "tags",
}

// row builds one TSV line from a column->value mapping.
func row(fields map[string]string) string {
	vals := make([]string, len(dailyColumns))
	for i, col := range dailyColumns {
		vals[i] = fields[col]
	}
	return strings.Join(vals, "\t")
}

func dailyFile(rows ...map[string]string) []byte {
	lines := []string{strings.Join(dailyColumns, "\t")}
	for _, r := range rows {
		lines = append(lines, row(r))
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

func seedDaily(t *testing.T, store blob.Store, date string, rows ...map[string]string) string {
	t.Helper()
	key := ShowDailyKey(testShow, date)
	if _, err := store.Put(context.Background(), key, dailyFile(rows...)); err != nil {
		t.Fatalf("seed daily: %v", err)
	}
	return key
}

func TestComputeDailySingleDay(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	audienceID := strings.Repeat("a", 63) + "1"

	base := map[string]string{
		"episodeId": "E1", "audienceId": audienceID,
		"agentType": "app", "agentName": "Pocket Casts",
		"countryCode": "US", "continentCode": "NA",
		"deviceType": "mobile", "deviceName": "iPhone",
	}
	first := map[string]string{"time": "2024-03-05T10:01:00.000Z"}
	second := map[string]string{"time": "2024-03-05T10:30:00.000Z"}
	for k, v := range base {
		first[k] = v
		second[k] = v
	}

	seedDaily(t, store, "2024-03-05", first, second)

	s, aud, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
	if err != nil {
		t.Fatalf("ComputeDailyForDate: %v", err)
	}

	if s.Period != "2024-03-05" {
		t.Errorf("period = %q", s.Period)
	}
	if got := s.HourlyDownloads["2024-03-05T10"]; got != 2 {
		t.Errorf("hourly = %d, want 2", got)
	}
	ep := s.Episodes["E1"]
	if ep == nil {
		t.Fatal("episode E1 missing")
	}
	if ep.FirstHour != "2024-03-05T10" || ep.HourlyDownloads["2024-03-05T10"] != 2 {
		t.Errorf("episode = %+v", ep)
	}
	if got := s.DimensionDownloads[DimAppName]["Pocket Casts"]; got != 2 {
		t.Errorf("appName = %d, want 2", got)
	}
	if got := s.DimensionDownloads[DimCountryCode]["US"]; got != 2 {
		t.Errorf("countryCode = %d, want 2", got)
	}

	// Same audience id twice yields one entry with the first timestamp.
	if len(aud.IDs) != 1 || aud.IDs[0] != audienceID {
		t.Fatalf("audience IDs = %v", aud.IDs)
	}
	if got := aud.Timestamps[audienceID]; got != "202403051001000" {
		t.Errorf("timestamp = %q", got)
	}

	if len(s.Sources) != 1 {
		t.Errorf("sources = %v", s.Sources)
	}
}

func TestComputeDailyBotExcluded(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()

	seedDaily(t, store, "2024-03-05",
		map[string]string{"time": "2024-03-05T10:00:00.000Z", "episodeId": "E1", "countryCode": "US"},
		map[string]string{"time": "2024-03-05T11:00:00.000Z", "episodeId": "E1", "countryCode": "US",
			"botType": "bot", "audienceId": strings.Repeat("b", 64)},
	)

	s, aud, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
	if err != nil {
		t.Fatalf("ComputeDailyForDate: %v", err)
	}
	if got := Total(s.HourlyDownloads); got != 1 {
		t.Errorf("total = %d, want 1 (bot row excluded)", got)
	}
	if _, ok := s.HourlyDownloads["2024-03-05T11"]; ok {
		t.Error("bot hour should not appear")
	}
	if got := Total(s.Episodes["E1"].HourlyDownloads); got != 1 {
		t.Errorf("episode total = %d, want 1", got)
	}
	if got := Total(s.DimensionDownloads[DimCountryCode]); got != 1 {
		t.Errorf("country total = %d, want 1", got)
	}
	if len(aud.IDs) != 0 {
		t.Errorf("bot audience recorded: %v", aud.IDs)
	}
}

func TestComputeDailyDimensionRules(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		dimension string
		label     string
	}{
		{
			name:      "country default",
			fields:    map[string]string{},
			dimension: DimCountryCode,
			label:     "XX",
		},
		{
			name:      "metro present",
			fields:    map[string]string{"metroCode": "501"},
			dimension: DimMetroCode,
			label:     "501",
		},
		{
			name:      "eu region",
			fields:    map[string]string{"continentCode": "EU", "regionName": "Bavaria", "countryCode": "DE"},
			dimension: DimEURegion,
			label:     "Bavaria, DE",
		},
		{
			name:      "as region",
			fields:    map[string]string{"continentCode": "AS", "regionName": "Kanto", "countryCode": "JP"},
			dimension: DimASRegion,
			label:     "Kanto, JP",
		},
		{
			name:      "au region by country",
			fields:    map[string]string{"countryCode": "NZ", "regionName": "Auckland"},
			dimension: DimAURegion,
			label:     "Auckland, NZ",
		},
		{
			name:      "ca region drops country",
			fields:    map[string]string{"countryCode": "CA", "regionName": "Ontario"},
			dimension: DimCARegion,
			label:     "Ontario",
		},
		{
			name:      "latam region",
			fields:    map[string]string{"continentCode": "SA", "countryCode": "BR", "regionName": "São Paulo"},
			dimension: DimLatamRegion,
			label:     "São Paulo, BR",
		},
		{
			name:      "us not latam",
			fields:    map[string]string{"continentCode": "NA", "countryCode": "US", "regionName": "Texas"},
			dimension: DimLatamRegion,
			label:     "",
		},
		{
			name:      "af region default region name",
			fields:    map[string]string{"continentCode": "AF", "countryCode": "NG"},
			dimension: DimAFRegion,
			label:     "Unknown, NG",
		},
		{
			name:      "browser referrer",
			fields:    map[string]string{"agentType": "browser", "agentName": "Firefox", "referrerType": "app"},
			dimension: DimReferrer,
			label:     "app.Unknown",
		},
		{
			name:      "library agent",
			fields:    map[string]string{"agentType": "library", "agentName": "AppleCoreMedia"},
			dimension: DimLibraryName,
			label:     "AppleCoreMedia",
		},
		{
			name:      "device type default",
			fields:    map[string]string{},
			dimension: DimDeviceType,
			label:     "unknown",
		},
		{
			name:      "device name default",
			fields:    map[string]string{},
			dimension: DimDeviceName,
			label:     "Unknown",
		},
		{
			name:      "tags split",
			fields:    map[string]string{"tags": "music,comedy"},
			dimension: DimTag,
			label:     "music",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := blob.NewMemStore()
			fields := map[string]string{"time": "2024-03-05T08:00:00.000Z"}
			for k, v := range tt.fields {
				fields[k] = v
			}
			seedDaily(t, store, "2024-03-05", fields)

			s, _, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
			if err != nil {
				t.Fatalf("ComputeDailyForDate: %v", err)
			}
			if tt.label == "" {
				if got := Total(s.DimensionDownloads[tt.dimension]); got != 0 {
					t.Errorf("%s = %v, want empty", tt.dimension, s.DimensionDownloads[tt.dimension])
				}
				return
			}
			if got := s.DimensionDownloads[tt.dimension][tt.label]; got != 1 {
				t.Errorf("%s[%q] = %d, want 1 (buckets: %v)", tt.dimension, tt.label, got, s.DimensionDownloads[tt.dimension])
			}
		})
	}
}

func TestComputeDailyFirstHourMin(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()

	seedDaily(t, store, "2024-03-05",
		map[string]string{"time": "2024-03-05T14:00:00.000Z", "episodeId": "E1"},
		map[string]string{"time": "2024-03-05T06:00:00.000Z", "episodeId": "E1"},
		map[string]string{"time": "2024-03-05T23:00:00.000Z", "episodeId": "E1"},
	)

	s, _, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
	if err != nil {
		t.Fatalf("ComputeDailyForDate: %v", err)
	}
	ep := s.Episodes["E1"]
	if ep.FirstHour != "2024-03-05T06" {
		t.Errorf("firstHour = %q", ep.FirstHour)
	}
	for hour := range ep.HourlyDownloads {
		if hour < ep.FirstHour {
			t.Errorf("hour %q precedes firstHour %q", hour, ep.FirstHour)
		}
	}
}

func TestComputeDailyMissingInput(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()

	_, _, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
	if !errors.Is(err, ErrMissingInput) {
		t.Errorf("err = %v, want ErrMissingInput", err)
	}
}

func TestComputeDailyMissingTime(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	seedDaily(t, store, "2024-03-05", map[string]string{"episodeId": "E1"})

	_, _, err := ComputeDailyForDate(ctx, store, testShow, "2024-03-05")
	if !errors.Is(err, ErrCorruptInput) {
		t.Errorf("err = %v, want ErrCorruptInput", err)
	}
}

func TestCompactTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-05T10:01:00.000Z", "202403051001000"},
		{"2024-12-31T23:59:59.999Z", "202412312359599"},
		{"2024-03-05T10", "2024030510"},
	}
	for _, tt := range tests {
		if got := CompactTimestamp(tt.in); got != tt.want {
			t.Errorf("CompactTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSaveDailyAudienceFormat(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemStore()
	id1 := strings.Repeat("c", 64)
	id2 := strings.Repeat("d", 64)

	aud := &DailyAudience{
		ShowUUID:   testShow,
		Period:     "2024-03-05",
		IDs:        []string{id1, id2},
		Timestamps: map[string]string{id1: "202403051001000", id2: "202403051002000"},
	}
	key, err := SaveDailyAudience(ctx, store, aud)
	if err != nil {
		t.Fatalf("SaveDailyAudience: %v", err)
	}
	if key != DailyAudienceKey(testShow, "2024-03-05") {
		t.Errorf("key = %q", key)
	}

	body, _, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := id1 + "\t202403051001000\n" + id2 + "\t202403051002000\n"
	if string(body) != want {
		t.Errorf("audience file = %q, want %q", body, want)
	}
}
