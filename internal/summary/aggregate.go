package summary

import (
	"context"
	"fmt"

	"github.com/onnwee/podrollup/internal/blob"
)

// AggregateSummaries sums a set of persisted summaries into one summary for
// outputPeriod and saves it. Missing input keys are skipped silently: a
// partial month is a valid state. Returns the aggregate.
func AggregateSummaries(ctx context.Context, store blob.Store, showUUID string, inputKeys []string, outputPeriod string) (*ShowSummary, error) {
	agg := NewShowSummary(showUUID, outputPeriod)

	for _, key := range inputKeys {
		obj, found, err := store.GetMeta(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read summary %q: %w", key, err)
		}
		if !found {
			continue
		}
		in, err := UnmarshalShowSummary(obj.Body)
		if err != nil {
			return nil, fmt.Errorf("summary %q: %w", key, err)
		}

		IncrementAll(agg.HourlyDownloads, in.HourlyDownloads)
		for name, buckets := range in.DimensionDownloads {
			IncrementAll(agg.dimension(name), buckets)
		}
		for id, inEp := range in.Episodes {
			ep := agg.episode(id)
			IncrementAll(ep.HourlyDownloads, inEp.HourlyDownloads)
			if inEp.FirstHour != "" && (ep.FirstHour == "" || inEp.FirstHour < ep.FirstHour) {
				ep.FirstHour = inEp.FirstHour
			}
		}
		agg.Sources[key] = obj.ETag
	}

	if _, err := SaveSummary(ctx, store, agg); err != nil {
		return nil, err
	}
	return agg, nil
}

// MergeOverall folds a freshly aggregated summary into the show's overall
// record. The overall carries only per-episode first hours; the merge is
// monotone (lexicographic minimum), so replays and races converge. The
// overall is written only when something actually changed, or when none
// existed yet. Returns whether a write happened.
func MergeOverall(ctx context.Context, store blob.Store, agg *ShowSummary) (bool, error) {
	key := OverallSummaryKey(agg.ShowUUID)
	obj, found, err := store.GetMeta(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read overall %q: %w", key, err)
	}

	var overall *ShowSummary
	if found {
		overall, err = UnmarshalShowSummary(obj.Body)
		if err != nil {
			return false, fmt.Errorf("overall %q: %w", key, err)
		}
	} else {
		overall = NewShowSummary(agg.ShowUUID, PeriodOverall)
	}

	changed := !found
	for id, ep := range agg.Episodes {
		if ep.FirstHour == "" {
			continue
		}
		cur, ok := overall.Episodes[id]
		if !ok {
			overall.Episodes[id] = &EpisodeSummary{FirstHour: ep.FirstHour}
			changed = true
			continue
		}
		if cur.FirstHour == "" || ep.FirstHour < cur.FirstHour {
			cur.FirstHour = ep.FirstHour
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	data, err := overall.Marshal()
	if err != nil {
		return false, fmt.Errorf("marshal overall %q: %w", key, err)
	}
	if _, err := store.Put(ctx, key, data); err != nil {
		return false, fmt.Errorf("save overall %q: %w", key, err)
	}
	return true, nil
}
