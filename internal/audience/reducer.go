// Package audience recomputes the month-scoped distinct-audience roll-up
// from the per-day audience files, with optional hex-prefix sharding.
package audience

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/podrollup/internal/blob"
	"github.com/onnwee/podrollup/internal/summary"
)

// Audience line geometry: 64 hex id, tab, 15-digit compact timestamp,
// newline.
const (
	idLen        = 64
	timestampLen = 15
	lineLen      = idLen + 1 + timestampLen + 1
)

// maxPutRetries bounds the retries of the monthly blob write.
const maxPutRetries = 2

// ErrUnsupportedConfig is returned for a part count other than 4 or 8.
var ErrUnsupportedConfig = errors.New("unsupported part configuration")

// ErrTransientStorage is returned when the monthly blob write keeps failing
// with retryable faults after the retry budget is spent.
var ErrTransientStorage = errors.New("transient storage failure")

// Part selects one shard of the audience-id hex-prefix space.
type Part struct {
	Num int // 1-based shard number
	Of  int // total shards: 4 or 8
}

// Label formats the part the way it appears in blob keys, e.g. "2of4".
func (p Part) Label() string {
	return fmt.Sprintf("%dof%d", p.Num, p.Of)
}

func (p Part) validate() error {
	if p.Of != 4 && p.Of != 8 {
		return fmt.Errorf("%w: numParts must be 4 or 8, got %d", ErrUnsupportedConfig, p.Of)
	}
	if p.Num < 1 || p.Num > p.Of {
		return fmt.Errorf("%w: partNum %d out of range 1..%d", ErrUnsupportedConfig, p.Num, p.Of)
	}
	return nil
}

// contains reports whether an audience id whose first hex digit is c falls
// into this shard. The hex space splits at '4'/'8'/'c' for 4 parts and at
// every second hex digit for 8.
func (p Part) contains(c byte) bool {
	return partForHexDigit(c, p.Of) == p.Num
}

func partForHexDigit(c byte, numParts int) int {
	switch numParts {
	case 4:
		switch {
		case c < '4':
			return 1
		case c < '8':
			return 2
		case c < 'c':
			return 3
		default:
			return 4
		}
	case 8:
		for i, threshold := range []byte{'2', '4', '6', '8', 'a', 'c', 'e'} {
			if c < threshold {
				return i + 1
			}
		}
		return 8
	}
	return 0
}

// Result reports what a month recomputation produced.
type Result struct {
	Audience      int64  `json:"audience"`
	ContentLength int64  `json:"contentLength"`
	Part          string `json:"part,omitempty"`
}

// Reducer recomputes monthly audience roll-ups against one store. OnRetry,
// when set, is called once per retried blob write.
type Reducer struct {
	Store   blob.Store
	Logger  *slog.Logger
	OnRetry func()
}

// RecomputeMonth reduces the month's per-day audience files into the
// monthly blob and its summary. With a non-nil part only ids in that shard
// are kept. The two writes are issued in parallel; the blob write retries
// retryable faults up to maxPutRetries times.
func (r *Reducer) RecomputeMonth(ctx context.Context, showUUID, month string, part *Part) (*Result, error) {
	store := r.Store
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	partLabel := ""
	if part != nil {
		if err := part.validate(); err != nil {
			return nil, err
		}
		partLabel = part.Label()
	}

	keys, err := store.List(ctx, summary.DailyAudiencePrefix(showUUID, month))
	if err != nil {
		return nil, fmt.Errorf("list audiences for %s %s: %w", showUUID, month, err)
	}

	seen := make(map[string]struct{})
	var order []string
	timestamps := make(map[string]string)
	dailyFound := make(map[string]int64)

	for _, key := range keys {
		if err := reduceDailyFile(ctx, store, key, part, seen, &order, timestamps, dailyFound); err != nil {
			return nil, err
		}
	}

	count := int64(len(order))
	contentLength := int64(lineLen) * count

	var body bytes.Buffer
	body.Grow(int(contentLength))
	for _, id := range order {
		body.WriteString(id)
		body.WriteByte('\t')
		body.WriteString(timestamps[id])
		body.WriteByte('\n')
	}

	audienceKey := summary.MonthlyAudienceKey(showUUID, month, partLabel)
	summaryKey := summary.AudienceSummaryKey(showUUID, month, partLabel)
	summaryJSON, err := json.Marshal(&summary.AudienceSummary{
		ShowUUID:           showUUID,
		Period:             month,
		Part:               partLabel,
		DailyFoundAudience: dailyFound,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal audience summary %q: %w", summaryKey, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.putWithRetry(gctx, audienceKey, body.Bytes(), contentLength)
	})
	g.Go(func() error {
		if _, err := store.Put(gctx, summaryKey, summaryJSON); err != nil {
			return fmt.Errorf("save audience summary %q: %w", summaryKey, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{Audience: count, ContentLength: contentLength, Part: partLabel}, nil
}

// reduceDailyFile streams one per-day audience file into the month
// accumulators. dailyFound counts every accepted line (duplicates
// included); the distinct set grows only on first sight of an id.
func reduceDailyFile(ctx context.Context, store blob.Store, key string, part *Part, seen map[string]struct{}, order *[]string, timestamps map[string]string, dailyFound map[string]int64) error {
	body, found, err := store.GetStream(ctx, key)
	if err != nil {
		return fmt.Errorf("read audience %q: %w", key, err)
	}
	if !found {
		return nil
	}
	defer func() { _ = body.Close() }()

	date := summary.DateFromKey(key)
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if len(line) < lineLen-1 {
			return fmt.Errorf("%w: audience line too short in %q", summary.ErrCorruptInput, key)
		}
		if part != nil && !part.contains(line[0]) {
			continue
		}

		summary.Increment(dailyFound, date)

		id := line[:idLen]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		*order = append(*order, id)
		timestamps[id] = line[idLen+1 : idLen+1+timestampLen]
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read audience %q: %w", key, err)
	}
	return nil
}

// putWithRetry writes the fixed-length monthly blob, retrying faults the
// store classifies as transient. Retries exhausted surfaces as
// ErrTransientStorage.
func (r *Reducer) putWithRetry(ctx context.Context, key string, body []byte, contentLength int64) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt <= maxPutRetries; attempt++ {
		_, err := r.Store.PutStream(ctx, key, bytes.NewReader(body), contentLength)
		if err == nil {
			return nil
		}
		if !r.Store.IsRetryable(err) {
			return fmt.Errorf("save audience %q: %w", key, err)
		}
		lastErr = err
		if attempt < maxPutRetries {
			if r.OnRetry != nil {
				r.OnRetry()
			}
			logger.Warn("retrying audience blob write",
				slog.String("key", key),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
		}
	}
	return fmt.Errorf("save audience %q: %w: %v", key, ErrTransientStorage, lastErr)
}
