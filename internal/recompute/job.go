// Package recompute parses show-summary recomputation jobs and coordinates
// their phases: dailies, aggregates, and the audience roll-up.
package recompute

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onnwee/podrollup/internal/audience"
	"github.com/onnwee/podrollup/internal/validate"
)

// The job request surface accepted by the worker.
const (
	OperationKindUpdate = "update"
	TargetPath          = "/work/recompute-show-summaries"
)

// Phase tokens.
const (
	PhaseDailies    = "dailies"
	PhaseAggregates = "aggregates"
	PhaseAudience   = "audience"
)

// ErrInvalidInput is returned for a malformed job request. Validation runs
// before any storage I/O.
var ErrInvalidInput = errors.New("invalid input")

// audiencePartPattern matches the sharded audience phase form, e.g.
// "audience-2of4".
var audiencePartPattern = regexp.MustCompile(`^audience-(\d+)of(\d+)$`)

// Job is a validated recomputation request for one (show, month).
type Job struct {
	ShowUUID string
	Month    string
	Phases   []string

	// StartDay and MaxDays bound the dailies phase. Zero values mean
	// unset; MaxDaysSet distinguishes an explicit maxDays=0 (process
	// nothing) from absent.
	StartDay   int
	MaxDays    int
	MaxDaysSet bool

	Sequential bool
	Log        bool

	// AudiencePart is non-nil when an audience-NofM phase was requested.
	AudiencePart *audience.Part
}

// ParseJob validates the raw job request surface. Any unrecognized
// operation, path, flag, phase token, or malformed parameter fails with
// ErrInvalidInput.
func ParseJob(operationKind, targetPath string, params map[string]string) (*Job, error) {
	if operationKind != OperationKindUpdate {
		return nil, fmt.Errorf("%w: unsupported operationKind %q", ErrInvalidInput, operationKind)
	}
	if targetPath != TargetPath {
		return nil, fmt.Errorf("%w: unsupported targetPath %q", ErrInvalidInput, targetPath)
	}

	show, err := validate.ShowUUID(params["show"])
	if err != nil {
		return nil, fmt.Errorf("%w: show must be a UUID", ErrInvalidInput)
	}

	month := params["month"]
	if err := validate.Month(month); err != nil {
		return nil, fmt.Errorf("%w: month must be YYYY-MM, got %q", ErrInvalidInput, month)
	}

	job := &Job{
		ShowUUID: show,
		Month:    month,
	}

	if flags := params["flags"]; flags != "" {
		for _, flag := range strings.Split(flags, ",") {
			switch flag {
			case "log":
				job.Log = true
			case "sequential":
				job.Sequential = true
			default:
				return nil, fmt.Errorf("%w: unrecognized flag %q", ErrInvalidInput, flag)
			}
		}
	}

	phases := []string{PhaseDailies, PhaseAggregates, PhaseAudience}
	if raw := params["phases"]; raw != "" {
		phases = strings.Split(raw, ",")
	}
	for _, phase := range phases {
		switch {
		case phase == PhaseDailies || phase == PhaseAggregates || phase == PhaseAudience:
		case strings.HasPrefix(phase, "audience-"):
			part, err := parseAudiencePart(phase)
			if err != nil {
				return nil, err
			}
			job.AudiencePart = part
		default:
			return nil, fmt.Errorf("%w: unrecognized phase %q", ErrInvalidInput, phase)
		}
	}
	job.Phases = phases

	if raw, ok := params["startDay"]; ok && raw != "" {
		day, err := validate.DayOfMonth(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: startDay must be 1..31, got %q", ErrInvalidInput, raw)
		}
		job.StartDay = day
	}
	if raw, ok := params["maxDays"]; ok && raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil || days < 0 {
			return nil, fmt.Errorf("%w: maxDays must be a non-negative integer, got %q", ErrInvalidInput, raw)
		}
		job.MaxDays = days
		job.MaxDaysSet = true
	}

	return job, nil
}

func parseAudiencePart(phase string) (*audience.Part, error) {
	m := audiencePartPattern.FindStringSubmatch(phase)
	if m == nil {
		return nil, fmt.Errorf("%w: unrecognized phase %q", ErrInvalidInput, phase)
	}
	num, _ := strconv.Atoi(m[1])
	of, _ := strconv.Atoi(m[2])
	if of != 4 && of != 8 {
		return nil, fmt.Errorf("%w: audience parts must split 4 or 8 ways, got %q", ErrInvalidInput, phase)
	}
	if num < 1 || num > of {
		return nil, fmt.Errorf("%w: audience part number out of range in %q", ErrInvalidInput, phase)
	}
	return &audience.Part{Num: num, Of: of}, nil
}

// wantsPhase reports whether any requested token selects the given phase;
// audience-NofM tokens select the audience phase.
func (j *Job) wantsPhase(name string) bool {
	for _, phase := range j.Phases {
		if phase == name {
			return true
		}
		if name == PhaseAudience && strings.HasPrefix(phase, "audience") {
			return true
		}
	}
	return false
}
