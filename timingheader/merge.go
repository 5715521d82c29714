package timingheader

import (
	"strings"

	"github.com/pkg/errors"
)

// OverwriteBehavior tells how new metrics are combined with a Server-Timing
// header that the handler has already set.
type OverwriteBehavior int

const (
	// OverwriteNone leaves an existing header untouched.
	OverwriteNone OverwriteBehavior = iota

	// OverwriteReplace replaces existing metrics with new ones of the same
	// name. Metrics are replaced as a whole and never merged field by field.
	OverwriteReplace

	// OverwriteRetain keeps existing metrics and only adds new names.
	OverwriteRetain
)

func (b OverwriteBehavior) String() string {
	switch b {
	case OverwriteNone:
		return "none"
	case OverwriteReplace:
		return "replace"
	case OverwriteRetain:
		return "retain"
	default:
		return "unknown"
	}
}

// ParseOverwriteBehavior parses "replace", "retain", or "none". An empty
// string means "none".
func ParseOverwriteBehavior(s string) (OverwriteBehavior, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return OverwriteNone, nil
	case "replace":
		return OverwriteReplace, nil
	case "retain":
		return OverwriteRetain, nil
	default:
		return OverwriteNone, errors.Errorf(
			"overwrite behavior must be one of replace, retain, or none, got %q", s)
	}
}

// Merge combines an existing header value with new metrics.
func Merge(existing string, metrics []Metric, b OverwriteBehavior) string {
	if strings.TrimSpace(existing) == "" {
		return Format(metrics...)
	}

	if len(metrics) == 0 {
		return existing
	}

	switch b {
	case OverwriteReplace:
		f := Parse(existing)
		for _, m := range metrics {
			f.Set(m)
		}

		return f.String()
	case OverwriteRetain:
		f := Parse(existing)
		for _, m := range metrics {
			if _, exists := f.Get(m.Name); !exists {
				f.Set(m)
			}
		}

		return f.String()
	default:
		return existing
	}
}
