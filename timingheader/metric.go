// Package timingheader models the Server-Timing response header.
//
// See https://w3c.github.io/server-timing/#the-server-timing-header-field.
package timingheader

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HeaderName is the name of the response header.
const HeaderName = "Server-Timing"

// ErrInvalidName is returned for metric names that are not RFC 7230 tokens.
var ErrInvalidName = errors.New("invalid metric name")

const separators = ` "(),/:;<=>?@[\]{}`

// ValidateName checks that name is a non-empty RFC 7230 token: visible
// US-ASCII characters, with no delimiters.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidName, "empty name")
	}

	for i := 0; i < len(name); i++ {
		c := name[i]

		if c < 0x21 || c > 0x7e {
			return errors.Wrapf(ErrInvalidName,
				"%q must be printable US-ASCII", name)
		}

		if strings.IndexByte(separators, c) >= 0 {
			return errors.Wrapf(ErrInvalidName,
				"%q cannot contain %q", name, c)
		}
	}

	return nil
}

// A Metric is one entry of the header.
type Metric struct {
	Name        string
	Description string
	Duration    time.Duration
	HasDuration bool
}

// NewMetric creates a Metric without a duration.
func NewMetric(name, description string) (Metric, error) {
	if err := ValidateName(name); err != nil {
		return Metric{}, err
	}

	return Metric{Name: name, Description: description}, nil
}

// WithDuration returns a copy of the metric with the duration set.
func (m Metric) WithDuration(d time.Duration) Metric {
	m.Duration = d
	m.HasDuration = true

	return m
}

// Params returns the metric parameters as they appear in the header.
func (m Metric) Params() []Param {
	var params []Param

	if m.HasDuration {
		params = append(params, Param{Key: "dur", Value: FormatDuration(m.Duration)})
	}

	if m.Description != "" {
		params = append(params, Param{Key: "desc", Value: quote(m.Description)})
	}

	return params
}

// String formats the metric as `name;dur=D;desc="description"`.
func (m Metric) String() string {
	return Entry{Name: m.Name, Params: m.Params()}.String()
}

// FormatDuration formats d in milliseconds, with as many digits as needed.
func FormatDuration(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', -1, 64)
}

// ParseDuration parses a millisecond value as written by FormatDuration.
func ParseDuration(ms string) (time.Duration, error) {
	v, err := strconv.ParseFloat(ms, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse duration %q", ms)
	}

	return time.Duration(math.Round(v * float64(time.Millisecond))), nil
}

// Format joins metrics into a header value.
func Format(metrics ...Metric) string {
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		parts = append(parts, m.String())
	}

	return strings.Join(parts, ", ")
}

func quote(s string) string {
	var b strings.Builder

	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')

	return b.String()
}
