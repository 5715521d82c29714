package aggregation

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/timingheader"
)

// ErrDuplicatedTag is returned when two groups share a tag.
var ErrDuplicatedTag = errors.New("duplicated tag")

// A Group is a named bucket that sums the durations of a set of functions.
// Groups are immutable once created.
type Group struct {
	tag         string
	description string
	targets     []recording.FuncID
	members     map[recording.FuncID]struct{}
}

// NewGroup creates a group. The tag must be a valid Server-Timing metric
// name; NewGroup panics otherwise. Repeated targets are counted once.
func NewGroup(tag string, targets ...recording.FuncID) Group {
	if err := timingheader.ValidateName(tag); err != nil {
		panic(fmt.Sprintf("invalid tag: %v", err))
	}

	g := Group{
		tag:     tag,
		members: make(map[recording.FuncID]struct{}, len(targets)),
	}

	for _, target := range targets {
		if target.IsZero() {
			panic(fmt.Sprintf("group %s has an unresolved target", tag))
		}

		if _, dup := g.members[target]; dup {
			continue
		}

		g.members[target] = struct{}{}
		g.targets = append(g.targets, target)
	}

	return g
}

// NewFuncGroup creates a group from function values. It panics if any of fns
// is not a function.
func NewFuncGroup(tag string, fns ...any) Group {
	targets := make([]recording.FuncID, 0, len(fns))
	for _, fn := range fns {
		targets = append(targets, recording.FuncOf(fn))
	}

	return NewGroup(tag, targets...)
}

// WithDescription returns a copy of the group that reports the description
// along with the duration.
func (g Group) WithDescription(description string) Group {
	g.description = description
	return g
}

// Tag returns the tag of the group.
func (g Group) Tag() string {
	return g.tag
}

// Description returns the description of the group.
func (g Group) Description() string {
	return g.description
}

// Targets returns the functions of the group in declaration order.
func (g Group) Targets() []recording.FuncID {
	targets := make([]recording.FuncID, len(g.targets))
	copy(targets, g.targets)

	return targets
}

// Contains tells if calls to fn count toward the group.
func (g Group) Contains(fn recording.FuncID) bool {
	_, ok := g.members[fn]
	return ok
}

// Groups is an ordered list of groups with unique tags.
type Groups []Group

// NewGroups checks that tags are unique and keeps the given order, which is
// the order metrics are reported in.
func NewGroups(groups ...Group) (Groups, error) {
	seen := make(map[string]struct{}, len(groups))

	for _, g := range groups {
		if _, dup := seen[g.tag]; dup {
			return nil, errors.Wrapf(ErrDuplicatedTag, "tag %q", g.tag)
		}

		seen[g.tag] = struct{}{}
	}

	out := make(Groups, len(groups))
	copy(out, groups)

	return out, nil
}

// MustNewGroups is like NewGroups but panics on error.
func MustNewGroups(groups ...Group) Groups {
	out, err := NewGroups(groups...)
	if err != nil {
		panic(err)
	}

	return out
}
