package transform

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/znsio/pubsub-relay-go/internal/models"
)

// Transform mutates ev in place and reports whether it should be kept.
type Transform interface {
	Apply(ev *models.Event) bool
}

// EndsWith reports whether value ends with suffix.
func EndsWith(value, suffix string, caseSensitive bool) bool {
	if !caseSensitive {
		value = strings.ToLower(value)
		suffix = strings.ToLower(suffix)
	}
	return strings.HasSuffix(value, suffix)
}

// ParseRegexAll returns one map per match of re in value. Named groups are
// keyed by name; with numericGroups every group is also keyed by its index,
// "0" being the whole match.
func ParseRegexAll(value string, re *regexp.Regexp, numericGroups bool) []map[string]string {
	names := re.SubexpNames()
	matches := re.FindAllStringSubmatch(value, -1)
	out := make([]map[string]string, 0, len(matches))
	for _, match := range matches {
		captures := make(map[string]string, len(match))
		for i, group := range match {
			if numericGroups {
				captures[strconv.Itoa(i)] = group
			}
			if i > 0 && names[i] != "" {
				captures[names[i]] = group
			}
		}
		out = append(out, captures)
	}
	return out
}

// Filter keeps events whose Field ends with Suffix. Events without the
// field are dropped.
type Filter struct {
	Field         string
	Suffix        string
	CaseSensitive bool
}

func (f Filter) Apply(ev *models.Event) bool {
	value, ok := ev.GetString(f.Field)
	if !ok {
		return false
	}
	return EndsWith(value, f.Suffix, f.CaseSensitive)
}

// Extract stores every regex match found in Field under Target.
type Extract struct {
	Field         string
	Target        string
	NumericGroups bool

	re *regexp.Regexp
}

func NewExtract(field, pattern, target string, numericGroups bool) (*Extract, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid extract pattern: %w", err)
	}
	if target == "" {
		target = "matches"
	}
	return &Extract{Field: field, Target: target, NumericGroups: numericGroups, re: re}, nil
}

func (x *Extract) Apply(ev *models.Event) bool {
	value, ok := ev.GetString(x.Field)
	if !ok {
		return true
	}
	ev.Set(x.Target, ParseRegexAll(value, x.re, x.NumericGroups))
	return true
}

// Chain applies transforms in order and stops at the first drop.
type Chain []Transform

func (c Chain) Apply(ev *models.Event) bool {
	for _, t := range c {
		if !t.Apply(ev) {
			return false
		}
	}
	return true
}
