// Package classify partitions issues by tag and projects the counts into the
// shape the summary chart consumes.
//
// Classification has multiset semantics: an issue with N tags is counted in
// N buckets. Issues without tags go to the synthetic Unassigned bucket.
// Every known tag starts at zero so the chart shows empty bars too.
package classify

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/snowcrash/internal/model"
)

const (
	// UnassignedKey is the bucket for issues with no tags.
	UnassignedKey = model.UnassignedTagName

	// UnassignedLabel and UnassignedColor render the trailing bar.
	UnassignedLabel = "N/A"
	UnassignedColor = "#ccc"
)

// Result holds the per-key counts and issue lists of one classification.
type Result struct {
	// CountByKey maps every known tag name, UnassignedKey, and any tag seen
	// on an issue to the number of issues carrying it.
	CountByKey map[string]int

	// IssuesByKey maps the same keys to the issues carrying them, in input
	// order.
	IssuesByKey map[string][]model.Issue

	tags []model.Tag
}

// Classify buckets issues by tag name. tags is the full set of known tags in
// definition order; it fixes the order of Bars and ChartData.
//
// A tag name listed twice in tags is projected once, at its first position.
// Tags found on issues but missing from tags are counted and bucketed, but
// have no bar since there is no display name or color for them.
//
// A tag named UnassignedKey cannot be told apart from the unassigned bucket.
// The store refuses that name; a tag carrying it anyway is ignored, both as a
// known tag and on issues, so the unassigned bar only ever counts issues
// without other tags.
func Classify(issues []model.Issue, tags []model.Tag) *Result {
	r := &Result{
		CountByKey:  map[string]int{UnassignedKey: 0},
		IssuesByKey: map[string][]model.Issue{UnassignedKey: {}},
		tags:        make([]model.Tag, 0, len(tags)),
	}

	for _, t := range tags {
		if _, seen := r.CountByKey[t.Name]; seen {
			continue
		}
		r.CountByKey[t.Name] = 0
		r.IssuesByKey[t.Name] = []model.Issue{}
		r.tags = append(r.tags, t)
	}

	for _, issue := range issues {
		tagged := false
		for _, t := range issue.Tags {
			if t.Name == UnassignedKey {
				continue
			}
			r.add(t.Name, issue)
			tagged = true
		}
		if !tagged {
			r.add(UnassignedKey, issue)
		}
	}
	return r
}

func (r *Result) add(key string, issue model.Issue) {
	r.CountByKey[key]++
	r.IssuesByKey[key] = append(r.IssuesByKey[key], issue)
}

// Unassigned returns the number of issues without tags.
func (r *Result) Unassigned() int {
	return r.CountByKey[UnassignedKey]
}

// Total returns the number of bucket memberships: tag associations on
// tagged issues plus untagged issues.
func (r *Result) Total() int {
	total := 0
	for _, n := range r.CountByKey {
		total += n
	}
	return total
}

// Bar is one column of the summary chart.
type Bar struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// Bars returns one bar per known tag in definition order, followed by the
// unassigned bar. Chart renderers assign positions by index, so this order
// is part of the contract.
func (r *Result) Bars() []Bar {
	bars := make([]Bar, 0, len(r.tags)+1)
	for _, t := range r.tags {
		bars = append(bars, Bar{
			Key:   t.Name,
			Label: FirstLetter(t),
			Color: t.Color,
			Count: r.CountByKey[t.Name],
		})
	}
	return append(bars, Bar{
		Key:   UnassignedKey,
		Label: UnassignedLabel,
		Color: UnassignedColor,
		Count: r.Unassigned(),
	})
}

// FirstLetter returns the uppercased first character of the tag's display
// name, falling back to its name. Labels are NFC-normalized first so a
// decomposed accent stays attached to its letter. A Caser is stateful, so
// each call builds its own.
func FirstLetter(t model.Tag) string {
	for _, s := range []string{t.DisplayName, t.Name} {
		s = norm.NFC.String(s)
		if s == "" {
			continue
		}
		_, size := utf8.DecodeRuneInString(s)
		return cases.Upper(language.Und).String(s[:size])
	}
	return ""
}
