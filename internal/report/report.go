// Package report assembles the project summary: the recent activity, the
// issue library with its tag classification, the methodology notes, and the
// repository tree roots.
package report

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/snowcrash/internal/classify"
	"github.com/roach88/snowcrash/internal/model"
)

// Source is the read side of the store the summary needs.
type Source interface {
	LatestActivities(ctx context.Context, limit int) ([]model.Activity, error)
	IssuesUnder(ctx context.Context, rootID int64) ([]model.Issue, error)
	LibraryIssues(ctx context.Context, rootID int64) ([]model.Issue, error)
	NotesFor(ctx context.Context, nodeID int64) ([]model.Note, error)
	InTree(ctx context.Context) ([]model.Node, error)
	ListTags(ctx context.Context) ([]model.Tag, error)
}

// Containers resolves the library nodes the summary is built around.
type Containers interface {
	IssueLibrary(ctx context.Context) (model.Node, error)
	MethodologyLibrary(ctx context.Context) (model.Node, error)
}

// Options tunes Build.
type Options struct {
	// LatestActivities caps the activity list. 0 means no cap.
	LatestActivities int

	// FiledIssues selects the issues filed in the issue library instead of
	// the issues reached through evidence under it.
	FiledIssues bool
}

// Methodology is a methodology note rendered as a checklist document.
type Methodology struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// Summary is the assembled project dashboard.
type Summary struct {
	IssueLibrary  model.Node         `json:"issue_library"`
	Activities    []model.Activity   `json:"activities"`
	Issues        []model.Issue      `json:"issues"`
	Methodologies []Methodology      `json:"methodologies"`
	Nodes         []model.Node       `json:"nodes"`
	Tags          []model.Tag        `json:"tags"`
	Bars          []classify.Bar     `json:"bars"`
	Chart         classify.ChartData `json:"chart"`

	// Classification keeps the per-tag issue lists for callers that render
	// them; it is not serialized.
	Classification *classify.Result `json:"-"`
}

// Build loads every section of the summary. The two library containers are
// resolved first, since resolving may create them; the independent reads
// then run concurrently and the first failure cancels the rest.
func Build(ctx context.Context, src Source, containers Containers, opts Options) (*Summary, error) {
	library, err := containers.IssueLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("build summary: %w", err)
	}
	methodologies, err := containers.MethodologyLibrary(ctx)
	if err != nil {
		return nil, fmt.Errorf("build summary: %w", err)
	}

	sum := &Summary{IssueLibrary: library}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		activities, err := src.LatestActivities(gctx, opts.LatestActivities)
		if err != nil {
			return fmt.Errorf("activities: %w", err)
		}
		sum.Activities = activities
		return nil
	})

	g.Go(func() error {
		load := src.IssuesUnder
		if opts.FiledIssues {
			load = src.LibraryIssues
		}
		issues, err := load(gctx, library.ID)
		if err != nil {
			return fmt.Errorf("issues: %w", err)
		}
		sortIssues(issues)
		sum.Issues = issues
		return nil
	})

	g.Go(func() error {
		notes, err := src.NotesFor(gctx, methodologies.ID)
		if err != nil {
			return fmt.Errorf("methodologies: %w", err)
		}
		sum.Methodologies = make([]Methodology, len(notes))
		for i, n := range notes {
			sum.Methodologies[i] = Methodology{ID: n.ID, Content: n.Text}
		}
		return nil
	})

	g.Go(func() error {
		nodes, err := src.InTree(gctx)
		if err != nil {
			return fmt.Errorf("nodes: %w", err)
		}
		sum.Nodes = nodes
		return nil
	})

	g.Go(func() error {
		tags, err := src.ListTags(gctx)
		if err != nil {
			return fmt.Errorf("tags: %w", err)
		}
		sum.Tags = tags
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build summary: %w", err)
	}

	sum.Classification = classify.Classify(sum.Issues, sum.Tags)
	sum.Bars = sum.Classification.Bars()
	sum.Chart = sum.Classification.ChartData()
	return sum, nil
}

// sortIssues orders issues by title, case-insensitively, then by id.
func sortIssues(issues []model.Issue) {
	slices.SortStableFunc(issues, func(a, b model.Issue) int {
		if c := strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title)); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
