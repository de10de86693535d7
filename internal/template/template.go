// Package template seeds a project from a CUE template: tags, a starting
// node tree with notes, methodology checklists, and library issues.
//
// Templates are checked against the embedded #Template schema before
// anything is written, so a malformed file never produces a half-seeded
// project. Apply itself is not transactional: a store failure part way
// through leaves the records created so far.
package template

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/snowcrash/internal/model"
)

//go:embed schema.cue
var schemaSource string

// Tag is a tag definition. DisplayName defaults to Name when omitted.
type Tag struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color"`
}

// Node is a node with its notes and nested children.
type Node struct {
	Label    string   `json:"label"`
	Type     string   `json:"type"`
	Position int      `json:"position"`
	Notes    []string `json:"notes"`
	Children []Node   `json:"children"`
}

// Issue is a library issue tagged by tag name.
type Issue struct {
	Title string   `json:"title"`
	Text  string   `json:"text"`
	Tags  []string `json:"tags"`
}

// Template is a decoded, schema-checked project template.
type Template struct {
	Tags          []Tag    `json:"tags"`
	Nodes         []Node   `json:"nodes"`
	Methodologies []string `json:"methodologies"`
	Issues        []Issue  `json:"issues"`
}

// Error is a template load failure, positioned in the template file when
// CUE reports a position.
type Error struct {
	Path    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Load reads and validates the template at path.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	return Parse(path, data)
}

// Parse validates template source. filename is only used in positions.
func Parse(filename string, data []byte) (*Template, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile template schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Template"))

	file := ctx.CompileBytes(data, cue.Filename(filename))
	if err := file.Err(); err != nil {
		return nil, formatCUEError(filename, err)
	}

	v := def.Unify(file)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(filename, err)
	}

	var tpl Template
	if err := v.Decode(&tpl); err != nil {
		return nil, formatCUEError(filename, err)
	}
	return &tpl, nil
}

// formatCUEError keeps the first CUE error and its first position.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Path: path, Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Path: path, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

// Target is the store surface Apply writes through.
type Target interface {
	EnsureTag(ctx context.Context, tag model.Tag) (model.Tag, error)
	GetTagByName(ctx context.Context, name string) (model.Tag, error)
	CreateNode(ctx context.Context, in model.NewNode) (model.Node, error)
	CreateNote(ctx context.Context, nodeID int64, text string) (model.Note, error)
	CreateIssue(ctx context.Context, nodeID int64, title, text string) (model.Issue, error)
	TagIssue(ctx context.Context, issueID, tagID int64) error
	RecordActivity(ctx context.Context, a model.Activity) (model.Activity, error)
}

// Libraries resolves the containers methodologies and issues are filed in.
type Libraries interface {
	IssueLibrary(ctx context.Context) (model.Node, error)
	MethodologyLibrary(ctx context.Context) (model.Node, error)
}

// Result counts what Apply created. Tags counts tags ensured, whether or
// not they already existed.
type Result struct {
	Tags   int `json:"tags"`
	Nodes  int `json:"nodes"`
	Notes  int `json:"notes"`
	Issues int `json:"issues"`
}

// Applier writes templates into a project.
type Applier struct {
	Target    Target
	Libraries Libraries
	Logger    *slog.Logger

	// Actor is recorded on every activity Apply emits.
	Actor string
}

// Apply creates the template's records. Tags are ensured by name, so applying
// the same template twice does not duplicate them; nodes, notes and issues
// are created every time.
func (a *Applier) Apply(ctx context.Context, tpl *Template) (Result, error) {
	var res Result
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tagIDs := make(map[string]int64, len(tpl.Tags))
	for _, t := range tpl.Tags {
		tag, err := a.Target.EnsureTag(ctx, model.Tag{Name: t.Name, DisplayName: t.DisplayName, Color: t.Color})
		if err != nil {
			return res, fmt.Errorf("apply template: %w", err)
		}
		tagIDs[t.Name] = tag.ID
		res.Tags++
	}

	for _, n := range tpl.Nodes {
		if err := a.createNode(ctx, n, nil, &res); err != nil {
			return res, fmt.Errorf("apply template: %w", err)
		}
	}

	if len(tpl.Methodologies) > 0 {
		lib, err := a.Libraries.MethodologyLibrary(ctx)
		if err != nil {
			return res, fmt.Errorf("apply template: %w", err)
		}
		for _, text := range tpl.Methodologies {
			if err := a.createNote(ctx, lib.ID, text, &res); err != nil {
				return res, fmt.Errorf("apply template: %w", err)
			}
		}
	}

	if len(tpl.Issues) > 0 {
		lib, err := a.Libraries.IssueLibrary(ctx)
		if err != nil {
			return res, fmt.Errorf("apply template: %w", err)
		}
		for _, is := range tpl.Issues {
			if err := a.createIssue(ctx, lib.ID, is, tagIDs, &res); err != nil {
				return res, fmt.Errorf("apply template: issue %q: %w", is.Title, err)
			}
		}
	}

	logger.Info("template applied",
		"tags", res.Tags, "nodes", res.Nodes, "notes", res.Notes, "issues", res.Issues)
	return res, nil
}

func (a *Applier) createNode(ctx context.Context, n Node, parentID *int64, res *Result) error {
	typ, err := model.ParseNodeType(n.Type)
	if err != nil {
		return fmt.Errorf("node %q: %w", n.Label, err)
	}
	node, err := a.Target.CreateNode(ctx, model.NewNode{
		Label:    n.Label,
		Type:     typ,
		ParentID: parentID,
		Position: n.Position,
	})
	if err != nil {
		return err
	}
	res.Nodes++
	if err := a.record(ctx, node.Ref()); err != nil {
		return err
	}

	for _, text := range n.Notes {
		if err := a.createNote(ctx, node.ID, text, res); err != nil {
			return err
		}
	}
	for _, child := range n.Children {
		if err := a.createNode(ctx, child, &node.ID, res); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) createNote(ctx context.Context, nodeID int64, text string, res *Result) error {
	note, err := a.Target.CreateNote(ctx, nodeID, text)
	if err != nil {
		return err
	}
	res.Notes++
	return a.record(ctx, note.Ref())
}

func (a *Applier) createIssue(ctx context.Context, libraryID int64, is Issue, tagIDs map[string]int64, res *Result) error {
	ids := make([]int64, 0, len(is.Tags))
	for _, name := range is.Tags {
		id, ok := tagIDs[name]
		if !ok {
			tag, err := a.Target.GetTagByName(ctx, name)
			if err != nil {
				return err
			}
			id = tag.ID
			tagIDs[name] = id
		}
		ids = append(ids, id)
	}

	issue, err := a.Target.CreateIssue(ctx, libraryID, is.Title, is.Text)
	if err != nil {
		return err
	}
	res.Issues++
	for _, id := range ids {
		if err := a.Target.TagIssue(ctx, issue.ID, id); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) record(ctx context.Context, ref model.TrackableRef) error {
	_, err := a.Target.RecordActivity(ctx, model.Activity{Trackable: ref, Action: "create", ActorRef: a.Actor})
	return err
}
