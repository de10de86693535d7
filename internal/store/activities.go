package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/queryir"
	"github.com/roach88/snowcrash/internal/querysql"
)

var activityColumns = []string{"id", "trackable_type", "trackable_id", "action", "actor_ref", "occurred_at"}

// RecordActivity appends an entry to the activity log. A zero OccurredAt is
// stamped with the store clock. The trackable is not required to exist:
// entries for destroyed records are still valid history.
func (s *Store) RecordActivity(ctx context.Context, a model.Activity) (model.Activity, error) {
	if !a.Trackable.Kind.Valid() {
		return model.Activity{}, &ValidationError{Field: "trackable_type", Message: "is not a known trackable kind"}
	}
	if a.Action == "" {
		return model.Activity{}, &ValidationError{Field: "action", Message: "can't be blank"}
	}
	if a.OccurredAt.IsZero() {
		a.OccurredAt = s.now()
	}
	a.OccurredAt = a.OccurredAt.UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (trackable_type, trackable_id, action, actor_ref, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`, string(a.Trackable.Kind), a.Trackable.ID, a.Action, a.ActorRef, a.OccurredAt.UnixNano())
	if err != nil {
		return model.Activity{}, fmt.Errorf("record activity %s: %w", a.Trackable, err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return model.Activity{}, fmt.Errorf("record activity %s: last insert id: %w", a.Trackable, err)
	}

	s.logger.Debug("activity recorded", "trackable", a.Trackable.String(), "action", a.Action, "actor", a.ActorRef)
	return a, nil
}

// FeedFor returns the activities on a node, its notes, and its evidence,
// most recent first with ties broken by newest id. A limit of 0 returns
// every entry.
//
// The note and evidence ids are read once per call. When the node owns
// neither, the query filters on the node alone.
func (s *Store) FeedFor(ctx context.Context, nodeID int64, limit int) ([]model.Activity, error) {
	start := time.Now()
	defer func() { feedQueryDuration.Observe(time.Since(start).Seconds()) }()

	if err := requireNode(ctx, s.db, nodeID); err != nil {
		return nil, err
	}

	noteIDs, err := queryIDs(ctx, s.db, `SELECT id FROM notes WHERE node_id = ? ORDER BY id ASC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("feed for node %d: notes: %w", nodeID, err)
	}
	evidenceIDs, err := queryIDs(ctx, s.db, `SELECT id FROM evidence WHERE node_id = ? ORDER BY id ASC`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("feed for node %d: evidence: %w", nodeID, err)
	}

	selects := feedQueries(nodeID, noteIDs, evidenceIDs, limit)
	activities := []model.Activity{}
	for _, sel := range selects {
		part, err := s.selectActivities(ctx, sel)
		if err != nil {
			return nil, fmt.Errorf("feed for node %d: %w", nodeID, err)
		}
		activities = append(activities, part...)
	}
	if len(selects) > 1 {
		slices.SortFunc(activities, newestFirst)
		if limit > 0 && len(activities) > limit {
			activities = activities[:limit]
		}
	}
	return activities, nil
}

// feedQueries returns the selects that make up a feed. Normally that is the
// single feedQuery; when the note and evidence ids are too many to bind in
// one statement, the node and each run of ids get a select of their own,
// each limited separately, and FeedFor merges them.
func feedQueries(nodeID int64, noteIDs, evidenceIDs []int64, limit int) []queryir.Select {
	if len(noteIDs)+len(evidenceIDs) <= maxBoundIDs {
		return []queryir.Select{feedQuery(nodeID, noteIDs, evidenceIDs, limit)}
	}

	selects := []queryir.Select{feedQuery(nodeID, nil, nil, limit)}
	for _, chunk := range idChunks(evidenceIDs) {
		selects = append(selects, feedSelect(trackableBranch(model.TrackableEvidence, chunk), limit))
	}
	for _, chunk := range idChunks(noteIDs) {
		selects = append(selects, feedSelect(trackableBranch(model.TrackableNote, chunk), limit))
	}
	return selects
}

// feedQuery builds the feed select. Empty id sets contribute no branch.
func feedQuery(nodeID int64, noteIDs, evidenceIDs []int64, limit int) queryir.Select {
	return feedSelect(queryir.AnyOf(
		trackableBranch(model.TrackableNode, []int64{nodeID}),
		trackableBranch(model.TrackableEvidence, evidenceIDs),
		trackableBranch(model.TrackableNote, noteIDs),
	), limit)
}

func feedSelect(filter queryir.Predicate, limit int) queryir.Select {
	return queryir.Select{
		From:    "activities",
		Columns: activityColumns,
		Filter:  filter,
		OrderBy: []queryir.Order{queryir.Desc("occurred_at"), queryir.Desc("id")},
		Limit:   limit,
	}
}

// newestFirst orders activities the way the feed's ORDER BY does.
func newestFirst(a, b model.Activity) int {
	if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// trackableBranch matches activities on the given ids of one kind, or
// returns nil when there are none.
func trackableBranch(kind model.TrackableKind, ids []int64) queryir.Predicate {
	switch len(ids) {
	case 0:
		return nil
	case 1:
		return queryir.AllOf(
			queryir.Equals{Field: "trackable_type", Value: string(kind)},
			queryir.Equals{Field: "trackable_id", Value: ids[0]},
		)
	}
	return queryir.AllOf(
		queryir.Equals{Field: "trackable_type", Value: string(kind)},
		queryir.InInt64("trackable_id", ids),
	)
}

// LatestActivities returns the most recent entries across the whole log.
func (s *Store) LatestActivities(ctx context.Context, limit int) ([]model.Activity, error) {
	activities, err := s.selectActivities(ctx, queryir.Select{
		From:    "activities",
		Columns: activityColumns,
		OrderBy: []queryir.Order{queryir.Desc("occurred_at"), queryir.Desc("id")},
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("latest activities: %w", err)
	}
	return activities, nil
}

// ResolveTrackable loads the record an activity points at. Returns a
// *NotFoundError when it has since been destroyed.
func (s *Store) ResolveTrackable(ctx context.Context, ref model.TrackableRef) (model.Trackable, error) {
	var (
		t   model.Trackable
		err error
	)
	switch ref.Kind {
	case model.TrackableNode:
		t, err = s.GetNode(ctx, ref.ID)
	case model.TrackableNote:
		t, err = s.GetNote(ctx, ref.ID)
	case model.TrackableEvidence:
		t, err = s.GetEvidence(ctx, ref.ID)
	default:
		return nil, &ValidationError{Field: "trackable_type", Message: "is not a known trackable kind"}
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) selectActivities(ctx context.Context, sel queryir.Select) ([]model.Activity, error) {
	query, params, err := querysql.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("compile activity query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	activities := []model.Activity{}
	for rows.Next() {
		var (
			a     model.Activity
			kind  string
			nanos int64
		)
		if err := rows.Scan(&a.ID, &kind, &a.Trackable.ID, &a.Action, &a.ActorRef, &nanos); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Trackable.Kind = model.TrackableKind(kind)
		a.OccurredAt = time.Unix(0, nanos).UTC()
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}
