package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snowcrash/internal/model"
	"github.com/roach88/snowcrash/internal/querysql"
	"github.com/roach88/snowcrash/internal/testutil"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(t *testing.T, s *Store, ref model.TrackableRef, action string, at time.Time) model.Activity {
	t.Helper()
	a, err := s.RecordActivity(context.Background(), model.Activity{Trackable: ref, Action: action, ActorRef: "alice", OccurredAt: at})
	require.NoError(t, err)
	return a
}

func activityIDs(activities []model.Activity) []int64 {
	ids := make([]int64, len(activities))
	for i, a := range activities {
		ids[i] = a.ID
	}
	return ids
}

func TestFeedFor_NodeWithoutDependents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n := mustNode(t, s, "lonely", model.NodeTypeDefault, nil)
	other := mustNode(t, s, "other", model.NodeTypeDefault, nil)

	mine := record(t, s, n.Ref(), "create", t0)
	record(t, s, other.Ref(), "create", t0.Add(time.Minute))
	// Same numeric id as n, different kind.
	record(t, s, model.TrackableRef{Kind: model.TrackableNote, ID: n.ID}, "create", t0)

	feed, err := s.FeedFor(ctx, n.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{mine.ID}, activityIDs(feed))
}

func TestFeedFor_IncludesNotesAndEvidence(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lib := mustNode(t, s, "All issues", model.NodeTypeIssueLibrary, nil)
	issue := mustIssue(t, s, lib.ID, "XSS")
	host := mustNode(t, s, "10.0.0.1", model.NodeTypeHost, nil)
	otherHost := mustNode(t, s, "10.0.0.2", model.NodeTypeHost, nil)

	note, err := s.CreateNote(ctx, host.ID, "nmap")
	require.NoError(t, err)
	ev, err := s.CreateEvidence(ctx, host.ID, issue.ID, "")
	require.NoError(t, err)
	foreign, err := s.CreateNote(ctx, otherHost.ID, "not mine")
	require.NoError(t, err)

	aNode := record(t, s, host.Ref(), "create", t0)
	aNote := record(t, s, note.Ref(), "create", t0.Add(2*time.Minute))
	aEv := record(t, s, ev.Ref(), "create", t0.Add(1*time.Minute))
	record(t, s, foreign.Ref(), "create", t0.Add(3*time.Minute))
	aTie := record(t, s, host.Ref(), "update", t0.Add(2*time.Minute))

	feed, err := s.FeedFor(ctx, host.ID, 0)
	require.NoError(t, err)
	// Most recent first; equal timestamps put the newer id first.
	assert.Equal(t, []int64{aTie.ID, aNote.ID, aEv.ID, aNode.ID}, activityIDs(feed))

	limited, err := s.FeedFor(ctx, host.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{aTie.ID, aNote.ID}, activityIDs(limited))
}

func TestFeedFor_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.FeedFor(context.Background(), 99, 0)
	assert.True(t, IsNotFound(err))
}

func TestFeedQuery_NeverBuildsEmptyIn(t *testing.T) {
	tests := []struct {
		name     string
		notes    []int64
		evidence []int64
		wantSQL  string
		want     []any
	}{
		{
			name:    "node only",
			wantSQL: "SELECT id, trackable_type, trackable_id, action, actor_ref, occurred_at FROM activities WHERE (trackable_type = ? AND trackable_id = ?) ORDER BY occurred_at DESC, id DESC",
			want:    []any{"Node", int64(1)},
		},
		{
			name:    "one note",
			notes:   []int64{5},
			wantSQL: "SELECT id, trackable_type, trackable_id, action, actor_ref, occurred_at FROM activities WHERE ((trackable_type = ? AND trackable_id = ?) OR (trackable_type = ? AND trackable_id = ?)) ORDER BY occurred_at DESC, id DESC",
			want:    []any{"Node", int64(1), "Note", int64(5)},
		},
		{
			name:     "evidence set",
			evidence: []int64{7, 8},
			wantSQL:  "SELECT id, trackable_type, trackable_id, action, actor_ref, occurred_at FROM activities WHERE ((trackable_type = ? AND trackable_id = ?) OR (trackable_type = ? AND trackable_id IN (?, ?))) ORDER BY occurred_at DESC, id DESC",
			want:     []any{"Node", int64(1), "Evidence", int64(7), int64(8)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := querysql.Compile(feedQuery(1, tt.notes, tt.evidence, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.want, params)
			assert.NotContains(t, sql, "IN ()")
			if len(tt.notes)+len(tt.evidence) < 2 {
				assert.False(t, strings.Contains(sql, " IN "), "no membership test expected: %s", sql)
			}
		})
	}
}

func TestRecordActivity_Defaults(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 6, time.UTC)
	s := createTestStore(t, WithClock(func() time.Time { return fixed }))

	a, err := s.RecordActivity(context.Background(), model.Activity{
		Trackable: model.TrackableRef{Kind: model.TrackableNode, ID: 1},
		Action:    "create",
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, a.OccurredAt)

	latest, err := s.LatestActivities(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, a, latest[0])
}

func TestRecordActivity_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.RecordActivity(ctx, model.Activity{Trackable: model.TrackableRef{Kind: "Issue", ID: 1}, Action: "create"})
	assert.True(t, IsValidation(err))

	_, err = s.RecordActivity(ctx, model.Activity{Trackable: model.TrackableRef{Kind: model.TrackableNode, ID: 1}})
	assert.True(t, IsValidation(err))
}

func TestResolveTrackable(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	lib := mustNode(t, s, "All issues", model.NodeTypeIssueLibrary, nil)
	issue := mustIssue(t, s, lib.ID, "XSS")
	host := mustNode(t, s, "h", model.NodeTypeHost, nil)
	note, err := s.CreateNote(ctx, host.ID, "n")
	require.NoError(t, err)
	ev, err := s.CreateEvidence(ctx, host.ID, issue.ID, "e")
	require.NoError(t, err)

	for _, want := range []model.Trackable{host, note, ev} {
		got, err := s.ResolveTrackable(ctx, want.Ref())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err = s.ResolveTrackable(ctx, model.TrackableRef{Kind: model.TrackableNote, ID: 999})
	assert.True(t, IsNotFound(err))
}

func TestFeedFor_StampedByStoreClock(t *testing.T) {
	clock := testutil.NewClock()
	s := createTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	host := mustNode(t, s, "10.0.0.1", model.NodeTypeHost, nil)
	note, err := s.CreateNote(ctx, host.ID, "open ports")
	require.NoError(t, err)

	for _, ref := range []model.TrackableRef{host.Ref(), note.Ref(), host.Ref()} {
		_, err := s.RecordActivity(ctx, model.Activity{Trackable: ref, Action: "update"})
		require.NoError(t, err)
	}

	feed, err := s.FeedFor(ctx, host.ID, 0)
	require.NoError(t, err)
	require.Len(t, feed, 3)
	assert.Equal(t, clock.At(2), feed[0].OccurredAt)
	assert.Equal(t, note.Ref(), feed[1].Trackable)
	assert.Equal(t, clock.At(0), feed[2].OccurredAt)
}
