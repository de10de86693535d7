package classify

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/snowcrash/internal/model"
)

func tag(name, display, color string) model.Tag {
	return model.Tag{Name: name, DisplayName: display, Color: color}
}

func issue(id int64, tags ...model.Tag) model.Issue {
	if tags == nil {
		tags = []model.Tag{}
	}
	return model.Issue{ID: id, Title: "issue", Tags: tags}
}

func ids(issues []model.Issue) []int64 {
	out := make([]int64, len(issues))
	for i, is := range issues {
		out[i] = is.ID
	}
	return out
}

func TestClassify_ReferenceExample(t *testing.T) {
	a := tag("A", "Alpha", "red")
	b := tag("B", "Bravo", "blue")

	r := Classify([]model.Issue{
		issue(1, a),
		issue(2),
		issue(3, a, b),
	}, []model.Tag{a, b})

	assert.Equal(t, map[string]int{"A": 2, "B": 1, "unassigned": 1}, r.CountByKey)
	assert.Equal(t, []int64{1, 3}, ids(r.IssuesByKey["A"]))
	assert.Equal(t, []int64{3}, ids(r.IssuesByKey["B"]))
	assert.Equal(t, []int64{2}, ids(r.IssuesByKey["unassigned"]))

	assert.Equal(t, []Bar{
		{Key: "A", Label: "A", Color: "red", Count: 2},
		{Key: "B", Label: "B", Color: "blue", Count: 1},
		{Key: "unassigned", Label: "N/A", Color: "#ccc", Count: 1},
	}, r.Bars())
}

func TestClassify_SeedsEveryKnownTag(t *testing.T) {
	r := Classify(nil, []model.Tag{tag("low", "Low", "#0f0"), tag("high", "High", "#f00")})

	assert.Equal(t, map[string]int{"low": 0, "high": 0, "unassigned": 0}, r.CountByKey)
	for key, list := range r.IssuesByKey {
		assert.NotNil(t, list, key)
		assert.Empty(t, list, key)
	}

	bars := r.Bars()
	require.Len(t, bars, 3)
	assert.Equal(t, "low", bars[0].Key)
	assert.Equal(t, "high", bars[1].Key)
	assert.Equal(t, "unassigned", bars[2].Key)
}

func TestClassify_NoTagsAtAll(t *testing.T) {
	r := Classify([]model.Issue{issue(1), issue(2)}, nil)

	assert.Equal(t, []Bar{{Key: "unassigned", Label: "N/A", Color: "#ccc", Count: 2}}, r.Bars())
}

func TestClassify_UnknownTagCountedNotProjected(t *testing.T) {
	known := tag("known", "Known", "#111")
	stray := tag("stray", "Stray", "#222")

	r := Classify([]model.Issue{issue(1, stray), issue(2, known, stray)}, []model.Tag{known})

	assert.Equal(t, 2, r.CountByKey["stray"])
	assert.Equal(t, 1, r.CountByKey["known"])

	bars := r.Bars()
	require.Len(t, bars, 2)
	assert.Equal(t, "known", bars[0].Key)
	assert.Equal(t, "unassigned", bars[1].Key)
}

func TestClassify_DuplicateKnownTagProjectedOnce(t *testing.T) {
	x := tag("x", "X", "#000")
	r := Classify([]model.Issue{issue(1, x)}, []model.Tag{x, x})

	assert.Len(t, r.Bars(), 2)
	assert.Equal(t, 1, r.CountByKey["x"])
}

func TestClassify_ReservedTagNameIgnored(t *testing.T) {
	reserved := tag(UnassignedKey, "Unassigned", "#ff0000")
	high := tag("high", "High", "#f80")

	r := Classify([]model.Issue{
		issue(1, reserved),
		issue(2),
		issue(3, reserved, high),
	}, []model.Tag{reserved, high})

	assert.Equal(t, map[string]int{"high": 1, "unassigned": 2}, r.CountByKey)
	assert.Equal(t, []int64{1, 2}, ids(r.IssuesByKey["unassigned"]))
	assert.Equal(t, []Bar{
		{Key: "high", Label: "H", Color: "#f80", Count: 1},
		{Key: "unassigned", Label: "N/A", Color: "#ccc", Count: 2},
	}, r.Bars())
}

// Total bucket memberships equal tag associations on tagged issues plus the
// number of untagged issues.
func TestClassify_TotalMatchesMemberships(t *testing.T) {
	tags := []model.Tag{tag("a", "A", "#a00"), tag("b", "B", "#0b0"), tag("c", "C", "#00c")}

	cases := [][]model.Issue{
		nil,
		{issue(1)},
		{issue(1, tags[0]), issue(2, tags[0], tags[1], tags[2]), issue(3)},
		{issue(1, tags[2]), issue(2, tags[2]), issue(3), issue(4), issue(5, tags[1], tags[0])},
	}

	for i, issues := range cases {
		want := 0
		for _, is := range issues {
			if len(is.Tags) == 0 {
				want++
			} else {
				want += len(is.Tags)
			}
		}

		r := Classify(issues, tags)
		assert.Equal(t, want, r.Total(), "case %d", i)

		barTotal := 0
		for _, b := range r.Bars() {
			barTotal += b.Count
		}
		assert.Equal(t, want, barTotal, "case %d", i)
	}
}

func TestFirstLetter(t *testing.T) {
	tests := []struct {
		name string
		tag  model.Tag
		want string
	}{
		{"display name", tag("1_critical", "critical", ""), "C"},
		{"falls back to name", tag("high", "", ""), "H"},
		{"decomposed accent", tag("x", "e\u0301leve\u0301", ""), "\u00c9"},
		{"multibyte", tag("x", "über", ""), "Ü"},
		{"empty", tag("", "", ""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstLetter(tt.tag))
		})
	}
}

func TestChartData_Golden(t *testing.T) {
	tags := []model.Tag{
		tag("1_critical", "Critical", "#ff0000"),
		tag("2_high", "High", "#ff8000"),
		tag("3_elevated", "élevé", "#ffcc00"),
		tag("4_info", "Info", "#0000ff"),
	}
	issues := []model.Issue{
		issue(1, tags[0]),
		issue(2, tags[0], tags[1]),
		issue(3),
		issue(4, tags[3]),
		issue(5),
	}

	data, err := json.Marshal(Classify(issues, tags).ChartData())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "chart_data", data)
}

func TestChartData_EscapesKeysWithoutHTMLEscaping(t *testing.T) {
	tags := []model.Tag{tag(`a"<b>`, "Q&A", "#123")}

	data, err := Classify(nil, tags).ChartData().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"tags":{"a\"<b>":["Q","#123"],"unassigned":["N/A","#ccc"]},"counts":{"a\"<b>":0,"unassigned":0}}`,
		string(data))

	var decoded struct {
		Tags   map[string][2]string `json:"tags"`
		Counts map[string]int       `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, [2]string{"N/A", "#ccc"}, decoded.Tags["unassigned"])
}
