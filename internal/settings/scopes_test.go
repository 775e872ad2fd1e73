package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/docflow/internal/document"
)

func newDoc(customData map[string]string) *document.Document {
	return document.New("doc-1", document.NewTask(customData))
}

func TestBuildScopes_FanOutSharesPriority(t *testing.T) {
	doc := newDoc(map[string]string{"tenantId": "tId"})
	doc.Add("REPOSITORY_ID", "rId1")
	doc.Add("REPOSITORY_ID", "rId2")

	got := BuildScopes("repository-%f:REPOSITORY_ID%, tenantId-%cd:tenantId%-some-suffix", doc)

	assert.Equal(t, []string{"repository-rId1", "repository-rId2", "tenantId-tId-some-suffix"}, got.Names)
	assert.Equal(t, []int{1, 1, 2}, got.Priorities)
}

func TestBuildScopes(t *testing.T) {
	tests := []struct {
		name       string
		options    string
		fields     map[string][]string
		customData map[string]string
		wantNames  []string
		wantPrio   []int
	}{
		{
			name:      "literals only",
			options:   "default,global",
			wantNames: []string{"default", "global"},
			wantPrio:  []int{1, 2},
		},
		{
			name:      "whitespace and empty tokens ignored",
			options:   " tenant-a , ,global,",
			wantNames: []string{"tenant-a", "global"},
			wantPrio:  []int{1, 2},
		},
		{
			name:      "absent field consumes no priority",
			options:   "repo-%f:MISSING%,global",
			wantNames: []string{"global"},
			wantPrio:  []int{1},
		},
		{
			name:       "empty custom data consumes no priority",
			options:    "t-%cd:tenantId%,%cd:other%,global",
			customData: map[string]string{"tenantId": "", "other": "x"},
			wantNames:  []string{"x", "global"},
			wantPrio:   []int{1, 2},
		},
		{
			name:      "empty field values skipped",
			options:   "%f:TAG%",
			fields:    map[string][]string{"TAG": {"", "b"}},
			wantNames: []string{"b"},
			wantPrio:  []int{1},
		},
		{
			name:      "malformed template is literal",
			options:   "repo-%x:FIELD%",
			wantNames: []string{"repo-%x:FIELD%"},
			wantPrio:  []int{1},
		},
		{
			name:    "no tokens",
			options: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newDoc(tt.customData)
			for name, values := range tt.fields {
				doc.Set(name, values...)
			}
			got := BuildScopes(tt.options, doc)
			assert.Equal(t, tt.wantNames, got.Names)
			assert.Equal(t, tt.wantPrio, got.Priorities)
		})
	}
}

func TestBuildScopes_FieldsComeFromRoot(t *testing.T) {
	doc := newDoc(nil)
	doc.Add("REPOSITORY_ID", "root-repo")
	child := doc.AddSubdocument("child")
	child.Add("REPOSITORY_ID", "child-repo")

	got := BuildScopes("r-%f:REPOSITORY_ID%", child)
	assert.Equal(t, []string{"r-root-repo"}, got.Names)
}

func TestScopes_Key(t *testing.T) {
	a := Scopes{Names: []string{"a", "b"}, Priorities: []int{1, 1}}
	b := Scopes{Names: []string{"a", "b"}, Priorities: []int{1, 2}}
	assert.NotEqual(t, a.Key("s"), b.Key("s"))
	assert.NotEqual(t, a.Key("s"), a.Key("t"))
	assert.Equal(t, a.Key("s"), Scopes{Names: []string{"a", "b"}, Priorities: []int{1, 1}}.Key("s"))
}

func TestRefreshTracker(t *testing.T) {
	clock := newFakeClock()
	tr := NewRefreshTracker(5*time.Minute, clock.Now)
	key := "setting|a|1"

	assert.False(t, tr.ShouldRefresh(key, nil), "no update time never forces")

	updated := clock.Now().Add(-time.Minute)
	assert.True(t, tr.ShouldRefresh(key, &updated), "unseen key forces")

	tr.RecordAccess(key)
	assert.False(t, tr.ShouldRefresh(key, &updated), "update older than last access")

	clock.Advance(time.Minute)
	newer := clock.Now().Add(-30 * time.Second)
	assert.True(t, tr.ShouldRefresh(key, &newer), "update newer than last access")

}

func TestRefreshTracker_ForgetsUnusedKeys(t *testing.T) {
	tr := NewRefreshTracker(50*time.Millisecond, nil)
	key := "setting|a|1"
	updated := time.Now().Add(-time.Hour)

	tr.RecordAccess(key)
	assert.False(t, tr.ShouldRefresh(key, &updated))

	time.Sleep(100 * time.Millisecond)
	assert.True(t, tr.ShouldRefresh(key, &updated), "access record expired")
}
