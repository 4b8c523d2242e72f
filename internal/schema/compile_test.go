package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSchema(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	require.Len(t, s.Kinds, 4)
	assert.Equal(t, Kind("proposal"), s.Kinds[0].Name)
	assert.Equal(t, "/api/visions/", s.Kinds[0].Endpoint)
	assert.Equal(t, "created_at", s.Kinds[0].OrderBy)
	assert.False(t, s.Kinds[0].Transient)

	activity, ok := s.Kind("activity")
	require.True(t, ok)
	assert.True(t, activity.Transient)
	assert.Equal(t, "/api/stream/", activity.Endpoint)
}

func TestDefaultSchemaRelations(t *testing.T) {
	s := MustDefault()

	replies, ok := s.Relation("proposal", "replies")
	require.True(t, ok)
	assert.True(t, replies.Reciprocal())
	assert.Equal(t, "proposal", replies.ReverseKey)
	assert.Equal(t, "vision", replies.ForeignKey)
	assert.True(t, replies.IncludeInPayload)
	assert.Equal(t, OneToMany, replies.Multiplicity)

	supporters, ok := s.Relation("proposal", "supporters")
	require.True(t, ok)
	assert.False(t, supporters.Reciprocal())
	assert.Equal(t, Kind("user"), supporters.Related)
	assert.Equal(t, ManyToMany, supporters.Multiplicity)

	_, ok = s.Relation("user", "supporters")
	assert.False(t, ok)

	for _, tc := range []struct {
		key     string
		related Kind
	}{{"proposals", "proposal"}, {"replies", "reply"}} {
		authored, ok := s.Relation("user", tc.key)
		require.True(t, ok, tc.key)
		assert.Equal(t, tc.related, authored.Related)
		assert.Equal(t, "author", authored.ReverseKey)
		assert.Empty(t, authored.ForeignKey)
		assert.Equal(t, OneToMany, authored.Multiplicity)
	}
}

func TestDefaultSchemaActions(t *testing.T) {
	s := MustDefault()

	tests := []struct {
		name     string
		method   string
		path     string
		relation string
		op       Op
	}{
		{"support", "PUT", "/api/visions/12/support", "supporters", OpAdd},
		{"unsupport", "DELETE", "/api/visions/12/support", "supporters", OpRemove},
		{"share", "POST", "/api/visions/12/share", "sharers", OpAdd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := s.Action(tt.name)
			require.True(t, ok)
			assert.Equal(t, tt.method, a.Method)
			assert.Equal(t, tt.path, a.PathFor("12"))
			assert.Equal(t, tt.relation, a.Relation)
			assert.Equal(t, tt.op, a.Op)
			assert.Equal(t, Kind("proposal"), a.Subject)
		})
	}
}

func TestOpInvert(t *testing.T) {
	assert.Equal(t, OpRemove, OpAdd.Invert())
	assert.Equal(t, OpAdd, OpRemove.Invert())
}

func TestCompileStringRejectsBadEndpoint(t *testing.T) {
	_, err := CompileString(`
		kind: thing: endpoint: "api/things"
	`, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestCompileStringUnknownRelatedKind(t *testing.T) {
	_, err := CompileString(`
		kind: proposal: { endpoint: "/api/visions/", order_by: "created_at" }
		relation: watchers: {
			owner: "proposal"
			key: "watchers"
			related: "ghost"
			multiplicity: "many_to_many"
		}
	`, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrUnknownKind)
}

func TestCompileStringMissingField(t *testing.T) {
	_, err := CompileString(`
		kind: proposal: { order_by: "created_at" }
	`, "bad.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestValidateForeignKeyNeedsReciprocal(t *testing.T) {
	s := &Schema{
		Kinds: []KindSpec{
			{Name: "proposal", Endpoint: "/p/", OrderBy: "created_at"},
			{Name: "user", Endpoint: "/u/", OrderBy: "created_at"},
		},
		Relations: []Relation{{
			Name: "supporters", Owner: "proposal", Key: "supporters", Related: "user",
			ForeignKey: "vision", IncludeInPayload: true, Multiplicity: ManyToMany,
		}},
	}

	errs := Validate(s)
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, ErrForeignKeyScope)
}

func TestValidateDuplicateKeys(t *testing.T) {
	s := &Schema{
		Kinds: []KindSpec{
			{Name: "proposal", Endpoint: "/p/", OrderBy: "created_at"},
			{Name: "reply", Endpoint: "/r/", OrderBy: "created_at"},
		},
		Relations: []Relation{
			{Name: "a", Owner: "proposal", Key: "replies", Related: "reply", ReverseKey: "proposal", Multiplicity: OneToMany},
			{Name: "b", Owner: "proposal", Key: "replies", Related: "reply", Multiplicity: ManyToMany},
		},
	}

	errs := Validate(s)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrDuplicateKey, errs[0].Code)
}

func TestValidateActionReferences(t *testing.T) {
	s := &Schema{
		Kinds: []KindSpec{{Name: "proposal", Endpoint: "/p/", OrderBy: "created_at"}},
		Actions: []Action{
			{Name: "like", Method: "GET", Path: "/p/like", Subject: "proposal", Relation: "likers", Op: "toggle"},
		},
	}

	codes := map[string]bool{}
	for _, e := range Validate(s) {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrInvalidMethod])
	assert.True(t, codes[ErrInvalidPath])
	assert.True(t, codes[ErrInvalidOp])
	assert.True(t, codes[ErrUnknownRelation])
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "civic.cue"), []byte(civicCUE), 0o644))

	s, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, s.Relations, 5)
	assert.Len(t, s.Actions, 3)
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
