package rtdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanPath(t *testing.T) {
	p, err := CleanPath("/plants/p1/environment_data/")
	require.NoError(t, err)
	assert.Equal(t, "plants/p1/environment_data", p)

	for _, bad := range []string{"", "/", "plants//x", "plants/$id", "a#b", "x[0]"} {
		_, err := CleanPath(bad)
		assert.ErrorIs(t, err, ErrInvalidPath, bad)
	}
}

func TestQueryValidate(t *testing.T) {
	q, err := Query{Path: "/plants/", OrderBy: "timestamp", LimitToLast: 1}.Validate()
	require.NoError(t, err)
	assert.Equal(t, "plants", q.Path)
	assert.Equal(t, "plants orderBy=timestamp limitToLast=1", q.String())

	_, err = Query{Path: "plants", OrderBy: "a/b"}.Validate()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestApplyQueryValueRanks(t *testing.T) {
	children := []Child{
		{Key: "str", Value: []byte(`{"v":"a"}`)},
		{Key: "obj", Value: []byte(`{"v":{"x":1}}`)},
		{Key: "num2", Value: []byte(`{"v":2}`)},
		{Key: "missing", Value: []byte(`{}`)},
		{Key: "true", Value: []byte(`{"v":true}`)},
		{Key: "num1", Value: []byte(`{"v":1}`)},
		{Key: "false", Value: []byte(`{"v":false}`)},
	}
	got := applyQuery(children, Query{Path: "x", OrderBy: "v"})

	var order []string
	for _, c := range got {
		order = append(order, c.Key)
	}
	assert.Equal(t, []string{"missing", "false", "true", "num1", "num2", "str", "obj"}, order)
}

func TestApplyQueryTiesBrokenByKey(t *testing.T) {
	children := []Child{
		{Key: "b", Value: []byte(`{"v":1}`)},
		{Key: "a", Value: []byte(`{"v":1}`)},
	}
	got := applyQuery(children, Query{Path: "x", OrderBy: "v", LimitToFirst: 1})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Key)
}

func TestRules(t *testing.T) {
	r := Rules{
		DenyRead:  []string{"plants/p3/**", "secrets"},
		DenyWrite: []string{"plants/*/environment_data"},
	}
	assert.False(t, r.CanRead("plants/p3/environment_data"))
	assert.False(t, r.CanRead("plants/p3"))
	assert.False(t, r.CanRead("secrets"))
	assert.True(t, r.CanRead("secrets/inner"))
	assert.True(t, r.CanRead("plants/p1/environment_data"))

	assert.False(t, r.CanWrite("plants/p9/environment_data"))
	assert.True(t, r.CanWrite("plants/p9/watering_events"))
	assert.True(t, Rules{}.CanRead("anything"))
}

func TestSnapshotIsImmutable(t *testing.T) {
	src := []Child{{Key: "a", Value: []byte(`{}`)}}
	snap := NewSnapshot("x", src)
	src[0].Key = "mutated"

	children := snap.Children()
	children[0].Key = "also-mutated"

	assert.Equal(t, "a", snap.Children()[0].Key)
	assert.True(t, snap.Exists())
	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, "x", snap.Path())
}
