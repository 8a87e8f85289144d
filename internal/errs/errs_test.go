package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		err  *CoreError
		want string
	}{
		{ConfigMissing("no antelope.yaml found"), "ConfigMissing: no antelope.yaml found"},
		{SourceFetchError("api", "fetch failed", cause), "SourceFetchError[api]: fetch failed: disk full"},
		{MissingProvider("api", "db@1"), "MissingProvider[api]: no provider for db@1"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.err.Error())
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := LifecycleFailure("api", "construct failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestAmbiguousProviderCarriesCandidates(t *testing.T) {
	err := AmbiguousProvider("api", "db@1", []string{"pg", "pg2"})
	assert.Equal(t, KindAmbiguousProvider, err.Kind)
	assert.Equal(t, []string{"pg", "pg2"}, err.Candidates)
	assert.Equal(t, "db@1", err.Interface)
}

func TestCollection(t *testing.T) {
	c := NewCollection()
	assert.False(t, c.HasErrors())
	assert.Empty(t, c.Error())

	c.Add(MissingProvider("api", "db@1"))
	c.Add(nil)
	c.Add(AmbiguousProvider("web", "http@2", []string{"a", "b"}))

	assert.True(t, c.HasErrors())
	assert.Equal(t, 2, c.Count())
	require.Len(t, c.ByKind(KindMissingProvider), 1)
	require.Len(t, c.ByKind(KindAmbiguousProvider), 1)
	assert.Empty(t, c.ByKind(KindWatchError))
	assert.Contains(t, c.Error(), "2 errors:")
}

func TestCollectionUnwrapSupportsErrorsAs(t *testing.T) {
	c := NewCollection()
	c.Add(MissingProvider("api", "db@1"))

	var ce *CoreError
	require.ErrorAs(t, error(c), &ce)
	assert.Equal(t, KindMissingProvider, ce.Kind)
}

func TestCollectionSingleErrorMessage(t *testing.T) {
	c := NewCollection()
	c.Add(MissingProvider("api", "db@1"))
	assert.Equal(t, "MissingProvider[api]: no provider for db@1", c.Error())
}
