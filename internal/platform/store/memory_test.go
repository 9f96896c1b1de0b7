package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
)

func patient(family string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"name":         []interface{}{map[string]interface{}{"family": family}},
	}
}

func TestMemory_VersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	created, err := s.Create(ctx, "Patient", patient("A"))
	require.NoError(t, err)
	id := created.ID

	_, err = s.Update(ctx, "Patient", id, patient("B"), 0)
	require.NoError(t, err)
	_, err = s.Update(ctx, "Patient", id, patient("C"), 2)
	require.NoError(t, err)
	_, err = s.Delete(ctx, "Patient", id)
	require.NoError(t, err)
	restored, err := s.Update(ctx, "Patient", id, patient("D"), 0)
	require.NoError(t, err)
	assert.True(t, restored.Restored)
	assert.True(t, Created(restored))
	_, err = s.Update(ctx, "Patient", id, patient("E"), 0)
	require.NoError(t, err)

	hist, err := s.History(ctx, "Patient", id)
	require.NoError(t, err)
	require.Len(t, hist, 6)

	var versions []int
	var methods []string
	for i := len(hist) - 1; i >= 0; i-- {
		versions = append(versions, hist[i].VersionID)
		methods = append(methods, hist[i].Method)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, versions)
	assert.Equal(t, []string{"POST", "PUT", "PUT", "DELETE", "PUT", "PUT"}, methods)
	assert.True(t, hist[2].Deleted)
	assert.Nil(t, hist[2].Body)

	for i := 1; i < len(hist); i++ {
		assert.True(t, hist[i-1].LastUpdated.After(hist[i].LastUpdated))
	}
}

func TestMemory_ReadDeleted(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	r, err := s.Create(ctx, "Patient", patient("A"))
	require.NoError(t, err)
	_, err = s.Delete(ctx, "Patient", r.ID)
	require.NoError(t, err)

	cur, err := s.Current(ctx, "Patient", r.ID)
	assert.True(t, errors.Is(err, ErrGone))
	require.NotNil(t, cur)
	assert.Equal(t, 2, cur.VersionID)

	again, err := s.Delete(ctx, "Patient", r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.VersionID, "deleting twice appends nothing")

	v1, err := s.Version(ctx, "Patient", r.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", v1.Body["name"].([]interface{})[0].(map[string]interface{})["family"])

	_, err = s.Version(ctx, "Patient", r.ID, 3)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Current(ctx, "Patient", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Delete(ctx, "Patient", "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	found, err := s.Search(ctx, "Patient", nil)
	require.NoError(t, err)
	assert.Empty(t, found, "deleted resources are not searchable")
}

func TestMemory_Stamp(t *testing.T) {
	ctx := context.Background()
	s := NewMemory(WithIDGenerator(func() string { return "fixed" }))

	body := patient("A")
	r, err := s.Create(ctx, "Patient", body)
	require.NoError(t, err)
	assert.Equal(t, "fixed", r.Body["id"])
	meta := r.Body["meta"].(map[string]interface{})
	assert.Equal(t, "1", meta["versionId"])
	_, hasID := body["id"]
	assert.False(t, hasID, "caller's body is not modified")

	_, err = s.Create(ctx, "Patient", patient("B"))
	assert.True(t, errors.Is(err, ErrVersionConflict))
}

func TestMemory_IfMatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	r, err := s.Create(ctx, "Patient", patient("A"))
	require.NoError(t, err)

	_, err = s.Update(ctx, "Patient", r.ID, patient("B"), 5)
	assert.True(t, errors.Is(err, ErrVersionConflict))
	_, err = s.Update(ctx, "Patient", "new-id", patient("B"), 1)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	created, err := s.Update(ctx, "Patient", "new-id", patient("B"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, created.VersionID)
	assert.Equal(t, fhir.MethodPut, created.Method)
}

func TestMemory_SearchAndTenants(t *testing.T) {
	acme := WithTenant(context.Background(), "acme")
	other := WithTenant(context.Background(), "other")
	s := NewMemory()

	for _, f := range []string{"A", "B", "C"} {
		_, err := s.Update(acme, "Patient", "p"+f, patient(f), 0)
		require.NoError(t, err)
	}
	_, err := s.Update(acme, "Organization", "o1", map[string]interface{}{"name": "Org"}, 0)
	require.NoError(t, err)

	found, err := s.Search(acme, "Patient", func(r *fhir.Resource) (bool, error) {
		return r.ID != "pB", nil
	})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "pA", found[0].ID)
	assert.Equal(t, "pC", found[1].ID)

	found, err = s.Search(other, "Patient", nil)
	require.NoError(t, err)
	assert.Empty(t, found)

	types, err := s.ResourceTypes(acme)
	require.NoError(t, err)
	assert.Equal(t, []string{"Organization", "Patient"}, types)

	boom := errors.New("boom")
	_, err = s.Search(acme, "Patient", func(*fhir.Resource) (bool, error) { return false, boom })
	assert.ErrorIs(t, err, boom)

	hist, err := s.TypeHistory(acme, "Patient")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, "pC", hist[0].ID)
}
