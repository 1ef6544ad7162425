package litestore

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/variant-curation-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	tmpDir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	return store
}

func TestNewSQLiteStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "litestore-test-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_GetOrCreate(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := domain.VariantKey{Xpos: 1000000100, Ref: "A", Alt: "G"}

	created, err := store.GetOrCreate(ctx, key, "F000001", "R0001_test")
	require.NoError(t, err)
	assert.NotEmpty(t, created.GUID)
	assert.Equal(t, int64(1000000100), created.Xpos)

	again, err := store.GetOrCreate(ctx, key, "F000001", "R0001_test")
	require.NoError(t, err)
	assert.Equal(t, created.GUID, again.GUID, "same key and family must reuse the record")

	other, err := store.GetOrCreate(ctx, key, "F000002", "R0001_test")
	require.NoError(t, err)
	assert.NotEqual(t, created.GUID, other.GUID, "each family gets its own record")
}

func TestSQLiteStore_UpdateAnnotation(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := domain.VariantKey{Xpos: 1000000100, Ref: "A", Alt: "G"}
	sv, err := store.GetOrCreate(ctx, key, "F000001", "R0001_test")
	require.NoError(t, err)

	annotation := []byte(`{"variantId":"1-100-A-G","xpos":1000000100}`)
	require.NoError(t, store.UpdateAnnotation(ctx, sv.GUID, annotation))

	found, err := store.FindForKeys(ctx, []string{"F000001"}, []domain.VariantKey{key})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.JSONEq(t, string(annotation), string(found[0].AnnotationJSON))

	err = store.UpdateAnnotation(ctx, "SV_missing", annotation)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSQLiteStore_FindForKeysScopesFamilies(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	key := domain.VariantKey{Xpos: 1000000100, Ref: "A", Alt: "G"}
	_, err := store.GetOrCreate(ctx, key, "F000001", "R0001_test")
	require.NoError(t, err)

	found, err := store.FindForKeys(ctx, []string{"F000002"}, []domain.VariantKey{key})
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = store.FindForKeys(ctx, []string{"F000001"}, []domain.VariantKey{key})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestSQLiteStore_ListTagged(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	tagged, err := store.GetOrCreate(ctx, domain.VariantKey{Xpos: 1000000100, Ref: "A", Alt: "G"}, "F000001", "R0001_test")
	require.NoError(t, err)
	excluded, err := store.GetOrCreate(ctx, domain.VariantKey{Xpos: 1000000200, Ref: "C", Alt: "T"}, "F000001", "R0001_test")
	require.NoError(t, err)

	require.NoError(t, store.AddTag(ctx, tagged.GUID, domain.VariantTag{
		Name: "Tier 1 - Novel gene", Category: domain.DiscoveryTagCategory,
	}))
	// non-discovery tags do not qualify a variant for the listing
	require.NoError(t, store.AddTag(ctx, excluded.GUID, domain.VariantTag{
		Name: "Excluded", Category: "Analyst Tags",
	}))
	require.NoError(t, store.AddFunctionalData(ctx, tagged.GUID, domain.VariantFunctionalData{
		Name: "Additional Unrelated Kindreds w/ Causal Variants in Gene", Metadata: "3",
	}))

	variants, err := store.ListTagged(ctx, "R0001_test")
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, tagged.GUID, variants[0].GUID)
	require.Len(t, variants[0].Tags, 1)
	assert.Equal(t, "Tier 1 - Novel gene", variants[0].Tags[0].Name)
	require.Len(t, variants[0].FunctionalData, 1)
	assert.Equal(t, "3", variants[0].FunctionalData[0].Metadata)

	all, err := store.ListForProject(ctx, "R0001_test")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteStore_ExportImportRoundTrip(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	sv, err := store.GetOrCreate(ctx, domain.VariantKey{Xpos: 1000000100, Ref: "A", Alt: "G"}, "F000001", "R0001_test")
	require.NoError(t, err)
	require.NoError(t, store.UpdateAnnotation(ctx, sv.GUID, []byte(`{"variantId":"1-100-A-G"}`)))
	require.NoError(t, store.AddTag(ctx, sv.GUID, domain.VariantTag{Name: "Known gene for phenotype"}))
	require.NoError(t, store.AddNote(ctx, sv.GUID, domain.VariantNote{Note: "segregates in both sibs"}))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, "R0001_test", &buf))

	var export CurationExport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, 1, export.Count)
	assert.Equal(t, "R0001_test", export.ProjectGUID)

	// import into a fresh store
	other := createTestStore(t)
	defer other.Close()

	imported, skipped, err := other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 1, imported)
	assert.Equal(t, 0, skipped)

	variants, err := other.ListForProject(ctx, "R0001_test")
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Len(t, variants[0].Tags, 1)
	assert.Len(t, variants[0].Notes, 1)

	// re-importing skips the existing record
	imported, skipped, err = other.ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 1, skipped)
}
