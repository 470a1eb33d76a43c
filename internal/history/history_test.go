package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maizeguard/leafscan-go/internal/kvstore"
	"github.com/maizeguard/leafscan-go/internal/scan"
)

func newTestStore(t *testing.T) (*Store, kvstore.Store) {
	t.Helper()
	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := New(kv, nil)
	require.NoError(t, store.Load())
	return store, kv
}

func record(id string) scan.DiagnosisRecord {
	return scan.DiagnosisRecord{
		ID:         id,
		CapturedAt: time.Now(),
		Label:      "Common Rust",
		Confidence: 0.87,
		FinalLabel: "Common Rust",
	}
}

func TestLoadMissingSnapshotIsEmpty(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	assert.Equal(t, 0, store.Len())
}

func TestUpsertInsertsNewestFirst(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(record("a")))
	require.NoError(t, store.Upsert(record("b")))

	all := store.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestUpsertSameIDOverwritesInPlace(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(record("a")))
	require.NoError(t, store.Upsert(record("b")))

	updated := record("a")
	updated.UserVerified = true
	updated.FinalLabel = "Gray Leaf Spot"
	require.NoError(t, store.Upsert(updated))

	assert.Equal(t, 2, store.Len(), "upsert must never create a duplicate")

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.True(t, got.UserVerified)
	assert.Equal(t, "Gray Leaf Spot", got.FinalLabel)

	// Overwriting does not change the record's position
	all := store.All()
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	assert.Error(t, store.Upsert(scan.DiagnosisRecord{}))
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	t.Parallel()

	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	store := New(kv, nil)
	require.NoError(t, store.Load())
	require.NoError(t, store.Upsert(record("a")))
	require.NoError(t, store.Upsert(record("b")))

	reopened := New(kv, nil)
	require.NoError(t, reopened.Load())

	all := reopened.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)
}

func TestListUnsynced(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(record("a")))

	synced := record("b")
	synced.Synced = true
	require.NoError(t, store.Upsert(synced))

	unsynced := store.ListUnsynced()
	require.Len(t, unsynced, 1)
	assert.Equal(t, "a", unsynced[0].ID)
}

func TestMarkSyncedSubsetOnly(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(record("a")))
	require.NoError(t, store.Upsert(record("b")))
	require.NoError(t, store.Upsert(record("c")))

	store.MarkSynced(map[string]string{
		"a": "/public/uploads/scan-1.jpg",
		"c": "",
	})

	a, _ := store.Get("a")
	assert.True(t, a.Synced)
	assert.Equal(t, "/public/uploads/scan-1.jpg", a.RemoteImageURL)

	b, _ := store.Get("b")
	assert.False(t, b.Synced, "records outside the accepted set stay unsynced")

	c, _ := store.Get("c")
	assert.True(t, c.Synced)
	assert.Empty(t, c.RemoteImageURL)
}

func TestMarkSyncedClearsRetryBookkeeping(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	require.NoError(t, store.Upsert(record("a")))

	store.NoteSyncFailure("a", time.Now().Add(time.Minute))
	store.NoteSyncFailure("a", time.Now().Add(2*time.Minute))

	got, _ := store.Get("a")
	require.Equal(t, 2, got.SyncAttempts)
	require.False(t, got.NextAttemptAt.IsZero())

	store.MarkSynced(map[string]string{"a": ""})

	got, _ = store.Get("a")
	assert.Equal(t, 0, got.SyncAttempts)
	assert.True(t, got.NextAttemptAt.IsZero())
}

func TestResetSync(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	rec := record("a")
	rec.Synced = true
	rec.SyncAttempts = 3
	rec.NextAttemptAt = time.Now().Add(time.Hour)
	require.NoError(t, store.Upsert(rec))

	store.ResetSync("a")

	got, _ := store.Get("a")
	assert.False(t, got.Synced)
	assert.Equal(t, 0, got.SyncAttempts)
	assert.True(t, got.NextAttemptAt.IsZero())
}

// stubMaterializer treats every reference with the "tmp:" prefix as ephemeral.
type stubMaterializer struct {
	durable string
	fail    bool
}

func (s *stubMaterializer) IsEphemeral(ref string) bool { return len(ref) > 4 && ref[:4] == "tmp:" }

func (s *stubMaterializer) Materialize(ref string) (string, error) {
	if s.fail {
		return "", assert.AnError
	}
	return s.durable, nil
}

func TestUpsertMaterializesEphemeralReferences(t *testing.T) {
	t.Parallel()

	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := New(kv, &stubMaterializer{durable: "/data/images/abc.jpg"})
	require.NoError(t, store.Load())

	rec := record("a")
	rec.ImageRef = "tmp:/cache/capture.jpg"
	require.NoError(t, store.Upsert(rec))

	got, _ := store.Get("a")
	assert.Equal(t, "/data/images/abc.jpg", got.ImageRef)
}

func TestUpsertKeepsRecordWhenMaterializationFails(t *testing.T) {
	t.Parallel()

	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := New(kv, &stubMaterializer{fail: true})
	require.NoError(t, store.Load())

	rec := record("a")
	rec.ImageRef = "tmp:/cache/capture.jpg"
	require.NoError(t, store.Upsert(rec), "a failed materialization must not lose the record")

	got, ok := store.Get("a")
	require.True(t, ok)
	assert.Equal(t, "tmp:/cache/capture.jpg", got.ImageRef,
		"the original reference survives even when the materializer returns an empty one")
}
