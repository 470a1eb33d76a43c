package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maizeguard/leafscan-go/internal/history"
	"github.com/maizeguard/leafscan-go/internal/kvstore"
	"github.com/maizeguard/leafscan-go/internal/scan"
)

// fakeClient scripts the remote repository for engine tests.
type fakeClient struct {
	uploadFn func(imagePath string) (string, error)
	submitFn func(payloads []scan.SubmissionPayload) (*scan.SyncResult, error)

	uploads     []string
	dataUploads []string
	batches     [][]scan.SubmissionPayload
}

func (f *fakeClient) UploadImage(_ context.Context, imagePath string) (string, error) {
	f.uploads = append(f.uploads, imagePath)
	if f.uploadFn != nil {
		return f.uploadFn(imagePath)
	}
	return "/public/uploads/scan-1.jpg", nil
}

func (f *fakeClient) UploadImageData(_ context.Context, dataURI string) (string, error) {
	f.dataUploads = append(f.dataUploads, dataURI)
	return "/public/uploads/scan-1.jpg", nil
}

func (f *fakeClient) SubmitBatch(_ context.Context, payloads []scan.SubmissionPayload) (*scan.SyncResult, error) {
	f.batches = append(f.batches, payloads)
	if f.submitFn != nil {
		return f.submitFn(payloads)
	}
	ids := make([]string, 0, len(payloads))
	for i := range payloads {
		ids = append(ids, payloads[i].LocalID)
	}
	return &scan.SyncResult{SyncedCount: len(ids), SavedIDs: ids, Errors: []scan.SyncError{}}, nil
}

func testConfig() Config {
	return Config{
		MaxAttempts: 8,
		BackoffBase: 30 * time.Second,
		BackoffMax:  time.Hour,
	}
}

func newEngineWithStore(t *testing.T, client *fakeClient) (*Engine, *history.Store) {
	t.Helper()
	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := history.New(kv, nil)
	require.NoError(t, store.Load())
	return New(store, client, testConfig(), nil), store
}

func addRecord(t *testing.T, store *history.Store, id, imageRef string) {
	t.Helper()
	require.NoError(t, store.Upsert(scan.DiagnosisRecord{
		ID:         id,
		CapturedAt: time.Now(),
		ImageRef:   imageRef,
		Label:      "Northern Leaf Blight",
		Confidence: 0.91,
		FinalLabel: "Northern Leaf Blight",
	}))
}

func TestSyncNothingToDo(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	engine, _ := newEngineWithStore(t, client)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
	assert.Empty(t, client.batches, "no batch call without candidates")
}

func TestSyncHappyPath(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "/data/images/a.jpg")
	addRecord(t, store, "b", "") // no image

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 2, report.Submitted)
	assert.Equal(t, 2, report.Accepted)
	assert.Empty(t, report.Errors)

	require.Len(t, client.uploads, 1, "only the record with an image uploads")
	assert.Equal(t, "/data/images/a.jpg", client.uploads[0])
	require.Len(t, client.batches, 1, "one batch call per pass")

	a, _ := store.Get("a")
	assert.True(t, a.Synced)
	assert.Equal(t, "/public/uploads/scan-1.jpg", a.RemoteImageURL)
	b, _ := store.Get("b")
	assert.True(t, b.Synced)
}

func TestSyncDataURIReferenceUsesDataUpload(t *testing.T) {
	t.Parallel()

	// A record can keep a data URI as its image reference when
	// materialization failed. There is no file to open behind it, so the
	// upload must go through the JSON data endpoint.
	const dataURI = "data:image/png;base64,aGVsbG8="

	client := &fakeClient{}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", dataURI)

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Empty(t, client.uploads, "a data URI never goes through the file upload path")
	require.Len(t, client.dataUploads, 1)
	assert.Equal(t, dataURI, client.dataUploads[0])

	assert.Equal(t, 1, report.Accepted)
	a, _ := store.Get("a")
	assert.True(t, a.Synced)
	assert.Equal(t, "/public/uploads/scan-1.jpg", a.RemoteImageURL)
	assert.Equal(t, 0, a.SyncAttempts, "the record burns no retry attempts")
}

func TestSyncImageUploadFailureSkipsOnlyThatRecord(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		uploadFn: func(imagePath string) (string, error) {
			if imagePath == "/data/images/a.jpg" {
				return "", assert.AnError
			}
			return "/public/uploads/scan-b.jpg", nil
		},
	}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "/data/images/a.jpg")
	addRecord(t, store, "b", "/data/images/b.jpg")

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Submitted)
	assert.Equal(t, 1, report.Accepted)

	a, _ := store.Get("a")
	assert.False(t, a.Synced)
	assert.Equal(t, 1, a.SyncAttempts)
	assert.False(t, a.NextAttemptAt.IsZero(), "failed record backs off")

	b, _ := store.Get("b")
	assert.True(t, b.Synced)
}

func TestSyncBatchFailureMarksNothingSynced(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitFn: func([]scan.SubmissionPayload) (*scan.SyncResult, error) {
			return nil, assert.AnError
		},
	}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "")
	addRecord(t, store, "b", "")

	_, err := engine.Sync(context.Background())
	require.Error(t, err)

	for _, id := range []string{"a", "b"} {
		rec, _ := store.Get(id)
		assert.False(t, rec.Synced, "record %s must stay unsynced after a failed batch", id)
		assert.Equal(t, 1, rec.SyncAttempts)
	}
}

func TestSyncPerItemRejection(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitFn: func(payloads []scan.SubmissionPayload) (*scan.SyncResult, error) {
			return &scan.SyncResult{
				SyncedCount: 1,
				SavedIDs:    []string{"a"},
				Errors:      []scan.SyncError{{LocalID: "b", Error: "scan validation failed"}},
			}, nil
		},
	}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "")
	addRecord(t, store, "b", "")

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Accepted)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "b", report.Errors[0].LocalID)

	a, _ := store.Get("a")
	assert.True(t, a.Synced)
	b, _ := store.Get("b")
	assert.False(t, b.Synced)
	assert.Equal(t, 1, b.SyncAttempts)
}

func TestSyncedRecordsNeverRevert(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		submitFn: func([]scan.SubmissionPayload) (*scan.SyncResult, error) {
			return nil, assert.AnError
		},
	}
	engine, store := newEngineWithStore(t, client)

	synced := scan.DiagnosisRecord{ID: "done", Synced: true, Label: "Healthy", FinalLabel: "Healthy"}
	require.NoError(t, store.Upsert(synced))
	addRecord(t, store, "pending", "")

	_, err := engine.Sync(context.Background())
	require.Error(t, err)

	rec, _ := store.Get("done")
	assert.True(t, rec.Synced, "an already synced record stays synced through failing passes")
}

func TestSyncDropsOverlappingTrigger(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	client := &fakeClient{
		submitFn: func(payloads []scan.SubmissionPayload) (*scan.SyncResult, error) {
			close(started)
			<-release
			ids := []string{payloads[0].LocalID}
			return &scan.SyncResult{SyncedCount: 1, SavedIDs: ids}, nil
		},
	}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "")

	done := make(chan error, 1)
	go func() {
		_, err := engine.Sync(context.Background())
		done <- err
	}()

	<-started
	_, err := engine.Sync(context.Background())
	assert.ErrorIs(t, err, ErrSyncInFlight, "overlapping trigger is dropped, not queued")

	close(release)
	require.NoError(t, <-done)

	// The guard clears once the pass finishes
	report, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Candidates)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	engine, _ := newEngineWithStore(t, &fakeClient{})

	assert.Equal(t, 30*time.Second, engine.backoffAfter(1))
	assert.Equal(t, time.Minute, engine.backoffAfter(2))
	assert.Equal(t, 2*time.Minute, engine.backoffAfter(3))
	assert.Equal(t, time.Hour, engine.backoffAfter(8))
	assert.Equal(t, time.Hour, engine.backoffAfter(100), "backoff never exceeds the cap")
}

func TestSyncSkipsBackedOffRecords(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "")
	store.NoteSyncFailure("a", time.Now().Add(time.Hour))

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Submitted)
	assert.Empty(t, client.batches)
}

func TestSyncParksRecordAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	engine, store := newEngineWithStore(t, client)
	addRecord(t, store, "a", "")
	for i := 0; i < testConfig().MaxAttempts; i++ {
		store.NoteSyncFailure("a", time.Time{})
	}

	report, err := engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, client.batches)

	// A manual reset brings the record back into rotation
	store.ResetSync("a")
	report, err = engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Accepted)
}

func TestSyncPersistsOncePerPass(t *testing.T) {
	t.Parallel()

	kv, err := kvstore.NewFileStore(t.TempDir())
	require.NoError(t, err)
	counting := &countingStore{Store: kv}

	store := history.New(counting, nil)
	require.NoError(t, store.Load())
	engine := New(store, &fakeClient{}, testConfig(), nil)

	require.NoError(t, store.Upsert(scan.DiagnosisRecord{ID: "a", Label: "Healthy", FinalLabel: "Healthy"}))
	require.NoError(t, store.Upsert(scan.DiagnosisRecord{ID: "b", Label: "Healthy", FinalLabel: "Healthy"}))
	counting.puts = 0

	_, err = engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counting.puts, "one snapshot write per pass")
}

type countingStore struct {
	kvstore.Store
	puts int
}

func (c *countingStore) Put(key string, value []byte) error {
	c.puts++
	return c.Store.Put(key, value)
}
