package file_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/internal/event"
	"github.com/medleyhq/medley/internal/file"
	"github.com/medleyhq/medley/internal/probe"
	"github.com/medleyhq/medley/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.ERROR.Level())
}

type fakeExtractor struct {
	mu          sync.Mutex
	durations   map[string]int
	failures    map[string]error
	awaitCancel map[string]bool
	failDelay   time.Duration
	calls       []string
}

func (f *fakeExtractor) Duration(ctx context.Context, path string) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	f.mu.Unlock()

	if f.awaitCancel[path] {
		<-ctx.Done()
		return 0, fmt.Errorf("duration probe for '%s' was canceled: %w", path, ctx.Err())
	}

	if err, ok := f.failures[path]; ok {
		time.Sleep(f.failDelay)
		return 0, err
	}

	return f.durations[path], nil
}

type fakeThumbnailer struct {
	mu       sync.Mutex
	err      error
	captured []string
}

func (f *fakeThumbnailer) CaptureFirstFrame(_ context.Context, videoPath string, outputImagePath string) (string, error) {
	if f.err != nil {
		return "", f.err
	}

	if err := os.WriteFile(outputImagePath, []byte("image-bytes"), 0o644); err != nil {
		return "", err
	}

	f.mu.Lock()
	f.captured = append(f.captured, outputImagePath)
	f.mu.Unlock()
	return outputImagePath, nil
}

type fakeStore struct {
	mu      sync.Mutex
	batches [][]*file.File
	records map[uuid.UUID]*file.File
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]*file.File)}
}

func (f *fakeStore) SaveAll(files []*file.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.saveErr != nil {
		return f.saveErr
	}

	for _, record := range files {
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		f.records[record.ID] = record
	}

	f.batches = append(f.batches, files)
	return nil
}

func (f *fakeStore) Get(id uuid.UUID) (*file.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[id]
	if !ok {
		return nil, file.ErrNotFound
	}

	return record, nil
}

func (f *fakeStore) Delete(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.records[id]; !ok {
		return file.ErrNotFound
	}

	delete(f.records, id)
	return nil
}

func eventChannel(t *testing.T, bus event.EventCoordinator, events ...event.Event) event.HandlerChannel {
	t.Helper()

	channel := make(event.HandlerChannel, 16)
	bus.RegisterHandlerChannel(channel, events...)
	return channel
}

func drainEvents(channel event.HandlerChannel) []event.HandlerEvent {
	received := make([]event.HandlerEvent, 0)
	for {
		select {
		case ev := <-channel:
			received = append(received, ev)
		default:
			return received
		}
	}
}

func Test_Ingest_MixedBatch_PersistedAtomically(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	photoPath := filepath.Join(tempDir, "portrait.jpg")
	videoPath := filepath.Join(tempDir, "clip.mp4")
	audioPath := filepath.Join(tempDir, "song.mp3")

	extractor := &fakeExtractor{durations: map[string]int{videoPath: 12, audioPath: 200}}
	thumbnailer := &fakeThumbnailer{}
	store := newFakeStore()
	bus := event.New()
	ingested := eventChannel(t, bus, event.FILE_INGESTED)

	service := file.NewService(extractor, thumbnailer, store, bus, 4)

	records, err := service.Ingest(context.Background(), []file.Upload{
		{Path: photoPath, MimeType: "image/jpeg"},
		{Path: videoPath, MimeType: "video/mp4"},
		{Path: audioPath, MimeType: "audio/mpeg"},
	})
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, file.Photo, records[0].Type)
	assert.Nil(t, records[0].Duration, "a photo record must not carry a duration")

	assert.Equal(t, file.Video, records[1].Type)
	require.NotNil(t, records[1].Duration)
	assert.Equal(t, 12, *records[1].Duration)

	assert.Equal(t, file.Audio, records[2].Type)
	require.NotNil(t, records[2].Duration)
	assert.Equal(t, 200, *records[2].Duration)

	// The thumbnail is captured beside the video, but never persisted
	// as a record of its own.
	assert.Equal(t, []string{filepath.Join(tempDir, "clip.webp")}, thumbnailer.captured)

	require.Len(t, store.batches, 1, "the batch must be persisted in a single operation")
	assert.Len(t, drainEvents(ingested), 3)
}

func Test_Ingest_ExtractionFailure_AbortsWholeBatch(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	videoPath := filepath.Join(tempDir, "clip.mp4")
	badAudioPath := filepath.Join(tempDir, "corrupt.mp3")
	goodAudioPath := filepath.Join(tempDir, "song.mp3")

	extractor := &fakeExtractor{
		durations: map[string]int{videoPath: 12, goodAudioPath: 90},
		failures:  map[string]error{badAudioPath: probe.ErrExtraction},
		failDelay: time.Millisecond * 200,
	}
	thumbnailer := &fakeThumbnailer{}
	store := newFakeStore()
	bus := event.New()
	ingested := eventChannel(t, bus, event.FILE_INGESTED)

	service := file.NewService(extractor, thumbnailer, store, bus, 4)

	records, err := service.Ingest(context.Background(), []file.Upload{
		{Path: videoPath, MimeType: "video/mp4"},
		{Path: badAudioPath, MimeType: "audio/mpeg"},
		{Path: goodAudioPath, MimeType: "audio/mpeg"},
	})
	assert.ErrorIs(t, err, probe.ErrExtraction)
	assert.ErrorContains(t, err, badAudioPath, "the failure must name the file which caused it")
	assert.Nil(t, records)

	assert.Empty(t, store.batches, "no records may be persisted when any extraction fails")
	assert.Empty(t, drainEvents(ingested))

	// The thumbnail captured for the (healthy) video before the batch
	// failed must have been cleaned up.
	_, statErr := os.Stat(filepath.Join(tempDir, "clip.webp"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func Test_Ingest_CanceledSiblingDoesNotMaskRootCause(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	blockedPath := filepath.Join(tempDir, "blocked.mp3")
	badPath := filepath.Join(tempDir, "corrupt.mp3")

	// The first upload's probe only returns once the batch is canceled, so
	// its (lower-index) cancellation error must not be reported in place of
	// the extraction failure which actually doomed the batch.
	extractor := &fakeExtractor{
		awaitCancel: map[string]bool{blockedPath: true},
		failures:    map[string]error{badPath: probe.ErrExtraction},
		failDelay:   time.Millisecond * 50,
	}
	store := newFakeStore()

	service := file.NewService(extractor, &fakeThumbnailer{}, store, event.New(), 4)

	_, err := service.Ingest(context.Background(), []file.Upload{
		{Path: blockedPath, MimeType: "audio/mpeg"},
		{Path: badPath, MimeType: "audio/mpeg"},
	})
	assert.ErrorIs(t, err, probe.ErrExtraction)
	assert.ErrorContains(t, err, badPath, "the failure must name the file which caused it")
	assert.Empty(t, store.batches)
}

func Test_Ingest_PersistenceFailure_CleansUpThumbnails(t *testing.T) {
	t.Parallel()

	tempDir := t.TempDir()
	videoPath := filepath.Join(tempDir, "clip.mp4")

	extractor := &fakeExtractor{durations: map[string]int{videoPath: 12}}
	thumbnailer := &fakeThumbnailer{}
	store := newFakeStore()
	store.saveErr = fmt.Errorf("insert failed")
	bus := event.New()
	ingested := eventChannel(t, bus, event.FILE_INGESTED)

	service := file.NewService(extractor, thumbnailer, store, bus, 4)

	_, err := service.Ingest(context.Background(), []file.Upload{
		{Path: videoPath, MimeType: "video/mp4"},
	})
	assert.ErrorContains(t, err, "insert failed")
	assert.Empty(t, drainEvents(ingested))

	// The thumbnail captured before persistence failed must not be left
	// behind on disk.
	_, statErr := os.Stat(filepath.Join(tempDir, "clip.webp"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func Test_Ingest_ThumbnailFailure_AbortsWholeBatch(t *testing.T) {
	t.Parallel()

	videoPath := filepath.Join(t.TempDir(), "clip.mp4")

	extractor := &fakeExtractor{durations: map[string]int{videoPath: 12}}
	thumbnailer := &fakeThumbnailer{err: probe.ErrThumbnail}
	store := newFakeStore()

	service := file.NewService(extractor, thumbnailer, store, event.New(), 4)

	_, err := service.Ingest(context.Background(), []file.Upload{
		{Path: videoPath, MimeType: "video/mp4"},
	})
	assert.ErrorIs(t, err, probe.ErrThumbnail)
	assert.Empty(t, store.batches)
}

func Test_Ingest_EmptyBatchIsANoOp(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	service := file.NewService(&fakeExtractor{}, &fakeThumbnailer{}, store, event.New(), 4)

	records, err := service.Ingest(context.Background(), []file.Upload{})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, store.batches)
}

func Test_Remove_SecondRemovalReportsNotFound(t *testing.T) {
	t.Parallel()

	binaryPath := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(binaryPath, []byte("audio-bytes"), 0o644))

	duration := 90
	record := &file.File{ID: uuid.New(), Path: binaryPath, Type: file.Audio, Duration: &duration}
	store := newFakeStore()
	store.records[record.ID] = record

	bus := event.New()
	removed := eventChannel(t, bus, event.FILE_REMOVED)

	service := file.NewService(&fakeExtractor{}, &fakeThumbnailer{}, store, bus, 1)

	require.NoError(t, service.Remove(record.ID))

	_, statErr := os.Stat(binaryPath)
	assert.ErrorIs(t, statErr, os.ErrNotExist, "the backing binary must be deleted")
	assert.Len(t, drainEvents(removed), 1)

	assert.ErrorIs(t, service.Remove(record.ID), file.ErrNotFound,
		"removing an already-removed id must fail exactly like removing an unknown id")
}

func Test_Remove_MissingBinaryDoesNotBlockRecordRemoval(t *testing.T) {
	t.Parallel()

	record := &file.File{ID: uuid.New(), Path: filepath.Join(t.TempDir(), "already-gone.jpg"), Type: file.Photo}
	store := newFakeStore()
	store.records[record.ID] = record

	service := file.NewService(&fakeExtractor{}, &fakeThumbnailer{}, store, event.New(), 1)

	assert.NoError(t, service.Remove(record.ID))
	_, err := store.Get(record.ID)
	assert.ErrorIs(t, err, file.ErrNotFound)
}

func Test_Get_UnknownIdReportsNotFound(t *testing.T) {
	t.Parallel()

	service := file.NewService(&fakeExtractor{}, &fakeThumbnailer{}, newFakeStore(), event.New(), 1)

	_, err := service.Get(uuid.New())
	assert.ErrorIs(t, err, file.ErrNotFound)
}
