package file

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/internal/event"
	"github.com/medleyhq/medley/internal/fsutil"
	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("FileServ")

type (
	// Upload is a single already-saved binary awaiting ingestion, identified
	// by its on-disk path and the MIME type the client declared for it.
	Upload struct {
		Path     string
		MimeType string
	}

	durationExtractor interface {
		Duration(ctx context.Context, path string) (int, error)
	}

	thumbnailer interface {
		CaptureFirstFrame(ctx context.Context, videoPath string, outputImagePath string) (string, error)
	}

	dataStore interface {
		SaveAll([]*File) error
		Get(uuid.UUID) (*File, error)
		Delete(uuid.UUID) error
	}

	// Service orchestrates the ingestion pipeline: classification, duration
	// extraction, thumbnail capture and the all-or-nothing persistence of
	// each upload batch, plus record retrieval and removal.
	Service struct {
		extractor   durationExtractor
		thumbnailer thumbnailer
		store       dataStore
		eventBus    event.EventDispatcher
		parallelism int
	}
)

func NewService(extractor durationExtractor, thumbnailer thumbnailer, store dataStore, eventBus event.EventDispatcher, parallelism int) *Service {
	if parallelism <= 0 {
		parallelism = 1
	}

	return &Service{
		extractor:   extractor,
		thumbnailer: thumbnailer,
		store:       store,
		eventBus:    eventBus,
		parallelism: parallelism,
	}
}

// Ingest classifies each upload, derives the metadata its type demands
// (duration for video/audio, additionally a first-frame thumbnail for video)
// and persists the resulting records as one atomic batch. Derivation runs
// concurrently across the uploads, bounded by the services parallelism; the
// first failure cancels the remaining work, removes any thumbnails already
// captured for the batch, and fails the whole call with nothing persisted.
//
// Captured thumbnails are written beside their source video but are NOT
// persisted as records themselves; attaching a thumbnail to an owning entity
// is an explicit caller decision.
func (service *Service) Ingest(ctx context.Context, uploads []Upload) ([]*File, error) {
	if len(uploads) == 0 {
		return []*File{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	files := make([]*File, len(uploads))
	errs := make([]error, len(uploads))

	var thumbnailsMu sync.Mutex
	thumbnails := make([]string, 0)

	semaphore := make(chan struct{}, service.parallelism)
	var wg sync.WaitGroup
	for i := range uploads {
		wg.Add(1)
		go func(index int, upload Upload) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if err := ctx.Err(); err != nil {
				errs[index] = err
				return
			}

			record, thumbnail, err := service.buildRecord(ctx, upload)
			if err != nil {
				errs[index] = err
				cancel()
				return
			}

			if thumbnail != "" {
				thumbnailsMu.Lock()
				thumbnails = append(thumbnails, thumbnail)
				thumbnailsMu.Unlock()
			}

			files[index] = record
		}(i, uploads[i])
	}
	wg.Wait()

	if err := firstError(errs); err != nil {
		deleteAll(thumbnails)

		log.Errorf("Abandoning ingestion batch of %d upload(s): %v\n", len(uploads), err)
		return nil, err
	}

	if err := service.store.SaveAll(files); err != nil {
		deleteAll(thumbnails)

		return nil, fmt.Errorf("failed to persist ingestion batch: %w", err)
	}

	for _, f := range files {
		service.eventBus.Dispatch(event.FILE_INGESTED, f.ID)
	}

	log.Emit(logger.NEW, "Ingested batch of %d file(s)\n", len(files))
	return files, nil
}

// Get fetches the record with the given id, returning ErrNotFound
// if it does not exist.
func (service *Service) Get(id uuid.UUID) (*File, error) {
	return service.store.Get(id)
}

// Remove deletes the backing binary of the record with the given id on a
// best-effort basis, and then deletes the record itself. The record is only
// removed after the binary deletion attempt so that a failed cleanup can be
// retried against a record which still exists. Removing an id that was
// already removed fails with ErrNotFound, exactly as removing an id that
// never existed.
func (service *Service) Remove(id uuid.UUID) error {
	record, err := service.store.Get(id)
	if err != nil {
		return err
	}

	fsutil.DeleteSilently(record.Path)

	if err := service.store.Delete(id); err != nil {
		return err
	}

	service.eventBus.Dispatch(event.FILE_REMOVED, record.ID)

	log.Emit(logger.REMOVE, "Removed file %s ('%s')\n", record.ID, record.Path)
	return nil
}

// buildRecord derives the stored record for a single upload, returning the
// path of the captured thumbnail (when the upload is a video) alongside it.
func (service *Service) buildRecord(ctx context.Context, upload Upload) (*File, string, error) {
	record := &File{Path: upload.Path, Type: FileTypeFromMime(upload.MimeType)}
	if record.Type == Photo {
		return record, "", nil
	}

	duration, err := service.extractor.Duration(ctx, upload.Path)
	if err != nil {
		return nil, "", fmt.Errorf("ingestion of '%s' failed during duration extraction: %w", upload.Path, err)
	}
	record.Duration = &duration

	if record.Type != Video {
		return record, "", nil
	}

	thumbnail, err := service.thumbnailer.CaptureFirstFrame(ctx, upload.Path, fsutil.ThumbnailPath(upload.Path))
	if err != nil {
		return nil, "", fmt.Errorf("ingestion of '%s' failed during thumbnail capture: %w", upload.Path, err)
	}

	return record, thumbnail, nil
}

// deleteAll removes the derived assets of an abandoned batch best-effort.
func deleteAll(paths []string) {
	for _, path := range paths {
		fsutil.DeleteSilently(path)
	}
}

// firstError returns the earliest real failure in the batch, skipping the
// cancellations that failure triggered in the other workers.
func firstError(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}

		if !errors.Is(err, context.Canceled) {
			return err
		}

		if fallback == nil {
			fallback = err
		}
	}

	return fallback
}
