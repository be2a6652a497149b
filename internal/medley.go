package internal

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/medleyhq/medley/internal/api"
	"github.com/medleyhq/medley/internal/api/files"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/event"
	"github.com/medleyhq/medley/internal/file"
	"github.com/medleyhq/medley/internal/fsutil"
	"github.com/medleyhq/medley/internal/probe"
	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("Core")

// Medley represents the top-level object for the server, and is responsible
// for initialising the database, stores, services and the REST gateway, and
// for coordinating their lifecycles.
type medleyImpl struct {
	eventBus event.EventCoordinator
	config   MedleyConfig
	db       database.Manager
}

func New(config MedleyConfig) *medleyImpl {
	return &medleyImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
	}
}

// Run is the main entry point of the server. It connects to the database,
// wires the ingestion pipeline together and serves the REST gateway until
// the provided context is cancelled.
func (medley *medleyImpl) Run(ctx context.Context) error {
	log.Infof("Initialising Medley services...\n")

	if err := fsutil.EnsureDirectory(medley.config.Upload.UploadPath); err != nil {
		return fmt.Errorf("failed to initialise upload root: %w", err)
	}

	if err := medley.db.Connect(medley.config.Database); err != nil {
		return fmt.Errorf("failed to initialise database: %w", err)
	}

	prober := probe.New(medley.config.Probe)
	store := file.NewDatabaseStore(medley.db)
	fileService := file.NewService(prober, prober, store, medley.eventBus, medley.config.Concurrent.ProbeParallelism)

	medley.registerActivityHandlers()

	gateway := api.NewRestGateway(&medley.config.Api, files.New(medley.config.Upload, fileService))
	return gateway.Run(ctx)
}

// registerActivityHandlers subscribes the activity log to the lifecycle
// events the file service emits. Future notification surfaces subscribe at
// this same seam.
func (medley *medleyImpl) registerActivityHandlers() {
	medley.eventBus.RegisterHandlerFunction(event.FILE_INGESTED, func(ev event.Event, payload event.Payload) {
		if id, ok := payload.(uuid.UUID); ok {
			log.Verbosef("Activity: file %s ingested\n", id)
		}
	})
	medley.eventBus.RegisterHandlerFunction(event.FILE_REMOVED, func(ev event.Event, payload event.Payload) {
		if id, ok := payload.(uuid.UUID); ok {
			log.Verbosef("Activity: file %s removed\n", id)
		}
	})
}
