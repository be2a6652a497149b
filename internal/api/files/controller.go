package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/medleyhq/medley/internal/file"
	"github.com/medleyhq/medley/internal/fsutil"
	"github.com/medleyhq/medley/internal/probe"
	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("FilesController")

type (
	// UploadConfig describes the upload boundary: where accepted binaries
	// are stored, and which filename extensions are let through. The default
	// allow-list deliberately contains the empty extension - extensionless
	// uploads have always been accepted, and tightening that is a config
	// decision rather than a code one.
	UploadConfig struct {
		UploadPath        string   `yaml:"upload_path" env:"UPLOAD_PATH" env-required:"true" validate:"required"`
		AllowedExtensions []string `yaml:"allowed_extensions" env:"UPLOAD_ALLOWED_EXTENSIONS" env-default:"jpg,jpeg,png,gif,webp,mp4,mp3,wav,avif,svg,webm,"`
	}

	// FileDto is the record shape exposed to API callers.
	FileDto struct {
		ID       uuid.UUID     `json:"id"`
		Path     string        `json:"path"`
		FileType file.FileType `json:"file_type"`
		Duration *int          `json:"duration,omitempty"`
	}

	Service interface {
		Ingest(ctx context.Context, uploads []file.Upload) ([]*file.File, error)
		Get(id uuid.UUID) (*file.File, error)
		Remove(id uuid.UUID) error
	}

	// Controller defines the routes of the files API and performs the upload
	// boundary validation which gates the ingestion pipeline. Extension
	// rejections happen here, before any binary is saved; they surface as
	// client-input errors rather than pipeline errors.
	Controller struct {
		service Service
		config  UploadConfig
	}
)

func NewDto(f *file.File) *FileDto {
	return &FileDto{ID: f.ID, Path: f.Path, FileType: f.Type, Duration: f.Duration}
}

func New(config UploadConfig, service Service) *Controller {
	return &Controller{service: service, config: config}
}

// SetRoutes accepts the Echo group for the files endpoints
// and sets the routes on them.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.upload)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.delete)
}

// upload accepts a multipart batch of media binaries, validates each part
// against the extension allow-list, saves the accepted parts under the upload
// root and hands the batch to the ingestion service. Ingestion is
// all-or-nothing; if it fails, the saved binaries are removed best-effort and
// the reported error names the file and stage which failed.
func (controller *Controller) upload(ec echo.Context) error {
	form, err := ec.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request is not a valid multipart form")
	}

	parts := form.File["files"]
	if len(parts) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided")
	}

	for _, part := range parts {
		if !controller.extensionAllowed(part.Filename) {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(
				"invalid file type '%s'. Allowed types are: %s",
				part.Filename, strings.Join(controller.config.AllowedExtensions, ",")))
		}
	}

	if err := fsutil.EnsureDirectory(controller.config.UploadPath); err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	uploads := make([]file.Upload, len(parts))
	for k, part := range parts {
		path, err := controller.saveUpload(part)
		if err != nil {
			for _, saved := range uploads[:k] {
				fsutil.DeleteSilently(saved.Path)
			}

			return fmt.Errorf("failed to save upload '%s': %w", part.Filename, err)
		}

		uploads[k] = file.Upload{Path: path, MimeType: part.Header.Get("Content-Type")}
	}

	records, err := controller.service.Ingest(ec.Request().Context(), uploads)
	if err != nil {
		for _, saved := range uploads {
			fsutil.DeleteSilently(saved.Path)
		}

		if errors.Is(err, probe.ErrExtraction) || errors.Is(err, probe.ErrThumbnail) || errors.Is(err, probe.ErrTimeout) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}

		return err
	}

	dtos := make([]*FileDto, len(records))
	for k, record := range records {
		dtos[k] = NewDto(record)
	}

	return ec.JSON(http.StatusCreated, dtos)
}

// get uses the 'id' path param from the context and retrieves the file record
// from the underlying service. If found, a DTO representing it is returned.
func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "File ID is not a valid UUID")
	}

	record, err := controller.service.Get(id)
	if err != nil {
		if errors.Is(err, file.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return err
	}

	return ec.JSON(http.StatusOK, NewDto(record))
}

// delete removes the record (and, best-effort, its binary) for the 'id' path
// param. Removal of an unknown - or already removed - id yields a 404.
func (controller *Controller) delete(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "File ID is not a valid UUID")
	}

	if err := controller.service.Remove(id); err != nil {
		if errors.Is(err, file.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound)
		}

		return err
	}

	return ec.NoContent(http.StatusNoContent)
}

// extensionAllowed reports whether the filename's extension appears in the
// configured allow-list. The comparison is case-insensitive and the leading
// dot is ignored; a filename without any extension matches the empty entry.
func (controller *Controller) extensionAllowed(filename string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, allowed := range controller.config.AllowedExtensions {
		if ext == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}

	return false
}

// saveUpload streams the multipart part to the upload root under a
// '<unix-millis>-<4 hex chars><ext>' name, keeping the original extension.
func (controller *Controller) saveUpload(part *multipart.FileHeader) (string, error) {
	source, err := part.Open()
	if err != nil {
		return "", err
	}
	defer source.Close()

	name := fmt.Sprintf("%d-%04x%s", time.Now().UnixMilli(), rand.Intn(0x10000), filepath.Ext(part.Filename))
	path := filepath.Join(controller.config.UploadPath, name)

	destination, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		fsutil.DeleteSilently(path)
		return "", err
	}

	log.Debugf("Saved upload '%s' to '%s'\n", part.Filename, path)
	return path, nil
}
