package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/medleyhq/medley/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router. Its sole
	// responsibility is to create the routes Medley exposes and manage the
	// server's lifecycle against the provided context.
	RestGateway struct {
		config          *RestConfig
		ec              *echo.Echo
		filesController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with all the
// routes defined by the various controllers.
func NewRestGateway(config *RestConfig, filesController controller) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:          config,
		ec:              ec,
		filesController: filesController,
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	files := ec.Group("/api/medley/v1/files")
	gateway.filesController.SetRoutes(files)

	return gateway
}

// Run starts the HTTP server and blocks until the given context is cancelled,
// at which point the server is drained and shut down.
func (gateway *RestGateway) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()

		if err := gateway.ec.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Failed to gracefully shutdown REST gateway: %v\n", err)
		}
	}()

	log.Infof("Starting REST gateway on %s\n", gateway.config.HostAddr)
	if err := gateway.ec.Start(gateway.config.HostAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
