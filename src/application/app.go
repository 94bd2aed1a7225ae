package application

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/musicviz/stem-split-be/src/internal/download"
	"github.com/musicviz/stem-split-be/src/internal/download/soundcloud"
	jobgateway "github.com/musicviz/stem-split-be/src/internal/job/gateway"
	"github.com/musicviz/stem-split-be/src/internal/job/registry"
	jobusecase "github.com/musicviz/stem-split-be/src/internal/job/usecase"
	"github.com/musicviz/stem-split-be/src/internal/pipeline"
	"github.com/musicviz/stem-split-be/src/internal/process"
	"github.com/musicviz/stem-split-be/src/internal/process/executor"
	"github.com/musicviz/stem-split-be/src/lib/working_dir"
)

type HTTPMethod string

const (
	GET    HTTPMethod = "GET"
	POST   HTTPMethod = "POST"
	DELETE HTTPMethod = "DELETE"
)

type Config struct {
	WorkingDirPath         string
	DemucsBinPath          string
	DemucsModel            string
	SoundCloudClientID     string
	SoundCloudClientSecret string
	CORSAllowedOrigins     []string
	Port                   string
	WorkerCount            int
	QueueDepth             int
	ReapTTL                time.Duration
	ReapInterval           time.Duration
	Log                    bool
}

type App struct {
	echo       *echo.Echo
	port       string
	runner     *pipeline.Runner
	stopReaper context.CancelFunc
}

func NewApp(config Config) App {
	e := echo.New()

	if config.Log {
		e.Use(middleware.Logger())
	}

	corsMiddleware := makeCorsMiddleware(config)

	handleRoute := func(method HTTPMethod, path string, handlerFunc echo.HandlerFunc) {
		params := func() (string, echo.HandlerFunc, echo.MiddlewareFunc) {
			return path, handlerFunc, corsMiddleware
		}

		e.OPTIONS(params())

		switch method {
		case GET:
			e.GET(params())
		case POST:
			e.POST(params())
		case DELETE:
			e.DELETE(params())
		default:
			panic("unhandled http method!")
		}
	}

	workingDir, err := working_dir.NewWorkingDir(config.WorkingDirPath)
	if err != nil {
		panic(err)
	}

	jobRegistry := registry.NewRegistry()

	reaperCtx, stopReaper := context.WithCancel(context.Background())
	jobRegistry.StartReaper(reaperCtx, config.ReapInterval, config.ReapTTL)

	separator := process.NewSeparator(
		config.DemucsBinPath,
		config.DemucsModel,
		workingDir,
		executor.BinaryFileExecutor{},
	)

	runner := pipeline.NewRunner(jobRegistry, separator, config.WorkerCount, config.QueueDepth)

	tokenCache := soundcloud.NewTokenCache(
		config.SoundCloudClientID,
		config.SoundCloudClientSecret,
		soundcloud.DefaultTokenURL,
	)
	soundcloudClient := soundcloud.NewClient(tokenCache, soundcloud.DefaultAPIHost)

	usecase := jobusecase.NewUsecase(
		jobRegistry,
		runner,
		download.NewGenericDLer(),
		soundcloudClient,
		workingDir,
	)
	gateway := jobgateway.NewGateway(usecase)

	// health check
	handleRoute(GET, "/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
	})

	// index payload for humans poking at the API
	handleRoute(GET, "/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": "Stem Split API",
			"endpoints": map[string]string{
				"separate":     "POST /api/separate",
				"separate_url": "POST /api/separate-url",
				"status":       "GET /api/status/{job_id}",
				"stems":        "GET /stems/{job_id}/{stem}.wav",
			},
		})
	})

	// separation routes
	handleRoute(POST, "/api/separate", gateway.Separate)
	handleRoute(POST, "/api/separate-url", gateway.SeparateURL)
	handleRoute(GET, "/api/status/:id", func(c echo.Context) error {
		jobID := c.Param("id")
		return gateway.Status(c, jobID)
	})
	handleRoute(DELETE, "/api/job/:id", func(c echo.Context) error {
		jobID := c.Param("id")
		return gateway.Cancel(c, jobID)
	})

	// completed stems are served straight off disk
	e.Static("/stems", workingDir.OutputDir())

	return App{
		echo:       e,
		port:       config.Port,
		runner:     runner,
		stopReaper: stopReaper,
	}
}

func (a *App) Start() error {
	err := a.echo.Start(a.port)
	if err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "Couldn't start echo server")
	}

	return nil
}

func (a *App) Stop() error {
	a.stopReaper()

	if err := a.echo.Close(); err != nil {
		return errors.Wrap(err, "Failed to stop echo server")
	}

	if err := a.runner.Stop(); err != nil {
		return errors.Wrap(err, "Failed to stop the pipeline runner")
	}

	return nil
}

func makeCorsMiddleware(config Config) echo.MiddlewareFunc {
	return middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: config.CORSAllowedOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	})
}
