package main

import (
	"os"
	"strings"
	"time"

	"github.com/musicviz/stem-split-be/src/application"
	"github.com/musicviz/stem-split-be/src/lib/env"
	"github.com/musicviz/stem-split-be/src/lib/envvar"
)

func main() {
	var appConfig application.Config

	switch env.Get() {
	case env.Production:
		commaSeparatedOrigins := envvar.MustGet(envvar.ALLOWED_FE_ORIGINS)
		allowedOrigins := strings.Split(commaSeparatedOrigins, ",")

		appConfig = application.Config{
			WorkingDirPath:         envvar.MustGet(envvar.WORKING_DIR_PATH),
			DemucsBinPath:          envvar.MustGet(envvar.DEMUCS_BIN_PATH),
			SoundCloudClientID:     os.Getenv(envvar.SOUNDCLOUD_CLIENT_ID),
			SoundCloudClientSecret: os.Getenv(envvar.SOUNDCLOUD_CLIENT_SECRET),
			CORSAllowedOrigins:     allowedOrigins,
			Port:                   ":5000",
			WorkerCount:            2,
			QueueDepth:             16,
			ReapTTL:                6 * time.Hour,
			ReapInterval:           15 * time.Minute,
			Log:                    true,
		}

	case env.Development:
		appConfig = application.Config{
			WorkingDirPath:         envvar.GetOrDefault(envvar.WORKING_DIR_PATH, "./wd"),
			DemucsBinPath:          envvar.GetOrDefault(envvar.DEMUCS_BIN_PATH, "demucs"),
			SoundCloudClientID:     os.Getenv(envvar.SOUNDCLOUD_CLIENT_ID),
			SoundCloudClientSecret: os.Getenv(envvar.SOUNDCLOUD_CLIENT_SECRET),
			CORSAllowedOrigins:     []string{"http://localhost:5173", "http://127.0.0.1:5173"},
			Port:                   ":5000",
			WorkerCount:            2,
			QueueDepth:             16,
			ReapTTL:                time.Hour,
			ReapInterval:           5 * time.Minute,
			Log:                    true,
		}

	default:
		panic("Unexpected environment")
	}

	app := application.NewApp(appConfig)
	if err := app.Start(); err != nil {
		panic(err)
	}
}
