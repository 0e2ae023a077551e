// Package flags holds the CLI flags shared by the keygen and entropyd
// binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/quantropy/keygen/common"
	"github.com/quantropy/keygen/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJSONFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUIDFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var EntropyAddrFlag = &cli.StringFlag{
	Name:  "entropy-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of the quantum entropy service",
}

var TokenFlag = &cli.StringFlag{
	Name:     "token",
	Required: true,
	Usage:    "bearer token for the entropy service",
	EnvVars:  []string{"QUANTROPY_TOKEN"},
}

var DeviceSecretFlag = &cli.StringFlag{
	Name:     "device-secret",
	Required: true,
	Usage:    "hex-encoded device secret encrypting cached random at rest",
	EnvVars:  []string{"QUANTROPY_DEVICE_SECRET"},
}

var LocationFlag = &cli.StringSliceFlag{
	Name:  "location",
	Usage: "storage location as id:path:maxBytes, repeatable",
}

var MaxCachedBytesFlag = &cli.Uint64Flag{
	Name:  "max-cached-bytes",
	Value: 1 << 20,
	Usage: "usable byte level maintenance tops the cache up toward",
}

var MinCachedBytesFlag = &cli.Uint64Flag{
	Name:  "min-cached-bytes",
	Value: 64 * 1024,
	Usage: "usable byte level at which the cache reports ready",
}

var MaintenanceSecondsFlag = &cli.Int64Flag{
	Name:  "maintenance-seconds",
	Value: 30,
	Usage: "seconds between cache top-up attempts",
}

var LogJSONFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUIDFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

var LogFlags = []cli.Flag{
	LogJSONFlag,
	LogDebugFlag,
	LogUIDFlag,
}

var CacheFlags = []cli.Flag{
	EntropyAddrFlag,
	TokenFlag,
	DeviceSecretFlag,
	LocationFlag,
	MaxCachedBytesFlag,
	MinCachedBytesFlag,
	MaintenanceSecondsFlag,
}
