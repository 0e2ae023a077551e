// The entropyd command runs the quantum entropy service simulator. It serves
// the entropy download and BLAST agreement endpoints the SDK clients talk to,
// backed by the operating system CSPRNG.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/quantropy/keygen/cmd/flags"
	"github.com/quantropy/keygen/httpserver"
	"github.com/quantropy/keygen/simulator"
)

var cliFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	flags.TokenFlag,
	flags.PprofFlag,
	flags.DrainSecondsFlag,
	flags.LogServiceFlagFn("entropyd"),
}, flags.LogFlags...)

func main() {
	app := &cli.App{
		Name:  "entropyd",
		Usage: "Serve a simulated quantum entropy and BLAST agreement API",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")
			token := cCtx.String(flags.TokenFlag.Name)

			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)

			svc := simulator.NewService(logger)
			handler := simulator.NewHandler(svc, token, logger)

			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
