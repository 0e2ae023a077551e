// The keygen command exercises the SDK from the command line: it inspects and
// maintains the local random cache and generates symmetric keys, asymmetric
// key pairs, and BLAST-agreed shared keys.
package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quantropy/keygen/blast"
	"github.com/quantropy/keygen/cmd/flags"
	"github.com/quantropy/keygen/interfaces"
	"github.com/quantropy/keygen/qrand"
)

var waitSecondsFlag = &cli.Int64Flag{
	Name:  "wait-seconds",
	Value: 60,
	Usage: "how long to wait for the cache to hold enough random",
}

var modeFlag = &cli.StringFlag{
	Name:  "mode",
	Value: "aes-256",
	Usage: "key mode: aes-256 or otp for symmetric, ecdh, frodo or kyber for asymmetric",
}

var keySizeFlag = &cli.Uint64Flag{
	Name:  "key-size",
	Usage: "pad length in bytes, required in otp mode",
}

func main() {
	app := &cli.App{
		Name:  "keygen",
		Usage: "Generate keys from cached quantum random",
		Flags: append(append([]cli.Flag{flags.LogServiceFlagFn("keygen")}, flags.LogFlags...), flags.CacheFlags...),
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Validate the cache and print its status",
				Action: runStatus,
			},
			{
				Name:   "gen-symmetric",
				Usage:  "Generate a symmetric key from cached random",
				Flags:  []cli.Flag{modeFlag, keySizeFlag, waitSecondsFlag},
				Action: runGenSymmetric,
			},
			{
				Name:   "gen-asymmetric",
				Usage:  "Generate an asymmetric key pair from cached random",
				Flags:  []cli.Flag{modeFlag, waitSecondsFlag},
				Action: runGenAsymmetric,
			},
			{
				Name:  "rotate-secret",
				Usage: "Re-encrypt the cache under a new device secret",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "new-device-secret",
						Required: true,
						Usage:    "hex-encoded replacement device secret",
					},
				},
				Action: runRotateSecret,
			},
			{
				Name:   "wipe",
				Usage:  "Securely erase all cached random",
				Action: runWipe,
			},
			{
				Name:   "agreement-init",
				Usage:  "Start a BLAST agreement round and print the key and metadata",
				Flags:  []cli.Flag{modeFlag, keySizeFlag},
				Action: runAgreementInit,
			},
			{
				Name:  "agreement-sync",
				Usage: "Derive the shared key from an agreement metadata token",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "metadata",
						Required: true,
						Usage:    "base64-encoded metadata token from the initiator",
					},
				},
				Action: runAgreementSync,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func cacheConfig(cCtx *cli.Context) (interfaces.CacheConfig, error) {
	secret, err := hex.DecodeString(cCtx.String(flags.DeviceSecretFlag.Name))
	if err != nil {
		return interfaces.CacheConfig{}, fmt.Errorf("invalid device secret: %w", err)
	}

	locArgs := cCtx.StringSlice(flags.LocationFlag.Name)
	if len(locArgs) == 0 {
		return interfaces.CacheConfig{}, errors.New("at least one --location is required")
	}

	locations := make([]interfaces.LocationConfig, 0, len(locArgs))
	for _, arg := range locArgs {
		parts := strings.SplitN(arg, ":", 3)
		if len(parts) != 3 {
			return interfaces.CacheConfig{}, fmt.Errorf("invalid location %q, expected id:path:maxBytes", arg)
		}
		size, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return interfaces.CacheConfig{}, fmt.Errorf("invalid location size in %q: %w", arg, err)
		}
		locations = append(locations, interfaces.LocationConfig{
			ID:            parts[0],
			Path:          parts[1],
			AvailableSize: size,
		})
	}

	return interfaces.CacheConfig{
		DeviceSecret:        secret,
		Locations:           locations,
		MaxNumCachedBytes:   cCtx.Uint64(flags.MaxCachedBytesFlag.Name),
		MinNumCachedBytes:   cCtx.Uint64(flags.MinCachedBytesFlag.Name),
		MaintenanceInterval: time.Duration(cCtx.Int64(flags.MaintenanceSecondsFlag.Name)) * time.Second,
	}, nil
}

func openLocalClient(cCtx *cli.Context, logger *slog.Logger) (*blast.LocalClient, error) {
	cfg, err := cacheConfig(cCtx)
	if err != nil {
		return nil, err
	}

	source := &qrand.Client{ServerAddr: cCtx.String(flags.EntropyAddrFlag.Name)}
	client := blast.NewLocalClient(source, logger)
	if err := client.InitializeAsync(cCtx.String(flags.TokenFlag.Name), cfg); err != nil {
		return nil, err
	}
	return client, nil
}

// withRetry retries f while the cache reports insufficient random, leaving
// time for maintenance to refill between attempts.
func withRetry(logger *slog.Logger, waitSeconds int64, f func() error) error {
	deadline := time.Now().Add(time.Duration(waitSeconds) * time.Second)
	for {
		err := f()
		var insufficient *interfaces.InsufficientRandomError
		if err == nil || !errors.As(err, &insufficient) {
			return err
		}
		if time.Now().After(deadline) {
			return err
		}
		logger.Info("Waiting for cache to fill",
			slog.Uint64("requested", insufficient.Requested),
			slog.Uint64("available", insufficient.Available))
		time.Sleep(time.Second)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	client, err := openLocalClient(cCtx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.CheckCacheStatus()
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"state":                   status.State.String(),
		"remaining_capacity":      status.RemainingCapacity,
		"total_downloaded_random": status.TotalDownloadedRandom,
	})
}

func runGenSymmetric(cCtx *cli.Context) error {
	mode, err := interfaces.ParseSymmetricKeyMode(cCtx.String(modeFlag.Name))
	if err != nil {
		return err
	}

	logger := flags.SetupLogger(cCtx)
	client, err := openLocalClient(cCtx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var key []byte
	err = withRetry(logger, cCtx.Int64(waitSecondsFlag.Name), func() error {
		key, err = client.GenSymmetricKey(mode, cCtx.Uint64(keySizeFlag.Name))
		return err
	})
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(key))
	return nil
}

func runGenAsymmetric(cCtx *cli.Context) error {
	mode, err := interfaces.ParseAsymmetricKeyMode(cCtx.String(modeFlag.Name))
	if err != nil {
		return err
	}

	logger := flags.SetupLogger(cCtx)
	client, err := openLocalClient(cCtx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	var pair interfaces.AsymmetricKeyPair
	err = withRetry(logger, cCtx.Int64(waitSecondsFlag.Name), func() error {
		pair, err = client.GenAsymmetricKeys(mode)
		return err
	})
	if err != nil {
		return err
	}

	return printJSON(map[string]string{
		"mode":        mode.String(),
		"private_key": hex.EncodeToString(pair.PrivateKey),
		"public_key":  hex.EncodeToString(pair.PublicKey),
	})
}

func runRotateSecret(cCtx *cli.Context) error {
	newSecret, err := hex.DecodeString(cCtx.String("new-device-secret"))
	if err != nil {
		return fmt.Errorf("invalid new device secret: %w", err)
	}
	oldSecret, err := hex.DecodeString(cCtx.String(flags.DeviceSecretFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid device secret: %w", err)
	}

	logger := flags.SetupLogger(cCtx)
	client, err := openLocalClient(cCtx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.UpdateDeviceSecret(oldSecret, newSecret); err != nil {
		return err
	}
	logger.Info("Device secret rotated")
	return nil
}

func runWipe(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	client, err := openLocalClient(cCtx, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Wipe(); err != nil {
		return err
	}
	logger.Info("Cache wiped")
	return nil
}

func runAgreementInit(cCtx *cli.Context) error {
	mode, err := interfaces.ParseSymmetricKeyMode(cCtx.String(modeFlag.Name))
	if err != nil {
		return err
	}

	logger := flags.SetupLogger(cCtx)
	svc := &qrand.Client{ServerAddr: cCtx.String(flags.EntropyAddrFlag.Name)}
	client := blast.NewDistributedClient(svc, logger)
	client.Initialize(cCtx.String(flags.TokenFlag.Name))

	keyData, err := client.GenInit(context.Background(), mode, cCtx.Uint64(keySizeFlag.Name))
	if err != nil {
		return err
	}

	return printJSON(map[string]string{
		"key":      hex.EncodeToString(keyData.Key),
		"metadata": base64.StdEncoding.EncodeToString(keyData.Metadata),
	})
}

func runAgreementSync(cCtx *cli.Context) error {
	metadata, err := base64.StdEncoding.DecodeString(cCtx.String("metadata"))
	if err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}

	logger := flags.SetupLogger(cCtx)
	svc := &qrand.Client{ServerAddr: cCtx.String(flags.EntropyAddrFlag.Name)}
	client := blast.NewDistributedClient(svc, logger)
	client.Initialize(cCtx.String(flags.TokenFlag.Name))

	key, err := client.GenSync(context.Background(), metadata)
	if err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(key))
	return nil
}
