package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nebulafs/nebulafs/internal/auth"
	"github.com/nebulafs/nebulafs/internal/cleanup"
	"github.com/nebulafs/nebulafs/internal/observability"
	"github.com/nebulafs/nebulafs/internal/server"
	"github.com/nebulafs/nebulafs/internal/settings"
	"github.com/nebulafs/nebulafs/internal/storage/blob"
	"github.com/nebulafs/nebulafs/internal/storage/database"
	"github.com/nebulafs/nebulafs/internal/storage/metadata"
	"github.com/nebulafs/nebulafs/internal/storage/multipart"
	"github.com/prometheus/client_golang/prometheus"
)

const subcommandServe = "serve"
const subcommandSweep = "sweep"

func logLevelFromSettings(logLevel string) slog.Level {
	switch logLevel {
	case "trace":
		return slog.LevelDebug - 4
	case "debug":
		return slog.LevelDebug
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s %s|%s [options]\n", os.Args[0], subcommandServe, subcommandSweep)
		os.Exit(1)
	}

	loadedSettings, err := settings.LoadSettings(os.Args[2:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while loading settings: %s\n", err)
		os.Exit(1)
	}

	var programLevel = new(slog.LevelVar)
	programLevel.Set(logLevelFromSettings(loadedSettings.LogLevel()))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: programLevel,
	}))
	slog.SetDefault(logger)

	ctx := context.Background()
	subcommand := os.Args[1]
	switch subcommand {
	case subcommandServe:
		serve(ctx, loadedSettings)
	case subcommandSweep:
		sweep(ctx, loadedSettings)
	default:
		slog.Error(fmt.Sprintf("Invalid subcommand: %s. Expected one of '%s', '%s'.", subcommand, subcommandServe, subcommandSweep))
		os.Exit(1)
	}
}

type stores struct {
	db            database.Database
	metadataStore metadata.Store
	blobStore     *blob.LocalStore
	coordinator   *multipart.Coordinator
	sweeper       *cleanup.Sweeper
}

func openStores(loadedSettings *settings.Settings) (*stores, error) {
	db, err := database.OpenDatabase(loadedSettings.SqlitePath())
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}
	metadataStore, err := metadata.NewSqliteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	blobStore, err := blob.NewLocalStore(loadedSettings.BasePath(), loadedSettings.TempPath())
	if err != nil {
		db.Close()
		return nil, err
	}
	coordinator, err := multipart.NewCoordinator(
		metadataStore,
		blobStore,
		time.Duration(loadedSettings.MultipartMaxUploadTtlSeconds())*time.Second,
		loadedSettings.MultipartMaxParts())
	if err != nil {
		db.Close()
		return nil, err
	}
	sweeper, err := cleanup.NewSweeper(
		metadataStore,
		blobStore,
		time.Duration(loadedSettings.CleanupSweepIntervalSeconds())*time.Second,
		time.Duration(loadedSettings.CleanupGracePeriodSeconds())*time.Second,
		loadedSettings.CleanupMaxUploadsPerSweep())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &stores{
		db:            db,
		metadataStore: metadataStore,
		blobStore:     blobStore,
		coordinator:   coordinator,
		sweeper:       sweeper,
	}, nil
}

func serve(ctx context.Context, loadedSettings *settings.Settings) {
	runtime.GOMAXPROCS(loadedSettings.Threads())

	openedStores, err := openStores(loadedSettings)
	if err != nil {
		slog.Error(fmt.Sprint("Couldn't open stores: ", err))
		os.Exit(1)
	}
	defer func() {
		err := openedStores.db.Close()
		if err != nil {
			slog.Error(fmt.Sprint("Couldn't close database: ", err))
		}
	}()

	verifier := auth.NewVerifier(auth.Config{
		Enabled:    loadedSettings.AuthEnabled(),
		Issuer:     loadedSettings.AuthIssuer(),
		Audience:   loadedSettings.AuthAudience(),
		JwksUrl:    loadedSettings.AuthJwksUrl(),
		CacheTtl:   time.Duration(loadedSettings.AuthCacheTtlSeconds()) * time.Second,
		ClockSkew:  time.Duration(loadedSettings.AuthClockSkewSeconds()) * time.Second,
		AllowedAlg: loadedSettings.AuthAllowedAlg(),
	})

	metrics, err := observability.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		slog.Error(fmt.Sprint("Couldn't register metrics: ", err))
		os.Exit(1)
	}

	if loadedSettings.CleanupEnabled() {
		sweeperHandle := openedStores.sweeper.Start()
		defer func() {
			sweeperHandle.Cancel()
			sweeperHandle.Join()
		}()
	}

	handler := server.SetupServer(server.Config{
		AuthEnabled:       loadedSettings.AuthEnabled(),
		AuthMetricsPublic: loadedSettings.AuthMetricsPublic(),
		MaxBodyBytes:      loadedSettings.MaxBodyBytes(),
		MaxPartBytes:      loadedSettings.MultipartMaxPartBytes(),
	}, openedStores.db, openedStores.metadataStore, openedStores.blobStore, openedStores.coordinator, verifier, metrics)

	addr := fmt.Sprintf("%v:%v", loadedSettings.Host(), loadedSettings.Port())
	httpServer := &http.Server{
		BaseContext: func(net.Listener) context.Context { return ctx },
		Addr:        addr,
		Handler:     handler,
	}

	if loadedSettings.TlsEnabled() {
		slog.Info(fmt.Sprintf("Listening with object api on https://%v", addr))
		err = httpServer.ListenAndServeTLS(loadedSettings.TlsCertificate(), loadedSettings.TlsPrivateKey())
	} else {
		slog.Info(fmt.Sprintf("Listening with object api on http://%v", addr))
		err = httpServer.ListenAndServe()
	}
	if err != nil {
		slog.Error(fmt.Sprintf("Error while starting http server: %s", err))
		os.Exit(1)
	}
}

// sweep runs a single cleanup pass against the configured stores and exits.
func sweep(ctx context.Context, loadedSettings *settings.Settings) {
	openedStores, err := openStores(loadedSettings)
	if err != nil {
		slog.Error(fmt.Sprint("Couldn't open stores: ", err))
		os.Exit(1)
	}
	defer func() {
		err := openedStores.db.Close()
		if err != nil {
			slog.Error(fmt.Sprint("Couldn't close database: ", err))
		}
	}()

	reaped, err := openedStores.sweeper.RunOnce(ctx)
	if err != nil {
		slog.Error(fmt.Sprint("Cleanup sweep failed: ", err))
		os.Exit(1)
	}
	slog.Info(fmt.Sprintf("Cleanup sweep reaped %d multipart uploads", reaped))
}
