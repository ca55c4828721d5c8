package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/matthewwall/weewx-emoncms/internal/archive"
	"github.com/matthewwall/weewx-emoncms/internal/config"
	"github.com/matthewwall/weewx-emoncms/internal/db"
	"github.com/matthewwall/weewx-emoncms/internal/emoncms"
	"github.com/matthewwall/weewx-emoncms/internal/httpapi"
	"github.com/matthewwall/weewx-emoncms/internal/mqtt"
)

// Run wires intake, archive, delivery worker and the HTTP surface, then
// blocks until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, version string) error {
	slog.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"serverURL", cfg.ServerURL,
		"token", emoncms.MaskToken(cfg.Token),
		"node", cfg.Node,
		"prefix", cfg.Prefix,
		"uploadAll", cfg.UploadAll,
		"skipUpload", cfg.SkipUpload,
		"augmentRecord", cfg.AugmentRecord,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopic", cfg.MQTTTopic,
		"sqlitePath", cfg.SQLitePath,
	)

	dbConn, err := db.Open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(dbConn); closeErr != nil {
			slog.Error("db close", "error", closeErr)
		}
	}()

	if err := archive.Migrate(dbConn); err != nil {
		return err
	}

	var ok int
	if err := dbConn.QueryRow(`SELECT 1`).Scan(&ok); err != nil {
		return err
	}
	if ok != 1 {
		return errors.New("database connection failed")
	}
	slog.Info("database connection successful")

	store := archive.NewStore(dbConn)
	backlog := emoncms.NewBacklog(cfg.MaxBacklog)

	var augmenter emoncms.Augmenter
	if cfg.AugmentRecord {
		augmenter = store
	}

	uploader, err := emoncms.NewUploader(emoncms.Config{
		ServerURL:        cfg.ServerURL,
		Token:            cfg.Token,
		Node:             cfg.Node,
		Prefix:           cfg.Prefix,
		AppendUnitsLabel: cfg.AppendUnitsLabel,
		UploadAll:        cfg.UploadAll,
		Inputs:           cfg.Inputs,
		UnitSystem:       cfg.UnitSystem,
		SkipUpload:       cfg.SkipUpload,
		PostInterval:     cfg.PostInterval,
		Stale:            cfg.Stale,
		Timeout:          cfg.Timeout,
		MaxTries:         cfg.MaxTries,
		RetryWait:        cfg.RetryWait,
		LogSuccess:       cfg.LogSuccess,
		LogFailure:       cfg.LogFailure,
		UserAgent:        fmt.Sprintf("weewx-emoncms/%s", version),
	}, backlog, augmenter, slog.Default())
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		uploader.Run(ctx)
	}()

	// Set the record handler before Connect so the OnConnect subscription
	// delivers queued broker messages into the backlog from the start.
	subscriber := mqtt.NewSubscriber(cfg, slog.Default())
	subscriber.SetRecordHandler(func(rec emoncms.Record) {
		if err := store.InsertRecord(ctx, rec); err != nil {
			slog.Warn("archive insert failed", "time", rec.Time(), "error", err)
		}
		backlog.Put(rec)
	})

	// Short timeout for the initial connect so startup is not blocked when
	// the broker is down. On failure the bridge runs without mqtt intake;
	// the HTTP server and /healthz still work.
	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Second)
	err = subscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		slog.Warn("mqtt connection failed (continuing without mqtt)", "error", err)
	}

	mux := httpapi.NewMux(dbConn)
	srv := httpapi.NewServer(cfg, mux)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Info("mqtt disconnecting")
	subscriber.Disconnect()

	slog.Info("waiting for uploader to drain")
	wg.Wait()

	slog.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
