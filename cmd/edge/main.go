// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Command edge runs one camera-attached edge node: it accepts raw OCR
// votes from its local cameras, commits them through a per-camera
// plate tracker (C2), durably queues every committed sighting in an
// outbox (C12), and drains that outbox over a duplex channel to its
// one configured central, falling back to a signed HTTP backfill when
// the channel is down. Bootstrap order mirrors cmd/central: config,
// logging, durable storage, transport, supervisor.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/parkfabric/internal/config"
	"github.com/tomtom215/parkfabric/internal/edgechannel"
	"github.com/tomtom215/parkfabric/internal/edgeingest"
	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/outbox"
	"github.com/tomtom215/parkfabric/internal/supervisor"
	"github.com/tomtom215/parkfabric/internal/supervisor/services"
	"github.com/tomtom215/parkfabric/internal/tracker"
	"github.com/tomtom215/parkfabric/internal/wal"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("edge: fatal startup error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("edge: load config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	edgeID := cfg.Edge.ID
	if edgeID == "" {
		return fmt.Errorf("edge: edge.id must be configured")
	}
	if cfg.Edge.CentralURL == "" {
		return fmt.Errorf("edge: edge.central_url must be configured")
	}

	walCfg := wal.DefaultConfig()
	if cfg.Outbox.WALDir != "" {
		walCfg.Path = cfg.Outbox.WALDir
	}
	store, err := wal.Open(&walCfg)
	if err != nil {
		return fmt.Errorf("edge: open durable outbox store: %w", err)
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("edge: new supervisor tree: %w", err)
	}
	wireCompactor(tree, store)

	// The edge has no gossip manager of its own; an inbound frame from
	// central (e.g. a parking-lot config push) is logged, not acted on.
	onCentralFrame := func(ctx context.Context, _ string, env envelope.Envelope) error {
		logging.Info().Str("type", string(env.Type)).Msg("edge: received frame from central")
		return nil
	}

	channelCfg := edgechannel.ClientConfig{
		Config:           edgechannel.Config{HeartbeatInterval: cfg.Channel.HeartbeatInterval, KeepaliveTimeout: cfg.Channel.KeepaliveTimeout},
		ReconnectBackoff: cfg.Channel.ReconnectBackoff,
	}
	client := edgechannel.NewClient(edgeID, cfg.Edge.CentralURL, channelCfg, onCentralFrame)
	tree.AddMessagingService(services.NewRunnerService("edge-channel-client", client.Run))

	drainer := outbox.New(store, client, outbox.Config{
		BatchSize: cfg.Outbox.BatchSize, DrainInterval: cfg.Outbox.DrainInterval,
		LeaseHolder: edgeID, CentralURL: cfg.Edge.CentralURL, HTTPTimeout: cfg.Outbox.HTTPTimeout,
	})
	tree.AddMessagingService(services.NewRunnerService("outbox-drainer", drainer.Run))

	cams := make([]edgeingest.Camera, 0, len(cfg.Edge.Cameras))
	for _, c := range cfg.Edge.Cameras {
		cams = append(cams, edgeingest.Camera{ID: c.ID, LotID: c.LotID, CameraType: model.CameraType(c.CameraType)})
	}
	handler := edgeingest.NewHandler(edgeID, cams, tracker.DefaultConfig(), drainer)

	httpServer := &http.Server{
		Addr:    cfg.Edge.ListenAddr,
		Handler: edgeingest.NewRouter(handler),
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("edge_id", edgeID).Str("central_url", cfg.Edge.CentralURL).Str("addr", httpServer.Addr).Msg("edge: starting")
	if err := tree.Serve(ctx); err != nil {
		return fmt.Errorf("edge: supervisor tree stopped with error: %w", err)
	}
	return store.Close()
}
