// Parkfabric - Distributed Parking Management Fabric
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/parkfabric

// Command central runs one node of the parking fabric's mesh: it owns
// the persistent history store, accepts edge reports over REST and the
// edge duplex channel, gossips mutations to every configured peer over
// a full-mesh duplex channel, and serves the frontend's REST and
// WebSocket surface. Bootstrap order mirrors the reference server's
// config -> logging -> database -> transport -> supervisor sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/parkfabric/internal/api"
	"github.com/tomtom215/parkfabric/internal/bus"
	"github.com/tomtom215/parkfabric/internal/config"
	"github.com/tomtom215/parkfabric/internal/edgechannel"
	"github.com/tomtom215/parkfabric/internal/envelope"
	"github.com/tomtom215/parkfabric/internal/fee"
	"github.com/tomtom215/parkfabric/internal/gossip"
	"github.com/tomtom215/parkfabric/internal/ingest"
	"github.com/tomtom215/parkfabric/internal/logging"
	"github.com/tomtom215/parkfabric/internal/model"
	"github.com/tomtom215/parkfabric/internal/p2pchannel"
	"github.com/tomtom215/parkfabric/internal/peerregistry"
	"github.com/tomtom215/parkfabric/internal/store"
	"github.com/tomtom215/parkfabric/internal/supervisor"
	"github.com/tomtom215/parkfabric/internal/supervisor/services"
	"github.com/tomtom215/parkfabric/internal/syncmgr"
	"github.com/tomtom215/parkfabric/internal/websocket"
	"github.com/tomtom215/parkfabric/internal/wsfanout"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("central: fatal startup error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("central: load config: %w", err)
	}

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	selfIP := cfg.ThisCentral.IP
	if selfIP == "" || selfIP == "auto" || selfIP == "127.0.0.1" {
		selfIP = peerregistry.DiscoverSelfIP()
	}
	centralID := cfg.ThisCentral.ID
	if centralID == "" {
		centralID = fmt.Sprintf("central-%s-%d", selfIP, cfg.ThisCentral.APIPort)
	}

	st, err := store.Open(store.Config{
		Path: cfg.Database.Path, Threads: cfg.Database.Threads,
		MaxMemory: cfg.Database.MaxMemory, PreserveInsertionOrder: cfg.Database.PreserveInsertionOrder,
	})
	if err != nil {
		return fmt.Errorf("central: open store: %w", err)
	}

	feeSource := fee.StaticSource{Params: fee.Params{BaseHours: cfg.Fee.BaseHours, PerHour: cfg.Fee.PerHour}}
	feeCache := fee.NewCache(feeSource, cfg.Fee.CacheTTL)

	peers := peerregistry.New(centralID, selfIP, cfg.ThisCentral.APIPort)
	for _, p := range cfg.PeerCentrals {
		peers.AddPeer(model.PeerRecord{PeerID: p.ID, Host: p.IP, Port: p.APIPort, Status: model.PeerStatusConnecting})
	}

	peerChannels := p2pchannel.NewRegistry()
	edgeChannels := edgechannel.NewRegistry()
	channelCfg := p2pchannel.Config{
		HeartbeatInterval: cfg.Channel.HeartbeatInterval, KeepaliveTimeout: cfg.Channel.KeepaliveTimeout,
		ReconnectBackoff: cfg.Channel.ReconnectBackoff, MissedBeatsUnhealthy: cfg.Channel.MissedBeatsUnhealthy,
	}
	edgeCfg := edgechannel.Config{HeartbeatInterval: cfg.Channel.HeartbeatInterval, KeepaliveTimeout: cfg.Channel.KeepaliveTimeout}

	historyHub := websocket.NewHub()
	cameraHub := websocket.NewHub()
	p2pHub := websocket.NewHub()

	fanout := wsfanout.New(st, historyHub, cameraHub, edgeChannels, peerChannels)
	engine := ingest.New(st, feeCache, centralID)
	syncMgr := syncmgr.New(centralID, st, peerChannels)
	gossipMgr := gossip.New(centralID, engine, st, peerChannels, fanout)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("central: new supervisor tree: %w", err)
	}

	tree.AddMessagingService(services.NewWebSocketHubService(historyHub))
	tree.AddMessagingService(services.NewWebSocketHubService(cameraHub))
	tree.AddMessagingService(services.NewWebSocketHubService(p2pHub))

	onStatus := func(peerID string, status model.PeerStatus) {
		peers.SetPeerStatus(peerID, status)
		p2pHub.BroadcastPeerStatus(peerID, string(status))
		if status == model.PeerStatusHealthy {
			go syncMgr.OnPeerHealthy(context.Background(), peerID)
		}
	}

	for _, p := range cfg.PeerCentrals {
		ch := p2pchannel.NewOutbound(centralID, p.ID, "http://"+peerregistry.Addr(p.IP, p.APIPort), channelCfg, gossipMgr.Handle, onStatus)
		peerChannels.Set(p.ID, ch)
		tree.AddMessagingService(services.NewRunnerService("peer-channel-"+p.ID, ch.Run))
	}

	dialPeer := func(peerID, addr string) {
		ch := p2pchannel.NewOutbound(centralID, peerID, addr, channelCfg, gossipMgr.Handle, onStatus)
		peerChannels.Set(peerID, ch)
		tree.AddMessagingService(services.NewRunnerService("peer-channel-"+peerID, ch.Run))
	}

	var auditSink *bus.EventSink
	embeddedNATS, err := bus.NewEmbeddedServer(bus.DefaultConfig())
	if err != nil {
		logging.Warn().Err(err).Msg("central: embedded bus unavailable, running without the audit stream")
	} else {
		eventBus, err := bus.New(embeddedNATS.ClientURL())
		if err != nil {
			logging.Warn().Err(err).Msg("central: bus connect failed, running without the audit stream")
		} else {
			auditSink = bus.NewEventSink(eventBus, centralID)
			tree.AddMessagingService(services.NewRunnerService("bus-audit-subscriber", func(ctx context.Context) {
				err := eventBus.Subscribe(ctx, bus.SubjectEvents, func(ctx context.Context, env *envelope.Envelope) error {
					logging.Info().Str("type", string(env.Type)).Str("event_id", env.EventID).Msg("central: audited event")
					return nil
				})
				if err != nil && ctx.Err() == nil {
					logging.Warn().Err(err).Msg("central: bus audit subscriber stopped")
				}
			}))
		}
	}
	if auditSink != nil {
		engine.SetEventSink(auditSink)
	}

	deps := &api.Deps{
		CentralID:    centralID,
		Store:        st,
		Engine:       engine,
		Fanout:       fanout,
		Gossip:       gossipMgr,
		Peers:        peers,
		PeerChannels: peerChannels,
		EdgeChannels: edgeChannels,
		ChannelCfg:   channelCfg,
		EdgeCfg:      edgeCfg,
		HistoryHub:   historyHub,
		CameraHub:    cameraHub,
		P2PHub:       p2pHub,
		Upgrader:     gorillaws.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		DialPeer:     dialPeer,
	}

	router := api.NewRouter(deps, api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		RateLimitDisabled:  cfg.Server.RateLimitDisabled,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(httpServer, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("central_id", centralID).Str("addr", httpServer.Addr).Msg("central: starting")
	if err := tree.Serve(ctx); err != nil {
		return fmt.Errorf("central: supervisor tree stopped with error: %w", err)
	}
	return st.Close()
}
