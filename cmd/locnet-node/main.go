package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/BasicAcid/locnet/internal/config"
	"github.com/BasicAcid/locnet/internal/overlay"
	"github.com/BasicAcid/locnet/internal/peerdb"
	"github.com/BasicAcid/locnet/internal/reactor"
	"github.com/BasicAcid/locnet/internal/spatial"
	"github.com/BasicAcid/locnet/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to the node configuration JSON file")
	devLog := flag.Bool("dev-log", false, "use a human-readable development logger instead of JSON")
	flag.Parse()

	log, err := newLogger(*devLog)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *configPath == "" {
		log.Fatal("-config is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	location, err := spatial.NewGpsLocation(cfg.Location.Lat, cfg.Location.Lon)
	if err != nil {
		log.Fatal("invalid location", zap.Error(err))
	}
	contacts, err := cfg.Contacts()
	if err != nil {
		log.Fatal("invalid advertised contacts", zap.Error(err))
	}
	seeds, err := cfg.SeedContacts()
	if err != nil {
		log.Fatal("invalid seeds", zap.Error(err))
	}

	store := peerdb.NewInMemoryStore()
	db := peerdb.New(location, store, log)

	r := reactor.New(4, log)
	defer r.Shutdown()

	overlayCfg := cfg.OverlayConfig()

	dialer := &transport.Dialer{
		SelfPort: uint16(cfg.ListenPorts.Node),
		Log:      log,
	}
	engine := overlay.New(cfg.NodeID, location, contacts, db, dialer, seeds, overlayCfg, log)
	dialer.DetectedIP = engine.DetectedExternalAddress

	listenCfg := transport.ListenConfig{
		NodePort:   cfg.ListenPorts.Node,
		LocalPort:  cfg.ListenPorts.Local,
		ClientPort: cfg.ListenPorts.Client,
	}
	srv, err := transport.Listen(listenCfg, engine, r, log)
	if err != nil {
		log.Fatal("failed to bind listeners", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go engine.RunMaintenanceLoop(ctx)
	go srv.Serve(ctx)

	log.Info("locnet node started",
		zap.String("nodeId", cfg.NodeID),
		zap.Int("nodePort", cfg.ListenPorts.Node),
		zap.Int("localPort", cfg.ListenPorts.Local),
		zap.Int("clientPort", cfg.ListenPorts.Client),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	srv.Close()
	log.Info("shutdown complete")
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
