package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hulanet/fabric-control/internal/ecmp"
	"github.com/hulanet/fabric-control/internal/hula"
	"github.com/hulanet/fabric-control/internal/metrics"
	"github.com/hulanet/fabric-control/internal/models"
	"github.com/hulanet/fabric-control/internal/monitor"
	"github.com/hulanet/fabric-control/internal/opcmd"
	"github.com/hulanet/fabric-control/internal/probe"
	"github.com/hulanet/fabric-control/internal/reconciler"
	"github.com/hulanet/fabric-control/internal/store"
	"github.com/hulanet/fabric-control/internal/switchagent"
	"github.com/hulanet/fabric-control/internal/topo"
)

const (
	modeECMP = "ecmp"
	modeHULA = "hula"
)

func loggerLevelFromString(level string) zerolog.Level {
	level = strings.ToLower(level)
	switch level {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

type Config struct {
	LoggerLevel string `envconfig:"LOGGER_LEVEL,default=info"`
	NodeName    string `envconfig:"NODE_NAME,default=fabric-controller-0"`

	TopologyPath string `envconfig:"TOPOLOGY_PATH"`
	Mode         string `envconfig:"MODE,default=hula"`

	ProbeInterface string `envconfig:"PROBE_INTERFACE,optional"`

	DialTimeoutMs       uint32 `envconfig:"DIAL_TIMEOUT_MS,default=3000"`
	ReconcileIntervalMs uint32 `envconfig:"RECONCILE_INTERVAL_MS,default=1000"`
	PollIntervalMs      uint32 `envconfig:"POLL_INTERVAL_MS,default=200"`
	FlowletTimeoutMs    uint32 `envconfig:"FLOWLET_TIMEOUT_MS,default=100"`
	StalenessWindowMs   uint32 `envconfig:"STALENESS_WINDOW_MS,default=500"`
	RetryAttempts       uint   `envconfig:"RPC_RETRY_ATTEMPTS,default=3"`

	EtcdEndpoint string `envconfig:"ETCD_ENDPOINT,optional"`
	KafkaAddr    string `envconfig:"KAFKA_ADDR,optional"`
	KafkaTopic   string `envconfig:"KAFKA_TOPIC,default=fabric-monitoring"`
	StatsdAddr   string `envconfig:"STATSD_ADDR,optional"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	appCfg := Config{}
	if err := envconfig.Init(&appCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read app config")
	}
	log.Logger = log.Level(loggerLevelFromString(appCfg.LoggerLevel))

	topology, err := topo.Load(appCfg.TopologyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load topology")
	}
	log.Info().Msgf("loaded topology: %d switches, %d probe descriptors, mode %s",
		len(topology.Switches), len(topology.Probes), appCfg.Mode)

	var m metrics.Metrics = metrics.Nop{}
	if appCfg.StatsdAddr != "" {
		m = metrics.NewStatsd(appCfg.NodeName, appCfg.StatsdAddr)
	}

	var sink monitor.Sink = monitor.LogSink{}
	if appCfg.KafkaAddr != "" {
		kafkaSink := monitor.NewKafkaSink(appCfg.KafkaAddr, appCfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = kafkaSink
	}
	sender := monitor.NewSender(sink, 1024, 10*time.Second)
	go sender.Run(ctx)

	stor := store.New()
	if err := seedIntents(stor, topology, appCfg.Mode); err != nil {
		log.Fatal().Err(err).Msg("failed to compute routing intents")
	}

	pool := switchagent.NewPool(topology, time.Duration(appCfg.DialTimeoutMs)*time.Millisecond)
	defer pool.Close()

	resetters := make(map[models.SwitchID]opcmd.Resetter, len(topology.Switches))
	for switchID := range topology.Switches {
		switchID := switchID
		rec := reconciler.New(switchID, pool, stor, sender, appCfg.RetryAttempts, m, log.Logger)
		resetters[switchID] = rec
		go func() {
			if err := rec.Run(ctx, time.Duration(appCfg.ReconcileIntervalMs)*time.Millisecond); err != nil {
				log.Error().Err(err).Msgf("reconciler of switch %s exited", switchID)
			}
		}()
	}

	if appCfg.Mode == modeHULA {
		registerModel := hula.NewRegisterModel(time.Duration(appCfg.StalenessWindowMs) * time.Millisecond)
		flowlets := hula.NewController(
			stor,
			topology,
			registerModel,
			time.Duration(appCfg.FlowletTimeoutMs)*time.Millisecond,
			m,
			log.Logger,
		)
		poller := hula.NewPoller(
			pool,
			topology,
			registerModel,
			flowlets,
			sender,
			time.Duration(appCfg.PollIntervalMs)*time.Millisecond,
			m,
			log.Logger,
		)
		go func() {
			if err := poller.Run(ctx); err != nil {
				log.Error().Err(err).Msg("register poller exited")
			}
		}()

		frameSender, err := probe.NewAfpacketSender(appCfg.ProbeInterface)
		if err != nil {
			log.Fatal().Err(err).Msgf("failed to open probe interface %s", appCfg.ProbeInterface)
		}
		defer frameSender.Close()

		engine, err := probe.NewEngine(topology.Probes, frameSender, m, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create probe engine")
		}
		engine.Start(ctx)
		defer engine.Stop()
	}

	if appCfg.EtcdEndpoint != "" {
		etcdClient, err := clientv3.New(clientv3.Config{Endpoints: []string{appCfg.EtcdEndpoint}})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create etcd client")
		}
		defer etcdClient.Close()

		watcher := opcmd.NewWatcher(opcmd.NewDispatcher(resetters), etcdClient.Watcher)
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("operator command watcher exited")
			}
		}()
	}

	log.Info().Msgf("control-plane session running as %s", appCfg.NodeName)
	<-ctx.Done()
}

// seedIntents installs the static half of the routing state: ECMP groups
// in ecmp mode, probe-forwarding entries in hula mode (flowlet entries
// arrive at runtime from the flowlet controller).
func seedIntents(stor *store.Store, topology *models.Topology, mode string) error {
	intents, err := ecmp.Intents(topology)
	if err != nil {
		return err
	}
	for _, intent := range intents {
		switch mode {
		case modeECMP:
			intent.ProbeForwards = nil
		case modeHULA:
			intent.Groups = nil
		default:
			return &models.ConfigError{
				Field: "MODE",
				Err:   fmt.Errorf("unknown mode %q, want ecmp or hula", mode),
			}
		}
		stor.Put(intent)
	}
	return nil
}
