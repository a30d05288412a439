package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"
	"github.com/pkg/errors"

	"github.com/hubertat/repbot"
	"github.com/hubertat/repbot/httpapi"
	"github.com/hubertat/repbot/mqtt"
	"github.com/hubertat/repbot/msgs"
	"github.com/hubertat/repbot/names"
	"github.com/hubertat/repbot/params"
)

const defaultNodeName = "repbot"
const disconnectTimeout = 3 * time.Second

var (
	Version string
	Build   string

	configPath  = flag.String("config", "", "path of the yaml configuration file")
	flagInstall = flag.Bool("install", false, "Install service in os")
	nodeName    = flag.String("name", "", "node name (also first positional argument)")
	broker      = flag.String("broker", "", "mqtt broker url, e.g. mqtt://localhost:1883")
	httpAddr    = flag.String("http", "", "http api listen address, e.g. :8080")
	token       = flag.String("token", "", "token required by the http api and param server")
	codecName   = flag.String("codec", "", "payload codec: json or cbor")
	period      = flag.Duration("period", 0, "telemetry sample period")
	logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error")
	paramServer = flag.String("param-server", "", "parameter server url")

	repbotService = servicemaker.ServiceMaker{
		User:               "repbot",
		UserGroups:         []string{"gpio", "i2c"},
		ServicePath:        "/etc/systemd/system/repbot.service",
		ServiceDescription: "REPBot service: robot digital/analog/pwm io bridge. github.com/hubertat/repbot",
		ExecDir:            "/srv/repbot",
		ExecName:           "repbot",
	}
)

func init() {
	flag.StringVar(nodeName, "n", "", "node name (shorthand)")
}

// applyFlags copies the flags given on the command line over cfg.
func applyFlags(cfg *Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "broker":
			cfg.Broker = *broker
		case "http":
			cfg.Http = *httpAddr
		case "token":
			cfg.Token = *token
		case "codec":
			cfg.Codec = *codecName
		case "period":
			cfg.Period = *period
		case "log-level":
			cfg.LogLevel = *logLevel
		case "param-server":
			cfg.ParamServer = *paramServer
		}
	})
}

// resolveNode picks the node name from -name or the first positional
// argument that is not a remap. The remaining ones are returned.
func resolveNode(flagName string, positional []string) (node string, rest []string) {
	node = flagName
	for _, arg := range positional {
		if len(node) == 0 {
			node = arg
			continue
		}
		rest = append(rest, arg)
	}
	if len(node) == 0 {
		node = defaultNodeName
	}
	return
}

// paramStore serves command line private params first, then the param
// server when one is configured.
func paramStore(node string, private map[string]string, cfg *Config) params.Store {
	local := params.Map{}
	for key, value := range private {
		local[names.Resolve(node, "~"+key, nil)] = value
	}
	if len(cfg.ParamServer) == 0 {
		return local
	}
	return params.Chain{local, params.NewHTTPStore(cfg.ParamServer, cfg.Token)}
}

func main() {
	flag.Parse()

	if *flagInstall {
		err := repbotService.InstallService()
		if err != nil {
			panic(err)
		}
		log.Info("service installed!")
		return
	}

	err := run()
	if err != nil {
		log.Error("repbot failed", "err", err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred transport and sink cleanup
// always runs.
func run() error {
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	applyFlags(cfg)

	if len(cfg.LogLevel) > 0 {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return errors.Wrapf(err, "invalid log level %q", cfg.LogLevel)
		}
		log.SetLevel(level)
	}

	args := names.ParseArgs(flag.Args())
	node, extra := resolveNode(*nodeName, args.Unknown)

	logger := repbot.NewLogger(node)
	logger.Info("repbot started", "version", Version, "build", Build)
	if len(extra) > 0 {
		logger.Warn("ignoring unknown arguments", "args", extra)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, cfg, node, args, logger)
	if err != nil {
		return err
	}
	logger.Info("repbot stopped")
	return nil
}

// serve builds the transports, sinks and session from cfg and runs the
// session until ctx ends.
func serve(ctx context.Context, cfg *Config, node string, args names.Args, logger *log.Logger) error {
	codec, err := msgs.CodecByName(cfg.Codec)
	if err != nil {
		return errors.Wrap(err, "invalid codec")
	}

	var transports []repbot.Transport
	if len(cfg.Broker) > 0 {
		mc, err := mqtt.NewMqttClient(cfg.Broker, node, args.Remaps, codec.ContentType())
		if err != nil {
			return errors.Wrap(err, "failed to create mqtt client")
		}
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			mc.Disconnect(dctx)
		}()
		transports = append(transports, mc)
	}
	if len(cfg.Http) > 0 {
		transports = append(transports, httpapi.NewServer(cfg.Http, cfg.Token, node, args.Remaps, codec.ContentType()))
	}
	if len(transports) == 0 {
		logger.Warn("no transport configured (use -broker or -http), running hardware only")
	}

	var sinks []repbot.TelemetrySink
	if cfg.influxEnabled() {
		err = cfg.Influx.Setup(ctx)
		if err != nil {
			logger.Warn("influx telemetry disabled", "err", err)
		} else {
			defer cfg.Influx.Close()
			sinks = append(sinks, cfg.Influx)
		}
	}

	session := repbot.New(repbot.Options{
		NodeName:     node,
		Params:       paramStore(node, args.Params, cfg),
		Hardware:     cfg.profiles().Open,
		Transports:   transports,
		Sinks:        sinks,
		Codec:        codec,
		SamplePeriod: cfg.Period,
		CallTimeout:  cfg.CallTimeout,
		Logger:       logger,
	})

	return errors.Wrap(session.Run(ctx), "session ended with error")
}
