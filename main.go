package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/clustered/collections"
	"github.com/go-pluto/clustered/comm"
	"github.com/go-pluto/clustered/config"
	"github.com/go-pluto/clustered/crypto"
)

// Functions

// initLogger initializes a JSON gokit-logger set
// to the according log level supplied via cli flag.
func initLogger(loglevel string) log.Logger {

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger,
		"ts", log.DefaultTimestampUTC,
		"caller", log.DefaultCaller,
	)

	switch strings.ToLower(loglevel) {
	case "info":
		logger = level.NewFilter(logger, level.AllowInfo())
	case "warn":
		logger = level.NewFilter(logger, level.AllowWarn())
	case "error":
		logger = level.NewFilter(logger, level.AllowError())
	default:
		logger = level.NewFilter(logger, level.AllowDebug())
	}

	return logger
}

// initTLS loads the internal TLS config if the
// config file names all files needed for it.
func initTLS(conf *config.Config) (*tls.Config, error) {

	if !conf.TLS.Enabled() {
		return nil, nil
	}

	return crypto.NewInternalTLSConfig(conf.TLS.CertLoc, conf.TLS.KeyLoc, conf.TLS.RootCertLoc)
}

// initChannel creates the group channel of the
// configured transport.
func initChannel(logger log.Logger, conf *config.Config) (comm.Channel, error) {

	if conf.Transport.Kind == config.TransportMemory {
		return comm.NewHub(logger).NewChannel(), nil
	}

	tlsConfig, err := initTLS(conf)
	if err != nil {
		return nil, err
	}

	return comm.NewRemoteChannel(logger, conf.Transport.SequencerAddr, conf.Transport.DialTimeoutDuration(), comm.DialOptions(tlsConfig)...), nil
}

// initReplica joins the configured group with
// a collection of the requested kind.
func initReplica(logger log.Logger, conf *config.Config, metrics *collections.Metrics, kind string) (replica, error) {

	ch, err := initChannel(logger, conf)
	if err != nil {
		return nil, err
	}

	opts := []collections.Option{
		collections.WithLogger(logger),
		collections.WithMetrics(metrics),
		collections.WithStateTimeout(conf.Group.StateTimeoutDuration()),
	}

	if conf.Group.EmptyOnStateTimeout {
		opts = append(opts, collections.WithEmptyOnStateTimeout())
	}

	switch kind {

	case "list":

		l, err := collections.NewList[string](conf.Group.Name, ch, opts...)
		if err != nil {
			return nil, err
		}

		return listReplica{l}, nil

	case "set":

		s, err := collections.NewSet[string](conf.Group.Name, ch, opts...)
		if err != nil {
			return nil, err
		}

		return setReplica{s}, nil
	}

	m, err := collections.NewMap[string, string](conf.Group.Name, ch, opts...)
	if err != nil {
		return nil, err
	}

	return mapReplica{m}, nil
}

// runSequencer serves a sequencer on the configured
// listen address until SIGINT or SIGTERM arrives.
func runSequencer(logger log.Logger, conf *config.Config) error {

	tlsConfig, err := initTLS(conf)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", conf.Transport.ListenAddr)
	if err != nil {
		return err
	}

	stateTimeout := conf.Group.StateTimeoutDuration()
	if stateTimeout <= 0 {
		stateTimeout = collections.DefaultStateTimeout
	}

	seq := comm.NewSequencer(logger, stateTimeout)

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigC
		level.Info(logger).Log("msg", "shutting down sequencer")
		seq.Stop()
	}()

	return seq.Serve(lis, comm.ServerOptions(tlsConfig)...)
}

func main() {

	// Set CPUs usable by clustered to all available.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command-line flags.
	configFlag := flag.String("config", "config.toml", "Provide path to configuration file in TOML syntax.")
	envFlag := flag.String("env", ".env", "Provide path to an optional .env file overriding parts of the config.")
	sequencerFlag := flag.Bool("sequencer", false, "Append this flag to run the sequencer that orders traffic of remote group members.")
	listFlag := flag.Bool("list", false, "Join the configured group with a replicated list.")
	setFlag := flag.Bool("set", false, "Join the configured group with a replicated set.")
	mapFlag := flag.Bool("map", false, "Join the configured group with a replicated map.")
	pkiFlag := flag.String("generate-pki", "", "Generate an internal PKI for sequencer and members into this directory and exit.")
	pkiHostsFlag := flag.String("pki-hosts", "127.0.0.1,localhost", "Comma separated hosts the generated certificates are valid for.")
	loglevelFlag := flag.String("loglevel", "debug", "This flag sets the default logging level.")
	flag.Parse()

	// The environment may set the log level
	// unless it was given on the command line.
	loglevel := *loglevelFlag
	loglevelSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "loglevel" {
			loglevelSet = true
		}
	})

	env, envErr := config.LoadEnv(*envFlag)
	if (envErr == nil) && (env.LogLevel != "") && !loglevelSet {
		loglevel = env.LogLevel
	}

	logger := initLogger(loglevel)

	if envErr != nil {
		level.Debug(logger).Log("msg", "no env file loaded", "err", envErr)
	}

	if *pkiFlag != "" {

		err := crypto.GeneratePKI(logger, *pkiFlag, []string{"sequencer", "member"}, crypto.PKIOptions{
			Hosts: strings.Split(*pkiHostsFlag, ","),
		})
		if err != nil {
			level.Error(logger).Log("msg", "failed to generate PKI", "err", err)
			os.Exit(1)
		}

		return
	}

	// Read configuration from file.
	conf, err := config.LoadConfig(*configFlag)
	if err != nil {
		level.Error(logger).Log(
			"msg", "failed to load the config", "err", err,
		)
		os.Exit(1)
	}

	if envErr == nil {
		env.Apply(conf)
	}

	metrics := NewClusteredMetrics(conf.Metrics.PrometheusAddr)
	go runPromHTTP(logger, conf.Metrics.PrometheusAddr)

	kind := ""

	switch {

	case *sequencerFlag:

		if err := runSequencer(logger, conf); err != nil {
			level.Error(logger).Log(
				"msg", "sequencer failed",
				"err", err,
			)
			os.Exit(2)
		}

		return

	case *listFlag:
		kind = "list"
	case *setFlag:
		kind = "set"
	case *mapFlag:
		kind = "map"

	default:
		// If no role was specified, print usage
		// and return with failure value.
		flag.Usage()
		os.Exit(9)
	}

	rep, err := initReplica(logger, conf, metrics, kind)
	if err != nil {
		level.Error(logger).Log(
			"msg", fmt.Sprintf("failed to join group %s with a %s", conf.Group.Name, kind),
			"err", err,
		)
		os.Exit(3)
	}
	defer rep.Close()

	rep.SetUpdateCallback(func() {
		fmt.Printf("\n[update] %s\n> ", rep.Show())
	})

	if err := runShell(os.Stdin, os.Stdout, rep); err != nil {
		level.Error(logger).Log(
			"msg", "reading commands failed",
			"err", err,
		)
		os.Exit(4)
	}
}
