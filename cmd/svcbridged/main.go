package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dray-io/svcbridge/internal/config"
	"github.com/dray-io/svcbridge/internal/logging"
	"github.com/dray-io/svcbridge/internal/topic"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("svcbridged version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runRouter(os.Args[2:])
	case "classify":
		os.Exit(runClassify(os.Args[2:], os.Stdout, os.Stderr))
	case "validate":
		os.Exit(runValidate(os.Args[2:], os.Stdout, os.Stderr))
	case "version":
		fmt.Printf("svcbridged version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: svcbridged <command> [options]

Commands:
  run         Start the router
  classify    Show how a topic is classified and paired
  validate    Check a configuration file
  version     Print version information

Run 'svcbridged <command> --help' for more information on a command.`)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func runRouter(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	routerID := fs.String("router-id", "", "Override router ID (default: from config, else auto-generated UUID)")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9091)")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")
	logLevel := fs.String("log-level", "", "Override log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Println(`Usage: svcbridged run [options]

Start the router: bridge every configured participant and route service
requests and replies between them.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}

	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)

	id := cfg.Router.ID
	if *routerID != "" {
		id = *routerID
	}
	if id == "" {
		id = uuid.New().String()
	}

	router, err := NewRouter(RouterOptions{
		Config:   cfg,
		Logger:   logger,
		RouterID: id,
		Version:  version,
	})
	if err != nil {
		logger.Errorf("failed to create router", map[string]any{"error": err})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := router.Start(ctx); err != nil {
		logger.Errorf("failed to start router", map[string]any{"error": err})
		_ = router.Shutdown(context.Background())
		os.Exit(1)
	}

	sig := <-sigCh
	logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err})
		os.Exit(1)
	}
}

func runClassify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("classify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "Topic name (e.g., rq/EchoRequest)")
	typeName := fs.String("type", "", "Topic data type (e.g., EchoRequest)")
	configPath := fs.String("config", "", "Read the naming convention from this configuration file")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *typeName == "" {
		fmt.Fprintln(stderr, "classify: both -name and -type are required")
		return 2
	}

	conv := topic.DefaultConvention
	if *configPath != "" {
		cfg, err := config.LoadFromPath(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "failed to load config: %v\n", err)
			return 1
		}
		conv = cfg.Router.Convention.Convention()
	}

	classify(stdout, conv, topic.New(*name, *typeName))
	return 0
}

func classify(w io.Writer, conv topic.Convention, t topic.Topic) {
	switch {
	case conv.IsRequest(t):
		fmt.Fprintf(w, "%s\n  kind:    request\n  service: %s\n  reply:   %s\n",
			t, conv.ServiceName(t), conv.ReplyFromRequest(t))
	case conv.IsReply(t):
		fmt.Fprintf(w, "%s\n  kind:    reply\n  service: %s\n  request: %s\n",
			t, conv.ServiceName(t), conv.RequestFromReply(t))
	default:
		fmt.Fprintf(w, "%s\n  kind:    plain\n", t)
	}
}

func runValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration:\n%v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "configuration ok: %d participants, %d services, %d builtin topics\n",
		len(cfg.Participants), len(cfg.Services), len(cfg.BuiltinTopics))
	return 0
}
