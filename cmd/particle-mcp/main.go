package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/ironsheep/particle-tools-mcp/internal/config"
	"github.com/ironsheep/particle-tools-mcp/internal/httpapi"
	"github.com/ironsheep/particle-tools-mcp/internal/imaging"
	"github.com/ironsheep/particle-tools-mcp/internal/server"
	"github.com/ironsheep/particle-tools-mcp/internal/store"
	log "github.com/sirupsen/logrus"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const defaultConfigPath = "particle-mcp.yaml"

func usage() {
	fmt.Println("particle-tools-mcp - particle measurement over MCP or HTTP")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  particle-mcp [--config PATH]          Serve MCP over stdin/stdout")
	fmt.Println("  particle-mcp http [--config PATH]     Serve the HTTP API")
	fmt.Println("  particle-mcp init-config [PATH]       Write the default configuration")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --config PATH    Configuration file (default " + defaultConfigPath + ")")
	fmt.Println("  --version, -v    Print version information")
	fmt.Println("  --help, -h       Print this help message")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  PARTICLE_MCP_LOG_LEVEL=debug    Override the configured log level")
}

func main() {
	args := os.Args[1:]
	mode := "mcp"

	if len(args) > 0 {
		switch args[0] {
		case "--version", "-v", "version":
			fmt.Printf("particle-tools-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			usage()
			return
		case "init-config":
			path := defaultConfigPath
			if len(args) > 1 {
				path = args[1]
			}
			if err := config.SaveConfig(config.DefaultConfig(), path); err != nil {
				fmt.Fprintf(os.Stderr, "init-config: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote default configuration to %s\n", path)
			return
		case "http":
			mode = "http"
			args = args[1:]
		}
	}

	fs := flag.NewFlagSet("particle-mcp", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Configuration file")
	fs.Parse(args)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)
	log.WithFields(log.Fields{"version": Version, "commit": GitCommit, "mode": mode}).Debug("particle-tools-mcp starting")

	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	var sink imaging.ArtifactSink
	if cfg.Server.ArtifactsDir != "" {
		sink = imaging.DirSink{Root: cfg.Server.ArtifactsDir}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "http":
		if log.GetLevel() < log.DebugLevel {
			gin.SetMode(gin.ReleaseMode)
		}
		err = httpapi.New(cfg, st, sink).ListenAndServe(ctx, cfg.Server.HTTPAddress)
	default:
		server.Version = Version
		err = server.New(cfg, st, sink).Run(ctx)
	}
	if err != nil && err != context.Canceled {
		log.Fatalf("Server error: %v", err)
	}
}

// setupLogging sends logs to stderr (stdout is for MCP protocol) at the
// configured level, overridable from the environment.
func setupLogging(cfg config.Log) {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level := cfg.Level
	if env := os.Getenv("PARTICLE_MCP_LOG_LEVEL"); env != "" {
		level = env
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		parsed = log.InfoLevel
	}
	log.SetLevel(parsed)
}
