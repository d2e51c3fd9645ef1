// sqlitetool - data access to embedded SQLite stores.
//
// The process serves one set of store operations (raw SQL, row insert,
// update and delete, add column, table listing and schema description)
// over any combination of transports:
//   - stdio: JSON-RPC tool protocol for model clients (default)
//   - HTTP API and WebSocket command channel
//   - MQTT request/response topics
//
// Run "sqlitetool token -sub NAME -role ROLE" to mint an API bearer token.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/sqlitetool/internal/api"
	"github.com/nerrad567/sqlitetool/internal/auth"
	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/config"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/database"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/influxdb"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/mqtt"
	"github.com/nerrad567/sqlitetool/internal/mcp"
	"github.com/nerrad567/sqlitetool/internal/mqttapi"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// defaultConfigPath is read when SQLITETOOL_CONFIG is unset. It may be absent.
const defaultConfigPath = "configs/config.yaml"

const healthCheckTimeout = 5 * time.Second

var errNoTransport = errors.New("no transport enabled (enable transport.stdio, api or mqtt)")

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "sqlitetool token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Stderr first so a supervising client knows the process is alive.
	fmt.Fprintln(os.Stderr, "SQLite-tool server starting...")

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "SQLite-tool server crashed: %v\n", err)
		os.Exit(1)
	}
}

// run wires the engine to every enabled transport and blocks until the
// stdio stream ends or ctx is cancelled. Components are closed in reverse
// start order on the way out.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) error {
	configPath, optional := getConfigPath()
	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	if cfg.Transport.Stdio {
		// stdout belongs to the protocol.
		log = logging.NewWithWriter(cfg.Logging, version, stderr)
	}
	log.Info("starting sqlitetool", "version", version, "commit", commit, "build_date", date, "config", configPath)

	if !cfg.Transport.Stdio && !cfg.API.Enabled && !cfg.MQTT.Enabled {
		return errNoTransport
	}

	var started shutdownStack
	defer started.unwind(log)

	storeCfg := database.Config{
		CreateIfMissing: cfg.Database.CreateIfMissing,
		WALMode:         cfg.Database.WALMode,
		BusyTimeout:     cfg.Database.BusyTimeout,
	}
	engine := store.NewEngine(storeCfg, log)

	if cfg.InfluxDB.Enabled {
		metrics, err := startMetrics(cfg.InfluxDB, log)
		if err != nil {
			return err
		}
		started.push("InfluxDB", metrics.Close)
		engine.SetRecorder(metrics)
	}

	dispatcher := command.NewDispatcher(engine, cfg.Database.DefaultPath, log)
	checkDefaultStore(ctx, storeCfg, cfg.Database.DefaultPath, log)

	// Stdio is driven by the process owner; everything reachable over the
	// network only sees stores under database.root.
	remote, err := dispatcher.Confine(cfg.Database.RootDir())
	if err != nil {
		return err
	}
	log.Info("network transports confined", "root", remote.Root())

	// Left nil unless connected so the API sees no broker rather than a
	// typed nil.
	var broker api.BrokerStatus
	if cfg.MQTT.Enabled {
		client, err := startMQTT(ctx, cfg.MQTT, remote, log)
		if err != nil {
			return err
		}
		started.push("MQTT", client.Close)
		broker = client
	}

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log,
			Dispatcher: remote,
			Broker:     broker,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		started.push("API server", server.Close)
	}

	log.Info("transports ready", "stdio", cfg.Transport.Stdio, "api", cfg.API.Enabled, "mqtt", cfg.MQTT.Enabled, "influxdb", cfg.InfluxDB.Enabled)
	fmt.Fprintln(stderr, "SQLite-tool server ready to receive requests...")

	if cfg.Transport.Stdio {
		if err := mcp.NewServer(dispatcher, log, version).Serve(ctx, stdin, stdout); err != nil {
			return fmt.Errorf("serving stdio: %w", err)
		}
		log.Info("stdio stream closed")
	} else {
		<-ctx.Done()
		log.Info("shutdown signal received, cleaning up")
	}
	return nil
}

// shutdownStack closes started components last-in first-out.
type shutdownStack []startedComponent

type startedComponent struct {
	name  string
	close func() error
}

func (s *shutdownStack) push(name string, closeFn func() error) {
	*s = append(*s, startedComponent{name: name, close: closeFn})
}

func (s shutdownStack) unwind(log *logging.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		log.Info("closing", "component", s[i].name)
		if err := s[i].close(); err != nil {
			log.Error("close failed", "component", s[i].name, "error", err)
		}
	}
	log.Info("sqlitetool stopped")
}

// checkDefaultStore only warns: requests may name other databases.
func checkDefaultStore(ctx context.Context, storeCfg database.Config, path string, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	storeCfg.Path = path
	if err := database.HealthCheck(ctx, storeCfg); err != nil {
		log.Warn("default store unavailable", "path", path, "error", err)
		return
	}
	log.Info("default store ready", "path", path)
}

// startMetrics connects the operation recorder. Write failures are
// logged, never returned to callers.
func startMetrics(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

// startMQTT connects to the broker and starts answering request topics.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, dispatcher *command.Dispatcher, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log)
	client.SetOnConnect(func() {
		log.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	responder := mqttapi.New(client, client.Topics(), client.QoS(), dispatcher, log)
	if err := responder.Start(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("starting MQTT responder: %w", err)
	}

	log.Info("MQTT ready",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"requests", client.Topics().AllRequests(),
	)
	return client, nil
}

// getConfigPath returns the configuration file path and whether it may be
// missing. An explicit SQLITETOOL_CONFIG must exist.
func getConfigPath() (string, bool) {
	if path := os.Getenv("SQLITETOOL_CONFIG"); path != "" {
		return path, false
	}
	return defaultConfigPath, true
}

// runToken mints a bearer token signed with the configured JWT secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("sub", "", "token subject (who the token is for)")
	role := fs.String("role", string(auth.RoleReader), "role: reader, writer or admin")
	ttl := fs.Int("ttl", 0, "lifetime in minutes (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-sub is required")
	}

	configPath, optional := getConfigPath()
	cfg, err := config.Load(configPath, optional)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	minutes := *ttl
	if minutes <= 0 {
		minutes = cfg.Security.JWT.AccessTokenTTL
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, minutes)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
