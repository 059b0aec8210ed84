// Command statekeepd is the runtime's composition root: it loads
// config.RuntimeConfig, wires an orchestrator.Orchestrator for the sample
// Call machine (examples/callfsm), probes storage before accepting any
// event, then serves the NATS event-ingress bridge, the admin/debug REST
// surface, and the monitoring websocket side by side until a shutdown
// signal arrives. Grounded on the teacher's cmd/enterprise/main.go
// load-config / deploy / signal-wait shape.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/quadgate/statekeep/examples/callfsm"
	"github.com/quadgate/statekeep/pkg/authguard"
	"github.com/quadgate/statekeep/pkg/config"
	"github.com/quadgate/statekeep/pkg/corelog"
	"github.com/quadgate/statekeep/pkg/graph"
	natsingress "github.com/quadgate/statekeep/pkg/ingress/nats"
	"github.com/quadgate/statekeep/pkg/orchestrator"
	"github.com/quadgate/statekeep/pkg/registry"
	"github.com/quadgate/statekeep/pkg/startup"
	"github.com/quadgate/statekeep/pkg/webapi"
	"github.com/quadgate/statekeep/pkg/wsbridge"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code spec.md §6 assigns any CLI wrapper:
// 0 clean shutdown, 2 config error, 3 storage unreachable, 4 schema
// mismatch.
func run() int {
	logger := corelog.NewJSON()

	cfg, err := loadConfig()
	if err != nil {
		logger.Errorf("statekeepd: config error: %v", err)
		return 2
	}

	mapper := graph.NewMapper(placeholderStyle(cfg.ActiveDriver))
	callfsm.RegisterSchema(mapper)

	orch, err := orchestrator.New(cfg, mapper, logger)
	if err != nil {
		logger.Errorf("statekeepd: invalid config: %v", err)
		return 2
	}

	def, err := callfsm.BuildDefinition(nil)
	if err != nil {
		logger.Errorf("statekeepd: building call definition: %v", err)
		return 2
	}
	if err := orch.RegisterMachine(orchestrator.MachineConfig{
		MachineType:   "call",
		Definition:    def,
		EntityType:    callfsm.EntityType,
		Table:         callfsm.Table,
		PKColumn:      "id",
		FinalStates:   []string{string(callfsm.Completed)},
		EntityFromRow: callfsm.EntityFromRow,
	}, callfsm.DDL()); err != nil {
		logger.Errorf("statekeepd: registering call machine: %v", err)
		return 2
	}

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	res := orch.Probe(probeCtx)
	probeCancel()
	if res.Reason != startup.OK {
		logger.Errorf("statekeepd: startup probe failed: %v", res.Err)
		return res.ExitCode()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Errorf("statekeepd: start: %v", err)
		return 3
	}
	logger.Infof("statekeepd: started registry_id=%s", cfg.RegistryID)

	guard := authguard.New(cfg.JWTSecret)
	stopServers := serveAdminSurfaces(cfg, orch, guard, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Infof("statekeepd: shutdown signal received")

	stopServers()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := orch.Stop(shutdownCtx); err != nil {
		logger.Errorf("statekeepd: stop: %v", err)
	}
	return 0
}

func placeholderStyle(driver string) string {
	if driver == "postgres" || driver == "pgx" {
		return "$"
	}
	return "?"
}

func loadConfig() (*config.RuntimeConfig, error) {
	cfg := config.Default()

	path := os.Getenv("STATEKEEPD_CONFIG")
	if path == "" {
		path = "statekeepd.yaml"
	}
	if _, err := os.Stat(path); err == nil {
		if err := config.LoadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *config.RuntimeConfig) {
	if v := os.Getenv("STATEKEEPD_REGISTRY_ID"); v != "" {
		cfg.RegistryID = v
	}
	if v := os.Getenv("STATEKEEPD_ACTIVE_DSN"); v != "" {
		cfg.ActiveDSN = v
	}
	if v := os.Getenv("STATEKEEPD_HISTORY_DSN"); v != "" {
		cfg.HistoryDSN = v
	}
	if v := os.Getenv("STATEKEEPD_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("STATEKEEPD_ADMIN_HTTP_ADDR"); v != "" {
		cfg.AdminHTTPAddr = v
	}
	if v := os.Getenv("STATEKEEPD_JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
}

// serveAdminSurfaces starts the NATS ingress bridge, the admin REST
// server, and the monitoring websocket, returning a function that stops
// all three. Any surface whose address/URL is unset in cfg is skipped.
func serveAdminSurfaces(cfg *config.RuntimeConfig, orch *orchestrator.Orchestrator, guard *authguard.Guard, logger corelog.Logger) func() {
	var stops []func()

	lookupByType := func(machineType string) (*registry.Registry, bool) { return orch.Registry(machineType) }
	lookupByID := func(machineID string) (*registry.Registry, bool) { return orch.Registry("call") }

	if cfg.NATSURL != "" {
		bridge, err := natsingress.Connect(natsingress.Config{URL: cfg.NATSURL, Prefix: cfg.RegistryID}, lookupByType, logger)
		if err != nil {
			logger.Warnf("statekeepd: nats ingress disabled: %v", err)
		} else if err := bridge.Subscribe("call"); err != nil {
			logger.Warnf("statekeepd: nats subscribe failed: %v", err)
		} else {
			stops = append(stops, func() { bridge.Close() })
			logger.Infof("statekeepd: nats ingress listening on %s", cfg.NATSURL)
		}
	}

	if cfg.AdminHTTPAddr != "" {
		api := webapi.New(lookupByType, logger)
		adminServer := &fasthttp.Server{Handler: guard.WrapFastHTTP(api.Handler)}
		go func() {
			if err := adminServer.ListenAndServe(cfg.AdminHTTPAddr); err != nil {
				logger.Warnf("statekeepd: admin REST server stopped: %v", err)
			}
		}()
		stops = append(stops, func() { adminServer.Shutdown() })
		logger.Infof("statekeepd: admin REST listening on %s", cfg.AdminHTTPAddr)
	}

	if cfg.DebugWebsocketPort > 0 {
		bridge := wsbridge.New(lookupByID, orch.Bus(), logger)
		addr := fmt.Sprintf(":%d", cfg.DebugWebsocketPort)
		wsServer := &http.Server{Addr: addr, Handler: guard.WrapHTTP(bridge)}
		go func() {
			if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warnf("statekeepd: websocket server stopped: %v", err)
			}
		}()
		stops = append(stops, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			wsServer.Shutdown(shutdownCtx)
		})
		logger.Infof("statekeepd: monitoring websocket listening on %s", addr)
	}

	return func() {
		for _, stop := range stops {
			stop()
		}
	}
}
