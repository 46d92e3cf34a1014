// Meshwork MCP server: agent coordination runtime over stdio.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/meshwork/internal/coord"
	"github.com/jaakkos/meshwork/internal/dashboard"
	"github.com/jaakkos/meshwork/internal/events"
	"github.com/jaakkos/meshwork/internal/policy"
	"github.com/jaakkos/meshwork/internal/repository/sqlite"
	coordtools "github.com/jaakkos/meshwork/internal/tools/coord"
)

// Version is set by -ldflags at build time.
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Println("meshwork " + Version)
			return
		}
	}

	tmpLogger := log.New(os.Stderr, "[meshwork] ", log.LstdFlags|log.Lshortfile)
	cfg := loadConfig(tmpLogger)
	pol := policy.New(cfg)

	logger := setupLogger(pol.LogFile())
	logger.Println("Starting meshwork server...")
	logger.Printf("Node: %s", pol.NodeID())
	logger.Printf("State file: %s", pol.StateFile())

	store, err := sqlite.New(pol.StateFile())
	if err != nil {
		logger.Fatalf("Snapshot store: %v", err)
	}

	rt, err := coord.New(pol, logger,
		coord.WithSink(events.LogSink{Logger: logger}),
		coord.WithStore(store),
		coord.WithExchangeDir(pol.SnapshotDir()),
	)
	if err != nil {
		logger.Fatalf("Runtime: %v", err)
	}

	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})

	mcpServer := server.NewMCPServer(
		"meshwork",
		Version,
		server.WithInstructions(instructionsText()),
		server.WithHooks(hooks),
	)
	coordtools.Register(mcpServer, rt, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Keep running when daemonized (nohup, launchd, etc.)
	signal.Ignore(syscall.SIGHUP)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	rt.Start(ctx)

	if addr := pol.DashboardAddr(); addr != "" {
		mux := http.NewServeMux()
		dashboard.NewHandler(rt).RegisterRoutes(mux)
		httpSrv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			logger.Printf("Dashboard on http://%s/dashboard", addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("Dashboard server stopped: %v", err)
			}
		}()
		defer httpSrv.Close()
	}

	logger.Println("Stdio ready")
	stdioSrv := server.NewStdioServer(mcpServer)
	if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		logger.Printf("Stdio server stopped: %v", err)
	}

	cancel()
	rt.Stop()
	logger.Println("Server stopped")
}

func instructionsText() string {
	return strings.TrimSpace(`
This server coordinates a fleet of AI agents. Register with register_agent,
then heartbeat regularly; heartbeat responses tell you how many messages and
tasks are waiting. Use send_message/broadcast to communicate, create_task and
claim_task to distribute work (claims are optimistically locked), and
report_progress to keep milestones current. Plans edited through the plan_*
tools converge across nodes automatically.
`)
}

// setupLogger creates a logger that writes to a log file and optionally
// stderr. When stderr is redirected (daemon mode), logs go only to the file
// to avoid duplicate lines.
func setupLogger(logFilePath string) *log.Logger {
	var writers []io.Writer

	stderrIsTerminal := false
	if info, err := os.Stderr.Stat(); err == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}

	hasLogFile := false
	lower := strings.ToLower(logFilePath)
	if lower != "none" && lower != "off" && logFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(logFilePath), 0o755); err == nil {
			f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
				hasLogFile = true
			} else {
				fmt.Fprintf(os.Stderr, "[meshwork] Warning: cannot open log file %s: %v\n", logFilePath, err)
			}
		} else {
			fmt.Fprintf(os.Stderr, "[meshwork] Warning: cannot create log dir %s: %v\n", filepath.Dir(logFilePath), err)
		}
	}
	if stderrIsTerminal || !hasLogFile {
		writers = append(writers, os.Stderr)
	}
	return log.New(io.MultiWriter(writers...), "[meshwork] ", log.LstdFlags|log.Lshortfile)
}

// loadConfig loads policy configuration from MESHWORK_CONFIG or defaults.
func loadConfig(logger *log.Logger) *policy.Config {
	path := os.Getenv("MESHWORK_CONFIG")
	if path == "" {
		path = filepath.Join(policy.GlobalStateDir(), "config.yaml")
	}
	cfg, err := policy.Load(path)
	if err != nil {
		logger.Printf("Warning: failed to load config %s: %v, using defaults", path, err)
		return policy.DefaultConfig()
	}
	return cfg
}
