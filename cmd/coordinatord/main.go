package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"blockroute/go-coordinator/internal/composition/daemonserver"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	rpcAddr := flag.String("rpc-addr", "127.0.0.1:8787", "JSON-RPC listen address")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	rpcToken := flag.String("rpc-token", "", "RPC token for Authorization/X-BlockRoute-RPC-Token (optional)")
	ledgerTransport := flag.String("ledger-transport", "", "Ledger transport override: gateway | mock")
	flag.Parse()
	if *showVersion {
		fmt.Printf("coordinatord version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *rpcToken != "" {
		_ = os.Setenv("BLOCKROUTE_RPC_TOKEN", *rpcToken)
	}
	if *ledgerTransport != "" {
		_ = os.Setenv("BLOCKROUTE_LEDGER_TRANSPORT", *ledgerTransport)
	}

	daemon, err := daemonserver.NewDaemonWithOptions(*rpcAddr, *configPath)
	if err != nil {
		log.Fatalf("coordinatord failed to initialize: %v", err)
	}

	log.Println("coordinatord starting")
	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("coordinatord failed: %v", err)
	}
	log.Println("coordinatord stopped")
}
