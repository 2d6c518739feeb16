// Command eeg-core runs one EEG acquisition session: it loads
// configuration, wires the pipeline via internal/session, serves the
// WebSocket data plane and the RPC control plane, and blocks until
// interrupted. It mirrors rpc_server.go's RunRPCServer(portrpc, block)
// entry point: parse flags, load settings, start the listeners, wait on
// os/signal for Ctrl-C, then shut down in order.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/Elata-Biosciences/elata-eeg/internal/config"
	"github.com/Elata-Biosciences/elata-eeg/internal/control"
	"github.com/Elata-Biosciences/elata-eeg/internal/session"
)

func main() {
	fs := pflag.NewFlagSet("eeg-core", pflag.ExitOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("eeg-core: parse flags: %v", err)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatalf("eeg-core: %v", err)
	}

	ctl := control.NewSessionControl()
	sess, err := session.New(cfg, ctl)
	if err != nil {
		log.Fatalf("eeg-core: build session: %v", err)
	}

	heartbeats := make(chan control.Heartbeat, 1)
	rpcLn, err := control.RunRPCServer(ctl, cfg.RPCListenAddr, heartbeats)
	if err != nil {
		log.Fatalf("eeg-core: %v", err)
	}
	defer rpcLn.Close()
	go logHeartbeats(heartbeats)

	mux := http.NewServeMux()
	mux.Handle("/ws", sess.Publisher())
	httpSrv := &http.Server{Addr: cfg.WSListenAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("eeg-core: websocket server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	<-ctx.Done()
	log.Printf("eeg-core: shutting down")
	sess.Stop()
	if err := <-runErr; err != nil {
		log.Printf("eeg-core: session ended with error: %v", err)
	}
	httpSrv.Close()
}

// logHeartbeats mirrors rpc_server.go's periodic Heartbeat consumer,
// logging a summary line instead of pushing to a status topic.
func logHeartbeats(heartbeats <-chan control.Heartbeat) {
	for hb := range heartbeats {
		log.Printf("eeg-core: heartbeat running=%v uptime=%.0fs batches=%d", hb.Running, hb.UptimeSec, hb.BatchCount)
	}
}
