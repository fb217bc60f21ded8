// Command pfqd is the PFQ-Go daemon: it owns a group.Table, a
// control.Server, and exposes both a JSON control API and Prometheus
// metrics over HTTP. Grounded structurally on cmd/route/main.go's flag
// + YAML config loading and top-level Config struct, generalized from a
// fixed router/sender/receiver topology into a daemon wired via
// internal/config.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pfq-io/pfq-go/compute"
	_ "github.com/pfq-io/pfq-go/compute/symbols"
	"github.com/pfq-io/pfq-go/control"
	"github.com/pfq-io/pfq-go/group"
	"github.com/pfq-io/pfq-go/ifacestat"
	"github.com/pfq-io/pfq-go/internal/config"
	"github.com/pfq-io/pfq-go/internal/metrics"
	"github.com/pfq-io/pfq-go/internal/pfqlog"
	"github.com/pfq-io/pfq-go/sock"
)

func main() {
	fConfig := flag.String("config", "", "path to pfqd YAML config file")
	cfg := config.Default()
	config.RegisterFlags(flag.CommandLine, &cfg)
	flag.Parse()

	if *fConfig != "" {
		loaded, err := config.Load(*fConfig)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
		fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
		fs.String("config", "", "path to pfqd YAML config file")
		config.RegisterFlags(fs, &cfg)
		_ = fs.Parse(os.Args[1:]) // re-apply CLI overrides on top of the file
	}

	logger := pfqlog.New("pfqd")
	tbl := group.NewTable()
	srv := control.NewServer(tbl, cfg.Control.RatePerSec, cfg.Control.Burst)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Sugar().Infow("metrics listening", "addr", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				logger.Sugar().Errorw("metrics server exited", "error", err)
			}
		}()
		go metrics.PublishGroups(ctx, tbl, 5*time.Second)
	}

	if len(cfg.Interfaces) > 0 {
		go runIfaceStats(ctx, logger, cfg.Interfaces)
	}

	api := &controlAPI{srv: srv, endpoints: make(map[int64]*sock.Sock)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/open", api.handleOpen)
	mux.HandleFunc("/v1/enable", api.handleEnable)
	mux.HandleFunc("/v1/join_group", api.handleJoinGroup)
	mux.HandleFunc("/v1/set_computation", api.handleSetComputation)
	mux.HandleFunc("/v1/group_stats", api.handleGroupStats)

	httpSrv := &http.Server{Addr: cfg.Listen.Addr, Handler: mux}
	go func() {
		logger.Sugar().Infow("control surface listening", "addr", cfg.Listen.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar().Errorw("control server exited", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

// runIfaceStats logs ethtool-derived per-interface packet/byte deltas
// every 5s for the physical devices named in the config, using the
// ifacestat.Snapshot/Since pair.
func runIfaceStats(ctx context.Context, logger *zap.Logger, ifaces []string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var prev ifacestat.Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := ifacestat.Snapshot(ifaces, ifacestat.TxPackets, ifacestat.TxBytes, ifacestat.RxPackets, ifacestat.RxBytes)
			if err != nil {
				logger.Sugar().Warnw("ifacestat snapshot failed", "error", err)
				continue
			}
			if prev != nil {
				diff := cur.Since(prev)
				_ = ifacestat.Print(os.Stdout, diff, nil)
			}
			prev = cur
		}
	}
}

// controlAPI exposes a thin JSON-over-HTTP surface on top of control.Server,
// since PFQ's original control plane is a set of ioctls on an already-open
// fd rather than a network protocol; this is the minimal transport needed
// for pfqctl to drive a remote pfqd.
type controlAPI struct {
	srv *control.Server

	mu        sync.Mutex
	endpoints map[int64]*sock.Sock
}

func (a *controlAPI) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Policy  string `json:"policy"`
		TxSlots int    `json:"tx_slots"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sk, err := a.srv.Open(r.Context(), parsePolicy(req.Policy), req.TxSlots)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.mu.Lock()
	a.endpoints[sk.ID()] = sk
	a.mu.Unlock()
	writeJSON(w, map[string]any{"id": sk.ID(), "fd": sk.FD()})
}

func (a *controlAPI) handleEnable(w http.ResponseWriter, r *http.Request) {
	sk, ok := a.lookup(w, r)
	if !ok {
		return
	}
	if err := a.srv.Enable(r.Context(), sk); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"enabled": true})
}

func (a *controlAPI) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        int64  `json:"id"`
		Gid       int    `json:"gid"`
		ClassMask uint64 `json:"class_mask"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.mu.Lock()
	sk, ok := a.endpoints[req.ID]
	a.mu.Unlock()
	if !ok {
		http.Error(w, "unknown endpoint id", http.StatusNotFound)
		return
	}
	assigned, err := a.srv.JoinGroup(r.Context(), sk, req.Gid, req.ClassMask)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"gid": assigned})
}

func (a *controlAPI) handleSetComputation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gid   int                  `json:"gid"`
		Entry int32                `json:"entry"`
		Nodes []compute.Descriptor `json:"nodes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := a.srv.SetComputation(r.Context(), req.Gid, req.Nodes, req.Entry); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *controlAPI) handleGroupStats(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Gid int `json:"gid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	st, err := a.srv.GroupStats(r.Context(), req.Gid)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, st)
}

func (a *controlAPI) lookup(w http.ResponseWriter, r *http.Request) (*sock.Sock, bool) {
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	a.mu.Lock()
	sk, ok := a.endpoints[req.ID]
	a.mu.Unlock()
	if !ok {
		http.Error(w, "unknown endpoint id", http.StatusNotFound)
		return nil, false
	}
	return sk, true
}

func parsePolicy(s string) group.Policy {
	switch s {
	case "priv":
		return group.PolicyPriv
	case "restricted":
		return group.PolicyRestricted
	case "shared":
		return group.PolicyShared
	default:
		return group.PolicyUndefined
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
