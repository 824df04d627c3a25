package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/a-swarm/evolution-core/internal/federation/hll"
	"github.com/a-swarm/evolution-core/internal/federation/rpc"
	"github.com/a-swarm/evolution-core/internal/federation/signing"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		clusterID   string
		listenAddr  string
		metricsAddr string
		precision   int
	)

	cmd := &cobra.Command{
		Use:   "federationd",
		Short: "Runs the A-SWARM cross-cluster sketch federation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), clusterID, listenAddr, metricsAddr, precision)
		},
	}

	cmd.Flags().StringVar(&clusterID, "cluster-id", envOr("CLUSTER_ID", "default-cluster"), "identifier this cluster presents to peers")
	cmd.Flags().StringVar(&listenAddr, "listen-addr", envOr("LISTEN_ADDR", ":9443"), "gRPC listen address")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ":9464"), "Prometheus metrics listen address")
	cmd.Flags().IntVar(&precision, "hll-precision", 14, "HyperLogLog++ register precision, 4-18")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, clusterID, listenAddr, metricsAddr string, precision int) error {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "federationd").Str("cluster_id", clusterID).Logger()

	cfg := hll.HLLConfig{Version: "v1", Precision: precision, Salt: 0}

	keyring := signing.NewSimpleKeyring()
	// Peer keys are loaded by whatever secret store a deployment uses;
	// nothing in the corpus sketches that integration so this ships
	// empty and relies on an operator wiring SetHMACKey/SetEd25519Pub.

	federationSrv := rpc.NewFederationServer(clusterID, cfg, keyring, log)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
	rpc.RegisterFederatorServer(grpcServer, federationSrv)

	lis, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, draining federation server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
	}()

	log.Info().Str("listen_addr", listenAddr).Str("metrics_addr", metricsAddr).Msg("federation server starting")
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func loggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("duration", time.Since(start)).Msg("federation rpc")
		return resp, err
	}
}
