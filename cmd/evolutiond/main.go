package main

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	ctrlconfig "sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/a-swarm/evolution-core/internal/eventbus"
	"github.com/a-swarm/evolution-core/internal/fitness"
	"github.com/a-swarm/evolution-core/internal/loop"
	"github.com/a-swarm/evolution-core/internal/mutation"
	"github.com/a-swarm/evolution-core/internal/population"
	"github.com/a-swarm/evolution-core/internal/promotion"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		namespace   string
		environment string
		metricsAddr string
		seed        int64
	)

	cmd := &cobra.Command{
		Use:   "evolutiond",
		Short: "Runs the A-SWARM autonomous antibody evolution loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), namespace, environment, metricsAddr, seed)
		},
	}

	cmd.Flags().StringVar(&namespace, "namespace", envOr("EVOLUTION_NAMESPACE", "default"), "Kubernetes namespace holding Antibody CRDs")
	cmd.Flags().StringVar(&environment, "environment", envOr("EVOLUTION_ENVIRONMENT", "shadow"), "deployment environment fitness is evaluated against")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", envOr("METRICS_ADDR", ":9465"), "Prometheus metrics listen address")
	cmd.Flags().Int64Var(&seed, "seed", 0, "deterministic RNG seed for mutation/selection (0 picks a random seed)")

	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, namespace, environment, metricsAddr string, seed int64) error {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("component", "evolutiond").Logger()

	scheme := runtime.NewScheme()
	scheme.AddKnownTypes(metav1.SchemeGroupVersion, &promotion.Antibody{}, &promotion.AntibodyList{})
	metav1.AddToGroupVersion(scheme, metav1.SchemeGroupVersion)

	restCfg, err := ctrlconfig.GetConfig()
	if err != nil {
		return fmt.Errorf("load kubeconfig: %w", err)
	}
	k8sClient, err := client.New(restCfg, client.Options{Scheme: scheme})
	if err != nil {
		return fmt.Errorf("build k8s client: %w", err)
	}

	if seed == 0 {
		var b [8]byte
		if _, err := cryptorand.Read(b[:]); err != nil {
			return fmt.Errorf("read random seed: %w", err)
		}
		seed = int64(binary.LittleEndian.Uint64(b[:]))
	}

	mutationEngine := mutation.NewEngine(seed)
	popManager := population.NewSimpleManager(population.DefaultConfig(), mutationEngine, seed, log.With().Str("subsystem", "population").Logger())
	evaluator := fitness.NewEvaluator(log.With().Str("subsystem", "fitness").Logger())
	promotionCtl := promotion.NewController(k8sClient, scheme, evaluator, log.With().Str("subsystem", "promotion").Logger())
	events := eventbus.NewBus(eventbus.DefaultConfig(), namespace, log.With().Str("subsystem", "eventbus").Logger())

	loopCfg := loop.DefaultConfig()
	loopCfg.Namespace = namespace
	loopCfg.Environment = environment
	driver := loop.NewDriver(popManager, evaluator, promotionCtl, events, log.With().Str("subsystem", "loop").Logger(), loopCfg)

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server stopped unexpectedly")
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received, stopping evolution loop")
		cancel()
	}()

	log.Info().Str("namespace", namespace).Str("environment", environment).Str("metrics_addr", metricsAddr).Msg("evolution loop starting")
	if err := driver.Run(runCtx); err != nil && runCtx.Err() == nil {
		return fmt.Errorf("evolution loop: %w", err)
	}
	return nil
}
