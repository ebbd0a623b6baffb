// Package main is the entrypoint for the robotlb operator.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/robotlb/robotlb/internal/config"
	"github.com/robotlb/robotlb/internal/controller"
	"github.com/robotlb/robotlb/internal/hcloudapi"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")

	// Version information set by goreleaser at build time.
	version = "dev"
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		metricsAddr          string
		probeAddr            string
		enableLeaderElection bool
		configPath           string
		concurrency          int
	)

	zapOpts := zap.Options{
		Development: os.Getenv("DEBUG") == "true",
	}

	cmd := &cobra.Command{
		Use:   "robotlb",
		Short: "Reconcile Kubernetes LoadBalancer services against Hetzner Cloud load balancers",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(metricsAddr, probeAddr, enableLeaderElection, configPath, concurrency, zapOpts)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	cmd.Flags().StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	cmd.Flags().BoolVar(&enableLeaderElection, "leader-elect", true, "Enable leader election for controller manager.")
	cmd.Flags().StringVar(&configPath, "config", "", "Path to the defaults config file.")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Maximum services reconciled in parallel. Overrides the configured value when set.")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(zapFlags)
	cmd.Flags().AddGoFlagSet(zapFlags)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println(version)
		},
	})

	return cmd
}

func run(metricsAddr, probeAddr string, enableLeaderElection bool, configPath string, concurrency int, zapOpts zap.Options) error {
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))

	defaults, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	// Flags win over the file and the environment.
	if concurrency > 0 {
		defaults.MaxConcurrentReconciles = concurrency
	}

	setupLog.Info("starting robotlb", "version", version)

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "robotlb-operator",
		// LeaderElectionReleaseOnCancel defines if the leader should step down voluntarily
		// when the Manager ends. This requires the binary to immediately end when the
		// Manager is stopped, otherwise, this setting is unsafe.
		LeaderElectionReleaseOnCancel: true,
	})
	if err != nil {
		return fmt.Errorf("creating manager: %w", err)
	}

	cloud := hcloudapi.NewRealClient(defaults.HCloudToken, version)

	if err := controller.NewServiceReconciler(
		mgr.GetClient(),
		cloud,
		defaults,
	).SetupWithManager(mgr); err != nil {
		return fmt.Errorf("creating controller: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("setting up health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("setting up ready check: %w", err)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		return fmt.Errorf("running manager: %w", err)
	}
	return nil
}
