package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openblock/launcher/internal/config"
	"github.com/openblock/launcher/internal/errors"
	"github.com/openblock/launcher/internal/metrics"
	"github.com/openblock/launcher/internal/model"
	"github.com/openblock/launcher/internal/remote"
	"github.com/openblock/launcher/internal/service"
	"github.com/openblock/launcher/internal/storage/contentstore"
)

var (
	configPath    string
	versionFlag   string
	loaderFlag    string
	loaderVerFlag string
	minMemoryFlag int
	maxMemoryFlag int
	noProvision   bool
)

func main() {
	root := &cobra.Command{
		Use:          "launcher",
		Short:        "Provision and manage isolated game instances",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults apply when omitted)")

	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an instance pinned to a version and provision it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()

			spec := model.VersionSpec{
				ID:            versionFlag,
				Loader:        model.LoaderKind(loaderFlag),
				LoaderVersion: loaderVerFlag,
			}
			mem := model.MemoryBounds{MinMB: minMemoryFlag, MaxMB: maxMemoryFlag}

			inst, err := app.launcher.CreateInstance(cmd.Context(), args[0], spec, mem)
			if err != nil {
				return err
			}
			fmt.Printf("created instance %q (%s)\n", inst.Name, inst.Version)

			if noProvision {
				return nil
			}
			return provisionAndReport(cmd, app, inst.Name)
		},
	}
	createCmd.Flags().StringVar(&versionFlag, "version", "", "game version id (defaults to the latest release)")
	createCmd.Flags().StringVar(&loaderFlag, "loader", string(model.LoaderNone), "loader kind: vanilla, forge, or fabric")
	createCmd.Flags().StringVar(&loaderVerFlag, "loader-version", "", "loader version (latest compatible when omitted)")
	createCmd.Flags().IntVar(&minMemoryFlag, "min-memory", 0, "minimum heap in MB")
	createCmd.Flags().IntVar(&maxMemoryFlag, "max-memory", 0, "maximum heap in MB")
	createCmd.Flags().BoolVar(&noProvision, "no-provision", false, "register the instance without downloading anything")

	provisionCmd := &cobra.Command{
		Use:   "provision <name>",
		Short: "Provision (or repair) an existing instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()
			return provisionAndReport(cmd, app, args[0])
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()

			for _, inst := range app.launcher.ListInstances() {
				state := "not ready"
				if inst.Ready {
					state = "ready"
				}
				fmt.Printf("%-24s %-24s %-10s last used %s\n",
					inst.Name, inst.Version, state, inst.LastUsed.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an instance and its private tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()

			if err := app.launcher.DeleteInstance(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted instance %q\n", args[0])
			return nil
		},
	}

	versionsCmd := &cobra.Command{
		Use:   "versions",
		Short: "List available release versions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp()
			if err != nil {
				return err
			}
			defer app.close()

			releases, err := app.launcher.ListVersions(cmd.Context())
			if err != nil {
				return err
			}
			for _, v := range releases {
				fmt.Println(v.ID)
			}
			return nil
		},
	}

	root.AddCommand(createCmd, provisionCmd, listCmd, deleteCmd, versionsCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// provisionAndReport runs provisioning and prints the settled outcome
func provisionAndReport(cmd *cobra.Command, app *app, name string) error {
	result, err := app.launcher.ProvisionInstance(cmd.Context(), name)
	if err != nil {
		return err
	}

	switch result.Outcome {
	case service.OutcomeSuccess:
		fmt.Printf("instance %q ready (%d entries verified)\n", name, result.Total)
		return nil
	case service.OutcomeCancelled:
		return errors.Cancelled(fmt.Errorf("%d of %d entries settled before interruption", result.Complete, result.Total))
	default:
		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "  failed %s: %v\n", f.Name, f.Err)
		}
		fmt.Fprintf(os.Stderr, "re-run provision to retry the failed entries\n")
		return &errors.PartialFailure{Failed: result.Failed}
	}
}

// app bundles the wired services for one command invocation
type app struct {
	launcher *service.LauncherService
	logger   *zap.Logger
}

func (a *app) close() {
	a.logger.Sync()
}

// buildApp loads configuration and wires the service graph:
// registry -> resolver -> provisioner
func buildApp() (*app, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		go serveMetrics(cfg.Metrics, logger)
	}

	client := remote.NewHTTPClient(remote.HTTPClientConfig{
		CatalogURL:     cfg.Catalog.URL,
		RequestTimeout: cfg.Provision.RequestTimeout,
		DownloadRate:   cfg.Provision.DownloadRate,
		DownloadBurst:  cfg.Provision.DownloadBurst,
	}, logger)

	store := contentstore.New(cfg.Storage.ObjectsDir, logger, m)

	catalogSvc := service.NewCatalogService(&service.CatalogConfig{
		Freshness:    cfg.Catalog.Freshness,
		FallbackFile: cfg.Catalog.FallbackFile,
	}, client, logger, m)

	manifestSvc := service.NewManifestService(nil, catalogSvc, logger)

	provisionSvc := service.NewProvisionService(&service.ProvisionConfig{
		Workers:      cfg.Provision.Workers,
		QueueSize:    cfg.Provision.QueueSize,
		MaxRetries:   cfg.Provision.MaxRetries,
		RetryBackoff: cfg.Provision.RetryBackoff,
		AssetBaseURL: cfg.Provision.AssetsURL,
	}, store, client, manifestSvc, logger, m)

	instanceSvc := service.NewInstanceService(&service.InstanceConfig{
		InstancesDir: cfg.Storage.InstancesDir,
		DefaultMemory: model.MemoryBounds{
			MinMB: cfg.Instance.DefaultMinMemoryMB,
			MaxMB: cfg.Instance.DefaultMaxMemoryMB,
		},
	}, logger, m)
	if err := instanceSvc.Load(); err != nil {
		return nil, err
	}

	launcherSvc := service.NewLauncherService(instanceSvc, manifestSvc, provisionSvc, catalogSvc, logger)
	return &app{launcher: launcherSvc, logger: logger}, nil
}

// serveMetrics exposes the Prometheus endpoint for long-running
// provisioning commands
func serveMetrics(cfg config.MetricsConfig, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped", zap.Error(err))
	}
}

// initLogger initializes the zap logger from config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level
	return zcfg.Build()
}
