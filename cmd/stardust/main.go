// Command stardust runs source connectors locally for development: list the
// registered connectors, print their schemas, or execute a full debug sync
// into a local SQLite warehouse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stardust/pkg/config"
	"github.com/ajitpratap0/stardust/pkg/connector/registry"
	jsonpool "github.com/ajitpratap0/stardust/pkg/json"
	"github.com/ajitpratap0/stardust/pkg/logger"
	"github.com/ajitpratap0/stardust/pkg/runtime"

	// connector registrations
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/crypto"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/exchangerate"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/movies"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/nationalparks"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/oura"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/qbr"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/solarsystem"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/vehicles"
	_ "github.com/ajitpratap0/stardust/pkg/connector/sources/weather"
)

var (
	version = "dev"

	cfgFile   string
	dataDir   string
	logLevel  string
	logFormat string
	settings  []string
	doExport  bool
)

var rootCmd = &cobra.Command{
	Use:   "stardust",
	Short: "Local host for stardust source connectors",
	Long: `Stardust runs source connectors against their real APIs and lands
the results in a local SQLite warehouse, with sync state persisted between
runs. It is the development loop for connector authors.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional
		_ = godotenv.Load()

		return logger.Init(logger.Config{
			Level:    viper.GetString("log_level"),
			Encoding: viper.GetString("log_format"),
		})
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stardust %s\n", version)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered connectors",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range registry.ListSources() {
			fmt.Println(name)
		}
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema <connector>",
	Short: "Print a connector's table schemas as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}

		source, err := registry.CreateSource(args[0], cfg)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := source.Initialize(ctx, cfg); err != nil {
			return err
		}
		defer source.Close(ctx)

		schemas, err := source.Schema(ctx)
		if err != nil {
			return err
		}

		out, err := jsonpool.MarshalIndent(schemas, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug <connector>",
	Short: "Run one full sync into the local warehouse",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		log := logger.Get()

		cfg, err := loadConfig(name)
		if err != nil {
			return err
		}

		source, err := registry.CreateSource(name, cfg)
		if err != nil {
			return err
		}

		runner, err := runtime.NewRunner(source, cfg, dataDir, log)
		if err != nil {
			return err
		}
		defer runner.Close()

		summary, err := runner.Run(cmd.Context())
		if err != nil {
			return err
		}

		if doExport {
			exportDir := dataDir + "/export"
			if err := runner.Warehouse().ExportJSONL(cmd.Context(), exportDir); err != nil {
				return err
			}
		}

		log.Info("debug run finished",
			zap.String("run_id", summary.RunID),
			zap.Any("upserts", summary.Upserts),
			zap.Any("updates", summary.Updates),
			zap.Any("skipped", summary.Skipped),
			zap.Int("checkpoints", summary.Checkpoints),
			zap.Duration("duration", summary.Duration))
		return nil
	},
}

// loadConfig builds the connector configuration from the optional config
// file plus any --set overrides. Settings may also arrive from the
// environment as STARDUST_SETTING_<KEY>.
func loadConfig(name string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadFile(cfgFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.New(name)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}

	const envPrefix = "STARDUST_SETTING_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		pair := strings.SplitN(strings.TrimPrefix(kv, envPrefix), "=", 2)
		if len(pair) == 2 {
			cfg.Settings[strings.ToLower(pair[0])] = pair[1]
		}
	}

	for _, kv := range settings {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		cfg.Settings[pair[0]] = pair[1]
	}

	return cfg, cfg.Validate()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "connector config file (yaml or json)")
	pf.StringVarP(&dataDir, "data-dir", "d", "files", "directory for warehouse.db and state.json")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "console", "log encoding (console or json)")

	debugCmd.Flags().StringArrayVar(&settings, "set", nil, "connector setting override (key=value)")
	debugCmd.Flags().BoolVar(&doExport, "export", false, "export synced tables as gzip JSONL after the run")
	schemaCmd.Flags().StringArrayVar(&settings, "set", nil, "connector setting override (key=value)")

	viper.SetEnvPrefix("stardust")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("log_level", pf.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", pf.Lookup("log-format"))

	rootCmd.AddCommand(versionCmd, listCmd, schemaCmd, debugCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Get().Error("command failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	_ = logger.Sync()
}
