// Package natsconf renders the clustered broker configuration files for the
// forms event log: one server config per node, carrying the credential-class
// account permissions.
package natsconf

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/formworks/formworks/internal/broker/topology"
	entrypoint "github.com/formworks/formworks/internal/platform/cmd"
)

// Config holds natsconf command configuration.
type Config struct {
	OutputDir       string `env:"FORMWORKS_NATSCONF_OUTPUT_DIR" envDefault:"deploy/nats"`
	ClusterName     string `env:"FORMWORKS_NATSCONF_CLUSTER_NAME" envDefault:"chefs-events"`
	Nodes           int    `env:"FORMWORKS_NATSCONF_NODES" envDefault:"3"`
	BaseClientPort  int    `env:"FORMWORKS_NATSCONF_CLIENT_PORT" envDefault:"4222"`
	BaseClusterPort int    `env:"FORMWORKS_NATSCONF_CLUSTER_PORT" envDefault:"6222"`
	StoreDir        string `env:"FORMWORKS_NATSCONF_STORE_DIR" envDefault:"/var/lib/nats"`
	Account         string `env:"FORMWORKS_NATSCONF_ACCOUNT" envDefault:"FORMS"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.OutputDir, "output-dir", cfg.OutputDir, "Directory receiving the rendered config files")
	fs.StringVar(&cfg.ClusterName, "cluster-name", cfg.ClusterName, "Broker routing cluster name")
	fs.IntVar(&cfg.Nodes, "nodes", cfg.Nodes, "Cluster size")
	fs.IntVar(&cfg.BaseClientPort, "client-port", cfg.BaseClientPort, "First node's client port")
	fs.IntVar(&cfg.BaseClusterPort, "cluster-port", cfg.BaseClusterPort, "First node's route port")
	fs.StringVar(&cfg.StoreDir, "store-dir", cfg.StoreDir, "Per-node storage root")
	fs.StringVar(&cfg.Account, "account", cfg.Account, "Account holding the credential users")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run renders one configuration file per cluster node into the output
// directory.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithLogger(ctx, entrypoint.ServiceNatsConf, func(_ context.Context, logger *zap.Logger) error {
		nodes := topology.Render(topology.ClusterConfig{
			ClusterName:     cfg.ClusterName,
			Nodes:           cfg.Nodes,
			BaseClientPort:  cfg.BaseClientPort,
			BaseClusterPort: cfg.BaseClusterPort,
			StoreDir:        cfg.StoreDir,
			Account:         cfg.Account,
		})

		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		for _, node := range nodes {
			path := filepath.Join(cfg.OutputDir, node.Name)
			if err := os.WriteFile(path, []byte(node.Content), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", node.Name, err)
			}
			logger.Info("broker config rendered", zap.String("path", path))
		}
		return nil
	})
}
