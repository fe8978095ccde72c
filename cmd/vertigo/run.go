package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/caffeineduck/vertigo/config"
	"github.com/caffeineduck/vertigo/deploy"
	"github.com/caffeineduck/vertigo/value"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run <verticle>",
	Short: "Deploy a verticle and run until interrupted",
	Long: `Deploy a verticle and keep it running until interrupted.

The verticle is named by:
  - A WASM module on disk: vertigo run ./hello.wasm
  - A module URL (host must be in deploy.allowed_module_hosts):
      vertigo run https://example.com/hello.wasm

The deployment ID is printed on stdout once every instance has started.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("instances", "n", 1, "Number of instances")
	cmd.Flags().String("conf", "", "Verticle config: inline JSON object or a file containing one")
	cmd.Flags().StringToString("env", nil, "Environment for WASM verticles (KEY=VALUE, repeatable)")
	cmd.Flags().Bool("disk-cache", false, "Cache compiled modules on disk (overrides config)")
}

func deploymentOptions(cmd *cobra.Command) (deploy.DeploymentOptions, error) {
	instances, _ := cmd.Flags().GetInt("instances")
	conf, _ := cmd.Flags().GetString("conf")
	env, _ := cmd.Flags().GetStringToString("env")

	o := deploy.DeploymentOptions{Instances: instances, Env: env}
	if instances < 1 {
		return o, fmt.Errorf("--instances must be at least 1")
	}
	if conf == "" {
		return o, nil
	}
	text := conf
	if !strings.HasPrefix(strings.TrimSpace(conf), "{") {
		data, err := os.ReadFile(conf)
		if err != nil {
			return o, err
		}
		text = string(data)
	}
	cfg, err := value.DecodeObject(text)
	if err != nil {
		return o, fmt.Errorf("--conf: %w", err)
	}
	o.Config = cfg
	return o, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	opts, err := deploymentOptions(cmd)
	if err != nil {
		return err
	}
	in, err := start(cmd, func(cfg *config.Config) {
		if cmd.Flags().Changed("disk-cache") {
			cfg.Deploy.DiskCache, _ = cmd.Flags().GetBool("disk-cache")
		}
	})
	if err != nil {
		return err
	}
	defer in.stop()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	id, err := in.vx.Deploy(args[0], opts).Await(ctx)
	if err != nil {
		return err
	}
	in.log.Info("verticle deployed", zap.String("name", args[0]), zap.String("id", id))
	fmt.Fprintln(cmd.OutOrStdout(), id)

	<-ctx.Done()
	return nil
}
