package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ryanoboyle/fleetship/internal/config"
	"github.com/ryanoboyle/fleetship/internal/fanout"
	"github.com/ryanoboyle/fleetship/internal/gitdiff"
	"github.com/ryanoboyle/fleetship/internal/pipeline"
	"github.com/ryanoboyle/fleetship/internal/review"
	"github.com/ryanoboyle/fleetship/internal/watch"
)

const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "fleetship",
	Short: "Deploy a locally-assembled tree to one or more remote destinations",
	Long: `fleetship pushes a locally-assembled directory to one or more remote
destinations over a pluggable transport (local, sftp, scp, rsync).

Features:
  - Deploy to any number of targets, sequentially or in parallel
  - Mirror mode plans remote deletions when the transport supports listing
  - Review changes in a browser before they go out
  - Watch a directory and redeploy on change`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init" || cmd.Name() == "show" || (cmd.Parent() != nil && cmd.Parent().Name() == "config") {
			return nil
		}
		return config.Init()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetship version %s\n", Version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage target configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Add a deployment target interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(); err != nil {
			return err
		}

		reader := bufio.NewReader(os.Stdin)
		prompt := func(label, def string) string {
			if def != "" {
				fmt.Printf("%s [%s]: ", label, def)
			} else {
				fmt.Printf("%s: ", label)
			}
			line, _ := reader.ReadString('\n')
			line = strings.TrimSpace(line)
			if line == "" {
				return def
			}
			return line
		}

		host := prompt("Host", "")
		portStr := prompt("Port", "22")
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port: %w", err)
		}
		user := prompt("User", "")
		protocol := prompt("Protocol (local/sftp/scp/rsync)", "sftp")
		dest := prompt("Destination path", "")
		auth := prompt("Auth (key-file/password/none)", "key-file")

		target := config.TargetConfig{
			Host:     host,
			Port:     port,
			User:     user,
			Protocol: config.Protocol(protocol),
			Dest:     dest,
			Auth:     config.AuthMethod(auth),
			SyncMode: config.SyncUpdate,
			Retry:    3,
		}

		if target.Auth == config.AuthKeyFile {
			target.KeyFile = prompt("Key file path", "~/.ssh/id_ed25519")
		} else if target.Auth == config.AuthPassword {
			target.Password = prompt("Password", "")
		}

		cfg := config.Get()
		cfg.Targets = append(cfg.Targets, target)
		if cfg.ReviewPort == 0 {
			cfg.ReviewPort = 4173
		}
		config.SetTargets(cfg.Targets)

		if err := config.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		fmt.Printf("Target %s saved to %s\n", target.Identity(), config.GetConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Init(); err != nil {
			return err
		}

		cfg := config.Get()
		fmt.Printf("Config file: %s\n", config.GetConfigPath())
		fmt.Printf("Review port: %d\n", cfg.ReviewPort)

		if len(cfg.Targets) == 0 {
			fmt.Println("No targets configured. Run `fleetship config init` to add one.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "HOST\tPORT\tPROTOCOL\tDEST\tSYNC MODE")
		for _, t := range cfg.Targets {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", t.Host, t.Port, t.Protocol, t.Dest, t.SyncMode)
		}
		w.Flush()
		return nil
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy [path]",
	Short: "Deploy the local tree to every configured target",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		localPath := "."
		if len(args) == 1 {
			localPath = args[0]
		}

		targets, err := config.Load()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets configured; run `fleetship config init`")
		}

		parallel, _ := cmd.Flags().GetBool("parallel")
		strict, _ := cmd.Flags().GetBool("strict")
		deleteRemote, _ := cmd.Flags().GetBool("delete")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		onProgress := func(event pipeline.ProgressEvent) {
			fmt.Printf("\r[%s] %s: %s", event.TargetID, event.Phase, event.CurrentFile)
		}

		result, err := runDeploy(ctx, localPath, targets, fanout.Options{
			Parallel:     parallel,
			Strict:       strict,
			DeleteRemote: deleteRemote,
		}, onProgress)
		if result == nil {
			return err
		}

		fmt.Println()
		printAggregate(result)
		if err != nil {
			return err
		}
		if result.FailedTargets > 0 {
			return fmt.Errorf("%d target(s) failed", result.FailedTargets)
		}
		return nil
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review <path> <base> [target]",
	Short: "Review a diff against every configured target in the browser before deploying",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		localPath := args[0]
		base := args[1]
		target := ""
		if len(args) == 3 {
			target = args[2]
		}

		targets, err := config.Load()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets configured; run `fleetship config init`")
		}

		absPath, err := filepath.Abs(localPath)
		if err != nil {
			return err
		}

		provider := gitdiff.New(absPath)
		diff, err := provider.Collect(base, target)
		if err != nil {
			return err
		}

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = config.Get().ReviewPort
		}

		server := review.NewServer(port, diff, provider, targets, newDriver, nil, absPath)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			cancel()
		}()

		fmt.Printf("Review server listening on http://127.0.0.1:%d\n", port)
		fmt.Println("Open the link above to inspect the diff; Ctrl+C cancels.")

		result, err := server.Start(ctx)
		if err != nil {
			return err
		}

		if !result.Confirmed {
			fmt.Printf("Review cancelled (%s)\n", result.CancelReason)
			return nil
		}

		controller := result.ProgressController
		defer controller.Close()

		deployResult, err := runDeploy(ctx, localPath, targets, fanout.Options{}, func(event pipeline.ProgressEvent) {
			_ = controller.SendProgress(event)
		})
		if deployResult == nil {
			_ = controller.SendError(err.Error())
			return err
		}

		_ = controller.SendComplete(review.CompleteSummary{
			SuccessTargets: deployResult.SuccessTargets,
			FailedTargets:  deployResult.FailedTargets,
			TotalFiles:     deployResult.TotalFiles,
			TotalSize:      deployResult.TotalSize,
			TotalDuration:  deployResult.TotalDuration,
		})

		printAggregate(deployResult)
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch a directory and redeploy on change",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		localPath := "."
		if len(args) == 1 {
			localPath = args[0]
		}

		targets, err := config.Load()
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return fmt.Errorf("no targets configured; run `fleetship config init`")
		}

		absPath, _ := filepath.Abs(localPath)
		fmt.Printf("Watching %s for changes...\n", absPath)
		fmt.Println("Press Ctrl+C to stop")

		deployFunc := func(ctx context.Context, changed []string) error {
			fmt.Printf("[DEPLOY] %d path(s) changed\n", len(changed))
			result, err := runDeploy(ctx, localPath, targets, fanout.Options{}, func(event pipeline.ProgressEvent) {
				fmt.Printf("\r[%s] %s: %s", event.TargetID, event.Phase, event.CurrentFile)
			})
			if result == nil {
				return err
			}
			fmt.Println()
			printAggregate(result)
			return err
		}

		trigger, err := watch.NewDeployTrigger(absPath, deployFunc, nil)
		if err != nil {
			return err
		}
		trigger.OnError = func(err error) {
			fmt.Printf("[ERROR] deploy failed: %v\n", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := trigger.Start(ctx); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nStopping watcher...")
		trigger.Stop()
		return nil
	},
}

func printAggregate(result *pipeline.AggregateResult) {
	fmt.Printf("Targets: %d succeeded, %d failed\n", result.SuccessTargets, result.FailedTargets)
	fmt.Printf("Files: %d (%s)\n", result.TotalFiles, formatSize(result.TotalSize))
	fmt.Printf("Duration: %s\n", result.TotalDuration)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func init() {
	rootCmd.AddCommand(versionCmd)

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)

	deployCmd.Flags().Bool("parallel", false, "Deploy to every target concurrently")
	deployCmd.Flags().Bool("strict", false, "Stop launching new targets once one has failed")
	deployCmd.Flags().Bool("delete", false, "Delete remote files absent from the local tree (mirror-mode targets)")
	rootCmd.AddCommand(deployCmd)

	reviewCmd.Flags().IntP("port", "p", 0, "Port for the review server (0 = config default)")
	rootCmd.AddCommand(reviewCmd)

	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
