package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"runtime"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/compose-network/oracle/log"
	"github.com/compose-network/oracle/oracle-app/config"
	"github.com/compose-network/oracle/x/proof/groth16"
)

const defaultConfigPath = "oracle-app/configs/config.yaml"

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "oracle",
		Short: "Verifiable computation oracle",
		Long: "An oracle that records answers to numeric queries only when they are backed by a " +
			"zero-knowledge proof.",
		RunE:          runApp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}

	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "Generate development groth16 proving and verifying keys",
		RunE:  runSetup,
	}

	proveCmd = &cobra.Command{
		Use:   "prove",
		Short: "Prove the answer for a number and print result calldata",
		RunE:  runProve,
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE:  runConfig,
	}
)

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	rootCmd.AddCommand(versionCmd, setupCmd, proveCmd, configCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// Server flags
	rootCmd.PersistentFlags().String("listen-addr", "", "HTTP API listen address")
	rootCmd.PersistentFlags().Duration("read-timeout", 0, "HTTP read timeout")
	rootCmd.PersistentFlags().Duration("write-timeout", 0, "HTTP write timeout")

	// Metrics flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")

	// Backend flags
	rootCmd.PersistentFlags().String("store", "", "job store backend (memory, badger, redis)")
	rootCmd.PersistentFlags().String("verifier", "", "proof verifier backend (groth16, evm)")
	rootCmd.PersistentFlags().String("key-dir", "", "groth16 key directory")
	rootCmd.PersistentFlags().Bool("auth", false, "require signed requests")

	proveCmd.Flags().String("number", "", "number to prove the answer for (decimal or 0x hex)")
	_ = proveCmd.MarkFlagRequired("number")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgFile
	if !cmd.Flag("config").Changed {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := log.NewWithOptions(log.Options{
		Level:      cfg.Log.Level,
		Pretty:     cfg.Log.Pretty,
		Output:     cfg.Log.Output,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logger.Close()

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	logger.Info().
		Str("config_file", cfgFile).
		Str("listen_addr", cfg.API.ListenAddr).
		Str("store", cfg.Store.Backend).
		Str("verifier", cfg.Verifier.Backend).
		Bool("auth_enabled", cfg.Auth.Enabled).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Printf("Verifiable Computation Oracle\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	prover, err := groth16.Setup()
	if err != nil {
		return err
	}
	if err := prover.SaveKeys(cfg.Verifier.Groth16.KeyDir); err != nil {
		return fmt.Errorf("failed to save keys: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s and %s to %s\n",
		groth16.ProvingKeyFile, groth16.VerifyingKeyFile, cfg.Verifier.Groth16.KeyDir)
	return nil
}

type proveOutput struct {
	Number        string   `json:"number"`
	Answer        uint64   `json:"answer"`
	Proof         []string `json:"proof"`
	PublicSignals []string `json:"public_signals"`
	Calldata      string   `json:"calldata"`
}

func runProve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	raw, _ := cmd.Flags().GetString("number")
	number, ok := new(big.Int).SetString(raw, 0)
	if !ok || number.Sign() < 0 {
		return fmt.Errorf("invalid number %q", raw)
	}

	prover, err := groth16.LoadProver(cfg.Verifier.Groth16.KeyDir)
	if err != nil {
		return fmt.Errorf("failed to load keys (run setup first): %w", err)
	}
	payload, err := prover.Prove(number)
	if err != nil {
		return err
	}
	calldata, err := payload.EncodeCalldata()
	if err != nil {
		return err
	}

	out := proveOutput{
		Number:   number.String(),
		Answer:   payload.AnswerBit(),
		Calldata: hexutil.Encode(calldata),
	}
	for _, w := range payload.Proof {
		out.Proof = append(out.Proof, hexutil.EncodeBig(w))
	}
	for _, s := range payload.PublicSignals {
		out.PublicSignals = append(out.PublicSignals, hexutil.EncodeBig(s))
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("listen-addr")
	}
	if cmd.Flag("read-timeout").Changed {
		cfg.API.ReadTimeout, _ = cmd.Flags().GetDuration("read-timeout")
	}
	if cmd.Flag("write-timeout").Changed {
		cfg.API.WriteTimeout, _ = cmd.Flags().GetDuration("write-timeout")
	}

	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}

	if cmd.Flag("store").Changed {
		cfg.Store.Backend, _ = cmd.Flags().GetString("store")
	}
	if cmd.Flag("verifier").Changed {
		cfg.Verifier.Backend, _ = cmd.Flags().GetString("verifier")
	}
	if cmd.Flag("key-dir").Changed {
		cfg.Verifier.Groth16.KeyDir, _ = cmd.Flags().GetString("key-dir")
	}
	if cmd.Flag("auth").Changed {
		cfg.Auth.Enabled, _ = cmd.Flags().GetBool("auth")
	}
}
