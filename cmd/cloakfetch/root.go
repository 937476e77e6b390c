package main

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sardanioss/cloakfetch"
	"github.com/sardanioss/cloakfetch/client"
	"github.com/sardanioss/cloakfetch/config"
)

const version = "1.0.0"

// globalState holds what every subcommand shares. Tests swap the streams
// and the environment.
type globalState struct {
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	env    map[string]string // nil reads the process environment

	flags globalFlags
}

type globalFlags struct {
	configPath string
	profile    string
	timeout    time.Duration
	proxy      string
	insecure   bool
	logLevel   string
}

func globalFlagSet(f *globalFlags) *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	flags.StringVar(&f.profile, "profile", "", "fingerprint profile")
	flags.DurationVar(&f.timeout, "timeout", 0, "request timeout")
	flags.StringVar(&f.proxy, "proxy", "", "proxy URL (http, https, socks5, socks5h)")
	flags.BoolVarP(&f.insecure, "insecure", "k", false, "skip TLS certificate verification")
	flags.StringVar(&f.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	return flags
}

// loadConfig merges file, environment and flags, in that order.
func (gs *globalState) loadConfig() (config.Config, error) {
	cfg, err := config.Load(gs.flags.configPath, gs.env)
	if err != nil {
		return cfg, err
	}
	if gs.flags.profile != "" {
		cfg.Profile = gs.flags.profile
	}
	if gs.flags.timeout > 0 {
		cfg.Timeout = config.Duration(gs.flags.timeout)
	}
	if gs.flags.proxy != "" {
		cfg.Proxy = gs.flags.proxy
	}
	if gs.flags.insecure {
		cfg.InsecureSkipVerify = true
	}
	if gs.flags.logLevel != "" {
		cfg.LogLevel = gs.flags.logLevel
	}
	return cfg, cfg.Validate()
}

func (gs *globalState) newClient() (*client.Client, config.Config, *logrus.Logger, error) {
	cfg, err := gs.loadConfig()
	if err != nil {
		return nil, cfg, nil, err
	}
	log, err := cfg.NewLogger(gs.stderr)
	if err != nil {
		return nil, cfg, nil, err
	}
	c, err := cloakfetch.NewWithLogger(cfg, log)
	if err != nil {
		return nil, cfg, nil, err
	}
	return c, cfg, log, nil
}

func newRootCmd(gs *globalState) *cobra.Command {
	root := &cobra.Command{
		Use:           "cloakfetch",
		Short:         "Fetch URLs with a browser TLS fingerprint",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(gs.stdin)
	root.SetOut(gs.stdout)
	root.SetErr(gs.stderr)
	root.PersistentFlags().AddFlagSet(globalFlagSet(&gs.flags))

	root.AddCommand(
		getCmdFetch(gs),
		getCmdProfiles(gs),
		getCmdWS(gs),
		getCmdDaemon(gs),
	)
	return root
}
