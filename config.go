/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/PsEHAmfxXNKzrgwT/StopTheBus/games/stopthebus"
)

type Config struct {
	bind             string
	codeLength       int
	createLimit      int
	maxRounds        int
	port             int
	prefix           string
	profile          bool
	sessionTimeout   time.Duration
	snapshotInterval time.Duration
	snapshotPath     string
	tlsCert          string
	tlsKey           string
	verbose          bool
	version          bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.codeLength < 4 || c.codeLength > 12 {
		return fmt.Errorf("invalid code length (must be between 4-12 inclusive): %d", c.codeLength)
	}
	if c.createLimit < 0 {
		return fmt.Errorf("invalid create limit (must be 0 or greater): %d", c.createLimit)
	}
	if c.maxRounds < 0 {
		return fmt.Errorf("invalid max rounds (must be 0 or greater): %d", c.maxRounds)
	}
	if c.sessionTimeout < 0 {
		return fmt.Errorf("invalid session timeout (must be 0 or greater): %s", c.sessionTimeout)
	}
	if c.snapshotInterval <= 0 {
		return fmt.Errorf("invalid snapshot interval (must be greater than 0): %s", c.snapshotInterval)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("STOPTHEBUS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "stopthebus",
		Short:         "A multiplayer Stop the Bus word game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: STOPTHEBUS_BIND)")
	fs.IntVar(&cfg.codeLength, "code-length", stopthebus.DefaultCodeLength, "length of generated room codes (env: STOPTHEBUS_CODE_LENGTH)")
	fs.IntVar(&cfg.createLimit, "create-limit", 10, "rooms a single address may create per minute, 0 for unlimited (env: STOPTHEBUS_CREATE_LIMIT)")
	fs.IntVar(&cfg.maxRounds, "max-rounds", 0, "rounds per game before it ends, 0 for unlimited (env: STOPTHEBUS_MAX_ROUNDS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: STOPTHEBUS_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: STOPTHEBUS_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: STOPTHEBUS_PROFILE)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms with no listeners are removed, 0 to keep forever (env: STOPTHEBUS_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.snapshotInterval, "snapshot-interval", 30*time.Second, "how often to retry a failed snapshot (env: STOPTHEBUS_SNAPSHOT_INTERVAL)")
	fs.StringVar(&cfg.snapshotPath, "snapshot-path", "", "file to persist rooms to; .db/.sqlite use SQLite, anything else JSON (env: STOPTHEBUS_SNAPSHOT_PATH)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: STOPTHEBUS_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: STOPTHEBUS_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: STOPTHEBUS_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: STOPTHEBUS_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("stopthebus v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
