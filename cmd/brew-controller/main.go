// Command brew-controller runs espresso brew profiles against the pump and
// publishes finished shots to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/brew-controller/internal/brew"
	"github.com/sweeney/brew-controller/internal/config"
	"github.com/sweeney/brew-controller/internal/profile"
	"github.com/sweeney/brew-controller/internal/shotstore"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	envFile    string
}

func (g *globalFlags) load() (*config.Config, error) {
	if err := config.LoadEnvFile(g.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "brew-controller",
		Short: "Closed-loop pressure control for an espresso brew.",
		Long: `brew-controller turns a brew profile into pump speed commands ` +
			`using pressure feedback, and records each shot.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "/etc/brew-controller/config.yaml", "YAML configuration file")
	root.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file with BREW_* overrides")

	root.AddCommand(
		newBrewCmd(g),
		newHomeCmd(g),
		newValidateCmd(),
		newShotsCmd(g),
	)
	return root
}

func newBrewCmd(g *globalFlags) *cobra.Command {
	var home bool

	cmd := &cobra.Command{
		Use:   "brew <profile>",
		Short: "Run a brew profile.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			p, err := profile.Load(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			return runBrewCommand(ctx, cfg, p, home)
		},
	}
	cmd.Flags().BoolVar(&home, "home", false, "home the pump before brewing")
	return cmd
}

func newHomeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "home",
		Short: "Drive the pump back to its home switch.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			r, err := openRig(cfg)
			if err != nil {
				return err
			}
			defer r.Close()

			log.Printf("homing: speed=%v timeout=%v", cfg.Actuator.HomingSpeed, cfg.Actuator.HomingTimeout)
			if err := r.stepper.Home(ctx, r.home); err != nil {
				return err
			}
			log.Printf("homing: complete")
			return nil
		},
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <profile>...",
		Short: "Check brew profiles without running them.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateProfiles(cmd.OutOrStdout(), args)
		},
	}
}

func newShotsCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "shots [id]",
		Short: "List recent shots, or print one shot as JSON.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			store, err := shotstore.Open(cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				return printShot(cmd.OutOrStdout(), store, args[0])
			}
			return listShots(cmd.OutOrStdout(), store, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of shots to list")
	return cmd
}

// validateProfiles loads every path and reports each result. It fails if
// any profile is invalid.
func validateProfiles(w io.Writer, paths []string) error {
	var failed int
	for _, path := range paths {
		p, err := profile.Load(path)
		if err != nil {
			fmt.Fprintf(w, "FAIL %v\n", err)
			failed++
			continue
		}
		fmt.Fprintf(w, "ok   %s: %s, %d stages, %d ticks of %v\n",
			path, p.Name, len(p.Stages), p.Ticks(), p.TickPeriod)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d profiles invalid", failed, len(paths))
	}
	return nil
}

type shotReader interface {
	Recent(n int) ([]brew.Shot, error)
	Get(id string) (brew.Shot, error)
}

func listShots(w io.Writer, store shotReader, limit int) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	shots, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(shots) == 0 {
		fmt.Fprintln(w, "no shots")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROFILE\tSTARTED\tRESULT\tTICKS\tPEAK BAR\tFAULTS")
	for _, s := range shots {
		sum := s.Log.Summary()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%d\n",
			s.ID, s.Log.Profile, s.Log.Started.Local().Format(time.DateTime),
			s.Result, sum.Ticks, sum.PeakPressure, sum.PressureFaults+sum.TemperatureFaults)
	}
	return tw.Flush()
}

func printShot(w io.Writer, store shotReader, id string) error {
	shot, err := store.Get(id)
	if err != nil {
		return err
	}
	data, err := brew.FormatShot(shot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// signalError is the cancellation cause when an operator stops the process.
type signalError struct {
	sig os.Signal
}

func (e signalError) Error() string {
	return "received " + signalName(e.sig)
}

// signalContext is cancelled with a signalError on SIGINT or SIGTERM.
func signalContext() (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case s := <-sigCh:
			log.Printf("received %v, stopping", s)
			cancel(signalError{sig: s})
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel(nil)
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// shutdownReason names why the process is exiting for the SHUTDOWN event.
func shutdownReason(ctx context.Context) string {
	var se signalError
	if errors.As(context.Cause(ctx), &se) {
		return signalName(se.sig)
	}
	return "EXIT"
}
