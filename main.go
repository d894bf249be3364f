// Command go-require loads and hot-reloads path-addressed code units.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// flags holds command-line overrides of the config file
type flags struct {
	config  string
	engine  string
	path    []string
	noCache bool
	journal string
	verbose bool
	addr    string
	noWatch bool
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:          "go-require",
		Short:        "Load and hot-reload path-addressed code units",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.config, "config", "c", "", "config file (default: config.yaml in the data directory)")
	pf.StringVar(&f.engine, "engine", "", "unit engine: starlark or lua")
	pf.StringSliceVarP(&f.path, "path", "p", nil, "global search directories")
	pf.BoolVar(&f.noCache, "no-cache", false, "do not write cache files")
	pf.StringVar(&f.journal, "journal", "", `journal database path, or "off"`)
	pf.BoolVarP(&f.verbose, "verbose", "v", false, "log cache decisions")

	root.AddCommand(newRunCmd(f), newServeCmd(f))
	return root
}

// loadConfig reads the config file and applies the flags that were set
func loadConfig(cmd *cobra.Command, f *flags) (Config, error) {
	cfg, err := LoadConfig(f.config)
	if err != nil {
		return cfg, err
	}
	fs := cmd.Flags()
	if fs.Changed("engine") {
		cfg.Engine = f.engine
	}
	if fs.Changed("path") {
		cfg.Path = f.path
	}
	if fs.Changed("no-cache") {
		cfg.WriteCache = !f.noCache
	}
	if fs.Changed("journal") {
		cfg.Journal = f.journal
	}
	if fs.Changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if fs.Changed("addr") {
		cfg.Addr = f.addr
	}
	if fs.Changed("no-watch") {
		cfg.Watch.Enabled = !f.noWatch
	}
	return cfg, cfg.Validate()
}

func newRunCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "run <ref>...",
		Short: "Load units and print their exports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.shutdown()

			results, err := app.Run(args)
			for _, v := range results {
				fmt.Fprintln(cmd.OutOrStdout(), format(v))
			}
			return err
		},
	}
}

func newServeCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured roots, watch them and serve the inspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			cfg.Roots = append(cfg.Roots, args...)

			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.shutdown()

			if err := app.startup(); err != nil {
				return err
			}

			srv := &http.Server{Addr: cfg.Addr, Handler: newServer(app)}
			errc := make(chan error, 1)
			go func() {
				log.Printf("Starting server on http://%s\n", cfg.Addr)
				errc <- srv.ListenAndServe()
			}()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errc:
				return fmt.Errorf("server failed: %w", err)
			case <-sig:
				log.Printf("Shutting down")
				return srv.Close()
			}
		},
	}
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address")
	cmd.Flags().BoolVar(&f.noWatch, "no-watch", false, "disable hot reload")
	return cmd
}
