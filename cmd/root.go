package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/rootSig/electrum-atom-t/internal/bootstrap"
	"github.com/rootSig/electrum-atom-t/internal/engine"
)

var cfgFile string
var logger = logrus.New()

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "spvheaders",
	Short: "spvheaders verifies and stores a Bitcoin-family block header chain",
	Long: `spvheaders is a backend service that maintains a locally verified
         header-only block chain, suitable for SPV wallets and light clients`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := engine.Options{
			DataDir:         viper.GetString("data-dir"),
			BootstrapURL:    viper.GetString("bootstrap-url"),
			NoBootstrap:     viper.GetBool("no-bootstrap"),
			ValidateArchive: viper.GetBool("validate-archive"),
			LogLevel:        uint32(viper.GetUint64("log-level")),
		}

		engine.Log.Debugf("Options: %#v\n", opts)

		if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
			os.Stderr.WriteString(fmt.Sprintf("\n  ** Can't create data directory: %s\n\n", opts.DataDir))
			os.Exit(1)
		}

		if err := startServer(opts); err != nil {
			engine.Log.WithFields(logrus.Fields{
				"error": err,
			}).Fatal("couldn't start engine")
		}
	},
}

func startServer(opts engine.Options) error {
	logger.SetLevel(logrus.Level(opts.LogLevel))

	e, err := engine.New(opts)
	if err != nil {
		engine.Log.WithFields(logrus.Fields{
			"error": err,
		}).Fatal("couldn't open header store")
	}

	ctx, cancel := context.WithCancel(context.Background())

	bootOpts := bootstrap.Options{
		Skip:           opts.NoBootstrap,
		URL:            opts.BootstrapURL,
		ValidateOnLoad: opts.ValidateArchive,
	}
	if err := e.Start(ctx, bootOpts); err != nil {
		cancel()
		return err
	}

	tip, _ := e.TipHeight()
	engine.Log.WithField("tip_height", tip).Info("engine started")

	g, gctx := errgroup.WithContext(ctx)
	httpAddr := viper.GetString("http-bind-addr")
	g.Go(func() error {
		return startHTTPServer(gctx, httpAddr)
	})
	g.Go(func() error {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		select {
		case s := <-signals:
			engine.Log.WithFields(logrus.Fields{
				"signal": s.String(),
			}).Info("caught signal, stopping engine")
		case <-gctx.Done():
		}
		e.Stop()
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		engine.Log.WithField("error", err).Warn("server group exited with error")
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is current directory, spvheaders.yaml)")
	rootCmd.Flags().String("http-bind-addr", "127.0.0.1:9068", "the address to listen for http (metrics) on")
	rootCmd.Flags().String("data-dir", "/var/lib/spvheaders", "data directory holding the header store")
	rootCmd.Flags().String("bootstrap-url", bootstrap.DefaultURL, "URL to fetch an initial header archive from")
	rootCmd.Flags().Bool("no-bootstrap", false, "skip fetching the initial header archive; fill the store from peers instead")
	rootCmd.Flags().Bool("validate-archive", false, "validate every epoch of a freshly downloaded bootstrap archive before trusting it")
	rootCmd.Flags().Int("log-level", int(logrus.InfoLevel), "log level (logrus 1-7)")

	viper.BindPFlag("http-bind-addr", rootCmd.Flags().Lookup("http-bind-addr"))
	viper.SetDefault("http-bind-addr", "127.0.0.1:9068")
	viper.BindPFlag("data-dir", rootCmd.Flags().Lookup("data-dir"))
	viper.SetDefault("data-dir", "/var/lib/spvheaders")
	viper.BindPFlag("bootstrap-url", rootCmd.Flags().Lookup("bootstrap-url"))
	viper.SetDefault("bootstrap-url", bootstrap.DefaultURL)
	viper.BindPFlag("no-bootstrap", rootCmd.Flags().Lookup("no-bootstrap"))
	viper.SetDefault("no-bootstrap", false)
	viper.BindPFlag("validate-archive", rootCmd.Flags().Lookup("validate-archive"))
	viper.SetDefault("validate-archive", false)
	viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	viper.SetDefault("log-level", int(logrus.InfoLevel))

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
	})

	onexit := func() {
		fmt.Printf("spvheaders died with a Fatal error. Check logs for details.\n")
	}

	engine.Log = logger.WithFields(logrus.Fields{
		"app": "spvheaders",
	})

	logrus.RegisterExitHandler(onexit)

	engine.Time.Sleep = time.Sleep
	engine.Time.Now = time.Now
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("spvheaders")
	}

	replacer := strings.NewReplacer("-", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// startHTTPServer serves Prometheus metrics until ctx is cancelled, at
// which point it shuts the listener down and returns, allowing the
// errgroup it's running under to observe a clean exit alongside the
// signal-handling goroutine.
func startHTTPServer(ctx context.Context, bindAddr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: bindAddr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
