package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ValerySidorin/nsqconn/client"
	"github.com/ValerySidorin/nsqconn/config"
	"github.com/ValerySidorin/nsqconn/internal/observability"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	Commit string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "nsqconn",
		Short:         "Single connection NSQ consumer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(consumeCmd(), versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s commit: %s\n", client.DefaultUserAgent, Commit)
		},
	}
}

func consumeCmd() *cobra.Command {
	var (
		confPath    string
		topic       string
		channel     string
		maxInFlight int
	)

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Subscribe to a topic/channel, log and finish every message",
		RunE: func(cmd *cobra.Command, args []string) error {
			var conf config.Config
			if err := loadConfig(confPath, &conf); err != nil {
				return err
			}

			if topic != "" {
				conf.Consumer.Topic = topic
			}
			if channel != "" {
				conf.Consumer.Channel = channel
			}
			if maxInFlight > 0 {
				conf.Consumer.MaxInFlight = maxInFlight
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
			defer cancel()

			return consume(ctx, conf, newLogger(conf.Log))
		},
	}

	cmd.Flags().StringVarP(&confPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&topic, "topic", "", "topic to subscribe to")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to subscribe to")
	cmd.Flags().IntVar(&maxInFlight, "rdy", 0, "ready count sent after subscribing")

	return cmd
}

func consume(ctx context.Context, conf config.Config, l *slog.Logger) error {
	l.Info("starting nsqconn consumer")
	l.Info(fmt.Sprintf("commit: %s", Commit))

	shutdownObs, err := observability.Init(ctx, conf.Observability, l)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownObs(sctx)
	}()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	onConnect := func(c *client.Conn) {
		resp, err := c.IdentifyWait(ctx, conf.Consumer.Identify)
		if err != nil {
			cancel(fmt.Errorf("identify: %w", err))
			return
		}
		l.Info("identified", "response", string(resp.Body))

		if err := c.Subscribe(conf.Consumer.Topic, conf.Consumer.Channel, func(msg *client.Message) {
			l.Debug("message",
				"id", msg.ID.String(),
				"attempts", msg.Attempts,
				"timestamp", msg.Timestamp,
				"body", msg.String())
			if err := msg.Finish(); err != nil {
				l.Error("finish message", "id", msg.ID.String(), "err", err)
			}
		}); err != nil {
			cancel(fmt.Errorf("subscribe: %w", err))
			return
		}

		if err := c.Ready(conf.Consumer.MaxInFlight); err != nil {
			cancel(fmt.Errorf("ready: %w", err))
			return
		}

		l.Info("subscribed", "topic", conf.Consumer.Topic, "channel", conf.Consumer.Channel)
	}

	onError := func(c *client.Conn, err error) {
		cancel(err)
	}

	conn, err := client.Connect(ctx, conf.NSQ.ClientConfig(onConnect, onError), client.WithLogger(l))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	eg, eCtx := errgroup.WithContext(ctx)

	if conf.Observability.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(conf.Observability.Metrics.Path, observability.Handler())
		srv := &http.Server{Addr: conf.Observability.Metrics.Addr, Handler: mux}

		eg.Go(func() error {
			l.Info("metrics server started", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics http server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-eCtx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	eg.Go(func() error {
		select {
		case <-eCtx.Done():
		case <-conn.Done():
			cancel(client.ErrConnClosed)
		}
		return conn.Close()
	})

	if err := eg.Wait(); err != nil {
		return err
	}

	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	l.Info("consumer stopped")
	return nil
}

func newLogger(conf config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(conf.Level),
	}

	switch conf.Type {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
}

func parseLogLevel(name string) slog.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func loadConfig(filePath string, cfg *config.Config) error {
	paths := []string{}

	if filePath == "" {
		paths = append(paths, "./config.yaml", "conf/config.yaml", "config/config.yaml")
	} else {
		paths = append(paths, filePath)
	}

	for _, p := range paths {
		f, err := os.Open(p)
		if err == nil {
			defer f.Close()
			log.Printf("found config file in: %s\n", p)
			data, err := io.ReadAll(f)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("unmarshal config: %w", err)
			}

			cfg.SetDefaults()
			return nil
		}
	}

	return fmt.Errorf("failed to find config in: %v", paths)
}
