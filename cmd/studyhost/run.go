package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tickfolio/studyhost/internal/study"
)

func newRunCommand() *cobra.Command {
	var (
		configPath string
		root       string
		interval   time.Duration
		noWatch    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the study runtime with a synthetic data feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultHostConfig()
			if configPath != "" {
				loaded, err := loadHostConfig(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			if root != "" {
				cfg.PluginRoot = root
			}
			if cmd.Flags().Changed("interval") {
				cfg.UpdateInterval = interval
			}
			if noWatch {
				cfg.Watch = false
			}

			return runHost(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	cmd.Flags().StringVarP(&root, "root", "r", "", "plugin root directory (overrides config)")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "synthetic update interval")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable hot reload watching")

	return cmd
}

func runHost(cfg hostConfig) error {
	logger := newLogger(cfg.LogLevel)

	metrics := study.NewMetrics(prometheus.DefaultRegisterer)
	registry := study.NewRegistry(logger, metrics)
	loader := study.NewLoader(cfg.PluginRoot, registry, logger, metrics)
	coordinator := study.NewCoordinator(loader, registry, logger, metrics)
	defer coordinator.Close()

	ctx := &study.Context{
		Surfaces:   make(map[string]study.Surface, len(cfg.Timeframes)),
		Timeframes: cfg.Timeframes,
	}
	for _, tf := range cfg.Timeframes {
		ctx.Surfaces[tf] = newLogSurface(tf, logger)
	}

	if err := coordinator.Initialize(ctx); err != nil {
		return err
	}

	if cfg.Watch {
		watcher, err := study.NewWatcher(loader, coordinator.Reintegrations(), logger,
			study.WithDebounce(cfg.Debounce))
		if err != nil {
			return err
		}
		if err := watcher.Start(); err != nil {
			return err
		}
		defer watcher.Close()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	feed := newSyntheticFeed()
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	logger.Info().Str("root", cfg.PluginRoot).Msg("studyhost running, ctrl-c to stop")

	for {
		select {
		case <-signals:
			status := coordinator.Status()
			logger.Info().
				Int("loaded", status.LoadedCount).
				Int("errors", status.ErrorCount).
				Msg("shutting down")
			coordinator.Destroy()
			return nil
		case <-ticker.C:
			chart, sessions := feed.next()
			coordinator.UpdateData(chart, sessions)
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(lvl).
		With().Timestamp().Logger()
}

// logSurface is a stand-in rendering surface that logs primitive
// operations instead of drawing pixels.
type logSurface struct {
	timeframe string
	logger    zerolog.Logger
	seq       int
}

func newLogSurface(timeframe string, logger zerolog.Logger) *logSurface {
	return &logSurface{
		timeframe: timeframe,
		logger:    logger.With().Str("surface", timeframe).Logger(),
	}
}

func (s *logSurface) AddPrimitive(kind string, props map[string]any) string {
	s.seq++
	id := fmt.Sprintf("%s-%d", s.timeframe, s.seq)
	s.logger.Debug().Str("kind", kind).Str("id", id).Interface("props", props).Msg("add primitive")
	return id
}

func (s *logSurface) RemovePrimitive(id string) {
	s.logger.Debug().Str("id", id).Msg("remove primitive")
}

// syntheticFeed produces a random-walk candle stream so studies have
// something to chew on without a market data connection.
type syntheticFeed struct {
	rng   *rand.Rand
	price float64
	bar   int
}

func newSyntheticFeed() *syntheticFeed {
	return &syntheticFeed{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		price: 100,
	}
}

func (f *syntheticFeed) next() (study.ChartData, []study.Session) {
	f.bar++
	open := f.price
	f.price += f.rng.NormFloat64()
	high := math.Max(open, f.price) + f.rng.Float64()/2
	low := math.Min(open, f.price) - f.rng.Float64()/2

	chart := study.ChartData{
		"bar":    f.bar,
		"open":   open,
		"high":   high,
		"low":    low,
		"close":  f.price,
		"volume": 1000 + f.rng.Intn(9000),
	}
	sessions := []study.Session{
		{"name": "rth", "open": "09:30", "close": "16:00"},
	}
	return chart, sessions
}
