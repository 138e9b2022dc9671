package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/sievekit/cidrsieve/event"
	"github.com/sievekit/cidrsieve/sieve"
)

const name = "cidrsieve"

// version is overridden at build time via -ldflags.
var version = "dev"

var log = logging.Logger("cidrsieve")

// maxEventBytes bounds a single NDJSON event line.
const maxEventBytes = 1 << 20

// config is the process configuration: the filter itself plus pipeline and
// admin-surface settings.
type config struct {
	Filter    sieve.Config `mapstructure:"filter"`
	Workers   int          `mapstructure:"workers"`
	AdminAddr string       `mapstructure:"admin_addr"`
	LogLevel  string       `mapstructure:"log_level"`
}

// loadConfig reads the YAML config file and CIDRSIEVE_* environment
// overrides. path may be empty, in which case cidrsieve.yaml is looked up in
// the working directory and /etc/cidrsieve.
func loadConfig(path string) (*config, error) {
	v := viper.New()
	v.SetDefault("workers", 1)
	v.SetDefault("admin_addr", "")
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cidrsieve")
	}

	v.SetEnvPrefix("CIDRSIEVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
		// No config file anywhere; env vars may still carry everything
	}

	var cfg config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &cfg, nil
}

// runPipeline streams NDJSON events from in through the filter to out. With
// one worker, output order matches input order; more workers trade ordering
// for throughput. Undecodable lines are skipped with a warning.
func runPipeline(ctx context.Context, f *sieve.Filter, in io.Reader, out io.Writer, workers int) error {
	lines := make(chan []byte, workers*2)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventBytes)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return scanner.Err()
	})

	var mu sync.Mutex
	enc := json.NewEncoder(out)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for line := range lines {
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				var fields map[string]any
				if err := json.Unmarshal(line, &fields); err != nil {
					log.Warnf("skipping undecodable event: %s", err)
					continue
				}
				ev := event.New(fields)
				f.Process(ev)

				mu.Lock()
				err := enc.Encode(ev.Fields())
				mu.Unlock()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

// startAdmin serves /metrics and /healthz until Shutdown.
func startAdmin(addr string) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: withRequestMetrics(r)}
	go func() {
		log.Infof("admin listener at %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("admin listener: %s", err)
		}
	}()
	return srv
}

// withRequestMetrics wraps the admin handler in a request counter.
func withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		adminRequestCount.WithLabelValues(strconv.Itoa(m.Code)).Add(1)
		log.Debugf("%s %s (status=%d dt=%s)", r.Method, r.URL, m.Code, m.Duration)
	})
}

var adminRequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cidrsieve",
	Subsystem: "admin",
	Name:      "requests_total",
	Help:      "Admin HTTP requests by status code.",
}, []string{"code"})

func registerMetrics() {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "cidrsieve",
		Name:        "info",
		Help:        "Information about this cidrsieve instance.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	prometheus.MustRegister(m, adminRequestCount)
	m.Set(1)
}

func usageGuidance() {
	fmt.Fprintf(os.Stderr, "\nError: no usable configuration found.\n\n")
	fmt.Fprintf(os.Stderr, "cidrsieve needs a config file that selects an address source and a\n")
	fmt.Fprintf(os.Stderr, "network list, for example:\n\n")
	fmt.Fprintf(os.Stderr, "  filter:\n")
	fmt.Fprintf(os.Stderr, "    address_field: \"[host][ip]\"\n")
	fmt.Fprintf(os.Stderr, "    network_path: /etc/cidrsieve/networks.txt\n")
	fmt.Fprintf(os.Stderr, "    refresh_interval: 300\n")
	fmt.Fprintf(os.Stderr, "    add_tag: [internal]\n\n")
	fmt.Fprintf(os.Stderr, "Then pipe NDJSON events through it:\n\n")
	fmt.Fprintf(os.Stderr, "  tail -f events.ndjson | %s -conf cidrsieve.yaml\n\n", name)
}

func main() {
	// stdout carries the event stream; everything else goes to stderr
	fmt.Fprintf(os.Stderr, "%s %s\n", name, version)
	registerMetrics()
	if err := godotenv.Load(); err == nil {
		fmt.Fprintln(os.Stderr, ".env found and loaded")
	}

	confPath := flag.String("conf", "", "path to config file (default: ./cidrsieve.yaml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		return
	}

	cfg, err := loadConfig(*confPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: reading configuration: %s\n", err)
		os.Exit(1)
	}
	if lvl, err := logging.LevelFromString(cfg.LogLevel); err == nil {
		logging.SetAllLoggers(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := sieve.New(ctx, cfg.Filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		if errors.Is(err, sieve.ErrConfig) {
			usageGuidance()
		}
		os.Exit(1)
	}

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = startAdmin(cfg.AdminAddr)
	}

	err = runPipeline(ctx, f, os.Stdin, os.Stdout, cfg.Workers)

	var closeErrs []error
	if admin != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		closeErrs = append(closeErrs, admin.Shutdown(shutdownCtx))
		cancel()
	}
	closeErrs = append(closeErrs, f.Close())

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if err := errors.Join(closeErrs...); err != nil {
		log.Warnf("shutdown: %s", err)
	}
}
