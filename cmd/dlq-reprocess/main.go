// Command dlq-reprocess возвращает сообщения из DLQ витрины в рабочие топики:
// webhooks шлюза, которые consumer не смог применить, и outbox-события
// заказов, которые не удалось опубликовать. По умолчанию работает в dry-run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

const (
	envKafkaBrokers = "KAFKA_BROKERS"

	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
)

var errUsage = errors.New("usage")

type envLookup func(string) (string, bool)

type config struct {
	brokers     []string
	sourceTopic string
	kind        letterKind
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fail("dlq replay failed: %v", err)
	}
}

func run(ctx context.Context, args []string, lookup envLookup, out io.Writer) error {
	cfg, err := parseConfig(args, lookup, out)
	if err != nil {
		return err
	}

	deps, err := newReplayDependencies(cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	stats, err := replay(ctx, cfg, deps)
	if err != nil {
		return err
	}

	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	_, _ = fmt.Fprintf(out, "%s: scanned=%d replayed=%d skipped=%d\n", mode, stats.scanned, stats.replayed, stats.skipped)
	return nil
}

func parseConfig(args []string, lookup envLookup, out io.Writer) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		cfg        config
		brokersRaw string
		kindRaw    string
	)
	fs.StringVar(&brokersRaw, "brokers", "", "comma-separated kafka brokers (default $"+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&kindRaw, "kind", string(kindAll), "letters to replay: all, webhook or outbox")
	fs.IntVar(&cfg.limit, "limit", defaultLimit, "max messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish replayed messages; dry-run otherwise")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "scan only the newest messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this idle period")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config{}, errUsage
		}
		return config{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}
	cfg.brokers = splitBrokers(brokersRaw)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.kind = letterKind(strings.ToLower(strings.TrimSpace(kindRaw)))

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	}
	if cfg.sourceTopic == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if !cfg.kind.valid() {
		errs = append(errs, fmt.Errorf("unknown kind %q", kindRaw))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be positive"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, chunk := range strings.Split(raw, ",") {
		if broker := strings.TrimSpace(chunk); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
