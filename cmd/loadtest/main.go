// Command loadtest нагружает HTTP API витрины сценариями оформления заказа.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateVerify loadMode = "create-verify"
	modeCreateFail   loadMode = "create-fail"
)

var (
	errUsage          = errors.New("usage")
	errFailedScenario = errors.New("some scenarios failed")
)

type config struct {
	baseURL       string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	productID     string
	quantity      int
	customerTag   string
	keySecret     string
	webhookSecret string
	outputPath    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseConfig(args, out)
	if err != nil {
		return err
	}

	col := newCollector()
	client := &checkoutClient{
		baseURL: cfg.baseURL,
		http:    &http.Client{Timeout: cfg.timeout},
		signer:  payment.NewSigner(cfg.keySecret, cfg.webhookSecret),
		col:     col,
	}

	startedAt := time.Now()
	runLoad(ctx, cfg, client)
	result := col.buildReport(startedAt, time.Since(startedAt))

	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%w: %d of %d", errFailedScenario, result.FailedScenarios, result.TotalScenarios)
	}
	return nil
}

// runLoad запускает сценарии не более чем в cfg.concurrency горутинах.
// Ошибка сценария не прерывает прогон: она попадает в отчёт. По истечении
// -duration новые сценарии не стартуют, начатые доходят до конца.
func runLoad(ctx context.Context, cfg config, client *checkoutClient) {
	dispatch := ctx
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		dispatch, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)

	for i := 0; ; i++ {
		if (cfg.duration <= 0 || cfg.totalSet) && i >= cfg.total {
			break
		}
		if dispatch.Err() != nil {
			break
		}
		index := i
		g.Go(func() error {
			_ = client.runScenario(ctx, cfg, index)
			return nil
		})
	}
	_ = g.Wait()
}

func parseConfig(args []string, out io.Writer) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(out)

	var (
		cfg  config
		mode string
	)
	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "storefront base URL")
	fs.IntVar(&cfg.total, "total", 200, "scenarios to run; with -duration only applies when set explicitly")
	fs.DurationVar(&cfg.duration, "duration", 0, "run for this long instead of a fixed count")
	fs.IntVar(&cfg.concurrency, "concurrency", 16, "parallel scenarios")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "scenario: create, create-verify or create-fail")
	fs.StringVar(&cfg.productID, "product", "", "catalog product id to order")
	fs.IntVar(&cfg.quantity, "qty", 1, "quantity per order")
	fs.StringVar(&cfg.customerTag, "customer-tag", "loadtest", "prefix for generated customer emails")
	fs.StringVar(&cfg.keySecret, "key-secret", os.Getenv("RAZORPAY_KEY_SECRET"), "gateway key secret used to sign payments")
	fs.StringVar(&cfg.webhookSecret, "webhook-secret", os.Getenv("RAZORPAY_WEBHOOK_SECRET"), "webhook secret used to sign payment.failed")
	fs.StringVar(&cfg.outputPath, "out", "", "write JSON report to this file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config{}, errUsage
		}
		return config{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	cfg.mode = loadMode(strings.ToLower(strings.TrimSpace(mode)))
	cfg.productID = strings.TrimSpace(cfg.productID)

	var errs []error
	switch cfg.mode {
	case modeCreate:
	case modeCreateVerify:
		if cfg.keySecret == "" {
			errs = append(errs, errors.New("create-verify needs -key-secret"))
		}
	case modeCreateFail:
		if cfg.webhookSecret == "" {
			errs = append(errs, errors.New("create-fail needs -webhook-secret"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown mode %q", mode))
	}
	if cfg.productID == "" {
		errs = append(errs, errors.New("-product is required"))
	}
	if cfg.total <= 0 {
		errs = append(errs, errors.New("total must be positive"))
	}
	if cfg.duration < 0 {
		errs = append(errs, errors.New("duration must not be negative"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be positive"))
	}
	if cfg.quantity <= 0 {
		errs = append(errs, errors.New("qty must be positive"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	return cfg, nil
}
