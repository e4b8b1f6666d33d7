// Package chromedplookup drives the provider's service-qualification page
// with headless Chrome to answer one availability question per call.
package chromedplookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ozgrid/bulkcheck/internal/check"
)

// Config controls the headless checker.
type Config struct {
	// ServiceURL is the qualification page to drive.
	ServiceURL string
	// Selectors for the page's address form. Defaults match the current
	// page markup.
	InputSelector      string
	SuggestionSelector string
	HeaderSelector     string
	// AvailablePhrase is the header substring that marks a serviceable
	// address.
	AvailablePhrase string
	UserAgent       string
	NavTimeout      time.Duration
	MaxParallel     int
	// QPS caps checks per second against the rate-sensitive page; zero
	// disables the limiter.
	QPS float64
}

// Checker implements check.Lookup using chromedp.
type Checker struct {
	cfg         Config
	limiter     *rate.Limiter
	sem         chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates a Checker backed by one headless Chrome allocator.
func New(cfg Config, logger *zap.Logger) (*Checker, error) {
	if cfg.ServiceURL == "" {
		return nil, fmt.Errorf("lookup service url is required")
	}
	if cfg.InputSelector == "" {
		cfg.InputSelector = "#tcom-sq-main-input"
	}
	if cfg.SuggestionSelector == "" {
		cfg.SuggestionSelector = "#adddress-autocomplete-results li.address-option"
	}
	if cfg.HeaderSelector == "" {
		cfg.HeaderSelector = "h3.tcom-sq__result__header__title"
	}
	if cfg.AvailablePhrase == "" {
		cfg.AvailablePhrase = "eligible for 5G Home Internet"
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}

	return &Checker{
		cfg:         cfg,
		limiter:     limiter,
		sem:         make(chan struct{}, cfg.MaxParallel),
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close tears down the browser allocator.
func (c *Checker) Close() {
	c.allocCancel()
}

// Lookup performs one qualification attempt for the subject's address.
func (c *Checker) Lookup(ctx context.Context, subject check.Subject) (check.Status, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", "", check.NewLookupError(check.KindTransport, fmt.Errorf("rate limit wait: %w", err))
		}
	}
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return "", "", check.NewLookupError(check.KindTransport, fmt.Errorf("acquire browser slot: %w", ctx.Err()))
	}

	tabCtx, cancelTab := chromedp.NewContext(c.allocator)
	defer cancelTab()
	taskCtx, cancelTask := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
	defer cancelTask()

	if err := chromedp.Run(taskCtx,
		c.prepareSession(),
		chromedp.Navigate(c.cfg.ServiceURL),
		chromedp.WaitVisible(c.cfg.InputSelector, chromedp.ByQuery),
		chromedp.Clear(c.cfg.InputSelector, chromedp.ByQuery),
		chromedp.SendKeys(c.cfg.InputSelector, subject.Address, chromedp.ByQuery),
	); err != nil {
		return "", "", classify(err, "address_input_failed")
	}

	if err := chromedp.Run(taskCtx,
		chromedp.WaitVisible(c.cfg.SuggestionSelector, chromedp.ByQuery),
		chromedp.Click(c.cfg.SuggestionSelector, chromedp.ByQuery),
	); err != nil {
		return "", "", classify(err, "no_suggestions")
	}

	var headerText string
	if err := chromedp.Run(taskCtx,
		chromedp.WaitVisible(c.cfg.HeaderSelector, chromedp.ByQuery),
		chromedp.Text(c.cfg.HeaderSelector, &headerText, chromedp.ByQuery),
	); err != nil {
		return "", "", classify(err, "header_not_found")
	}

	headerText = strings.TrimSpace(headerText)
	status := check.StatusUnavailable
	if strings.Contains(headerText, c.cfg.AvailablePhrase) {
		status = check.StatusAvailable
	}
	c.logger.Debug("qualification result",
		zap.String("subject", subject.Key),
		zap.String("status", string(status)),
		zap.String("header", headerText),
	)
	return status, headerText, nil
}

// prepareSession enables the network domain and applies the configured
// user agent to the fresh tab before navigation.
func (c *Checker) prepareSession() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// classify maps a chromedp failure onto the retryable error taxonomy:
// deadline hits are timeouts, selector waits that never resolved are
// interaction blocks, anything else is a driver/transport failure.
func classify(err error, stage string) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return check.NewLookupError(check.KindTimeout, wrapped)
	case errors.Is(err, context.Canceled):
		return check.NewLookupError(check.KindTransport, wrapped)
	case strings.Contains(err.Error(), "could not find node") ||
		strings.Contains(err.Error(), "waiting for selector"):
		return check.NewLookupError(check.KindBlocked, wrapped)
	default:
		return check.NewLookupError(check.KindTransport, wrapped)
	}
}
