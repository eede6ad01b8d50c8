package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Wuchinator/monetai-go/internal/config"
	"github.com/Wuchinator/monetai-go/pkg/logger"
	"github.com/Wuchinator/monetai-go/pkg/monetai"
	"go.uber.org/zap"
)

// eventFlags collects repeated -event values. Each is name or name:key=value,key=value.
type eventFlags []string

func (e *eventFlags) String() string { return strings.Join(*e, ";") }

func (e *eventFlags) Set(v string) error {
	if strings.TrimSpace(v) == "" {
		return errors.New("event name must not be empty")
	}
	*e = append(*e, v)
	return nil
}

func parseEvent(v string) monetai.LogEventOptions {
	name, rawParams, found := strings.Cut(v, ":")
	opts := monetai.LogEventOptions{EventName: name}
	if !found || rawParams == "" {
		return opts
	}

	opts.Params = map[string]any{}
	for _, pair := range strings.Split(rawParams, ",") {
		k, val, _ := strings.Cut(pair, "=")
		if k != "" {
			opts.Params[k] = val
		}
	}
	return opts
}

func main() {
	var events eventFlags
	flag.Var(&events, "event", "event to log before initialization, name[:key=value,...] (repeatable)")
	predict := flag.Bool("predict", false, "run a purchase prediction after initialization")
	sdkKey := flag.String("sdk-key", "", "sdk key, overrides MONETAI_SDK_KEY")
	userID := flag.String("user", "", "app user id, overrides MONETAI_USER_ID")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *sdkKey != "" {
		cfg.Monetai.SDKKey = *sdkKey
	}
	if *userID != "" {
		cfg.Monetai.UserID = *userID
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	zlog, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zlog.Sync()
	zlog = logger.WithService(zlog, "monetai-cli")

	client := monetai.NewHTTPClient(monetai.HTTPConfig{
		BaseURL: cfg.Monetai.APIBaseURL,
		Timeout: cfg.Monetai.HTTPTimeout,
	}, zlog)
	sdk := monetai.New(client,
		monetai.WithLogger(zlog),
		monetai.WithPlatform(cfg.Monetai.Platform),
	)

	sdk.Subscribe(func(d *monetai.Discount) {
		zlog.Info("Discount changed", zap.Stringer("discount", d))
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// logged before Initialize, so these go through the pending queue
	queued := queueEvents(ctx, sdk, events)

	result, err := sdk.Initialize(ctx, cfg.Monetai.SDKKey, cfg.Monetai.UserID)
	if err != nil {
		log.Fatalf("Initialize failed: %v", describe(err))
	}

	fmt.Printf("Initialized: organization=%d platform=%s version=%s user=%s group=%s\n",
		result.OrganizationID, result.Platform, result.Version, result.UserID, groupName(result.Group))
	if exposure, ok := sdk.ExposureTimeSec(); ok {
		fmt.Printf("Exposure time: %ds\n", exposure)
	}
	if c := sdk.Campaign(); c != nil {
		fmt.Printf("Campaign: %s (id=%d, discount ratio %.2f)\n", c.CampaignName, c.ID, c.DiscountRatio)
	}
	fmt.Printf("Events queued: %d (delivery failures are logged)\n", queued)

	if *predict {
		p, err := sdk.Predict(ctx)
		if err != nil {
			log.Fatalf("Predict failed: %v", describe(err))
		}
		prediction := "none"
		if p.Prediction != nil {
			prediction = p.Prediction.String()
		}
		fmt.Printf("Prediction: %s (group=%s)\n", prediction, groupName(p.TestGroup))
	}

	fmt.Printf("Current discount: %s\n", sdk.CurrentDiscount())
	active, err := sdk.HasActiveDiscount(ctx)
	if err != nil {
		log.Fatalf("Discount lookup failed: %v", describe(err))
	}
	fmt.Printf("Active discount: %t\n", active)

	if err := sdk.Flush(ctx); err != nil {
		log.Fatalf("Event delivery did not finish: %v", err)
	}
}

type eventLogger interface {
	LogEventWith(ctx context.Context, opts monetai.LogEventOptions)
}

// queueEvents logs every -event value and reports how many were handed to the sdk.
func queueEvents(ctx context.Context, sdk eventLogger, events eventFlags) int {
	for _, ev := range events {
		sdk.LogEventWith(ctx, parseEvent(ev))
	}
	return len(events)
}

func groupName(g *monetai.TestGroup) string {
	if g == nil {
		return "none"
	}
	return g.String()
}

func describe(err error) string {
	var apiErr *monetai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("backend rejected request (%d): %s", apiErr.StatusCode, apiErr.Message)
	}
	var netErr *monetai.NetworkError
	if errors.As(err, &netErr) {
		return fmt.Sprintf("network failure during %s: %v", netErr.Op, netErr.Err)
	}
	return err.Error()
}
