package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is the SDK version reported to the backend on registration.
const Version = "1.0.0"

// PlatformIOS is the only platform the backend routes transactions for.
const PlatformIOS = "ios"

// TimestampLayout is ISO-8601 with millisecond precision, always rendered in UTC.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTimestamp renders t the way the backend expects it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Timestamp decodes ISO-8601 strings with or without fractional seconds.
type Timestamp struct {
	time.Time
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTimestamp(t.Time))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

type TestGroup int

const (
	TestGroupBaseline TestGroup = iota
	TestGroupMonetai
	TestGroupUnknown
)

func (g TestGroup) String() string {
	switch g {
	case TestGroupBaseline:
		return "baseline"
	case TestGroupMonetai:
		return "monetai"
	default:
		return "unknown"
	}
}

func (g TestGroup) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON is lenient: anything it does not recognise becomes TestGroupUnknown.
func (g *TestGroup) UnmarshalJSON(data []byte) error {
	*g = TestGroupUnknown

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "baseline":
			*g = TestGroupBaseline
		case "monetai":
			*g = TestGroupMonetai
		}
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n >= int(TestGroupBaseline) && n <= int(TestGroupUnknown) {
			*g = TestGroup(n)
		}
	}
	return nil
}

type Prediction int

const (
	PredictionNonPurchaser Prediction = iota
	PredictionPurchaser
)

func (p Prediction) String() string {
	switch p {
	case PredictionNonPurchaser:
		return "non-purchaser"
	case PredictionPurchaser:
		return "purchaser"
	default:
		return fmt.Sprintf("prediction(%d)", int(p))
	}
}

func (p Prediction) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON is strict: an unrecognised verdict is a decode error.
func (p *Prediction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "non-purchaser":
			*p = PredictionNonPurchaser
		case "purchaser":
			*p = PredictionPurchaser
		default:
			return fmt.Errorf("invalid prediction value: %q", s)
		}
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n != int(PredictionNonPurchaser) && n != int(PredictionPurchaser) {
			return fmt.Errorf("invalid prediction int value: %d", n)
		}
		*p = Prediction(n)
		return nil
	}

	return fmt.Errorf("expected string or int for prediction value, got %s", bytes.TrimSpace(data))
}

type Campaign struct {
	ID              int        `json:"id"`
	CreatedAt       *Timestamp `json:"created_at,omitempty"`
	OrganizationID  int        `json:"organization_id"`
	CampaignName    string     `json:"campaign_name"`
	StartedAt       *Timestamp `json:"started_at,omitempty"`
	EndedAt         *Timestamp `json:"ended_at,omitempty"`
	TrafficRatio    float64    `json:"traffic_ratio"`
	AllocationRatio float64    `json:"allocation_ratio"`
	DiscountRatio   float64    `json:"discount_ratio"`
	ExposureTimeSec int        `json:"exposure_time_sec"`
	ModelAccuracy   *float64   `json:"model_accuracy,omitempty"`
}

// Discount is one exposure window granted to an app user.
type Discount struct {
	StartedAt Timestamp `json:"started_at"`
	EndedAt   Timestamp `json:"ended_at"`
	AppUserID string    `json:"app_user_id"`
	SDKKey    string    `json:"sdk_key"`
}

// ActiveAt reports whether now falls strictly before the end of the window.
func (d *Discount) ActiveAt(now time.Time) bool {
	return d != nil && now.Before(d.EndedAt.Time)
}

func (d *Discount) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Discount(startedAt: %s, endedAt: %s, appUserId: %q)",
		FormatTimestamp(d.StartedAt.Time), FormatTimestamp(d.EndedAt.Time), d.AppUserID)
}

type IntegrationResponse struct {
	OrganizationID int    `json:"organization_id"`
	Platform       string `json:"platform"`
	Version        string `json:"version"`
}

type AssignmentResponse struct {
	Group    *TestGroup `json:"group"`
	Campaign *Campaign  `json:"campaign"`
}

type PredictResponse struct {
	Prediction *Prediction `json:"prediction"`
	TestGroup  *TestGroup  `json:"testGroup"`
}

type EventRequest struct {
	SDKKey    string
	UserID    string
	EventName string
	Params    map[string]any
	CreatedAt time.Time
	Platform  string
}

type errorResponse struct {
	Message string `json:"message"`
}

type registerBody struct {
	SDKKey   string `json:"sdkKey"`
	Platform string `json:"platform"`
	Version  string `json:"version"`
}

type assignBody struct {
	SDKKey   string `json:"sdkKey"`
	UserID   string `json:"userId"`
	Platform string `json:"platform"`
}

type eventBody struct {
	SDKKey    string          `json:"sdkKey"`
	UserID    string          `json:"userId"`
	EventName string          `json:"eventName"`
	CreatedAt string          `json:"createdAt"`
	Platform  string          `json:"platform"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type predictBody struct {
	SDKKey string `json:"sdkKey"`
	UserID string `json:"userId"`
}

type createDiscountBody struct {
	SDKKey    string `json:"sdkKey"`
	AppUserID string `json:"appUserId"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt"`
}

type discountEnvelope struct {
	Discount *Discount `json:"discount"`
}

type transactionBody struct {
	TransactionID string `json:"transactionId"`
	BundleID      string `json:"bundleId"`
	UserID        string `json:"userId"`
	SDKKey        string `json:"sdkKey"`
}

type receiptBody struct {
	ReceiptData string `json:"receiptData"`
	BundleID    string `json:"bundleId"`
	UserID      string `json:"userId"`
	SDKKey      string `json:"sdkKey"`
}

func isBlank(body []byte) bool {
	return strings.TrimSpace(string(body)) == ""
}
