package monetai

import (
	"time"

	"github.com/Wuchinator/monetai-go/internal/billing"
	"github.com/Wuchinator/monetai-go/internal/remote"
	"go.uber.org/zap"
)

const Version = remote.Version

type (
	Discount   = remote.Discount
	Campaign   = remote.Campaign
	TestGroup  = remote.TestGroup
	Prediction = remote.Prediction

	APIError     = remote.APIError
	NetworkError = remote.NetworkError
	BillingError = remote.BillingError

	// Client is the backend contract. HTTPClient is the production implementation.
	Client     = remote.Client
	HTTPClient = remote.HTTPClient
	HTTPConfig = remote.Config

	TransactionObserver = billing.Observer
	ReceiptSource       = billing.ReceiptSource
)

const (
	TestGroupBaseline = remote.TestGroupBaseline
	TestGroupMonetai  = remote.TestGroupMonetai
	TestGroupUnknown  = remote.TestGroupUnknown

	PredictionNonPurchaser = remote.PredictionNonPurchaser
	PredictionPurchaser    = remote.PredictionPurchaser
)

var (
	ErrInvalidSDKKey            = remote.ErrInvalidSDKKey
	ErrInvalidUserID            = remote.ErrInvalidUserID
	ErrNotInitialized           = remote.ErrNotInitialized
	ErrInitializationInProgress = remote.ErrInitializationInProgress
	ErrSessionReset             = remote.ErrSessionReset
)

func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	return remote.NewHTTPClient(cfg, logger)
}

type InitializeResult struct {
	OrganizationID int
	Platform       string
	Version        string
	UserID         string
	Group          *TestGroup
}

type PredictResult struct {
	Prediction *Prediction
	TestGroup  *TestGroup
}

// LogEventOptions describes one analytics event. A zero CreatedAt means now.
type LogEventOptions struct {
	EventName string
	Params    map[string]any
	CreatedAt time.Time
}
