// Package billing connects the host platform's purchase pipeline to the
// backend: completed transactions are mapped to the app user and the store
// receipt is uploaded for validation. Nothing here ever reaches the caller;
// failures are logged as BillingError.
package billing

import (
	"context"
	"errors"

	"github.com/Wuchinator/monetai-go/internal/remote"
	"github.com/Wuchinator/monetai-go/internal/session"
	"go.uber.org/zap"
)

// Observer is the platform's transaction listener. It calls back into
// Bridge.OnTransactionCompleted.
type Observer interface {
	Start()
	Stop()
}

// ReceiptSource reads the app-store receipt, base64 encoded.
type ReceiptSource interface {
	Receipt(ctx context.Context) (string, error)
}

type Client interface {
	MapTransactionToUser(ctx context.Context, transactionID, bundleID, sdkKey, userID string) error
	ValidateReceipt(ctx context.Context, receiptBase64, bundleID, sdkKey, userID string) error
}

// IdentityFunc returns the identity to attribute purchases to, if any.
type IdentityFunc func() (session.Identity, bool)

var (
	errNoIdentity = errors.New("sdk has no session identity")
	errNoBundleID = errors.New("no bundle id configured")
)

type Bridge struct {
	client   Client
	observer Observer
	receipts ReceiptSource
	bundleID string
	identity IdentityFunc
	logger   *zap.Logger
}

// NewBridge wires the collaborators. observer and receipts may be nil on
// platforms without a store.
func NewBridge(
	client Client,
	observer Observer,
	receipts ReceiptSource,
	bundleID string,
	identity IdentityFunc,
	logger *zap.Logger) *Bridge {

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		client:   client,
		observer: observer,
		receipts: receipts,
		bundleID: bundleID,
		identity: identity,
		logger:   logger,
	}
}

func (b *Bridge) StartObserving() {
	if b.observer != nil {
		b.observer.Start()
	}
}

func (b *Bridge) StopObserving() {
	if b.observer != nil {
		b.observer.Stop()
	}
}

// OnTransactionCompleted maps transactionID to the current user, then uploads the receipt.
func (b *Bridge) OnTransactionCompleted(ctx context.Context, transactionID string) {
	id, err := b.target()
	if err != nil {
		b.fail("map transaction", err, zap.String("transaction_id", transactionID))
		return
	}

	if err := b.client.MapTransactionToUser(ctx, transactionID, b.bundleID, id.SDKKey, id.UserID); err != nil {
		b.fail("map transaction", err, zap.String("transaction_id", transactionID))
	} else {
		b.logger.Info("transaction mapped to user",
			zap.String("transaction_id", transactionID),
			zap.String("user_id", id.UserID),
		)
	}

	b.UploadReceipt(ctx)
}

// UploadReceipt sends the current receipt for validation.
// Without a receipt source or bundle id there is nothing to upload.
func (b *Bridge) UploadReceipt(ctx context.Context) {
	if b.receipts == nil || b.bundleID == "" {
		b.logger.Debug("receipt upload disabled",
			zap.Bool("has_receipt_source", b.receipts != nil),
			zap.Bool("has_bundle_id", b.bundleID != ""),
		)
		return
	}

	id, err := b.target()
	if err != nil {
		b.fail("upload receipt", err)
		return
	}

	receipt, err := b.receipts.Receipt(ctx)
	if err != nil {
		b.fail("read receipt", err)
		return
	}
	if receipt == "" {
		b.logger.Debug("no receipt to upload")
		return
	}

	if err := b.client.ValidateReceipt(ctx, receipt, b.bundleID, id.SDKKey, id.UserID); err != nil {
		b.fail("upload receipt", err)
		return
	}

	b.logger.Info("receipt uploaded", zap.String("user_id", id.UserID))
}

func (b *Bridge) target() (session.Identity, error) {
	if b.bundleID == "" {
		return session.Identity{}, errNoBundleID
	}
	if b.identity == nil {
		return session.Identity{}, errNoIdentity
	}
	id, ok := b.identity()
	if !ok {
		return session.Identity{}, errNoIdentity
	}
	return id, nil
}

func (b *Bridge) fail(op string, err error, fields ...zap.Field) {
	berr := &remote.BillingError{Op: op, Err: err}
	b.logger.Error("billing pipeline failure", append(fields, zap.Error(berr))...)
}
