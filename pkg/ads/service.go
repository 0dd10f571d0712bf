package ads

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Config carries the tunable domain constants.
type Config struct {
	// FeaturedPriceCents is the fixed surcharge for the paid featured add-on.
	FeaturedPriceCents int64
	// FreeQuota is the standing free-credit entitlement per user and kind.
	FreeQuota int
	// DefaultDurationDays is stamped on ads created before settlement.
	DefaultDurationDays int
	// ReturnURL is where the gateway redirects after the hosted payment.
	ReturnURL string
	// AdminEmail receives the admin copy of creation notices.
	AdminEmail string
}

func (config *Config) normalize() {
	if config.FreeQuota <= 0 {
		config.FreeQuota = DefaultFreeQuota
	}
	if config.DefaultDurationDays <= 0 {
		config.DefaultDurationDays = DefaultDurationDays
	}
}

// Service contains the domain logic over a Store and the external
// collaborators.
type Service struct {
	store     Store
	gateway   PaymentGateway
	documents DocumentGenerator
	notifier  Notifier
	logger    OperationLogger
	nowFn     func() int64
	idFn      func() string
	config    Config
}

// NewService wires a Service.
func NewService(store Store, now func() int64, config Config, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	config.normalize()
	service := &Service{
		store:  store,
		nowFn:  now,
		idFn:   uuid.NewString,
		config: config,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// GetAd loads one ad.
func (service *Service) GetAd(ctx context.Context, adID string) (Ad, error) {
	return service.store.GetAd(ctx, adID)
}

// ListAds lists ads for the filter, default-sorted by name.
func (service *Service) ListAds(ctx context.Context, filter AdFilter) ([]Ad, error) {
	return service.store.ListAds(ctx, filter)
}

// ListCredits lists a user's credits, consumed and available.
func (service *Service) ListCredits(ctx context.Context, userID string) ([]Credit, error) {
	return service.store.ListCredits(ctx, userID)
}

// ListPacks lists the purchasable pack catalog.
func (service *Service) ListPacks(ctx context.Context) ([]Pack, error) {
	return service.store.ListPacks(ctx)
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// notify delivers a notification and swallows the error after logging it.
// Collaborator failures never abort the operation that triggered them.
func (service *Service) notify(ctx context.Context, userID string, notification Notification) {
	if service.notifier == nil {
		return
	}
	sendError := service.notifier.Send(ctx, notification)
	service.logOperation(ctx, OperationLog{
		Operation: operationNotify,
		UserID:    userID,
		Error:     sendError,
	})
}
