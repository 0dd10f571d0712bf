package ads

import "context"

// Approve activates a pending ad and stamps the approving actor. The owner
// notice is best-effort and never rolls the transition back.
func (service *Service) Approve(ctx context.Context, adID string, actor Actor) error {
	var owner string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, adID)
		if err != nil {
			return err
		}
		if ResolveStatus(ad) != StatusPending {
			return ErrInvalidTransition
		}
		ad.Active = true
		ad.ActivatedBy = actor.ID
		ad.ActivatedUnixUTC = service.nowFn()
		owner = ad.UserID
		return txStore.UpdateAd(ctx, ad)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationApprove,
		UserID:    owner,
		AdID:      adID,
		Error:     operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.notify(ctx, owner, Notification{
		Template:   TemplateAdApproved,
		Recipients: []string{owner},
		Subject:    "Your ad has been approved",
		Data:       map[string]string{"ad_id": adID},
	})
	return nil
}

// Reject marks a pending ad as rejected with a reason. An empty reason
// falls back to the standard policy-violation message.
func (service *Service) Reject(ctx context.Context, adID string, actor Actor, reason string) error {
	if reason == "" {
		reason = defaultRejectReason
	}
	var owner string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, adID)
		if err != nil {
			return err
		}
		if ResolveStatus(ad) != StatusPending {
			return ErrInvalidTransition
		}
		ad.Rejected = true
		ad.RejectedBy = actor.ID
		ad.RejectedUnixUTC = service.nowFn()
		ad.RejectReason = reason
		owner = ad.UserID
		return txStore.UpdateAd(ctx, ad)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationReject,
		UserID:    owner,
		AdID:      adID,
		Error:     operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.notify(ctx, owner, Notification{
		Template:   TemplateAdRejected,
		Recipients: []string{owner},
		Subject:    "Your ad has been rejected",
		Data:       map[string]string{"ad_id": adID, "reason": reason},
	})
	return nil
}

// Ban takes an ad down. Only the owner or an administrator may ban; banning
// an already banned ad is an invalid transition.
func (service *Service) Ban(ctx context.Context, adID string, actor Actor, reason string) error {
	var owner string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, adID)
		if err != nil {
			return err
		}
		if ad.Banned {
			return ErrInvalidTransition
		}
		if actor.ID != ad.UserID && !actor.Admin {
			return ErrForbidden
		}
		ad.Active = false
		ad.Banned = true
		ad.BannedBy = actor.ID
		ad.BannedUnixUTC = service.nowFn()
		ad.BanReason = reason
		owner = ad.UserID
		return txStore.UpdateAd(ctx, ad)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationBan,
		UserID:    owner,
		AdID:      adID,
		Error:     operationError,
	})
	if operationError != nil {
		return operationError
	}
	service.notify(ctx, owner, Notification{
		Template:   TemplateAdBanned,
		Recipients: []string{owner},
		Subject:    "Your ad has been taken down",
		Data:       map[string]string{"ad_id": adID, "reason": reason},
	})
	return nil
}

// Deactivate expires an ad early. Owner-only; a fully expired ad is already
// terminal and cannot be deactivated again.
func (service *Service) Deactivate(ctx context.Context, adID string, actor Actor) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, adID)
		if err != nil {
			return err
		}
		if actor.ID != ad.UserID {
			return ErrForbidden
		}
		if !ad.Active && ad.RemainingDays == 0 {
			return ErrAlreadyTerminal
		}
		ad.Active = false
		ad.RemainingDays = 0
		ad.UpdatedUnixUTC = service.nowFn()
		return txStore.UpdateAd(ctx, ad)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeactivate,
		UserID:    actor.ID,
		AdID:      adID,
		Error:     operationError,
	})
	return operationError
}
