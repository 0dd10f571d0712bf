package ads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ValidatePurchase checks that the chosen credits or pack exist before any
// ad is persisted, and reports whether the gateway must be involved.
func (service *Service) ValidatePurchase(ctx context.Context, userID string, choices PurchaseChoices) (bool, error) {
	operationError := service.validatePurchase(ctx, userID, choices)
	service.logOperation(ctx, OperationLog{
		Operation: operationValidate,
		UserID:    userID,
		Error:     operationError,
	})
	if operationError != nil {
		return false, operationError
	}
	return choices.PaymentRequired(), nil
}

func (service *Service) validatePurchase(ctx context.Context, userID string, choices PurchaseChoices) error {
	switch choices.Pack {
	case ChoiceFreeCredit:
		if _, err := service.store.FindAvailableCredit(ctx, userID, CreditKindAd, true); err != nil {
			if errors.Is(err, ErrCreditNotFound) {
				return fmt.Errorf("%w: no free publication credit available", ErrValidationFailed)
			}
			return err
		}
	case ChoicePaidCredit:
		if _, err := service.store.FindAvailableCredit(ctx, userID, CreditKindAd, false); err != nil {
			if errors.Is(err, ErrCreditNotFound) {
				return fmt.Errorf("%w: no paid publication credit available", ErrValidationFailed)
			}
			return err
		}
	case ChoiceNone:
		return fmt.Errorf("%w: no pack choice", ErrValidationFailed)
	default:
		if _, err := service.store.GetPack(ctx, choices.Pack); err != nil {
			if errors.Is(err, ErrPackNotFound) {
				return fmt.Errorf("%w: unknown pack %q", ErrValidationFailed, choices.Pack)
			}
			return err
		}
	}
	if choices.Featured == ChoiceFreeCredit {
		if _, err := service.store.FindAvailableCredit(ctx, userID, CreditKindFeatured, true); err != nil {
			if errors.Is(err, ErrCreditNotFound) {
				return fmt.Errorf("%w: no free featured credit available", ErrValidationFailed)
			}
			return err
		}
	}
	return nil
}

// CreateOrUpdateAd persists the ad in its unsettled state with the purchase
// choices embedded for the settlement step to read back. New ads start
// inactive with the default publication window.
func (service *Service) CreateOrUpdateAd(ctx context.Context, input AdInput, choices PurchaseChoices) (Ad, error) {
	var saved Ad
	var operationError error
	if input.AdID == "" {
		saved = Ad{
			AdID:           service.idFn(),
			UserID:         input.UserID,
			Name:           input.Name,
			Description:    input.Description,
			Active:         false,
			RemainingDays:  service.config.DefaultDurationDays,
			DurationDays:   service.config.DefaultDurationDays,
			DetailsJSON:    choices.Encode(),
			CreatedUnixUTC: service.nowFn(),
			UpdatedUnixUTC: service.nowFn(),
		}
		operationError = service.store.InsertAd(ctx, saved)
	} else {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			ad, err := txStore.GetAdForUpdate(ctx, input.AdID)
			if err != nil {
				return err
			}
			if ad.UserID != input.UserID {
				return ErrForbidden
			}
			ad.Name = input.Name
			ad.Description = input.Description
			ad.DetailsJSON = choices.Encode()
			ad.UpdatedUnixUTC = service.nowFn()
			saved = ad
			return txStore.UpdateAd(ctx, ad)
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAd,
		UserID:    input.UserID,
		AdID:      saved.AdID,
		Error:     operationError,
	})
	if operationError != nil {
		return Ad{}, operationError
	}
	return saved, nil
}

// SettleFree completes an all-credit purchase: it consumes the chosen
// publication credit (and free featured credit, if requested) and applies
// the credit's duration to the ad. The whole settlement is one transaction,
// so a failed consumption leaves the ad untouched.
func (service *Service) SettleFree(ctx context.Context, adID string) (Ad, error) {
	var settled Ad
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, adID)
		if err != nil {
			return err
		}
		choices, err := DecodeChoices(ad.DetailsJSON)
		if err != nil {
			return err
		}
		if choices.PaymentRequired() {
			return fmt.Errorf("%w: purchase requires a gateway payment", ErrValidationFailed)
		}
		freeCredit := choices.Pack == ChoiceFreeCredit
		if !freeCredit && choices.Pack != ChoicePaidCredit {
			return fmt.Errorf("%w: no pack choice", ErrValidationFailed)
		}
		credit, err := txStore.FindAvailableCredit(ctx, ad.UserID, CreditKindAd, freeCredit)
		if err != nil {
			if errors.Is(err, ErrCreditNotFound) {
				return fmt.Errorf("%w: no publication credit available", ErrValidationFailed)
			}
			return err
		}
		if err := txStore.ConsumeCredit(ctx, credit.CreditID, ad.AdID); err != nil {
			return err
		}
		ad.ReservationID = &credit.CreditID
		ad.DurationDays = credit.TotalDays
		ad.RemainingDays = credit.TotalDays
		ad.IsPaid = !freeCredit
		if choices.Featured == ChoiceFreeCredit {
			featured, err := txStore.FindAvailableCredit(ctx, ad.UserID, CreditKindFeatured, true)
			if err != nil {
				if errors.Is(err, ErrCreditNotFound) {
					return fmt.Errorf("%w: no free featured credit available", ErrValidationFailed)
				}
				return err
			}
			if err := txStore.ConsumeCredit(ctx, featured.CreditID, ad.AdID); err != nil {
				return err
			}
			ad.FeaturedReservationID = &featured.CreditID
		}
		ad.UpdatedUnixUTC = service.nowFn()
		settled = ad
		return txStore.UpdateAd(ctx, ad)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSettleFree,
		UserID:    settled.UserID,
		AdID:      adID,
		Error:     operationError,
	})
	if operationError != nil {
		return Ad{}, operationError
	}
	service.notifyAdCreated(ctx, settled)
	return settled, nil
}

// BeginPayment opens the gateway round-trip for a purchase that requires
// payment: it records a pending payment keyed by an opaque buy order, asks
// the gateway for a hosted-payment redirect, and returns it. The ad stays
// unsettled until ConfirmPayment.
func (service *Service) BeginPayment(ctx context.Context, adID string, sessionID string) (GatewayRedirect, error) {
	if service.gateway == nil {
		return GatewayRedirect{}, fmt.Errorf("%w: payment gateway is not configured", ErrInvalidServiceConfig)
	}
	ad, err := service.store.GetAd(ctx, adID)
	if err != nil {
		return GatewayRedirect{}, err
	}
	choices, err := DecodeChoices(ad.DetailsJSON)
	if err != nil {
		return GatewayRedirect{}, err
	}
	if !choices.PaymentRequired() {
		return GatewayRedirect{}, fmt.Errorf("%w: purchase does not require payment", ErrValidationFailed)
	}
	details, err := service.ComputePaymentDetails(ctx, choices)
	if err != nil {
		return GatewayRedirect{}, err
	}
	buyOrder := service.idFn()
	pending := PendingPayment{
		BuyOrder:       buyOrder,
		UserID:         ad.UserID,
		AdID:           ad.AdID,
		AmountCents:    details.AmountCents,
		Status:         PendingPaymentCreated,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := service.store.InsertPendingPayment(ctx, pending); err != nil {
		return GatewayRedirect{}, err
	}
	redirect, gatewayError := service.gateway.CreateTransaction(ctx, details.AmountCents, buyOrder, sessionID, service.config.ReturnURL)
	service.logOperation(ctx, OperationLog{
		Operation: operationBeginPayment,
		UserID:    ad.UserID,
		AdID:      ad.AdID,
		BuyOrder:  buyOrder,
		Amount:    details.AmountCents,
		Error:     gatewayError,
	})
	if gatewayError != nil {
		// ledger state is untouched, only the correlation record is closed
		_ = service.store.UpdatePendingPaymentStatus(ctx, buyOrder, PendingPaymentCreated, PendingPaymentFailed)
		return GatewayRedirect{}, gatewayError
	}
	if err := service.store.UpdatePendingPaymentToken(ctx, buyOrder, redirect.Token); err != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationBeginPayment,
			BuyOrder:  buyOrder,
			Error:     err,
		})
	}
	return redirect, nil
}

// settledMint captures what the mint transaction produced for the attach step.
type settledMint struct {
	firstPackCreditID string
	packTotalDays     int
	featuredCreditID  string
}

// ConfirmPayment is the gateway callback. It commits the transaction and, if
// authorized, mints the purchased credits, writes the append-only order, and
// attaches the publication credit to the ad. A repeated callback for the same
// buy order returns the existing order without re-minting. When credit
// attachment fails after the mint committed, the returned order is still
// valid (the ad surfaces as abandoned until retried) and the error is
// surfaced alongside it.
func (service *Service) ConfirmPayment(ctx context.Context, token string) (Order, error) {
	if service.gateway == nil {
		return Order{}, fmt.Errorf("%w: payment gateway is not configured", ErrInvalidServiceConfig)
	}
	result, commitError := service.gateway.CommitTransaction(ctx, token)
	if commitError != nil {
		service.logOperation(ctx, OperationLog{
			Operation: operationConfirmPayment,
			Error:     commitError,
		})
		return Order{}, commitError
	}
	if !result.Authorized() {
		_ = service.store.UpdatePendingPaymentStatus(ctx, result.BuyOrder, PendingPaymentCreated, PendingPaymentFailed)
		service.logOperation(ctx, OperationLog{
			Operation: operationConfirmPayment,
			BuyOrder:  result.BuyOrder,
			Amount:    result.AmountCents,
			Error:     ErrGatewayDeclined,
		})
		return Order{}, ErrGatewayDeclined
	}

	pending, err := service.store.GetPendingPayment(ctx, result.BuyOrder)
	if err != nil {
		return Order{}, err
	}
	if existing, err := service.store.GetOrderByBuyOrder(ctx, pending.BuyOrder); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrOrderNotFound) {
		return Order{}, err
	}

	ad, err := service.store.GetAd(ctx, pending.AdID)
	if err != nil {
		return Order{}, err
	}
	choices, err := DecodeChoices(ad.DetailsJSON)
	if err != nil {
		return Order{}, err
	}
	details, err := service.ComputePaymentDetails(ctx, choices)
	if err != nil {
		return Order{}, err
	}
	documentJSON := service.generateDocument(ctx, pending, details)

	var order Order
	var mint settledMint
	mintError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		if err := txStore.UpdatePendingPaymentStatus(ctx, pending.BuyOrder, PendingPaymentCreated, PendingPaymentSettled); err != nil {
			return err
		}
		if choices.Featured == ChoicePaidCredit {
			featured := Credit{
				CreditID:       service.idFn(),
				UserID:         pending.UserID,
				Kind:           CreditKindFeatured,
				PriceCents:     service.config.FeaturedPriceCents,
				AdID:           &pending.AdID,
				Description:    "featured add-on " + pending.BuyOrder,
				CreatedUnixUTC: service.nowFn(),
			}
			if err := txStore.InsertCredit(ctx, featured); err != nil {
				return err
			}
			mint.featuredCreditID = featured.CreditID
		}
		if packID, ok := choices.PackID(); ok {
			pack, err := txStore.GetPack(ctx, packID)
			if err != nil {
				return err
			}
			if pack.TotalAds <= 0 {
				return fmt.Errorf("%w: pack %q has no publication slots", ErrValidationFailed, pack.PackID)
			}
			unitPrice := pack.PriceCents / int64(pack.TotalAds)
			for minted := 0; minted < pack.TotalAds; minted++ {
				credit := Credit{
					CreditID:       service.idFn(),
					UserID:         pending.UserID,
					Kind:           CreditKindAd,
					PriceCents:     unitPrice,
					TotalDays:      pack.TotalDays,
					Description:    "pack " + pack.Name,
					CreatedUnixUTC: service.nowFn(),
				}
				if err := txStore.InsertCredit(ctx, credit); err != nil {
					return err
				}
				if minted == 0 {
					mint.firstPackCreditID = credit.CreditID
				}
			}
			for minted := 0; minted < pack.TotalFeatures; minted++ {
				credit := Credit{
					CreditID:       service.idFn(),
					UserID:         pending.UserID,
					Kind:           CreditKindFeatured,
					PriceCents:     0,
					Description:    "pack " + pack.Name,
					CreatedUnixUTC: service.nowFn(),
				}
				if err := txStore.InsertCredit(ctx, credit); err != nil {
					return err
				}
			}
			mint.packTotalDays = pack.TotalDays
		}
		order = Order{
			OrderID:              service.idFn(),
			UserID:               pending.UserID,
			AdID:                 pending.AdID,
			AmountCents:          pending.AmountCents,
			BuyOrder:             pending.BuyOrder,
			PaymentMethod:        paymentMethodWebpay,
			PaymentResponseJSON:  encodeGatewayResult(result),
			DocumentResponseJSON: documentJSON,
			CreatedUnixUTC:       service.nowFn(),
		}
		return txStore.InsertOrder(ctx, order)
	})
	if mintError != nil {
		if errors.Is(mintError, ErrDuplicateBuyOrder) || errors.Is(mintError, ErrPaymentStateConflict) {
			if existing, err := service.store.GetOrderByBuyOrder(ctx, pending.BuyOrder); err == nil {
				return existing, nil
			}
		}
		service.logOperation(ctx, OperationLog{
			Operation: operationConfirmPayment,
			UserID:    pending.UserID,
			AdID:      pending.AdID,
			BuyOrder:  pending.BuyOrder,
			Amount:    pending.AmountCents,
			Error:     mintError,
		})
		return Order{}, mintError
	}

	attachError := service.attachSettledCredits(ctx, pending, choices, mint)
	service.logOperation(ctx, OperationLog{
		Operation: operationConfirmPayment,
		UserID:    pending.UserID,
		AdID:      pending.AdID,
		BuyOrder:  pending.BuyOrder,
		Amount:    pending.AmountCents,
		Error:     attachError,
	})
	if attachError != nil {
		// minted credits stay attributed to the user, the order stands
		return order, attachError
	}
	settled, err := service.store.GetAd(ctx, pending.AdID)
	if err == nil {
		service.notifyAdCreated(ctx, settled)
	}
	return order, nil
}

// attachSettledCredits links the purchased publication credit (and featured
// credit) to the ad and applies the granted duration.
func (service *Service) attachSettledCredits(ctx context.Context, pending PendingPayment, choices PurchaseChoices, mint settledMint) error {
	return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		ad, err := txStore.GetAdForUpdate(ctx, pending.AdID)
		if err != nil {
			return err
		}
		switch {
		case mint.firstPackCreditID != "":
			if err := txStore.ConsumeCredit(ctx, mint.firstPackCreditID, ad.AdID); err != nil {
				return err
			}
			ad.ReservationID = &mint.firstPackCreditID
			ad.DurationDays = mint.packTotalDays
			ad.RemainingDays = mint.packTotalDays
			ad.IsPaid = true
		case choices.Pack == ChoicePaidCredit:
			credit, err := txStore.FindAvailableCredit(ctx, ad.UserID, CreditKindAd, false)
			if err != nil {
				if errors.Is(err, ErrCreditNotFound) {
					return fmt.Errorf("%w: no paid publication credit available", ErrValidationFailed)
				}
				return err
			}
			if err := txStore.ConsumeCredit(ctx, credit.CreditID, ad.AdID); err != nil {
				return err
			}
			ad.ReservationID = &credit.CreditID
			ad.DurationDays = credit.TotalDays
			ad.RemainingDays = credit.TotalDays
			ad.IsPaid = true
		case choices.Pack == ChoiceFreeCredit:
			credit, err := txStore.FindAvailableCredit(ctx, ad.UserID, CreditKindAd, true)
			if err != nil {
				if errors.Is(err, ErrCreditNotFound) {
					return fmt.Errorf("%w: no free publication credit available", ErrValidationFailed)
				}
				return err
			}
			if err := txStore.ConsumeCredit(ctx, credit.CreditID, ad.AdID); err != nil {
				return err
			}
			ad.ReservationID = &credit.CreditID
			ad.DurationDays = credit.TotalDays
			ad.RemainingDays = credit.TotalDays
		}
		if mint.featuredCreditID != "" {
			ad.FeaturedReservationID = &mint.featuredCreditID
		} else if choices.Featured == ChoiceFreeCredit {
			featured, err := txStore.FindAvailableCredit(ctx, ad.UserID, CreditKindFeatured, true)
			if err != nil {
				if errors.Is(err, ErrCreditNotFound) {
					return fmt.Errorf("%w: no free featured credit available", ErrValidationFailed)
				}
				return err
			}
			if err := txStore.ConsumeCredit(ctx, featured.CreditID, ad.AdID); err != nil {
				return err
			}
			ad.FeaturedReservationID = &featured.CreditID
		}
		ad.UpdatedUnixUTC = service.nowFn()
		return txStore.UpdateAd(ctx, ad)
	})
}

func (service *Service) generateDocument(ctx context.Context, pending PendingPayment, details PaymentDetails) string {
	if service.documents == nil {
		return ""
	}
	header := DocumentHeader{
		Invoice:  false,
		UserID:   pending.UserID,
		BuyOrder: pending.BuyOrder,
	}
	payload, documentError := service.documents.GenerateDocument(ctx, header, details.LineItems, SumLineItems(details.LineItems))
	if documentError != nil {
		// the order is the authoritative proof of payment, document or not
		service.logOperation(ctx, OperationLog{
			Operation: operationDocument,
			UserID:    pending.UserID,
			BuyOrder:  pending.BuyOrder,
			Error:     documentError,
		})
		return ""
	}
	return payload
}

func (service *Service) notifyAdCreated(ctx context.Context, ad Ad) {
	recipients := []string{ad.UserID}
	if service.config.AdminEmail != "" {
		recipients = append(recipients, service.config.AdminEmail)
	}
	service.notify(ctx, ad.UserID, Notification{
		Template:   TemplateAdCreated,
		Recipients: recipients,
		Subject:    "Your ad has been created",
		Data:       map[string]string{"ad_id": ad.AdID, "name": ad.Name},
	})
}

func encodeGatewayResult(result GatewayResult) string {
	raw, err := json.Marshal(map[string]any{
		"status":       result.Status,
		"buy_order":    result.BuyOrder,
		"amount_cents": result.AmountCents,
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
