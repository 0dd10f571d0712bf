package ads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the derived lifecycle state of an ad.
type Status string

const (
	StatusRejected  Status = "rejected"
	StatusBanned    Status = "banned"
	StatusActive    Status = "active"
	StatusArchived  Status = "archived"
	StatusAbandoned Status = "abandoned"
	StatusPending   Status = "pending"
	StatusUnknown   Status = "unknown"
)

// String returns the status value.
func (status Status) String() string {
	return string(status)
}

// CreditKind separates publication credits from feature-promotion credits.
type CreditKind string

const (
	CreditKindAd       CreditKind = "ad"
	CreditKindFeatured CreditKind = "featured"
)

// String returns the kind value.
func (kind CreditKind) String() string {
	return string(kind)
}

// ParseCreditKind validates a stored credit kind.
func ParseCreditKind(raw string) (CreditKind, error) {
	switch CreditKind(raw) {
	case CreditKindAd, CreditKindFeatured:
		return CreditKind(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCreditKind, raw)
	}
}

// Ad is a classified ad record. The lifecycle flags are independent booleans
// (the stored shape), ResolveStatus maps them to the Status enum.
type Ad struct {
	AdID                  string
	UserID                string
	Name                  string
	Description           string
	Active                bool
	Banned                bool
	Rejected              bool
	RemainingDays         int
	DurationDays          int
	IsPaid                bool
	ReservationID         *string
	FeaturedReservationID *string
	DetailsJSON           string
	ActivatedBy           string
	ActivatedUnixUTC      int64
	RejectedBy            string
	RejectedUnixUTC       int64
	RejectReason          string
	BannedBy              string
	BannedUnixUTC         int64
	BanReason             string
	CreatedUnixUTC        int64
	UpdatedUnixUTC        int64
}

// AdInput is the caller-supplied portion of an ad on create/update.
type AdInput struct {
	AdID        string
	UserID      string
	Name        string
	Description string
}

// AdFilter narrows bulk ad listings.
type AdFilter struct {
	UserID  string
	OrderBy string
}

// Credit is one reusable reservation credit. AdID nil means unconsumed.
type Credit struct {
	CreditID       string
	UserID         string
	Kind           CreditKind
	PriceCents     int64
	TotalDays      int
	AdID           *string
	Description    string
	CreatedUnixUTC int64
}

// Available reports whether the credit can still be allocated.
func (credit Credit) Available() bool {
	return credit.AdID == nil
}

// Free reports whether the credit came from the standing free entitlement.
func (credit Credit) Free() bool {
	return credit.PriceCents == 0
}

// CreditInput describes a credit to mint.
type CreditInput struct {
	UserID      string
	Kind        CreditKind
	PriceCents  int64
	TotalDays   int
	Description string
	AdID        *string
}

// Pack is a purchasable credit-bundle template.
type Pack struct {
	PackID        string
	Name          string
	PriceCents    int64
	TotalAds      int
	TotalDays     int
	TotalFeatures int
	Active        bool
}

// Order is the append-only financial record of a settled payment.
type Order struct {
	OrderID              string
	UserID               string
	AdID                 string
	AmountCents          int64
	BuyOrder             string
	PaymentMethod        string
	PaymentResponseJSON  string
	DocumentResponseJSON string
	CreatedUnixUTC       int64
}

// PendingPaymentStatus tracks a gateway round-trip in flight.
type PendingPaymentStatus string

const (
	PendingPaymentCreated PendingPaymentStatus = "created"
	PendingPaymentSettled PendingPaymentStatus = "settled"
	PendingPaymentFailed  PendingPaymentStatus = "failed"
)

// String returns the status value.
func (status PendingPaymentStatus) String() string {
	return string(status)
}

// PendingPayment is the server-side correlation record for one gateway
// redirect round-trip, keyed by an opaque buy order.
type PendingPayment struct {
	BuyOrder       string
	UserID         string
	AdID           string
	AmountCents    int64
	Token          string
	Status         PendingPaymentStatus
	CreatedUnixUTC int64
}

// Purchase choice values for PurchaseChoices.Pack and .Featured. Anything
// else in Pack is treated as a concrete pack id.
const (
	ChoiceFreeCredit = "free"
	ChoicePaidCredit = "paid"
	ChoiceNone       = ""
)

// PurchaseChoices is the purchase intent captured at ad-creation time and
// read back by the settlement step.
type PurchaseChoices struct {
	Pack     string `json:"pack"`
	Featured string `json:"featured"`
}

// PackID returns the concrete pack id when one was chosen.
func (choices PurchaseChoices) PackID() (string, bool) {
	switch choices.Pack {
	case ChoiceFreeCredit, ChoicePaidCredit, ChoiceNone:
		return "", false
	default:
		return choices.Pack, true
	}
}

// PaymentRequired reports whether the gateway must be involved: a concrete
// pack purchase or a paid featured add-on. All-credit combinations settle
// without payment.
func (choices PurchaseChoices) PaymentRequired() bool {
	_, concretePack := choices.PackID()
	return concretePack || choices.Featured == ChoicePaidCredit
}

// Encode serializes the choices for the ad details blob.
func (choices PurchaseChoices) Encode() string {
	raw, err := json.Marshal(choices)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

// DecodeChoices parses a details blob back into purchase choices.
func DecodeChoices(raw string) (PurchaseChoices, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PurchaseChoices{}, fmt.Errorf("%w: empty details", ErrInvalidChoices)
	}
	var choices PurchaseChoices
	if err := json.Unmarshal([]byte(trimmed), &choices); err != nil {
		return PurchaseChoices{}, fmt.Errorf("%w: %v", ErrInvalidChoices, err)
	}
	return choices, nil
}

// Actor identifies who performs a lifecycle transition.
type Actor struct {
	ID    string
	Admin bool
}

// BatchSummary is the per-run digest emitted by the batch jobs.
type BatchSummary struct {
	Processed int
	Skipped   int
	Errored   int
	Subjects  []string
}

// Store is the persistence contract used by Service. Implementations must
// provide transactional scope through WithTx and conditional updates for
// ConsumeCredit and UpdatePendingPaymentStatus.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	InsertAd(ctx context.Context, ad Ad) error
	GetAd(ctx context.Context, adID string) (Ad, error)
	GetAdForUpdate(ctx context.Context, adID string) (Ad, error)
	UpdateAd(ctx context.Context, ad Ad) error
	ListAds(ctx context.Context, filter AdFilter) ([]Ad, error)
	ListRunningAds(ctx context.Context) ([]Ad, error)
	ListExpiredActiveAds(ctx context.Context) ([]Ad, error)

	InsertCredit(ctx context.Context, credit Credit) error
	GetCredit(ctx context.Context, creditID string) (Credit, error)
	FindAvailableCredit(ctx context.Context, userID string, kind CreditKind, free bool) (Credit, error)
	ConsumeCredit(ctx context.Context, creditID string, adID string) error
	ReleaseCredit(ctx context.Context, creditID string, adID string) error
	CountFreeCreditStock(ctx context.Context, userID string, kind CreditKind) (int, error)
	ListCredits(ctx context.Context, userID string) ([]Credit, error)

	GetPack(ctx context.Context, packID string) (Pack, error)
	ListPacks(ctx context.Context) ([]Pack, error)

	InsertOrder(ctx context.Context, order Order) error
	GetOrderByBuyOrder(ctx context.Context, buyOrder string) (Order, error)

	InsertPendingPayment(ctx context.Context, payment PendingPayment) error
	GetPendingPayment(ctx context.Context, buyOrder string) (PendingPayment, error)
	UpdatePendingPaymentToken(ctx context.Context, buyOrder string, token string) error
	UpdatePendingPaymentStatus(ctx context.Context, buyOrder string, from, to PendingPaymentStatus) error

	InsertDayTick(ctx context.Context, adID string, day string) error
}

// GatewayRedirect is the hosted-payment handoff returned by the gateway.
type GatewayRedirect struct {
	Token string
	URL   string
}

// GatewayStatusAuthorized is the only commit status that settles a payment.
const GatewayStatusAuthorized = "AUTHORIZED"

// GatewayResult is the outcome of committing a gateway transaction.
type GatewayResult struct {
	Status      string
	BuyOrder    string
	AmountCents int64
}

// Authorized reports whether the gateway approved the payment.
func (result GatewayResult) Authorized() bool {
	return result.Status == GatewayStatusAuthorized
}

// PaymentGateway wraps the external transaction API.
type PaymentGateway interface {
	CreateTransaction(ctx context.Context, amountCents int64, buyOrder string, sessionID string, returnURL string) (GatewayRedirect, error)
	CommitTransaction(ctx context.Context, token string) (GatewayResult, error)
}

// LineItem is one priced line with its 19% VAT split.
type LineItem struct {
	Description string
	GrossCents  int64
	NetCents    int64
	VATCents    int64
}

// DocumentTotals aggregates line items for the billing document.
type DocumentTotals struct {
	NetCents   int64
	VATCents   int64
	GrossCents int64
}

// DocumentHeader identifies the billing document subject.
type DocumentHeader struct {
	Invoice  bool
	UserID   string
	BuyOrder string
}

// DocumentGenerator produces an opaque invoice/receipt payload. Failures are
// tolerated by the orchestrator.
type DocumentGenerator interface {
	GenerateDocument(ctx context.Context, header DocumentHeader, items []LineItem, totals DocumentTotals) (string, error)
}

// Notification is a templated message for the notification collaborator.
type Notification struct {
	Template   string
	Recipients []string
	Subject    string
	Data       map[string]string
}

// Notifier delivers notifications. Always best-effort: errors are logged by
// the caller and never propagated into settlement paths.
type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}
