package ads

const (
	operationApprove        = "approve"
	operationReject         = "reject"
	operationBan            = "ban"
	operationDeactivate     = "deactivate"
	operationCreateAd       = "create_ad"
	operationValidate       = "validate"
	operationSettleFree     = "settle_free"
	operationBeginPayment   = "begin_payment"
	operationConfirmPayment = "confirm_payment"
	operationCreateCredit   = "create_credit"
	operationConsumeCredit  = "consume_credit"
	operationEnsureQuota    = "ensure_quota"
	operationDecrementJob   = "decrement_job"
	operationRestoreJob     = "restore_job"
	operationNotify         = "notify"
	operationDocument       = "generate_document"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// DefaultDurationDays is the publication window stamped on unsettled ads.
	DefaultDurationDays = 15
	// DefaultFreeQuota is the standing entitlement of free credits per user.
	DefaultFreeQuota = 3

	defaultRejectReason = "the ad violates the publication policy"
	paymentMethodWebpay = "webpay"

	freeCreditDescription = "free publication credit"

	dayFormat = "2006-01-02"

	// vat split: net = round(gross / 1.19)
	vatGrossFactor = 100
	vatNetDivisor  = 119

	TemplateAdCreated   = "ad_created"
	TemplateAdApproved  = "ad_approved"
	TemplateAdRejected  = "ad_rejected"
	TemplateAdBanned    = "ad_banned"
	TemplatePaymentDone = "payment_received"
)
