package ads

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing operation.
type OperationLog struct {
	Operation string
	UserID    string
	AdID      string
	CreditID  string
	BuyOrder  string
	Amount    int64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPaymentGateway wires the external payment gateway adapter.
func WithPaymentGateway(gateway PaymentGateway) ServiceOption {
	return func(service *Service) {
		service.gateway = gateway
	}
}

// WithDocumentGenerator wires the billing-document collaborator.
func WithDocumentGenerator(documents DocumentGenerator) ServiceOption {
	return func(service *Service) {
		service.documents = documents
	}
}

// WithNotifier wires the notification collaborator.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// WithIDGenerator overrides the identifier generator (tests).
func WithIDGenerator(idFn func() string) ServiceOption {
	return func(service *Service) {
		if idFn != nil {
			service.idFn = idFn
		}
	}
}
