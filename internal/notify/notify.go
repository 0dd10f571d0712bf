// Package notify delivers templated notices to ad owners and operators.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"sort"
	"strings"

	"github.com/waldoclick/waldo-project-sub000/pkg/ads"
	"go.uber.org/zap"
)

// SMTPConfig carries the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	FromAddr string
	FromName string
}

func (config SMTPConfig) complete() bool {
	return config.Host != "" && config.Port != "" && config.FromAddr != ""
}

// SMTPNotifier sends plain-text notices over an SMTP relay.
type SMTPNotifier struct {
	config SMTPConfig
	sendFn func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPNotifier validates the relay settings and returns a notifier.
func NewSMTPNotifier(config SMTPConfig) (*SMTPNotifier, error) {
	if !config.complete() {
		return nil, fmt.Errorf("incomplete smtp configuration: host=%q port=%q from=%q", config.Host, config.Port, config.FromAddr)
	}
	return &SMTPNotifier{config: config, sendFn: smtp.SendMail}, nil
}

// Send delivers one notification to every recipient in a single message.
func (notifier *SMTPNotifier) Send(ctx context.Context, notification ads.Notification) error {
	if len(notification.Recipients) == 0 {
		return nil
	}
	var auth smtp.Auth
	if notifier.config.Username != "" {
		auth = smtp.PlainAuth("", notifier.config.Username, notifier.config.Password, notifier.config.Host)
	}
	message := []byte(fmt.Sprintf("From: %s <%s>\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n"+
		"%s",
		notifier.config.FromName, notifier.config.FromAddr,
		strings.Join(notification.Recipients, ", "),
		notification.Subject,
		renderBody(notification)))
	address := notifier.config.Host + ":" + notifier.config.Port
	if err := notifier.sendFn(address, auth, notifier.config.FromAddr, notification.Recipients, message); err != nil {
		return fmt.Errorf("send %s notice: %w", notification.Template, err)
	}
	return nil
}

func renderBody(notification ads.Notification) string {
	keys := make([]string, 0, len(notification.Data))
	for key := range notification.Data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var builder strings.Builder
	builder.WriteString(notification.Subject)
	builder.WriteString("\r\n")
	for _, key := range keys {
		builder.WriteString("\r\n")
		builder.WriteString(key)
		builder.WriteString(": ")
		builder.WriteString(notification.Data[key])
	}
	return builder.String()
}

// LogNotifier records notices on the application log instead of delivering
// them. Used when no relay is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a log-backed notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the notification and never fails.
func (notifier *LogNotifier) Send(ctx context.Context, notification ads.Notification) error {
	notifier.logger.Info("notification",
		zap.String("template", notification.Template),
		zap.Strings("recipients", notification.Recipients),
		zap.String("subject", notification.Subject),
		zap.Any("data", notification.Data),
	)
	return nil
}
