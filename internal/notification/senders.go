package notification

import (
	"context"
	"strings"

	"github.com/spec-kit/support-portal/internal/config"
	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/pkg/email"
	"github.com/spec-kit/support-portal/pkg/smsgateway"
)

type emailSender struct {
	client *email.Client
}

func (s emailSender) Send(ctx context.Context, target string, msg Message) error {
	return s.client.Send(ctx, target, msg.Subject, msg.Body)
}

type gatewaySender struct {
	client *smsgateway.Client
}

func (s gatewaySender) Send(ctx context.Context, target string, msg Message) error {
	return s.client.Send(ctx, target, msg.Body)
}

// SendersFromConfig wires a sender for every channel that has an endpoint
// configured. Channels left out produce SKIPPED attempts.
func SendersFromConfig(cfg config.NotificationConfig) map[domain.Channel]Sender {
	senders := make(map[domain.Channel]Sender, len(Channels))
	if strings.TrimSpace(cfg.SMTPHost) != "" {
		senders[domain.ChannelEmail] = emailSender{
			client: email.NewClient(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom, cfg.SendTimeout),
		}
	}
	if strings.TrimSpace(cfg.SMSGatewayURL) != "" {
		senders[domain.ChannelSMS] = gatewaySender{
			client: smsgateway.NewClient(cfg.SMSGatewayURL, cfg.SMSToken, cfg.SMSFrom, string(domain.ChannelSMS), cfg.SendTimeout),
		}
	}
	if strings.TrimSpace(cfg.WhatsAppURL) != "" {
		senders[domain.ChannelWhatsApp] = gatewaySender{
			client: smsgateway.NewClient(cfg.WhatsAppURL, cfg.WhatsAppToken, cfg.WhatsAppFrom, string(domain.ChannelWhatsApp), cfg.SendTimeout),
		}
	}
	return senders
}
