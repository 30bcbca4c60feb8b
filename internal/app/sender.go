package app

import (
	"fmt"
	"log/slog"

	"github.com/iamrehman16/DataTricks-Team-Server/internal/config"
	"github.com/iamrehman16/DataTricks-Team-Server/internal/mail"
	"github.com/iamrehman16/DataTricks-Team-Server/pkg/httpclient"
	pkgkafka "github.com/iamrehman16/DataTricks-Team-Server/pkg/kafka"
)

// NewSender builds the mail sender for transport. producer is only used by
// the kafka transport and may be nil otherwise.
func NewSender(cfg *config.Config, transport string, producer *pkgkafka.Producer, logger *slog.Logger) (mail.Sender, error) {
	switch transport {
	case config.MailSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:        cfg.EmailHost,
			Port:        cfg.EmailPort,
			Username:    cfg.EmailUser,
			Password:    cfg.EmailPass,
			ImplicitTLS: cfg.EmailSecure,
		}, logger), nil
	case config.MailHTTP:
		hc := httpclient.DefaultConfig()
		hc.Timeout = cfg.MailTimeout
		return mail.NewRelaySender(cfg.MailRelayURL, hc, logger), nil
	case config.MailKafka:
		if producer == nil {
			return nil, fmt.Errorf("kafka mail transport needs a kafka producer")
		}
		return mail.NewKafkaSender(producer, cfg.ServiceName), nil
	case config.MailLog, "":
		return mail.NewLogSender(logger, cfg.IsDevelopment()), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", transport)
	}
}
