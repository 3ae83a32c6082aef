package notify

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

const DefaultConnectTimeout = 10 * time.Second

var _ Transport = (*SMTPTransport)(nil)

// SMTPTransport sends every message over its own STARTTLS connection with PLAIN auth.
type SMTPTransport struct {
	cfg            SMTPConfig
	connectTimeout time.Duration
}

func NewSMTPTransport(cfg SMTPConfig, connectTimeout time.Duration) *SMTPTransport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if !cfg.Configured() {
		log.Warnln("smtp transport: SMTP_USERNAME / SMTP_PASSWORD not set, emails will not be sent")
	}
	return &SMTPTransport{
		cfg:            cfg,
		connectTimeout: connectTimeout,
	}
}

func (t *SMTPTransport) Configured() bool {
	return t.cfg.Configured()
}

func (t *SMTPTransport) buildMsg(msg *Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.FromFormat(t.cfg.SenderName, t.cfg.SenderEmail); err != nil {
		return nil, &TransportError{Err: err}
	}
	var err error
	if msg.To.Name != "" {
		err = m.AddToFormat(msg.To.Name, msg.To.Email)
	} else {
		err = m.To(msg.To.Email)
	}
	if err != nil {
		return nil, &DeliveryError{Recipient: msg.To.Email, Err: err}
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			log.Warnf("smtp transport: ignoring invalid reply-to: %s", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	if msg.HTMLBody != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	}
	return m, nil
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if !t.Configured() {
		return ErrTransportUnconfigured
	}

	m, err := t.buildMsg(msg)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(
		t.cfg.Server,
		mail.WithPort(t.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(t.cfg.Username),
		mail.WithPassword(t.cfg.Password),
		mail.WithTimeout(t.connectTimeout),
		mail.WithTLSPortPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return &TransportError{Err: err}
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return classifySMTPError(msg.To.Email, err)
	}
	return nil
}

// classifySMTPError: rejections of the recipient or its content and timeouts
// are per-recipient, everything before RCPT (dial, tls, auth, MAIL FROM) is a transport failure.
func classifySMTPError(recipient string, err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		switch sendErr.Reason {
		case mail.ErrSMTPRcptTo, mail.ErrSMTPData, mail.ErrSMTPDataClose, mail.ErrWriteContent, mail.ErrGetRcpts:
			return &DeliveryError{Recipient: recipient, Timeout: isTimeout(err), Err: err}
		}
	}
	if isTimeout(err) {
		return &DeliveryError{Recipient: recipient, Timeout: true, Err: err}
	}
	return &TransportError{Err: err}
}
