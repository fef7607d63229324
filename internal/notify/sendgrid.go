package notify

import (
	"log/slog"
	"net/http"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

var (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

// SendgridMailer delivers notification emails through the SendGrid API.
type SendgridMailer struct {
	key        string
	from       *sgmail.Email
	subjPrefix string
	logger     *slog.Logger
}

var _ Mailer = (*SendgridMailer)(nil)

// NewSendgridMailer creates a SendGrid-backed mailer.
func NewSendgridMailer(apiKey, fromName, fromEmail, appName string, logger *slog.Logger) *SendgridMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SendgridMailer{
		key:        apiKey,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + appName + "] ",
		logger:     logger,
	}
}

// SendMessages sends each message in its own goroutine. Delivery failures
// are logged only.
func (m *SendgridMailer) SendMessages(messages ...*Message) {
	for _, msg := range messages {
		msg := msg
		go m.send(msg)
	}
}

func (m *SendgridMailer) send(msg *Message) {
	p := sgmail.NewPersonalization()
	p.Subject = m.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.ToName, msg.ToEmail))

	v3 := sgmail.NewV3Mail()
	v3.SetFrom(m.from)
	v3.AddPersonalizations(p)
	v3.AddContent(sgmail.NewContent("text/plain", msg.Body))

	req := sendgrid.GetRequest(m.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(v3)

	res, err := sendgrid.API(req)
	if err != nil {
		m.logger.Error("sending notification email", "to", msg.ToEmail, "error", err)
	} else if res.StatusCode >= http.StatusBadRequest {
		m.logger.Error("sending notification email",
			"to", msg.ToEmail, "status", res.StatusCode, "body", res.Body)
	}
}
