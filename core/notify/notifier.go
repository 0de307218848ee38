package notify

import (
	"context"
	"strings"

	"serima/config"
	"serima/core/store"
	"serima/core/utils"
)

// EmailCatalog is what the notifier reads to build a message.
type EmailCatalog interface {
	GetEmail(ctx context.Context, id int64) (*store.Email, error)
	FirstEmailByType(ctx context.Context, emailType string) (*store.Email, error)
	GetSectorRegulation(ctx context.Context, id int64) (*store.SectorRegulation, error)
}

// Notifier renders email templates for incidents and hands them to a
// Sender. Failures are logged and never returned.
type Notifier struct {
	cfg     *config.AppConfig
	catalog EmailCatalog
	sender  Sender
	logger  *utils.Logger
}

func NewNotifier(cfg *config.AppConfig, catalog EmailCatalog, sender Sender, logger *utils.Logger) *Notifier {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Notifier{cfg: cfg, catalog: catalog, sender: sender, logger: logger}
}

// Notify sends the first email template of the given type. Without such a
// template nothing is sent.
func (n *Notifier) Notify(ctx context.Context, emailType string, inc *store.Incident) {
	if n == nil || inc == nil {
		return
	}
	email, err := n.catalog.FirstEmailByType(ctx, emailType)
	if err != nil {
		n.logger.Errorf("NOTIFY %s lookup for %s: %v", emailType, inc.IncidentID, err)
		return
	}
	if email == nil {
		n.logger.Printf("NOTIFY no %s email configured, %s not notified", emailType, inc.IncidentID)
		return
	}
	n.deliver(ctx, email, inc)
}

func (n *Notifier) SendEmail(ctx context.Context, emailID int64, inc *store.Incident) {
	if n == nil || inc == nil {
		return
	}
	email, err := n.catalog.GetEmail(ctx, emailID)
	if err != nil || email == nil {
		n.logger.Errorf("NOTIFY email %d for %s: %v", emailID, inc.IncidentID, err)
		return
	}
	n.deliver(ctx, email, inc)
}

func (n *Notifier) deliver(ctx context.Context, email *store.Email, inc *store.Incident) {
	msg, ok := n.compose(ctx, email, inc)
	if !ok {
		return
	}
	if err := n.sender.Send(ctx, msg); err != nil {
		n.logger.Errorf("NOTIFY %s (%s) to %s failed: %v", email.Name, email.EmailType, strings.Join(msg.To, ","), err)
		return
	}
	n.logger.Printf("NOTIFY %s (%s) sent for %s", email.Name, email.EmailType, inc.IncidentID)
}

func (n *Notifier) compose(ctx context.Context, email *store.Email, inc *store.Incident) (Message, bool) {
	to := strings.TrimSpace(inc.Contact.Email)
	if to == "" {
		n.logger.Printf("NOTIFY %s has no contact email, %s skipped", inc.IncidentID, email.Name)
		return Message{}, false
	}
	bundle, err := n.catalog.GetSectorRegulation(ctx, inc.SectorRegulationID)
	if err != nil {
		n.logger.Errorf("NOTIFY bundle %d for %s: %v", inc.SectorRegulationID, inc.IncidentID, err)
	}
	vars := Variables(inc, bundle, n.cfg)
	msg := Message{
		From:    n.from(),
		To:      []string{to},
		Subject: Render(email.Subject, vars),
		Body:    Render(email.Content, vars),
	}
	if tech := strings.TrimSpace(inc.Technical.Email); tech != "" && !strings.EqualFold(tech, to) {
		msg.Cc = []string{tech}
	}
	return msg, true
}

func (n *Notifier) from() string {
	if n.cfg == nil || n.cfg.Email.Sender == "" {
		return "no-reply@localhost"
	}
	return n.cfg.Email.Sender
}
