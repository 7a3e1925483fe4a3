package dispatcher

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Tannybot/remindd/internal/domain"
)

// TemplateData is the field set available to every reminder template.
type TemplateData struct {
	EventName     string
	EventDate     string
	EventTime     string
	EventLocation string
	When          string
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

const reminderBody = `🎯 Event Reminder: {{.EventName}}

This is your {{.When}} reminder!

Event Details:
📅 Date: {{.EventDate}}
⏰ Time: {{.EventTime}}
📍 Location: {{.EventLocation}}

We look forward to seeing you there!

Best regards,
Event Management Team
`

// Renderer renders notification messages per reminder kind. The wording is a
// presentation concern; the field set above is the contract.
type Renderer struct {
	templates map[domain.ReminderKind]*template.Template
	fallback  *template.Template
}

func NewRenderer() *Renderer {
	body := template.Must(template.New("reminder").Parse(reminderBody))
	return &Renderer{
		templates: map[domain.ReminderKind]*template.Template{
			domain.KindOneDayBefore:  body,
			domain.KindOneHourBefore: body,
		},
		fallback: body,
	}
}

// Render produces the message for one reminder kind and event. Empty display
// fields render as "TBD" rather than blank lines.
func (r *Renderer) Render(kind domain.ReminderKind, event domain.Event) (Message, error) {
	tmpl, ok := r.templates[kind]
	if !ok {
		tmpl = r.fallback
	}

	data := TemplateData{
		EventName:     event.Name,
		EventDate:     orTBD(event.Date),
		EventTime:     orTBD(event.TimeOfDay),
		EventLocation: orTBD(event.Location),
		When:          kind.Label(),
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("execute template: %w", err)
	}

	return Message{
		Subject: fmt.Sprintf("Reminder: %s is %s away!", event.Name, kind.Label()),
		Body:    buf.String(),
	}, nil
}

func orTBD(s string) string {
	if s == "" {
		return "TBD"
	}
	return s
}
