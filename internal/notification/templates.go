package notification

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
	"github.com/spec-kit/support-portal/internal/events"
)

// Message is the rendered content handed to a Sender.
type Message struct {
	Subject string
	Body    string
}

// Kind selects the template family for a transition.
type Kind string

const (
	KindStatusChange   Kind = "status_change"
	KindResolution     Kind = "resolution"
	KindPriorityChange Kind = "priority_change"
)

// KindOf picks the template family. Status changes win over priority changes.
func KindOf(change events.TicketTransitioned) Kind {
	switch {
	case change.Resolution():
		return KindResolution
	case change.StatusChanged():
		return KindStatusChange
	default:
		return KindPriorityChange
	}
}

type templateData struct {
	Name        string
	Key         string
	Title       string
	OldStatus   string
	NewStatus   string
	OldPriority string
	NewPriority string
	Deadline    string
	Link        string
}

type channelTemplates struct {
	subject *template.Template
	body    *template.Template
}

const emailFooter = `

You can follow the conversation at {{.Link}}

University Support Desk`

var sources = map[Kind]map[domain.Channel][2]string{
	KindStatusChange: {
		domain.ChannelEmail: {
			`[{{.Key}}] Status changed to {{.NewStatus}}`,
			`Hello {{.Name}},

Your ticket "{{.Title}}" moved from {{.OldStatus}} to {{.NewStatus}}.{{if .Deadline}}
Expected resolution by {{.Deadline}}.{{end}}` + emailFooter,
		},
		domain.ChannelSMS: {
			"",
			`{{.Key}}: status {{.OldStatus}} -> {{.NewStatus}}`,
		},
		domain.ChannelWhatsApp: {
			"",
			`Ticket {{.Key}} "{{.Title}}" is now {{.NewStatus}} (was {{.OldStatus}}).{{if .Deadline}} Due {{.Deadline}}.{{end}}`,
		},
	},
	KindResolution: {
		domain.ChannelEmail: {
			`[{{.Key}}] Your ticket has been {{.NewStatus}}`,
			`Hello {{.Name}},

Your ticket "{{.Title}}" has been {{.NewStatus}}. No further action is needed from you.
If the problem persists you can reopen it from the portal.` + emailFooter,
		},
		domain.ChannelSMS: {
			"",
			`{{.Key}} is {{.NewStatus}}. No action needed.`,
		},
		domain.ChannelWhatsApp: {
			"",
			`Good news: ticket {{.Key}} "{{.Title}}" has been {{.NewStatus}}. No further action is needed.`,
		},
	},
	KindPriorityChange: {
		domain.ChannelEmail: {
			`[{{.Key}}] Priority changed to {{.NewPriority}}`,
			`Hello {{.Name}},

The priority of your ticket "{{.Title}}" changed from {{.OldPriority}} to {{.NewPriority}}.{{if .Deadline}}
Expected resolution by {{.Deadline}}.{{end}}` + emailFooter,
		},
		domain.ChannelSMS: {
			"",
			`{{.Key}}: priority {{.OldPriority}} -> {{.NewPriority}}`,
		},
		domain.ChannelWhatsApp: {
			"",
			`Ticket {{.Key}} "{{.Title}}" priority is now {{.NewPriority}} (was {{.OldPriority}}).{{if .Deadline}} Due {{.Deadline}}.{{end}}`,
		},
	},
}

// Templates renders per-channel messages for transitions.
type Templates struct {
	portalURL string
	parsed    map[Kind]map[domain.Channel]channelTemplates
}

// NewTemplates parses every built-in template.
func NewTemplates(portalURL string) (*Templates, error) {
	t := &Templates{
		portalURL: strings.TrimRight(portalURL, "/"),
		parsed:    make(map[Kind]map[domain.Channel]channelTemplates, len(sources)),
	}
	for kind, byChannel := range sources {
		t.parsed[kind] = make(map[domain.Channel]channelTemplates, len(byChannel))
		for channel, src := range byChannel {
			name := string(kind) + "." + string(channel)
			subject, err := template.New(name + ".subject").Parse(src[0])
			if err != nil {
				return nil, fmt.Errorf("notification: parse %s subject: %w", name, err)
			}
			body, err := template.New(name + ".body").Parse(src[1])
			if err != nil {
				return nil, fmt.Errorf("notification: parse %s body: %w", name, err)
			}
			t.parsed[kind][channel] = channelTemplates{subject: subject, body: body}
		}
	}
	return t, nil
}

// MustTemplates panics if the built-in templates fail to parse.
func MustTemplates(portalURL string) *Templates {
	t, err := NewTemplates(portalURL)
	if err != nil {
		panic(err)
	}
	return t
}

// Render builds the message for channel.
func (t *Templates) Render(channel domain.Channel, change events.TicketTransitioned, contact domain.Contact) (Message, error) {
	kind := KindOf(change)
	tpl, ok := t.parsed[kind][channel]
	if !ok {
		return Message{}, fmt.Errorf("notification: no %s template for %s", kind, channel)
	}

	data := templateData{
		Name:        contact.Name,
		Key:         change.ExternalKey,
		Title:       change.Title,
		OldStatus:   string(change.OldStatus),
		NewStatus:   string(change.NewStatus),
		OldPriority: string(change.OldPriority),
		NewPriority: string(change.NewPriority),
		Link:        t.portalURL + "/tickets/" + change.TicketID,
	}
	if data.Name == "" {
		data.Name = "there"
	}
	if data.Key == "" {
		data.Key = change.TicketID
	}
	if change.SLADeadline != nil && !change.NewStatus.Terminal() {
		data.Deadline = change.SLADeadline.UTC().Format(time.RFC1123)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return Message{}, fmt.Errorf("notification: render subject: %w", err)
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("notification: render body: %w", err)
	}
	return Message{Subject: subject.String(), Body: body.String()}, nil
}
