package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/goinginblind/scribe/internal/domain"
)

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

var templateSources = map[domain.NotificationKind][2]string{
	domain.NotifyOrderReceived: {
		"We received your order #{{.order_id}}",
		`Thanks for your payment!

Your order #{{.order_id}} for a {{.word_count}} word piece on "{{.topic}}" is confirmed.
Amount paid: {{.price}}.

We'll let you know as soon as writing starts.
`,
	},
	domain.NotifyGenerationStarted: {
		"Work on order #{{.order_id}} has started",
		`We've started writing your piece on "{{.topic}}" (order #{{.order_id}}).
This usually takes a couple of minutes.
`,
	},
	domain.NotifyGenerationComplete: {
		"Your order #{{.order_id}} is ready",
		`Your piece on "{{.topic}}" is done. Here's how it starts:

{{.preview}}

Read the full text at {{.view_url}}
`,
	},
	domain.NotifyGenerationFailed: {
		"There was a problem with order #{{.order_id}}",
		`Unfortunately we couldn't complete your piece on "{{.topic}}" (order #{{.order_id}}).

{{.reason}}
`,
	},
	domain.NotifyPaymentFailed: {
		"Payment for order #{{.order_id}} did not go through",
		`We couldn't confirm the payment for your order #{{.order_id}} on "{{.topic}}".
No money has been taken. Feel free to place the order again.
`,
	},
}

func parseTemplates() map[domain.NotificationKind]mailTemplate {
	out := make(map[domain.NotificationKind]mailTemplate, len(templateSources))
	for kind, src := range templateSources {
		name := string(kind)
		out[kind] = mailTemplate{
			subject: template.Must(template.New(name + "_subject").Option("missingkey=error").Parse(src[0])),
			body:    template.Must(template.New(name + "_body").Option("missingkey=error").Parse(src[1])),
		}
	}
	return out
}

func (t mailTemplate) render(data domain.NotificationData) (subject, body string, err error) {
	var buf bytes.Buffer
	if err := t.subject.Execute(&buf, map[string]string(data)); err != nil {
		return "", "", fmt.Errorf("rendering subject: %w", err)
	}
	subject = buf.String()

	buf.Reset()
	if err := t.body.Execute(&buf, map[string]string(data)); err != nil {
		return "", "", fmt.Errorf("rendering body: %w", err)
	}
	return subject, buf.String(), nil
}
