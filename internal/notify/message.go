package notify

import (
	"bytes"
	"fmt"
	"html/template"

	"giftwise-api/internal/email"
	"giftwise-api/internal/models"
)

// DefaultAppURL is linked from every notification.
const DefaultAppURL = "https://giftwisesg.com/"

var reminderTmpl = template.Must(template.New("reminder").Parse(
	`<h2>Don't forget!</h2>
<p>{{.ContactName}}'s {{.OccasionType}} is coming up on <b>{{.Date}}</b>.</p>
<p>Notes: {{.Notes}}</p>
<p>
  <a href="{{.AppURL}}" style="color:#2563eb;text-decoration:underline;" target="_blank">
    Log in to GiftWise for gift ideas!
  </a>
</p>`))

var nudgeTmpl = template.Must(template.New("nudge").Parse(
	`<h2>How did it go?</h2>
<p>Did you buy a gift for {{.ContactName}}'s {{.OccasionType}} on {{.Date}}?</p>
<p>
  <a href="{{.AppURL}}" style="color:#2563eb;text-decoration:underline;" target="_blank">
    Please update your purchase history in GiftWise!
  </a>
</p>`))

type messageData struct {
	ContactName  string
	OccasionType string
	Date         string
	Notes        string
	AppURL       string
}

// BuildMessage renders the email for one occasion and kind.
func BuildMessage(kind Kind, to string, o models.Occasion, appURL string) (email.Message, error) {
	if appURL == "" {
		appURL = DefaultAppURL
	}

	data := messageData{
		ContactName:  o.ContactName,
		OccasionType: o.OccasionType,
		Notes:        o.Notes,
		AppURL:       appURL,
	}
	if data.ContactName == "" {
		data.ContactName = "Your contact"
	}
	if data.Notes == "" {
		data.Notes = "None"
	}
	if o.Date != nil {
		data.Date = o.Date.String()
	}

	var subject string
	tmpl := reminderTmpl
	switch kind {
	case KindReminder:
		subject = fmt.Sprintf("Upcoming Occasion: %s's %s", data.ContactName, data.OccasionType)
	case KindNudge:
		subject = fmt.Sprintf("Did you buy a gift for %s's %s?", data.ContactName, data.OccasionType)
		tmpl = nudgeTmpl
	default:
		return email.Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return email.Message{}, fmt.Errorf("failed to render %s email: %w", kind, err)
	}

	return email.Message{
		To:      to,
		Subject: subject,
		HTML:    body.String(),
		Tags: map[string]string{
			"kind":        string(kind),
			"occasion_id": o.ID,
		},
	}, nil
}
