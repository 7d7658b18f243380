package app

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/subtrack/subscription-service/internal/domain"
)

var reminderEmailTemplate = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933;">
  <h2 style="margin-bottom: 4px;">{{.ServiceName}}</h2>
  {{if .DomainName}}<p style="margin-top: 0; color: #52606d;">{{.DomainName}}</p>{{end}}
  <p>{{.Headline}}</p>
  <table cellpadding="4" style="border-collapse: collapse;">
    <tr><td><strong>Expiry date</strong></td><td>{{.ExpiryDate}}</td></tr>
    <tr><td><strong>Current period</strong></td><td>{{.PurchaseDate}} to {{.ExpiryDate}}</td></tr>
    <tr><td><strong>Amount</strong></td><td>PKR {{.AmountPKR}}{{if .AmountUSD}} / USD {{.AmountUSD}}{{end}}</td></tr>
    {{if .Vendor}}<tr><td><strong>Vendor</strong></td><td>{{if .VendorLink}}<a href="{{.VendorLink}}">{{.Vendor}}</a>{{else}}{{.Vendor}}{{end}}</td></tr>{{end}}
  </table>
  {{if .ManageURL}}<p><a href="{{.ManageURL}}">Review or renew this subscription</a></p>{{end}}
  <p style="font-size: 12px; color: #7b8794;">You receive this email because a reminder is enabled for this subscription.</p>
</body>
</html>
`))

type reminderEmailData struct {
	ServiceName  string
	DomainName   string
	Headline     string
	PurchaseDate string
	ExpiryDate   string
	AmountPKR    string
	AmountUSD    string
	Vendor       string
	VendorLink   string
	ManageURL    string
}

// ReminderEmail is a rendered reminder ready to send.
type ReminderEmail struct {
	Subject  string
	HTMLBody string
}

func expiryPhrase(days int) string {
	switch days {
	case 0:
		return "expires today"
	case 1:
		return "expires tomorrow"
	default:
		return fmt.Sprintf("expires in %d days", days)
	}
}

// ReminderTitle is shared by the email subject and the in-app notification.
func ReminderTitle(sub domain.Subscription, days int) string {
	return fmt.Sprintf("%s %s", sub.ServiceName, expiryPhrase(days))
}

// ReminderBody is the plain-text line shown in the in-app inbox.
func ReminderBody(sub domain.Subscription, days int) string {
	return fmt.Sprintf("%s %s on %s. Renew it to keep the service running.", sub.ServiceName, expiryPhrase(days), sub.ExpiryDate)
}

// RenderReminderEmail builds the subject and HTML body for one due reminder.
func RenderReminderEmail(sub domain.Subscription, days int, appBaseURL string) (ReminderEmail, error) {
	data := reminderEmailData{
		ServiceName:  sub.ServiceName,
		Headline:     fmt.Sprintf("Your subscription %s on %s.", expiryPhrase(days), sub.ExpiryDate),
		PurchaseDate: sub.PurchaseDate.String(),
		ExpiryDate:   sub.ExpiryDate.String(),
		AmountPKR:    sub.PurchaseAmountPKR.StringFixed(2),
	}
	if sub.DomainName != nil {
		data.DomainName = *sub.DomainName
	}
	if sub.PurchaseAmountUSD.Valid {
		data.AmountUSD = sub.PurchaseAmountUSD.Decimal.StringFixed(2)
	}
	if sub.Vendor != nil {
		data.Vendor = *sub.Vendor
	}
	if sub.VendorLink != nil {
		data.VendorLink = *sub.VendorLink
	}
	if appBaseURL != "" {
		data.ManageURL = fmt.Sprintf("%s/subscriptions/%s", appBaseURL, sub.ID)
	}

	var body bytes.Buffer
	if err := reminderEmailTemplate.Execute(&body, data); err != nil {
		return ReminderEmail{}, fmt.Errorf("render reminder email: %w", err)
	}

	return ReminderEmail{
		Subject:  fmt.Sprintf("Reminder: %s", ReminderTitle(sub, days)),
		HTMLBody: body.String(),
	}, nil
}
