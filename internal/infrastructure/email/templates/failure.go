package templates

import (
	"bytes"
	"html/template"
	"log"
)

// FailureEmailProps describes a high-value delivery that exhausted its retries.
type FailureEmailProps struct {
	TenantID    string
	DirectiveID string
	RuleID      string
	Emotion     string
	Confidence  int
	EndpointID  string
	Attempts    int
	StatusCode  int
	ErrorClass  string
	Error       string
	FailedAt    string
}

var failureTemplate = template.Must(template.New("failure").Parse(`
<h1 style="font-size: 20px; font-weight: bold; margin: 0 0 16px;">High-value intervention was not delivered</h1>
<p style="margin: 0 0 16px;">Tenant <strong>{{.TenantID}}</strong> could not deliver directive <code>{{.DirectiveID}}</code> to endpoint <code>{{.EndpointID}}</code>.</p>
<table role="presentation" border="0" cellpadding="4" cellspacing="0" style="font-size: 14px; margin-bottom: 16px;">
  <tr><td style="color: #6b7280;">Rule</td><td>{{.RuleID}}</td></tr>
  <tr><td style="color: #6b7280;">Emotion</td><td>{{.Emotion}} ({{.Confidence}}%)</td></tr>
  <tr><td style="color: #6b7280;">Attempts</td><td>{{.Attempts}}</td></tr>
  {{if .StatusCode}}<tr><td style="color: #6b7280;">Last status</td><td>{{.StatusCode}}</td></tr>{{end}}
  {{if .ErrorClass}}<tr><td style="color: #6b7280;">Error class</td><td>{{.ErrorClass}}</td></tr>{{end}}
  {{if .Error}}<tr><td style="color: #6b7280;">Error</td><td>{{.Error}}</td></tr>{{end}}
  <tr><td style="color: #6b7280;">Failed at</td><td>{{.FailedAt}}</td></tr>
</table>
<p style="margin: 0;">Check that the endpoint is reachable and that its secret matches.</p>`))

// GetFailureEmailContent renders the body of a critical failure alert. All
// values are escaped.
func GetFailureEmailContent(props FailureEmailProps) string {
	var buf bytes.Buffer
	if err := failureTemplate.Execute(&buf, props); err != nil {
		log.Printf("Error executing failure email template: %v", err)
		return `<p>A high-value delivery failed.</p>`
	}
	return buf.String()
}
