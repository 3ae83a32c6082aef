package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
)

const replyHTML = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #667eea; color: white; padding: 30px; text-align: center; border-radius: 8px 8px 0 0;">
    <h2 style="margin: 0;">Message from {{.SenderName}}</h2>
  </div>
  <div style="padding: 30px; border: 1px solid #e2e8f0; border-top: none;">
    <p>Hi {{.RecipientName}},</p>
    <p>Thank you for reaching out. Here's my response to your message:</p>
    <div style="background: #f8fafc; padding: 20px; border-left: 4px solid #667eea; margin: 20px 0;">
      {{range $i, $line := .Lines}}{{if $i}}<br>{{end}}{{$line}}{{end}}
    </div>
    <p>Best regards,<br>{{.SenderName}}</p>
  </div>
  <div style="background: #f8fafc; padding: 20px; text-align: center; font-size: 0.875rem; color: #64748b;">
    <p>This email was sent in response to your message via {{.SenderName}}'s website contact form.</p>
  </div>
</body>
</html>
`

const replyText = `Hi {{.RecipientName}},

Thank you for reaching out. Here's my response to your message:

{{.Body}}

Best regards,
{{.SenderName}}

--
This email was sent in response to your message via {{.SenderName}}'s website contact form.
`

const newsletterHTML = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; background-color: #f8fafc;">
  <div style="background: white; border-radius: 8px; overflow: hidden;">
    <div style="background: #667eea; color: white; padding: 40px 30px; text-align: center;">
      <h1 style="margin: 0; font-size: 1.5rem;">New Blog Post from {{.SenderName}}</h1>
    </div>
    <div style="padding: 30px;">
      <p>Hi {{.SubscriberName}},</p>
      <p>A new blog post has just been published!</p>
      <h2 style="font-size: 1.5rem; color: #1e293b; margin: 0 0 15px 0;">{{.PostTitle}}</h2>
      <p style="color: #475569;">{{.PostExcerpt}}</p>
      <p style="text-align: center;"><a href="{{.PostURL}}" style="background: #667eea; color: white; padding: 12px 30px; text-decoration: none; border-radius: 6px;">Read Full Post</a></p>
    </div>
    <div style="padding: 20px 30px; text-align: center; font-size: 0.875rem; color: #64748b;">
      <p>You're receiving this email because you subscribed to {{.SenderName}}'s newsletter.</p>
      <p><a href="{{.SiteURL}}">Visit Website</a> | <a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>
    </div>
  </div>
</body>
</html>
`

const newsletterText = `Hi {{.SubscriberName}},

A new blog post has just been published!

{{.PostTitle}}

{{.PostExcerpt}}

Read the full post: {{.PostURL}}

--
You're receiving this email because you subscribed to {{.SenderName}}'s newsletter.
Unsubscribe: {{.UnsubscribeURL}}
`

const testHTML = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #667eea; color: white; padding: 30px; text-align: center; border-radius: 8px;">
    <h2 style="margin: 0;">Email Test Successful!</h2>
  </div>
  <div style="padding: 30px; border: 1px solid #e2e8f0; border-radius: 8px; margin-top: 20px;">
    <p>Your email configuration is working. Contact replies and newsletters can go out.</p>
    <p>This test was sent from the <a href="{{.SiteURL}}">{{.SenderName}}</a> admin panel.</p>
  </div>
</body>
</html>
`

const testText = `Email Test Successful!

Your email configuration is working. Contact replies and newsletters can go out.

This test was sent from the {{.SenderName}} admin panel ({{.SiteURL}}).
`

var (
	testHTMLTmpl       = htmltemplate.Must(htmltemplate.New("test.html").Parse(testHTML))
	testTextTmpl       = texttemplate.Must(texttemplate.New("test.txt").Parse(testText))
	replyHTMLTmpl      = htmltemplate.Must(htmltemplate.New("reply.html").Parse(replyHTML))
	replyTextTmpl      = texttemplate.Must(texttemplate.New("reply.txt").Parse(replyText))
	newsletterHTMLTmpl = htmltemplate.Must(htmltemplate.New("newsletter.html").Parse(newsletterHTML))
	newsletterTextTmpl = texttemplate.Must(texttemplate.New("newsletter.txt").Parse(newsletterText))
)

type renderedEmail struct {
	Subject  string
	HTMLBody string
	TextBody string
}

type replyData struct {
	SenderName    string
	RecipientName string
	Body          string
	Lines         []string
}

type newsletterData struct {
	SenderName     string
	SubscriberName string
	PostTitle      string
	PostExcerpt    string
	PostURL        string
	SiteURL        string
	UnsubscribeURL string
}

// Renderer turns replies and post notifications into emails.
type Renderer struct {
	siteURL    string
	senderName string
}

func NewRenderer(siteURL, senderName string) *Renderer {
	if senderName == "" {
		senderName = "Website Admin"
	}
	return &Renderer{
		siteURL:    strings.TrimRight(siteURL, "/"),
		senderName: senderName,
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func (r *Renderer) PostURL(slug string) string {
	return r.siteURL + "/blog/" + url.PathEscape(slug)
}

func (r *Renderer) UnsubscribeURL(email string) string {
	return r.siteURL + "/newsletter/unsubscribe?email=" + url.QueryEscape(email)
}

func (r *Renderer) Reply(msg ReplyMessage) (renderedEmail, error) {
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	data := replyData{
		SenderName:    orDefault(msg.SenderName, r.senderName),
		RecipientName: orDefault(msg.To.Name, "there"),
		Body:          body,
		Lines:         strings.Split(body, "\n"),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := replyHTMLTmpl.Execute(&htmlBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render reply html: %w", err)
	}
	if err := replyTextTmpl.Execute(&textBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render reply text: %w", err)
	}

	return renderedEmail{
		Subject:  "Re: " + msg.OriginalSubject,
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	}, nil
}

func (r *Renderer) Newsletter(post Post, sub Subscriber) (renderedEmail, error) {
	data := newsletterData{
		SenderName:     r.senderName,
		SubscriberName: orDefault(sub.Name, "there"),
		PostTitle:      post.Title,
		PostExcerpt:    post.Excerpt,
		PostURL:        r.PostURL(post.Slug),
		SiteURL:        r.siteURL,
		UnsubscribeURL: r.UnsubscribeURL(sub.Email),
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := newsletterHTMLTmpl.Execute(&htmlBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render newsletter html: %w", err)
	}
	if err := newsletterTextTmpl.Execute(&textBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render newsletter text: %w", err)
	}

	return renderedEmail{
		Subject:  "New Post: " + post.Title,
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	}, nil
}

func (r *Renderer) Test() (renderedEmail, error) {
	data := struct {
		SenderName string
		SiteURL    string
	}{r.senderName, r.siteURL}

	var htmlBuf, textBuf bytes.Buffer
	if err := testHTMLTmpl.Execute(&htmlBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render test html: %w", err)
	}
	if err := testTextTmpl.Execute(&textBuf, data); err != nil {
		return renderedEmail{}, fmt.Errorf("render test text: %w", err)
	}

	return renderedEmail{
		Subject:  "Test Email - Configuration Check",
		HTMLBody: htmlBuf.String(),
		TextBody: textBuf.String(),
	}, nil
}
