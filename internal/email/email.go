package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// MagicLinkSubject is the subject line of every sign-in email.
const MagicLinkSubject = "Sign in to dil.map on your TV"

//go:embed templates/*
var templateFS embed.FS

var (
	textTmpl = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/magic_link.txt"))
	htmlTmpl = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/magic_link.html"))
)

// Message is a rendered email ready for delivery.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Sender delivers a message. Implementations do not retry.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// MagicLink describes the sign-in email for one issued link.
type MagicLink struct {
	URL                string
	DeviceID           string
	DeviceModel        string
	DeviceManufacturer string
	ExpiresIn          time.Duration
}

type magicLinkView struct {
	URL                string
	DeviceModel        string
	DeviceManufacturer string
	DeviceIDShort      string
	ExpiryMinutes      int
}

// NewMagicLinkMessage renders the multipart sign-in email addressed to to.
func NewMagicLinkMessage(to string, ml MagicLink) (Message, error) {
	view := magicLinkView{
		URL:                ml.URL,
		DeviceModel:        orDefault(ml.DeviceModel, "Unknown Device"),
		DeviceManufacturer: orDefault(ml.DeviceManufacturer, "Unknown Manufacturer"),
		DeviceIDShort:      ml.DeviceID,
		ExpiryMinutes:      int(ml.ExpiresIn / time.Minute),
	}
	if len(view.DeviceIDShort) > 8 {
		view.DeviceIDShort = view.DeviceIDShort[:8]
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, view); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}

	return Message{
		To:       to,
		Subject:  MagicLinkSubject,
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
