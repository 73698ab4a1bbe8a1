package gmail

import (
	"encoding/base64"
	"strings"

	gmail "google.golang.org/api/gmail/v1"
)

// Defaults used when a message lacks the corresponding header.
const (
	DefaultSubject = "No Subject"
	DefaultFrom    = "Unknown Sender"
	DefaultDate    = ""
)

// PreviewBodyLimit is the number of characters of body text kept in a listing preview.
const PreviewBodyLimit = 1000

const mimeTextPlain = "text/plain"

// Headers maps header names to values. Names are matched exactly; when a
// header repeats, the first occurrence wins.
type Headers map[string]string

// ParseHeaders builds a Headers map from a message part.
func ParseHeaders(part *gmail.MessagePart) Headers {
	h := make(Headers)
	if part == nil {
		return h
	}
	for _, mph := range part.Headers {
		if mph == nil {
			continue
		}
		if _, seen := h[mph.Name]; !seen {
			h[mph.Name] = mph.Value
		}
	}
	return h
}

// Get returns the header value, or def when the header is missing or empty.
func (h Headers) Get(name, def string) string {
	if v := h[name]; v != "" {
		return v
	}
	return def
}

// ExtractBody returns the plain text body of a message payload.
//
// An inline body on the payload itself wins. Otherwise the first direct
// child part of type text/plain that carries data is used. HTML-only
// messages yield "".
func ExtractBody(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if payload.Body != nil && payload.Body.Data != "" {
		return DecodeBody(payload.Body.Data)
	}
	for _, part := range payload.Parts {
		if part == nil || part.MimeType != mimeTextPlain {
			continue
		}
		if part.Body != nil && part.Body.Data != "" {
			return DecodeBody(part.Body.Data)
		}
	}
	return ""
}

var bodyEncodings = []*base64.Encoding{
	base64.URLEncoding,
	base64.RawURLEncoding,
	base64.StdEncoding,
	base64.RawStdEncoding,
}

// DecodeBody decodes a Gmail body payload. Gmail uses base64url, but padded,
// unpadded and standard-alphabet variants are all accepted. Undecodable data
// yields "".
func DecodeBody(data string) string {
	data = strings.TrimSpace(data)
	if data == "" {
		return ""
	}
	for _, enc := range bodyEncodings {
		if b, err := enc.DecodeString(data); err == nil {
			return string(b)
		}
	}
	return ""
}

// Truncate returns the first n characters of s.
func Truncate(s string, n int) string {
	if n < 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Email is the extracted view of a Gmail message.
type Email struct {
	ID       string
	ThreadID string
	Subject  string
	From     string
	Date     string
	Body     string
	Snippet  string
}

// ParseMessage extracts headers and body text from a full-format message.
func ParseMessage(m *gmail.Message) Email {
	if m == nil {
		return Email{Subject: DefaultSubject, From: DefaultFrom, Date: DefaultDate}
	}
	h := ParseHeaders(m.Payload)
	return Email{
		ID:       m.Id,
		ThreadID: m.ThreadId,
		Subject:  h.Get("Subject", DefaultSubject),
		From:     h.Get("From", DefaultFrom),
		Date:     h.Get("Date", DefaultDate),
		Body:     ExtractBody(m.Payload),
		Snippet:  m.Snippet,
	}
}

// EmailPreview is the listing representation of a message.
type EmailPreview struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	Date    string `json:"date"`
	Body    string `json:"body"`
	Snippet string `json:"snippet"`
}

// Preview returns the listing view of e with the body truncated to PreviewBodyLimit.
func (e Email) Preview() EmailPreview {
	return EmailPreview{
		ID:      e.ID,
		Subject: e.Subject,
		From:    e.From,
		Date:    e.Date,
		Body:    Truncate(e.Body, PreviewBodyLimit),
		Snippet: e.Snippet,
	}
}
