package wfs

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ConnectError reports a failed GetCapabilities handshake for one service group.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("wfs: connect %s: %v", e.URL, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// FetchError reports a failed request for one layer.
type FetchError struct {
	Layer  string
	Op     string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("wfs: %s %s: http %d: %v", e.Op, e.Layer, e.Status, e.Err)
	}
	return fmt.Sprintf("wfs: %s %s: %v", e.Op, e.Layer, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ServiceException is an OGC exception report returned in place of a result.
type ServiceException struct {
	Code    string
	Locator string
	Text    string
}

func (e *ServiceException) Error() string {
	var b strings.Builder
	b.WriteString("service exception")
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Locator != "" {
		b.WriteString(" (" + e.Locator + ")")
	}
	if e.Text != "" {
		b.WriteString(": " + e.Text)
	}
	return b.String()
}

// StatusError is a non-2xx response with a short summary of its body.
type StatusError struct {
	Status  int
	Summary string
}

func (e *StatusError) Error() string {
	if e.Summary == "" {
		return fmt.Sprintf("unexpected status %d", e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Summary)
}

// exceptionReport covers the OWS 1.x ExceptionReport and the WFS 1.0
// ServiceExceptionReport layouts.
type exceptionReport struct {
	Exceptions []struct {
		Code    string   `xml:"exceptionCode,attr"`
		Locator string   `xml:"locator,attr"`
		Texts   []string `xml:"ExceptionText"`
	} `xml:"Exception"`
	ServiceExceptions []struct {
		Code    string `xml:"code,attr"`
		Locator string `xml:"locator,attr"`
		Text    string `xml:",chardata"`
	} `xml:"ServiceException"`
}

// rootElement returns the local name of the first XML element in body, or ""
// when body does not start like an XML document.
func rootElement(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return ""
	}
	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local
		}
	}
}

// detectException reports whether body is an OGC exception report and, if so,
// returns its first exception.
func detectException(body []byte) (*ServiceException, bool) {
	root := rootElement(body)
	if !strings.HasSuffix(root, "ExceptionReport") {
		return nil, false
	}
	var doc exceptionReport
	if err := xml.Unmarshal(bytes.TrimSpace(body), &doc); err != nil {
		return &ServiceException{Text: "unparseable exception report"}, true
	}
	if len(doc.Exceptions) > 0 {
		ex := doc.Exceptions[0]
		return &ServiceException{
			Code:    ex.Code,
			Locator: ex.Locator,
			Text:    collapseSpace(strings.Join(ex.Texts, " ")),
		}, true
	}
	if len(doc.ServiceExceptions) > 0 {
		ex := doc.ServiceExceptions[0]
		return &ServiceException{Code: ex.Code, Locator: ex.Locator, Text: collapseSpace(ex.Text)}, true
	}
	return &ServiceException{}, true
}

const maxSummary = 200

// summarize turns an error body into one short line. HTML pages (the usual
// proxy or servlet error page) are reduced to their title and first heading.
func summarize(contentType string, body []byte) string {
	if se, ok := detectException(body); ok {
		return se.Error()
	}
	if strings.Contains(contentType, "html") || looksLikeHTML(body) {
		if s := htmlSummary(body); s != "" {
			return truncate(s, maxSummary)
		}
	}
	return truncate(collapseSpace(string(body)), maxSummary)
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 64 {
		head = head[:64]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}

func htmlSummary(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	title := collapseSpace(doc.Find("title").First().Text())
	heading := collapseSpace(doc.Find("h1, h2").First().Text())
	switch {
	case title != "" && heading != "" && heading != title:
		return title + ": " + heading
	case title != "":
		return title
	case heading != "":
		return heading
	}
	return collapseSpace(doc.Find("body").Text())
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
