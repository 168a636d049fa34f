// Package portal drives the student portal in a headless browser: Azure
// sign-in, locating the weekly schedule, and stepping through weeks.
package portal

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// The schedule ("harmonogram") page is the palio page with _PageID=191.
var scheduleURLPattern = regexp.MustCompile(`(/palio/html\.run\?[^"']*_PageID=191[^"']*)`)

// FindScheduleURL returns the first schedule page link in the page source,
// with &amp; decoded, or "".
func FindScheduleURL(html string) string {
	m := scheduleURLPattern.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.ReplaceAll(m[1], "&amp;", "&")
}

// FindAlbumLink returns the href of the first album in the schedule's album
// table, or "".
func FindAlbumLink(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	href, _ := doc.Find("table.sort tbody a.link").First().Attr("href")
	return strings.TrimSpace(href)
}

// Resolve turns a portal-relative link into an absolute URL.
func Resolve(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// MaskSecret is used when logging whether a secret is present.
func MaskSecret(s string) string {
	if s == "" {
		return "BRAK!"
	}
	return "********"
}
