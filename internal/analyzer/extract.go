package analyzer

import (
	"bytes"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
)

const (
	maxTitleRunes        = 250
	maxDescriptionRunes  = 500
	minTitleLength       = 3
	minDescriptionLength = 10
	maxEmails            = 5
	minEmailLength       = 5
	maxEmailLength       = 254
	minProfileURLLength  = 20
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

var errorTitleMarkers = []string{"404", "error", "not found", "forbidden"}

var placeholderEmailMarkers = []string{
	"yourmail", "youremail", "your-email", "your.email", "your_email",
	"yourdomain", "example@", "@example", "mail@domain",
	"email@domain", "name@domain", "contact@domain",
	"info@domain", "admin@domain", "placeholder", "sample@", "test@domain",
}

var spamEmailMarkers = []string{
	"info@example.com", "admin@example.com", "test@test.com", "noreply@", "no-reply@",
}

var imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".bmp"}

var shareMarkers = []string{"sharer", "share", "intent/tweet", "share.php"}

// extract parses a page body into a full result. Any failure, including a
// panic inside the HTML parser, collapses into a Parse Error result.
func (a *Analyzer) extract(jobID int64, p page) (res enricher.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("html extraction panicked", zap.Int64("job_id", jobID), zap.Any("panic", r))
			res = enricher.TerminalResult(jobID, p.StatusCode, enricher.TitleParseError)
		}
	}()

	body := toUTF8(p.Body, p.ContentType)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		a.logger.Warn("html parse failed", zap.Int64("job_id", jobID), zap.Error(err))
		return enricher.TerminalResult(jobID, p.StatusCode, enricher.TitleParseError)
	}
	html := string(body)
	lower := strings.ToLower(html)

	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	detected := a.registry.Detect(lower)

	return enricher.AnalysisResult{
		JobID:       jobID,
		StatusCode:  p.StatusCode,
		Title:       CleanTitle(doc.Find("title").First().Text()),
		Description: CleanDescription(desc),
		Emails:      ExtractEmails(html),
		Socials:     ExtractSocials(doc),
		TechStack:   detected.Technologies,
		IsEcommerce: detected.IsEcommerce,
		HasAds:      detected.HasAds,
		Parsed:      true,
	}
}

// CleanTitle caps, flattens, and filters a raw <title>. Error-page titles and
// near-empty titles come back as "".
func CleanTitle(raw string) string {
	title := truncateRunes(raw, maxTitleRunes)
	title = strings.NewReplacer("\r", "", "\n", "").Replace(title)
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) < minTitleLength {
		return ""
	}
	lower := strings.ToLower(title)
	for _, marker := range errorTitleMarkers {
		if strings.Contains(lower, marker) {
			return ""
		}
	}
	return title
}

// CleanDescription caps a meta description and drops ones too short to be useful.
func CleanDescription(raw string) string {
	desc := strings.TrimSpace(truncateRunes(raw, maxDescriptionRunes))
	if utf8.RuneCountInString(desc) < minDescriptionLength {
		return ""
	}
	return desc
}

// ExtractEmails returns up to five distinct valid addresses in document order.
func ExtractEmails(html string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, candidate := range emailPattern.FindAllString(html, -1) {
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if !ValidEmail(candidate) {
			continue
		}
		out = append(out, candidate)
		if len(out) == maxEmails {
			break
		}
	}
	return out
}

// ValidEmail filters placeholders, asset filenames, and well-known junk addresses.
func ValidEmail(email string) bool {
	if email == "" || strings.Contains(email, "%") {
		return false
	}
	lower := strings.ToLower(email)
	if containsAny(lower, placeholderEmailMarkers) || containsAny(lower, spamEmailMarkers) {
		return false
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return false
		}
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return false
	}
	return len(email) >= minEmailLength && len(email) <= maxEmailLength
}

// ExtractSocials keeps the first valid profile link per platform in document order.
func ExtractSocials(doc *goquery.Document) map[string]string {
	socials := make(map[string]string)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if !strings.HasPrefix(href, "http") {
			return
		}
		platform := classifySocial(strings.ToLower(href))
		if platform == "" {
			return
		}
		if _, taken := socials[platform]; taken {
			return
		}
		if validSocialLink(href, platform) {
			socials[platform] = href
		}
	})
	return socials
}

func classifySocial(lowerHref string) string {
	switch {
	case strings.Contains(lowerHref, "facebook.com"):
		return enricher.PlatformFacebook
	case strings.Contains(lowerHref, "instagram.com"):
		return enricher.PlatformInstagram
	case strings.Contains(lowerHref, "linkedin.com"):
		return enricher.PlatformLinkedIn
	case strings.Contains(lowerHref, "twitter.com"), strings.Contains(lowerHref, "x.com"):
		return enricher.PlatformTwitter
	default:
		return ""
	}
}

func validSocialLink(href, platform string) bool {
	lower := strings.ToLower(href)
	if containsAny(lower, shareMarkers) {
		return false
	}
	switch platform {
	case enricher.PlatformTwitter:
		return strings.Contains(lower, "twitter.com/") || strings.Contains(lower, "x.com/")
	case enricher.PlatformFacebook, enricher.PlatformInstagram, enricher.PlatformLinkedIn:
		return strings.Contains(lower, platform+".com/") && len(href) > minProfileURLLength
	default:
		return false
	}
}

// toUTF8 converts body to UTF-8 using the declared or sniffed charset. The
// original bytes are returned when conversion is not possible.
func toUTF8(body []byte, contentType string) []byte {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body
	}
	converted, err := io.ReadAll(r)
	if err != nil {
		return body
	}
	return converted
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
