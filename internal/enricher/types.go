// Package enricher defines the core types shared by the enrichment pipeline:
// queue jobs, analysis results, and the interfaces that connect the broker,
// analyzer, and persister.
package enricher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidJob is returned when a queue entry does not decode into a Job.
var ErrInvalidJob = errors.New("invalid job encoding")

const jobSeparator = "|"

// Diagnostic titles stored for results that did not reach extraction.
const (
	TitleInvalidDomain    = "Invalid Domain"
	TitleConnectionFailed = "Connection Failed"
	TitlePageTooLarge     = "Page Too Large"
	TitleEmpty            = "Empty"
	TitleParseError       = "Parse Error"
)

// Social platforms tracked by the extractor.
const (
	PlatformFacebook  = "facebook"
	PlatformInstagram = "instagram"
	PlatformLinkedIn  = "linkedin"
	PlatformTwitter   = "twitter"
)

// Job is one domain waiting for analysis.
type Job struct {
	ID     int64
	Domain string
}

// ParseJob decodes the "<id>|<domain>" wire form. The split happens on the
// first separator so domains keep any trailing pipes verbatim.
func ParseJob(raw string) (Job, error) {
	idPart, domain, ok := strings.Cut(raw, jobSeparator)
	if !ok {
		return Job{}, fmt.Errorf("%w: missing separator in %q", ErrInvalidJob, raw)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(idPart), 10, 64)
	if err != nil {
		return Job{}, fmt.Errorf("%w: non-numeric id in %q", ErrInvalidJob, raw)
	}
	if id <= 0 {
		return Job{}, fmt.Errorf("%w: id must be positive in %q", ErrInvalidJob, raw)
	}
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return Job{}, fmt.Errorf("%w: empty domain in %q", ErrInvalidJob, raw)
	}
	return Job{ID: id, Domain: domain}, nil
}

// Encode renders the job in its queue wire form.
func (j Job) Encode() string {
	return strconv.FormatInt(j.ID, 10) + jobSeparator + j.Domain
}

// AnalysisResult is the outcome of analyzing one domain. It is produced once
// per job, handed to the persister, and then discarded.
type AnalysisResult struct {
	JobID       int64
	StatusCode  int
	Title       string
	Description string
	Emails      []string
	Socials     map[string]string
	TechStack   []string
	IsEcommerce bool
	HasAds      bool
	// Parsed reports whether extraction ran. Terminal results leave the
	// extracted columns NULL in the store.
	Parsed bool
}

// TerminalResult builds a result that carries only a status and a diagnostic title.
func TerminalResult(jobID int64, status int, title string) AnalysisResult {
	return AnalysisResult{
		JobID:      jobID,
		StatusCode: status,
		Title:      title,
	}
}
