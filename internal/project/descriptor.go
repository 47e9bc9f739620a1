package project

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Descriptor collects the disaster metadata entered by the operator.
type Descriptor struct {
	Disaster     string
	EventName    string
	Country      string
	Organisation string
	RunLabel     string
	Year         int
	Month        int
}

// Validate checks the metadata fields that name derivation depends on.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Disaster) == "" {
		return errors.New("disaster type must be set")
	}
	if strings.TrimSpace(d.Organisation) == "" {
		return errors.New("organisation must be set")
	}
	if d.Year < 1000 || d.Year > 9999 {
		return fmt.Errorf("year %d out of range", d.Year)
	}
	if d.Month < 1 || d.Month > 12 {
		return fmt.Errorf("month %d out of range", d.Month)
	}
	return nil
}

// Slug derives the canonical project directory name: organisation, disaster,
// event name, and a date suffix, lowercased and hyphen-joined. The date
// suffix concatenates the first two digits of the year with the unpadded
// month, preserving the naming convention of existing assessment buckets.
// An empty event name yields a double hyphen rather than being dropped.
// A non-empty run label is appended as a final component.
func (d Descriptor) Slug() string {
	suffix := strconv.Itoa(d.Year)[:2] + strconv.Itoa(d.Month)
	parts := []string{
		fold(d.Organisation),
		fold(d.Disaster),
		fold(d.EventName),
		suffix,
	}
	if label := fold(d.RunLabel); label != "" {
		parts = append(parts, label)
	}
	return strings.Join(parts, "-")
}

// BucketName derives the GCS bucket for this assessment from the cloud
// project id and the slug, sanitized against bucket naming rules.
func (d Descriptor) BucketName(projectID string) string {
	name := fold(projectID) + "-" + d.Slug()
	return sanitizeBucketName(name)
}

// LabelingRegion narrows an arbitrary GCP region down to the fixed set of
// regions the managed labeling service supports.
func LabelingRegion(region string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(region)), "europe") {
		return "europe-west4"
	}
	return "us-central1"
}

// fold lowercases and strips diacritics so metadata entered with local
// spellings still produces ASCII-safe names.
func fold(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripper, value)
	if err != nil {
		stripped = value
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('-')
		}
	}
	return b.String()
}

func sanitizeBucketName(name string) string {
	// Bucket names allow lowercase letters, digits, hyphens, and are capped
	// at 63 characters for single-segment names.
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.Trim(name, "-.")
	if len(name) > 63 {
		name = strings.Trim(name[:63], "-.")
	}
	return name
}
