// Package reminder renders appointment reminder text and validates the phone
// numbers reminders are sent to.
package reminder

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var defaultCatalog []byte

// Kind selects the phrasing by days until the appointment.
type Kind string

const (
	KindSameDay  Kind = "same_day"
	KindNextDay  Kind = "next_day"
	KindUpcoming Kind = "upcoming"
)

func KindForDays(days int) Kind {
	switch {
	case days <= 0:
		return KindSameDay
	case days == 1:
		return KindNextDay
	}
	return KindUpcoming
}

type languageFile struct {
	TimeFormat string          `yaml:"time_format"`
	DateFormat string          `yaml:"date_format"`
	Templates  map[Kind]string `yaml:"templates"`
}

type catalogFile struct {
	DefaultLanguage string                  `yaml:"default_language"`
	Languages       map[string]languageFile `yaml:"languages"`
}

// Catalog holds the per-language templates and the matcher that maps a
// patient's language preference onto one of them.
type Catalog struct {
	tags      []language.Tag
	languages []languageFile
	matcher   language.Matcher
}

func LoadDefaultCatalog() (*Catalog, error) {
	return NewCatalog(defaultCatalog)
}

func NewCatalog(raw []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}

	def, ok := file.Languages[file.DefaultLanguage]
	if !ok {
		return nil, fmt.Errorf("default language %q has no templates", file.DefaultLanguage)
	}

	c := &Catalog{}
	add := func(code string, lf languageFile) error {
		tag, err := language.Parse(code)
		if err != nil {
			return fmt.Errorf("invalid language %q: %w", code, err)
		}
		for _, kind := range []Kind{KindSameDay, KindNextDay, KindUpcoming} {
			if strings.TrimSpace(lf.Templates[kind]) == "" {
				return fmt.Errorf("language %q is missing the %s template", code, kind)
			}
		}
		c.tags = append(c.tags, tag)
		c.languages = append(c.languages, lf)
		return nil
	}

	// The matcher falls back to its first tag.
	if err := add(file.DefaultLanguage, def); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(file.Languages))
	for code := range file.Languages {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		if code == file.DefaultLanguage {
			continue
		}
		if err := add(code, file.Languages[code]); err != nil {
			return nil, err
		}
	}

	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// Render produces the reminder text for a patient. at must already be in the
// practice's time zone. It returns the text and the language actually used.
func (c *Catalog) Render(preferredLanguage string, kind Kind, patientName string, at time.Time) (string, string) {
	lf, tag := c.resolve(preferredLanguage)

	tmpl, ok := lf.Templates[kind]
	if !ok {
		tmpl = lf.Templates[KindUpcoming]
	}

	name := norm.NFC.String(strings.TrimSpace(patientName))
	r := strings.NewReplacer(
		"{name}", name,
		"{time}", at.Format(lf.TimeFormat),
		"{date}", at.Format(lf.DateFormat),
	)
	return r.Replace(tmpl), tag.String()
}

func (c *Catalog) resolve(preferred string) (languageFile, language.Tag) {
	preferred = strings.TrimSpace(preferred)
	if preferred == "" {
		return c.languages[0], c.tags[0]
	}

	desired, err := language.Parse(preferred)
	if err != nil {
		return c.languages[0], c.tags[0]
	}

	_, idx, conf := c.matcher.Match(desired)
	if conf == language.No || idx < 0 || idx >= len(c.languages) {
		return c.languages[0], c.tags[0]
	}
	return c.languages[idx], c.tags[idx]
}
