// Package notify describes the business-event notifications that are
// forwarded to users as WhatsApp template messages. Every event kind is
// one Template value; the HTTP layer serves them all with one handler.
package notify

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Event kinds served by default.
const (
	EventAccident  = "accident"
	EventLead      = "lead"
	EventQuestion  = "question"
	EventComplaint = "complaint"
)

// DefaultLanguage is the template language used when none is configured.
const DefaultLanguage = "es_MX"

// Template describes one notification kind: the approved template it
// sends, the ordered body fields it expects, and the acknowledgement shown
// to the caller.
type Template struct {
	Event    string   `yaml:"event"`
	Name     string   `yaml:"name"`
	Language string   `yaml:"language"`
	Fields   []string `yaml:"fields"`
	Ack      string   `yaml:"ack"`
}

// Parameters returns the template body parameters: the event fields in
// declaration order followed by the user identity. Missing fields are
// sent as empty strings.
func (t Template) Parameters(values map[string]string, user string) []string {
	params := make([]string, 0, len(t.Fields)+1)
	for _, f := range t.Fields {
		params = append(params, values[f])
	}
	return append(params, user)
}

// Defaults returns the built-in templates in the given language.
func Defaults(lang string) []Template {
	return []Template{
		{
			Event:    EventAccident,
			Name:     "new_accident",
			Language: lang,
			Fields:   []string{"name", "organization", "problem"},
			Ack:      "We have received your accident report. An advisor will contact you shortly.",
		},
		{
			Event:    EventLead,
			Name:     "new_lead",
			Language: lang,
			Fields:   []string{"name", "company", "surface", "period", "location"},
			Ack:      "Thank you! We have received your request and a sales advisor will contact you.",
		},
		{
			Event:    EventQuestion,
			Name:     "new_technical_question",
			Language: lang,
			Fields:   []string{"question"},
			Ack:      "We have received your question. Our technical team will reply soon.",
		},
		{
			Event:    EventComplaint,
			Name:     "new_complaint",
			Language: lang,
			Fields:   []string{"question"},
			Ack:      "We have received your complaint and will follow up with you.",
		},
	}
}

// Catalog indexes templates by event kind.
type Catalog struct {
	byEvent map[string]Template
}

// NewCatalog validates templates and indexes them. Language codes are
// canonicalized to the underscore form the Cloud API expects.
func NewCatalog(templates []Template) (*Catalog, error) {
	c := &Catalog{byEvent: make(map[string]Template, len(templates))}
	for _, t := range templates {
		if t.Event == "" || t.Name == "" {
			return nil, fmt.Errorf("template %q: event and name are required", t.Name)
		}
		if _, dup := c.byEvent[t.Event]; dup {
			return nil, fmt.Errorf("duplicate template for event %q", t.Event)
		}
		lang, err := NormalizeLanguage(t.Language)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", t.Name, err)
		}
		t.Language = lang
		c.byEvent[t.Event] = t
	}
	return c, nil
}

// Lookup returns the template for event.
func (c *Catalog) Lookup(event string) (Template, bool) {
	t, ok := c.byEvent[event]
	return t, ok
}

// Events returns the configured event kinds in sorted order.
func (c *Catalog) Events() []string {
	events := make([]string, 0, len(c.byEvent))
	for e := range c.byEvent {
		events = append(events, e)
	}
	sort.Strings(events)
	return events
}

// LoadFile reads a YAML list of templates and merges it over base: entries
// for an existing event replace that event's name, language, fields or ack
// where set; entries for new events are appended, taking defaultLanguage
// when they name none.
func LoadFile(path string, base []Template, defaultLanguage string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading templates: %w", err)
	}
	var overrides []Template
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	merged := append([]Template(nil), base...)
	for _, o := range overrides {
		idx := -1
		for i := range merged {
			if merged[i].Event == o.Event {
				idx = i
				break
			}
		}
		if idx < 0 {
			if o.Language == "" {
				o.Language = defaultLanguage
			}
			merged = append(merged, o)
			continue
		}
		t := &merged[idx]
		if o.Name != "" {
			t.Name = o.Name
		}
		if o.Language != "" {
			t.Language = o.Language
		}
		if len(o.Fields) > 0 {
			t.Fields = o.Fields
		}
		if o.Ack != "" {
			t.Ack = o.Ack
		}
	}
	return merged, nil
}

// NormalizeLanguage parses a BCP 47 tag (either separator) and returns it
// with an underscore separator, e.g. "es-mx" -> "es_MX".
func NormalizeLanguage(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", fmt.Errorf("language code is required")
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", fmt.Errorf("invalid language code %q: %w", code, err)
	}
	return strings.ReplaceAll(tag.String(), "-", "_"), nil
}
