// Package stac defines the record types read from a STAC API at the boundary of
// the reporting jobs, reusing planetlabs/go-stac for links.
package stac

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// ErrInvalidRecord is returned when a response lacks a required field.
var ErrInvalidRecord = errors.New("invalid STAC record")

// Link is the STAC link object.
type Link = gostac.Link

// Relation and property names used by the Montandon catalogue.
const (
	RelNext = "next"

	RoleEvent = "event"

	PropertyCountryCodes = "monty:country_codes"
	PropertyHazardCodes  = "monty:hazard_codes"
	PropertyHazardDetail = "monty:hazard_detail"
	PropertyCorrID       = "monty:corr_id"
	SummaryCount         = "monty:count"
)

// Collection is one entry of GET /collections or GET /collections/{id}.
type Collection struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Roles       []string       `json:"roles,omitempty"`
	Summaries   map[string]any `json:"summaries,omitempty"`
	Links       []*Link        `json:"links,omitempty"`
}

// Validate checks required fields.
func (c *Collection) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: collection without id", ErrInvalidRecord)
	}
	return nil
}

// HasRole reports whether the collection declares the given role.
func (c *Collection) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SummaryCount returns the precomputed item count from the collection
// summaries, if present and numeric.
func (c *Collection) SummaryCount() (int, bool) {
	v, ok := c.Summaries[SummaryCount]
	if !ok {
		return 0, false
	}
	return asInt(v)
}

// CollectionList is one page of GET /collections.
type CollectionList struct {
	Collections []*Collection `json:"collections"`
	Links       []*Link       `json:"links"`
}

// Validate checks every collection on the page.
func (l *CollectionList) Validate() error {
	for i, c := range l.Collections {
		if c == nil {
			return fmt.Errorf("%w: null collection at index %d", ErrInvalidRecord, i)
		}
		if err := c.Validate(); err != nil {
			return fmt.Errorf("collection %d: %w", i, err)
		}
	}
	return nil
}

// ItemPage is one page of GET /collections/{id}/items. NumberMatched is nil
// when the server does not report a total.
type ItemPage struct {
	Type           string     `json:"type,omitempty"`
	Features       []*Feature `json:"features"`
	Links          []*Link    `json:"links"`
	NumberMatched  *int       `json:"numberMatched,omitempty"`
	NumberReturned *int       `json:"numberReturned,omitempty"`
}

// Matched returns numberMatched with the default-zero policy applied; ok is
// false when the field was absent.
func (p *ItemPage) Matched() (n int, ok bool) {
	if p.NumberMatched == nil {
		return 0, false
	}
	return *p.NumberMatched, true
}

// Feature is a (possibly field-projected) STAC item.
type Feature struct {
	ID         string          `json:"id,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
	Properties map[string]any  `json:"properties"`
	Links      []*Link         `json:"links,omitempty"`
}

// Codes returns the string array stored under the given property. Missing or
// malformed properties yield nil.
func (f *Feature) Codes(property string) []string {
	if f == nil || f.Properties == nil {
		return nil
	}
	raw, ok := f.Properties[property].([]any)
	if !ok {
		return nil
	}
	codes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			codes = append(codes, s)
		}
	}
	return codes
}

// Datetime returns the item's datetime property (or start_datetime).
func (f *Feature) Datetime() (time.Time, bool) {
	if f == nil || f.Properties == nil {
		return time.Time{}, false
	}
	for _, key := range []string{"datetime", "start_datetime"} {
		s, ok := f.Properties[key].(string)
		if !ok || s == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NextLink returns the href of the first link whose rel is "next", or "".
func NextLink(links []*Link) string {
	for _, l := range links {
		if l != nil && l.Rel == RelNext && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
