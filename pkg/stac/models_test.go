package stac

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestItemPage_Decode(t *testing.T) {
	body := `{
		"type": "FeatureCollection",
		"numberMatched": 42,
		"features": [
			{"properties": {"monty:country_codes": ["USA", "MEX"]}},
			{"properties": {"monty:country_codes": ["USA"]}},
			{"properties": {}}
		],
		"links": [
			{"rel": "self", "href": "http://example.test/items"},
			{"rel": "next", "href": "http://example.test/items?token=abc"}
		]
	}`

	var page ItemPage
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	n, ok := page.Matched()
	if !ok || n != 42 {
		t.Errorf("Matched() = (%d, %v), want (42, true)", n, ok)
	}
	if got := NextLink(page.Links); got != "http://example.test/items?token=abc" {
		t.Errorf("NextLink = %q", got)
	}
	if got := page.Features[0].Codes(PropertyCountryCodes); !reflect.DeepEqual(got, []string{"USA", "MEX"}) {
		t.Errorf("Codes = %v", got)
	}
	if got := page.Features[2].Codes(PropertyCountryCodes); got != nil {
		t.Errorf("Codes on missing property = %v, want nil", got)
	}
}

func TestItemPage_MissingMatched(t *testing.T) {
	var page ItemPage
	if err := json.Unmarshal([]byte(`{"features": [], "links": []}`), &page); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	n, ok := page.Matched()
	if ok || n != 0 {
		t.Errorf("Matched() = (%d, %v), want (0, false)", n, ok)
	}
	if got := NextLink(page.Links); got != "" {
		t.Errorf("NextLink = %q, want empty", got)
	}
}

func TestCollectionList_Validate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"collections": [{"id": "a"}, {"id": "b", "roles": ["event"]}]}`, false},
		{"missing id", `{"collections": [{"id": "a"}, {"title": "no id"}]}`, true},
		{"blank id", `{"collections": [{"id": "  "}]}`, true},
		{"null entry", `{"collections": [null]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var list CollectionList
			if err := json.Unmarshal([]byte(tt.body), &list); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			err := list.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("expected ErrInvalidRecord, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCollection_RolesAndSummary(t *testing.T) {
	var c Collection
	body := `{"id": "gdacs-events", "roles": ["event", "source"], "summaries": {"monty:count": 1234}}`
	if err := json.Unmarshal([]byte(body), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !c.HasRole(RoleEvent) {
		t.Error("expected event role")
	}
	if c.HasRole("hazard") {
		t.Error("unexpected hazard role")
	}
	if n, ok := c.SummaryCount(); !ok || n != 1234 {
		t.Errorf("SummaryCount() = (%d, %v), want (1234, true)", n, ok)
	}

	var bare Collection
	if _, ok := bare.SummaryCount(); ok {
		t.Error("SummaryCount on collection without summaries should be absent")
	}
}

func TestFeature_Datetime(t *testing.T) {
	f := &Feature{Properties: map[string]any{"start_datetime": "2024-07-01T06:00:00Z"}}
	got, ok := f.Datetime()
	if !ok || got.Hour() != 6 {
		t.Errorf("Datetime() = (%v, %v)", got, ok)
	}

	if _, ok := (&Feature{Properties: map[string]any{"datetime": "not a time"}}).Datetime(); ok {
		t.Error("expected invalid datetime to be rejected")
	}
}
