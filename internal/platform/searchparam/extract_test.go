package searchparam

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirsearch/internal/platform/reference"
)

const testBase = "https://fhir.example.org/r4"

func body(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func lookup(t *testing.T, rt, code string) *Definition {
	t.Helper()
	d, ok := Default().Lookup(rt, code)
	require.True(t, ok, "%s.%s", rt, code)
	return d
}

func TestExtract_String(t *testing.T) {
	p := body(t, `{"resourceType":"Patient","name":[{"family":"Chalmers","given":["Peter","James"]},{"text":"Jim"}]}`)
	idx := Extract(lookup(t, "Patient", "name"), p, testBase)
	assert.True(t, idx.Present)
	assert.ElementsMatch(t, []string{"Chalmers", "Peter", "James", "Jim"}, idx.Strings)

	idx = Extract(lookup(t, "Patient", "address-city"), p, testBase)
	assert.False(t, idx.Present)
}

func TestExtract_Token(t *testing.T) {
	o := body(t, `{"resourceType":"Observation","status":"final",
		"code":{"coding":[{"system":"http://loinc.org","code":"8867-4","display":"Heart rate"}],"text":"HR"},
		"identifier":[{"system":"urn:ids","value":"A1","type":{"coding":[{"system":"http://hl7.org/fhir/v2/0203","code":"MR"}]}}]}`)

	idx := Extract(lookup(t, "Observation", "code"), o, testBase)
	require.Len(t, idx.Tokens, 1)
	assert.Equal(t, Token{System: "http://loinc.org", Code: "8867-4", Display: "Heart rate"}, idx.Tokens[0])
	assert.ElementsMatch(t, []string{"HR", "Heart rate"}, idx.Texts)

	idx = Extract(lookup(t, "Observation", "status"), o, testBase)
	assert.Equal(t, []Token{{Code: "final"}}, idx.Tokens)

	idx = Extract(lookup(t, "Observation", "identifier"), o, testBase)
	require.Len(t, idx.Tokens, 1)
	assert.Equal(t, "MR", idx.Tokens[0].TypeCode)

	p := body(t, `{"resourceType":"Patient","active":true,"telecom":[{"system":"phone","value":"555"},{"system":"email","value":"a@b.c"}]}`)
	idx = Extract(lookup(t, "Patient", "active"), p, testBase)
	assert.Equal(t, []Token{{Code: "true"}}, idx.Tokens)
	idx = Extract(lookup(t, "Patient", "email"), p, testBase)
	require.Len(t, idx.Tokens, 1)
	assert.Equal(t, "a@b.c", idx.Tokens[0].Code)
}

func TestExtract_Reference(t *testing.T) {
	e := body(t, `{"resourceType":"Encounter",
		"subject":{"reference":"`+testBase+`/Patient/p1"},
		"serviceProvider":{"identifier":{"system":"urn:org","value":"o1"}},
		"reasonReference":[{"reference":"Condition/c1/_history/2"},{"reference":"https://other.example.com/Condition/c9"},{"reference":"not a ref"}]}`)

	idx := Extract(lookup(t, "Encounter", "subject"), e, testBase)
	require.Len(t, idx.References, 1)
	assert.Equal(t, reference.KindAbsoluteLocal, idx.References[0].Kind)
	assert.Equal(t, "Patient/p1", idx.References[0].Key())

	idx = Extract(lookup(t, "Encounter", "service-provider"), e, testBase)
	require.Len(t, idx.References, 1)
	assert.Equal(t, reference.KindLogical, idx.References[0].Kind)

	idx = Extract(lookup(t, "Encounter", "reason-reference"), e, testBase)
	require.Len(t, idx.References, 2, "malformed references are not indexed")
	assert.Equal(t, "2", idx.References[0].Version)
	assert.Equal(t, reference.KindExternal, idx.References[1].Kind)
}

func TestExtract_Canonical(t *testing.T) {
	m := body(t, `{"resourceType":"Measure","url":"http://example.org/Measure/m","version":"1",
		"library":["http://example.org/Library/lib|2.0"],
		"relatedArtifact":[{"type":"depends-on","resource":"http://example.org/Library/dep"},{"type":"citation","resource":"http://example.org/Library/cite"}]}`)

	idx := Extract(lookup(t, "Measure", "depends-on"), m, testBase)
	assert.ElementsMatch(t, []reference.Canonical{
		{URL: "http://example.org/Library/dep"},
		{URL: "http://example.org/Library/lib", Version: "2.0"},
	}, idx.Canonicals)

	idx = Extract(lookup(t, "Measure", "url"), m, testBase)
	assert.Equal(t, []string{"http://example.org/Measure/m"}, idx.URIs)
	assert.Equal(t, []reference.Canonical{{URL: "http://example.org/Measure/m", Version: "1"}}, idx.Canonicals)

	unversioned := body(t, `{"resourceType":"Measure","url":"http://example.org/Measure/m"}`)
	idx = Extract(lookup(t, "Measure", "url"), unversioned, testBase)
	assert.Equal(t, []reference.Canonical{{URL: "http://example.org/Measure/m"}}, idx.Canonicals)
}

func TestExtract_DateAndQuantity(t *testing.T) {
	o := body(t, `{"resourceType":"Observation","effectivePeriod":{"start":"2021-03-01"},
		"valueQuantity":{"value":72.5,"system":"http://unitsofmeasure.org","code":"/min","unit":"beats/min"}}`)

	idx := Extract(lookup(t, "Observation", "date"), o, testBase)
	require.Len(t, idx.Dates, 1)
	assert.Equal(t, time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC), idx.Dates[0].Start)
	assert.Equal(t, maxTime, idx.Dates[0].End)

	idx = Extract(lookup(t, "Observation", "value-quantity"), o, testBase)
	require.Len(t, idx.Quantities, 1)
	assert.Equal(t, Quantity{Value: 72.5, System: "http://unitsofmeasure.org", Code: "/min", Unit: "beats/min"}, idx.Quantities[0])
}

func TestExtract_Composite(t *testing.T) {
	o := body(t, `{"resourceType":"Observation","code":{"coding":[{"system":"http://loinc.org","code":"8480-6"}]},"valueQuantity":{"value":120}}`)
	idx := Extract(lookup(t, "Observation", "code-value-quantity"), o, testBase)
	require.Len(t, idx.Composites, 1)
	require.Len(t, idx.Composites[0], 2)
	assert.Equal(t, "8480-6", idx.Composites[0][0].Tokens[0].Code)
	assert.Equal(t, 120.0, idx.Composites[0][1].Quantities[0].Value)

	o = body(t, `{"resourceType":"Observation","code":{"coding":[{"code":"x"}]}}`)
	assert.False(t, Extract(lookup(t, "Observation", "code-value-quantity"), o, testBase).Present)
}

func TestSelect_Choice(t *testing.T) {
	o := body(t, `{"valueString":"a","valueQuantity":{"value":1},"value":"plain","valueset":"lower"}`)
	got := Select(o, "value[x]")
	assert.Len(t, got, 2)
}

func TestParseDateRange(t *testing.T) {
	utc := func(y int, mo time.Month, d, h, mi, s int) time.Time { return time.Date(y, mo, d, h, mi, s, 0, time.UTC) }
	tests := []struct {
		in         string
		start, end time.Time
	}{
		{"2021", utc(2021, 1, 1, 0, 0, 0), utc(2022, 1, 1, 0, 0, 0)},
		{"2021-02", utc(2021, 2, 1, 0, 0, 0), utc(2021, 3, 1, 0, 0, 0)},
		{"2021-02-28", utc(2021, 2, 28, 0, 0, 0), utc(2021, 3, 1, 0, 0, 0)},
		{"2021-02-28T10:00", utc(2021, 2, 28, 10, 0, 0), utc(2021, 2, 28, 10, 1, 0)},
		{"2021-02-28T10:00:05Z", utc(2021, 2, 28, 10, 0, 5), utc(2021, 2, 28, 10, 0, 6)},
		{"2021-02-28T10:00:05+02:00", utc(2021, 2, 28, 8, 0, 5), utc(2021, 2, 28, 8, 0, 6)},
	}
	for _, tt := range tests {
		r, err := ParseDateRange(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.start, r.Start, tt.in)
		assert.Equal(t, tt.end, r.End, tt.in)
	}

	r, err := ParseDateRange("2021-02-28T10:00:05.123Z")
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, r.End.Sub(r.Start))

	for _, bad := range []string{"", "21", "2021-13", "2021-02-28 10:00", "tomorrow"} {
		_, err := ParseDateRange(bad)
		assert.Error(t, err, bad)
	}
}
