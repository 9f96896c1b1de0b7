package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirsearch/internal/platform/fhir"
	"github.com/ehr/fhirsearch/internal/platform/reference"
	"github.com/ehr/fhirsearch/internal/platform/searchparam"
)

const testBase = "https://fhir.example.org/r4"

func testParser() *Parser {
	return &Parser{Registry: searchparam.Default(), Base: testBase}
}

func mustParams(t *testing.T, raw string) Params {
	t.Helper()
	p, err := ParseRawQuery(raw)
	require.NoError(t, err)
	return p
}

func TestParse_ErrorMessages(t *testing.T) {
	tests := []struct {
		name         string
		resourceType string
		query        string
		kind         ErrorKind
		msg          string
	}{
		{"invalid type", "Foo", "", KindResolution,
			"'Foo' is not a valid resource type."},
		{"has components", "Patient", "_has:Observation=x", KindParse,
			"An incorrect number of components were specified for '_has' (reverse chain) search."},
		{"has system", "", "_has:Observation:patient:code=x", KindResolution,
			"system search not supported with _has"},
		{"has type", "Patient", "_has:Foo:patient:code=x", KindResolution,
			"Resource type 'Foo' is not valid for '_has' (reverse chain) search."},
		{"has param", "Patient", "_has:Observation:nope:code=x", KindResolution,
			"Search parameter 'nope' for resource type 'Observation' was not found."},
		{"has not reference", "Patient", "_has:Observation:code:status=final", KindResolution,
			"Search parameter 'code' is not of type reference for '_has' (reverse chain) search."},
		{"has target", "Patient", "_has:Observation:encounter:code=x", KindResolution,
			"Search parameter 'encounter' target types do not include expected type 'Patient' for '_has' (reverse chain) search."},
		{"undefined modifier", "Patient", "name:foo=x", KindParse,
			"Undefined Modifier: 'foo'"},
		{"unsupported modifier", "Patient", "gender:exact=male", KindParse,
			"Unsupported type/modifier combination: 'token'/'exact'"},
		{"chain modifier", "Patient", "general-practitioner:Foo.name=x", KindParse,
			"Modifier: 'Foo' not allowed on chained parameter"},
		{"chain type", "Patient", "gender.name=x", KindParse,
			"Type: 'token' not allowed on chained parameter"},
		{"chain needs type", "Patient", "general-practitioner.name=x", KindResolution,
			"Search parameter: 'general-practitioner' must have resource type name modifier"},
		{"chain modifier type", "Patient", "general-practitioner:Patient.name=x", KindResolution,
			"Modifier resource type [Patient] is not allowed for search parameter [general-practitioner] of resource type [Patient]."},
		{"chain bare id", "Observation", "patient.general-practitioner=123", KindResolution,
			"Search parameter 'general-practitioner' with value '123' requires a resource type when used in a chained search"},
		{"include parts", "Patient", "_include=Patient", KindParse,
			"A value for _include or _revinclude must have at least 2 parts separated by a colon."},
		{"include join type", "Patient", "_include=Observation:subject", KindResolution,
			"The join resource type must match the resource type being searched."},
		{"revinclude type", "Patient", "_revinclude=Foo:subject", KindResolution,
			"'Foo' is not a valid resource type."},
		{"revinclude target", "Patient", "_revinclude=Observation:subject:Group", KindResolution,
			"The search parameter target type must match the resource type being searched."},
		{"revinclude param target", "Patient", "_revinclude=Observation:encounter", KindResolution,
			"The search parameter target type must match the resource type being searched."},
		{"undefined inclusion", "Patient", "_include=Patient:nope", KindResolution,
			"Undefined Inclusion Parameter: Patient:nope"},
		{"inclusion type", "Patient", "_include=Patient:name", KindResolution,
			"Inclusion Parameter must be of type 'reference'. The passed Inclusion Parameter is of type 'string': Patient:name"},
		{"inclusion target", "Patient", "_include=Patient:organization:Practitioner", KindResolution,
			"Invalid target type for the Inclusion Parameter."},
		{"sort with include", "Patient", "_include=Patient:organization&_sort=name", KindParse,
			"_sort search result parameter not supported with _include or _revinclude."},
		{"summary text with include", "Patient", "_include=Patient:organization&_summary=text", KindParse,
			"_include and _revinclude are not supported with '_summary=text'"},
		{"system include", "", "_include=Patient:organization", KindParse,
			"system search not supported with _include or _revinclude."},
		{"composite parts", "Observation", "code-value-quantity=a", KindParse,
			"Expected 2 components but found 1 in composite query value 'a'"},
		{"negative count", "Patient", "_count=-1", KindParse,
			"_count must be greater than or equal to zero"},
		{"invalid _type", "", "_type=Foo", KindParse,
			"_type search parameter has invalid resource type:Foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testParser().Parse(tt.resourceType, mustParams(t, tt.query), fhir.HandlingStrict)
			require.Error(t, err)
			se, ok := AsError(err)
			require.True(t, ok, "expected *Error, got %T", err)
			assert.Equal(t, tt.kind, se.Kind)
			assert.Equal(t, tt.msg, se.Msg)
		})
	}
}

func TestParse_BareBackslashAlwaysFatal(t *testing.T) {
	for _, h := range []fhir.HandlingPreference{fhir.HandlingStrict, fhir.HandlingLenient} {
		_, err := testParser().Parse("Patient", Params{{Key: "name", Value: `a\b`}}, h)
		require.Error(t, err, string(h))
		assert.Equal(t, "Bare '\\' characters are not allowed in search parameter values and must be escaped via '\\'.", err.Error())
	}
}

func TestParse_ChainErrorsFatalWhenLenient(t *testing.T) {
	_, err := testParser().Parse("Patient", mustParams(t, "general-practitioner.name=x"), fhir.HandlingLenient)
	require.Error(t, err)
}

func TestParse_LenientDropsWithWarning(t *testing.T) {
	q, err := testParser().Parse("Patient", mustParams(t, "name:foo=x&nope=1&gender=male"), fhir.HandlingLenient)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Undefined Modifier: 'foo'",
		"Search parameter 'nope' for resource type 'Patient' was not found.",
	}, q.Warnings)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, Params{{Key: "gender", Value: "male"}}, q.Effective)
}

func TestParse_StrictRejectsUnknown(t *testing.T) {
	_, err := testParser().Parse("Patient", mustParams(t, "nope=1"), fhir.HandlingStrict)
	require.Error(t, err)
	assert.Equal(t, "Search parameter 'nope' for resource type 'Patient' was not found.", err.Error())
}

func TestParse_ForwardChain(t *testing.T) {
	q, err := testParser().Parse("Observation", mustParams(t, "subject:Patient.name=Smith"), fhir.HandlingStrict)
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)

	chain, ok := q.Filters[0].(*Chain)
	require.True(t, ok)
	assert.Equal(t, "Observation", chain.Hop.ResourceType)
	assert.Equal(t, "subject", chain.Hop.Param.Code)
	assert.Equal(t, "Patient", chain.Hop.TargetType)

	leaf, ok := chain.Next.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, "name", leaf.Code)
	assert.Equal(t, "Smith", leaf.Values[0].Raw)
}

func TestParse_TwoLevelReverseChain(t *testing.T) {
	q, err := testParser().Parse("Patient",
		mustParams(t, "_has:Observation:patient:_has:Provenance:target:agent=Practitioner/1"), fhir.HandlingStrict)
	require.NoError(t, err)
	require.Len(t, q.Filters, 1)

	outer, ok := q.Filters[0].(*Has)
	require.True(t, ok)
	assert.Equal(t, "Observation", outer.Hop.ResourceType)
	assert.Equal(t, "Patient", outer.Hop.TargetType)

	inner, ok := outer.Next.(*Has)
	require.True(t, ok)
	assert.Equal(t, "Provenance", inner.Hop.ResourceType)
	assert.Equal(t, "Observation", inner.Hop.TargetType)

	leaf, ok := inner.Next.(*Leaf)
	require.True(t, ok)
	assert.Equal(t, "agent", leaf.Code)
	assert.Equal(t, reference.QueryLocal, leaf.Values[0].Ref.Kind)
}

func TestParse_HasWithChainedLeaf(t *testing.T) {
	q, err := testParser().Parse("Patient",
		mustParams(t, "_has:Observation:patient:encounter.status=finished"), fhir.HandlingStrict)
	require.NoError(t, err)

	has := q.Filters[0].(*Has)
	chain, ok := has.Next.(*Chain)
	require.True(t, ok)
	assert.Equal(t, "Encounter", chain.Hop.TargetType)
}

func TestParse_ChainDepth(t *testing.T) {
	p := testParser()
	p.MaxChainDepth = 1
	_, err := p.Parse("Observation", mustParams(t, "subject:Patient.organization.name=x"), fhir.HandlingStrict)
	require.Error(t, err)
	assert.Equal(t, "Chained search exceeds the maximum depth of 1", err.Error())
}

func TestParse_ResultParameters(t *testing.T) {
	q, err := testParser().Parse("Patient", mustParams(t, "_count=5000&_page=2&_total=none&_elements=gender,name"), fhir.HandlingStrict)
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCount, q.Count)
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, TotalNone, q.Total)
	assert.Equal(t, []string{"gender", "name"}, q.Elements)
	assert.Equal(t, Params{{Key: "_total", Value: "none"}, {Key: "_elements", Value: "gender,name"}}, q.Effective)

	q, err = testParser().Parse("Patient", mustParams(t, "_count=0"), fhir.HandlingStrict)
	require.NoError(t, err)
	assert.Equal(t, SummaryCount, q.Summary)
}

func TestParse_FormatAndPrettyAccepted(t *testing.T) {
	for _, h := range []fhir.HandlingPreference{fhir.HandlingStrict, fhir.HandlingLenient} {
		q, err := testParser().Parse("Patient", mustParams(t, "_format=json&gender=male&_pretty=true"), h)
		require.NoError(t, err, string(h))
		assert.Empty(t, q.Warnings, string(h))
		assert.Equal(t, Params{
			{Key: "_format", Value: "json"},
			{Key: "gender", Value: "male"},
			{Key: "_pretty", Value: "true"},
		}, q.Effective, string(h))
	}
}

func TestParse_SortKeepsOnlyAppliedKeys(t *testing.T) {
	q, err := testParser().Parse("Patient", mustParams(t, "_sort=-birthdate,nope,family&gender=male"), fhir.HandlingLenient)
	require.NoError(t, err)
	require.Len(t, q.Sort, 2)
	assert.Len(t, q.Warnings, 1)
	assert.Equal(t, Params{{Key: "_sort", Value: "-birthdate,family"}, {Key: "gender", Value: "male"}}, q.Effective)

	again, err := testParser().Parse("Patient", q.Effective, fhir.HandlingStrict)
	require.NoError(t, err, "effective parameters re-parse under strict handling")
	assert.Equal(t, q.Effective, again.Effective)

	q, err = testParser().Parse("Patient", mustParams(t, "_sort=nope&gender=male"), fhir.HandlingLenient)
	require.NoError(t, err)
	assert.Empty(t, q.Sort)
	assert.Equal(t, Params{{Key: "gender", Value: "male"}}, q.Effective)
}

func TestParse_Includes(t *testing.T) {
	q, err := testParser().Parse("Observation",
		mustParams(t, "_include=Observation:patient&_include:iterate=Patient:general-practitioner&_revinclude=Provenance:target"),
		fhir.HandlingStrict)
	require.NoError(t, err)

	require.Len(t, q.Includes, 2)
	assert.False(t, q.Includes[0].Iterate)
	assert.True(t, q.Includes[1].Iterate)
	assert.Equal(t, "Patient", q.Includes[1].JoinType)
	require.Len(t, q.RevIncludes, 1)
	assert.True(t, q.RevIncludes[0].Reverse)
}

func TestParse_IncludeWildcard(t *testing.T) {
	q, err := testParser().Parse("Patient", mustParams(t, "_include=Patient:*"), fhir.HandlingStrict)
	require.NoError(t, err)

	var codes []string
	for _, inc := range q.Includes {
		codes = append(codes, inc.Param.Code)
	}
	assert.Equal(t, []string{"general-practitioner", "link", "organization"}, codes)
}

func TestParse_SystemSearchTypes(t *testing.T) {
	q, err := testParser().Parse("", mustParams(t, "_type=Patient,Practitioner&family=house"), fhir.HandlingStrict)
	require.NoError(t, err)
	assert.Equal(t, []string{"Patient", "Practitioner"}, q.Types)
	require.Len(t, q.Filters, 1)
	assert.Equal(t, "", q.Filters[0].(*Leaf).ResourceType)

	_, err = testParser().Parse("", mustParams(t, "family=house"), fhir.HandlingStrict)
	require.Error(t, err)
}

func TestParseRawQuery_KeepsOrder(t *testing.T) {
	p, err := ParseRawQuery("a=1&b=x%2Cy&a=2")
	require.NoError(t, err)
	assert.Equal(t, Params{{"a", "1"}, {"b", "x,y"}, {"a", "2"}}, p)
	assert.Equal(t, []string{"1", "2"}, p.All("a"))
	assert.Equal(t, "a=1&b=x%2Cy&a=2", p.Encode())
	assert.Equal(t, Params{{"b", "x,y"}, {"c", "3"}}, p.Without("a").Set("c", "3"))
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		in     string
		prefix Prefix
		rest   string
	}{
		{"gt5", PrefixGt, "5"},
		{"eb2020", PrefixEb, "2020"},
		{"ne-1", PrefixNe, "-1"},
		{"5", PrefixEq, "5"},
		{"ge", PrefixEq, "ge"},
		{"sax", PrefixEq, "sax"},
	}
	for _, tt := range tests {
		p, rest := splitPrefix(tt.in)
		assert.Equal(t, tt.prefix, p, tt.in)
		assert.Equal(t, tt.rest, rest, tt.in)
	}
}

func TestParseNumber_ImplicitRange(t *testing.T) {
	n, ok := parseNumber("100")
	require.True(t, ok)
	assert.InDelta(t, 99.5, n.Low, 1e-9)
	assert.InDelta(t, 100.5, n.High, 1e-9)

	n, ok = parseNumber("1.50")
	require.True(t, ok)
	assert.InDelta(t, 1.495, n.Low, 1e-9)
	assert.InDelta(t, 1.505, n.High, 1e-9)

	n, ok = parseNumber("1e2")
	require.True(t, ok)
	assert.InDelta(t, 50, n.Low, 1e-9)
	assert.InDelta(t, 150, n.High, 1e-9)

	_, ok = parseNumber("abc")
	assert.False(t, ok)
}

func TestValueParser_Token(t *testing.T) {
	def, _ := searchparam.Default().Lookup("Observation", "code")
	vp := valueParser{def: def}

	v, err := vp.parse("http://loinc.org|1234")
	require.NoError(t, err)
	assert.Equal(t, TokenValue{System: "http://loinc.org", Code: "1234", HasSystem: true}, v.Token)

	v, err = vp.parse("|1234")
	require.NoError(t, err)
	assert.Equal(t, TokenValue{Code: "1234", HasSystem: true}, v.Token)

	v, err = vp.parse(`a\|b`)
	require.NoError(t, err)
	assert.Equal(t, TokenValue{Code: "a|b"}, v.Token)
}

func TestValueParser_EscapedComma(t *testing.T) {
	def, _ := searchparam.Default().Lookup("Patient", "name")
	values, err := valueParser{def: def}.parseValues(`a\,b,c`)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "a,b", values[0].Raw)
	assert.Equal(t, "c", values[1].Raw)
}
