package search

import (
	"errors"
	"fmt"
)

// ErrorKind classifies search failures.
type ErrorKind int

const (
	// KindParse is a malformed query: bad syntax, unknown parameter or
	// modifier, unparsable value.
	KindParse ErrorKind = iota + 1
	// KindResolution is a well-formed query that names types or parameters
	// that cannot be joined.
	KindResolution
	// KindLimit is a query whose result exceeds a server limit.
	KindLimit
)

func (k ErrorKind) String() string {
	switch k {
	case KindParse:
		return "parse"
	case KindResolution:
		return "resolution"
	case KindLimit:
		return "limit"
	default:
		return "unknown"
	}
}

// Error is a fatal search error. Msg is safe to return to clients.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func parseError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindParse, Msg: fmt.Sprintf(format, args...)}
}

func resolutionError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindResolution, Msg: fmt.Sprintf(format, args...)}
}

func limitError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindLimit, Msg: fmt.Sprintf(format, args...)}
}

// AsError unwraps err to a search *Error.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Messages returned to clients.
const (
	msgHasComponents      = "An incorrect number of components were specified for '_has' (reverse chain) search."
	msgHasSystem          = "system search not supported with _has"
	msgHasType            = "Resource type '%s' is not valid for '_has' (reverse chain) search."
	msgParamNotFound      = "Search parameter '%s' for resource type '%s' was not found."
	msgHasNotReference    = "Search parameter '%s' is not of type reference for '_has' (reverse chain) search."
	msgHasTarget          = "Search parameter '%s' target types do not include expected type '%s' for '_has' (reverse chain) search."
	msgUndefinedModifier  = "Undefined Modifier: '%s'"
	msgUnsupportedMod     = "Unsupported type/modifier combination: '%s'/'%s'"
	msgChainModifier      = "Modifier: '%s' not allowed on chained parameter"
	msgChainType          = "Type: '%s' not allowed on chained parameter"
	msgModifierType       = "Modifier resource type [%s] is not allowed for search parameter [%s] of resource type [%s]."
	msgNeedsTypeModifier  = "Search parameter: '%s' must have resource type name modifier"
	msgChainBareID        = "Search parameter '%s' with value '%s' requires a resource type when used in a chained search"
	msgChainDepth         = "Chained search exceeds the maximum depth of %d"
	msgIncludeParts       = "A value for _include or _revinclude must have at least 2 parts separated by a colon."
	msgIncludeJoinType    = "The join resource type must match the resource type being searched."
	msgInvalidType        = "'%s' is not a valid resource type."
	msgRevIncludeTarget   = "The search parameter target type must match the resource type being searched."
	msgUndefinedInclusion = "Undefined Inclusion Parameter: %s"
	msgInclusionType      = "Inclusion Parameter must be of type 'reference'. The passed Inclusion Parameter is of type '%s': %s"
	msgInclusionTarget    = "Invalid target type for the Inclusion Parameter."
	msgSortInclude        = "_sort search result parameter not supported with _include or _revinclude."
	msgSummaryTextInclude = "_include and _revinclude are not supported with '_summary=text'"
	msgSystemInclude      = "system search not supported with _include or _revinclude."
	msgIncludeLimit       = "Number of returned 'include' resources exceeds allowable limit of %d"
	msgCountNegative      = "_count must be greater than or equal to zero"
	msgPageInvalid        = "_page must be a positive integer"
	msgTotalInvalid       = "_total must be one of none, estimate or accurate"
	msgSummaryInvalid     = "_summary must be one of true, false, text, data or count"
	msgTypeInvalid        = "_type search parameter has invalid resource type:%s"
	msgCompositeParts     = "Expected %d components but found %d in composite query value '%s'"
	msgBareBackslash      = "Bare '\\' characters are not allowed in search parameter values and must be escaped via '\\'."
	msgInvalidValue       = "Invalid value '%s' for search parameter '%s' of type '%s'"
	msgMissingValue       = "Search parameter '%s' with modifier ':missing' must have a value of 'true' or 'false'"
	msgSystemParam        = "Search parameter '%s' is not supported for system search across resource types %v"
	msgCompartmentType    = "Compartment '%s' is not supported."
	msgCompartmentMember  = "Resource type '%s' is not part of the %s compartment."
)
