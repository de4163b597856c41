package domain

import "regexp"

const (
	// UnknownVariable is the name decoders assign to parameters missing from
	// the WMO tables, as MRMS local parameters are.
	UnknownVariable = "unknown"

	// UnresolvedName is used when no product name can be inferred.
	UnresolvedName = "UNABLE_TO_RESOLVE_NAME"
)

// productNameRe matches path-like name tokens: letters with at most one
// internal '-' or '_' per repetition, e.g. "/MRMS_MergedReflectivityQC".
var productNameRe = regexp.MustCompile(`/([A-Za-z]+(?:-|_)?[A-Za-z]+)+`)

// InferProductName derives a human-readable product name from free-text
// provenance (typically the decoded file path). The last matching token wins.
func InferProductName(provenance string) string {
	matches := productNameRe.FindAllStringSubmatch(provenance, -1)
	if len(matches) == 0 {
		return UnresolvedName
	}
	return matches[len(matches)-1][1]
}

// ResolveName keeps a known variable name and infers one otherwise.
func ResolveName(variable, provenance string) string {
	if variable != "" && variable != UnknownVariable {
		return variable
	}
	return InferProductName(provenance)
}
