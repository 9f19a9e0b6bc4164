// Package errdefs defines the error categories surfaced by the retrieval engine.
//
// Every failure returned by the query path wraps exactly one of the sentinels
// below, so callers can branch with errors.Is regardless of how much context
// was added on the way up.
package errdefs

import "errors"

var (
	// ErrDimensionMismatch reports an embedding whose length differs from the index dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrIndexLoad reports a corrupt or inconsistent index snapshot.
	ErrIndexLoad = errors.New("index load error")

	// ErrEncoding reports a failure of the embedding gateway.
	ErrEncoding = errors.New("encoding error")

	// ErrTranslation reports a failure of the translator.
	ErrTranslation = errors.New("translation error")

	// ErrAssetUnavailable reports that an asset's image could not be fetched.
	ErrAssetUnavailable = errors.New("asset unavailable")

	// ErrInvalidRegion reports a degenerate or out-of-bounds crop rectangle.
	ErrInvalidRegion = errors.New("invalid region")

	// ErrInvalidArgument reports a malformed request.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrMetadataLookup reports a failure of the metadata store.
	ErrMetadataLookup = errors.New("metadata lookup error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrDimensionMismatch, "DimensionMismatch"},
	{ErrIndexLoad, "IndexLoadError"},
	{ErrEncoding, "EncodingError"},
	{ErrTranslation, "TranslationError"},
	{ErrAssetUnavailable, "AssetUnavailable"},
	{ErrInvalidRegion, "InvalidRegion"},
	{ErrInvalidArgument, "InvalidArgument"},
	{ErrMetadataLookup, "MetadataLookupError"},
}

// Kind returns the category name of err, or "Internal" if it wraps none of the sentinels.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}
