package format

import (
	"fmt"
	"sort"

	"maxwell-cdc/internal/schema"
)

// Identifier is the name the format is configured by
const Identifier = "maxwellx-json"

// OptionalOptions lists every option key the format accepts
func OptionalOptions() []string {
	keys := make([]string, 0, len(decodingOptions)+len(encodingOptions))
	seen := map[string]bool{}
	for _, set := range []map[string]bool{decodingOptions, encodingOptions} {
		for k := range set {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// NewDecodingFormat validates the options and builds a translator reading
// rows of rowType.
func NewDecodingFormat(options map[string]string, rowType schema.RowType) (*Translator, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid %s options: %w", Identifier, err)
	}
	if rowType.Arity() == 0 {
		return nil, fmt.Errorf("%s requires a row type with at least one column", Identifier)
	}
	return NewTranslator(NewJSONDecoder(rowType, opts.TimestampFormat), opts), nil
}

// NewEncodingFormat validates the options and builds an encoder writing rows
// of rowType.
func NewEncodingFormat(options map[string]string, rowType schema.RowType) (*Encoder, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, fmt.Errorf("invalid %s options: %w", Identifier, err)
	}
	if opts.MapNullKeyMode == MapNullKeyLiteral && opts.MapNullKeyLiteral == "" {
		return nil, fmt.Errorf("%s must not be empty when %s is %s", OptMapNullKeyLiteral, OptMapNullKeyMode, MapNullKeyLiteral)
	}
	if rowType.Arity() == 0 {
		return nil, fmt.Errorf("%s requires a row type with at least one column", Identifier)
	}
	return NewEncoder(rowType, opts), nil
}
