package extraction

import "errors"

var (
	// ErrGeneratorRequired indicates NewExtractor was called without a generator.
	ErrGeneratorRequired = errors.New("generator is required")

	// ErrTextTooShort indicates contract text below MinTextLength characters.
	ErrTextTooShort = errors.New("contract text too short")

	// ErrUnparseableReply indicates the model reply held no usable JSON object.
	ErrUnparseableReply = errors.New("unparseable model reply")

	// ErrSchemaViolation indicates a reply object with fields of the wrong type.
	ErrSchemaViolation = errors.New("reply does not match schema")
)
