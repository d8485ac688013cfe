// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package message

// ContentType identifies which representation of a connector message a
// content row holds.
type ContentType int

// Content types. The numeric values are persisted.
const (
	ContentRaw                 ContentType = 1
	ContentProcessedRaw        ContentType = 2
	ContentTransformed         ContentType = 3
	ContentEncoded             ContentType = 4
	ContentSent                ContentType = 5
	ContentResponse            ContentType = 6
	ContentResponseTransformed ContentType = 7
	ContentProcessingError     ContentType = 8
	ContentResponseError       ContentType = 9
	ContentPostprocessorError  ContentType = 10
	ContentSourceMap           ContentType = 11
	ContentChannelMap          ContentType = 12
	ContentResponseMap         ContentType = 13
)

// Valid reports whether the content type is defined.
func (ct ContentType) Valid() bool {
	return ct >= ContentRaw && ct <= ContentResponseMap
}

// IsMap reports whether the content row holds a serialized variable map
// rather than message content.
func (ct ContentType) IsMap() bool {
	switch ct {
	case ContentSourceMap, ContentChannelMap, ContentResponseMap:
		return true
	}
	return false
}

// String returns the content type name.
func (ct ContentType) String() string {
	switch ct {
	case ContentRaw:
		return "RAW"
	case ContentProcessedRaw:
		return "PROCESSED_RAW"
	case ContentTransformed:
		return "TRANSFORMED"
	case ContentEncoded:
		return "ENCODED"
	case ContentSent:
		return "SENT"
	case ContentResponse:
		return "RESPONSE"
	case ContentResponseTransformed:
		return "RESPONSE_TRANSFORMED"
	case ContentProcessingError:
		return "PROCESSING_ERROR"
	case ContentResponseError:
		return "RESPONSE_ERROR"
	case ContentPostprocessorError:
		return "POSTPROCESSOR_ERROR"
	case ContentSourceMap:
		return "SOURCE_MAP"
	case ContentChannelMap:
		return "CHANNEL_MAP"
	case ContentResponseMap:
		return "RESPONSE_MAP"
	default:
		return "UNKNOWN"
	}
}
