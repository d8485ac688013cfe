// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

// Package attachment extracts bulky content out of message bodies before
// persistence and reattaches it at dispatch time.
//
// Extracted content is replaced inline by a ${ATTACH:id} token. The message
// body and the attachments are stored separately, and any content that flows
// out through a destination has its tokens expanded again.
package attachment

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"carewire.io/carewire/engine/message"
)

// Error is the attachment error class.
var Error = errs.Class("attachment")

var tokenRe = regexp.MustCompile(`\$\{ATTACH:([A-Za-z0-9-]+)\}`)

// Token returns the inline token for an attachment id.
func Token(id string) string {
	return "${ATTACH:" + id + "}"
}

// Handler splits raw messages into a storable body and attachments.
type Handler interface {
	// Extract splits raw into the body that is stored inline and the
	// extracted attachments.
	Extract(messageID int64, raw []byte) (body []byte, atts []message.Attachment, err error)
}

// Passthrough performs no extraction.
type Passthrough struct{}

// Extract implements Handler.
func (Passthrough) Extract(messageID int64, raw []byte) ([]byte, []message.Attachment, error) {
	return raw, nil, nil
}

// RegexHandler extracts every match of Pattern into an attachment.
type RegexHandler struct {
	Pattern  *regexp.Regexp
	MimeType string
}

// Extract implements Handler.
func (h *RegexHandler) Extract(messageID int64, raw []byte) ([]byte, []message.Attachment, error) {
	if h.Pattern == nil {
		return raw, nil, nil
	}

	var atts []message.Attachment
	body := h.Pattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		id := uuid.NewString()
		atts = append(atts, message.Attachment{
			MessageID: messageID,
			ID:        id,
			Type:      h.MimeType,
			Content:   append([]byte(nil), match...),
		})
		return []byte(Token(id))
	})
	return body, atts, nil
}

// TokenIDs returns the attachment ids referenced from content, in order of
// appearance.
func TokenIDs(content string) []string {
	matches := tokenRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return ids
}

// Reattach expands every ${ATTACH:id} token in content from atts. Tokens
// referencing unknown attachments are an error: sending a message with a
// hole in it is worse than failing the dispatch.
func Reattach(content string, atts []message.Attachment) (string, error) {
	if len(atts) == 0 && !tokenRe.MatchString(content) {
		return content, nil
	}

	byID := make(map[string][]byte, len(atts))
	for _, att := range atts {
		byID[att.ID] = att.Content
	}

	var missing string
	out := tokenRe.ReplaceAllStringFunc(content, func(match string) string {
		id := tokenRe.FindStringSubmatch(match)[1]
		data, ok := byID[id]
		if !ok {
			missing = id
			return match
		}
		return string(data)
	})
	if missing != "" {
		return "", Error.New("attachment %s referenced but not stored", missing)
	}
	return out, nil
}
