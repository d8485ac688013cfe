// Copyright (C) 2026 Carewire Inc.
// See LICENSE for copying information.

package connector

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/zeebo/errs"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// ExpandTemplate resolves ${key} placeholders against the request:
// messageId and channelId are built in, everything else reads from the
// message maps. Unknown placeholders are an error rather than a literal
// ${key} leaking into a file name or URL.
func ExpandTemplate(template string, req *Request) (string, error) {
	var expandErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(placeholder string) string {
		key := placeholder[2 : len(placeholder)-1]
		switch key {
		case "messageId":
			return strconv.FormatInt(req.MessageID, 10)
		case "channelId":
			return req.ChannelID
		}
		if v, ok := req.Lookup(key); ok {
			return fmt.Sprint(v)
		}
		expandErr = errs.Combine(expandErr, Error.New("unknown placeholder %q", key))
		return placeholder
	})
	return out, expandErr
}
