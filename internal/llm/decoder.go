package llm

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/nulzo/chat-gateway/pkg/api"
)

// PartDecoder decodes records that already carry the PartMessage shape:
//
//	{"role":"assistant","content":"hi","stop":false,"function_call":false}
//
// A bare "[DONE]" record is a stop marker.
var PartDecoder = DecoderFunc(decodePart)

func decodePart(record string) (Frame, error) {
	record = strings.TrimSpace(record)
	if record == "[DONE]" {
		return Frame{Stop: true}, nil
	}
	res, err := ParseRecord(record)
	if err != nil {
		return Frame{}, err
	}

	frame := Frame{
		Stop:         res.Get("stop").Bool(),
		FunctionCall: Truthy(res.Get("function_call")),
	}

	role := res.Get("role").String()
	content := res.Get("content").String()
	if role != "" || content != "" {
		frame.Parts = append(frame.Parts, api.PartMessage{Role: api.Role(role), Content: content})
	}
	return frame, nil
}

// ParseRecord parses one JSON object record. Anything else, including a valid JSON fragment such as
// a bare number, is ErrIncomplete.
func ParseRecord(record string) (gjson.Result, error) {
	if !gjson.Valid(record) {
		return gjson.Result{}, ErrIncomplete
	}
	res := gjson.Parse(record)
	if !res.IsObject() {
		return gjson.Result{}, ErrIncomplete
	}
	return res, nil
}

// Truthy reports whether a JSON value is present and not null, false, zero or empty.
func Truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		return r.Raw != "[]" && r.Raw != "{}"
	}
	return true
}
