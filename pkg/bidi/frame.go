package bidi

import (
	"encoding/json"

	"github.com/driftglass/bidigo/pkg/command"
)

// frameKind is the tag of the classified inbound frame.
type frameKind int

const (
	frameCommandResponse frameKind = iota
	frameCommandError
	frameUnsolicitedError
	frameEvent
	frameUnknown
)

// inboundFrame is the result of classifying one parsed JSON text message
// from the peer, per the transport's classification rule.
type inboundFrame struct {
	kind frameKind

	id     command.Id
	result json.RawMessage

	errBody errorBody

	method string
	params json.RawMessage

	raw string
}

// errorBody is the raw shape of an error frame before it is attached to a
// bidierr.ErrorResponse.
type errorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

// wireFrame is the superset shape used to sniff an inbound JSON object for
// the fields the classification rule inspects, without committing to any
// one of the peer-defined frame shapes up front.
type wireFrame struct {
	ID      *json.RawMessage `json:"id"`
	Result  json.RawMessage  `json:"result"`
	Error   json.RawMessage  `json:"error"`
	Message string           `json:"message"`
	Method  *string          `json:"method"`
	Params  json.RawMessage  `json:"params"`
}

// classify parses raw as a JSON object and classifies it into one of the
// five inbound categories. A parse failure or a shape matching none of
// the categories yields frameUnknown.
func classify(raw string) inboundFrame {
	var w wireFrame
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return inboundFrame{kind: frameUnknown, raw: raw}
	}

	id, hasID := decodeID(w.ID)
	hasResult := len(w.Result) > 0
	hasError := len(w.Error) > 0 || w.Message != ""

	switch {
	case hasID && hasError:
		// A frame with both result and error is classified as an error:
		// error takes precedence.
		return inboundFrame{kind: frameCommandError, id: id, errBody: decodeErrorBody(w), raw: raw}
	case hasID && hasResult:
		return inboundFrame{kind: frameCommandResponse, id: id, result: w.Result, raw: raw}
	case !hasID && hasError:
		return inboundFrame{kind: frameUnsolicitedError, errBody: decodeErrorBody(w), raw: raw}
	case w.Method != nil && w.Params != nil:
		return inboundFrame{kind: frameEvent, method: *w.Method, params: w.Params, raw: raw}
	default:
		return inboundFrame{kind: frameUnknown, raw: raw}
	}
}

// decodeID extracts a non-null integer id. A present-but-null id, or an
// absent id field, is treated as "no id" (the unsolicited category).
func decodeID(raw *json.RawMessage) (command.Id, bool) {
	if raw == nil {
		return 0, false
	}
	var n *uint64
	if err := json.Unmarshal(*raw, &n); err != nil || n == nil {
		return 0, false
	}
	return command.Id(*n), true
}

func decodeErrorBody(w wireFrame) errorBody {
	// The peer error shape may encode "error" either as a bare string
	// code (WebDriver BiDi) or as a nested object; both are tolerated.
	var code string
	if len(w.Error) > 0 {
		var s string
		if err := json.Unmarshal(w.Error, &s); err == nil {
			code = s
		} else {
			var nested errorBody
			if err := json.Unmarshal(w.Error, &nested); err == nil {
				return nested
			}
		}
	}
	return errorBody{Error: code, Message: w.Message}
}
