// Package frame implements the ship/offshore uplink wire format: a
// length-prefixed JSON header followed by an optional binary payload.
package frame

// Frame types recognized on the uplink. Both peers must agree on this set;
// an unrecognized type on read is not an error by itself (the dispatcher
// decides whether to ignore or poison), but emitting one the other side
// doesn't understand will desynchronize the link.
const (
	TypeHTTPRequest  = "HTTPRequest"
	TypeHTTPResponse = "HTTPResponse"
	TypeConnect      = "CONNECT"
	TypeConnectOK    = "CONNECT_OK"
	TypeData         = "DATA"
	TypeDataEnd      = "DATA_END"
	TypeError        = "ERROR"
)

// Header is the textual, self-describing object that precedes every
// frame's payload. It always carries a "type" key; recognized additional
// keys depend on that type.
type Header map[string]interface{}

// Frame is the atomic transfer unit on the uplink: a header dictionary plus
// an opaque payload whose length is declared by the header's body_len.
type Frame struct {
	Header Header
	Body   []byte
}

// Type returns the frame's "type" header field, or "" if absent/malformed.
func (f Frame) Type() string {
	s, _ := f.Header["type"].(string)
	return s
}

func (f Frame) str(key string) string {
	s, _ := f.Header[key].(string)
	return s
}

func (f Frame) num(key string) int {
	switch v := f.Header[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// StringHeaders returns the "headers" field as a map[string]string,
// tolerating a missing field (returns an empty, non-nil map).
func (f Frame) StringHeaders() map[string]string {
	out := map[string]string{}
	raw, _ := f.Header["headers"].(map[string]interface{})
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func headerObj(m map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewHTTPRequest builds an HTTPRequest frame.
func NewHTTPRequest(method, url string, headers map[string]string, body []byte) Frame {
	return Frame{
		Header: Header{
			"type":     TypeHTTPRequest,
			"method":   method,
			"url":      url,
			"headers":  headerObj(headers),
			"body_len": len(body),
		},
		Body: body,
	}
}

// NewHTTPResponse builds an HTTPResponse frame.
func NewHTTPResponse(statusCode int, headers map[string]string, body []byte) Frame {
	return Frame{
		Header: Header{
			"type":        TypeHTTPResponse,
			"status_code": statusCode,
			"headers":     headerObj(headers),
			"body_len":    len(body),
		},
		Body: body,
	}
}

// NewConnect builds a CONNECT frame.
func NewConnect(host string, port int) Frame {
	return Frame{Header: Header{"type": TypeConnect, "host": host, "port": port}}
}

// NewConnectOK builds a CONNECT_OK frame; it carries no fields.
func NewConnectOK() Frame {
	return Frame{Header: Header{"type": TypeConnectOK}}
}

// NewData builds a DATA frame carrying payload as its body.
func NewData(payload []byte) Frame {
	return Frame{Header: Header{"type": TypeData, "body_len": len(payload)}, Body: payload}
}

// NewDataEnd builds a DATA_END frame; body_len is always 0.
func NewDataEnd() Frame {
	return Frame{Header: Header{"type": TypeDataEnd, "body_len": 0}}
}

// NewError builds an ERROR frame with a human-readable message.
func NewError(message string) Frame {
	return Frame{Header: Header{"type": TypeError, "message": message}}
}

// StatusCode returns the HTTPResponse "status_code" field.
func (f Frame) StatusCode() int { return f.num("status_code") }

// Method returns the HTTPRequest "method" field.
func (f Frame) Method() string { return f.str("method") }

// URL returns the HTTPRequest "url" field.
func (f Frame) URL() string { return f.str("url") }

// Host returns the CONNECT "host" field.
func (f Frame) Host() string { return f.str("host") }

// Port returns the CONNECT "port" field.
func (f Frame) Port() int { return f.num("port") }

// Message returns the ERROR "message" field.
func (f Frame) Message() string { return f.str("message") }

// BodyLen returns the declared body_len header field (0 if absent).
func (f Frame) BodyLen() int { return f.num("body_len") }
