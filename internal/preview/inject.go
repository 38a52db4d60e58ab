package preview

import (
	"bytes"
	"mime"
	"net/http"
)

// ScriptTag is inserted into every HTML page the preview serves.
const ScriptTag = `<script src="` + ClientPath + `" async></script>`

var closingBody = []byte("</body>")

// Inject inserts the client script tag before the last closing body tag,
// matched case-insensitively. Documents without one get the tag appended.
func Inject(body []byte) []byte {
	tag := []byte(ScriptTag)

	i := lastClosingBody(body)
	if i < 0 {
		out := make([]byte, 0, len(body)+len(tag))
		out = append(out, body...)

		return append(out, tag...)
	}

	out := make([]byte, 0, len(body)+len(tag))
	out = append(out, body[:i]...)
	out = append(out, tag...)

	return append(out, body[i:]...)
}

// lastClosingBody returns the offset of the last closing body tag in any
// letter case, or -1. Only ASCII is folded so offsets stay valid for bodies
// in any encoding.
func lastClosingBody(body []byte) int {
	for i := len(body) - len(closingBody); i >= 0; i-- {
		if body[i] == '<' && bytes.EqualFold(body[i:i+len(closingBody)], closingBody) {
			return i
		}
	}

	return -1
}

// isHTML reports whether the header describes an HTML document.
func isHTML(h http.Header) bool {
	mediaType, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		return false
	}

	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
