package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/textproto"
	"regexp"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var keyGUID = []byte("258EAFA5-E914-47DA-95CA-C5AB0DC85B11")

// A valid Sec-WebSocket-Key is the base64 encoding of 16 bytes:
// 22 significant characters, the last holding only 2 bits, then "==".
var secWebSocketKeyRe = regexp.MustCompile(`^[+/0-9A-Za-z]{21}[AQgw]==$`)

func validSecWebSocketKey(key string) bool {
	if !secWebSocketKeyRe.MatchString(key) {
		return false
	}
	b, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(b) == 16
}

func secWebSocketAccept(secWebSocketKey string) string {
	h := sha1.New()
	h.Write([]byte(secWebSocketKey))
	h.Write(keyGUID)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func headerContainsToken(h http.Header, key, token string) bool {
	key = textproto.CanonicalMIMEHeaderKey(key)
	return httpguts.HeaderValuesContainsToken(h[key], token)
}

// headerTokens returns the comma separated tokens of every value of key
// in order.
func headerTokens(h http.Header, key string) []string {
	key = textproto.CanonicalMIMEHeaderKey(key)

	var tokens []string
	for _, v := range h[key] {
		for _, t := range strings.Split(v, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

// selectSubprotocol returns the first subprotocol offered by the client
// that the server supports, spelled as the client spelled it.
func selectSubprotocol(r *http.Request, subprotocols []string) string {
	for _, offered := range headerTokens(r.Header, "Sec-WebSocket-Protocol") {
		for _, sp := range subprotocols {
			if strings.EqualFold(offered, sp) {
				return offered
			}
		}
	}
	return ""
}
