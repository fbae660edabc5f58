package scram

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// EscapeUsername escapes ',' as "=2C" and '=' as "=3D" per RFC 5802 §5.1.
func EscapeUsername(s string) string {
	s = strings.ReplaceAll(s, "=", "=3D")
	s = strings.ReplaceAll(s, ",", "=2C")
	return s
}

// UnescapeUsername reverses EscapeUsername. Any other "=" sequence (one not
// immediately followed by "2C" or "3D") is a malformed-request failure.
func UnescapeUsername(s string) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '=' {
			sb.WriteByte(s[i])
			continue
		}
		if i+3 > len(s) {
			return "", fmt.Errorf("scram: malformed escape sequence in username %q", s)
		}
		switch s[i+1 : i+3] {
		case "2C":
			sb.WriteByte(',')
		case "3D":
			sb.WriteByte('=')
		default:
			return "", fmt.Errorf("scram: malformed escape sequence in username %q", s)
		}
		i += 2
	}
	return sb.String(), nil
}

// ClientFirstBare builds "n=<username>,r=<clientNonce>".
func ClientFirstBare(username, clientNonce string) string {
	return fmt.Sprintf("n=%s,r=%s", EscapeUsername(username), clientNonce)
}

// ServerFirst builds "r=<fullNonce>,s=<base64 salt>,i=<iterations>".
func ServerFirst(fullNonce string, salt []byte, iterations int) string {
	return fmt.Sprintf("r=%s,s=%s,i=%d", fullNonce, base64.StdEncoding.EncodeToString(salt), iterations)
}

// ClientFinalWithoutProof builds "c=<base64 gs2Header>,r=<fullNonce>".
func ClientFinalWithoutProof(gs2Header, fullNonce string) string {
	return fmt.Sprintf("c=%s,r=%s", base64.StdEncoding.EncodeToString([]byte(gs2Header)), fullNonce)
}

// AuthMessage concatenates the three canonical SCRAM messages with ",".
func AuthMessage(clientFirstBare, serverFirst, clientFinalWithoutProof string) string {
	return strings.Join([]string{clientFirstBare, serverFirst, clientFinalWithoutProof}, ",")
}

// DecodedMessage is the result of decoding a SCRAM wire message: the
// optional gs2 header (present only on a client-first message) and the
// remaining key=value fields in order of appearance.
type DecodedMessage struct {
	GS2Header string
	Keys      map[string]string
	// Order preserves the sequence keys were seen in, since some messages
	// (e.g. the mandatory-extension check) need to know what came first.
	Order []string
}

// DecodeMessage splits a SCRAM message by "," into a map. The first field
// may carry a gs2 header: a bare "n", a bare "y", or a "p=<cb-name>" flag,
// followed by a trailing authzid field, before the key=value pairs begin.
// Remaining fields are "key=value", with "=" only splitting on its first
// occurrence.
func DecodeMessage(s string) (DecodedMessage, error) {
	fields := strings.Split(s, ",")
	out := DecodedMessage{Keys: make(map[string]string)}

	start := 0
	if len(fields) > 0 {
		first := fields[0]
		if first == "n" || first == "y" || strings.HasPrefix(first, "p=") {
			if len(fields) < 2 {
				return out, fmt.Errorf("scram: truncated gs2 header in message %q", s)
			}
			out.GS2Header = first + "," + fields[1] + ","
			start = 2
		}
	}

	for _, f := range fields[start:] {
		idx := strings.IndexByte(f, '=')
		if idx < 0 {
			return out, fmt.Errorf("scram: malformed field %q", f)
		}
		key, value := f[:idx], f[idx+1:]
		out.Keys[key] = value
		out.Order = append(out.Order, key)
	}
	return out, nil
}

// ParseIterations parses the "i=" iteration count field.
func ParseIterations(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("scram: invalid iteration count %q", s)
	}
	return n, nil
}
