// Package httpcodec parses and serialises HTTP/1.1 messages off a raw
// byte stream, independent of net/http's client/server assumptions so
// the proxy can hold, mutate, and re-serialise a message between
// capture and forward.
package httpcodec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"intercept/internal/exchange"
	"intercept/internal/interr"
)

// Limits bounds message sizes. Zero fields fall back to defaults.
type Limits struct {
	MaxRequestLine int
	MaxHeaders     int
	MaxBody        int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxRequestLine <= 0 {
		l.MaxRequestLine = 8 * 1024
	}
	if l.MaxHeaders <= 0 {
		l.MaxHeaders = 64 * 1024
	}
	if l.MaxBody <= 0 {
		l.MaxBody = 100 * 1024 * 1024
	}
	return l
}

// RequestLine is the parsed "METHOD target HTTP/1.1" line.
type RequestLine struct {
	Method string
	Target string
}

// ReadRequest parses one HTTP/1.1 request off r. A request with neither
// chunked nor Content-Length framing has a zero-length body.
func ReadRequest(r *bufio.Reader, limits Limits) (RequestLine, exchange.Header, []byte, error) {
	limits = limits.withDefaults()

	line, err := readLimitedLine(r, limits.MaxRequestLine)
	if err != nil {
		return RequestLine{}, nil, nil, interr.New("httpcodec.ReadRequest", interr.KindProtocol, err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/1.1") {
		return RequestLine{}, nil, nil, interr.New("httpcodec.ReadRequest", interr.KindProtocol, fmt.Errorf("malformed request line %q", line))
	}
	rl := RequestLine{Method: parts[0], Target: parts[1]}

	headers, err := readHeaders(r, limits.MaxHeaders)
	if err != nil {
		return RequestLine{}, nil, nil, interr.New("httpcodec.ReadRequest", interr.KindProtocol, err)
	}

	body, err := readBody(r, headers, limits.MaxBody, true)
	if err != nil {
		return RequestLine{}, nil, nil, interr.New("httpcodec.ReadRequest", interr.KindProtocol, err)
	}

	return rl, headers, body, nil
}

// StatusLine is the parsed "HTTP/1.1 STATUS reason" line.
type StatusLine struct {
	Status int
	Reason string
}

// ReadResponse parses one HTTP/1.1 response off r. readUntilClose forces
// read-until-EOF body framing (used when the request signalled
// Connection: close and neither chunked nor Content-Length is present).
func ReadResponse(r *bufio.Reader, limits Limits, readUntilClose bool) (StatusLine, exchange.Header, []byte, error) {
	limits = limits.withDefaults()

	line, err := readLimitedLine(r, limits.MaxRequestLine)
	if err != nil {
		return StatusLine{}, nil, nil, interr.New("httpcodec.ReadResponse", interr.KindProtocol, err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.1") {
		return StatusLine{}, nil, nil, interr.New("httpcodec.ReadResponse", interr.KindProtocol, fmt.Errorf("malformed status line %q", line))
	}
	status, err := strconv.Atoi(parts[1])
	if err != nil {
		return StatusLine{}, nil, nil, interr.New("httpcodec.ReadResponse", interr.KindProtocol, fmt.Errorf("bad status code %q", parts[1]))
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}
	sl := StatusLine{Status: status, Reason: reason}

	headers, err := readHeaders(r, limits.MaxHeaders)
	if err != nil {
		return StatusLine{}, nil, nil, interr.New("httpcodec.ReadResponse", interr.KindProtocol, err)
	}

	body, err := readResponseBody(r, headers, limits.MaxBody, readUntilClose)
	if err != nil {
		return StatusLine{}, nil, nil, interr.New("httpcodec.ReadResponse", interr.KindProtocol, err)
	}

	return sl, headers, body, nil
}

// readLimitedLine reads one CRLF- or bare-LF-terminated line, stripping
// the terminator, bounded to maxLen.
func readLimitedLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == '\n' {
			s := buf.String()
			return strings.TrimSuffix(s, "\r"), nil
		}
		buf.WriteByte(b)
		if buf.Len() > maxLen {
			return "", fmt.Errorf("line exceeds %d bytes", maxLen)
		}
	}
}

func readHeaders(r *bufio.Reader, maxTotal int) (exchange.Header, error) {
	var headers exchange.Header
	total := 0
	for {
		line, err := readLimitedLine(r, maxTotal)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return headers, nil
		}
		total += len(line)
		if total > maxTotal {
			return nil, fmt.Errorf("headers exceed %d bytes", maxTotal)
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		name := line[:idx]
		value := strings.TrimLeft(line[idx+1:], " \t")
		headers.Add(name, value)
	}
}

// readBody determines body framing: chunked wins over Content-Length;
// absence of both is zero-length. Read-until-close framing for responses
// is handled by readResponseBody, not here.
func readBody(r *bufio.Reader, headers exchange.Header, maxBody int64, zeroByDefault bool) ([]byte, error) {
	if te, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return readChunked(r, maxBody)
	}
	if cl, ok := headers.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("malformed Content-Length %q", cl)
		}
		if n > maxBody {
			return nil, fmt.Errorf("body exceeds %d bytes", maxBody)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if zeroByDefault {
		return nil, nil
	}
	return nil, nil
}

func readResponseBody(r *bufio.Reader, headers exchange.Header, maxBody int64, readUntilClose bool) ([]byte, error) {
	if te, ok := headers.Get("Transfer-Encoding"); ok && strings.Contains(strings.ToLower(te), "chunked") {
		return readChunked(r, maxBody)
	}
	if _, ok := headers.Get("Content-Length"); ok {
		return readBody(r, headers, maxBody, false)
	} else if readUntilClose {
		limited := io.LimitReader(r, maxBody+1)
		buf, err := io.ReadAll(limited)
		if err != nil {
			return nil, err
		}
		if int64(len(buf)) > maxBody {
			return nil, fmt.Errorf("body exceeds %d bytes", maxBody)
		}
		return buf, nil
	}
	return nil, nil
}

func readChunked(r *bufio.Reader, maxBody int64) ([]byte, error) {
	var out bytes.Buffer
	for {
		sizeLine, err := readLimitedLine(r, 64)
		if err != nil {
			return nil, err
		}
		sizeLine = strings.SplitN(sizeLine, ";", 2)[0] // discard chunk extensions
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk size %q", sizeLine)
		}
		if size == 0 {
			// trailer section, terminated by empty line
			for {
				line, err := readLimitedLine(r, 1024)
				if err != nil {
					return nil, err
				}
				if line == "" {
					break
				}
			}
			return out.Bytes(), nil
		}
		if int64(out.Len())+size > maxBody {
			return nil, fmt.Errorf("body exceeds %d bytes", maxBody)
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, err
		}
		out.Write(chunk)
		// consume trailing CRLF after chunk data
		if _, err := readLimitedLine(r, 2); err != nil {
			return nil, err
		}
	}
}

// WriteRequest serialises a request line, headers, and body, always as
// CRLF-terminated lines.
func WriteRequest(w io.Writer, rl RequestLine, headers exchange.Header, body []byte) error {
	if _, err := fmt.Fprintf(w, "%s %s HTTP/1.1\r\n", rl.Method, rl.Target); err != nil {
		return err
	}
	return writeHeadersAndBody(w, headers, body)
}

// WriteResponse serialises a status line, headers, and body.
func WriteResponse(w io.Writer, sl StatusLine, headers exchange.Header, body []byte) error {
	reason := sl.Reason
	if reason == "" {
		reason = reasonPhrase(sl.Status)
	}
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", sl.Status, reason); err != nil {
		return err
	}
	return writeHeadersAndBody(w, headers, body)
}

func writeHeadersAndBody(w io.Writer, headers exchange.Header, body []byte) error {
	for _, f := range headers {
		if _, err := fmt.Fprintf(w, "%s: %s\r\n", f.Name, f.Value); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\r\n"); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

func reasonPhrase(status int) string {
	switch status {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 400:
		return "Bad Request"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 504:
		return "Gateway Timeout"
	default:
		return "Status"
	}
}

// ConnectionClose reports whether headers request the connection be
// closed after this message.
func ConnectionClose(headers exchange.Header) bool {
	v, ok := headers.Get("Connection")
	return ok && strings.EqualFold(strings.TrimSpace(v), "close")
}
