package httpcodec

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"intercept/internal/exchange"
)

func exchangeHeader(name, value string) exchange.Header {
	var h exchange.Header
	h.Add(name, value)
	return h
}

func TestReadRequestContentLength(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\n\r\nhello"
	rl, headers, body, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{})
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if rl.Method != "POST" || rl.Target != "/submit" {
		t.Fatalf("unexpected request line: %+v", rl)
	}
	if host, _ := headers.Get("host"); host != "example.com" {
		t.Fatalf("expected case-insensitive header lookup, got %q", host)
	}
	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestReadRequestChunked(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
	_, _, body, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{})
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if string(body) != "hello world" {
		t.Fatalf("unexpected chunked body %q", body)
	}
}

func TestReadRequestNoBodyFramingIsZeroLength(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: a\r\n\r\n"
	_, _, body, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{})
	if err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected zero-length body, got %d bytes", len(body))
	}
}

func TestReadRequestOversizeLineIsProtocolError(t *testing.T) {
	huge := strings.Repeat("a", 100)
	raw := "GET /" + huge + " HTTP/1.1\r\nHost: a\r\n\r\n"
	_, _, _, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{MaxRequestLine: 16})
	if err == nil {
		t.Fatal("expected protocol error for oversize request line")
	}
}

func TestReadResponseReadUntilClose(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\nbody-until-eof"
	_, _, body, err := ReadResponse(bufio.NewReader(strings.NewReader(raw)), Limits{}, true)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	if string(body) != "body-until-eof" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestWriteRequestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	headers := exchangeHeader("Host", "example.com")
	if err := WriteRequest(&buf, RequestLine{Method: "GET", Target: "/x"}, headers, nil); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	rl, h, body, err := ReadRequest(bufio.NewReader(&buf), Limits{})
	if err != nil {
		t.Fatalf("round-trip ReadRequest: %v", err)
	}
	if rl.Method != "GET" || rl.Target != "/x" {
		t.Fatalf("unexpected round-tripped request line: %+v", rl)
	}
	if v, _ := h.Get("Host"); v != "example.com" {
		t.Fatalf("unexpected round-tripped header: %q", v)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body, got %q", body)
	}
}

func TestConnectionClose(t *testing.T) {
	h := exchangeHeader("Connection", "close")
	if !ConnectionClose(h) {
		t.Fatal("expected Connection: close to be detected")
	}
	if ConnectionClose(exchangeHeader("Connection", "keep-alive")) {
		t.Fatal("did not expect keep-alive to signal close")
	}
}
