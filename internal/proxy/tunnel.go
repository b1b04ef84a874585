package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"time"

	"intercept/internal/exchange"
	"intercept/internal/httpcodec"
)

// handleConnect replies "200 Connection established", then either
// MITM the tunnel (forging a leaf identity for the requested host and
// relaying decrypted HTTP/1.1 messages through the same exchange
// pipeline as plain requests) or pipe bytes opaquely when certificate
// forging is disabled.
func (p *Proxy) handleConnect(ctx context.Context, clientConn net.Conn, rl httpcodec.RequestLine) {
	host := rl.Target

	dialer := net.Dialer{Timeout: p.cfg.UpstreamTimeout}
	upstreamConn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		io.WriteString(clientConn, "HTTP/1.1 502 Bad Gateway\r\n\r\n")
		slog.Warn("connect upstream dial failed", "component", "proxy", "host", host, "error", err)
		return
	}
	defer upstreamConn.Close()

	if _, err := io.WriteString(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		return
	}

	if p.cfg.MITMEnabled && p.forge != nil {
		p.mitmTunnel(ctx, clientConn, upstreamConn, host)
		return
	}
	p.passthroughTunnel(clientConn, upstreamConn, host)
}

// mitmTunnel terminates TLS toward the client using a forged leaf
// certificate and opens an independent TLS session upstream, then loops
// treating each decrypted message as a normal exchange.
func (p *Proxy) mitmTunnel(ctx context.Context, clientConn, upstreamConn net.Conn, host string) {
	hostname := hostOnly(host)
	cert, err := p.forge.IdentityFor(hostname)
	if err != nil {
		slog.Warn("cert forge failed", "component", "proxy", "host", hostname, "error", err)
		return
	}

	clientTLS := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{*cert}})
	if err := clientTLS.HandshakeContext(ctx); err != nil {
		slog.Warn("client tls handshake failed", "component", "proxy", "host", hostname, "error", err)
		return
	}
	defer clientTLS.Close()

	upstreamTLS := tls.Client(upstreamConn, &tls.Config{ServerName: hostname, InsecureSkipVerify: true})
	if err := upstreamTLS.HandshakeContext(ctx); err != nil {
		slog.Warn("upstream tls handshake failed", "component", "proxy", "host", hostname, "error", err)
		return
	}

	clientBR := bufio.NewReader(clientTLS)
	upstreamBR := bufio.NewReader(upstreamTLS)

	for {
		rl, headers, body, err := httpcodec.ReadRequest(clientBR, p.cfg.Limits)
		if err != nil {
			if err != io.EOF {
				slog.Debug("mitm tunnel client read ended", "component", "proxy", "host", hostname, "error", err)
			}
			return
		}

		ex, keepWanted := p.buildExchange(rl, headers, body, "https")
		ex.Request.Host = hostname
		ex.IsTunnel = true

		keepAlive := p.runExchange(ctx, clientTLS, upstreamTLS, upstreamBR, ex)
		if !keepAlive || !keepWanted {
			return
		}
	}
}

// passthroughTunnel pipes bytes bidirectionally without inspection,
// recording only a synthetic CONNECT exchange.
func (p *Proxy) passthroughTunnel(clientConn, upstreamConn net.Conn, host string) {
	started := time.Now()
	ex := exchange.NewExchange(exchange.Request{
		Method: "CONNECT",
		URL:    "https://" + host,
		Host:   hostOnly(host),
		Scheme: "https",
	})
	ex.IsTunnel = true

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstreamConn, clientConn)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(clientConn, upstreamConn)
		done <- struct{}{}
	}()
	<-done

	ex.Response = &exchange.Response{Status: 200, ElapsedMs: time.Since(started).Milliseconds()}
	p.record(ex)
}
