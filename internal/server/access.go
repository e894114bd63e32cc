package server

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// statusWriter 는 응답 코드를 기록한다.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// withAccessLog 는 요청마다 method / path / status / 소요시간 / client 를 debug 로 남긴다.
func withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		zlog.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("took", time.Since(start)).
			Str("client", clientIP(r)).
			Msg("http request")
	})
}

// clientIP 는 요청자의 IP.
// 우선순위:
//  1. X-Forwarded-For 중 첫 번째 public IP (reverse proxy 뒤)
//  2. RemoteAddr
//
// 내부망에서 바로 붙는 경우가 많으므로 RemoteAddr 는 private 이어도 쓴다.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip, err := netip.ParseAddr(strings.TrimSpace(part)); err == nil && isPublic(ip) {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.String()
	}
	return ""
}

func isPublic(ip netip.Addr) bool {
	return ip.IsValid() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!ip.IsLinkLocalMulticast() &&
		!ip.IsUnspecified()
}
