package middleware

import (
	"context"
	"hash/fnv"
	"net"
	"net/http"
	"sync"
	"time"

	"tg-guard/antispam"
	"tg-guard/monitoring"
)

// Middleware представляет функцию middleware
type Middleware func(http.HandlerFunc) http.HandlerFunc

// Chain применяет цепочку middleware к обработчику
func Chain(handler http.HandlerFunc, middlewares ...Middleware) http.HandlerFunc {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// Recovery перехватывает паники и восстанавливает приложение
func Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				monitoring.GetLogger("http").Error("HTTP panic recovered",
					"panic", err,
					"url", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)

				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("Internal Server Error"))
			}
		}()

		next(w, r)
	}
}

// Timeout добавляет таймаут для запросов.
// После таймаута ответ обработчика отбрасывается
func Timeout(timeout time.Duration) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			r = r.WithContext(ctx)
			tw := &timeoutWriter{w: w, h: make(http.Header)}

			done := make(chan struct{})
			panicked := make(chan any, 1)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
					}
				}()
				next(tw, r)
				close(done)
			}()

			select {
			case p := <-panicked:
				panic(p)
			case <-done:
				tw.flush()
			case <-ctx.Done():
				tw.expire()
				monitoring.GetLogger("http").Warn("HTTP request timeout",
					"url", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"timeout", timeout,
				)
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte("Request timeout"))
			}
		}
	}
}

// timeoutWriter буферизует ответ до завершения обработчика
type timeoutWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	h       http.Header
	body    []byte
	code    int
	expired bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.h
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.code == 0 {
		tw.code = code
	}
}

func (tw *timeoutWriter) Write(data []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.expired {
		return 0, http.ErrHandlerTimeout
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	tw.body = append(tw.body, data...)
	return len(data), nil
}

func (tw *timeoutWriter) expire() {
	tw.mu.Lock()
	tw.expired = true
	tw.mu.Unlock()
}

func (tw *timeoutWriter) flush() {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	dst := tw.w.Header()
	for k, v := range tw.h {
		dst[k] = v
	}
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	tw.w.WriteHeader(tw.code)
	_, _ = tw.w.Write(tw.body)
}

// Logging логирует HTTP запросы
func Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Обертываем ResponseWriter для захвата статуса
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(rw, r)

		monitoring.GetLogger("http").LogHTTPRequest(
			r.Method,
			r.URL.Path,
			rw.statusCode,
			int64(time.Since(start)/time.Millisecond),
			rw.size,
		)
	}
}

// responseWriter обертывает http.ResponseWriter для захвата статуса и размера ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += int64(size)
	return size, err
}

// RateLimit ограничивает частоту запросов с одного IP тем же скользящим окном,
// что и антиспам в группах
func RateLimit(limiter *antispam.Limiter) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			verdict := limiter.Observe(antispam.Key{UserID: ipKey(ip)}, time.Now())
			if !verdict.WithinLimit {
				monitoring.GetLogger("http").Warn("Rate limit exceeded",
					"ip", ip,
					"url", r.URL.Path,
					"method", r.Method,
				)

				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte("Too many requests"))
				return
			}

			next(w, r)
		}
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func ipKey(ip string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(ip))
	return int64(h.Sum64())
}
