package security

import (
	"errors"
	"net/http"

	"github.com/noah-isme/tld-quote/internal/common"
)

// BodyLimit caps request bodies at Max bytes. Declared oversize bodies are refused
// up front; undeclared ones fail on read with *http.MaxBytesError, which handlers
// report through TooLarge.
type BodyLimit struct {
	Max int64
}

// Middleware implements chi middleware.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			writeTooLarge(w)
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}

// TooLarge writes a 413 and reports true when err came from an exceeded body limit.
func TooLarge(w http.ResponseWriter, err error) bool {
	var maxErr *http.MaxBytesError
	if !errors.As(err, &maxErr) {
		return false
	}
	writeTooLarge(w)
	return true
}

func writeTooLarge(w http.ResponseWriter) {
	common.JSONError(w, http.StatusRequestEntityTooLarge, common.CodePayloadTooLarge, "request entity too large", nil)
}
