package server

import (
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword bcrypt-hashes a plaintext password for storage in
// Options.BasicAuthUsers.
func HashPassword(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", WrapError(ErrInvalidArg, err)
	}
	return string(h), nil
}

func checkPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// RequireBasicAuth builds middleware that checks the Authorization
// header against the bcrypt-hashed credential table in users, sending
// a 401 with a WWW-Authenticate challenge on failure.
func RequireBasicAuth(realm string, users map[string]string) middlewareFunc {
	return func(req *Request, next func() error) error {
		authz, ok := req.Header("Authorization")
		if ok {
			if user, pass, ok := parseBasicAuth(authz); ok {
				if hash, exists := users[user]; exists && checkPassword(hash, pass) {
					return next()
				}
			}
		}
		req.srv.respondUnauthorized(req, realm)
		return nil
	}
}

func parseBasicAuth(header string) (user, pass string, ok bool) {
	const prefix = "Basic "
	if len(header) <= len(prefix) || !equalFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	s := string(decoded)
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
