package security

import "net/http"

// HashToken digests a raw bearer value so it can be tracked without being stored.
func HashToken(raw, pepper string) string {
	return SignHMAC([]byte(raw), []byte(pepper))
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
