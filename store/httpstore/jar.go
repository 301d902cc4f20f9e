package httpstore

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar is a cookiejar.Jar that also remembers every cookie it has
// been given, which is handy when debugging a record store's session
// handling.
type Jar struct {
	*cookiejar.Jar

	sync.Mutex
	Kookies []*http.Cookie `json:"cookies"`
}

// NewJar makes a Jar that uses the public suffix list.
func NewJar() (*Jar, error) {
	cookieJar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Jar{Jar: cookieJar}, nil
}

// SetCookies implements http.CookieJar.
func (j *Jar) SetCookies(u *url.URL, cs []*http.Cookie) {
	j.Jar.SetCookies(u, cs)
	j.Lock()
	if j.Kookies == nil {
		j.Kookies = make([]*http.Cookie, 0, 2*len(cs))
	}
	j.Kookies = append(j.Kookies, cs...)
	j.Unlock()
}

// Seen returns how many cookies the Jar has been given.
func (j *Jar) Seen() int {
	j.Lock()
	defer j.Unlock()
	return len(j.Kookies)
}
