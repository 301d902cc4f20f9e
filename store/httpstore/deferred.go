package httpstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Comcast/tortoise/core"
)

// TimePlaceholder is the shell expression a deferred command uses for
// the current time.
const TimePlaceholder = "$(date +%s)"

// DeferredAdapter is a core.Adapter for callers that can't write to
// the record store themselves (say, a process on a host that's about
// to lose its network).  Reads go through a live store, but writes
// are composed as self-contained shell commands that send a literal
// HTTP/1.0 request to the record store when they run.
//
// The command stamps the Specification with the time it runs, not
// the time it was composed.
type DeferredAdapter struct {
	// Entities serves reads.
	Entities core.EntityStore

	// Key is the attribute name.  See core.Definition.AttributeKey.
	Key string

	// Host and Port locate the record store.
	Host string
	Port int

	Username string
	Password string

	// Netcat is the command that writes stdin to Host:Port.
	// Defaults to "nc".
	Netcat string

	// Now is the clock used to guess the length of the timestamp
	// the command will substitute.
	Now func() time.Time
}

// NewDeferredAdapter makes a DeferredAdapter for the given workflow.
func NewDeferredAdapter(store core.EntityStore, def *core.Definition, host string, port int, username, password string) *DeferredAdapter {
	return &DeferredAdapter{
		Entities: store,
		Key:      def.AttributeKey(),
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Netcat:   "nc",
		Now:      time.Now,
	}
}

// Load implements core.Adapter.
func (a *DeferredAdapter) Load(ctx context.Context, entity string) (string, bool, error) {
	return core.LoadAttribute(ctx, a.Entities, entity, a.Key)
}

// Store implements core.Adapter.  Nothing is written.  The returned
// command does the write.
func (a *DeferredAdapter) Store(ctx context.Context, entity string, spec core.Specification) (string, error) {
	js, err := spec.ToJSON()
	if err != nil {
		return "", err
	}

	// Split the JSON around the top-level timestamp, which is the
	// first one since it precedes the extras.
	stamp := `"timestamp":` + strconv.FormatInt(spec.Timestamp, 10)
	i := strings.Index(js, stamp)
	if i < 0 {
		return "", fmt.Errorf("no timestamp in %s", js)
	}
	var (
		prefix = formEscape(a.Key+";"+js[:i]+`"timestamp":`, true)
		suffix = formEscape(js[i+len(stamp):], false)
		digits = len(strconv.FormatInt(a.Now().Unix(), 10))
		length = len(prefix) + digits + len(suffix)
	)

	format := a.request("POST", AssetPath(entity), length, true) +
		printfEscape(prefix) + "%s" + printfEscape(suffix)

	return fmt.Sprintf(`printf '%s' "%s" | %s`, shellQuote(format), TimePlaceholder, a.netcat()), nil
}

// Remove implements core.Adapter.
func (a *DeferredAdapter) Remove(ctx context.Context, entity string) (string, error) {
	format := a.request("DELETE", AttributePath(entity, a.Key), 0, false)
	return fmt.Sprintf(`printf '%s' | %s`, shellQuote(format), a.netcat()), nil
}

func (a *DeferredAdapter) netcat() string {
	nc := a.Netcat
	if nc == "" {
		nc = "nc"
	}
	return nc + " " + shellWord(a.Host) + " " + strconv.Itoa(a.Port)
}

// request renders the request line and headers as a printf format.
func (a *DeferredAdapter) request(method, path string, length int, form bool) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(printfEscape(s))
		b.WriteString(`\r\n`)
	}
	line(method + " " + path + " HTTP/1.0")
	line("Host: " + net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
	if a.Username != "" || a.Password != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
		line("Authorization: Basic " + creds)
	}
	if form {
		line("Content-Type: application/x-www-form-urlencoded")
	}
	line("Content-Length: " + strconv.Itoa(length))
	b.WriteString(`\r\n`)
	return b.String()
}

// formEscape is url.QueryEscape for a fragment of a form value.  The
// first fragment carries the "attribute=" name.
func formEscape(s string, first bool) string {
	e := url.QueryEscape(s)
	if first {
		return "attribute=" + e
	}
	return e
}

// printfEscape protects % and \ from printf.
func printfEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "%", "%%")
}

// shellQuote prepares s for use inside single quotes.
func shellQuote(s string) string {
	return strings.ReplaceAll(s, `'`, `'\''`)
}

// shellWord quotes s if it needs it.
func shellWord(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r == '.' || r == '-' || r == ':' || r == '_' ||
			'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	}) < 0 {
		return s
	}
	return "'" + shellQuote(s) + "'"
}
