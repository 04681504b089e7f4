package transport

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/NordCoder/Lastbeat/internal/domain"
	"github.com/NordCoder/Lastbeat/internal/domain/channel"
	"github.com/NordCoder/Lastbeat/internal/domain/check"
)

// upper is the status word used in titles: "DOWN", "UP".
func upper(s check.Status) string { return strings.ToUpper(string(s)) }

// Subject is the one-line summary shared by email, chat and push transports.
func Subject(n Notice) string {
	return fmt.Sprintf("%s | %s", upper(n.Status()), n.Check.DisplayName())
}

// Summary is the plain-text sentence used by incident platforms.
func Summary(n Notice) string {
	name := n.Check.DisplayName()
	if !n.Down() {
		return name + " received a ping and is now UP"
	}
	s := name + " is DOWN."
	if ago, ok := LastPingAgo(n); ok {
		s += " Last ping was " + ago + "."
	}
	return s
}

// LastPingAgo humanizes the age of the last stored ping.
func LastPingAgo(n Notice) (string, bool) {
	if n.LastPing == nil {
		return "", false
	}
	return Humanize(n.Now.Sub(n.LastPing.CreatedAt)) + " ago", true
}

var units = []struct {
	d    time.Duration
	name string
}{
	{7 * 24 * time.Hour, "week"},
	{24 * time.Hour, "day"},
	{time.Hour, "hour"},
	{time.Minute, "minute"},
	{time.Second, "second"},
}

// Humanize renders at most the two largest non-zero units: "1 day 2 hours".
func Humanize(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	var parts []string
	for _, u := range units {
		if len(parts) == 2 {
			break
		}
		v := d / u.d
		if v == 0 {
			if len(parts) > 0 {
				break
			}
			continue
		}
		d -= v * u.d
		name := u.name
		if v != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", v, name))
	}
	return strings.Join(parts, " ")
}

// placeholders expands $CODE, $STATUS, $NOW, $NAME and $TAG1.. in s.
// escape is applied to every substituted value.
func placeholders(s string, n Notice, escape func(string) string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	vals := map[string]string{
		"$CODE":   n.Check.Code.String(),
		"$STATUS": string(n.Status()),
		"$NOW":    n.Now.UTC().Format(time.RFC3339),
		"$NAME":   n.Check.Name,
		"$REASON": string(n.Flip.Reason),
	}
	for i, tag := range strings.Fields(n.Check.Tags) {
		vals[fmt.Sprintf("$TAG%d", i+1)] = tag
	}
	// longest keys first so $TAG10 is not eaten by $TAG1
	pairs := make([]string, 0, len(vals)*2)
	for _, k := range sortedByLen(vals) {
		pairs = append(pairs, k, escape(vals[k]))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func sortedByLen(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

func identity(s string) string { return s }

// stringOrField reads a channel value that is either a bare string or a JSON
// object carrying the string under key.
func stringOrField(ch *channel.Channel, key string) (string, error) {
	if !ch.IsJSON() {
		v := strings.TrimSpace(ch.Value)
		if v == "" {
			return "", domain.NewConfigError("value", "empty %s channel configuration", ch.Kind)
		}
		return v, nil
	}
	var m map[string]any
	if err := ch.DecodeValue(&m); err != nil {
		return "", err
	}
	v, _ := m[key].(string)
	if v == "" {
		return "", domain.NewConfigError(key, "missing %s", key)
	}
	return v, nil
}

func requireURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return domain.NewConfigError(field, "invalid url %q", raw)
	}
	return nil
}

// directionFilter is the up/down opt-in some channel kinds carry.
type directionFilter struct {
	Up   *bool `json:"up"`
	Down *bool `json:"down"`
}

func (f directionFilter) wants(n Notice) bool {
	flag := f.Up
	if n.Down() {
		flag = f.Down
	}
	return flag == nil || *flag
}
