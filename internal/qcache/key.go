package qcache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Key derives the stable cache key for a query: path plus query and body
// params, each sorted by name so parameter order never splits the cache.
func Key(path string, query url.Values, body map[string]string) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteByte('?')

	names := make([]string, 0, len(query))
	for name := range query {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vals := append([]string(nil), query[name]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(name)
			b.WriteByte('=')
			b.WriteString(v)
			b.WriteByte('&')
		}
	}

	b.WriteByte('|')
	bodyNames := make([]string, 0, len(body))
	for name := range body {
		bodyNames = append(bodyNames, name)
	}
	sort.Strings(bodyNames)
	for _, name := range bodyNames {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(body[name])
		b.WriteByte('&')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
