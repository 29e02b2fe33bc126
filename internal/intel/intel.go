// Package intel holds the learning engines: priority scoring, category
// suggestion, tone profiling and the context analysis that ties them
// together. Every engine persists its state through a store.Repository after
// each mutating call, so no learned signal is lost on crash.
package intel

import (
	"net/mail"
	"strings"
)

// senderKey normalizes a From header to a lowercase address usable as a map
// key. Display names are stripped; unparseable values are lowercased whole.
func senderKey(from string) string {
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// domainOf returns the domain part of a normalized sender key.
func domainOf(sender string) string {
	if i := strings.LastIndex(sender, "@"); i >= 0 {
		return sender[i+1:]
	}
	return ""
}

// subjectKeywords extracts the learnable words of a subject: longer than
// four characters, lowercased, capped at limit (0 = no cap).
func subjectKeywords(subject string, limit int) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(subject)) {
		if len(word) > 4 {
			keywords = append(keywords, word)
			if limit > 0 && len(keywords) == limit {
				break
			}
		}
	}
	return keywords
}
