// Package classifier picks the archivable link out of a chat message.
//
// Classification is pure: no network access happens here. A message yields at
// most one Candidate, taken from the first whitespace-delimited token that
// matches any rule. Later links in the same message are ignored.
package classifier

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/iconidentify/clipvault/internal/config"
	"github.com/iconidentify/clipvault/internal/domain"
)

// Rule maps a URL pattern to the backend that can retrieve it.
type Rule struct {
	Backend domain.Backend
	Pattern *regexp.Regexp
}

// Classifier turns message text into an optional Candidate.
type Classifier struct {
	rules      []Rule
	extensions []string
}

// New compiles a Classifier from configuration.
func New(cfg config.ClassifierConfig) (*Classifier, error) {
	ruleCfgs := cfg.Rules
	if len(ruleCfgs) == 0 {
		ruleCfgs = config.DefaultRules()
	}
	exts := cfg.MediaExtensions
	if len(exts) == 0 {
		exts = config.DefaultMediaExtensions()
	}

	rules := make([]Rule, 0, len(ruleCfgs))
	for i, rc := range ruleCfgs {
		backend, err := domain.ParseBackend(rc.Backend)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		re, err := regexp.Compile(rc.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %d: compile pattern: %w", i, err)
		}
		rules = append(rules, Rule{Backend: backend, Pattern: re})
	}

	lowered := make([]string, len(exts))
	for i, e := range exts {
		lowered[i] = strings.ToLower(e)
	}

	return &Classifier{rules: rules, extensions: lowered}, nil
}

// Classify returns the candidate for the first matching token in text.
// The boolean is false when the message holds nothing to archive.
func (c *Classifier) Classify(text string) (domain.Candidate, bool) {
	hasMediaExt := c.containsMediaExtension(text)

	for _, token := range strings.Fields(text) {
		link := unwrapToken(token)
		for _, rule := range c.rules {
			if !rule.Pattern.MatchString(link) {
				continue
			}
			if rule.Backend == domain.BackendDirectStream && !hasMediaExt {
				continue
			}
			key, ok := DedupKey(rule.Backend, link)
			if !ok {
				// Fail closed rather than archive under an unusable key.
				return domain.Candidate{}, false
			}
			return domain.Candidate{
				Backend:  rule.Backend,
				URL:      link,
				DedupKey: key,
			}, true
		}
	}

	return domain.Candidate{}, false
}

func (c *Classifier) containsMediaExtension(text string) bool {
	lower := strings.ToLower(text)
	for _, ext := range c.extensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// unwrapToken strips the angle brackets chat clients use to suppress embeds.
func unwrapToken(token string) string {
	if strings.HasPrefix(token, "<") && strings.HasSuffix(token, ">") && len(token) > 2 {
		return token[1 : len(token)-1]
	}
	return token
}

// DedupKey derives the key used to recognize a previously archived link.
//
// Direct links use the filename tail with the query string dropped. Extractor
// links use "<parent>/<leaf>" of the path because the final filename is only
// known after download.
func DedupKey(backend domain.Backend, rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}

	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return "", false
	}

	switch backend {
	case domain.BackendDirectStream:
		tail := path.Base(p)
		if tail == "" || tail == "/" || tail == "." {
			return "", false
		}
		return tail, true
	case domain.BackendExtractor:
		leaf := path.Base(p)
		parent := path.Base(path.Dir(p))
		if leaf == "" || leaf == "/" {
			return "", false
		}
		if parent == "" || parent == "/" || parent == "." {
			return leaf, true
		}
		return parent + "/" + leaf, true
	}
	return "", false
}
