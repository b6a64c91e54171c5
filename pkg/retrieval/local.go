// Package retrieval provides a chat.Retriever over a directory of text files.
package retrieval

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/ragchat/pkg/chat"
)

const DefaultPattern = "*.txt"

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "at": {}, "be": {}, "do": {}, "for": {}, "from": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "of": {}, "on": {}, "or": {},
	"s": {}, "the": {}, "this": {}, "to": {}, "we": {}, "what": {}, "when": {}, "which": {},
	"who": {}, "with": {}, "you": {},
}

type passage struct {
	source string
	text   string
	terms  map[string]struct{}
}

// LocalRetriever splits every matching file into paragraphs and ranks them by
// how many query terms they contain. Files are read once, at construction.
type LocalRetriever struct {
	passages []passage
}

var _ chat.Retriever = &LocalRetriever{}

// NewLocalRetriever loads all files under dir whose base name matches pattern.
// A missing dir yields an empty retriever.
func NewLocalRetriever(dir, pattern string) (*LocalRetriever, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.Wrapf(err, "local retriever: bad pattern %q", pattern)
	}
	r := &LocalRetriever{}
	if strings.TrimSpace(dir) == "" {
		return r, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("component", "retrieval").Str("dir", dir).Msg("document directory does not exist")
		return r, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrapf(err, "local retriever: read %s", path)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		r.add(filepath.ToSlash(rel), string(b))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("component", "retrieval").Str("dir", dir).Int("passages", len(r.passages)).Msg("loaded documents")
	return r, nil
}

// NewLocalRetrieverFromDocuments indexes documents that are already in memory.
func NewLocalRetrieverFromDocuments(docs []chat.Document) *LocalRetriever {
	r := &LocalRetriever{}
	for _, d := range docs {
		r.add(d.Source, d.Content)
	}
	return r
}

func (r *LocalRetriever) add(source, content string) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		r.passages = append(r.passages, passage{source: source, text: para, terms: termSet(para)})
	}
}

func (r *LocalRetriever) Len() int { return len(r.passages) }

func (r *LocalRetriever) Retrieve(ctx context.Context, query string, k int) ([]chat.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = chat.DefaultTopK
	}
	qt := termSet(query)
	if len(qt) == 0 {
		return nil, nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, p := range r.passages {
		n := 0
		for t := range qt {
			if _, ok := p.terms[t]; ok {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{idx: i, score: float64(n) / float64(len(qt))})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]chat.Document, 0, len(hits))
	for _, h := range hits {
		p := r.passages[h.idx]
		out = append(out, chat.Document{Source: p.source, Content: p.text, Score: h.score})
	}
	return out, nil
}

func termSet(s string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}
