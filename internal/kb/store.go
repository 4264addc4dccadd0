package kb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps reference chunks in SQLite and answers keyword queries.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the knowledge base at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS kb_chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	key TEXT NOT NULL,
	section TEXT,
	content TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_kb_source ON kb_chunks(source);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("applying knowledge base schema: %w", err)
	}
	return nil
}

// Ingest replaces all chunks from the named source with the chunks
// parsed from r. Returns the number of chunks stored.
func (s *Store) Ingest(ctx context.Context, source string, r io.Reader) (int, error) {
	chunks := ParseMarkdown(r)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kb_chunks WHERE source = ?`, source); err != nil {
		return 0, err
	}
	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kb_chunks (source, key, section, content) VALUES (?, ?, ?, ?)`,
			source, c.Key, c.Section, c.Content); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// Result is one retrieved chunk with its relevance score.
type Result struct {
	Key     string
	Section string
	Content string
	Score   float64
}

var wordPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopwords excluded from query term matching.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true,
	"do": true, "for": true, "how": true, "i": true, "in": true,
	"is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "the": true, "to": true, "what": true,
	"when": true, "with": true, "you": true, "should": true,
}

// Search scores every chunk by query term frequency, weighting key
// matches over body matches, and returns up to limit results.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, section, content FROM kb_chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Key, &r.Section, &r.Content); err != nil {
			return nil, err
		}
		key := strings.ToLower(r.Key)
		body := strings.ToLower(r.Content)
		for _, term := range terms {
			if strings.Contains(key, term) {
				r.Score += 2
			}
			r.Score += float64(strings.Count(body, term))
		}
		if r.Score > 0 {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func queryTerms(query string) []string {
	var terms []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if len(w) < 3 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}
