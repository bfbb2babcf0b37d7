// Package search implements pattern search across one relation's tuples,
// the teacher's cross-database-and-table grep (search.go's Search/
// SearchOptions/SearchResult) reimagined as an in-process grep over a
// single heap.Relation's live and dead rows.
package search

import (
	"regexp"

	"github.com/Chocapikk/heapengine/heap"
	"github.com/Chocapikk/heapengine/heaperrors"
	"github.com/Chocapikk/heapengine/ids"
	"github.com/Chocapikk/heapengine/txn"
)

// Options configures a search.
type Options struct {
	Pattern       string // regular expression
	CaseSensitive bool
	IncludeDead   bool // also search heap.ScanDead results
	MaxResults    int  // 0 = unlimited
}

// Result is one matching tuple.
type Result struct {
	Ctid    ids.ItemPointer
	Matched string // the raw tuple payload bytes that matched, as a string
	Dead    bool
}

// Search walks rel's visible rows (under snap/curXid) and, if
// opts.IncludeDead, its dead rows, looking for a regular-expression match
// against each tuple's raw payload bytes.
func Search(rel *heap.Relation, snap txn.Snapshot, curXid ids.TransactionId, opts Options) ([]Result, error) {
	if opts.Pattern == "" {
		return nil, heaperrors.Wrap(heaperrors.ErrInvalidOperation, "search pattern required")
	}

	pattern := opts.Pattern
	if !opts.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, heaperrors.Wrap(err, "invalid search pattern")
	}

	var results []Result

	rows, err := rel.Scan(snap, curXid)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if re.Match(row.Tuple.Data) {
			results = append(results, Result{Ctid: row.Ctid, Matched: string(row.Tuple.Data)})
			if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
				return results, nil
			}
		}
	}

	if opts.IncludeDead {
		dead, err := rel.ScanDead()
		if err != nil {
			return nil, err
		}
		for _, row := range dead {
			if re.Match(row.Tuple.Data) {
				results = append(results, Result{Ctid: row.Ctid, Matched: string(row.Tuple.Data), Dead: true})
				if opts.MaxResults > 0 && len(results) >= opts.MaxResults {
					return results, nil
				}
			}
		}
	}

	return results, nil
}

// QuickSearch is a convenience wrapper for a literal (non-regex),
// case-insensitive substring search.
func QuickSearch(rel *heap.Relation, snap txn.Snapshot, curXid ids.TransactionId, literal string) ([]Result, error) {
	return Search(rel, snap, curXid, Options{Pattern: regexp.QuoteMeta(literal)})
}
