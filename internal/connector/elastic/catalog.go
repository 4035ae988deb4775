package elastic

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/syncwave/syncwave/internal/types"
)

// Catalog answers browse queries against one search endpoint.
type Catalog struct {
	ds *types.Datasource
}

// NewCatalog builds a catalog for ds. The password on ds must already be
// decrypted.
func NewCatalog(ds *types.Datasource) *Catalog {
	return &Catalog{ds: ds}
}

// Ping performs an authenticated round-trip against the cluster.
func (c *Catalog) Ping(ctx context.Context) error {
	client, err := newClient(c.ds)
	if err != nil {
		return err
	}
	res, err := client.Ping(client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping %s:%d: %w", c.ds.Host, c.ds.Port, err)
	}
	return decodeResponse(res, nil)
}

// ListIndices returns non-system indices matching the glob pattern
// (wildcards * and ?, literal dots). An empty pattern matches everything.
func (c *Catalog) ListIndices(ctx context.Context, pattern string) ([]string, error) {
	client, err := newClient(c.ds)
	if err != nil {
		return nil, err
	}
	res, err := client.Cat.Indices(
		client.Cat.Indices.WithContext(ctx),
		client.Cat.Indices.WithFormat("json"),
		client.Cat.Indices.WithH("index"),
	)
	if err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	var rows []struct {
		Index string `json:"index"`
	}
	if err := decodeResponse(res, &rows); err != nil {
		return nil, err
	}

	match, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, row := range rows {
		if strings.HasPrefix(row.Index, ".") {
			continue // system indices
		}
		if match(row.Index) {
			out = append(out, row.Index)
		}
	}
	sort.Strings(out)
	return out, nil
}

// compileGlob builds a matcher for the pattern language used by index
// filters: '*' any run, '?' any single character, '.' a literal dot.
func compileGlob(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compile index pattern %q: %w", pattern, err)
	}
	return re.MatchString, nil
}
