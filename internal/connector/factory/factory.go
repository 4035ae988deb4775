// Package factory routes datasource kinds to concrete connector
// implementations.
package factory

import (
	"fmt"

	"github.com/syncwave/syncwave/internal/connector"
	"github.com/syncwave/syncwave/internal/connector/elastic"
	"github.com/syncwave/syncwave/internal/connector/mysql"
	"github.com/syncwave/syncwave/internal/types"
)

type factory struct{}

// New returns the production connector factory.
func New() connector.Factory {
	return factory{}
}

func (factory) NewReader(ds *types.Datasource, unitName string, opts connector.ReaderOptions) (connector.Reader, error) {
	switch ds.Kind {
	case types.KindRelational:
		return mysql.NewReader(ds, unitName, opts)
	case types.KindSearch:
		return elastic.NewReader(ds, unitName, opts)
	default:
		return nil, fmt.Errorf("no reader for datasource kind %q", ds.Kind)
	}
}

func (factory) NewWriter(ds *types.Datasource, unitName string, opts connector.WriterOptions) (connector.Writer, error) {
	switch ds.Kind {
	case types.KindRelational:
		return mysql.NewWriter(ds, unitName, opts)
	case types.KindSearch:
		return elastic.NewWriter(ds, unitName, opts)
	default:
		return nil, fmt.Errorf("no writer for datasource kind %q", ds.Kind)
	}
}
