package model

import (
	"context"

	"github.com/acksell/ddbmodel/dynamodb/ddbsdk"
)

// QuerySpec selects documents with `attr__op` conditions. See [ddbsdk.ParseConditions].
type QuerySpec struct {
	KeyConditions    map[string]any
	FilterConditions map[string]any
	// IndexName defaults to the model's query index.
	IndexName string
	// Limit caps the number of documents. Zero means no limit.
	Limit int
	// PageSize caps the items evaluated per request.
	PageSize   int
	Descending bool
	Cursor     ddbsdk.Cursor
}

// DocumentPager yields the documents of a paged query or scan.
type DocumentPager struct {
	model *Model
	pager *ddbsdk.Pager
}

// Next returns the next page of documents.
func (p *DocumentPager) Next(ctx context.Context) ([]*Document, error) {
	rows, err := p.pager.Next(ctx)
	if err != nil {
		return nil, err
	}
	return p.model.fromRows(rows), nil
}

func (p *DocumentPager) Done() bool {
	return p.pager.Done()
}

// Cursor returns the position after the last page, nil once the read is exhausted.
func (p *DocumentPager) Cursor() ddbsdk.Cursor {
	return p.pager.Cursor()
}

// All drains the pager.
func (p *DocumentPager) All(ctx context.Context) ([]*Document, error) {
	rows, err := p.pager.All(ctx)
	if err != nil {
		return nil, err
	}
	return p.model.fromRows(rows), nil
}

func (m *Model) fromRows(rows []ddbsdk.Item) []*Document {
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, m.FromRow(row))
	}
	return docs
}

// Query returns a pager over the documents matching spec.
func (m *Model) Query(spec QuerySpec) (*DocumentPager, error) {
	index := spec.IndexName
	if index == "" {
		index = m.queryIndex
	}
	pager, err := ddbsdk.NewQueryPager(m.client, ddbsdk.QuerySpec{
		TableName:        m.schema.TableName,
		KeyConditions:    spec.KeyConditions,
		FilterConditions: spec.FilterConditions,
		IndexName:        index,
		Limit:            spec.Limit,
		PageSize:         spec.PageSize,
		Descending:       spec.Descending,
		ConsistentRead:   m.consistentFor(index),
		Cursor:           spec.Cursor,
	})
	if err != nil {
		return nil, err
	}
	return &DocumentPager{model: m, pager: pager}, nil
}

// PaginatedQuery returns up to spec.Limit documents and the cursor to pass
// as spec.Cursor for the next call. The cursor is nil when no documents
// remain. A zero limit returns nothing without a request.
func (m *Model) PaginatedQuery(ctx context.Context, spec QuerySpec) ([]*Document, ddbsdk.Cursor, error) {
	if spec.Limit == 0 {
		return nil, nil, nil
	}
	p, err := m.Query(spec)
	if err != nil {
		return nil, nil, err
	}
	docs, err := p.All(ctx)
	if err != nil {
		return nil, nil, err
	}
	return docs, p.Cursor(), nil
}

// Scan returns a pager over the documents matching filter.
func (m *Model) Scan(filter map[string]any, pageSize int) (*DocumentPager, error) {
	pager, err := ddbsdk.NewScanPager(m.client, ddbsdk.ScanSpec{
		TableName:        m.schema.TableName,
		FilterConditions: filter,
		PageSize:         pageSize,
		ConsistentRead:   m.consistentRead,
	})
	if err != nil {
		return nil, err
	}
	return &DocumentPager{model: m, pager: pager}, nil
}

// All returns a pager over every document of the table.
func (m *Model) All() (*DocumentPager, error) {
	return m.Scan(nil, 0)
}
