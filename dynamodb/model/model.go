// Package model maps DynamoDB items to change-tracked documents.
//
// A [Model] is bound to one compiled table schema. Documents remember the
// item as it was last persisted, so Save can send only the changed
// attributes as a partial update, or the whole item when it may not exist
// remotely yet.
package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"
)

type Option func(*Model)

// WithLogger sets the logger used for save diagnostics.
func WithLogger(l logr.Logger) Option {
	return func(m *Model) {
		m.log = l
	}
}

// WithQueryIndex sets the index queried when a QuerySpec names none.
func WithQueryIndex(name string) Option {
	return func(m *Model) {
		m.queryIndex = name
	}
}

// WithConsistentRead makes Get, Reload, scans and queries strongly consistent.
// Queries on a global index stay eventually consistent.
func WithConsistentRead() Option {
	return func(m *Model) {
		m.consistentRead = true
	}
}

// WithSafeToOverwrite names fields that are never reported as unsaved, for
// every document of the model.
func WithSafeToOverwrite(fields ...string) Option {
	return func(m *Model) {
		m.safeToOverwrite = append(m.safeToOverwrite, fields...)
	}
}

// Model reads and writes the documents of one table.
type Model struct {
	client          ddbiface.ItemClient
	schema          *schema.TableSchema
	log             logr.Logger
	queryIndex      string
	consistentRead  bool
	safeToOverwrite []string
}

// consistentFor reports whether a read of index is sent as strongly consistent.
// DynamoDB only supports consistent reads on the table and its local indexes.
func (m *Model) consistentFor(index string) bool {
	if !m.consistentRead {
		return false
	}
	if index == "" {
		return true
	}
	for _, idx := range m.schema.LocalIndexes {
		if idx.Name == index {
			return true
		}
	}
	return false
}

func New(client ddbiface.ItemClient, ts *schema.TableSchema, opts ...Option) *Model {
	m := &Model{client: client, schema: ts, log: logr.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithValues("table", ts.TableName)
	return m
}

// Schema returns the compiled schema of the model's table.
func (m *Model) Schema() *schema.TableSchema {
	return m.schema
}

// FromRow wraps an item read from the table. The document is known to exist remotely.
func (m *Model) FromRow(row map[string]types.AttributeValue) *Document {
	d := m.newDocument(codec.CopyMap(row))
	d.existsRemotely = true
	return d
}

// NewDocument encodes fields into a document that has not been saved.
// Missing identifier fields get a random UUID.
func (m *Model) NewDocument(fields map[string]any) (*Document, error) {
	raw, err := m.schema.Fields.EncodeMap(fields)
	if err != nil {
		return nil, err
	}
	m.schema.Fields.FillIdentifiers(raw)
	return m.newDocument(raw), nil
}

func (m *Model) newDocument(raw map[string]types.AttributeValue) *Document {
	if raw == nil {
		raw = make(map[string]types.AttributeValue)
	}
	return &Document{
		model:           m,
		raw:             raw,
		snapshot:        codec.CopyMap(raw),
		safeToOverwrite: make(map[string]bool),
	}
}

// Create builds a document from fields and writes it with overwrite.
func (m *Model) Create(ctx context.Context, fields map[string]any) (*Document, error) {
	d, err := m.NewDocument(fields)
	if err != nil {
		return nil, err
	}
	if err := d.Save(ctx, WithOverwrite()); err != nil {
		return nil, err
	}
	return d, nil
}

// Get reads the item with the given primary key. key must name exactly the
// primary key attributes.
func (m *Model) Get(ctx context.Context, key map[string]any) (*Document, error) {
	if err := m.checkKeyNames(key); err != nil {
		return nil, err
	}
	encoded := make(map[string]types.AttributeValue, len(key))
	for name, v := range key {
		av, err := m.schema.Fields.Lookup(name).Encode(v)
		if err != nil {
			return nil, err
		}
		if av == nil {
			return nil, ddberrors.NewValidationError(name, "primary key value is empty")
		}
		encoded[name] = av
	}
	row, err := m.getItem(ctx, encoded)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, &ddberrors.NotFoundError{Table: m.schema.Name, Key: key}
	}
	return m.FromRow(row), nil
}

func (m *Model) checkKeyNames(key map[string]any) error {
	want := m.schema.KeyNames()
	got := make([]string, 0, len(key))
	for k := range key {
		got = append(got, k)
	}
	sort.Strings(got)
	expect := append([]string(nil), want...)
	sort.Strings(expect)
	if strings.Join(got, ",") != strings.Join(expect, ",") {
		return ddberrors.NewValidationError("", fmt.Sprintf("invalid get keys: %s, expecting: %s",
			strings.Join(got, ", "), strings.Join(want, ", ")))
	}
	return nil
}

// getItem returns a nil row when the item does not exist.
func (m *Model) getItem(ctx context.Context, key map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	in := &dynamodb.GetItemInput{
		TableName: aws.String(m.schema.TableName),
		Key:       key,
	}
	if m.consistentRead {
		in.ConsistentRead = aws.Bool(true)
	}
	out, err := m.client.GetItem(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("get item from %s: %w", m.schema.TableName, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

// isValidationException reports whether the store rejected the request as invalid.
func isValidationException(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException"
}
