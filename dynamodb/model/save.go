package model

import (
	"context"
	"fmt"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type SaveOption func(*saveOpts)

type saveOpts struct {
	overwrite bool
}

// WithOverwrite writes the whole item unconditionally. It is required to
// save a document that was deleted.
func WithOverwrite() SaveOption {
	return func(o *saveOpts) {
		o.overwrite = true
	}
}

type UpdateOption func(*updateOpts)

type updateOpts struct {
	skipPrimaryKeyCheck bool
}

// WithSkipPrimaryKeyCheck sends the partial update even when a key field changed.
// The update is keyed by the current primary key.
func WithSkipPrimaryKeyCheck() UpdateOption {
	return func(o *updateOpts) {
		o.skipPrimaryKeyCheck = true
	}
}

// Save writes the document.
//
// The whole item is put when overwriting, when the primary key changed or
// when the document is not known to exist remotely. Otherwise only the
// unsaved fields are sent as a partial update.
func (d *Document) Save(ctx context.Context, opts ...SaveOption) error {
	var o saveOpts
	for _, opt := range opts {
		opt(&o)
	}
	if d.deleted && !o.overwrite {
		return ddberrors.NewValidationError("", fmt.Sprintf("%s already deleted, save with overwrite to force", d.model.schema.Name))
	}
	if err := d.Validate(); err != nil {
		return err
	}

	changedKey := d.changedKeyFields()
	if len(changedKey) > 0 {
		d.model.log.Info("primary key changed", "overwrite", o.overwrite, "fields", changedKey,
			"new", plain(d.raw), "old", plain(d.snapshot))
	}

	var (
		old      map[string]types.AttributeValue
		isUpdate bool
		err      error
	)
	if o.overwrite || len(changedKey) > 0 || !d.existsRemotely {
		old, err = d.put(ctx)
	} else {
		isUpdate = true
		old, err = d.update(ctx)
	}
	if err != nil {
		if isValidationException(err) {
			return &ddberrors.ValidationError{Message: err.Error(), Cause: err}
		}
		d.logSaveFailure(ctx, o.overwrite, err)
		return err
	}

	if o.overwrite {
		d.model.log.Info("save overwrite", "item", plain(d.raw), "previous", plain(old))
	} else if old != nil && !codec.MapsEqual(old, d.raw) {
		d.logIfUnsafeSave(old, isUpdate)
	}
	d.commit()
	return nil
}

func (d *Document) put(ctx context.Context) (map[string]types.AttributeValue, error) {
	out, err := d.model.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:    aws.String(d.model.schema.TableName),
		Item:         codec.CopyMap(d.raw),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("put item into %s: %w", d.model.schema.TableName, err)
	}
	return out.Attributes, nil
}

// Update sends the unsaved fields as a partial update keyed by the current
// primary key. Nothing is sent when there are no unsaved fields. A changed
// primary key fails with a PrimaryKeyUpdateError before any request is made.
func (d *Document) Update(ctx context.Context, opts ...UpdateOption) error {
	var o updateOpts
	for _, opt := range opts {
		opt(&o)
	}
	if !o.skipPrimaryKeyCheck {
		if fields := d.changedKeyFields(); len(fields) > 0 {
			return &ddberrors.PrimaryKeyUpdateError{Table: d.model.schema.Name, Fields: fields}
		}
	}
	old, err := d.update(ctx)
	if err != nil {
		if isValidationException(err) {
			return &ddberrors.ValidationError{Message: err.Error(), Cause: err}
		}
		return err
	}
	if old != nil && !codec.MapsEqual(old, d.raw) {
		d.logIfUnsafeSave(old, true)
	}
	d.commit()
	return nil
}

// update returns the item as it was before the update, or nil when nothing was sent.
func (d *Document) update(ctx context.Context) (map[string]types.AttributeValue, error) {
	unsaved := d.GetUnsavedFields()
	if len(unsaved) == 0 {
		return nil, nil
	}
	key, err := d.PrimaryKey()
	if err != nil {
		return nil, err
	}
	updates := make(map[string]types.AttributeValueUpdate, len(unsaved))
	for name, av := range unsaved {
		if av == nil {
			updates[name] = types.AttributeValueUpdate{Action: types.AttributeActionDelete}
			continue
		}
		updates[name] = types.AttributeValueUpdate{Action: types.AttributeActionPut, Value: av}
	}
	out, err := d.model.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.model.schema.TableName),
		Key:              key,
		AttributeUpdates: updates,
		ReturnValues:     types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, fmt.Errorf("update item in %s: %w", d.model.schema.TableName, err)
	}
	d.existsRemotely = true
	return out.Attributes, nil
}

// logIfUnsafeSave reports a write that may have overwritten someone else's
// change. old is the item as it was before the write.
func (d *Document) logIfUnsafeSave(old map[string]types.AttributeValue, isUpdate bool) {
	ignored := d.ignored()
	newFields, oldFields := differentFields(d.raw, old, ignored)
	unsaved := d.GetUnsavedFields()
	kv := []any{
		"savedNew", plain(d.raw),
		"savedOld", plain(old),
		"newFields", plain(newFields),
		"oldFields", plain(oldFields),
		"unsavedFields", plain(unsaved),
	}
	if isUpdate {
		if len(newFields) == 0 && len(oldFields) == 0 {
			return
		}
		if subsetOf(newFields, unsaved) {
			return
		}
		d.model.log.Error(nil, "unsafe update: potential overwrite of data", kv...)
		return
	}
	for name := range unsaved {
		delete(newFields, name)
		delete(oldFields, name)
	}
	if len(newFields) > 0 || len(oldFields) > 0 {
		d.model.log.Error(nil, "unsafe put: potential overwrite of data", kv...)
	}
}

func (d *Document) logSaveFailure(ctx context.Context, overwrite bool, saveErr error) {
	kv := []any{"overwrite", overwrite, "saveNew", plain(d.raw)}
	if key, err := d.PrimaryKey(); err == nil {
		if existing, err := d.model.getItem(ctx, key); err == nil && existing != nil {
			newFields, oldFields := differentFields(d.raw, existing, d.ignored())
			kv = append(kv, "saveOld", plain(existing), "newFields", plain(newFields), "oldFields", plain(oldFields))
		}
	}
	d.model.log.Error(saveErr, "error saving", kv...)
}

// Delete removes the item. It returns false without a request when the
// document was already deleted through this instance.
func (d *Document) Delete(ctx context.Context) (bool, error) {
	if d.deleted {
		return false, nil
	}
	key, err := d.PrimaryKey()
	if err != nil {
		return false, err
	}
	if _, err := d.model.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.model.schema.TableName),
		Key:       key,
	}); err != nil {
		return false, fmt.Errorf("delete item from %s: %w", d.model.schema.TableName, err)
	}
	d.deleted = true
	return true, nil
}

// Reload reads the item with the document's primary key into a new document.
// It returns nil without an error when the item no longer exists.
func (d *Document) Reload(ctx context.Context) (*Document, error) {
	key, err := d.PrimaryKey()
	if err != nil {
		return nil, err
	}
	row, err := d.model.getItem(ctx, key)
	if err != nil || row == nil {
		return nil, err
	}
	return d.model.FromRow(row), nil
}

// differentFields returns the attributes of a and b that differ, leaving out
// ignored names. An attribute missing from a is reported in newFields with a
// nil value.
func differentFields(a, b map[string]types.AttributeValue, ignored map[string]bool) (newFields, oldFields map[string]types.AttributeValue) {
	newFields = make(map[string]types.AttributeValue)
	oldFields = make(map[string]types.AttributeValue)
	for name, av := range a {
		if ignored[name] || codec.Equal(av, b[name]) {
			continue
		}
		newFields[name] = av
		if bv, ok := b[name]; ok {
			oldFields[name] = bv
		}
	}
	for name, bv := range b {
		if ignored[name] {
			continue
		}
		if _, ok := a[name]; !ok {
			newFields[name] = nil
			oldFields[name] = bv
		}
	}
	return newFields, oldFields
}

func subsetOf(fields, of map[string]types.AttributeValue) bool {
	for name := range fields {
		if _, ok := of[name]; !ok {
			return false
		}
	}
	return true
}

// plain converts attributes to Go values for log output.
func plain(item map[string]types.AttributeValue) map[string]any {
	out := make(map[string]any, len(item))
	for name, av := range item {
		if av == nil {
			out[name] = nil
			continue
		}
		var v any
		if err := attributevalue.Unmarshal(av, &v); err != nil {
			out[name] = fmt.Sprintf("%T", av)
			continue
		}
		out[name] = v
	}
	return out
}
