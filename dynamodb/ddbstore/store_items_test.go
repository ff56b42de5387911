package ddbstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": str(pk), "sk": str(sk)}
}

func requireValidationException(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr), "expected an API error, got %v", err)
	assert.Equal(t, "ValidationException", apiErr.ErrorCode())
}

func TestStore_PutItem(t *testing.T) {
	t.Run("simple put and retrieve", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		ctx := context.Background()

		item := map[string]types.AttributeValue{
			"pk":   str("test"),
			"sk":   str("test"),
			"data": str("hello world"),
		}
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: singleTableDesign.TableName,
			Item:      item,
		})
		require.NoError(t, err)

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: singleTableDesign.TableName,
			Key:       key("test", "test"),
		})
		require.NoError(t, err)
		assert.Equal(t, item, got.Item)
	})

	t.Run("return old values", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		ctx := context.Background()

		first := map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "v": num("1")}
		out, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    singleTableDesign.TableName,
			Item:         first,
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attributes)

		out, err = store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    singleTableDesign.TableName,
			Item:         map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "v": num("2")},
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, first, out.Attributes)
	})

	t.Run("empty strings are rejected", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: singleTableDesign.TableName,
			Item: map[string]types.AttributeValue{
				"pk": str("a"),
				"sk": str("b"),
				"m":  &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"x": str("")}},
			},
		})
		requireValidationException(t, err)
	})

	t.Run("missing key attribute", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: singleTableDesign.TableName,
			Item:      map[string]types.AttributeValue{"pk": str("a")},
		})
		requireValidationException(t, err)
	})

	t.Run("condition expression", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		ctx := context.Background()
		in := &dynamodb.PutItemInput{
			TableName:           singleTableDesign.TableName,
			Item:                key("a", "b"),
			ConditionExpression: aws.String("attribute_not_exists (pk)"),
		}
		_, err := store.PutItem(ctx, in)
		require.NoError(t, err)

		_, err = store.PutItem(ctx, in)
		var ccf *types.ConditionalCheckFailedException
		assert.True(t, errors.As(err, &ccf))
	})

	t.Run("unknown table", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: aws.String("nope"),
			Item:      key("a", "b"),
		})
		var rnf *types.ResourceNotFoundException
		assert.True(t, errors.As(err, &rnf))
	})
}

func TestStore_GetItem(t *testing.T) {
	store := newTestStore(t, singleTableDesign)
	ctx := context.Background()
	put(t, store, singleTableDesign, map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "x": num("1"), "y": num("2")})

	t.Run("missing item", func(t *testing.T) {
		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: singleTableDesign.TableName, Key: key("a", "zzz")})
		require.NoError(t, err)
		assert.Nil(t, got.Item)
	})

	t.Run("key must match the schema", func(t *testing.T) {
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: singleTableDesign.TableName,
			Key:       map[string]types.AttributeValue{"pk": str("a")},
		})
		requireValidationException(t, err)

		_, err = store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: singleTableDesign.TableName,
			Key:       map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "x": num("1")},
		})
		requireValidationException(t, err)
	})

	t.Run("projection", func(t *testing.T) {
		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                singleTableDesign.TableName,
			Key:                      key("a", "b"),
			ProjectionExpression:     aws.String("#x, pk"),
			ExpressionAttributeNames: map[string]string{"#x": "x"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"pk": str("a"), "x": num("1")}, got.Item)
	})
}

func TestStore_UpdateItem(t *testing.T) {
	ctx := context.Background()

	t.Run("put and delete attributes", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign, map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "x": num("1"), "y": num("2")})

		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: singleTableDesign.TableName,
			Key:       key("a", "b"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{
				"x": {Action: types.AttributeActionPut, Value: num("10")},
				"y": {Action: types.AttributeActionDelete},
			},
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, num("1"), out.Attributes["x"])
		assert.Equal(t, num("2"), out.Attributes["y"])

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: singleTableDesign.TableName, Key: key("a", "b")})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "x": num("10")}, got.Item)
	})

	t.Run("creates missing item", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: singleTableDesign.TableName,
			Key:       key("new", "1"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{
				"x": {Action: types.AttributeActionPut, Value: str("v")},
			},
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attributes)

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: singleTableDesign.TableName, Key: key("new", "1")})
		require.NoError(t, err)
		assert.Equal(t, str("v"), got.Item["x"])
	})

	t.Run("delete only does not create", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        singleTableDesign.TableName,
			Key:              key("ghost", "1"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{"x": {Action: types.AttributeActionDelete}},
		})
		require.NoError(t, err)
		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: singleTableDesign.TableName, Key: key("ghost", "1")})
		require.NoError(t, err)
		assert.Nil(t, got.Item)
	})

	t.Run("add numbers and sets", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign, map[string]types.AttributeValue{
			"pk": str("a"), "sk": str("b"),
			"n":    num("1.5"),
			"tags": &types.AttributeValueMemberSS{Value: []string{"x"}},
		})
		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: singleTableDesign.TableName,
			Key:       key("a", "b"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{
				"n":    {Action: types.AttributeActionAdd, Value: num("2")},
				"tags": {Action: types.AttributeActionAdd, Value: &types.AttributeValueMemberSS{Value: []string{"x", "y"}}},
			},
			ReturnValues: types.ReturnValueUpdatedNew,
		})
		require.NoError(t, err)
		assert.Equal(t, num("3.5"), out.Attributes["n"])
		assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"x", "y"}}, out.Attributes["tags"])
	})

	t.Run("key attributes cannot be updated", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        singleTableDesign.TableName,
			Key:              key("a", "b"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{"sk": {Action: types.AttributeActionPut, Value: str("c")}},
		})
		requireValidationException(t, err)
	})

	t.Run("update expressions are refused", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        singleTableDesign.TableName,
			Key:              key("a", "b"),
			UpdateExpression: aws.String("SET x = :x"),
		})
		requireValidationException(t, err)
	})

	t.Run("index entries follow updates", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		put(t, store, singleTableDesign, map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "gsi1pk": str("old"), "gsi1sk": str("1")})

		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        singleTableDesign.TableName,
			Key:              key("a", "b"),
			AttributeUpdates: map[string]types.AttributeValueUpdate{"gsi1pk": {Action: types.AttributeActionPut, Value: str("new")}},
		})
		require.NoError(t, err)

		for hash, want := range map[string]int{"old": 0, "new": 1} {
			out, err := store.Query(ctx, &dynamodb.QueryInput{
				TableName:                 singleTableDesign.TableName,
				IndexName:                 aws.String("gsi1"),
				KeyConditionExpression:    aws.String("gsi1pk = :h"),
				ExpressionAttributeValues: map[string]types.AttributeValue{":h": str(hash)},
			})
			require.NoError(t, err)
			assert.Len(t, out.Items, want, hash)
		}
	})
}

func TestStore_DeleteItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign)
	it := map[string]types.AttributeValue{"pk": str("a"), "sk": str("b"), "gsi1pk": str("g"), "gsi1sk": str("1")}
	put(t, store, singleTableDesign, it)

	out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    singleTableDesign.TableName,
		Key:          key("a", "b"),
		ReturnValues: types.ReturnValueAllOld,
	})
	require.NoError(t, err)
	assert.Equal(t, it, out.Attributes)

	q, err := store.Query(ctx, &dynamodb.QueryInput{
		TableName:                 singleTableDesign.TableName,
		IndexName:                 aws.String("gsi1"),
		KeyConditionExpression:    aws.String("gsi1pk = :g"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":g": str("g")},
	})
	require.NoError(t, err)
	assert.Empty(t, q.Items)

	out, err = store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    singleTableDesign.TableName,
		Key:          key("a", "b"),
		ReturnValues: types.ReturnValueAllOld,
	})
	require.NoError(t, err)
	assert.Nil(t, out.Attributes)
}
