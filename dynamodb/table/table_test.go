package table

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createInput() *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String("events"),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("rdb_id"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("time"), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("rdb_id"), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String("time"), AttributeType: types.ScalarAttributeTypeN},
			{AttributeName: aws.String("session_id"), AttributeType: types.ScalarAttributeTypeS},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
			IndexName: aws.String("BySession"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("session_id"), KeyType: types.KeyTypeHash},
			},
		}},
		LocalSecondaryIndexes: []types.LocalSecondaryIndex{{
			IndexName: aws.String("BySessionTime"),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String("rdb_id"), KeyType: types.KeyTypeHash},
				{AttributeName: aws.String("session_id"), KeyType: types.KeyTypeRange},
			},
		}},
	}
}

func TestFromCreateTableInput(t *testing.T) {
	def, err := FromCreateTableInput(createInput())
	require.NoError(t, err)

	assert.Equal(t, "events", def.Name)
	assert.Equal(t, []string{"rdb_id", "time"}, def.KeyDefinitions.Names())
	assert.Equal(t, KeyKindN, def.KeyDefinitions.SortKey.Kind)
	assert.True(t, def.KeyDefinitions.Has("time"))
	assert.False(t, def.KeyDefinitions.Has("session_id"))
	assert.False(t, def.KeyDefinitions.Has(""))

	gsi, ok := def.Index("BySession")
	require.True(t, ok)
	assert.Equal(t, []string{"session_id"}, gsi.KeyDefinitions.Names())

	lsi, ok := def.Index("BySessionTime")
	require.True(t, ok)
	assert.Equal(t, "session_id", lsi.KeyDefinitions.SortKey.Name)

	_, ok = def.Index("missing")
	assert.False(t, ok)

	t.Run("invalid inputs", func(t *testing.T) {
		tests := []struct {
			name   string
			modify func(in *dynamodb.CreateTableInput)
		}{
			{"no table name", func(in *dynamodb.CreateTableInput) { in.TableName = nil }},
			{"undefined key attribute", func(in *dynamodb.CreateTableInput) { in.AttributeDefinitions = in.AttributeDefinitions[1:] }},
			{"two hash keys", func(in *dynamodb.CreateTableInput) { in.KeySchema[1].KeyType = types.KeyTypeHash }},
			{"no hash key", func(in *dynamodb.CreateTableInput) { in.KeySchema = in.KeySchema[1:] }},
			{"unnamed index", func(in *dynamodb.CreateTableInput) { in.GlobalSecondaryIndexes[0].IndexName = nil }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				in := createInput()
				tt.modify(in)
				_, err := FromCreateTableInput(in)
				assert.Error(t, err)
			})
		}
	})
}

func TestExtractPrimaryKey(t *testing.T) {
	def, err := FromCreateTableInput(createInput())
	require.NoError(t, err)

	doc := map[string]types.AttributeValue{
		"rdb_id":     &types.AttributeValueMemberS{Value: "r1"},
		"time":       &types.AttributeValueMemberN{Value: "12"},
		"session_id": &types.AttributeValueMemberS{Value: "s1"},
	}
	pk, err := def.ExtractPrimaryKey(doc)
	require.NoError(t, err)
	assert.Equal(t, PrimaryKeyValues{PartitionKey: "r1", SortKey: "12"}, pk.Values)

	gsi, _ := def.Index("BySession")
	ipk, err := gsi.ExtractPrimaryKey(doc)
	require.NoError(t, err)
	assert.Equal(t, "s1", ipk.Values.PartitionKey)
	assert.Nil(t, ipk.Values.SortKey)

	t.Run("missing sort key", func(t *testing.T) {
		_, err := def.ExtractPrimaryKey(map[string]types.AttributeValue{
			"rdb_id": &types.AttributeValueMemberS{Value: "r1"},
		})
		assert.ErrorContains(t, err, `sort key "time" not found`)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := def.ExtractPrimaryKey(map[string]types.AttributeValue{
			"rdb_id": &types.AttributeValueMemberN{Value: "1"},
			"time":   &types.AttributeValueMemberN{Value: "12"},
		})
		assert.ErrorContains(t, err, "kind does not match")
	})
}
