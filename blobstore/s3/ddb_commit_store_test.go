package s3

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDDBCommitStore_Current(t *testing.T) {
	ctx := context.Background()
	ddb := newMemDDB()
	store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", "idx"), ddb, "commits", "s3://b/idx")

	_, err := store.Open(ctx, CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)

	require.NoError(t, store.Put(ctx, CurrentName, []byte("MANIFEST-000001.bin")))
	require.NoError(t, store.Put(ctx, CurrentName, []byte("MANIFEST-000002.bin")))

	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	data, err := blobstore.ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000002.bin", string(data))
}

func TestDDBCommitStore_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ddb := newMemDDB()
	store := NewDDBCommitStore(NewStore(new(MockS3Client), "b", "idx"), ddb, "commits", "s3://b/idx")

	ddb.beforePut = func() {
		// Another writer commits version 1 between our read and write.
		_, err := ddb.PutItem(ctx, &dynamodb.PutItemInput{
			Item: map[string]ddbtypes.AttributeValue{
				"base_uri":      &ddbtypes.AttributeValueMemberS{Value: "s3://b/idx"},
				"version":       &ddbtypes.AttributeValueMemberN{Value: "1"},
				"manifest_path": &ddbtypes.AttributeValueMemberS{Value: "MANIFEST-000009.bin"},
			},
			ConditionExpression: aws.String("attribute_not_exists(version)"),
		})
		require.NoError(t, err)
	}

	err := store.Put(ctx, CurrentName, []byte("MANIFEST-000001.bin"))
	require.ErrorIs(t, err, ErrConcurrentModification)

	data, err := blobstore.ReadAll(ctx, store, CurrentName)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST-000009.bin", string(data))
}

func TestDDBCommitStore_PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	ddb := newMemDDB()
	a := NewDDBCommitStore(NewStore(new(MockS3Client), "b", "a"), ddb, "commits", "s3://b/a")
	b := NewDDBCommitStore(NewStore(new(MockS3Client), "b", "b"), ddb, "commits", "s3://b/b")

	require.NoError(t, a.Put(ctx, CurrentName, []byte("MANIFEST-000001.bin")))

	_, err := b.Open(ctx, CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
