package mongo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type idDoc struct {
	ID     uuid.UUID  `bson:"_id"`
	Parent *uuid.UUID `bson:"parent,omitempty"`
}

func TestRegistryStoresUUIDAsString(t *testing.T) {
	id := uuid.New()
	parent := uuid.New()

	raw, err := bson.MarshalWithRegistry(Registry(), idDoc{ID: id, Parent: &parent})
	require.NoError(t, err)

	var asMap bson.M
	require.NoError(t, bson.Unmarshal(raw, &asMap))
	assert.Equal(t, id.String(), asMap["_id"])

	var decoded idDoc
	require.NoError(t, bson.UnmarshalWithRegistry(Registry(), raw, &decoded))
	assert.Equal(t, id, decoded.ID)
	require.NotNil(t, decoded.Parent)
	assert.Equal(t, parent, *decoded.Parent)
}
