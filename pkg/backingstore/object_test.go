package backingstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectStoreWritePageAlwaysPermanent(t *testing.T) {
	o := &ObjectStore{}

	err := o.WritePage(context.Background(), 0, make([]byte, PageSize))
	require.Error(t, err)
	assert.True(t, IsPermanent(err), "object stores never support write-back")
}

func TestObjectStoreCloseIsNoop(t *testing.T) {
	o := &ObjectStore{}
	assert.NoError(t, o.Close())
}
