package uuid_test

import (
	"testing"

	googleuuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilletech/sitewatch/internal/id/uuid"
)

func TestNewIDProducesVersion7(t *testing.T) {
	t.Parallel()

	id, err := uuid.NewGenerator().NewID()
	require.NoError(t, err)

	parsed, err := googleuuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, googleuuid.Version(7), parsed.Version())
	assert.Equal(t, id, parsed.String(), "ID must already be in canonical form")
}

func TestNewIDDoesNotRepeat(t *testing.T) {
	t.Parallel()

	gen := uuid.NewGenerator()
	seen := make(map[string]struct{}, 128)
	for i := 0; i < 128; i++ {
		id, err := gen.NewID()
		require.NoError(t, err)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID %s after %d draws", id, i)
		}
		seen[id] = struct{}{}
	}
}
