package locators

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-blockinject/internal/rules"
	"github.com/deploymenttheory/go-blockinject/internal/testutil/ext4image"
	"github.com/deploymenttheory/go-blockinject/internal/testutil/f2fsimage"
	"github.com/deploymenttheory/go-blockinject/internal/types"
)

func TestKinds(t *testing.T) {
	assert.Equal(t, []types.FSKind{types.FSExt4, types.FSF2FS}, Kinds())
	assert.True(t, IsKind("ext4"))
	assert.True(t, IsKind("f2fs"))
	assert.False(t, IsKind("xfs"))
	assert.False(t, IsKind("Cb1234"))
}

func TestLookup(t *testing.T) {
	log := logrus.NewEntry(logrus.New())

	t.Run("ext4", func(t *testing.T) {
		factory, err := Lookup(types.FSExt4)
		require.NoError(t, err)
		loc, err := factory(ext4image.Build(t), rules.NewStore(log), log)
		require.NoError(t, err)
		assert.Equal(t, types.FSExt4, loc.FS())
	})

	t.Run("f2fs", func(t *testing.T) {
		factory, err := Lookup(types.FSF2FS)
		require.NoError(t, err)
		loc, err := factory(f2fsimage.Build(t), rules.NewStore(log), log)
		require.NoError(t, err)
		assert.Equal(t, types.FSF2FS, loc.FS())
		assert.False(t, loc.Full())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Lookup("xfs")
		require.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestGrammar(t *testing.T) {
	g, err := Grammar(types.FSExt4)
	require.NoError(t, err)
	assert.Equal(t, types.FSExt4, g.FS)

	g, err = Grammar(types.FSF2FS)
	require.NoError(t, err)
	assert.Equal(t, types.FSF2FS, g.FS)

	_, err = Grammar("btrfs")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}
