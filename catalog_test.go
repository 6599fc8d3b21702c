package lsyolo

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestLabelCatalog(t *testing.T) {
	c := NewLabelCatalog()
	require.Equal(t, []string{}, c.Names())

	require.Equal(t, 0, c.ID("person"))
	require.Equal(t, 1, c.ID("car"))
	require.Equal(t, 0, c.ID("person"))
	require.Equal(t, 2, c.ID("Person"))
	require.Equal(t, 3, c.Len())

	id, ok := c.Lookup("car")
	require.True(t, ok)
	require.Equal(t, 1, id)
	_, ok = c.Lookup("bus")
	require.False(t, ok)
	require.Equal(t, 3, c.Len())

	name, ok := c.Name(2)
	require.True(t, ok)
	require.Equal(t, "Person", name)
	_, ok = c.Name(3)
	require.False(t, ok)
	_, ok = c.Name(-1)
	require.False(t, ok)

	clone := c.Clone()
	clone.ID("bus")
	require.Equal(t, 3, c.Len())
	require.Equal(t, []string{"person", "car", "Person", "bus"}, clone.Names())
}

func TestCatalogRoundTrip(t *testing.T) {
	c := NewLabelCatalog()
	for _, name := range []string{"person", "traffic light", "car: red"} {
		c.ID(name)
	}

	var sb strings.Builder
	_, err := c.WriteTo(&sb)
	require.NoError(t, err)
	require.Equal(t, "0: person\n1: traffic light\n2: car: red\n", sb.String())

	parsed, err := ParseCatalog(strings.NewReader(sb.String()))
	require.NoError(t, err)
	require.Equal(t, c.Names(), parsed.Names())
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog(strings.NewReader("1: car\r\n\n0: person\n"))
	require.NoError(t, err)
	require.Equal(t, []string{"person", "car"}, c.Names())

	for _, bad := range []string{
		"0 person\n",
		"x: person\n",
		"0: person\n0: car\n",
		"0: person\n2: car\n",
		"0: person\n1: person\n",
		"-1: person\n",
		"0: \n",
	} {
		_, err := ParseCatalog(strings.NewReader(bad))
		require.Error(t, err, bad)
	}
}

func TestLoadCatalog(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/ds/classes.txt", []byte("0: cat\n1: dog\n"), 0644))

	c, err := LoadCatalog(fs, "/ds/classes.txt")
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "dog"}, c.Names())

	_, err = LoadCatalog(fs, "/ds/missing.txt")
	require.Error(t, err)
}
