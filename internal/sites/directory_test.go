package sites

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `
sites:
  TRK-1:
    id: site-1
    tenant_id: tenant-a
    domains: [shop.example]
  TRK-2:
    id: site-2
    active: false
`

func TestParseAndLookup(t *testing.T) {
	dir, err := Parse([]byte(sample), "inline")
	require.NoError(t, err)
	require.Equal(t, 2, dir.Len())

	site, ok := dir.Lookup("TRK-1")
	require.True(t, ok)
	require.Equal(t, "tenant-a", site.TenantID)
	require.True(t, site.IsActive())
	require.True(t, site.AllowsHost("https://www.shop.example/cart"))
	require.True(t, site.AllowsHost("eu.shop.example"))
	require.False(t, site.AllowsHost("evil-shop.example"))

	inactive, ok := dir.Lookup("TRK-2")
	require.True(t, ok)
	require.False(t, inactive.IsActive())
	require.True(t, inactive.AllowsHost("anything.example"))

	_, ok = dir.Lookup("missing")
	require.False(t, ok)
}

func TestParseRejectsBadFiles(t *testing.T) {
	_, err := Parse([]byte("sites: {}"), "empty")
	require.Error(t, err)

	_, err = Parse([]byte("sites:\n  TRK: {tenant_id: t}\n"), "noid")
	require.ErrorContains(t, err, "missing id")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	dir, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, dir.Len())
}
