// Structural checks for the module as a whole. They catch code that builds
// and passes its own tests but is never reached by the running engine.
package room_engine_test

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/txn2/room-engine"

// sourceFiles returns the non-test Go files under root.
func sourceFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(p, ".go") && !strings.HasSuffix(p, "_test.go") {
			files = append(files, p)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

// importsOf returns the module-local imports of each file, keyed by the
// file's package directory.
func importsOf(t *testing.T, files []string) map[string][]string {
	t.Helper()
	fset := token.NewFileSet()
	out := make(map[string][]string)
	for _, f := range files {
		parsed, err := parser.ParseFile(fset, f, nil, parser.ImportsOnly)
		require.NoError(t, err, f)
		dir := filepath.ToSlash(filepath.Dir(f))
		for _, imp := range parsed.Imports {
			p, err := strconv.Unquote(imp.Path.Value)
			require.NoError(t, err)
			if strings.HasPrefix(p, modulePath+"/") {
				out[dir] = append(out[dir], strings.TrimPrefix(p, modulePath+"/"))
			}
		}
	}
	return out
}

// TestNoDeadPackages fails when a package under pkg/ is imported only by
// tests, or not at all.
func TestNoDeadPackages(t *testing.T) {
	var all []string
	for _, root := range []string{"pkg", "internal", "cmd"} {
		all = append(all, sourceFiles(t, root)...)
	}
	imports := importsOf(t, all)

	used := make(map[string]bool)
	for dir, deps := range imports {
		for _, d := range deps {
			if d != dir {
				used[d] = true
			}
		}
	}

	for _, f := range sourceFiles(t, "pkg") {
		dir := path.Clean(filepath.ToSlash(filepath.Dir(f)))
		assert.True(t, used[dir], "package %s is never imported by engine code", dir)
	}
}

// TestBuiltinPluginsWired fails when a plugin package exists but the server
// never registers it.
func TestBuiltinPluginsWired(t *testing.T) {
	entries, err := os.ReadDir(filepath.Join("pkg", "plugins"))
	require.NoError(t, err)

	imports := importsOf(t, sourceFiles(t, filepath.Join("internal", "server")))["internal/server"]
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		assert.Contains(t, imports, "pkg/plugins/"+e.Name(),
			"plugin %s is not registered by internal/server", e.Name())
	}
}

var createTableRe = regexp.MustCompile(`(?i)CREATE TABLE(?: IF NOT EXISTS)?\s+(\w+)`)

// TestMigrationTablesHaveConsumers fails when a migration creates a table
// that no store queries.
func TestMigrationTablesHaveConsumers(t *testing.T) {
	ups, err := filepath.Glob(filepath.Join("pkg", "database", "migrate", "migrations", "*", "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, ups)

	var storeSrc strings.Builder
	for _, f := range sourceFiles(t, filepath.Join("pkg", "store")) {
		b, err := os.ReadFile(f) //nolint:gosec // test reads source files
		require.NoError(t, err)
		storeSrc.Write(b)
	}
	src := storeSrc.String()

	for _, up := range ups {
		b, err := os.ReadFile(up) //nolint:gosec // test reads migration files
		require.NoError(t, err)
		for _, m := range createTableRe.FindAllStringSubmatch(string(b), -1) {
			assert.Contains(t, src, strconv.Quote(m[1]),
				"table %s from %s is not used by any store", m[1], up)
		}
	}
}
