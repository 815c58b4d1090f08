package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func mkRoot(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	root := filepath.Join(dir, rootDirName)
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, contents := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(contents), 0o644))
	}
	return root
}

func TestFindNoChainReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	roots, err := Find(dir)
	require.NoError(t, err)
	require.Nil(t, roots)
}

func TestFindClosestRootOnly(t *testing.T) {
	base := t.TempDir()
	mkRoot(t, base, map[string]string{"a.lisp": "(env/set \"FOO\" \"bar\")"})

	sub := filepath.Join(base, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	roots, err := Find(sub)
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Equal(t, filepath.Join(base, rootDirName), roots[0].Dir)
}

func TestFindFollowsParentLinkOutermostFirst(t *testing.T) {
	outer := t.TempDir()
	outerRoot := mkRoot(t, outer, map[string]string{"a.lisp": "1"})

	innerBase := filepath.Join(outer, "project")
	require.NoError(t, os.MkdirAll(innerBase, 0o755))
	innerRoot := mkRoot(t, innerBase, map[string]string{"b.lisp": "2"})
	require.NoError(t, os.Symlink(outerRoot, filepath.Join(innerRoot, parentLinkName)))

	roots, err := Find(innerBase)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	require.Equal(t, outerRoot, roots[0].Dir)
	require.Equal(t, innerRoot, roots[1].Dir)
}

func TestFindParentLinkNotASymlinkErrors(t *testing.T) {
	base := t.TempDir()
	root := mkRoot(t, base, map[string]string{"a.lisp": "1"})
	require.NoError(t, os.WriteFile(filepath.Join(root, parentLinkName), []byte("not a link"), 0o644))

	_, err := Find(base)
	var traversalErr *TraversalError
	require.ErrorAs(t, err, &traversalErr)
	require.Equal(t, NotASymlink, traversalErr.Kind)
}

func TestFindParentLinkSelfReferentialErrors(t *testing.T) {
	base := t.TempDir()
	root := mkRoot(t, base, map[string]string{"a.lisp": "1"})
	require.NoError(t, os.Symlink(root, filepath.Join(root, parentLinkName)))

	_, err := Find(base)
	var traversalErr *TraversalError
	require.ErrorAs(t, err, &traversalErr)
	require.Equal(t, SelfReferential, traversalErr.Kind)
}

func TestFindParentLinkInvalidTargetBasenameErrors(t *testing.T) {
	base := t.TempDir()
	root := mkRoot(t, base, map[string]string{"a.lisp": "1"})

	notARoot := filepath.Join(base, "not-shadowenv-d")
	require.NoError(t, os.MkdirAll(notARoot, 0o755))
	require.NoError(t, os.Symlink(notARoot, filepath.Join(root, parentLinkName)))

	_, err := Find(base)
	var traversalErr *TraversalError
	require.ErrorAs(t, err, &traversalErr)
	require.Equal(t, InvalidLinkTarget, traversalErr.Kind)
}

func TestFindParentLinkSidewaysErrors(t *testing.T) {
	base := t.TempDir()

	siblingBase := filepath.Join(base, "sibling")
	require.NoError(t, os.MkdirAll(siblingBase, 0o755))
	siblingRoot := mkRoot(t, siblingBase, map[string]string{"a.lisp": "1"})

	myBase := filepath.Join(base, "mine")
	require.NoError(t, os.MkdirAll(myBase, 0o755))
	myRoot := mkRoot(t, myBase, map[string]string{"b.lisp": "2"})
	require.NoError(t, os.Symlink(siblingRoot, filepath.Join(myRoot, parentLinkName)))

	_, err := Find(myBase)
	var traversalErr *TraversalError
	require.ErrorAs(t, err, &traversalErr)
	require.Equal(t, NotAnAncestor, traversalErr.Kind)
}

func TestLoadReadsOnlyLispFilesSortedByName(t *testing.T) {
	base := t.TempDir()
	root := mkRoot(t, base, map[string]string{
		"b.lisp": "second",
		"a.lisp": "first",
		"notes":  "ignored",
	})

	src, ok, err := Load(Root{Dir: root})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, src.Files, 2)
	require.Equal(t, "a.lisp", src.Files[0].Name)
	require.Equal(t, "b.lisp", src.Files[1].Name)
}

func TestLoadEmptyDirectoryReturnsNotOk(t *testing.T) {
	base := t.TempDir()
	root := mkRoot(t, base, nil)

	_, ok, err := Load(Root{Dir: root})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadAllSkipsEmptyRoots(t *testing.T) {
	base := t.TempDir()
	withFiles := mkRoot(t, base, map[string]string{"a.lisp": "1"})

	emptyBase := filepath.Join(base, "empty")
	require.NoError(t, os.MkdirAll(emptyBase, 0o755))
	empty := mkRoot(t, emptyBase, nil)

	sources, err := LoadAll([]Root{{Dir: empty}, {Dir: withFiles}})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.Equal(t, withFiles, sources[0].Dir)
}
