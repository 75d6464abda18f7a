package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// The bounded snprintf/printf/memcpy fixture must produce no findings.
func TestSafeFixtureHasNoFindings(t *testing.T) {
	path := filepath.Join("testdata", "test_c", "false_positive_safe.c")

	warnings, err := ScanFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	s, err := New(Options{Checks: AllChecks(), StackThreshold: DefaultStackThreshold, Engine: EngineAST})
	require.NoError(t, err)
	warnings, err = s.ScanFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestUnsafeFixture(t *testing.T) {
	path := filepath.Join("testdata", "test_c", "true_positive_unsafe.c")

	warnings, err := ScanFile(context.Background(), path)
	require.NoError(t, err)

	type got struct {
		line int
		cwe  string
	}
	var gotList []got
	for _, w := range warnings {
		gotList = append(gotList, got{w.LineNo, w.CWE})
	}
	assert.Equal(t, []got{
		{10, "CWE-242"},
		{11, "CWE-120"},
		{12, "CWE-120/CWE-134"},
		{14, "CWE-120"},
		{13, "CWE-134"},
	}, gotList)

	s, err := New(Options{Checks: AllChecks(), StackThreshold: DefaultStackThreshold})
	require.NoError(t, err)
	all, err := s.ScanFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, 8, all[5].LineNo)
	assert.Equal(t, 15, all[6].LineNo)
}

func TestScanFile(t *testing.T) {
	ctx := context.Background()

	t.Run("with issues", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "a.c", "char buf[32];\ngets(buf);\nstrcpy(dest, src);\n")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		assert.Len(t, warnings, 2)
	})

	t.Run("no issues", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "a.c", "int main() { return 0; }\n")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("nonexistent file", func(t *testing.T) {
		warnings, err := ScanFile(ctx, "/nonexistent/path/file.c")
		assert.ErrorIs(t, err, ErrReadFile)
		assert.ErrorIs(t, err, fs.ErrNotExist)
		assert.Empty(t, warnings)
	})

	t.Run("binary content", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "bin.c", "\x00\x01\x02\x03\xff\xfe")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("crlf line endings", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "win.c", "int x;\r\ngets(buf);\r\n")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, 2, warnings[0].LineNo)
		assert.Equal(t, "gets(buf);", warnings[0].Line)
	})

	t.Run("cr line endings", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "mac.c", "int x;\rgets(a);\r")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, 2, warnings[0].LineNo)
		assert.Equal(t, "gets(a);", warnings[0].Line)
	})

	t.Run("reported line is comment stripped", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "c.c", "strcat(a, b); // append\n")
		warnings, err := ScanFile(ctx, p)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, "strcat(a, b);", warnings[0].Line)
		assert.Equal(t, "strcat used. Potential buffer overflow; use strncat()/strlcat().", warnings[0].Message)
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "a.c", "gets(buf);\n")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ScanFile(cctx, p)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestScanPath(t *testing.T) {
	ctx := context.Background()

	t.Run("directory", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "test.c", "gets(buf);\n")
		writeFile(t, dir, "test.h", "strcpy(a, b);\n")
		writeFile(t, dir, "readme.txt", "gets(ignored);\n")

		warnings, err := ScanPath(ctx, dir)
		require.NoError(t, err)
		assert.Len(t, warnings, 2)
	})

	t.Run("single file", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "one.c", "gets(buf);\n")
		warnings, err := ScanPath(ctx, p)
		require.NoError(t, err)
		assert.Len(t, warnings, 1)
	})

	t.Run("non c file", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "notes.txt", "gets(buf);\n")
		warnings, err := ScanPath(ctx, p)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("extension match is case sensitive", func(t *testing.T) {
		p := writeFile(t, t.TempDir(), "UPPER.C", "gets(buf);\n")
		warnings, err := ScanPath(ctx, p)
		require.NoError(t, err)
		assert.Empty(t, warnings)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := ScanPath(ctx, filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, ErrPathNotFound)
	})

	t.Run("nested results keep walk order", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "b.c", "gets(b);\n")
		writeFile(t, dir, "a/deep/z.c", "gets(z);\n")
		writeFile(t, dir, "a/y.h", "gets(y);\n")
		writeFile(t, dir, "c.c", "gets(c);\n")

		s, err := New(Options{Checks: DefaultChecks(), Workers: 4})
		require.NoError(t, err)
		warnings, err := s.ScanPath(ctx, dir)
		require.NoError(t, err)

		var files []string
		for _, w := range warnings {
			rel, _ := filepath.Rel(dir, w.File)
			files = append(files, filepath.ToSlash(rel))
		}
		assert.Equal(t, []string{"a/deep/z.c", "a/y.h", "b.c", "c.c"}, files)
	})

	t.Run("ignore patterns", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "src/main.c", "gets(a);\n")
		writeFile(t, dir, "vendor/lib.c", "gets(b);\n")
		writeFile(t, dir, "build/gen/out.c", "gets(c);\n")
		writeFile(t, dir, "third_party/x/y.c", "gets(d);\n")

		s, err := New(Options{
			Checks:         DefaultChecks(),
			Workers:        2,
			IgnorePatterns: []string{"vendor", "build/", "third_*/x"},
		})
		require.NoError(t, err)
		warnings, err := s.ScanPath(ctx, dir)
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Equal(t, filepath.Join(dir, "src", "main.c"), warnings[0].File)
	})

	t.Run("unreadable file is skipped", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root can read any file")
		}
		dir := t.TempDir()
		writeFile(t, dir, "ok.c", "gets(a);\n")
		locked := writeFile(t, dir, "locked.c", "gets(b);\n")
		require.NoError(t, os.Chmod(locked, 0o000))
		t.Cleanup(func() { _ = os.Chmod(locked, 0o644) })

		warnings, err := ScanPath(ctx, dir)
		require.NoError(t, err)
		assert.Len(t, warnings, 1)
	})

	t.Run("cancelled context", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.c", "gets(a);\n")
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := ScanPath(cctx, dir)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestASTEngineMultiDeclarators(t *testing.T) {
	src := []byte("void f(void) {\n  char a[8], b[16];\n  memcpy(b, src, 32);\n  memcpy(a, src, 4);\n}\n")

	regex, err := New(Options{Checks: []string{CheckNameMemcpyOverflow}})
	require.NoError(t, err)
	w, err := regex.ScanSource(context.Background(), "m.c", src)
	require.NoError(t, err)
	assert.Empty(t, w, "regex engine only sees the first declarator")

	ast, err := New(Options{Checks: []string{CheckNameMemcpyOverflow}, Engine: EngineAST})
	require.NoError(t, err)
	w, err = ast.ScanSource(context.Background(), "m.c", src)
	require.NoError(t, err)
	require.Len(t, w, 1)
	assert.Equal(t, "memcpy to 'b' copies 32 bytes but buffer is only 16 bytes.", w[0].Message)
	assert.Equal(t, 3, w[0].LineNo)
}

func TestASTEngineKeepsDeclarationsTheGrammarMisses(t *testing.T) {
	src := []byte("DECL(char buf[8]);\nvoid f(char *s) {\n  memcpy(buf, s, 64);\n}\n")

	for _, engine := range []string{EngineRegex, EngineAST} {
		t.Run(engine, func(t *testing.T) {
			s, err := New(Options{Checks: []string{CheckNameMemcpyOverflow}, Engine: engine})
			require.NoError(t, err)
			w, err := s.ScanSource(context.Background(), "macro.c", src)
			require.NoError(t, err)
			require.Len(t, w, 1)
			assert.Equal(t, "memcpy to 'buf' copies 64 bytes but buffer is only 8 bytes.", w[0].Message)
			assert.Equal(t, 3, w[0].LineNo)
		})
	}
}

func TestASTEngineExtendsRegexTable(t *testing.T) {
	// The regex table only sees a[8]; the grammar adds b[16] from the same line.
	src := []byte("void f(char *s) {\n  char a[8], b[16];\n  memcpy(a, s, 12);\n  memcpy(b, s, 12);\n  memcpy(b, s, 20);\n}\n")

	s, err := New(Options{Checks: []string{CheckNameMemcpyOverflow}, Engine: EngineAST})
	require.NoError(t, err)
	w, err := s.ScanSource(context.Background(), "m.c", src)
	require.NoError(t, err)
	require.Len(t, w, 2)
	assert.Equal(t, 3, w[0].LineNo)
	assert.Equal(t, 5, w[1].LineNo)
}

func TestHugeLiteralSizes(t *testing.T) {
	src := []byte("char buf[8];\nchar big[99999999999999999999];\nmemcpy(buf, src, 99999999999999999999);\n")

	for _, engine := range []string{EngineRegex, EngineAST} {
		t.Run(engine, func(t *testing.T) {
			s, err := New(Options{
				Checks:         []string{CheckNameMemcpyOverflow, CheckNameLargeStack},
				StackThreshold: DefaultStackThreshold,
				Engine:         engine,
			})
			require.NoError(t, err)
			w, err := s.ScanSource(context.Background(), "huge.c", src)
			require.NoError(t, err)
			require.Len(t, w, 2)
			assert.Equal(t, "memcpy to 'buf' copies 99999999999999999999 bytes but buffer is only 8 bytes.", w[0].Message)
			assert.Equal(t, "Large stack buffer (99999999999999999999 bytes) may cause stack overflow.", w[1].Message)
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	_, err := New(Options{Checks: []string{"nope"}})
	assert.ErrorIs(t, err, ErrUnknownCheck)

	_, err = New(Options{Engine: "llvm"})
	assert.ErrorIs(t, err, ErrUnknownEngine)

	_, err = New(Options{StackThreshold: -1})
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, SplitLines(nil))
	assert.Equal(t, []string{"a", "b"}, SplitLines([]byte("a\nb\n")))
	assert.Equal(t, []string{"a", "b"}, SplitLines([]byte("a\r\nb")))
	assert.Equal(t, []string{"", "x"}, SplitLines([]byte("\nx\n")))
	assert.Equal(t, []string{"int x;", "gets(a);"}, SplitLines([]byte("int x;\rgets(a);\r")))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines([]byte("a\r\rb")))
}
