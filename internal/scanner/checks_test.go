package scanner

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"single line comment", []string{"int x = 5; // this is a comment"}, []string{"int x = 5; "}},
		{"block comment single line", []string{"int x = /* comment */ 5;"}, []string{"int x =  5;"}},
		{"block comment multiline", []string{"int x = /* start", "middle", "end */ 5;"}, []string{"int x = ", "", " 5;"}},
		{"no comments", []string{"int x = 5;", "int y = 10;"}, []string{"int x = 5;", "int y = 10;"}},
		{"multiple blocks same line", []string{"int /* a */ x /* b */ = 5;"}, []string{"int  x  = 5;"}},
		{"empty input", []string{}, []string{}},
		{"only comment", []string{"// entire line is comment"}, []string{""}},
		{"block markers do not nest", []string{"/* outer /* inner */ still comment */"}, []string{" still comment */"}},
		{"block after line comment opens a block", []string{"x; // a /* b", "gets(buf);", "*/ y;"}, []string{"x; ", "", " y;"}},
		{"block close then line comment", []string{"/* a", "b */ c; // d"}, []string{"", " c; "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, StripComments(tt.in)); diff != "" {
				t.Errorf("StripComments mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCollectCharArrays(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want CharArrays
	}{
		{"simple", []string{"char buffer[64];"}, CharArrays{"buffer": 64}},
		{"multiple", []string{"char buf1[32];", "char buf2[128];"}, CharArrays{"buf1": 32, "buf2": 128}},
		{"none", []string{"int x = 5;", "float y = 3.14;"}, CharArrays{}},
		{"spaces", []string{"char   name  [  100  ];"}, CharArrays{"name": 100}},
		{"underscores", []string{"char my_buf_1[128];", "char otherBuf[16];"}, CharArrays{"my_buf_1": 128, "otherBuf": 16}},
		{"first match per line", []string{"char a[8]; char b[16];"}, CharArrays{"a": 8}},
		{"redeclaration wins", []string{"char a[8];", "char a[2];"}, CharArrays{"a": 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, CollectCharArrays(tt.in)); diff != "" {
				t.Errorf("CollectCharArrays mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCheckUnsafeFunctions(t *testing.T) {
	t.Run("gets", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{"gets(buffer);"})
		require.Len(t, w, 1)
		assert.Equal(t, "CWE-242", w[0].CWE)
		assert.Contains(t, w[0].Message, "gets")
		assert.Equal(t, "test.c", w[0].File)
		assert.Equal(t, 1, w[0].LineNo)
	})

	t.Run("strcpy", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{"strcpy(dest, src);"})
		require.Len(t, w, 1)
		assert.Equal(t, "CWE-120", w[0].CWE)
	})

	t.Run("sprintf is medium", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{`sprintf(buf, "%s", str);`})
		require.Len(t, w, 1)
		assert.Equal(t, SeverityMed, w[0].Severity)
	})

	t.Run("bounded variants are fine", func(t *testing.T) {
		lines := []string{
			"strncpy(dest, src, sizeof(dest));",
			`snprintf(buf, sizeof(buf), "Hello %s", "World");`,
			"vsnprintf(buf, n, fmt, ap);",
			"fgets(buf, sizeof buf, stdin);",
		}
		assert.Empty(t, CheckUnsafeFunctions("test.c", lines))
	})

	t.Run("multiple lines", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{"gets(buf);", "strcpy(a, b);", "strcat(c, d);"})
		assert.Len(t, w, 3)
	})

	t.Run("identifier substrings", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{"mygets(buf);", "custom_strcpy(dest, src);"})
		assert.Empty(t, w)
	})

	t.Run("scanf family distinguished", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{`fscanf(f, "%s", b);`, `sscanf(s, "%d", &n);`, `scanf ("%s", b);`})
		require.Len(t, w, 3)
		assert.Contains(t, w[0].Message, "fscanf used.")
		assert.Contains(t, w[1].Message, "sscanf used.")
		assert.Equal(t, `scanf used. Unbounded scanf can overflow buffers; prefer fgets() or bounded width (e.g., "%31s").`, w[2].Message)
	})

	t.Run("table order within a line", func(t *testing.T) {
		w := CheckUnsafeFunctions("test.c", []string{"sprintf(b, x); strcat(b, y); gets(b);"})
		require.Len(t, w, 3)
		assert.Contains(t, w[0].Message, "gets")
		assert.Contains(t, w[1].Message, "strcat")
		assert.Contains(t, w[2].Message, "sprintf")
	})

	t.Run("stripped comments are ignored", func(t *testing.T) {
		lines := StripComments([]string{"/* gets(buf); */", "// strcpy(a, b);", "strncpy(dest, src, 10);"})
		assert.Empty(t, CheckUnsafeFunctions("test.c", lines))
	})
}

func TestCheckMemcpyOverflows(t *testing.T) {
	arrays := CharArrays{"buf": 64}

	t.Run("overflow", func(t *testing.T) {
		w := CheckMemcpyOverflows("test.c", []string{"memcpy(buf, src, 128);"}, arrays)
		require.Len(t, w, 1)
		assert.Contains(t, w[0].Message, "128 bytes")
		assert.Contains(t, w[0].Message, "64 bytes")
		assert.Equal(t, SeverityHigh, w[0].Severity)
	})

	t.Run("fits", func(t *testing.T) {
		assert.Empty(t, CheckMemcpyOverflows("test.c", []string{"memcpy(buf, src, 32);"}, arrays))
	})

	t.Run("exact size fits", func(t *testing.T) {
		assert.Empty(t, CheckMemcpyOverflows("test.c", []string{"memcpy(buf, src, 64);"}, arrays))
	})

	t.Run("unknown buffer", func(t *testing.T) {
		assert.Empty(t, CheckMemcpyOverflows("test.c", []string{"memcpy(unknown, src, 128);"}, arrays))
	})

	t.Run("literal beyond int range", func(t *testing.T) {
		w := CheckMemcpyOverflows("test.c", []string{"memcpy(buf, src, 000099999999999999999999);"}, arrays)
		require.Len(t, w, 1)
		assert.Equal(t, "memcpy to 'buf' copies 99999999999999999999 bytes but buffer is only 64 bytes.", w[0].Message)
	})

	t.Run("variable size", func(t *testing.T) {
		lines := []string{"memcpy(buf, src, n);", "memcpy(buf, src, size_var + 4);"}
		assert.Empty(t, CheckMemcpyOverflows("test.c", lines, arrays))
	})
}

func TestCheckPrintfFormat(t *testing.T) {
	tests := []struct {
		line  string
		flags bool
	}{
		{"printf(user_input);", true},
		{"printf(  user_input  );", true},
		{`printf("Hello %s", name);`, false},
		{`printf("Value: %d\n", 42);`, false},
		{`  printf( "x" );`, false},
		{"int x = 5;", false},
		{`snprintf(buf, sizeof(buf), fmt, x);`, false},
		{"printf(msg, a, b);", true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			w := CheckPrintfFormat("test.c", []string{tt.line})
			if !tt.flags {
				assert.Empty(t, w)
				return
			}
			require.Len(t, w, 1)
			assert.Equal(t, "CWE-134", w[0].CWE)
		})
	}
}

func TestCheckLargeStackBuffers(t *testing.T) {
	assert.Len(t, CheckLargeStackBuffers("test.c", []string{"char huge[8192];"}, 1024), 1)
	assert.Empty(t, CheckLargeStackBuffers("test.c", []string{"char small[64];"}, 1024))
	assert.Empty(t, CheckLargeStackBuffers("test.c", []string{"char borderline[1024];"}, 1024))

	huge := CheckLargeStackBuffers("test.c", []string{"char big[99999999999999999999];"}, 1024)
	require.Len(t, huge, 1)
	assert.Equal(t, "Large stack buffer (99999999999999999999 bytes) may cause stack overflow.", huge[0].Message)
	assert.Equal(t, CharArrays{"big": math.MaxInt}, CollectCharArrays([]string{"char big[99999999999999999999];"}))

	w := CheckLargeStackBuffers("test.c", []string{"char b[2048];"}, 1024)
	require.Len(t, w, 1)
	assert.Equal(t, "Large stack buffer (2048 bytes) may cause stack overflow.", w[0].Message)
	assert.Equal(t, "CWE-770", w[0].CWE)
}

func TestCheckAllocaUsage(t *testing.T) {
	w := CheckAllocaUsage("test.c", []string{"void* p = alloca(size);", "my_alloca(n);"})
	require.Len(t, w, 1)
	assert.Equal(t, SeverityMed, w[0].Severity)
	assert.Equal(t, 1, w[0].LineNo)
}

func TestSeverity(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMed.Rank())
	assert.Greater(t, SeverityMed.Rank(), SeverityLow.Rank())

	s, err := ParseSeverity("medium")
	require.NoError(t, err)
	assert.Equal(t, SeverityMed, s)
	_, err = ParseSeverity("critical")
	assert.Error(t, err)
}

func TestFingerprintIgnoresLineNumber(t *testing.T) {
	a := Warning{File: "a.c", LineNo: 3, Message: "m", Line: "  gets(b);"}
	b := a
	b.LineNo = 30
	b.Line = "gets(b);"
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := a
	c.File = "b.c"
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{CheckNameUnsafeFunctions, CheckNameMemcpyOverflow, CheckNamePrintfFormat}, DefaultChecks())
	assert.Len(t, AllChecks(), 5)
	_, ok := LookupCheck(CheckNameAlloca)
	assert.True(t, ok)
	r, ok := LookupRule("gets")
	require.True(t, ok)
	assert.Equal(t, "CWE-242", r.CWE)
	assert.Len(t, UnsafeFunctions(), 8)
}
