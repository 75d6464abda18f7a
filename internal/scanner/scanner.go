// Package scanner is a small static analyzer for C sources. It finds unsafe
// libc calls, literal-length memcpy overflows, non-literal printf formats,
// oversized stack buffers and alloca usage, all by line-oriented matching.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"cscan/internal/cparse"
	"cscan/internal/logging"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrPathNotFound is returned when the scan root does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrReadFile wraps failures reading a source file.
	ErrReadFile = errors.New("could not read file")
	// ErrUnknownCheck is returned for a check name not in the registry.
	ErrUnknownCheck = errors.New("unknown check")
	// ErrUnknownEngine is returned for an engine other than regex or ast.
	ErrUnknownEngine = errors.New("unknown engine")
)

// Engines that build the char-array symbol table.
const (
	EngineRegex = "regex"
	EngineAST   = "ast"
)

// Options configures a Scanner.
type Options struct {
	// Checks lists enabled check names; run order is fixed by the registry.
	Checks []string
	// StackThreshold is the largest char array not reported by large-stack-buffer.
	StackThreshold int
	// Workers bounds concurrent file scans in ScanPath.
	Workers int
	// Extensions are matched as case-sensitive filename suffixes.
	Extensions []string
	// IgnorePatterns skip directories by name or by slash-separated glob
	// relative to the scan root.
	IgnorePatterns []string
	// Engine is EngineRegex or EngineAST.
	Engine string
}

// DefaultOptions returns the behaviour of the plain `cscan <path>` command.
func DefaultOptions() Options {
	workers := runtime.NumCPU()
	if workers > 16 {
		workers = 16
	}
	return Options{
		Checks:         DefaultChecks(),
		StackThreshold: DefaultStackThreshold,
		Workers:        workers,
		Extensions:     []string{".c", ".h"},
		Engine:         EngineRegex,
	}
}

// Validate reports unknown checks, engines and out-of-range numbers.
func (o Options) Validate() error {
	for _, name := range o.Checks {
		if _, ok := LookupCheck(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownCheck, name)
		}
	}
	switch o.Engine {
	case "", EngineRegex, EngineAST:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEngine, o.Engine)
	}
	if o.StackThreshold < 0 {
		return fmt.Errorf("stack threshold must be >= 0, got %d", o.StackThreshold)
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", o.Workers)
	}
	return nil
}

// Scanner runs the enabled checks over files and directory trees.
type Scanner struct {
	opts    Options
	enabled map[string]bool
}

// New creates a Scanner after validating opts.
func New(opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Engine == "" {
		opts.Engine = EngineRegex
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".c", ".h"}
	}
	enabled := make(map[string]bool, len(opts.Checks))
	for _, name := range opts.Checks {
		enabled[name] = true
	}
	return &Scanner{opts: opts, enabled: enabled}, nil
}

// Options returns the effective options.
func (s *Scanner) Options() Options {
	return s.opts
}

// ScanFile scans one file with the default options.
func ScanFile(ctx context.Context, path string) ([]Warning, error) {
	s, _ := New(DefaultOptions())
	return s.ScanFile(ctx, path)
}

// ScanPath scans a file or directory tree with the default options.
func ScanPath(ctx context.Context, root string) ([]Warning, error) {
	s, _ := New(DefaultOptions())
	return s.ScanPath(ctx, root)
}

// ScanFile reads path and runs the enabled checks over it. Extension
// filtering is the caller's concern.
func (s *Scanner) ScanFile(ctx context.Context, path string) ([]Warning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrReadFile, path, err)
	}
	return s.ScanSource(ctx, path, data)
}

// ScanSource runs the enabled checks over in-memory content reported as file.
func (s *Scanner) ScanSource(ctx context.Context, file string, data []byte) ([]Warning, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines := StripComments(SplitLines(data))
	arrays := s.charArrays(ctx, file, data, lines)

	var warnings []Warning
	for _, c := range registry {
		if !s.enabled[c.info.Name] {
			continue
		}
		warnings = append(warnings, c.run(s.opts, file, lines, arrays)...)
	}
	logging.ScanDebug("%s: %d lines, %d buffers, %d warnings", file, len(lines), len(arrays), len(warnings))
	return warnings, nil
}

// charArrays builds the symbol table from the line patterns and, for the ast
// engine, overlays the declarations tree-sitter found. Declarations the
// grammar cannot see (macro-wrapped, inside ERROR nodes) keep their regex size.
func (s *Scanner) charArrays(ctx context.Context, file string, data []byte, lines []string) CharArrays {
	arrays := CollectCharArrays(lines)
	if s.opts.Engine != EngineAST {
		return arrays
	}
	p := cparse.NewParser()
	defer p.Close()
	decls, err := p.CharArrays(ctx, data)
	if err != nil {
		logging.ScanWarn("%s: ast engine failed, using regex declarations only: %v", file, err)
		return arrays
	}
	for name, d := range decls {
		arrays[name] = d.Size
	}
	return arrays
}

// SplitLines decodes data the way the scanner reads files: invalid UTF-8 is
// dropped, CRLF and lone CR both end a line and a trailing newline does not
// add an empty line.
func SplitLines(data []byte) []string {
	text := strings.ToValidUTF8(string(data), "")
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Matches reports whether name carries one of the scanned extensions.
func (s *Scanner) Matches(name string) bool {
	for _, ext := range s.opts.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ScanPath scans root. A regular file is scanned only if its extension
// matches; a directory is walked recursively and its files scanned
// concurrently. Results follow lexical walk order. Unreadable files are
// logged and skipped.
func (s *Scanner) ScanPath(ctx context.Context, root string) ([]Warning, error) {
	timer := logging.StartTimer(logging.CategoryScan, "ScanPath "+root)
	defer timer.Stop()

	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	if !info.IsDir() {
		if !s.Matches(root) {
			logging.ScanDebug("skipping %s: extension not scanned", root)
			return nil, nil
		}
		warnings, err := s.ScanFile(ctx, root)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logging.ScanWarn("%v", err)
			return nil, nil
		}
		return warnings, nil
	}

	files, err := s.collectFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	logging.Scan("scanning %d files under %s", len(files), root)

	results := make([][]Warning, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			w, err := s.ScanFile(gctx, file)
			if err != nil {
				if errors.Is(err, ErrReadFile) {
					logging.ScanWarn("%v", err)
					return nil
				}
				return err
			}
			results[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Warning
	for _, w := range results {
		all = append(all, w...)
	}
	return all, nil
}

func (s *Scanner) collectFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == root {
				return err
			}
			logging.ScanWarn("walk %s: %v", p, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != root && s.ignored(root, p, d.Name()) {
				logging.ScanDebug("ignoring directory %s", p)
				return filepath.SkipDir
			}
			return nil
		}
		if s.Matches(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Ignored reports whether the directory dir under root is skipped.
func (s *Scanner) Ignored(root, dir string) bool {
	return s.ignored(root, dir, filepath.Base(dir))
}

func (s *Scanner) ignored(root, p, name string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, raw := range s.opts.IgnorePatterns {
		pat := strings.TrimSuffix(filepath.ToSlash(strings.TrimSpace(raw)), "/")
		if pat == "" {
			continue
		}
		if pat == name || pat == rel {
			return true
		}
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if !strings.Contains(pat, "/") {
			if ok, _ := path.Match(pat, name); ok {
				return true
			}
		}
	}
	return false
}
