// Package filter decides which paths under a sync root take part in
// snapshots, archives and transfers. The same Filter renders itself as
// rsync, tar and find arguments so the VM side applies identical rules.
package filter

import (
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/orchnova/vmsync/internal/config"
	gitignore "github.com/sabhiram/go-gitignore"
)

// BackupDir is where rsync moves overwritten files on the destination. It is
// always excluded so old copies never show up as differences.
const BackupDir = ".vmsync-backups"

type Filter struct {
	excludeDirs  []string
	excludeFiles []string
	include      string
	sourceExts   []string
	ignore       *gitignore.GitIgnore
}

func New(cfg config.FilterConfig) *Filter {
	excludeDirs := slices.Clone(cfg.ExcludeDirs)
	if !slices.Contains(excludeDirs, BackupDir) {
		excludeDirs = append(excludeDirs, BackupDir)
	}
	f := &Filter{
		excludeDirs:  excludeDirs,
		excludeFiles: slices.Clone(cfg.ExcludeFiles),
		sourceExts:   slices.Clone(cfg.SourceExtensions),
		include:      includePattern(cfg.IncludeExtensions),
	}

	lines := make([]string, 0, len(f.excludeDirs)+len(f.excludeFiles))
	for _, dir := range f.excludeDirs {
		lines = append(lines, dir+"/")
	}
	lines = append(lines, f.excludeFiles...)
	f.ignore = gitignore.CompileIgnoreLines(lines...)

	return f
}

// globMeta escapes the characters doublestar treats specially, so an
// extension is matched literally inside the alternation.
var globMeta = strings.NewReplacer(
	`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`, `,`, `\,`,
)

// includePattern turns [".py", ".sh"] into "**/*{.py,.sh}".
func includePattern(exts []string) string {
	if len(exts) == 0 {
		return ""
	}
	escaped := make([]string, len(exts))
	for i, ext := range exts {
		escaped[i] = globMeta.Replace(ext)
	}
	return "**/*{" + strings.Join(escaped, ",") + "}"
}

// SkipDir reports whether a directory, given relative to the root, is pruned.
func (f *Filter) SkipDir(rel string) bool {
	return slices.Contains(f.excludeDirs, path.Base(rel))
}

// Excluded reports whether rel is removed from every snapshot, archive and
// transfer, either by sitting under an excluded directory or by matching a
// sensitive file pattern.
func (f *Filter) Excluded(rel string) bool {
	dir := path.Dir(rel)
	for dir != "." && dir != "/" && dir != "" {
		if f.SkipDir(dir) {
			return true
		}
		dir = path.Dir(dir)
	}
	return f.ignore.MatchesPath(rel)
}

// Included reports whether rel belongs in a snapshot.
func (f *Filter) Included(rel string) bool {
	if f.include == "" || f.Excluded(rel) {
		return false
	}
	ok, _ := doublestar.Match(f.include, rel)
	return ok
}

// IsSource reports whether rel counts toward a side's newest timestamp.
func (f *Filter) IsSource(rel string) bool {
	return slices.Contains(f.sourceExts, path.Ext(rel))
}

// RsyncExcludes renders the exclude rules as rsync flags.
func (f *Filter) RsyncExcludes() []string {
	args := make([]string, 0, len(f.excludeDirs)+len(f.excludeFiles))
	for _, dir := range f.excludeDirs {
		args = append(args, "--exclude="+dir+"/")
	}
	for _, file := range f.excludeFiles {
		args = append(args, "--exclude="+file)
	}
	return args
}

// TarExcludes renders the exclude rules as GNU tar flags.
func (f *Filter) TarExcludes() []string {
	args := make([]string, 0, len(f.excludeDirs)+len(f.excludeFiles))
	for _, dir := range f.excludeDirs {
		args = append(args, "--exclude="+dir)
	}
	for _, file := range f.excludeFiles {
		args = append(args, "--exclude="+file)
	}
	return args
}

// FindPrune renders the excluded directories as a find(1) prune clause.
// BackupDir is always among them. quote is applied to every name.
func (f *Filter) FindPrune(quote func(string) string) string {
	names := make([]string, len(f.excludeDirs))
	for i, dir := range f.excludeDirs {
		names[i] = "-name " + quote(dir)
	}
	return `\( ` + strings.Join(names, " -o ") + ` \) -prune -o`
}
