package sync

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/vaultsync/internal/client/vault"
	"github.com/openmined/vaultsync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

const IgnoreFileName = ".vaultsyncignore"

// DefaultExtensions are the file types synced when no list is configured.
var DefaultExtensions = []string{
	"md", "txt", "canvas", "json", "css", "js",
	"pdf", "png", "jpg", "jpeg", "gif", "svg", "webp",
	"mp3", "wav", "mp4", "csv",
}

var defaultIgnoreLines = []string{
	// editors
	"*.tmp",
	"*.swp",
	"*~",
	// OS-specific
	"Thumbs.db",
	"Icon",
}

// Filter decides which vault paths take part in sync: files need an allowed
// extension, nothing below a dot-prefixed segment is synced, and paths
// matching the ignore rules are skipped.
type Filter struct {
	extensions mapset.Set[string]
	ignore     *gitignore.GitIgnore
}

func NewFilter(extensions []string) *Filter {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	exts := mapset.NewSet[string]()
	for _, ext := range extensions {
		exts.Add(strings.ToLower(strings.TrimPrefix(ext, ".")))
	}
	return &Filter{
		extensions: exts,
		ignore:     gitignore.CompileIgnoreLines(defaultIgnoreLines...),
	}
}

// Load adds the rules of the vault's ignore file, if there is one.
func (f *Filter) Load(store vault.LocalStore) {
	lines := append([]string(nil), defaultIgnoreLines...)

	if store.Exists(IgnoreFileName) {
		data, err := store.Read(IgnoreFileName)
		if err != nil {
			slog.Warn("read ignore file", "path", IgnoreFileName, "error", err)
		} else {
			rules := 0
			scanner := bufio.NewScanner(bytes.NewReader(data))
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line != "" && !strings.HasPrefix(line, "#") {
					lines = append(lines, line)
					rules++
				}
			}
			slog.Info("loaded ignore file", "path", IgnoreFileName, "rules", rules)
		}
	}

	f.ignore = gitignore.CompileIgnoreLines(lines...)
}

func (f *Filter) TrackFolder(path string) bool {
	path = utils.NormPath(path)
	return path != "" && !vault.IsHidden(path) && !f.ignore.MatchesPath(path+"/")
}

func (f *Filter) TrackFile(path string) bool {
	path = utils.NormPath(path)
	if path == "" || vault.IsHidden(path) {
		return false
	}
	if !f.extensions.Contains(utils.Extension(path)) {
		return false
	}
	return !f.ignore.MatchesPath(path)
}

// Extensions returns the allowed extensions.
func (f *Filter) Extensions() []string {
	return f.extensions.ToSlice()
}
