package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/a-marczewski/aifred/internal/memory"
)

const (
	// SnippetChars is how much of a text file the summarizer sees.
	SnippetChars = 6000
	maxTags      = 12
	defaultScore = 10.0
)

var (
	imageName = regexp.MustCompile(`\.(png|jpg|jpeg|gif|webp|bmp|svg)$`)
	audioName = regexp.MustCompile(`\.(mp3|wav|m4a|flac|ogg|aac)$`)
	videoName = regexp.MustCompile(`\.(mp4|mov|mkv|webm|avi|m4v)$`)
	textName  = regexp.MustCompile(`\.(txt|md|json|csv|log|yaml|yml|xml|html|js|ts|py|java|c|cpp|rb|go|rs)$`)
)

// ErrNotDirectory is returned when a scan root is not a directory.
var ErrNotDirectory = errors.New("scan_folder path must be a directory")

// Vault copies files into a content-addressed directory and builds the index
// entries for them. The index itself is persisted by the caller.
// Deduplicated by SHA-256 of the file content; stored files are never
// modified.
type Vault struct {
	filesDir   string
	summarizer Summarizer
	engine     *memory.Engine
	logger     *zap.Logger
}

// New creates a new Vault storing files under filesDir.
func New(filesDir string, summarizer Summarizer, engine *memory.Engine, logger *zap.Logger) *Vault {
	if summarizer == nil {
		summarizer = BaseSummarizer{}
	}
	if engine == nil {
		engine = memory.NewEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{filesDir: filesDir, summarizer: summarizer, engine: engine, logger: logger}
}

// FilesDir returns the directory holding stored files.
func (v *Vault) FilesDir() string {
	return v.filesDir
}

// Ingest copies each regular file in paths into the vault and returns its
// index entry. Entries already present in existing keep their tags, summary,
// counters and flags. Paths that cannot be read are skipped.
func (v *Vault) Ingest(ctx context.Context, paths []string, existing []memory.VaultItem, source string) ([]memory.VaultItem, error) {
	if err := os.MkdirAll(v.filesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}
	if source == "" {
		source = "desktop"
	}

	byID := make(map[string]memory.VaultItem, len(existing))
	for _, item := range existing {
		byID[item.ID] = item
	}

	now := v.engine.Now()
	var ingested []memory.VaultItem
	for _, candidate := range paths {
		if err := ctx.Err(); err != nil {
			return ingested, err
		}
		sourcePath := strings.TrimSpace(candidate)
		if sourcePath == "" {
			continue
		}
		info, err := os.Stat(sourcePath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		hash, err := HashFile(sourcePath)
		if err != nil {
			v.logger.Warn("failed to hash file", zap.String("path", sourcePath), zap.Error(err))
			continue
		}

		ext := strings.ToLower(filepath.Ext(sourcePath))
		if ext == "" {
			ext = ".bin"
		}
		target := filepath.Join(v.filesDir, hash+ext)
		if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
			if err := copyFile(sourcePath, target); err != nil {
				v.logger.Warn("failed to copy file into vault", zap.String("path", sourcePath), zap.Error(err))
				continue
			}
		}

		item := memory.VaultItem{
			ID:        hash,
			Type:      InferType(filepath.Base(sourcePath), ""),
			Filename:  filepath.Base(sourcePath),
			Source:    source,
			FilePath:  target,
			SizeBytes: info.Size(),
			Score:     defaultScore,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if prev, ok := byID[hash]; ok {
			item.Tags = append([]string(nil), prev.Tags...)
			item.SummaryText = prev.SummaryText
			item.Score = prev.Score
			item.ReferenceCount = prev.ReferenceCount
			item.Pinned = prev.Pinned
			item.Hidden = prev.Hidden
			item.Forget = prev.Forget
			item.UserSignal = prev.UserSignal
			if !prev.CreatedAt.IsZero() {
				item.CreatedAt = prev.CreatedAt
			}
		}

		if item.SummaryText == "" {
			v.summarize(ctx, &item)
		}

		byID[hash] = item
		ingested = append(ingested, item)
	}

	v.logger.Info("vault ingest finished", zap.Int("requested", len(paths)), zap.Int("ingested", len(ingested)))
	return ingested, nil
}

func (v *Vault) summarize(ctx context.Context, item *memory.VaultItem) {
	snippet := ""
	if item.Type == memory.Text {
		snippet = ReadSnippet(item.FilePath, SnippetChars)
	}

	summary, tags, err := v.summarizer.Summarize(ctx, *item, snippet)
	if err != nil {
		v.logger.Warn("summary generation failed", zap.String("id", item.ID), zap.Error(err))
		summary, tags, _ = BaseSummarizer{}.Summarize(ctx, *item, snippet)
	}
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	item.SummaryText = summary
	item.Tags = tags
	item.Score = v.engine.ComputeScore(*item, "general")
}

// ComputeHash calculates SHA-256 hash of content
func ComputeHash(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}

// HashFile returns the hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// ReadSnippet returns up to max characters of the file at path, or "" when it
// cannot be read or is not valid UTF-8 text.
func ReadSnippet(path string, max int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, max*4)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return ""
	}
	data := buf[:n]
	// a multi-byte rune may be cut at the read boundary
	for i := 0; i < utf8.UTFMax-1 && len(data) > 0 && !utf8.Valid(data); i++ {
		data = data[:len(data)-1]
	}
	if !utf8.Valid(data) {
		return ""
	}
	runes := []rune(string(data))
	if len(runes) > max {
		runes = runes[:max]
	}
	return string(runes)
}

// InferType maps a file name and optional MIME type to a vault item type.
func InferType(name, mime string) memory.Type {
	lowerName := strings.ToLower(name)
	lowerMime := strings.ToLower(mime)

	switch {
	case strings.HasPrefix(lowerMime, "image/") || imageName.MatchString(lowerName):
		return memory.Image
	case strings.HasPrefix(lowerMime, "audio/") || audioName.MatchString(lowerName):
		return memory.Audio
	case strings.HasPrefix(lowerMime, "video/") || videoName.MatchString(lowerName):
		return memory.Video
	case strings.HasSuffix(lowerName, ".pdf") || lowerMime == "application/pdf":
		return memory.PDF
	case strings.HasPrefix(lowerMime, "text/") || textName.MatchString(lowerName):
		return memory.Text
	default:
		return memory.Other
	}
}

// NormalizeTypes turns a requested type filter into a set. Unknown names are
// dropped; an empty result allows every type.
func NormalizeTypes(types []string) map[memory.Type]bool {
	allowed := make(map[memory.Type]bool)
	for _, t := range types {
		mt := memory.Type(strings.ToLower(strings.TrimSpace(t)))
		if mt.IsValid() {
			allowed[mt] = true
		}
	}
	if len(allowed) == 0 {
		for _, t := range memory.AllTypes {
			allowed[t] = true
		}
	}
	return allowed
}

// Collect lists the files under root whose inferred type is in types.
func Collect(root string, recursive bool, types []string) ([]string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("scan_folder path is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	allowed := NormalizeTypes(types)
	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if allowed[InferType(d.Name(), "")] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan folder: %w", err)
	}
	return out, nil
}

// Sanitize cleans a loaded index: entries without an id are dropped, later
// duplicates are dropped, and every field is brought into its valid range.
func Sanitize(raw []memory.VaultItem, now time.Time) []memory.VaultItem {
	seen := make(map[string]bool, len(raw))
	clean := make([]memory.VaultItem, 0, len(raw))
	for _, item := range raw {
		item = item.Clone()
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true

		if !item.Type.IsValid() {
			item.Type = memory.Other
		}
		if item.Filename == "" {
			item.Filename = item.ID + ".bin"
		}
		if item.Source == "" {
			item.Source = "desktop"
		}
		tags := make([]string, 0, len(item.Tags))
		for _, tag := range item.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		item.Tags = tags
		if math.IsNaN(item.Score) || math.IsInf(item.Score, 0) {
			item.Score = defaultScore
		}
		if item.ReferenceCount < 0 {
			item.ReferenceCount = 0
		}
		if item.SizeBytes < 0 {
			item.SizeBytes = 0
		}
		if item.UserSignal != memory.SignalLiked && item.UserSignal != memory.SignalDisliked {
			item.UserSignal = memory.SignalNone
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if item.UpdatedAt.IsZero() {
			item.UpdatedAt = now
		}
		clean = append(clean, item)
	}
	return clean
}

// Merge folds items into index by id, newer fields winning, and returns the
// index ordered newest first.
func Merge(index, items []memory.VaultItem, now time.Time) []memory.VaultItem {
	byID := make(map[string]memory.VaultItem, len(index)+len(items))
	order := make([]string, 0, len(index)+len(items))
	for _, item := range index {
		if _, ok := byID[item.ID]; !ok {
			order = append(order, item.ID)
		}
		byID[item.ID] = item
	}
	for _, item := range items {
		if _, ok := byID[item.ID]; !ok {
			order = append(order, item.ID)
		}
		item = item.Clone()
		item.UpdatedAt = now
		byID[item.ID] = item
	}

	merged := make([]memory.VaultItem, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	merged = Sanitize(merged, now)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

// Replace swaps in updated copies of existing items, matched by id. Items not
// already in index are ignored.
func Replace(index, updated []memory.VaultItem) []memory.VaultItem {
	byID := make(map[string]memory.VaultItem, len(updated))
	for _, item := range updated {
		byID[item.ID] = item
	}
	out := make([]memory.VaultItem, len(index))
	for i, item := range index {
		if next, ok := byID[item.ID]; ok {
			out[i] = next.Clone()
			continue
		}
		out[i] = item
	}
	return out
}
