package export

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
)

// Export folder file names.
const (
	MemoriesFile     = "memories.json"
	PostsFile        = "posts.json"
	RealmojisFile    = "realmojis.json"
	ConversationsDir = "conversations"
	ChatLogFile      = "chat_log.json"
)

// wholeFileProblem is the Problem.Index of a file that failed as a whole.
const wholeFileProblem = -1

// FindExportFolder returns the export folder below input: the input itself if
// it holds memories.json or posts.json, else the first such subdirectory in
// name order.
func FindExportFolder(input string) (string, error) {
	info, err := os.Stat(input)
	if err != nil || !info.IsDir() {
		return "", errors.NewNotFound(input)
	}
	if isExportFolder(input) {
		return input, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("read %s: %w", input, err))
	}
	// os.ReadDir sorts by name
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(input, e.Name())
		if isExportFolder(dir) {
			return dir, nil
		}
	}
	return "", errors.NewNotFound(fmt.Sprintf("BeReal export folder (with %s or %s) in %s", MemoriesFile, PostsFile, input))
}

func isExportFolder(dir string) bool {
	for _, name := range []string{MemoriesFile, PostsFile} {
		if info, err := os.Stat(filepath.Join(dir, name)); err == nil && info.Mode().IsRegular() {
			return true
		}
	}
	return false
}

// Loader decodes an export folder into records.
type Loader struct {
	// Root is the export folder
	Root string

	// Info reads EXIF capture details of conversation images, optional
	Info InfoReader

	Logger *zap.Logger
}

// NewLoader creates a loader for the export folder at root.
func NewLoader(root string, info InfoReader, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{Root: root, Info: info, Logger: logger}
}

// Load decodes every enabled collection. Undecodable records are reported in
// Export.Problems; a missing collection file is not an error.
func (l *Loader) Load(ctx context.Context, enabled func(Kind) bool) (*Export, error) {
	if enabled == nil {
		enabled = func(Kind) bool { return true }
	}
	exp := &Export{Root: l.Root}

	if enabled(KindMemory) {
		exp.Memories = l.loadCollection(KindMemory, MemoriesFile, decodeMemory, exp)
	}
	if enabled(KindPost) {
		exp.Posts = l.loadCollection(KindPost, PostsFile, decodePost, exp)
	}
	if enabled(KindRealmoji) {
		exp.Realmojis = l.loadCollection(KindRealmoji, RealmojisFile, decodeRealmoji, exp)
	}
	if enabled(KindConversation) {
		recs, err := l.loadConversations(ctx, exp)
		if err != nil {
			return nil, err
		}
		exp.Conversations = recs
	}

	return exp, nil
}

type decodeFunc func(root string, raw json.RawMessage) (Record, error)

func (l *Loader) loadCollection(kind Kind, file string, decode decodeFunc, exp *Export) []Record {
	path := filepath.Join(l.Root, file)
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			l.Logger.Info("collection file not found, skipping", zap.String("kind", string(kind)), zap.String("file", file))
		} else {
			exp.Problems = append(exp.Problems, Problem{Kind: kind, Source: file, Index: wholeFileProblem, Err: errors.NewInternal(err)})
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		exp.Problems = append(exp.Problems, Problem{Kind: kind, Source: file, Index: wholeFileProblem, Err: errors.NewParse(file, err)})
		return nil
	}

	records := make([]Record, 0, len(items))
	for i, raw := range items {
		rec, err := decode(l.Root, raw)
		if err != nil {
			exp.Problems = append(exp.Problems, Problem{Kind: kind, Source: file, Index: i, Err: err})
			continue
		}
		rec.Kind = kind
		rec.Index = i
		rec.TimeSource = TimeFromExport
		records = append(records, rec)
	}

	l.Logger.Debug("collection loaded",
		zap.String("kind", string(kind)),
		zap.Int("records", len(records)),
		zap.Int("entries", len(items)))
	return records
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type imageJSON struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type memoryJSON struct {
	FrontImage   *imageJSON `json:"frontImage"`
	BackImage    *imageJSON `json:"backImage"`
	TakenTime    flexString `json:"takenTime"`
	BerealMoment flexString `json:"berealMoment"`
	Location     *Location  `json:"location"`
}

type postJSON struct {
	Primary   *imageJSON `json:"primary"`
	Secondary *imageJSON `json:"secondary"`
	TakenAt   flexString `json:"takenAt"`
	Location  *Location  `json:"location"`
	Caption   string     `json:"caption"`
}

type realmojiJSON struct {
	Media    *imageJSON `json:"media"`
	PostedAt flexString `json:"postedAt"`
	Emoji    string     `json:"emoji"`
}

func decodeMemory(root string, raw json.RawMessage) (Record, error) {
	var m memoryJSON
	if err := json.Unmarshal(raw, &m); err != nil {
		return Record{}, errors.NewParse(snippet(raw), err)
	}
	if m.FrontImage == nil || m.BackImage == nil {
		return Record{}, errors.NewParse(snippet(raw), fmt.Errorf("memory needs frontImage and backImage"))
	}
	back := resolve(root, m.BackImage)
	return Record{
		ID:        back.Name(),
		TakenRaw:  string(m.TakenTime),
		MomentRaw: string(m.BerealMoment),
		Location:  validLocation(m.Location),
		Front:     resolve(root, m.FrontImage),
		Back:      back,
	}, nil
}

func decodePost(root string, raw json.RawMessage) (Record, error) {
	var p postJSON
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, errors.NewParse(snippet(raw), err)
	}
	if p.Primary == nil || p.Secondary == nil {
		return Record{}, errors.NewParse(snippet(raw), fmt.Errorf("post needs primary and secondary"))
	}
	// primary is the back camera, secondary the selfie
	back := resolve(root, p.Primary)
	return Record{
		ID:       back.Name(),
		TakenRaw: string(p.TakenAt),
		Location: validLocation(p.Location),
		Front:    resolve(root, p.Secondary),
		Back:     back,
		Caption:  p.Caption,
	}, nil
}

func decodeRealmoji(root string, raw json.RawMessage) (Record, error) {
	var r realmojiJSON
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, errors.NewParse(snippet(raw), err)
	}
	if r.Media == nil {
		return Record{}, errors.NewParse(snippet(raw), fmt.Errorf("realmoji needs media"))
	}
	media := resolve(root, r.Media)
	return Record{
		ID:       media.Name(),
		TakenRaw: string(r.PostedAt),
		Media:    media,
		Emoji:    r.Emoji,
	}, nil
}

// resolve keeps the JSON reference even when the file is missing; the
// artifact then fails on its own without sinking the rest of the record.
func resolve(root string, img *imageJSON) *Image {
	out := &Image{Ref: img.Path, Width: img.Width, Height: img.Height}
	if p, err := ResolveImage(root, img.Path); err == nil {
		out.Path = p
	}
	return out
}

func validLocation(l *Location) *Location {
	if !l.Valid() {
		return nil
	}
	return l
}

// sortedKeys returns map keys in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// snippet shortens a raw JSON record for error messages.
func snippet(raw json.RawMessage) string {
	const limit = 120
	s := string(bytes.TrimSpace(raw))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func hasImageExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".webp", ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
