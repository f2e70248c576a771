package pipeline

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/camera"
	"github.com/hpungsan/bereel/internal/composite"
	"github.com/hpungsan/bereel/internal/config"
	"github.com/hpungsan/bereel/internal/errors"
	"github.com/hpungsan/bereel/internal/export"
	"github.com/hpungsan/bereel/internal/logging"
	"github.com/hpungsan/bereel/internal/metadata"
	"github.com/hpungsan/bereel/internal/timezone"
)

// Output subdirectories.
const (
	PostsDir         = "posts"
	RealmojisDir     = "realmojis"
	ConversationsDir = "conversations"
)

// StampLayout formats the local capture time in file names.
const StampLayout = "2006-01-02_15-04-05"

// Role is the part an artifact plays for its capture.
type Role string

const (
	RoleMain      Role = "main-view"
	RoleSelfie    Role = "selfie-view"
	RoleComposite Role = "composited"
	RoleSingle    Role = ""
)

// Shape says which artifacts an item produces.
type Shape string

const (
	// ShapeLabeled is a post or memory whose cameras the export names
	ShapeLabeled Shape = "labeled"
	// ShapePair is a two-image conversation message whose cameras are unknown
	ShapePair Shape = "pair"
	// ShapeSingle is a realmoji or a one-image conversation message
	ShapeSingle Shape = "single"
	// ShapeGroup is a conversation message with more than two images
	ShapeGroup Shape = "group"
)

// Artifact is one output file.
type Artifact struct {
	Role Role   `json:"role,omitempty"`
	Path string `json:"path"`

	// Source is the copied image, empty for composites
	Source string `json:"source,omitempty"`
}

// Item is one planned capture with deterministic output paths.
type Item struct {
	Record     export.Record
	Resolution timezone.Resolution
	Shape      Shape

	// Dir is the output directory, Stem the file name prefix within it
	Dir  string
	Stem string

	// Sources are the source images; for ShapeLabeled [main, selfie]
	Sources []string

	exts []string

	// reserve marks a neighbor or out-of-span record that only holds its name
	reserve bool
}

// Meta is the metadata written into every artifact of the item.
func (it *Item) Meta() metadata.Record {
	return metadata.Record{Time: it.Resolution.Local, Location: it.Record.Location}
}

func (it *Item) viewPath(role Role, source int) string {
	return filepath.Join(it.Dir, it.Stem+"_"+string(role)+it.exts[source])
}

// Artifacts returns the artifacts of the item with main and selfie as
// indexes into Sources. They are ignored for single and group shapes.
func (it *Item) Artifacts(main, selfie int) []Artifact {
	switch it.Shape {
	case ShapeSingle:
		return []Artifact{{Path: filepath.Join(it.Dir, it.Stem+it.exts[0]), Source: it.Sources[0]}}
	case ShapeGroup:
		out := make([]Artifact, len(it.Sources))
		for i, src := range it.Sources {
			out[i] = Artifact{Path: filepath.Join(it.Dir, fmt.Sprintf("%s_%d%s", it.Stem, i+1, it.exts[i])), Source: src}
		}
		return out
	}
	return []Artifact{
		{Role: RoleMain, Path: it.viewPath(RoleMain, main), Source: it.Sources[main]},
		{Role: RoleSelfie, Path: it.viewPath(RoleSelfie, selfie), Source: it.Sources[selfie]},
		{Role: RoleComposite, Path: filepath.Join(it.Dir, it.Stem+"_"+string(RoleComposite)+composite.Ext)},
	}
}

// Preview returns the artifacts the item would produce without prompting.
// Unlabelled pairs use the heuristic; the decision is nil for single and
// group shapes.
func (it *Item) Preview() ([]Artifact, *camera.Decision) {
	switch it.Shape {
	case ShapeLabeled:
		d := camera.Labeled()
		return it.Artifacts(0, 1), &d
	case ShapePair:
		_, d := camera.Guess(camera.Pair{
			First:  camera.Measure(candidate(it, 0)),
			Second: camera.Measure(candidate(it, 1)),
		})
		if d.Choice == camera.ChoiceFirst {
			return it.Artifacts(1, 0), &d
		}
		return it.Artifacts(0, 1), &d
	}
	return it.Artifacts(0, 1), nil
}

// Targets lists, per artifact, every path that would satisfy it. Only the
// views of an unresolved pair with differently typed images have two.
func (it *Item) Targets() [][]string {
	if it.Shape != ShapePair || it.exts[0] == it.exts[1] {
		arts := it.Artifacts(0, 1)
		out := make([][]string, len(arts))
		for i, a := range arts {
			out[i] = []string{a.Path}
		}
		return out
	}
	return [][]string{
		{it.viewPath(RoleMain, 0), it.viewPath(RoleMain, 1)},
		{it.viewPath(RoleSelfie, 0), it.viewPath(RoleSelfie, 1)},
		{filepath.Join(it.Dir, it.Stem+"_"+string(RoleComposite)+composite.Ext)},
	}
}

// Failure is a record that could not be planned.
type Failure struct {
	Kind   export.Kind `json:"kind"`
	Record string      `json:"record"`
	Stage  string      `json:"stage"`
	Err    error       `json:"-"`
}

// Plan is the single-threaded outcome of planning: every surviving record
// with its paths, in input order.
type Plan struct {
	OutDir   string
	Items    []Item
	Failures []Failure

	// OutsideSpan counts records excluded by the time span
	OutsideSpan int
}

// Planner turns deduplicated records into a Plan.
type Planner struct {
	OutDir   string
	Resolver *timezone.Resolver
	Span     config.Span
	Logger   *zap.Logger

	// Neighbors are records of disabled collections sharing an output
	// directory with enabled ones. They take part in collision naming only.
	Neighbors []export.Record
}

// Plan resolves every record's zone, applies the span, and assigns paths.
// Records in one directory whose stems collide all get a "_<key8>" suffix,
// and equal suffixes are numbered in DedupKey order. Collisions are found
// before the span applies and with Neighbors included, so a record's name
// does not depend on the filters of the run.
func (p *Planner) Plan(records []export.Record) *Plan {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	plan := &Plan{OutDir: p.OutDir}

	var all []Item
	for _, rec := range records {
		res, err := p.Resolver.Resolve(rec.TakenRaw, rec.MomentRaw, rec.Location)
		if err != nil {
			plan.fail(logger, rec, "timezone", err)
			continue
		}
		inSpan := p.Span.Contains(res.UTC)
		if !inSpan {
			plan.OutsideSpan++
		}

		it, err := p.item(rec, res)
		if err != nil {
			if inSpan {
				plan.fail(logger, rec, "plan", err)
			}
			continue
		}
		it.reserve = !inSpan
		all = append(all, it)
	}
	for _, rec := range p.Neighbors {
		res, err := p.Resolver.Resolve(rec.TakenRaw, rec.MomentRaw, rec.Location)
		if err != nil {
			continue
		}
		if it, err := p.item(rec, res); err == nil {
			it.reserve = true
			all = append(all, it)
		}
	}

	disambiguate(all)

	for _, it := range all {
		if !it.reserve {
			plan.Items = append(plan.Items, it)
		}
	}
	return plan
}

func (plan *Plan) fail(logger *zap.Logger, rec export.Record, stage string, err error) {
	plan.Failures = append(plan.Failures, Failure{Kind: rec.Kind, Record: rec.ID, Stage: stage, Err: err})
	logger.Warn("record skipped", append(logging.Record(string(rec.Kind), rec.ID, stage), zap.Error(err))...)
}

func (p *Planner) item(rec export.Record, res timezone.Resolution) (Item, error) {
	it := Item{
		Record:     rec,
		Resolution: res,
		Stem:       res.Local.Format(StampLayout),
	}

	switch rec.Kind {
	case export.KindPost, export.KindMemory:
		it.Dir = filepath.Join(p.OutDir, PostsDir)
		it.Shape = ShapeLabeled
		for _, img := range []*export.Image{rec.Back, rec.Front} {
			if img == nil || img.Path == "" {
				return Item{}, errors.NewNotFound(missingRef(img))
			}
			it.Sources = append(it.Sources, img.Path)
		}

	case export.KindRealmoji:
		it.Dir = filepath.Join(p.OutDir, RealmojisDir)
		it.Shape = ShapeSingle
		if rec.Media == nil || rec.Media.Path == "" {
			return Item{}, errors.NewNotFound(missingRef(rec.Media))
		}
		it.Sources = []string{rec.Media.Path}

	case export.KindConversation:
		it.Dir = filepath.Join(p.OutDir, ConversationsDir, conversationDir(rec.ConversationID))
		for _, img := range rec.Images {
			if img.Path != "" {
				it.Sources = append(it.Sources, img.Path)
			}
		}
		switch len(it.Sources) {
		case 0:
			return Item{}, errors.NewNotFound("conversation images of " + rec.ID)
		case 1:
			it.Shape = ShapeSingle
		case 2:
			it.Shape = ShapePair
		default:
			it.Shape = ShapeGroup
		}

	default:
		return Item{}, errors.NewInvalidRequest(fmt.Sprintf("unknown kind %q", rec.Kind))
	}

	it.exts = make([]string, len(it.Sources))
	for i, src := range it.Sources {
		it.exts[i] = extensionOf(src)
	}
	return it, nil
}

func missingRef(img *export.Image) string {
	if img == nil || img.Ref == "" {
		return "image reference"
	}
	return img.Ref
}

// conversationDir makes an export conversation id safe as a directory name.
func conversationDir(id string) string {
	s := export.SanitizeForFilename(id)
	if s == "." {
		return "unnamed"
	}
	return s
}

// extensionOf picks the output extension from the file's content, falling
// back to its own extension.
func extensionOf(path string) string {
	if mt, err := mimetype.DetectFile(path); err == nil {
		switch {
		case mt.Is("image/jpeg"):
			return ".jpg"
		case mt.Is("image/webp"):
			return ".webp"
		case mt.Is("image/png"):
			return ".png"
		}
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return ".bin"
	}
	return ext
}

// disambiguate suffixes colliding stems. Depends only on the item set.
func disambiguate(items []Item) {
	groups := make(map[string][]int)
	for i := range items {
		k := filepath.Join(items[i].Dir, items[i].Stem)
		groups[k] = append(groups[k], i)
	}

	for _, idx := range groups {
		if len(idx) < 2 {
			continue
		}
		sort.Slice(idx, func(a, b int) bool {
			ra, rb := items[idx[a]].Record, items[idx[b]].Record
			if ra.DedupKey != rb.DedupKey {
				return ra.DedupKey < rb.DedupKey
			}
			return ra.ID < rb.ID
		})

		seen := make(map[string]int)
		for _, i := range idx {
			suffix := key8(items[i].Record.DedupKey)
			seen[suffix]++
			if n := seen[suffix]; n > 1 {
				suffix = fmt.Sprintf("%s-%d", suffix, n)
			}
			items[i].Stem += "_" + suffix
		}
	}
}

// key8 is the first eight alphanumeric characters of a dedup key.
func key8(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimPrefix(key, "name:") {
		if b.Len() == 8 {
			break
		}
		if ('0' <= r && r <= '9') || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "nokey"
	}
	return b.String()
}
