package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/bereel/internal/errors"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0600))
	return p
}

func TestFindExportFolder(t *testing.T) {
	t.Run("first matching subdirectory", func(t *testing.T) {
		input := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(input, "aaa-unrelated"), 0755))
		writeFile(t, input, "zzz/posts.json", "[]")
		writeFile(t, input, "bbb/memories.json", "[]")

		got, err := FindExportFolder(input)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(input, "bbb"), got)
	})

	t.Run("input is the export", func(t *testing.T) {
		input := t.TempDir()
		writeFile(t, input, "posts.json", "[]")

		got, err := FindExportFolder(input)
		require.NoError(t, err)
		require.Equal(t, input, got)
	})

	t.Run("nothing found", func(t *testing.T) {
		_, err := FindExportFolder(t.TempDir())
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})

	t.Run("input missing", func(t *testing.T) {
		_, err := FindExportFolder(filepath.Join(t.TempDir(), "nope"))
		require.True(t, errors.Is(err, errors.ErrNotFound))
	})
}

func TestLoader_Collections(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "Photos/u/bereal/front1.webp", "f1")
	writeFile(t, root, "Photos/u/bereal/back1.webp", "b1")
	writeFile(t, root, "Photos/u/post/primary1.webp", "p1")
	writeFile(t, root, "Photos/u/post/secondary1.webp", "s1")
	writeFile(t, root, "Photos/u/realmoji/r1.webp", "r1")

	writeFile(t, root, MemoriesFile, `[
		{"frontImage":{"path":"/Photos/u/bereal/front1.webp","width":1500,"height":2000},
		 "backImage":{"path":"/Photos/u/bereal/back1.webp","width":1500,"height":2000},
		 "takenTime":"2024-12-24T01:27:16.726Z","berealMoment":"2024-12-24T01:20:00.000Z",
		 "location":{"latitude":40.7128,"longitude":-74.0060}},
		{"frontImage":{"path":"/Photos/u/bereal/front1.webp"}},
		{"frontImage":{"path":"/Photos/u/bereal/gone-f.webp"},"backImage":{"path":"/Photos/u/bereal/gone-b.webp"},"takenTime":1703381236}
	]`)
	writeFile(t, root, PostsFile, `[
		{"primary":{"path":"Photos/u/post/primary1.webp"},"secondary":{"path":"Photos/u/post/secondary1.webp"},
		 "takenAt":"2024-01-02T03:04:05Z","caption":"hi","location":{"latitude":0,"longitude":0}}
	]`)
	writeFile(t, root, RealmojisFile, `[{"media":{"path":"/Photos/u/realmoji/r1.webp"},"postedAt":"2024-02-02T10:00:00.000Z","emoji":"😍"}]`)

	exp, err := NewLoader(root, nil, nil).Load(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, exp.Memories, 2)
	m := exp.Memories[0]
	assert.Equal(t, KindMemory, m.Kind)
	assert.Equal(t, "back1.webp", m.ID)
	assert.Equal(t, "2024-12-24T01:27:16.726Z", m.TakenRaw)
	assert.Equal(t, "2024-12-24T01:20:00.000Z", m.MomentRaw)
	require.NotNil(t, m.Location)
	assert.InDelta(t, 40.7128, m.Location.Latitude, 1e-9)
	assert.Equal(t, filepath.Join(root, "Photos/u/bereal/front1.webp"), m.Front.Path)
	assert.Equal(t, 1500, m.Back.Width)
	assert.True(t, m.Labeled())

	// numeric timestamps survive as strings; missing files keep their reference
	gone := exp.Memories[1]
	assert.Equal(t, 2, gone.Index)
	assert.Equal(t, "1703381236", gone.TakenRaw)
	assert.Empty(t, gone.Back.Path)
	assert.Equal(t, "/Photos/u/bereal/gone-b.webp", gone.Back.Ref)

	require.Len(t, exp.Posts, 1)
	p := exp.Posts[0]
	assert.Equal(t, "primary1.webp", p.Back.Name())
	assert.Equal(t, "secondary1.webp", p.Front.Name())
	assert.Nil(t, p.Location, "0,0 is treated as no fix")
	assert.Equal(t, "hi", p.Caption)

	require.Len(t, exp.Realmojis, 1)
	assert.Equal(t, "😍", exp.Realmojis[0].Emoji)
	assert.Equal(t, p.Back, exp.Posts[0].Primary())

	require.Len(t, exp.Problems, 1)
	assert.Equal(t, KindMemory, exp.Problems[0].Kind)
	assert.Equal(t, 1, exp.Problems[0].Index)
	assert.True(t, errors.Is(exp.Problems[0].Err, errors.ErrParse))

	assert.Len(t, exp.Records(), 4)
}

func TestLoader_DisabledAndBrokenFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, MemoriesFile, `{not json`)
	writeFile(t, root, PostsFile, `[]`)

	enabled := func(k Kind) bool { return k != KindPost }
	exp, err := NewLoader(root, nil, nil).Load(context.Background(), enabled)
	require.NoError(t, err)

	require.Empty(t, exp.Memories)
	require.Len(t, exp.Problems, 1)
	require.Equal(t, wholeFileProblem, exp.Problems[0].Index)
	require.Empty(t, exp.Conversations)
}

type fakeInfo map[string]CaptureInfo

func (f fakeInfo) ReadCaptureInfo(path string) (CaptureInfo, error) {
	if info, ok := f[filepath.Base(path)]; ok {
		return info, nil
	}
	return CaptureInfo{}, errors.NewNotFound(path)
}

func TestLoader_Conversations(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, PostsFile, `[]`)
	writeFile(t, root, "conversations/conv-1/chat_log.json", `{"conversationId":"conv-1","messages":[
		{"id":"7","userId":"user-abcdef123","createdAt":"2024-05-01T12:00:00.000Z"},
		{"id":9,"userId":"user-2","createdAt":"2024-05-02T12:00:00.000Z"}
	]}`)
	writeFile(t, root, "conversations/conv-1/7-bbb.webp", "b")
	writeFile(t, root, "conversations/conv-1/7-aaa.webp", "a")
	writeFile(t, root, "conversations/conv-1/9-zzz.webp", "z")
	writeFile(t, root, "conversations/conv-1/12-exif.webp", "e")
	lone := writeFile(t, root, "conversations/conv-1/13-lone.webp", "l")
	writeFile(t, root, "conversations/conv-1/notes.txt", "ignored")

	mtime := time.Date(2023, 3, 4, 5, 6, 7, 0, time.UTC)
	require.NoError(t, os.Chtimes(lone, mtime, mtime))

	// bare array chat log
	writeFile(t, root, "conversations/conv-2/chat_log.json", `[{"id":"1","createdAt":"2024-06-01T00:00:00Z"}]`)
	writeFile(t, root, "conversations/conv-2/1-x.webp", "x")

	exifTime := time.Date(2022, 1, 1, 8, 0, 0, 0, time.UTC)
	info := fakeInfo{"12-exif.webp": {Time: exifTime, Location: &Location{Latitude: 48.85, Longitude: 2.35}}}

	exp, err := NewLoader(root, info, nil).Load(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, exp.Problems)

	byID := map[string]Record{}
	for _, r := range exp.Conversations {
		byID[r.ID] = r
	}
	require.Len(t, byID, 5)

	pair := byID["conv-1/7"]
	require.Len(t, pair.Images, 2)
	assert.Equal(t, "7-aaa.webp", pair.Images[0].Ref)
	assert.Equal(t, "7-bbb.webp", pair.Images[1].Ref)
	assert.Equal(t, "user-abcdef123", pair.UserID)
	assert.Equal(t, "2024-05-01T12:00:00.000Z", pair.TakenRaw)
	assert.Equal(t, TimeFromExport, pair.TimeSource)
	assert.False(t, pair.Labeled())

	assert.Equal(t, "2024-05-02T12:00:00.000Z", byID["conv-1/9"].TakenRaw, "numeric ids match")

	fromExif := byID["conv-1/12"]
	assert.Equal(t, TimeFromExif, fromExif.TimeSource)
	assert.Equal(t, "2022-01-01T08:00:00Z", fromExif.TakenRaw)
	require.NotNil(t, fromExif.Location)

	fromMtime := byID["conv-1/13"]
	assert.Equal(t, TimeFromModTime, fromMtime.TimeSource)
	assert.Equal(t, "2023-03-04T05:06:07Z", fromMtime.TakenRaw)

	assert.Equal(t, "2024-06-01T00:00:00Z", byID["conv-2/1"].TakenRaw)
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "7", groupKey("7-gchAVq_kc0wAbj_tMMC3D.webp"))
	assert.Equal(t, "photo", groupKey("photo.webp"))
	assert.Equal(t, "-lead", groupKey("-lead.webp"))
}
