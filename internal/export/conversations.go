package export

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/bereel/internal/errors"
)

// CaptureInfo is what an image file says about its own capture.
type CaptureInfo struct {
	// Time is the EXIF capture time, zero when absent
	Time time.Time

	// Location is the EXIF GPS fix, nil when absent
	Location *Location
}

// InfoReader reads embedded capture details from an image file.
type InfoReader interface {
	ReadCaptureInfo(path string) (CaptureInfo, error)
}

type chatMessage struct {
	ID        flexString `json:"id"`
	UserID    string     `json:"userId"`
	CreatedAt flexString `json:"createdAt"`
}

type chatLog struct {
	ConversationID string        `json:"conversationId"`
	Messages       []chatMessage `json:"messages"`
}

// loadConversations scans conversations/<id>/ folders. Images named
// "<messageId>-<random>.<ext>" are grouped per message; each group becomes one
// record timed by the chat log, else the image EXIF, else the file mtime.
func (l *Loader) loadConversations(ctx context.Context, exp *Export) ([]Record, error) {
	dir := filepath.Join(l.Root, ConversationsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			l.Logger.Info("no conversations folder found")
			return nil, nil
		}
		exp.Problems = append(exp.Problems, Problem{Kind: KindConversation, Source: ConversationsDir, Index: wholeFileProblem, Err: errors.NewInternal(err)})
		return nil, nil
	}

	var records []Record
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() {
			continue
		}
		recs, err := l.loadConversation(e.Name(), exp)
		if err != nil {
			exp.Problems = append(exp.Problems, Problem{Kind: KindConversation, Source: e.Name(), Index: wholeFileProblem, Err: err})
			continue
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (l *Loader) loadConversation(id string, exp *Export) ([]Record, error) {
	folder := filepath.Join(l.Root, ConversationsDir, id)

	messages, err := readChatLog(filepath.Join(folder, ChatLogFile))
	if err != nil {
		// Unreadable chat log: fall back to EXIF and mtime for every group.
		exp.Problems = append(exp.Problems, Problem{Kind: KindConversation, Source: filepath.Join(id, ChatLogFile), Index: wholeFileProblem, Err: err})
		messages = nil
	}

	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("read %s: %w", folder, err))
	}

	groups := make(map[string][]Image)
	for _, e := range entries {
		if !e.Type().IsRegular() || !hasImageExt(e.Name()) {
			continue
		}
		key := groupKey(e.Name())
		groups[key] = append(groups[key], Image{Ref: e.Name(), Path: filepath.Join(folder, e.Name())})
	}

	records := make([]Record, 0, len(groups))
	for i, key := range sortedKeys(groups) {
		images := groups[key]
		sort.Slice(images, func(a, b int) bool { return images[a].Ref < images[b].Ref })

		rec := Record{
			Kind:           KindConversation,
			ID:             id + "/" + key,
			Index:          i,
			Images:         images,
			ConversationID: id,
			MessageID:      key,
		}
		if msg, ok := messages[key]; ok {
			rec.UserID = msg.UserID
			rec.TakenRaw = string(msg.CreatedAt)
		}
		l.timeConversation(&rec)
		records = append(records, rec)
	}

	l.Logger.Debug("conversation loaded",
		zap.String("conversation", id),
		zap.Int("groups", len(records)),
		zap.Int("chat_log_entries", len(messages)))
	return records, nil
}

// timeConversation fills TakenRaw, TimeSource and Location for a conversation record.
func (l *Loader) timeConversation(rec *Record) {
	first := rec.Images[0].Path

	var info CaptureInfo
	if l.Info != nil {
		var err error
		info, err = l.Info.ReadCaptureInfo(first)
		if err != nil {
			l.Logger.Debug("no EXIF capture info", zap.String("record", rec.ID), zap.Error(err))
		}
	}
	rec.Location = validLocation(info.Location)

	switch {
	case rec.TakenRaw != "":
		rec.TimeSource = TimeFromExport
	case !info.Time.IsZero():
		rec.TakenRaw = info.Time.UTC().Format(time.RFC3339Nano)
		rec.TimeSource = TimeFromExif
	default:
		rec.TakenRaw = modTime(first).Format(time.RFC3339Nano)
		rec.TimeSource = TimeFromModTime
	}
}

// readChatLog returns messages by id. A missing chat log yields an empty map.
// Both {"conversationId", "messages": [...]} and a bare message array are accepted.
func readChatLog(path string) (map[string]chatMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return map[string]chatMessage{}, nil
		}
		return nil, errors.NewInternal(err)
	}

	var msgs []chatMessage
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &msgs); err != nil {
			return nil, errors.NewParse(ChatLogFile, err)
		}
	} else {
		var log chatLog
		if err := json.Unmarshal(data, &log); err != nil {
			return nil, errors.NewParse(ChatLogFile, err)
		}
		msgs = log.Messages
	}

	byID := make(map[string]chatMessage, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			byID[string(m.ID)] = m
		}
	}
	return byID, nil
}

// groupKey returns the message id prefix of a conversation image name.
func groupKey(name string) string {
	if i := strings.Index(name, "-"); i > 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Unix(0, 0).UTC()
	}
	return info.ModTime().UTC()
}
