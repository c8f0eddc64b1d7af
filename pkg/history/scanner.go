// Package history finds the most recent tagged blocks in the chat transcript.
//
// Floors are scanned from newest to oldest over a bounded window; the first
// structurally valid block wins. Malformed blocks left by earlier bad AI turns
// are skipped, never fatal.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
	"github.com/jwebster45206/tavern-phone/pkg/tagblock"
)

const (
	ModuleTag = "phone_module"
	ChatTag   = "chat_history"
)

// ErrNoFloors is returned when the transcript is empty.
var ErrNoFloors = errors.New("chat has no floors")

// Key identifies a block kind inside floor text.
type Key struct {
	Tag   string
	Attrs []tagblock.Attr
	// Stamped blocks carry a timestamp attribute when written.
	Stamped bool
}

// ModuleKey identifies a module block; character is empty for global modules.
func ModuleKey(kind, character string) Key {
	attrs := []tagblock.Attr{{Key: "type", Value: kind}}
	if character != "" {
		attrs = append(attrs, tagblock.Attr{Key: "character", Value: character})
	}
	return Key{Tag: ModuleTag, Attrs: attrs, Stamped: true}
}

// ChatKey identifies a chat transcript block; chatType is "private" or "group".
func ChatKey(target, chatType string) Key {
	return Key{Tag: ChatTag, Attrs: []tagblock.Attr{
		{Key: "target", Value: target},
		{Key: "type", Value: chatType},
	}}
}

// Encode renders payload as a block for this key.
func (k Key) Encode(payload any, now time.Time) (string, error) {
	attrs := k.Attrs
	if k.Stamped {
		attrs = append(append([]tagblock.Attr(nil), k.Attrs...),
			tagblock.Attr{Key: "timestamp", Value: strconv.FormatInt(now.UnixMilli(), 10)})
	}
	return tagblock.Encode(k.Tag, attrs, payload)
}

func (k Key) String() string {
	s := k.Tag
	for _, a := range k.Attrs {
		s += fmt.Sprintf(" %s=%q", a.Key, a.Value)
	}
	return s
}

// Hit is a decoded block and the floor it came from.
type Hit struct {
	FloorID int
	Match   tagblock.Match
	Node    *yaml.Node

	floorText string
}

// Decode decodes the block payload into out.
func (h *Hit) Decode(out any) error {
	return h.Node.Decode(out)
}

// DepthFunc returns the current history depth; 0 means unlimited.
type DepthFunc func(ctx context.Context) int

// Scanner reads and rewrites tagged blocks in the transcript.
type Scanner struct {
	floors storage.Floors
	depth  DepthFunc
	now    func() time.Time
	logger *slog.Logger
}

// NewScanner creates a scanner. depth is consulted on every scan.
func NewScanner(floors storage.Floors, depth DepthFunc, logger *slog.Logger) *Scanner {
	if depth == nil {
		depth = func(context.Context) int { return 0 }
	}
	return &Scanner{floors: floors, depth: depth, now: time.Now, logger: logger}
}

// Window returns the inclusive floor range to scan.
func (s *Scanner) Window(ctx context.Context) (start, last int, err error) {
	last, err = s.floors.LastFloorID(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read last floor id: %w", err)
	}
	if last < 0 {
		return 0, -1, ErrNoFloors
	}
	return windowStart(last, s.depth(ctx)), last, nil
}

func windowStart(last, depth int) int {
	if depth <= 0 {
		return 0
	}
	return max(0, last-depth+1)
}

func (s *Scanner) window(ctx context.Context) ([]storage.Floor, error) {
	start, last, err := s.Window(ctx)
	if err != nil {
		return nil, err
	}
	floors, err := s.floors.Floors(ctx, start, last)
	if err != nil {
		return nil, fmt.Errorf("failed to read floors %d-%d: %w", start, last, err)
	}
	return floors, nil
}

// latestIn returns the last valid occurrence of key in one floor.
func (s *Scanner) latestIn(f storage.Floor, key Key) (*Hit, bool) {
	matches := tagblock.Find(f.Message, key.Tag, key.Attrs)
	for i := len(matches) - 1; i >= 0; i-- {
		node, err := tagblock.ParseBody(matches[i].Body)
		if err != nil {
			s.logger.Warn("Skipping malformed block", "floor_id", f.ID, "key", key.String(), "error", err)
			continue
		}
		return &Hit{FloorID: f.ID, Match: matches[i], Node: node, floorText: f.Message}, true
	}
	return nil, false
}

// FindLatest returns the most recent valid block for key, or nil if none
// exists in the window. An empty transcript is not an error.
func (s *Scanner) FindLatest(ctx context.Context, key Key) (*Hit, error) {
	floors, err := s.window(ctx)
	if errors.Is(err, ErrNoFloors) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := len(floors) - 1; i >= 0; i-- {
		if hit, ok := s.latestIn(floors[i], key); ok {
			return hit, nil
		}
	}
	return nil, nil
}

// FindLatestFloorID returns the id of the floor holding the most recent block.
func (s *Scanner) FindLatestFloorID(ctx context.Context, key Key) (int, bool, error) {
	hit, err := s.FindLatest(ctx, key)
	if err != nil || hit == nil {
		return 0, false, err
	}
	return hit.FloorID, true, nil
}

// UpdateInPlace rewrites the block for key inside one floor. With a nil
// floorID the floor holding the most recent block is used. Only the block's
// own text is replaced; the rest of the floor body is untouched.
func (s *Scanner) UpdateInPlace(ctx context.Context, key Key, payload any, floorID *int) (bool, error) {
	var hit *Hit
	if floorID == nil {
		h, err := s.FindLatest(ctx, key)
		if err != nil {
			return false, err
		}
		hit = h
	} else {
		floors, err := s.floors.Floors(ctx, *floorID, *floorID)
		if err != nil {
			return false, fmt.Errorf("failed to read floor %d: %w", *floorID, err)
		}
		if len(floors) == 1 {
			hit, _ = s.latestIn(floors[0], key)
		}
	}
	if hit == nil {
		return false, nil
	}

	block, err := key.Encode(payload, s.now())
	if err != nil {
		return false, err
	}
	body := tagblock.Replace(hit.floorText, hit.Match, block)
	if err := s.floors.SetFloor(ctx, hit.FloorID, body); err != nil {
		return false, fmt.Errorf("failed to write floor %d: %w", hit.FloorID, err)
	}
	return true, nil
}

// Latest decodes the most recent block for key into a T. It returns the
// floor id alongside, or nil and -1 when nothing was found.
func Latest[T any](ctx context.Context, s *Scanner, key Key) (*T, int, error) {
	floors, err := s.window(ctx)
	if errors.Is(err, ErrNoFloors) {
		return nil, -1, nil
	}
	if err != nil {
		return nil, -1, err
	}
	for i := len(floors) - 1; i >= 0; i-- {
		hit, ok := s.latestIn(floors[i], key)
		if !ok {
			continue
		}
		var out T
		if err := hit.Decode(&out); err != nil {
			s.logger.Warn("Skipping undecodable block", "floor_id", hit.FloorID, "key", key.String(), "error", err)
			continue
		}
		return &out, hit.FloorID, nil
	}
	return nil, -1, nil
}
