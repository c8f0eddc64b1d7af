package history

import (
	"context"
	"errors"

	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/tavern-phone/pkg/storage"
	"github.com/jwebster45206/tavern-phone/pkg/tagblock"
)

// ChatType distinguishes private and group conversations.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// ChatBlock is one batch of chat messages persisted in a floor.
type ChatBlock struct {
	FloorID int
	Target  string
	Type    ChatType
	Node    *yaml.Node
}

// Decode decodes the block payload into out.
func (b ChatBlock) Decode(out any) error {
	return b.Node.Decode(out)
}

// ChatScanner reads chat_history blocks keyed by (target, type).
type ChatScanner struct {
	s *Scanner
}

func NewChatScanner(s *Scanner) *ChatScanner {
	return &ChatScanner{s: s}
}

// blocksIn returns the valid chat blocks of one floor in document order.
// A block is valid only if it carries a messages sequence.
func (c *ChatScanner) blocksIn(f storage.Floor, required []tagblock.Attr) []ChatBlock {
	var out []ChatBlock
	for _, m := range tagblock.Find(f.Message, ChatTag, required) {
		node, err := tagblock.ParseBody(m.Body)
		if err != nil {
			c.s.logger.Warn("Skipping malformed chat block", "floor_id", f.ID, "target", m.Attrs["target"], "error", err)
			continue
		}
		if !hasSequence(node, "messages") {
			continue
		}
		t := ChatType(m.Attrs["type"])
		if t != ChatPrivate && t != ChatGroup {
			continue
		}
		out = append(out, ChatBlock{FloorID: f.ID, Target: m.Attrs["target"], Type: t, Node: node})
	}
	return out
}

func hasSequence(mapping *yaml.Node, key string) bool {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1].Kind == yaml.SequenceNode
		}
	}
	return false
}

func (c *ChatScanner) windowFloors(ctx context.Context) ([]storage.Floor, error) {
	floors, err := c.s.window(ctx)
	if errors.Is(err, ErrNoFloors) {
		return nil, nil
	}
	return floors, err
}

// Latest returns the most recent block for one conversation, or nil.
func (c *ChatScanner) Latest(ctx context.Context, target string, t ChatType) (*ChatBlock, error) {
	floors, err := c.windowFloors(ctx)
	if err != nil {
		return nil, err
	}
	key := ChatKey(target, string(t))
	for i := len(floors) - 1; i >= 0; i-- {
		blocks := c.blocksIn(floors[i], key.Attrs)
		if len(blocks) > 0 {
			b := blocks[len(blocks)-1]
			return &b, nil
		}
	}
	return nil, nil
}

// Transcript returns every block for one conversation in chronological
// order: floors oldest first, blocks within a floor in document order.
// maxFloors limits how many of the newest contributing floors are read;
// 0 means no limit.
func (c *ChatScanner) Transcript(ctx context.Context, target string, t ChatType, maxFloors int) ([]ChatBlock, error) {
	floors, err := c.windowFloors(ctx)
	if err != nil {
		return nil, err
	}
	key := ChatKey(target, string(t))
	var perFloor [][]ChatBlock
	for i := len(floors) - 1; i >= 0; i-- {
		if maxFloors > 0 && len(perFloor) >= maxFloors {
			break
		}
		if blocks := c.blocksIn(floors[i], key.Attrs); len(blocks) > 0 {
			perFloor = append(perFloor, blocks)
		}
	}
	var out []ChatBlock
	for i := len(perFloor) - 1; i >= 0; i-- {
		out = append(out, perFloor[i]...)
	}
	return out, nil
}

// LatestAll returns the most recent block of every conversation found in
// the window, most recently updated conversation first.
func (c *ChatScanner) LatestAll(ctx context.Context) ([]ChatBlock, error) {
	floors, err := c.windowFloors(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []ChatBlock
	for i := len(floors) - 1; i >= 0; i-- {
		blocks := c.blocksIn(floors[i], nil)
		for j := len(blocks) - 1; j >= 0; j-- {
			k := string(blocks[j].Type) + ":" + blocks[j].Target
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, blocks[j])
		}
	}
	return out, nil
}
