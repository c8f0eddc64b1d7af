package actor

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwebster45206/tavern-phone/pkg/command"
	"github.com/jwebster45206/tavern-phone/pkg/storage"
)

// ErrNoWorldbook is returned when the character has no primary worldbook.
var ErrNoWorldbook = errors.New("character has no primary worldbook")

var characterScope = storage.VariableOption{Type: storage.ScopeCharacter}

// SaveFriend applies an add-friend command to the phone data held in the
// character variables. It reports whether a new contact was inserted.
func SaveFriend(ctx context.Context, vars storage.Variables, cmd command.AddFriend, newID func() string) (bool, error) {
	bag, err := vars.GetVariables(ctx, characterScope)
	if err != nil {
		return false, fmt.Errorf("failed to read character variables: %w", err)
	}
	phone, err := FromVariables(bag)
	if err != nil {
		return false, err
	}
	inserted := phone.UpsertFriend(cmd, newID)

	merged, err := MergeCharacters(bag[PhoneDataVar], phone.Characters)
	if err != nil {
		return false, err
	}
	if err := vars.MergeVariables(ctx, characterScope, map[string]any{PhoneDataVar: merged}); err != nil {
		return false, fmt.Errorf("failed to save phone data: %w", err)
	}
	return inserted, nil
}

func primaryWorldbook(ctx context.Context, books storage.Worldbooks) (string, error) {
	b, err := books.WorldbookBindings(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read worldbook bindings: %w", err)
	}
	if b.Primary == "" {
		return "", ErrNoWorldbook
	}
	return b.Primary, nil
}

// UpdateRosterEntry rewrites the roster entry of the primary worldbook from
// the current phone data. It reports false, without error, when the entry
// does not exist.
func UpdateRosterEntry(ctx context.Context, books storage.Worldbooks, phone *PhoneData) (bool, error) {
	name, err := primaryWorldbook(ctx, books)
	if err != nil {
		return false, err
	}
	entries, err := books.Worldbook(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to read worldbook %s: %w", name, err)
	}
	for _, e := range entries {
		if e.Name != RosterEntryName {
			continue
		}
		e.Content = RosterEntryContent(phone.Characters)
		if err := books.UpdateWorldbookEntry(ctx, name, e); err != nil {
			return false, fmt.Errorf("failed to update roster entry: %w", err)
		}
		return true, nil
	}
	return false, nil
}

// InstructionEntryExists reports whether the add-friend instruction entry is
// present in the primary worldbook.
func InstructionEntryExists(ctx context.Context, books storage.Worldbooks) (bool, error) {
	name, err := primaryWorldbook(ctx, books)
	if err != nil {
		return false, err
	}
	entries, err := books.Worldbook(ctx, name)
	if err != nil {
		return false, fmt.Errorf("failed to read worldbook %s: %w", name, err)
	}
	for _, e := range entries {
		if e.Name == AddFriendEntryName {
			return true, nil
		}
	}
	return false, nil
}

// ToggleInstructionEntry creates or deletes the add-friend instruction entry
// in the primary worldbook.
func ToggleInstructionEntry(ctx context.Context, books storage.Worldbooks, enable bool) error {
	name, err := primaryWorldbook(ctx, books)
	if err != nil {
		return err
	}
	if !enable {
		return books.DeleteWorldbookEntries(ctx, name, []string{AddFriendEntryName})
	}
	exists, err := InstructionEntryExists(ctx, books)
	if err != nil || exists {
		return err
	}
	return books.CreateWorldbookEntries(ctx, name, []storage.WorldbookEntry{{
		Name:     AddFriendEntryName,
		Enabled:  true,
		Content:  AddFriendEntryContent,
		Position: storage.Position{Order: AddFriendEntryOrder},
	}})
}
