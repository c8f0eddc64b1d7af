package actor

import (
	"encoding/json"
	"fmt"
)

// PhoneDataVar is the character variable holding the phone's base data.
const PhoneDataVar = "phone_data"

// User is the phone owner.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Email    string `json:"email"`
	Bio      string `json:"bio"`
	State    string `json:"state"`
	PhoneBg  string `json:"phoneBg"`
}

// Character is a contact in the phone roster.
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Nickname    string `json:"nickname,omitempty"`
	Email       string `json:"email,omitempty"`
	ChatBg      string `json:"chatBg,omitempty"`
	DynamicBg   string `json:"dynamicBg,omitempty"`
	OnlineStyle string `json:"onlineStyle,omitempty"`
}

// Group is a group chat.
type Group struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	MainMembers  []string `json:"mainMembers"`
	OtherMembers string   `json:"otherMembers"`
	Description  string   `json:"description"`
	ChatBg       string   `json:"chatBg"`
}

type SubLocation struct {
	Name string `json:"name"`
}

type District struct {
	Name         string        `json:"name"`
	SubLocations []SubLocation `json:"subLocations"`
}

// Map is the fixed location framework the map module must follow.
type Map struct {
	Name      string     `json:"name"`
	Districts []District `json:"districts"`
}

// PhoneData is the base data of the phone: owner, contacts, groups, map and
// the resource lists used for deterministic assignment.
type PhoneData struct {
	User          *User       `json:"user"`
	Characters    []Character `json:"characters"`
	Groups        []Group     `json:"groups,omitempty"`
	RandomAvatars []string    `json:"randomAvatars"`
	Backgrounds   []string    `json:"backgrounds"`
	Map           *Map        `json:"map,omitempty"`
}

// Complete reports whether the data carries both a user and a roster.
func (p *PhoneData) Complete() bool {
	return p != nil && p.User != nil && p.Characters != nil
}

// CharacterNames lists the roster names in order.
func (p *PhoneData) CharacterNames() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.Characters))
	for _, c := range p.Characters {
		names = append(names, c.Name)
	}
	return names
}

// FindCharacter matches by name first, then by nickname.
func (p *PhoneData) FindCharacter(name string) (*Character, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.Characters {
		if p.Characters[i].Name == name {
			return &p.Characters[i], true
		}
	}
	for i := range p.Characters {
		if p.Characters[i].Nickname == name {
			return &p.Characters[i], true
		}
	}
	return nil, false
}

// FromVariables decodes phone data from a character variable bag. It returns
// an empty value when the bag holds none.
func FromVariables(vars map[string]any) (*PhoneData, error) {
	raw, ok := vars[PhoneDataVar]
	if !ok || raw == nil {
		return &PhoneData{}, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode phone data: %w", err)
	}
	var p PhoneData
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode phone data: %w", err)
	}
	return &p, nil
}

// MergeCharacters returns a copy of the stored phone_data value with its
// character list replaced. Fields this package does not model are kept.
func MergeCharacters(stored any, chars []Character) (map[string]any, error) {
	out := make(map[string]any)
	if m, ok := stored.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	}
	b, err := json.Marshal(chars)
	if err != nil {
		return nil, fmt.Errorf("failed to encode characters: %w", err)
	}
	var list []any
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, fmt.Errorf("failed to re-decode characters: %w", err)
	}
	out["characters"] = list
	return out, nil
}
