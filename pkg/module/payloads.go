package module

// Opaque carries payloads whose shape is not interpreted here.
type Opaque map[string]any

type MapLocation struct {
	Description     string                 `yaml:"description" json:"description"`
	Status          string                 `yaml:"status" json:"status"`
	Events          string                 `yaml:"events" json:"events"`
	OtherCharacters string                 `yaml:"otherCharacters" json:"otherCharacters"`
	SubLocations    map[string]MapLocation `yaml:"subLocations,omitempty" json:"subLocations,omitempty"`
}

type MapCharacter struct {
	Location string `yaml:"location" json:"location"`
	Status   string `yaml:"status" json:"status"`
}

// MapData is the map module payload.
type MapData struct {
	MapName    string                  `yaml:"mapName,omitempty" json:"mapName,omitempty"`
	Date       string                  `yaml:"date" json:"date"`
	Time       string                  `yaml:"time" json:"time"`
	Locations  map[string]MapLocation  `yaml:"locations" json:"locations"`
	Characters map[string]MapCharacter `yaml:"characters" json:"characters"`
}

// HasLocations reports whether the map has been established.
func (m *MapData) HasLocations() bool {
	return m != nil && len(m.Locations) > 0
}

type DynamicComment struct {
	Name    string `yaml:"name" json:"name"`
	Content string `yaml:"c" json:"c"`
}

type DynamicPost struct {
	Name         string           `yaml:"name" json:"name"`
	Content      string           `yaml:"content" json:"content"`
	Image        string           `yaml:"image,omitempty" json:"image,omitempty"`
	Likes        int              `yaml:"likes" json:"likes"`
	Shares       int              `yaml:"shares" json:"shares"`
	CommentCount int              `yaml:"commentCount" json:"commentCount"`
	Comments     []DynamicComment `yaml:"comments" json:"comments"`
}

// DynamicData is the social feed payload, used for both the global feed and
// a character's home page.
type DynamicData struct {
	Posts []DynamicPost `yaml:"posts" json:"posts"`
}

type EmailSender struct {
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email" json:"email"`
}

type EmailAttachment struct {
	Name string `yaml:"name" json:"name"`
	Size string `yaml:"size" json:"size"`
	Desc string `yaml:"desc" json:"desc"`
}

type Email struct {
	ID         string           `yaml:"id" json:"id"`
	Sender     EmailSender      `yaml:"sender" json:"sender"`
	Time       string           `yaml:"time" json:"time"`
	Date       string           `yaml:"date" json:"date"`
	Title      string           `yaml:"title" json:"title"`
	Preview    string           `yaml:"preview" json:"preview"`
	Read       bool             `yaml:"read" json:"read"`
	Starred    bool             `yaml:"starred" json:"starred"`
	Content    string           `yaml:"content" json:"content"`
	Attachment *EmailAttachment `yaml:"attachment,omitempty" json:"attachment,omitempty"`
}

type EmailData struct {
	Emails []Email `yaml:"emails" json:"emails"`
}

type ForumPinned struct {
	Title    string `yaml:"title" json:"title"`
	Content  string `yaml:"content" json:"content"`
	Views    int    `yaml:"views" json:"views"`
	Comments int    `yaml:"comments" json:"comments"`
}

type ForumPost struct {
	Title    string `yaml:"title" json:"title"`
	Content  string `yaml:"content" json:"content"`
	Author   string `yaml:"author,omitempty" json:"author,omitempty"`
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
	Views    int    `yaml:"views" json:"views"`
	Comments int    `yaml:"comments" json:"comments"`
	Likes    int    `yaml:"likes,omitempty" json:"likes,omitempty"`
}

type ForumData struct {
	Pinned *ForumPinned `yaml:"pinned,omitempty" json:"pinned,omitempty"`
	Posts  []ForumPost  `yaml:"posts" json:"posts"`
}

type LiveRoom struct {
	Name      string `yaml:"name" json:"name"`
	Title     string `yaml:"title" json:"title"`
	Status    string `yaml:"status" json:"status"`
	Image     string `yaml:"image" json:"image"`
	Viewers   int    `yaml:"viewers" json:"viewers"`
	Likes     int    `yaml:"likes" json:"likes"`
	Followers int    `yaml:"followers" json:"followers"`
}

type LiveListData struct {
	Date  string     `yaml:"date,omitempty" json:"date,omitempty"`
	Time  string     `yaml:"time,omitempty" json:"time,omitempty"`
	Rooms []LiveRoom `yaml:"rooms" json:"rooms"`
}

type SearchResult struct {
	URL     string `yaml:"url" json:"url"`
	Title   string `yaml:"title" json:"title"`
	Preview string `yaml:"preview" json:"preview"`
	Content string `yaml:"content" json:"content"`
}

type BrowserData struct {
	Time    string         `yaml:"time" json:"time"`
	Query   string         `yaml:"query" json:"query"`
	Results []SearchResult `yaml:"results" json:"results"`
}

// CalendarData keeps event lists loosely typed; the AI emits them as either
// strings or small mappings.
type CalendarData struct {
	Date            string `yaml:"date" json:"date"`
	Time            string `yaml:"time" json:"time"`
	Weekday         string `yaml:"weekday" json:"weekday"`
	WorldEvents     []any  `yaml:"worldEvents" json:"worldEvents"`
	MajorEvents     []any  `yaml:"majorEvents" json:"majorEvents"`
	UserEvents      []any  `yaml:"userEvents" json:"userEvents"`
	CharacterEvents []any  `yaml:"characterEvents" json:"characterEvents"`
}

type CallData struct {
	Name    string `yaml:"name" json:"name"`
	Avatar  string `yaml:"avatar,omitempty" json:"avatar,omitempty"`
	Thought string `yaml:"thought" json:"thought"`
	Content string `yaml:"content" json:"content"`
}
