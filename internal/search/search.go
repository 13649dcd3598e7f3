package search

// Result is a single member directory hit returned to the caller.
type Result struct {
	UserID        string   `json:"userId"`
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	Availability  string   `json:"availability"`
	PhotoURL      string   `json:"photoUrl,omitempty"`
	Rating        float64  `json:"rating"`
	SkillsOffered []string `json:"skillsOffered"`
	SkillsWanted  []string `json:"skillsWanted"`
}

// Query describes a member directory search. Skill narrows results to
// members offering a matching skill.
type Query struct {
	Text   string
	Skill  string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a member directory search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MemberRecord is the data indexed per public member.
type MemberRecord struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	Availability  string   `json:"availability"`
	PhotoURL      string   `json:"photoUrl"`
	Rating        float64  `json:"rating"`
	SkillsOffered []string `json:"skillsOffered"`
	SkillsWanted  []string `json:"skillsWanted"`
}

// Indexer can push member records into a search index.
type Indexer interface {
	IndexMember(member MemberRecord) error
	DeleteMember(id string) error
}
