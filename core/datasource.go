package core

// DataSourceType enumerates the external sources FETCH_DATA can read.
type DataSourceType string

const (
	SourceText DataSourceType = "text"
	SourceFile DataSourceType = "file"
	SourceWeb  DataSourceType = "web"
	SourceAPI  DataSourceType = "api"
	SourceSQL  DataSourceType = "sql"
)

// AuthType selects how the API source authenticates.
type AuthType string

const (
	AuthNone   AuthType = ""
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthBasic  AuthType = "basic"
)

// DataSource describes where FETCH_DATA reads from. Only the block matching
// Type is consulted.
type DataSource struct {
	Type DataSourceType    `json:"type"`
	Text string            `json:"text,omitempty"`
	// Files maps a display name to a path on disk.
	Files map[string]string `json:"files,omitempty"`
	URL   string            `json:"url,omitempty"`
	API   *APISource        `json:"api,omitempty"`
	SQL   *SQLSource        `json:"sql,omitempty"`
}

// APISource is an HTTP endpoint queried by FETCH_DATA.
type APISource struct {
	URL      string            `json:"url"`
	Method   string            `json:"method,omitempty"`
	Payload  string            `json:"payload,omitempty"`
	Query    map[string]string `json:"query,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Auth     AuthType          `json:"auth,omitempty"`
	Token    string            `json:"token,omitempty"`
	User     string            `json:"user,omitempty"`
	Password string            `json:"password,omitempty"`
	// ChunkLimit splits large JSON array responses into groups of this size.
	ChunkLimit int `json:"chunk_limit,omitempty"`
}

// SQLSource is a Postgres query executed by FETCH_DATA. The @filter@
// placeholder is bound as a query parameter.
type SQLSource struct {
	ConnectionString string `json:"connection_string"`
	Query            string `json:"query"`
}

// Clone returns a deep copy of the descriptor.
func (d *DataSource) Clone() *DataSource {
	if d == nil {
		return nil
	}
	c := *d
	if d.Files != nil {
		c.Files = make(map[string]string, len(d.Files))
		for k, v := range d.Files {
			c.Files[k] = v
		}
	}
	if d.API != nil {
		api := *d.API
		api.Query = copyStrings(d.API.Query)
		api.Headers = copyStrings(d.API.Headers)
		c.API = &api
	}
	if d.SQL != nil {
		sql := *d.SQL
		c.SQL = &sql
	}
	return &c
}

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
