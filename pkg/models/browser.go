package models

// CookieRecord is one entry of a stored cookie jar. Values are passed
// through to the browser untouched.
type CookieRecord struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// BrowserConfig is the user-supplied browser side of a run
type BrowserConfig struct {
	ChatURL           string `json:"chatUrl"`
	Origin            string `json:"origin"`
	CookieJar         string `json:"cookieJar,omitempty"`
	AllowCookieErrors bool   `json:"allowCookieErrors,omitempty"`
}

// BrowserRuntimeMetadata identifies the attached remote browser so a later
// reattach can reach the same logical instance
type BrowserRuntimeMetadata struct {
	Endpoint      string `json:"endpoint"`
	WebSocketURL  string `json:"webSocketUrl,omitempty"`
	TargetID      string `json:"targetId,omitempty"`
	ProcessID     int    `json:"pid,omitempty"`
	ProfilePath   string `json:"profilePath,omitempty"`
	BaselineTurns int    `json:"baselineTurns"`
}

// BrowserState groups config and runtime; it is persisted as one object
type BrowserState struct {
	Config  BrowserConfig          `json:"config"`
	Runtime BrowserRuntimeMetadata `json:"runtime"`
}
