package types

// Member is one participant's presence in a room. A member outlives any
// single connection: after a leave it is kept with Active=false so a later
// join from the same device or name resumes the same identity.
type Member struct {
	Id         string   `json:"id"`
	Name       string   `json:"name"`
	DeviceId   string   `json:"deviceId"`
	Lat        *float64 `json:"lat"`
	Lng        *float64 `json:"lng"`
	Accuracy   *float64 `json:"accuracy"`
	UpdatedAt  int64    `json:"updatedAt"`
	LastSeenAt int64    `json:"lastSeenAt"`
	Active     bool     `json:"active"`
}

// HasLocation reports whether the member has pushed a location since it
// joined or rejoined.
func (m Member) HasLocation() bool {
	return m.Lat != nil && m.Lng != nil
}

// Distance is the derived great-circle distance between two members,
// recomputed on every snapshot and never stored.
type Distance struct {
	Between     [2]string `json:"between"`
	Names       [2]string `json:"names"`
	Meters      float64   `json:"meters"`
	ErrorMeters float64   `json:"errorMeters"`
}

// Snapshot is the full externally visible view of a room.
type Snapshot struct {
	Members   []Member   `json:"members"`
	Distances []Distance `json:"distances"`
}
