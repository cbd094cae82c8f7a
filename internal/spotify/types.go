package spotify

// CurrentlyPlaying is the subset of the currently-playing payload the display uses.
// Item is nil when Spotify reports no track (for example during an ad).
type CurrentlyPlaying struct {
	IsPlaying  bool       `json:"is_playing"`
	ProgressMs int        `json:"progress_ms"`
	Timestamp  int64      `json:"timestamp"`
	Item       *TrackItem `json:"item"`
}

// TrackItem is the track object inside a currently-playing payload.
type TrackItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	DurationMs int      `json:"duration_ms"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// Artist is a simplified artist object.
type Artist struct {
	Name string `json:"name"`
}

// Album is a simplified album object.
type Album struct {
	Name   string  `json:"name"`
	Images []Image `json:"images"`
}

// Image is one rendition of album artwork. Spotify lists the largest first.
type Image struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PrimaryArtist returns the first credited artist, or "" if there are none.
func (t *TrackItem) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

// ImageURL returns the first album image URL, or "" if the album has no artwork.
func (t *TrackItem) ImageURL() string {
	if len(t.Album.Images) == 0 {
		return ""
	}
	return t.Album.Images[0].URL
}
