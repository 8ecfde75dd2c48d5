package pipeline

import (
	"github.com/xeptore/tunedl/catalog"
)

// Record is what gets shown to the requester and handed to the visit
// counter. Empty strings stand for values the catalog did not provide.
type Record struct {
	Artist        string
	Album         string
	Song          string
	CoverURL      string
	MetadataFound bool
	Tagged        bool
}

func newRecord(md catalog.Metadata, found, tagged bool) Record {
	r := Record{
		Artist:        "",
		Album:         "",
		Song:          md.Title,
		CoverURL:      md.CoverURL,
		MetadataFound: found,
		Tagged:        tagged,
	}

	if nil != md.Artist {
		r.Artist = *md.Artist
	}

	if nil != md.Album {
		r.Album = *md.Album
	}

	return r
}

// Label is the "Artist - Song" form recorded as the last delivered track.
func (r Record) Label() string {
	if r.Artist == "" {
		return r.Song
	}

	return r.Artist + " - " + r.Song
}
