package tag

import (
	"errors"
	"fmt"
	"os"

	"github.com/bogem/id3v2/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/xeptore/tunedl/catalog"
)

var ErrTagWriteFailed = errors.New("failed to write tags")

const (
	id3Version  = 4
	coverDesc   = "Front cover"
	audioMPEG   = "audio/mpeg"
	artistFrame = "TPE1"
	albumFrame  = "TALB"
	titleFrame  = "TIT2"
)

// Writer embeds catalog metadata into MP3 files as ID3v2.4 frames.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// Embed replaces the artist, album, title and front cover frames of the file
// at path with whatever md carries. Fields md does not carry are left alone,
// so running it twice with the same metadata yields the same tag.
func (w *Writer) Embed(logger zerolog.Logger, path string, md catalog.Metadata) (err error) {
	if err := precheck(path); nil != err {
		logger.Error().Err(err).Str("path", path).Msg("Refusing to tag file")
		return fmt.Errorf("%w: %v", ErrTagWriteFailed, err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true}) //nolint:exhaustruct
	if nil != err {
		logger.Error().Err(err).Str("path", path).Msg("Failed to open file for tagging")
		return fmt.Errorf("%w: failed to open file: %v", ErrTagWriteFailed, err)
	}
	defer func() {
		if closeErr := tag.Close(); nil != closeErr {
			logger.Error().Err(closeErr).Msg("Failed to close tagged file")
			err = errors.Join(err, fmt.Errorf("failed to close tagged file: %v", closeErr))
		}
	}()

	tag.SetVersion(id3Version)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if nil != md.Artist {
		tag.DeleteFrames(artistFrame)
		tag.SetArtist(*md.Artist)
	}

	if nil != md.Album {
		tag.DeleteFrames(albumFrame)
		tag.SetAlbum(*md.Album)
	}

	if md.Title != "" {
		tag.DeleteFrames(titleFrame)
		tag.SetTitle(md.Title)
	}

	if len(md.CoverArt) > 0 {
		mime := md.CoverMIME
		if mime == "" {
			mime = mimetype.Detect(md.CoverArt).String()
		}

		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mime,
			PictureType: id3v2.PTFrontCover,
			Description: coverDesc,
			Picture:     md.CoverArt,
		})
	}

	if err := tag.Save(); nil != err {
		logger.Error().Err(err).Str("path", path).Msg("Failed to save tags")
		return fmt.Errorf("%w: failed to save tags: %v", ErrTagWriteFailed, err)
	}

	logger.Debug().
		Str("path", path).
		Bool("artist", nil != md.Artist).
		Bool("album", nil != md.Album).
		Bool("cover", len(md.CoverArt) > 0).
		Msg("Tags written")

	return nil
}

func precheck(path string) error {
	info, err := os.Stat(path)
	if nil != err {
		return fmt.Errorf("failed to stat file: %v", err)
	}

	if !info.Mode().IsRegular() {
		return errors.New("not a regular file")
	}

	if info.Size() == 0 {
		return errors.New("file is empty")
	}

	mime, err := mimetype.DetectFile(path)
	if nil != err {
		return fmt.Errorf("failed to detect file type: %v", err)
	}

	if !mime.Is(audioMPEG) {
		return fmt.Errorf("file is %s, not %s", mime.String(), audioMPEG)
	}

	return nil
}
