package hlsaudio

import (
	"errors"
	"os"
	"path"

	"github.com/google/renameio/v2"
)

func (m *ManagerCtx) playlistPath() string {
	return path.Join(m.config.TranscodeDir, m.config.PlaylistName)
}

// load persisted playlist, it is trusted without probing the media again
func (m *ManagerCtx) getCachedPlaylist() (*Playlist, error) {
	playlistPath := m.playlistPath()

	data, err := os.ReadFile(playlistPath)
	if err != nil {
		return nil, err
	}

	playlist, err := ParseManifest(string(data), m.config.SegmentPrefix)
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("path", playlistPath).Msg("playlist cache hit")
	return playlist, nil
}

// readers never observe partially written playlist
func (m *ManagerCtx) saveCachedPlaylist(playlist *Playlist) error {
	if err := os.MkdirAll(m.config.TranscodeDir, 0755); err != nil {
		return err
	}

	return renameio.WriteFile(m.playlistPath(), []byte(playlist.Manifest()), 0644)
}

func (m *ManagerCtx) hasCachedPlaylist() bool {
	_, err := os.Stat(m.playlistPath())
	return !errors.Is(err, os.ErrNotExist)
}
