// Package model holds the subscription and download types shared by the
// scheduler, the reconciler, the download queue and the store.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusUpdating means the title is still airing and is polled on schedule.
	StatusUpdating Status = "updating"
	// StatusCompleted means every expected episode is local and recorded.
	StatusCompleted Status = "completed"
	// StatusPacked is set by the season packer once a complete pack exists.
	StatusPacked Status = "packed"
)

// ParseStatus validates s as a Status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusUpdating, StatusCompleted, StatusPacked:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Resolution is the target video resolution of a subscription.
type Resolution string

const (
	ResolutionSD  Resolution = "480p"
	ResolutionHD  Resolution = "720p"
	ResolutionFHD Resolution = "1080p"
	ResolutionUHD Resolution = "2160p"
)

// ParseResolution validates s as a Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(s); r {
	case ResolutionSD, ResolutionHD, ResolutionFHD, ResolutionUHD:
		return r, nil
	}
	return "", fmt.Errorf("invalid resolution %q", s)
}

// MediaType distinguishes movies from series.
type MediaType string

const (
	MediaMovie  MediaType = "movie"
	MediaTVShow MediaType = "tv_show"
)

// MediaMetadata describes the tracked title. It is stored as a JSON blob.
type MediaMetadata struct {
	Title         string    `json:"title" yaml:"title"`
	OriginalTitle string    `json:"original_title,omitempty" yaml:"original_title,omitempty"`
	Year          int       `json:"year,omitempty" yaml:"year,omitempty"`
	DoubanID      string    `json:"douban_id,omitempty" yaml:"douban_id,omitempty"`
	IMDbID        string    `json:"imdb_id,omitempty" yaml:"imdb_id,omitempty"`
	MediaType     MediaType `json:"media_type" yaml:"media_type"`
	Country       string    `json:"country,omitempty" yaml:"country,omitempty"`
	Language      string    `json:"language,omitempty" yaml:"language,omitempty"`
	Plot          string    `json:"plot,omitempty" yaml:"plot,omitempty"`
	PosterURL     string    `json:"poster_url,omitempty" yaml:"poster_url,omitempty"`
	Directors     []string  `json:"director,omitempty" yaml:"director,omitempty"`
	Actors        []string  `json:"actors,omitempty" yaml:"actors,omitempty"`
	EpisodeCount  int       `json:"episode_count,omitempty" yaml:"episode_count,omitempty"`
	SeasonID      string    `json:"season_id,omitempty" yaml:"season_id,omitempty"`
}

// Subscription is a tracked remote title with a polling schedule.
type Subscription struct {
	ID         string
	Media      MediaMetadata
	URL        string
	Platform   string
	Resolution Resolution
	CronExpr   string
	// TorrentIDs maps episode number to the torrent id published for it.
	TorrentIDs map[int]string
	FolderName string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ExpectedEpisodes returns the episode count announced by the metadata.
func (s *Subscription) ExpectedEpisodes() int {
	return s.Media.EpisodeCount
}

// SeasonFolder returns the directory name holding the season's files.
// Subscriptions without a folder name fall back to their id.
func (s *Subscription) SeasonFolder() string {
	if s.FolderName != "" {
		return s.FolderName
	}
	return s.ID
}

// RecordedEpisodes returns the sorted episode numbers with a torrent id.
func (s *Subscription) RecordedEpisodes() []int {
	eps := make([]int, 0, len(s.TorrentIDs))
	for ep := range s.TorrentIDs {
		eps = append(eps, ep)
	}
	sort.Ints(eps)
	return eps
}

// Clone returns a deep copy, so events can carry a snapshot that later
// repository writes cannot alter.
func (s *Subscription) Clone() Subscription {
	c := *s
	if s.TorrentIDs != nil {
		c.TorrentIDs = make(map[int]string, len(s.TorrentIDs))
		for k, v := range s.TorrentIDs {
			c.TorrentIDs[k] = v
		}
	}
	c.Media.Directors = append([]string(nil), s.Media.Directors...)
	c.Media.Actors = append([]string(nil), s.Media.Actors...)
	return c
}
