package reconcile

import (
	"errors"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// PartSuffix marks files a downloader has not finished yet.
const PartSuffix = ".part"

var episodePattern = regexp.MustCompile(`E(\d+)`)

// EpisodeNumber extracts the episode number from a file name such as
// "Show.S01E07.mkv" or "E07.ts". The last E<digits> group wins.
func EpisodeNumber(name string) (int, bool) {
	m := episodePattern.FindAllStringSubmatch(name, -1)
	if len(m) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(m[len(m)-1][1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// EpisodeSet is a set of episode numbers.
type EpisodeSet map[int]struct{}

func (s EpisodeSet) Has(ep int) bool {
	_, ok := s[ep]
	return ok
}

// Sorted returns the members in ascending order.
func (s EpisodeSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for ep := range s {
		out = append(out, ep)
	}
	sort.Ints(out)
	return out
}

// Minus returns the members of s that are not in other, ascending.
func (s EpisodeSet) Minus(other EpisodeSet) []int {
	var out []int
	for ep := range s {
		if !other.Has(ep) {
			out = append(out, ep)
		}
	}
	sort.Ints(out)
	return out
}

// ScanEpisodes collects the episode numbers of the regular files in dirs.
// Missing directories are treated as empty; partial downloads and names
// without an episode number are skipped.
func ScanEpisodes(fs afero.Fs, dirs ...string) (EpisodeSet, error) {
	set := make(EpisodeSet)
	for _, dir := range dirs {
		infos, err := afero.ReadDir(fs, dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, fi := range infos {
			if fi.IsDir() || strings.HasSuffix(fi.Name(), PartSuffix) {
				continue
			}
			if ep, ok := EpisodeNumber(fi.Name()); ok {
				set[ep] = struct{}{}
			}
		}
	}
	return set, nil
}
