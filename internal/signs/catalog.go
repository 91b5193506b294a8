// Package signs holds the catalog of signs the prediction model knows, used
// to validate a user's sign selection and locate its demonstration video.
package signs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

// ErrUnknownSign is returned when a selection is not in the catalog.
var ErrUnknownSign = errors.New("sign is not in the list of allowed options")

// VideoDir is the directory demonstration videos are served from.
const VideoDir = "videos"

// Sign is one catalog entry.
type Sign struct {
	Ord  int    `json:"ord"`
	Name string `json:"name"`
}

// Catalog is an immutable set of signs indexed case-insensitively.
type Catalog struct {
	signs []Sign
	index map[string]Sign
}

// New builds a catalog from names in order. Blank and duplicate names are skipped.
func New(names []string) *Catalog {
	c := &Catalog{index: make(map[string]Sign, len(names))}
	for _, name := range names {
		c.add(Sign{Ord: len(c.signs), Name: name})
	}
	return c
}

func (c *Catalog) add(s Sign) {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		return
	}
	key := strings.ToLower(s.Name)
	if _, ok := c.index[key]; ok {
		return
	}
	c.index[key] = s
	c.signs = append(c.signs, s)
}

// Load reads a catalog from a sign_ord,sign CSV file.
func Load(filename string) (*Catalog, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open sign catalog: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a catalog from CSV with a sign_ord,sign header.
func Parse(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read sign catalog header: %w", err)
	}
	ordCol, signCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "sign_ord":
			ordCol = i
		case "sign":
			signCol = i
		}
	}
	if ordCol < 0 || signCol < 0 {
		return nil, fmt.Errorf("sign catalog header must contain sign_ord and sign, got %v", header)
	}

	c := &Catalog{index: make(map[string]Sign)}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sign catalog: %w", err)
		}
		ord, err := strconv.Atoi(strings.TrimSpace(rec[ordCol]))
		if err != nil {
			return nil, fmt.Errorf("sign catalog line %d: invalid sign_ord %q", line, rec[ordCol])
		}
		c.add(Sign{Ord: ord, Name: rec[signCol]})
	}

	sort.SliceStable(c.signs, func(i, j int) bool { return c.signs[i].Ord < c.signs[j].Ord })
	return c, nil
}

// Lookup returns the canonical sign matching name, ignoring case and
// surrounding whitespace.
func (c *Catalog) Lookup(name string) (Sign, error) {
	s, ok := c.index[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Sign{}, ErrUnknownSign
	}
	return s, nil
}

// Name returns the sign with the given model ordinal.
func (c *Catalog) Name(ord int) (string, bool) {
	for _, s := range c.signs {
		if s.Ord == ord {
			return s.Name, true
		}
	}
	return "", false
}

// List returns all signs ordered by ordinal.
func (c *Catalog) List() []Sign {
	out := make([]Sign, len(c.signs))
	copy(out, c.signs)
	return out
}

// Len returns the number of signs.
func (c *Catalog) Len() int {
	return len(c.signs)
}

// VideoPath returns the demonstration video path for a selection.
func (c *Catalog) VideoPath(name string) (string, error) {
	s, err := c.Lookup(name)
	if err != nil {
		return "", err
	}
	return path.Join(VideoDir, s.Name+".mp4"), nil
}
