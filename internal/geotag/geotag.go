// Package geotag pairs frames that contain detections with positions from a
// coordinate feed and appends them to a detection log.
package geotag

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ErrFeedExhausted reports that the coordinate feed has no more positions.
var ErrFeedExhausted = errors.New("coordinate feed exhausted")

// Position is a latitude/longitude pair in decimal degrees.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Tagger consumes the feed sequentially; each Tag call takes the next position.
type Tagger struct {
	feedPath string
	logPath  string
	feed     *os.File
	tokens   *bufio.Scanner
	log      *os.File
	logger   *slog.Logger

	exhausted bool
	tagged    int
}

// Open opens the coordinate feed for reading and the detection log for appending.
func Open(feedPath, logPath string, logger *slog.Logger) (*Tagger, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	feed, err := os.Open(feedPath)
	if err != nil {
		return nil, fmt.Errorf("open coordinate feed: %w", err)
	}
	log, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		feed.Close()
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	tokens := bufio.NewScanner(feed)
	tokens.Split(bufio.ScanWords)
	return &Tagger{
		feedPath: feedPath,
		logPath:  logPath,
		feed:     feed,
		tokens:   tokens,
		log:      log,
		logger:   logger.With("component", "geotag"),
	}, nil
}

// Tag reads the next position and appends it to the detection log. Once the feed is
// exhausted every call returns ErrFeedExhausted; the first time is logged as a warning.
func (t *Tagger) Tag() (Position, error) {
	if t.exhausted {
		return Position{}, ErrFeedExhausted
	}
	pos, err := t.next()
	if err != nil {
		t.exhausted = true
		if errors.Is(err, ErrFeedExhausted) {
			t.logger.Warn("coordinate feed exhausted, geotagging disabled", "feed", t.feedPath, "tagged", t.tagged)
		} else {
			t.logger.Warn("coordinate feed unreadable, geotagging disabled", "feed", t.feedPath, "err", err)
		}
		return Position{}, err
	}

	line := strconv.FormatFloat(pos.Lat, 'f', -1, 64) + " " + strconv.FormatFloat(pos.Lon, 'f', -1, 64) + "\n"
	if _, err := t.log.WriteString(line); err != nil {
		return pos, fmt.Errorf("write detection log %s: %w", t.logPath, err)
	}
	t.tagged++
	return pos, nil
}

// Tagged returns how many positions were written.
func (t *Tagger) Tagged() int {
	return t.tagged
}

// Close closes both files.
func (t *Tagger) Close() error {
	return errors.Join(t.feed.Close(), t.log.Close())
}

func (t *Tagger) next() (Position, error) {
	lat, err := t.token()
	if err != nil {
		return Position{}, err
	}
	lon, err := t.token()
	if err != nil {
		return Position{}, err
	}
	return Position{Lat: lat, Lon: lon}, nil
}

func (t *Tagger) token() (float64, error) {
	if !t.tokens.Scan() {
		if err := t.tokens.Err(); err != nil {
			return 0, fmt.Errorf("read coordinate feed: %w", err)
		}
		return 0, ErrFeedExhausted
	}
	text := t.tokens.Text()
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, fmt.Errorf("parse coordinate %q: %w", text, err)
	}
	return value, nil
}
