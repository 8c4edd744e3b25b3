package chart

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyPayload indicates there is no chart to persist.
var ErrEmptyPayload = errors.New("empty chart payload")

// Store persists chart payloads and their renderings.
//
// Each chart is written three times: the raw payload as JSON, a standalone
// HTML page and an embeddable fragment. The page and fragment render with
// the client-side plotly runtime; the service itself never draws anything.
type Store struct {
	dir     string
	baseURL string
	logger  *slog.Logger
}

// NewStore creates a chart store rooted at dir, served under baseURL.
func NewStore(dir, baseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating charts directory: %w", err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}, nil
}

// Save persists a chart payload under a fresh identifier and returns it.
func (s *Store) Save(payload map[string]any) (string, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding chart payload: %w", err)
	}

	id := uuid.NewString()

	// The payload is the chart of record; without it the ID is useless.
	if err := os.WriteFile(filepath.Join(s.dir, id+".json"), data, 0o640); err != nil {
		return "", fmt.Errorf("writing chart payload %s: %w", id, err)
	}

	// The renderings are derived views. Losing one is not worth losing
	// the identifier of a payload already on disk.
	renderings := []struct {
		name    string
		content string
	}{
		{id + ".html", renderPage(id, data)},
		{id + ".div.html", renderFragment(id, data)},
	}
	for _, r := range renderings {
		if err := os.WriteFile(filepath.Join(s.dir, r.name), []byte(r.content), 0o640); err != nil {
			s.logger.Warn("failed to write chart rendering", "file", r.name, "error", err)
		}
	}

	s.logger.Info("chart persisted", "chart_id", id)
	return id, nil
}

// URL returns the public URL of the standalone chart page.
func (s *Store) URL(id string) string {
	return s.baseURL + "/" + filepath.Base(id) + ".html"
}

// Path returns the on-disk location of a chart file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, filepath.Base(name))
}

// Dir returns the store directory, for static file serving.
func (s *Store) Dir() string {
	return s.dir
}

func renderPage(id string, payload []byte) string {
	return `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Chart ` + id + `</title>
<script src="https://cdn.plot.ly/plotly-2.32.0.min.js"></script>
</head>
<body>
` + renderFragment(id, payload) + `
</body>
</html>
`
}

func renderFragment(id string, payload []byte) string {
	return `<div id="chart-` + id + `"></div>
<script>
(function() {
  var fig = ` + string(payload) + `;
  Plotly.newPlot("chart-` + id + `", fig.data || [], fig.layout || {});
})();
</script>
`
}
