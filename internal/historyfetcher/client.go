package historyfetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	commonconfig "github.com/zkbarchive/zkb/internal/common/config"
	"github.com/zkbarchive/zkb/internal/historyfetcher/configuration"
	"github.com/zkbarchive/zkb/internal/protocol"
)

const historyDateLayout = "20060102"

// HistoryClient reads the daily killmail history of zKillboard.
type HistoryClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
}

func NewHistoryClient(config configuration.ZkbConfig) *HistoryClient {
	return &HistoryClient{
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		baseURL:    strings.TrimSuffix(config.BaseURL, "/"),
		userAgent:  config.UserAgent,
	}
}

// FetchDay returns the ids and hashes of all killmails of day, ordered by id. Any malformed hash fails
// the whole day.
func (c *HistoryClient) FetchDay(ctx context.Context, day time.Time) ([]protocol.IdHash, error) {
	url := fmt.Sprintf("%s/api/history/%s.json", c.baseURL, day.Format(historyDateLayout))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "error requesting %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, body)
	}

	var history map[int64]string
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, errors.Wrapf(err, "error decoding history from %s", url)
	}

	ids := maps.Keys(history)
	slices.Sort(ids)
	hashes := make([]protocol.IdHash, 0, len(ids))
	for _, id := range ids {
		idHash, err := protocol.NewIdHash(id, history[id])
		if err != nil {
			return nil, errors.WithMessagef(err, "killmail %d of %s", id, day.Format(commonconfig.DateLayout))
		}
		hashes = append(hashes, idHash)
	}
	return hashes, nil
}
