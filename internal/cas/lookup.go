package cas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type lookupResponse struct {
	OK     bool `json:"ok"`
	Result *struct {
		Offenses  int    `json:"offenses"`
		TimeAdded string `json:"time_added"`
	} `json:"result"`
}

// IsBanned checks the local banlist first and only then the remote
// lookup API. A remote hit is written back so the next check stays
// local; a remote miss is cached briefly so chatty users don't trigger
// a lookup per message. Remote failures degrade to the local answer.
func (s *Service) IsBanned(ctx context.Context, userID int64) (bool, error) {
	banned, err := s.db.IsBanlisted(ctx, userID)
	if err != nil {
		return false, errors.Wrap(err, "local banlist check")
	}
	if banned || s.cfg.LookupURL == "" {
		return banned, nil
	}

	cacheKey := strconv.FormatInt(userID, 10)
	if _, found := s.cleanCache.Get(cacheKey); found {
		return false, nil
	}

	remote, err := s.lookupRemote(ctx, userID)
	if err != nil {
		log.WithField("error", err.Error()).WithField("user_id", userID).Debug("cas lookup failed")
		return false, nil
	}
	if remote {
		if err := s.db.UpsertBanlist(ctx, []int64{userID}); err != nil {
			log.WithField("error", err.Error()).Warn("cant cache cas lookup hit")
		}
		return true, nil
	}
	s.cleanCache.SetDefault(cacheKey, struct{}{})
	return false, nil
}

func (s *Service) lookupRemote(ctx context.Context, userID int64) (bool, error) {
	url := fmt.Sprintf("%s?user_id=%d", s.cfg.LookupURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var parsed lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return false, fmt.Errorf("decode lookup response: %w", err)
	}
	return parsed.OK && parsed.Result != nil, nil
}
