package journal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"phrasebridge/internal/infra"
	"phrasebridge/internal/phrase"
	"phrasebridge/internal/sqlinline"
)

const tokenProvider = "phrase"

// TokenStore caches the vendor session token in Postgres so api and worker
// processes share one login.
type TokenStore struct {
	sql infra.SQLExecutor
}

func NewTokenStore(sql infra.SQLExecutor) *TokenStore {
	return &TokenStore{sql: sql}
}

type tokenProperties struct {
	Expires time.Time `json:"expires"`
}

func (s *TokenStore) Load(ctx context.Context) (string, time.Time, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, tokenProvider)
	var token string
	var raw []byte
	if err := row.Scan(&token, &raw); err != nil {
		if infra.IsNoRows(err) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, err
	}
	var props tokenProperties
	if err := json.Unmarshal(raw, &props); err != nil {
		return "", time.Time{}, nil
	}
	return strings.TrimSpace(token), props.Expires, nil
}

func (s *TokenStore) Save(ctx context.Context, token string, expires time.Time) error {
	raw, err := json.Marshal(tokenProperties{Expires: expires})
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, tokenProvider, token, raw)
	return err
}

var _ phrase.TokenCache = (*TokenStore)(nil)
